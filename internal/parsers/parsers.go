// Package parsers - provider wire formats to a normalized usage record.
//
// DESIGN: One pure parsing function per provider format, dispatched on the
// provider name, with the OpenAI-compatible parser as the fallback for
// unknown providers. Parsing never panics: a success body without a usage
// object yields all-null token fields, and the error path tolerates a nil
// body by falling back to "HTTP <status>".
package parsers

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/trailguard/agent-gateway/internal/providers"
)

// Result is the normalized outcome of one upstream call.
// Token pointers are nil when the provider did not report the field.
type Result struct {
	Model        string
	TokensIn     *int
	TokensOut    *int
	TokensTotal  *int
	CacheUsage   *providers.CacheUsage // Anthropic only
	StatusCode   int
	ErrorMessage string
}

func intPtr(v int) *int { return &v }

// ParseResponse parses a buffered JSON response body for the given provider
// wire format. Status >= 400 always yields an error result; status < 400 is
// a success even when no usage object is present.
func ParseResponse(format providers.Name, body []byte, status int) Result {
	if status >= 400 {
		return parseError(body, status)
	}

	switch format {
	case providers.Anthropic:
		return parseAnthropic(body, status)
	case providers.Google:
		return parseGoogle(body, status)
	default:
		return parseOpenAI(body, status)
	}
}

// parseError extracts error.message, tolerating a nil or non-JSON body.
func parseError(body []byte, status int) Result {
	r := Result{StatusCode: status}
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() && msg.String() != "" {
		r.ErrorMessage = msg.String()
	} else {
		r.ErrorMessage = fmt.Sprintf("HTTP %d", status)
	}
	if model := gjson.GetBytes(body, "model"); model.Exists() {
		r.Model = model.String()
	}
	return r
}

func parseOpenAI(body []byte, status int) Result {
	r := Result{StatusCode: status}
	r.Model = gjson.GetBytes(body, "model").String()

	usage := gjson.GetBytes(body, "usage")
	if !usage.Exists() {
		return r
	}
	if v := usage.Get("prompt_tokens"); v.Exists() {
		r.TokensIn = intPtr(int(v.Int()))
	}
	if v := usage.Get("completion_tokens"); v.Exists() {
		r.TokensOut = intPtr(int(v.Int()))
	}
	if v := usage.Get("total_tokens"); v.Exists() {
		r.TokensTotal = intPtr(int(v.Int()))
	}
	return r
}

// parseAnthropic reads input_tokens/output_tokens. The total is the sum only
// when output_tokens is present; a missing input_tokens counts as 0 for the
// sum but stays null individually.
func parseAnthropic(body []byte, status int) Result {
	r := Result{StatusCode: status}
	r.Model = gjson.GetBytes(body, "model").String()

	usage := gjson.GetBytes(body, "usage")
	if !usage.Exists() {
		return r
	}

	var in, out *int
	if v := usage.Get("input_tokens"); v.Exists() {
		in = intPtr(int(v.Int()))
	}
	if v := usage.Get("output_tokens"); v.Exists() {
		out = intPtr(int(v.Int()))
	}
	r.TokensIn = in
	r.TokensOut = out
	if out != nil {
		total := *out
		if in != nil {
			total += *in
		}
		r.TokensTotal = intPtr(total)
	}

	cacheCreate := usage.Get("cache_creation_input_tokens")
	cacheRead := usage.Get("cache_read_input_tokens")
	if cacheCreate.Exists() || cacheRead.Exists() {
		r.CacheUsage = &providers.CacheUsage{
			CreationTokens: int(cacheCreate.Int()),
			ReadTokens:     int(cacheRead.Int()),
		}
	}
	return r
}

func parseGoogle(body []byte, status int) Result {
	r := Result{StatusCode: status}
	r.Model = gjson.GetBytes(body, "modelVersion").String()

	meta := gjson.GetBytes(body, "usageMetadata")
	if !meta.Exists() {
		return r
	}
	if v := meta.Get("promptTokenCount"); v.Exists() {
		r.TokensIn = intPtr(int(v.Int()))
	}
	if v := meta.Get("candidatesTokenCount"); v.Exists() {
		r.TokensOut = intPtr(int(v.Int()))
	}
	if v := meta.Get("totalTokenCount"); v.Exists() {
		r.TokensTotal = intPtr(int(v.Int()))
	}
	return r
}
