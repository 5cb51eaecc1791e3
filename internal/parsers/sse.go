// Streaming SSE usage extraction.
//
// DESIGN: Each parser is an explicit state machine fed raw bytes as they are
// re-streamed to the client. Frames may be split across reads, so bytes are
// buffered until a complete "\n\n"-terminated event is available. Two wire
// framings are implemented:
//
//   - OpenAI style:    "data: <json>\n\n" frames terminated by "data: [DONE]";
//     usage rides on whichever frame carries a usage object (last one wins).
//   - Anthropic style: named events over a fixed lifecycle — message_start
//     (input_tokens, model), content_block_*, message_delta (output_tokens),
//     message_stop (terminal).
package parsers

import (
	"bytes"

	"github.com/tidwall/gjson"

	"github.com/trailguard/agent-gateway/internal/providers"
)

// StreamParser accumulates usage from an SSE byte stream.
type StreamParser interface {
	// Feed consumes the next chunk of raw stream bytes.
	Feed(chunk []byte)
	// Done reports whether the terminal frame has been seen.
	Done() bool
	// Result finalizes parsing (flushing any unterminated frame) and
	// returns the accumulated usage.
	Result(status int) Result
}

// NewStreamParser returns the parser for a provider wire format.
// Unknown formats get the OpenAI-style parser, mirroring the buffered path.
func NewStreamParser(format providers.Name) StreamParser {
	switch format {
	case providers.Anthropic:
		return &anthropicStreamParser{}
	default:
		return &openaiStreamParser{}
	}
}

// nextSSEEvent splits one complete event off the front of buf.
// With flush set, a trailing unterminated event is returned as-is.
func nextSSEEvent(buf []byte, flush bool) (event, rest []byte, ok bool) {
	if idx := bytes.Index(buf, []byte("\r\n\r\n")); idx >= 0 {
		return buf[:idx], buf[idx+4:], true
	}
	if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
		return buf[:idx], buf[idx+2:], true
	}
	if flush {
		trimmed := bytes.TrimSpace(buf)
		if len(trimmed) > 0 {
			return trimmed, nil, true
		}
	}
	return nil, nil, false
}

// eventData joins the data: lines of one event, skipping [DONE].
// Returns done=true when the terminal [DONE] sentinel is present.
func eventData(event []byte) (data []byte, done bool) {
	var dataLines [][]byte
	for _, line := range bytes.Split(event, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if bytes.Equal(payload, []byte("[DONE]")) {
			return nil, true
		}
		if len(payload) > 0 {
			dataLines = append(dataLines, payload)
		}
	}
	if len(dataLines) == 0 {
		return nil, false
	}
	return bytes.Join(dataLines, []byte("\n")), false
}

// =============================================================================
// OPENAI-STYLE STREAM
// =============================================================================

type openaiStreamParser struct {
	buffer []byte
	done   bool

	model     string
	tokensIn  *int
	tokensOut *int
	tokensTot *int
}

func (p *openaiStreamParser) Feed(chunk []byte) {
	p.buffer = append(p.buffer, chunk...)
	p.drain(false)
}

func (p *openaiStreamParser) Done() bool { return p.done }

func (p *openaiStreamParser) Result(status int) Result {
	p.drain(true)
	return Result{
		Model:       p.model,
		TokensIn:    p.tokensIn,
		TokensOut:   p.tokensOut,
		TokensTotal: p.tokensTot,
		StatusCode:  status,
	}
}

func (p *openaiStreamParser) drain(flush bool) {
	for {
		event, rest, ok := nextSSEEvent(p.buffer, flush)
		if !ok {
			return
		}
		p.buffer = rest
		p.handleEvent(event)
	}
}

func (p *openaiStreamParser) handleEvent(event []byte) {
	data, done := eventData(event)
	if done {
		p.done = true
		return
	}
	if data == nil || !gjson.ValidBytes(data) {
		return
	}

	if model := gjson.GetBytes(data, "model"); model.Exists() && p.model == "" {
		p.model = model.String()
	}

	// Last-seen usage wins: providers commonly send it on the final data
	// frame before [DONE], but some emit running totals per chunk.
	usage := gjson.GetBytes(data, "usage")
	if !usage.Exists() || usage.Type == gjson.Null {
		return
	}
	if v := usage.Get("prompt_tokens"); v.Exists() {
		p.tokensIn = intPtr(int(v.Int()))
	}
	if v := usage.Get("completion_tokens"); v.Exists() {
		p.tokensOut = intPtr(int(v.Int()))
	}
	if v := usage.Get("total_tokens"); v.Exists() {
		p.tokensTot = intPtr(int(v.Int()))
	}
}

// =============================================================================
// ANTHROPIC-STYLE STREAM
// =============================================================================

type anthropicStreamParser struct {
	buffer []byte
	done   bool

	model      string
	tokensIn   *int
	tokensOut  *int
	cacheUsage *providers.CacheUsage
}

func (p *anthropicStreamParser) Feed(chunk []byte) {
	p.buffer = append(p.buffer, chunk...)
	p.drain(false)
}

func (p *anthropicStreamParser) Done() bool { return p.done }

// Result applies the same total rule as the buffered Anthropic parser:
// total = input + output when output is present (missing input counted as
// zero, reported null individually); null total when output never arrived.
func (p *anthropicStreamParser) Result(status int) Result {
	p.drain(true)
	r := Result{
		Model:      p.model,
		TokensIn:   p.tokensIn,
		TokensOut:  p.tokensOut,
		CacheUsage: p.cacheUsage,
		StatusCode: status,
	}
	if p.tokensOut != nil {
		total := *p.tokensOut
		if p.tokensIn != nil {
			total += *p.tokensIn
		}
		r.TokensTotal = intPtr(total)
	}
	return r
}

func (p *anthropicStreamParser) drain(flush bool) {
	for {
		event, rest, ok := nextSSEEvent(p.buffer, flush)
		if !ok {
			return
		}
		p.buffer = rest
		p.handleEvent(event)
	}
}

func (p *anthropicStreamParser) handleEvent(event []byte) {
	data, _ := eventData(event)
	if data == nil || !gjson.ValidBytes(data) {
		return
	}

	// Dispatch on the payload type field rather than the event: line; the
	// two always agree and the payload survives line reordering.
	switch gjson.GetBytes(data, "type").String() {
	case "message_start":
		msg := gjson.GetBytes(data, "message")
		if model := msg.Get("model"); model.Exists() {
			p.model = model.String()
		}
		if v := msg.Get("usage.input_tokens"); v.Exists() {
			p.tokensIn = intPtr(int(v.Int()))
		}
		cacheCreate := msg.Get("usage.cache_creation_input_tokens")
		cacheRead := msg.Get("usage.cache_read_input_tokens")
		if cacheCreate.Exists() || cacheRead.Exists() {
			p.cacheUsage = &providers.CacheUsage{
				CreationTokens: int(cacheCreate.Int()),
				ReadTokens:     int(cacheRead.Int()),
			}
		}
	case "message_delta":
		if v := gjson.GetBytes(data, "usage.output_tokens"); v.Exists() {
			p.tokensOut = intPtr(int(v.Int()))
		}
	case "message_stop":
		p.done = true
	}
}
