// Package providers - static registry of upstream LLM providers.
//
// DESIGN: Descriptors are immutable data; lookups are pure functions:
//   - DetectByHost(): hostname match, required before credential injection
//   - DetectByPath(): path-pattern match, used for target auto-detection
//
// A path-only match must NEVER trigger key injection: a request to an
// arbitrary host that merely reuses an OpenAI-shaped path would otherwise
// receive our OpenAI key.
package providers

import "strings"

// Name identifies an upstream provider format.
type Name string

const (
	OpenAI         Name = "openai"
	Anthropic      Name = "anthropic"
	Google         Name = "google"
	OpenRouter     Name = "openrouter"
	Bedrock        Name = "bedrock"
	OpenAIOAuth    Name = "openai-oauth"
	AnthropicOAuth Name = "anthropic-oauth"
	Unknown        Name = "unknown"
)

// String returns the provider name.
func (n Name) String() string {
	return string(n)
}

// FromString converts a string to a provider Name.
func FromString(s string) Name {
	switch s {
	case "openai":
		return OpenAI
	case "anthropic":
		return Anthropic
	case "google", "gemini":
		return Google
	case "openrouter":
		return OpenRouter
	case "bedrock":
		return Bedrock
	case "openai-oauth":
		return OpenAIOAuth
	case "anthropic-oauth":
		return AnthropicOAuth
	default:
		return Unknown
	}
}

// Descriptor is an immutable registry entry for one provider.
type Descriptor struct {
	Name         Name
	HostPatterns []string // exact hostname; one "*" wildcard spans a label run
	PathPrefixes []string // prefix match against request path
	BaseURL      string   // scheme+host used when auto-detecting the target
	RootURL      string   // scheme+host without any path component
	AuthHeader   string   // header carrying the credential
	AuthScheme   string   // value prefix, e.g. "Bearer "
	UsesOAuth    bool     // credential is an OAuth token, not a static key
	Subscription bool     // seat-billed: per-call cost is zero
}

// Wire format family for response parsing. OpenRouter and the OAuth variants
// speak their parent provider's format.
func (d *Descriptor) WireFormat() Name {
	switch d.Name {
	case OpenRouter, OpenAIOAuth:
		return OpenAI
	case AnthropicOAuth, Bedrock:
		return Anthropic
	default:
		return d.Name
	}
}

var registry = []*Descriptor{
	{
		Name:         OpenAI,
		HostPatterns: []string{"api.openai.com"},
		PathPrefixes: []string{"/v1/chat/completions", "/v1/completions", "/v1/responses", "/v1/embeddings"},
		BaseURL:      "https://api.openai.com",
		RootURL:      "https://api.openai.com",
		AuthHeader:   "Authorization",
		AuthScheme:   "Bearer ",
	},
	{
		Name:         Anthropic,
		HostPatterns: []string{"api.anthropic.com"},
		PathPrefixes: []string{"/v1/messages", "/v1/complete"},
		BaseURL:      "https://api.anthropic.com",
		RootURL:      "https://api.anthropic.com",
		AuthHeader:   "x-api-key",
	},
	{
		Name:         Google,
		HostPatterns: []string{"generativelanguage.googleapis.com"},
		PathPrefixes: []string{"/v1beta/models", "/v1/models/gemini"},
		BaseURL:      "https://generativelanguage.googleapis.com",
		RootURL:      "https://generativelanguage.googleapis.com",
		AuthHeader:   "x-goog-api-key",
	},
	{
		Name:         OpenRouter,
		HostPatterns: []string{"openrouter.ai"},
		PathPrefixes: []string{"/api/v1/chat/completions"},
		BaseURL:      "https://openrouter.ai/api",
		RootURL:      "https://openrouter.ai",
		AuthHeader:   "Authorization",
		AuthScheme:   "Bearer ",
	},
	{
		Name:         Bedrock,
		HostPatterns: []string{"bedrock-runtime.*.amazonaws.com"},
		PathPrefixes: []string{"/model/"},
		BaseURL:      "", // region-dependent, built by the signer
		RootURL:      "",
		UsesOAuth:    false,
	},
	{
		Name:         OpenAIOAuth,
		HostPatterns: []string{"chatgpt.com"},
		PathPrefixes: []string{"/backend-api/codex/responses"},
		BaseURL:      "https://chatgpt.com/backend-api",
		RootURL:      "https://chatgpt.com",
		AuthHeader:   "Authorization",
		AuthScheme:   "Bearer ",
		UsesOAuth:    true,
		Subscription: true,
	},
	{
		Name:         AnthropicOAuth,
		HostPatterns: []string{"api.anthropic.com"},
		PathPrefixes: []string{},
		BaseURL:      "https://api.anthropic.com",
		RootURL:      "https://api.anthropic.com",
		AuthHeader:   "Authorization",
		AuthScheme:   "Bearer ",
		UsesOAuth:    true,
		Subscription: true,
	},
}

// Get returns the descriptor for a provider name, or nil.
func Get(name Name) *Descriptor {
	for _, d := range registry {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// All returns every registered descriptor in table order.
func All() []*Descriptor {
	out := make([]*Descriptor, len(registry))
	copy(out, registry)
	return out
}

// DetectByHost finds the provider whose hostname patterns match the given
// host. This is the only lookup allowed to gate credential injection, so
// matching is exact: a substring or suffix trick like
// "api.openai.com.evil.example" must never resolve to a provider.
func DetectByHost(host string) *Descriptor {
	host = strings.ToLower(host)
	for _, d := range registry {
		for _, pattern := range d.HostPatterns {
			if matchHost(host, pattern) {
				return d
			}
		}
	}
	return nil
}

// matchHost compares a hostname against a registry pattern. Patterns are
// exact hostnames; a single "*" stands for one or more characters between
// the literal prefix and suffix (used for regional hosts like
// bedrock-runtime.us-east-1.amazonaws.com).
func matchHost(host, pattern string) bool {
	star := strings.IndexByte(pattern, '*')
	if star < 0 {
		return host == pattern
	}
	prefix, suffix := pattern[:star], pattern[star+1:]
	return len(host) > len(prefix)+len(suffix) &&
		strings.HasPrefix(host, prefix) &&
		strings.HasSuffix(host, suffix)
}

// DetectByPath finds the provider whose path patterns match the request path.
// Used for target auto-detection only; never sufficient for key injection.
func DetectByPath(path string) *Descriptor {
	for _, d := range registry {
		for _, prefix := range d.PathPrefixes {
			if strings.HasPrefix(path, prefix) {
				return d
			}
		}
	}
	// Bedrock invoke/converse paths carry the model segment mid-path.
	if strings.Contains(path, "/model/") &&
		(strings.HasSuffix(path, "/invoke") ||
			strings.HasSuffix(path, "/invoke-with-response-stream") ||
			strings.HasSuffix(path, "/converse") ||
			strings.HasSuffix(path, "/converse-stream")) {
		return Get(Bedrock)
	}
	return nil
}

// IsSubscription reports whether per-call cost for the provider is zero.
func IsSubscription(name Name) bool {
	if d := Get(name); d != nil {
		return d.Subscription
	}
	return false
}
