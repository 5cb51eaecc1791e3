package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailguard/agent-gateway/internal/config"
	"github.com/trailguard/agent-gateway/internal/providers"
)

func TestTargetProvider(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   providers.Name
	}{
		{"openai host", "https://api.openai.com/v1/chat/completions", providers.OpenAI},
		{"anthropic host", "https://api.anthropic.com/v1/messages", providers.Anthropic},
		{"bedrock regional host", "https://bedrock-runtime.us-east-1.amazonaws.com/model/x/invoke", providers.Bedrock},
		{"openrouter host", "https://openrouter.ai/api/v1/chat/completions", providers.OpenRouter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := targetProvider(tt.target)
			require.NotNil(t, d)
			assert.Equal(t, tt.want, d.Name)
		})
	}

	t.Run("unknown host", func(t *testing.T) {
		assert.Nil(t, targetProvider("https://evil.example.com/v1/chat/completions"))
	})

	t.Run("lookalike host never resolves", func(t *testing.T) {
		// Override targets are client-controlled; a provider hostname buried
		// inside an attacker domain must not unlock key injection.
		assert.Nil(t, targetProvider("https://api.openai.com.evil.example/v1/chat/completions"))
	})
}

func TestInjectCredential_HostnameMatched(t *testing.T) {
	g := newTestGateway(t, func(cfg *config.Config) {
		cfg.Providers["openai"] = config.ProviderConfig{APIKey: "sk-test-key"}
		cfg.Providers["anthropic"] = config.ProviderConfig{APIKey: "ant-test-key"}
	}, nil)

	t.Run("openai uses bearer scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "https://api.openai.com/v1/chat/completions", nil)
		g.injectCredential(context.Background(), req, providers.DetectByHost("api.openai.com"), nil)
		assert.Equal(t, "Bearer sk-test-key", req.Header.Get("Authorization"))
	})

	t.Run("anthropic uses bare x-api-key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil)
		g.injectCredential(context.Background(), req, providers.DetectByHost("api.anthropic.com"), nil)
		assert.Equal(t, "ant-test-key", req.Header.Get("x-api-key"))
	})

	t.Run("client placeholder key is replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "https://api.openai.com/v1/chat/completions", nil)
		req.Header.Set("Authorization", "Bearer placeholder")
		g.injectCredential(context.Background(), req, providers.DetectByHost("api.openai.com"), nil)
		assert.Equal(t, "Bearer sk-test-key", req.Header.Get("Authorization"))
	})

	t.Run("nil descriptor injects nothing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "https://evil.example.com/v1/chat/completions", nil)
		g.injectCredential(context.Background(), req, nil, nil)
		assert.Empty(t, req.Header.Get("Authorization"))
		assert.Empty(t, req.Header.Get("x-api-key"))
	})

	t.Run("no configured key leaves the request untouched", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "https://generativelanguage.googleapis.com/v1beta/models/x", nil)
		g.injectCredential(context.Background(), req, providers.DetectByHost("generativelanguage.googleapis.com"), nil)
		assert.Empty(t, req.Header.Get("x-goog-api-key"))
	})
}

func TestResolveTarget(t *testing.T) {
	g := newTestGateway(t, nil, nil)

	t.Run("override header wins verbatim", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/anything", nil)
		r.Header.Set(HeaderTargetURL, "http://127.0.0.1:9999/custom")
		target, err := g.resolveTarget(r)
		require.NoError(t, err)
		assert.Equal(t, "http://127.0.0.1:9999/custom", target)
	})

	t.Run("path auto-detection builds the provider URL", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/messages?beta=true", nil)
		target, err := g.resolveTarget(r)
		require.NoError(t, err)
		assert.Equal(t, "https://api.anthropic.com/v1/messages?beta=true", target)
	})

	t.Run("unrecognized path errors", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/totally/unknown", nil)
		_, err := g.resolveTarget(r)
		assert.ErrorIs(t, err, errNoProvider)
	})

	t.Run("bedrock path without signer errors", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/model/anthropic.claude-v2/invoke", nil)
		_, err := g.resolveTarget(r)
		assert.ErrorIs(t, err, errNoProvider)
	})
}

func TestBuildUpstreamRequest_HeaderHandling(t *testing.T) {
	g := newTestGateway(t, nil, nil)

	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-Custom-Trace", "abc123")
	r.Header.Set("Connection", "keep-alive")
	r.Header.Set(HeaderTargetURL, "https://api.openai.com/v1/chat/completions")
	r.Header.Set(HeaderAgentID, "agent-1")

	req, err := g.buildUpstreamRequest(context.Background(), r, "https://api.openai.com/v1/chat/completions", []byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "abc123", req.Header.Get("X-Custom-Trace"), "custom headers pass through")
	assert.Empty(t, req.Header.Get("Connection"), "hop headers are stripped")
	assert.Empty(t, req.Header.Get(HeaderTargetURL), "proxy-internal headers never leak upstream")
	assert.Empty(t, req.Header.Get(HeaderAgentID))
}

func TestBuildUpstreamRequest_GETCarriesNoBody(t *testing.T) {
	g := newTestGateway(t, nil, nil)

	r := httptest.NewRequest(http.MethodGet, "/v1/models/gemini-pro", nil)
	req, err := g.buildUpstreamRequest(context.Background(), r, "https://generativelanguage.googleapis.com/v1/models/gemini-pro", []byte(`{"ignored":true}`))
	require.NoError(t, err)
	assert.Zero(t, req.ContentLength)
}
