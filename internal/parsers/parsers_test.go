package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailguard/agent-gateway/internal/providers"
)

func TestParseResponse_NoUsageIsAllNull(t *testing.T) {
	// Success bodies without a usage object yield all-null token fields for
	// every format, including the unknown-provider fallback.
	formats := []providers.Name{providers.OpenAI, providers.Anthropic, providers.Google, providers.Unknown}
	for _, format := range formats {
		t.Run(string(format), func(t *testing.T) {
			r := ParseResponse(format, []byte(`{"model":"whatever"}`), 200)
			assert.Nil(t, r.TokensIn)
			assert.Nil(t, r.TokensOut)
			assert.Nil(t, r.TokensTotal)
			assert.Empty(t, r.ErrorMessage)
			assert.Equal(t, 200, r.StatusCode)
		})
	}
}

func TestParseResponse_OpenAI(t *testing.T) {
	body := []byte(`{"model":"gpt-4o","usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`)
	r := ParseResponse(providers.OpenAI, body, 200)

	assert.Equal(t, "gpt-4o", r.Model)
	require.NotNil(t, r.TokensIn)
	assert.Equal(t, 10, *r.TokensIn)
	require.NotNil(t, r.TokensOut)
	assert.Equal(t, 5, *r.TokensOut)
	require.NotNil(t, r.TokensTotal)
	assert.Equal(t, 15, *r.TokensTotal)
}

func TestParseResponse_AnthropicTotals(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantIn    *int
		wantOut   *int
		wantTotal *int
	}{
		{
			name:      "both sides present",
			body:      `{"model":"claude-3-5-sonnet","usage":{"input_tokens":10,"output_tokens":5}}`,
			wantIn:    intPtr(10),
			wantOut:   intPtr(5),
			wantTotal: intPtr(15),
		},
		{
			name:      "missing input counts as zero for the sum, stays null itself",
			body:      `{"usage":{"output_tokens":5}}`,
			wantOut:   intPtr(5),
			wantTotal: intPtr(5),
		},
		{
			name:   "missing output gives a null total",
			body:   `{"usage":{"input_tokens":10}}`,
			wantIn: intPtr(10),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ParseResponse(providers.Anthropic, []byte(tt.body), 200)
			assert.Equal(t, tt.wantIn, r.TokensIn)
			assert.Equal(t, tt.wantOut, r.TokensOut)
			assert.Equal(t, tt.wantTotal, r.TokensTotal)
		})
	}
}

func TestParseResponse_AnthropicCacheUsage(t *testing.T) {
	body := []byte(`{"usage":{"input_tokens":10,"output_tokens":5,"cache_creation_input_tokens":100,"cache_read_input_tokens":700}}`)
	r := ParseResponse(providers.Anthropic, body, 200)

	require.NotNil(t, r.CacheUsage)
	assert.Equal(t, 100, r.CacheUsage.CreationTokens)
	assert.Equal(t, 700, r.CacheUsage.ReadTokens)
}

func TestParseResponse_Google(t *testing.T) {
	body := []byte(`{"modelVersion":"gemini-2.0-flash","usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":3,"totalTokenCount":10}}`)
	r := ParseResponse(providers.Google, body, 200)

	assert.Equal(t, "gemini-2.0-flash", r.Model)
	require.NotNil(t, r.TokensTotal)
	assert.Equal(t, 10, *r.TokensTotal)
}

func TestParseResponse_ErrorPath(t *testing.T) {
	t.Run("body-supplied message", func(t *testing.T) {
		r := ParseResponse(providers.OpenAI, []byte(`{"error":{"message":"invalid api key"}}`), 401)
		assert.Equal(t, "invalid api key", r.ErrorMessage)
		assert.Equal(t, 401, r.StatusCode)
	})

	t.Run("fallback on empty message", func(t *testing.T) {
		r := ParseResponse(providers.Anthropic, []byte(`{"error":{}}`), 500)
		assert.Equal(t, "HTTP 500", r.ErrorMessage)
	})

	t.Run("tolerates nil body", func(t *testing.T) {
		r := ParseResponse(providers.Google, nil, 503)
		assert.Equal(t, "HTTP 503", r.ErrorMessage)
	})

	t.Run("tolerates non-JSON body", func(t *testing.T) {
		r := ParseResponse(providers.OpenAI, []byte("upstream exploded"), 502)
		assert.Equal(t, "HTTP 502", r.ErrorMessage)
	})
}
