package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateCost_KnownModel(t *testing.T) {
	// gpt-4o: 2.50/1M input, 10.00/1M output.
	cost := CalculateCost("gpt-4o", 1000, 500, nil, OpenAI)
	require.NotNil(t, cost)
	assert.InDelta(t, 0.0075, *cost, 1e-9)
}

func TestCalculateCost_UnpricedModel(t *testing.T) {
	assert.Nil(t, CalculateCost("mystery-model", 1000, 500, nil, OpenAI))
}

func TestCalculateCost_SubscriptionProvider(t *testing.T) {
	// Subscription providers cost zero regardless of token counts, even for
	// models the table would otherwise price.
	for _, provider := range []Name{OpenAIOAuth, AnthropicOAuth} {
		cost := CalculateCost("gpt-4o", 1_000_000, 1_000_000, nil, provider)
		require.NotNil(t, cost)
		assert.Zero(t, *cost)
	}
}

func TestCalculateCost_CacheMultipliers(t *testing.T) {
	// claude-3-5-sonnet: 3.00/1M input. Cache write at 1.25x, read at 0.1x.
	cache := &CacheUsage{CreationTokens: 1_000_000, ReadTokens: 1_000_000}
	cost := CalculateCost("claude-3-5-sonnet", 0, 0, cache, Anthropic)
	require.NotNil(t, cost)
	assert.InDelta(t, 3.0*1.25+3.0*0.1, *cost, 1e-9)
}

func TestCalculateCost_Rounding(t *testing.T) {
	cost := CalculateCost("gpt-4o", 1, 0, nil, OpenAI)
	require.NotNil(t, cost)
	// 2.5e-6 survives the 1e-10 rounding exactly.
	assert.Equal(t, 0.0000025, *cost)
}
