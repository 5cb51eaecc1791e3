package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetModelPricing_Normalization(t *testing.T) {
	base, ok := GetModelPricing("gpt-4o")
	require.True(t, ok)

	// Case-insensitive and date-suffix-insensitive lookups resolve to the
	// same rate.
	for _, model := range []string{"GPT-4O", "gpt-4o-2024-08-06", "GPT-4O-2024-08-06"} {
		p, ok := GetModelPricing(model)
		require.True(t, ok, "model %s should resolve", model)
		assert.Equal(t, base, p, "model %s", model)
	}
}

func TestGetModelPricing_CompactDateSuffix(t *testing.T) {
	base, ok := GetModelPricing("claude-3-5-sonnet")
	require.True(t, ok)

	p, ok := GetModelPricing("claude-3-5-sonnet-20241022")
	require.True(t, ok)
	assert.Equal(t, base, p)
}

func TestGetModelPricing_Unknown(t *testing.T) {
	_, ok := GetModelPricing("totally-made-up-model")
	assert.False(t, ok)

	// A date suffix on an unknown base still fails.
	_, ok = GetModelPricing("mystery-model-2025-01-01")
	assert.False(t, ok)
}
