package providers

import "math"

// CacheUsage is the optional Anthropic cache token breakdown.
type CacheUsage struct {
	CreationTokens int // written to cache, billed at 1.25x input rate
	ReadTokens     int // read from cache, billed at 0.1x input rate
}

// CalculateCost computes the USD cost of one call.
// Returns nil when the model is unpriced; returns 0 for subscription
// providers regardless of token counts. Result is rounded to 1e-10 so
// repeated aggregation stays stable across encode/decode cycles.
func CalculateCost(model string, inputTokens, outputTokens int, cache *CacheUsage, provider Name) *float64 {
	if IsSubscription(provider) {
		zero := 0.0
		return &zero
	}

	pricing, ok := GetModelPricing(model)
	if !ok {
		return nil
	}

	cost := float64(inputTokens)/1_000_000*pricing.InputPerMTok +
		float64(outputTokens)/1_000_000*pricing.OutputPerMTok

	if cache != nil {
		cost += float64(cache.CreationTokens) / 1_000_000 * pricing.InputPerMTok * CacheWriteRateMultiplier
		cost += float64(cache.ReadTokens) / 1_000_000 * pricing.InputPerMTok * CacheReadRateMultiplier
	}

	cost = math.Round(cost*1e10) / 1e10
	return &cost
}
