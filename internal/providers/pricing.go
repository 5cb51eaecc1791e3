// Pricing tables - USD per million tokens, by model.
//
// DESIGN: Lookup normalizes the model id before giving up:
//   exact match -> strip trailing "-YYYY-MM-DD" date suffix -> lowercase retry.
// Unknown models return ok=false so callers report cost as null instead of
// silently guessing a rate.
package providers

import (
	"regexp"
	"strings"
)

// ModelPricing holds per-million-token pricing for a model.
type ModelPricing struct {
	InputPerMTok  float64 // USD per million input tokens
	OutputPerMTok float64 // USD per million output tokens
}

// Anthropic cache token billing relative to the input rate.
const (
	CacheWriteRateMultiplier = 1.25
	CacheReadRateMultiplier  = 0.1
)

// dateSuffixRe matches a trailing ISO date on dated model ids,
// e.g. "gpt-4o-2024-08-06" or "claude-3-5-sonnet-20241022".
var dateSuffixRe = regexp.MustCompile(`-(\d{4}-\d{2}-\d{2}|\d{8})$`)

var modelPricingTable = map[string]ModelPricing{
	// OpenAI
	"gpt-4o":      {InputPerMTok: 2.5, OutputPerMTok: 10},
	"gpt-4o-mini": {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4.1":     {InputPerMTok: 2, OutputPerMTok: 8},
	"gpt-4.1-mini": {InputPerMTok: 0.40, OutputPerMTok: 1.60},
	"gpt-4.1-nano": {InputPerMTok: 0.10, OutputPerMTok: 0.40},
	"o3":          {InputPerMTok: 2, OutputPerMTok: 8},
	"o4-mini":     {InputPerMTok: 1.10, OutputPerMTok: 4.40},

	// Anthropic
	"claude-opus-4-6":    {InputPerMTok: 5, OutputPerMTok: 25},
	"claude-opus-4-0":    {InputPerMTok: 15, OutputPerMTok: 75},
	"claude-sonnet-4-5":  {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-sonnet-4-0":  {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-haiku-4-5":   {InputPerMTok: 1, OutputPerMTok: 5},
	"claude-3-5-sonnet":  {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-3-5-haiku":   {InputPerMTok: 1, OutputPerMTok: 5},
	"claude-3-haiku":     {InputPerMTok: 0.25, OutputPerMTok: 1.25},

	// Google
	"gemini-2.5-pro":   {InputPerMTok: 1.25, OutputPerMTok: 10},
	"gemini-2.5-flash": {InputPerMTok: 0.30, OutputPerMTok: 2.50},
	"gemini-2.0-flash": {InputPerMTok: 0.10, OutputPerMTok: 0.40},
}

// GetModelPricing returns the pricing for a model id.
// Normalization: exact -> date suffix stripped -> case-insensitive retry.
func GetModelPricing(model string) (ModelPricing, bool) {
	if p, ok := modelPricingTable[model]; ok {
		return p, true
	}

	stripped := dateSuffixRe.ReplaceAllString(model, "")
	if p, ok := modelPricingTable[stripped]; ok {
		return p, true
	}

	lower := strings.ToLower(stripped)
	if p, ok := modelPricingTable[lower]; ok {
		return p, true
	}

	return ModelPricing{}, false
}
