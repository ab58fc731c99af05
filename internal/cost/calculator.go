// Package cost prices generative calls so the governor can enforce the
// daily spend cap from recorded per-job cost.
package cost

import (
	"github.com/sells-group/venue-fusion/internal/config"
	"github.com/sells-group/venue-fusion/internal/model"
)

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input         float64
	Output        float64
	CacheWriteMul float64
	CacheReadMul  float64
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates map[string]ModelRate
}

// NewCalculator creates a Calculator with the given per-model rates.
func NewCalculator(rates map[string]ModelRate) *Calculator {
	return &Calculator{rates: rates}
}

// FromConfig builds a Calculator from the pricing section of the config.
func FromConfig(p config.PricingConfig) *Calculator {
	rates := make(map[string]ModelRate, len(p.Anthropic))
	for name, r := range p.Anthropic {
		rates[name] = ModelRate{
			Input:         r.Input,
			Output:        r.Output,
			CacheWriteMul: r.CacheWriteMul,
			CacheReadMul:  r.CacheReadMul,
		}
	}
	return NewCalculator(rates)
}

// Known reports whether the model has a configured rate. An unpriced model
// would let spend escape the cap, so the orchestrator refuses it.
func (c *Calculator) Known(modelID string) bool {
	_, ok := c.rates[modelID]
	return ok
}

// Claude computes the cost for a Claude API call.
func (c *Calculator) Claude(modelID string, input, output, cacheWrite, cacheRead int) float64 {
	rate, ok := c.rates[modelID]
	if !ok {
		return 0
	}

	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// Price fills in usage.Cost for the given model and returns the usage.
func (c *Calculator) Price(modelID string, usage model.TokenUsage) model.TokenUsage {
	usage.Cost = c.Claude(modelID, usage.InputTokens, usage.OutputTokens,
		usage.CacheCreationTokens, usage.CacheReadTokens)
	return usage
}
