package observer

import "strings"

// ModelPricing is USD per million tokens for one model family.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPricing covers the model families the coordinator routes to
// (gemini, openai, anthropic). Keys double as name prefixes: dated and
// preview variants such as "gemini-2.5-flash-preview-05-20" resolve to the
// longest matching family. Override or extend via the map passed to Init.
var DefaultPricing = map[string]ModelPricing{
	// Gemini: the memory-model allow-list plus pro and embeddings.
	"gemini-2.0-flash":      {0.10, 0.40},
	"gemini-2.5-flash":      {0.15, 0.60},
	"gemini-2.5-flash-lite": {0.0, 0.0},
	"gemini-2.5-pro":        {1.25, 10.00},
	"gemini-embedding-001":  {0.0, 0.0},

	// OpenAI
	"gpt-4o":      {2.50, 10.00},
	"gpt-4o-mini": {0.15, 0.60},
	"o3":          {2.00, 8.00},
	"o3-mini":     {1.10, 4.40},
	"o4-mini":     {1.10, 4.40},

	// Anthropic
	"claude-sonnet-4": {3.00, 15.00},
	"claude-haiku-3":  {0.80, 4.00},
	"claude-opus-4":   {15.00, 75.00},
}

// CostCalculator computes USD cost from token counts.
type CostCalculator struct {
	pricing map[string]ModelPricing
}

// NewCostCalculator creates a calculator with default pricing, optionally
// merged with overrides.
func NewCostCalculator(overrides map[string]ModelPricing) *CostCalculator {
	merged := make(map[string]ModelPricing, len(DefaultPricing)+len(overrides))
	for k, v := range DefaultPricing {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return &CostCalculator{pricing: merged}
}

// lookup resolves model to a pricing entry: exact name first, then the
// longest key that prefixes the name.
func (c *CostCalculator) lookup(model string) (ModelPricing, bool) {
	if p, ok := c.pricing[model]; ok {
		return p, true
	}
	var best ModelPricing
	bestLen := -1
	for k, v := range c.pricing {
		if len(k) > bestLen && strings.HasPrefix(model, k) {
			best, bestLen = v, len(k)
		}
	}
	return best, bestLen >= 0
}

// Calculate returns the cost in USD for the given model and token counts.
// Models outside every known family cost 0.
func (c *CostCalculator) Calculate(model string, inputTokens, outputTokens int) float64 {
	p, ok := c.lookup(model)
	if !ok {
		return 0.0
	}
	return float64(inputTokens)/1_000_000*p.InputPerMillion +
		float64(outputTokens)/1_000_000*p.OutputPerMillion
}
