package engine

import (
	"strings"

	"github.com/haasonsaas/relay/pkg/models"
)

// modelPrice is USD per million tokens.
type modelPrice struct {
	input  float64
	output float64
}

// Static price table keyed by upstream model ID. Unknown models price to
// zero rather than guessing.
var modelPrices = map[string]modelPrice{
	"gpt-4o":                     {2.50, 10.00},
	"gpt-4o-mini":                {0.15, 0.60},
	"gpt-4.1":                    {2.00, 8.00},
	"gpt-4.1-mini":               {0.40, 1.60},
	"o3-mini":                    {1.10, 4.40},
	"claude-sonnet-4-5":          {3.00, 15.00},
	"claude-opus-4-5":            {5.00, 25.00},
	"claude-haiku-4-5":           {1.00, 5.00},
	"claude-3-5-haiku-20241022":  {0.80, 4.00},
	"gemini-2.5-pro":             {1.25, 10.00},
	"gemini-2.5-flash":           {0.30, 2.50},
	"gemini-2.0-flash":           {0.10, 0.40},
	"mistral-large-latest":       {2.00, 6.00},
	"mistral-small-latest":       {0.10, 0.30},
	"deepseek-chat":              {0.27, 1.10},
	"deepseek-reasoner":          {0.55, 2.19},
	"llama-3.3-70b-versatile":    {0.59, 0.79},
	"llama-3.1-8b-instant":       {0.05, 0.08},
}

// Cost computes the dollar cost of a run's usage. The model may carry a
// routing prefix, which is ignored for lookup.
func Cost(model string, usage models.Usage) float64 {
	if _, rest, ok := strings.Cut(model, "/"); ok {
		if _, found := modelPrices[rest]; found {
			model = rest
		}
	}
	price, ok := modelPrices[model]
	if !ok {
		return 0
	}
	return float64(usage.PromptTokens)*price.input/1e6 +
		float64(usage.CompletionTokens)*price.output/1e6
}
