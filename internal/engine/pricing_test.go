package engine

import (
	"math"
	"testing"

	"github.com/haasonsaas/relay/pkg/models"
)

func TestCost(t *testing.T) {
	usage := models.Usage{PromptTokens: 1_000_000, CompletionTokens: 500_000}

	got := Cost("gpt-4o", usage)
	want := 2.50 + 5.00
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Cost(gpt-4o) = %v, want %v", got, want)
	}

	// Routing prefixes are stripped for lookup.
	if Cost("openai/gpt-4o", usage) != got {
		t.Error("prefixed model priced differently")
	}

	if Cost("some-unknown-model", usage) != 0 {
		t.Error("unknown model should price to zero")
	}
	if Cost("", models.Usage{}) != 0 {
		t.Error("empty model should price to zero")
	}
}

func TestCostKeepsUnpricedSuffix(t *testing.T) {
	// A slash whose suffix is not in the table leaves the model untouched.
	if Cost("together/meta-llama/Llama-Unknown", models.Usage{PromptTokens: 100}) != 0 {
		t.Error("unknown prefixed model should price to zero")
	}
}
