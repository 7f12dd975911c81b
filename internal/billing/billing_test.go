package billing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"agentcore/internal/convtypes"
)

func TestCost_KnownModel(t *testing.T) {
	usage := convtypes.Usage{
		PromptTokens:             1_000_000,
		CompletionTokens:         1_000_000,
		CacheReadInputTokens:     1_000_000,
		CacheCreationInputTokens: 0,
		Model:                    "claude-sonnet",
	}
	cost := DefaultPricing.Cost(usage)
	require.InDelta(t, 3+15+0.3, cost, 1e-9)
}

func TestCost_PrefixMatch(t *testing.T) {
	usage := convtypes.Usage{PromptTokens: 1_000_000, Model: "claude-sonnet-4-5-20250929"}
	cost := DefaultPricing.Cost(usage)
	require.InDelta(t, 3, cost, 1e-9)
}

func TestCost_UnknownModel(t *testing.T) {
	usage := convtypes.Usage{PromptTokens: 1_000_000, Model: "some-unlisted-model"}
	require.Equal(t, float64(0), DefaultPricing.Cost(usage))
}
