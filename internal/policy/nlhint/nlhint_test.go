package nlhint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluateFlagsOverreach(t *testing.T) {
	p, err := NewParser()
	require.NoError(t, err)

	hint, err := p.Evaluate("raise daily cap to 50000 USD", 5_000_000, 1_000_000, "usd")
	require.NoError(t, err)
	require.True(t, hint.RelaxesHardCap)
	require.Equal(t, "USD", hint.Currency)
}

func TestEvaluateAllowsTighterHint(t *testing.T) {
	p, err := NewParser()
	require.NoError(t, err)

	hint, err := p.Evaluate("limit to 100 USD a day", 10_000, 1_000_000, "USD")
	require.NoError(t, err)
	require.False(t, hint.RelaxesHardCap)
}
