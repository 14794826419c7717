package payment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateTransitionAllowsHappyPath(t *testing.T) {
	require.NoError(t, ValidateTransition(RailACH, ACHPending, ACHReviewed))
	require.NoError(t, ValidateTransition(RailACH, ACHReviewed, ACHProcessed))
	require.NoError(t, ValidateTransition(RailACH, ACHProcessed, ACHSettled))
	require.NoError(t, ValidateTransition(RailACH, ACHSettled, ACHReleased))
}

func TestValidateTransitionRejectsSkip(t *testing.T) {
	err := ValidateTransition(RailACH, ACHPending, ACHSettled)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestValidateTransitionRejectsFromTerminal(t *testing.T) {
	err := ValidateTransition(RailACH, ACHReturned, ACHPending)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestIsTerminalPerRail(t *testing.T) {
	require.True(t, IsTerminal(RailACH, ACHReleased))
	require.False(t, IsTerminal(RailACH, ACHProcessed))
	require.True(t, IsTerminal(RailOnChain, OnChainConfirmed))
	require.True(t, IsTerminal(RailCard, CardDeclined))
}

func TestClassifyACHReturnMatrix(t *testing.T) {
	r01 := ClassifyACHReturn("R01")
	require.True(t, r01.AutoRetryEligible)
	require.False(t, r01.PauseAccount)

	r03 := ClassifyACHReturn("R03")
	require.False(t, r03.AutoRetryEligible)
	require.True(t, r03.PauseAccount)

	r29 := ClassifyACHReturn("R29")
	require.True(t, r29.PauseAccount)
	require.True(t, r29.RequiresManualReview)
}

func TestClassifyACHReturnUnknownCodeConservative(t *testing.T) {
	action := ClassifyACHReturn("R99")
	require.True(t, action.PauseAccount)
	require.True(t, action.RequiresManualReview)
}
