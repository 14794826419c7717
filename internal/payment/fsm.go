// Package payment implements the per-rail Payment State Machine (C8),
// generalized from the teacher's services/otc-gateway/models.InvoiceState
// constants and the server/server.go transitionInvoice/ValidateTransition
// pattern: a pure transition-validation function called inside a
// row-locked transaction.
package payment

import (
	"fmt"
)

// State is a rail-specific payment lifecycle state. Strings are shared
// across rails for readability but the allowed-transition tables are
// rail-specific.
type State string

// ACH states.
const (
	ACHPending          State = "PENDING"
	ACHReviewed         State = "REVIEWED"
	ACHProcessed        State = "PROCESSED"
	ACHSettled          State = "SETTLED"
	ACHReleased         State = "RELEASED"
	ACHReturnInitiated  State = "RETURN_INITIATED"
	ACHReturned         State = "RETURNED"
	ACHDeclined         State = "DECLINED"
	ACHVoided           State = "VOIDED"
	ACHReversed         State = "REVERSED"
	ACHExpired          State = "EXPIRED"
)

// Card states.
const (
	CardAuthorized State = "AUTHORIZED"
	CardCaptured   State = "CAPTURED"
	CardReversed   State = "REVERSED"
	CardDeclined   State = "DECLINED"
	CardExpired    State = "EXPIRED"
)

// On-chain states.
const (
	OnChainSubmitted State = "SUBMITTED"
	OnChainIncluded  State = "INCLUDED"
	OnChainConfirmed State = "CONFIRMED"
	OnChainFailed    State = "FAILED"
	OnChainReplaced  State = "REPLACED"
)

// Rail identifies which FSM table governs a payment.
type Rail string

const (
	RailACH        Rail = "ach"
	RailCard       Rail = "card"
	RailOnChain    Rail = "on_chain"
	RailStablecoin Rail = "stablecoin"
)

// ErrInvalidTransition is returned — and logged by the caller as
// policy.invalid_transition — whenever a transition is rejected. The
// state is left unchanged.
var ErrInvalidTransition = fmt.Errorf("payment: invalid state transition")

var achTerminal = map[State]bool{
	ACHDeclined: true, ACHVoided: true, ACHReversed: true,
	ACHExpired: true, ACHReleased: true, ACHReturned: true,
}

var achTransitions = map[State]map[State]bool{
	ACHPending:         {ACHReviewed: true, ACHDeclined: true},
	ACHReviewed:        {ACHProcessed: true, ACHDeclined: true},
	ACHProcessed:       {ACHSettled: true, ACHReturnInitiated: true, ACHDeclined: true},
	ACHSettled:         {ACHReleased: true, ACHReturnInitiated: true},
	ACHReturnInitiated: {ACHReturned: true},
}

var cardTerminal = map[State]bool{CardReversed: true, CardDeclined: true, CardExpired: true}

var cardTransitions = map[State]map[State]bool{
	CardAuthorized: {CardCaptured: true, CardDeclined: true, CardExpired: true},
	CardCaptured:   {CardReversed: true},
}

var onChainTerminal = map[State]bool{OnChainConfirmed: true, OnChainFailed: true, OnChainReplaced: true}

var onChainTransitions = map[State]map[State]bool{
	OnChainSubmitted: {OnChainIncluded: true, OnChainFailed: true, OnChainReplaced: true},
	OnChainIncluded:  {OnChainConfirmed: true, OnChainReplaced: true},
}

// IsTerminal reports whether state is terminal for rail.
func IsTerminal(rail Rail, state State) bool {
	switch rail {
	case RailACH:
		return achTerminal[state]
	case RailCard:
		return cardTerminal[state]
	case RailOnChain, RailStablecoin:
		return onChainTerminal[state]
	default:
		return false
	}
}

// ValidateTransition reports whether from -> to is an allowed transition
// for rail. Out-of-order events MUST never downgrade a terminal state
// (P3): once IsTerminal(rail, from) is true, every transition is
// rejected except the identity transition (the same terminal value
// repeated, which is accepted as a no-op by the caller, not by this
// function — this function only validates state change).
func ValidateTransition(rail Rail, from, to State) error {
	if IsTerminal(rail, from) {
		return fmt.Errorf("%w: %s is terminal for rail %s", ErrInvalidTransition, from, rail)
	}
	var table map[State]map[State]bool
	switch rail {
	case RailACH:
		table = achTransitions
	case RailCard:
		table = cardTransitions
	case RailOnChain, RailStablecoin:
		table = onChainTransitions
	default:
		return fmt.Errorf("payment: unknown rail %q", rail)
	}
	allowed, ok := table[from]
	if !ok || !allowed[to] {
		return fmt.Errorf("%w: %s -> %s not allowed on rail %s", ErrInvalidTransition, from, to, rail)
	}
	return nil
}
