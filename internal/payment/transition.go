package payment

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sardis/internal/ledger"
	"sardis/internal/store"
)

// Transitioner applies validated FSM transitions to persisted Payment
// rows inside a row-locked transaction and writes the corresponding
// ledger entry, generalizing the teacher's server.go transitionInvoice
// helper from a single invoice FSM to every rail.
type Transitioner struct {
	db     *gorm.DB
	ledger *ledger.Ledger
}

// NewTransitioner constructs a Transitioner.
func NewTransitioner(db *gorm.DB, l *ledger.Ledger) *Transitioner {
	return &Transitioner{db: db, ledger: l}
}

// Apply moves paymentID from its current state to `to`, idempotently. If
// the payment is already in state `to`, the call is a no-op success (P4:
// exactly-once side effects — duplicate webhook deliveries must not
// re-apply). If the current state is a different terminal state, or the
// transition table forbids from->to, ErrInvalidTransition is returned and
// the row is left unchanged.
func (t *Transitioner) Apply(rail Rail, paymentID string, to State, reasonCode string) error {
	return t.db.Transaction(func(tx *gorm.DB) error {
		var p store.Payment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("payment_id = ?", paymentID).First(&p).Error; err != nil {
			return fmt.Errorf("payment: load %s: %w", paymentID, err)
		}
		from := State(p.Status)
		if from == to {
			return nil // idempotent re-delivery, no-op
		}
		if err := ValidateTransition(rail, from, to); err != nil {
			return err
		}
		p.Status = string(to)
		p.UpdatedAt = time.Now().UTC()
		if IsTerminal(rail, to) {
			p.AmountPendingMinor = "0"
		}
		if reasonCode != "" {
			p.LastReturnReason = reasonCode
		}
		if err := tx.Save(&p).Error; err != nil {
			return fmt.Errorf("payment: save transition: %w", err)
		}
		if t.ledger != nil {
			if _, err := t.ledger.Append(p.OrgID, ledger.KindPaymentStateTransition, map[string]any{
				"payment_id": paymentID, "from": from, "to": to, "reason_code": reasonCode,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyACHReturn applies an ACH return code event per the authoritative
// matrix (P10): a retry-eligible code with retries left (below
// MaxACHRetries) increments the retry counter and leaves the status
// unchanged; any other code, or an exhausted budget, moves a PROCESSED
// or SETTLED payment to RETURN_INITIATED. It does not move the payment
// on to RETURNED and pauses no account: the returned ReturnAction
// reports PauseAccount and RequiresManualReview, and this method does
// not act on them.
func (t *Transitioner) ApplyACHReturn(paymentID, returnCode string) (ReturnAction, error) {
	action := ClassifyACHReturn(returnCode)
	err := t.db.Transaction(func(tx *gorm.DB) error {
		var p store.Payment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("payment_id = ?", paymentID).First(&p).Error; err != nil {
			return err
		}
		from := State(p.Status)
		if IsTerminal(RailACH, from) {
			return nil // terminal monotonicity: no downgrade (P3)
		}
		if action.AutoRetryEligible && p.RetryCount < MaxACHRetries {
			p.RetryCount++
		} else {
			// Either the code forbids auto-retry, or retries are
			// exhausted; either way the payment moves to RETURN_INITIATED
			// when its current state allows it.
			if err := ValidateTransition(RailACH, from, ACHReturnInitiated); err == nil {
				p.Status = string(ACHReturnInitiated)
			}
		}
		p.LastReturnReason = returnCode
		p.UpdatedAt = time.Now().UTC()
		if err := tx.Save(&p).Error; err != nil {
			return err
		}
		if t.ledger != nil {
			_, err := t.ledger.Append(p.OrgID, ledger.KindPaymentStateTransition, map[string]any{
				"payment_id": paymentID, "return_code": returnCode, "action": action,
			})
			return err
		}
		return nil
	})
	return action, err
}
