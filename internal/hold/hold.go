// Package hold implements the two-phase reservation primitive (part of
// C8's scope): Open reserves funds against a wallet, Capture settles up
// to the reserved amount, and Void releases the reservation. Grounded
// on the same row-locked transition discipline as internal/payment and
// the teacher's server.go transitionInvoice.
package hold

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sardis/internal/ids"
	"sardis/internal/ledger"
	"sardis/internal/store"
)

const (
	StatusActive   = "active"
	StatusCaptured = "captured"
	StatusVoided   = "voided"
	StatusExpired  = "expired"
)

var (
	// ErrNotActive is returned when Capture or Void is attempted on a
	// hold that has already reached a terminal status.
	ErrNotActive = errors.New("hold: not active")
	// ErrCaptureExceedsReserved is returned when a capture amount would
	// push captured_minor past the hold's reserved amount.
	ErrCaptureExceedsReserved = errors.New("hold: capture amount exceeds reserved amount")
)

// Manager is the Hold lifecycle manager.
type Manager struct {
	db     *gorm.DB
	ledger *ledger.Ledger
}

// New constructs a Manager.
func New(db *gorm.DB, l *ledger.Ledger) *Manager {
	return &Manager{db: db, ledger: l}
}

// Open reserves amountMinor of currency against walletID, returning the
// new HoldId.
func (m *Manager) Open(orgID, walletID, amountMinor, currency string, ttl time.Duration) (ids.ID, error) {
	holdID := ids.New(ids.KindHold)
	now := time.Now().UTC()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}
	rec := store.Hold{
		HoldID: string(holdID), WalletID: walletID, AmountMinor: amountMinor, Currency: currency,
		Status: StatusActive, CapturedMinor: "0", ExpiresAt: expiresAt, CreatedAt: now,
	}
	if err := m.db.Create(&rec).Error; err != nil {
		return "", fmt.Errorf("hold: create: %w", err)
	}
	if _, err := m.ledger.Append(orgID, ledger.KindPaymentStateTransition, rec); err != nil && !errors.Is(err, ledger.ErrDurableStoreUnavailable) {
		return "", err
	}
	return holdID, nil
}

// Capture settles captureMinor against holdID, accumulating into
// captured_minor. A hold may be captured multiple times up to its
// reserved amount; the caller decides whether to void the remainder.
func (m *Manager) Capture(orgID, holdID, captureMinor string) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		var h store.Hold
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("hold_id = ?", holdID).First(&h).Error; err != nil {
			return err
		}
		if h.Status != StatusActive {
			return ErrNotActive
		}
		captured, err := addDecimalStrings(h.CapturedMinor, captureMinor)
		if err != nil {
			return err
		}
		exceeds, err := decimalGreaterThan(captured, h.AmountMinor)
		if err != nil {
			return err
		}
		if exceeds {
			return ErrCaptureExceedsReserved
		}
		h.CapturedMinor = captured
		if captured == h.AmountMinor {
			h.Status = StatusCaptured
		}
		if err := tx.Save(&h).Error; err != nil {
			return err
		}
		_, err = m.ledger.Append(orgID, ledger.KindPaymentStateTransition, h)
		if err != nil && !errors.Is(err, ledger.ErrDurableStoreUnavailable) {
			return err
		}
		return nil
	})
}

// Void releases holdID's remaining reservation. Irreversible, per spec's
// "terminal transitions are irreversible" invariant.
func (m *Manager) Void(orgID, holdID string) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		var h store.Hold
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("hold_id = ?", holdID).First(&h).Error; err != nil {
			return err
		}
		if h.Status != StatusActive {
			return ErrNotActive
		}
		h.Status = StatusVoided
		if err := tx.Save(&h).Error; err != nil {
			return err
		}
		_, err := m.ledger.Append(orgID, ledger.KindPaymentStateTransition, h)
		if err != nil && !errors.Is(err, ledger.ErrDurableStoreUnavailable) {
			return err
		}
		return nil
	})
}

// ExpireSweep transitions every active hold past its expires_at to
// StatusExpired, returning the count transitioned.
func (m *Manager) ExpireSweep(now time.Time) (int, error) {
	res := m.db.Model(&store.Hold{}).
		Where("status = ? AND expires_at <> ? AND expires_at < ?", StatusActive, time.Time{}, now).
		Update("status", StatusExpired)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// addDecimalStrings adds two base-10 minor-unit strings using big.Int so
// no floating point ever touches the money path, the same discipline
// internal/ids.Money follows.
func addDecimalStrings(a, b string) (string, error) {
	av, ok := new(big.Int).SetString(a, 10)
	if !ok {
		return "", fmt.Errorf("hold: invalid amount %q", a)
	}
	bv, ok := new(big.Int).SetString(b, 10)
	if !ok {
		return "", fmt.Errorf("hold: invalid amount %q", b)
	}
	return new(big.Int).Add(av, bv).String(), nil
}

func decimalGreaterThan(a, b string) (bool, error) {
	av, ok := new(big.Int).SetString(a, 10)
	if !ok {
		return false, fmt.Errorf("hold: invalid amount %q", a)
	}
	bv, ok := new(big.Int).SetString(b, 10)
	if !ok {
		return false, fmt.Errorf("hold: invalid amount %q", b)
	}
	return av.Cmp(bv) > 0, nil
}
