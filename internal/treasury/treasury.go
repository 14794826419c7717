// Package treasury implements the wallet balance ledger backing the
// POST /v2/treasury/fund, POST /v2/treasury/withdraw and
// GET /v2/treasury/balances endpoints. Grounded on the same row-locked
// read-modify-write discipline as internal/hold and internal/payment;
// amounts use math/big minor-unit strings rather than internal/ids.Money
// since a balance is a running total, not a single paired amount.
package treasury

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sardis/internal/ledger"
	"sardis/internal/store"
)

// ErrInsufficientBalance is returned when a withdrawal would drive a
// wallet's balance negative.
var ErrInsufficientBalance = errors.New("treasury: insufficient balance")

// Ledger is the wallet balance manager.
type Ledger struct {
	db     *gorm.DB
	ledger *ledger.Ledger
}

// New constructs a Ledger.
func New(db *gorm.DB, l *ledger.Ledger) *Ledger {
	return &Ledger{db: db, ledger: l}
}

// Fund credits amountMinor of currency to walletID.
func (t *Ledger) Fund(orgID, walletID, amountMinor, currency string) (string, error) {
	return t.adjust(orgID, walletID, amountMinor, currency, true)
}

// Withdraw debits amountMinor of currency from walletID, failing if the
// resulting balance would go negative.
func (t *Ledger) Withdraw(orgID, walletID, amountMinor, currency string) (string, error) {
	return t.adjust(orgID, walletID, amountMinor, currency, false)
}

func (t *Ledger) adjust(orgID, walletID, amountMinor, currency string, credit bool) (string, error) {
	delta, ok := new(big.Int).SetString(amountMinor, 10)
	if !ok || delta.Sign() < 0 {
		return "", fmt.Errorf("treasury: invalid amount %q", amountMinor)
	}
	var newBalance string
	err := t.db.Transaction(func(tx *gorm.DB) error {
		var bal store.WalletBalance
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("org_id = ? AND wallet_id = ? AND currency = ?", orgID, walletID, currency).
			First(&bal).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			bal = store.WalletBalance{OrgID: orgID, WalletID: walletID, Currency: currency, BalanceMinor: "0"}
		case err != nil:
			return err
		}
		current, ok := new(big.Int).SetString(bal.BalanceMinor, 10)
		if !ok {
			return fmt.Errorf("treasury: corrupt balance %q", bal.BalanceMinor)
		}
		next := new(big.Int)
		if credit {
			next.Add(current, delta)
		} else {
			next.Sub(current, delta)
			if next.Sign() < 0 {
				return ErrInsufficientBalance
			}
		}
		bal.BalanceMinor = next.String()
		bal.UpdatedAt = time.Now().UTC()
		newBalance = bal.BalanceMinor
		if err := tx.Save(&bal).Error; err != nil {
			return err
		}
		kind := ledger.KindPaymentStateTransition
		_, err = t.ledger.Append(orgID, kind, map[string]any{
			"wallet_id": walletID, "currency": currency, "delta_minor": amountMinor,
			"credit": credit, "balance_minor": next.String(),
		})
		if err != nil && !errors.Is(err, ledger.ErrDurableStoreUnavailable) {
			return err
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return newBalance, nil
}

// Balances returns every currency balance held by walletID.
func (t *Ledger) Balances(orgID, walletID string) ([]store.WalletBalance, error) {
	var balances []store.WalletBalance
	if err := t.db.Where("org_id = ? AND wallet_id = ?", orgID, walletID).Find(&balances).Error; err != nil {
		return nil, err
	}
	return balances, nil
}
