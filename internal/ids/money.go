package ids

import (
	"fmt"
	"math/big"
	"strings"
)

// Money is an amount expressed in minor units of an ISO-4217 currency.
// No floating point arithmetic ever touches the money path; all arithmetic
// here is done over big.Int so amounts cannot silently lose precision at
// any scale, following the normalization discipline of the teacher's
// MintVoucher.AmountBig.
type Money struct {
	AmountMinor *big.Int
	Currency    string
}

// NewMoney parses a decimal minor-unit string and an ISO-4217 currency code.
func NewMoney(amountMinor string, currency string) (Money, error) {
	trimmed := strings.TrimSpace(amountMinor)
	if trimmed == "" {
		return Money{}, fmt.Errorf("ids: amount_minor required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return Money{}, fmt.Errorf("ids: invalid amount_minor: %s", amountMinor)
	}
	if value.Sign() < 0 {
		return Money{}, fmt.Errorf("ids: amount_minor must not be negative")
	}
	cur := NormalizeCurrency(currency)
	if len(cur) != 3 {
		return Money{}, fmt.Errorf("ids: invalid currency code: %s", currency)
	}
	return Money{AmountMinor: value, Currency: cur}, nil
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// Add returns m+other. Both must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("ids: currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountMinor: new(big.Int).Add(m.AmountMinor, other.AmountMinor), Currency: m.Currency}, nil
}

// Sub returns m-other. Both must share a currency.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("ids: currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountMinor: new(big.Int).Sub(m.AmountMinor, other.AmountMinor), Currency: m.Currency}, nil
}

// GreaterThan reports m > other. Both must share a currency.
func (m Money) GreaterThan(other Money) bool {
	return m.Currency == other.Currency && m.AmountMinor.Cmp(other.AmountMinor) > 0
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool {
	return m.AmountMinor == nil || m.AmountMinor.Sign() == 0
}

// String renders "<amount><CUR>", e.g. "500000USD".
func (m Money) String() string {
	if m.AmountMinor == nil {
		return "0" + m.Currency
	}
	return m.AmountMinor.String() + m.Currency
}

// MinorString returns the amount as a plain base-10 string, suitable for
// canonical JSON encoding on the money path.
func (m Money) MinorString() string {
	if m.AmountMinor == nil {
		return "0"
	}
	return m.AmountMinor.String()
}
