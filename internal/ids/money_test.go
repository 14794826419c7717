package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewMoneyNormalizesCurrency(t *testing.T) {
	m, err := NewMoney("500000", " usd ")
	require.NoError(t, err)
	require.Equal(t, "USD", m.Currency)
	require.Equal(t, "500000", m.MinorString())
}

func TestNewMoneyRejectsNegative(t *testing.T) {
	_, err := NewMoney("-1", "USD")
	require.Error(t, err)
}

func TestNewMoneyRejectsGarbageAmount(t *testing.T) {
	_, err := NewMoney("not-a-number", "USD")
	require.Error(t, err)
}

func TestMoneyAddRequiresMatchingCurrency(t *testing.T) {
	a, _ := NewMoney("100", "USD")
	b, _ := NewMoney("100", "EUR")
	_, err := a.Add(b)
	require.Error(t, err)

	c, _ := NewMoney("50", "USD")
	sum, err := a.Add(c)
	require.NoError(t, err)
	require.Equal(t, "150", sum.MinorString())
}

func TestMoneyGreaterThan(t *testing.T) {
	a, _ := NewMoney("500000000", "USD")
	cap, _ := NewMoney("10000000", "USD")
	require.True(t, a.GreaterThan(cap))
	require.False(t, cap.GreaterThan(a))
}

func TestIDKindAndValid(t *testing.T) {
	id := New(KindPayment)
	require.Equal(t, KindPayment, id.Kind())
	require.True(t, id.Valid(KindPayment))
	require.False(t, id.Valid(KindMandate))
}
