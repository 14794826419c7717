package treasury

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sardis/internal/ledger"
	"sardis/internal/store/storetest"
)

func TestFundCreditsNewWallet(t *testing.T) {
	db := storetest.NewDB(t)
	tr := New(db, ledger.New(db, nil))

	bal, err := tr.Fund("org_1", "wallet_1", "5000", "USD")
	require.NoError(t, err)
	require.Equal(t, "5000", bal)
}

func TestWithdrawDebitsExistingWallet(t *testing.T) {
	db := storetest.NewDB(t)
	tr := New(db, ledger.New(db, nil))

	_, err := tr.Fund("org_1", "wallet_1", "5000", "USD")
	require.NoError(t, err)

	bal, err := tr.Withdraw("org_1", "wallet_1", "2000", "USD")
	require.NoError(t, err)
	require.Equal(t, "3000", bal)
}

func TestWithdrawRejectsInsufficientBalance(t *testing.T) {
	db := storetest.NewDB(t)
	tr := New(db, ledger.New(db, nil))

	_, err := tr.Fund("org_1", "wallet_1", "1000", "USD")
	require.NoError(t, err)

	_, err = tr.Withdraw("org_1", "wallet_1", "2000", "USD")
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestBalancesReturnsPerCurrencyRows(t *testing.T) {
	db := storetest.NewDB(t)
	tr := New(db, ledger.New(db, nil))

	_, err := tr.Fund("org_1", "wallet_1", "5000", "USD")
	require.NoError(t, err)
	_, err = tr.Fund("org_1", "wallet_1", "300", "EUR")
	require.NoError(t, err)

	balances, err := tr.Balances("org_1", "wallet_1")
	require.NoError(t, err)
	require.Len(t, balances, 2)
}
