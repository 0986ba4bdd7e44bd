package lotto_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/internal/testutil"
	"github.com/tolelom/lottochain/lotto"
)

func TestEscrowReleaseOnce(t *testing.T) {
	st := testutil.NewStateDB()
	require.NoError(t, st.SetAccount(&core.Account{Address: "a", Balance: 100}))
	esc := lotto.NewEscrow(st)

	require.NoError(t, esc.Deposit(1, "a", 40))
	require.NoError(t, esc.Deposit(1, "a", 40))
	bal, err := esc.Balance(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(80), bal)

	paid, err := esc.Release(1, "b")
	require.NoError(t, err)
	assert.Equal(t, uint64(80), paid)

	_, err = esc.Release(1, "b")
	assert.ErrorIs(t, err, lotto.ErrEscrowReleased)
	err = esc.Deposit(1, "a", 10)
	assert.ErrorIs(t, err, lotto.ErrEscrowReleased)

	b, err := st.GetAccount("b")
	require.NoError(t, err)
	assert.Equal(t, uint64(80), b.Balance)
}

func TestEscrowRefundMustMatchPool(t *testing.T) {
	st := testutil.NewStateDB()
	require.NoError(t, st.SetAccount(&core.Account{Address: "a", Balance: 10}))
	require.NoError(t, st.SetAccount(&core.Account{Address: "b", Balance: 10}))
	esc := lotto.NewEscrow(st)
	require.NoError(t, esc.Deposit(3, "a", 5))
	require.NoError(t, esc.Deposit(3, "b", 5))

	assert.Error(t, esc.Refund(3, []string{"a", "b"}, 4))
	require.NoError(t, esc.Refund(3, []string{"a", "b"}, 5))

	a, err := st.GetAccount("a")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), a.Balance)
}

func TestEscrowInsufficientFunds(t *testing.T) {
	st := testutil.NewStateDB()
	err := lotto.NewEscrow(st).Deposit(1, "nobody", 1)
	assert.ErrorIs(t, err, lotto.ErrInsufficientFunds)
}
