package vm_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/internal/testutil"
	"github.com/tolelom/lottochain/lotto"
	"github.com/tolelom/lottochain/vm"
	"github.com/tolelom/lottochain/wallet"

	// Register VM modules
	_ "github.com/tolelom/lottochain/vm/modules/economy"
	_ "github.com/tolelom/lottochain/vm/modules/lottery"
)

const chainID = "lotto-test"

type harness struct {
	state   core.State
	emitter *events.Emitter
	exec    *vm.Executor
	params  lotto.Params
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	params := lotto.DefaultParams()
	m, err := lotto.NewMachine(params)
	require.NoError(t, err)
	st := testutil.NewStateDB()
	em := events.NewEmitter()
	return &harness{state: st, emitter: em, exec: vm.NewExecutor(st, em, m, chainID), params: params}
}

func (h *harness) fund(t *testing.T, w *wallet.Wallet, amount uint64) {
	t.Helper()
	require.NoError(t, h.state.SetAccount(&core.Account{Address: w.PubKey(), Balance: amount}))
}

func blockAt(height int64, ts time.Time) *core.Block {
	return core.NewBlockAt(height, "0000", "proposer", nil, ts.UnixNano())
}

func TestTokenTransfer(t *testing.T) {
	h := newHarness(t)
	sender, _ := wallet.Generate()
	receiver, _ := wallet.Generate()
	h.fund(t, sender, 1000)

	tx, err := sender.Transfer(chainID, receiver.PubKey(), 300, 0, 0)
	require.NoError(t, err)
	require.NoError(t, h.exec.ExecuteTx(blockAt(1, time.Now()), tx))

	senderAcc, _ := h.state.GetAccount(sender.PubKey())
	assert.Equal(t, uint64(700), senderAcc.Balance)
	receiverAcc, _ := h.state.GetAccount(receiver.PubKey())
	assert.Equal(t, uint64(300), receiverAcc.Balance)
}

func TestNonceReplay(t *testing.T) {
	h := newHarness(t)
	w, _ := wallet.Generate()
	h.fund(t, w, 1000)

	tx, err := w.Transfer(chainID, "someone", 1, 0, 0)
	require.NoError(t, err)
	block := blockAt(1, time.Now())
	require.NoError(t, h.exec.ExecuteTx(block, tx))
	assert.ErrorIs(t, h.exec.ExecuteTx(block, tx), vm.ErrBadNonce)
}

func TestWrongChainRejected(t *testing.T) {
	h := newHarness(t)
	w, _ := wallet.Generate()
	h.fund(t, w, 1000)

	tx, err := w.Transfer("other-chain", "someone", 1, 0, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, h.exec.ExecuteTx(blockAt(1, time.Now()), tx), vm.ErrWrongChain)
}

func TestFailedTxRollsBackFeeAndNonce(t *testing.T) {
	h := newHarness(t)
	w, _ := wallet.Generate()
	h.fund(t, w, 10)

	tx, err := w.JoinLotto(chainID, lotto.Commit("s", 1), h.params.EntryFee, 0, 5)
	require.NoError(t, err)
	err = h.exec.ExecuteTx(blockAt(1, time.Now()), tx)
	assert.ErrorIs(t, err, lotto.ErrInsufficientFunds)

	acc, _ := h.state.GetAccount(w.PubKey())
	assert.Equal(t, uint64(10), acc.Balance)
	assert.Equal(t, uint64(0), acc.Nonce)
}

func TestLotteryRoundThroughExecutor(t *testing.T) {
	h := newHarness(t)
	fee := h.params.EntryFee

	var got []events.Event
	var mu sync.Mutex
	h.emitter.SubscribeAll(func(ev events.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})

	players := make([]*wallet.Wallet, 3)
	tickets := make([]*lotto.Ticket, 3)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range players {
		players[i], _ = wallet.Generate()
		h.fund(t, players[i], 5*fee)
		tickets[i] = &lotto.Ticket{Secret: "secret", Message: uint64(i + 1)}
		tickets[i].Commitment = lotto.Commit(tickets[i].Secret, tickets[i].Message)
	}

	for i, p := range players {
		tx, err := p.JoinLotto(chainID, tickets[i].Commitment, fee, 0, 0)
		require.NoError(t, err)
		require.NoError(t, h.exec.ExecuteTx(blockAt(1, start.Add(time.Duration(i)*time.Minute)), tx))
	}

	// Window elapsed: the first reveal trips the phase change.
	revealAt := start.Add(15 * time.Minute)
	for i, p := range players {
		tx, err := p.OpenLotto(chainID, tickets[i].Secret, tickets[i].Message, 1, 0)
		require.NoError(t, err)
		require.NoError(t, h.exec.ExecuteTx(blockAt(2, revealAt), tx))
	}

	var ended *core.SessionEnded
	require.NoError(t, h.exec.View(func(st core.State) error {
		var err error
		ended, err = st.GetSessionEnded(1)
		return err
	}))
	assert.Equal(t, players[0].PubKey(), ended.Winner)
	assert.Equal(t, 3*fee, ended.Reward)

	types := map[events.EventType]int{}
	mu.Lock()
	for _, ev := range got {
		types[ev.Type]++
	}
	mu.Unlock()
	assert.Equal(t, 3, types[events.EventLottoJoined])
	assert.Equal(t, 1, types[events.EventLottoRevealStarted])
	assert.Equal(t, 3, types[events.EventLottoRevealed])
	assert.Equal(t, 1, types[events.EventLottoSessionEnded])
	assert.Equal(t, 6, types[events.EventTxExecuted])
}

func TestSimulateLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	w, _ := wallet.Generate()
	h.fund(t, w, 5*h.params.EntryFee)

	var count int
	h.emitter.SubscribeAll(func(events.Event) { count++ })

	tx, err := w.JoinLotto(chainID, lotto.Commit("s", 1), h.params.EntryFee, 0, 0)
	require.NoError(t, err)
	require.NoError(t, h.exec.Simulate(blockAt(1, time.Now()), tx))

	acc, _ := h.state.GetAccount(w.PubKey())
	assert.Equal(t, 5*h.params.EntryFee, acc.Balance)
	assert.Zero(t, count)

	bad, err := w.JoinLotto(chainID, lotto.Commit("s", 1), 1, 0, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, h.exec.Simulate(blockAt(1, time.Now()), bad), lotto.ErrInvalidDeposit)
}

func TestExecuteCandidatesDropsFailures(t *testing.T) {
	h := newHarness(t)
	w, _ := wallet.Generate()
	h.fund(t, w, 1000)

	ok, _ := w.Transfer(chainID, "a", 10, 0, 0)
	bad, _ := w.Transfer(chainID, "b", 5000, 1, 0)
	ok2, _ := w.Transfer(chainID, "c", 10, 1, 0)

	var rejectedEvents int
	h.emitter.Subscribe(func(events.Event) { rejectedEvents++ }, events.EventTxRejected)

	applied, rejected := h.exec.ExecuteCandidates(blockAt(1, time.Now()), []*core.Transaction{ok, bad, ok2})
	require.Len(t, applied, 2)
	require.Len(t, rejected, 1)
	assert.Equal(t, bad.ID, rejected[0].Tx.ID)
	assert.Equal(t, 1, rejectedEvents)

	acc, _ := h.state.GetAccount(w.PubKey())
	assert.Equal(t, uint64(980), acc.Balance)
	assert.Equal(t, uint64(2), acc.Nonce)
}

func TestExecuteBlockIsAllOrNothing(t *testing.T) {
	h := newHarness(t)
	w, _ := wallet.Generate()
	h.fund(t, w, 1000)

	ok, _ := w.Transfer(chainID, "a", 10, 0, 0)
	bad, _ := w.Transfer(chainID, "b", 5000, 1, 0)
	block := core.NewBlockAt(1, "0000", "p", []*core.Transaction{ok, bad}, time.Now().UnixNano())

	require.Error(t, h.exec.ExecuteBlock(block))
	acc, _ := h.state.GetAccount(w.PubKey())
	assert.Equal(t, uint64(1000), acc.Balance)
	assert.Equal(t, uint64(0), acc.Nonce)
}

func TestUnknownTxTypeChargesNothing(t *testing.T) {
	h := newHarness(t)
	w, _ := wallet.Generate()
	h.fund(t, w, 1000)

	tx, err := w.NewTx(chainID, "mint_asset", 0, 5, map[string]string{"template": "sword"})
	require.NoError(t, err)
	assert.ErrorIs(t, h.exec.ExecuteTx(blockAt(1, time.Now()), tx), vm.ErrUnknownTxType)

	acc, _ := h.state.GetAccount(w.PubKey())
	assert.Equal(t, uint64(1000), acc.Balance)
	assert.Equal(t, uint64(0), acc.Nonce)
}

func TestJoinAfterRevealWindowEndsPreviousSession(t *testing.T) {
	h := newHarness(t)
	fee := h.params.EntryFee
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var ended []events.Event
	h.emitter.Subscribe(func(ev events.Event) { ended = append(ended, ev) }, events.EventLottoSessionEnded)

	quiet, _ := wallet.Generate()
	latecomer, _ := wallet.Generate()
	h.fund(t, quiet, 5*fee)
	h.fund(t, latecomer, 5*fee)

	tx, err := quiet.JoinLotto(chainID, lotto.Commit("s", 7), fee, 0, 0)
	require.NoError(t, err)
	require.NoError(t, h.exec.ExecuteTx(blockAt(1, start), tx))

	// Join window lapses at +10m; the reveal window nobody uses at +25m.
	force, err := quiet.ForceLotto(chainID, 1, 0)
	require.NoError(t, err)
	require.NoError(t, h.exec.ExecuteTx(blockAt(2, start.Add(15*time.Minute)), force))

	tx, err = latecomer.JoinLotto(chainID, lotto.Commit("t", 8), fee, 0, 0)
	require.NoError(t, err)
	require.NoError(t, h.exec.ExecuteTx(blockAt(3, start.Add(time.Hour)), tx))

	require.Len(t, ended, 1)
	assert.Equal(t, uint64(1), ended[0].Data["session_id"])
	assert.Equal(t, true, ended[0].Data["refunded"])

	require.NoError(t, h.exec.View(func(st core.State) error {
		id, err := lotto.CurrentSessionID(st)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), id)
		ok, err := lotto.NewRegistry(st).IsParticipating(2, latecomer.PubKey())
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	}))
}
