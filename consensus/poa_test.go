package consensus_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/lottochain/config"
	"github.com/tolelom/lottochain/consensus"
	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/internal/testutil"
	"github.com/tolelom/lottochain/lotto"
	"github.com/tolelom/lottochain/vm"
	"github.com/tolelom/lottochain/wallet"

	_ "github.com/tolelom/lottochain/vm/modules/economy"
	_ "github.com/tolelom/lottochain/vm/modules/lottery"
)

type node struct {
	cfg     *config.Config
	clock   *clock.Mock
	bc      *core.Blockchain
	mempool *core.Mempool
	exec    *vm.Executor
	emitter *events.Emitter
	poa     *consensus.PoA
	players []*wallet.Wallet
	key     *wallet.Wallet
}

func newNode(t *testing.T, players int) *node {
	t.Helper()
	validator, err := wallet.Generate()
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Validators = []string{validator.PubKey()}
	n := &node{cfg: cfg, clock: clock.NewMock(), key: validator}
	n.clock.Set(time.Now())
	for i := 0; i < players; i++ {
		w, err := wallet.Generate()
		require.NoError(t, err)
		cfg.Genesis.Alloc[w.PubKey()] = 10 * cfg.Lotto.EntryFee
		n.players = append(n.players, w)
	}

	st := testutil.NewStateDB()
	n.bc = core.NewBlockchain(testutil.NewMemBlockStore())
	genesis, err := config.CreateGenesisBlock(cfg, st, validator.PrivKey(), n.clock.Now().UnixNano())
	require.NoError(t, err)
	require.NoError(t, n.bc.AddBlock(genesis))

	machine, err := lotto.NewMachine(cfg.Lotto.Params())
	require.NoError(t, err)
	n.emitter = events.NewEmitter()
	n.mempool = core.NewMempool(n.clock)
	n.exec = vm.NewExecutor(st, n.emitter, machine, cfg.Genesis.ChainID)
	n.poa = consensus.New(cfg, n.bc, n.mempool, n.exec, n.emitter, validator.PrivKey(), n.clock)
	return n
}

func (n *node) submit(t *testing.T, tx *core.Transaction) {
	t.Helper()
	require.NoError(t, n.poa.Preflight(tx))
	require.NoError(t, n.mempool.Add(tx))
}

func (n *node) session(t *testing.T, id uint64) *core.LottoSession {
	t.Helper()
	var sess *core.LottoSession
	require.NoError(t, n.exec.View(func(st core.State) error {
		var err error
		sess, err = lotto.Session(st, id)
		return err
	}))
	return sess
}

func TestProduceBlockStampsClockTime(t *testing.T) {
	n := newNode(t, 1)
	chain := n.cfg.Genesis.ChainID
	p := n.players[0]

	_, err := n.poa.ProduceBlock()
	assert.ErrorIs(t, err, consensus.ErrNoPending)

	tx, err := p.JoinLotto(chain, lotto.Commit("s", 1), n.cfg.Lotto.EntryFee, 0, 0)
	require.NoError(t, err)
	n.submit(t, tx)
	n.clock.Add(time.Second)

	block, err := n.poa.ProduceBlock()
	require.NoError(t, err)
	assert.Equal(t, int64(1), block.Header.Height)
	assert.Equal(t, n.clock.Now().UnixNano(), block.Header.Timestamp)
	assert.Len(t, block.Transactions, 1)
	assert.Equal(t, 0, n.mempool.Size())
	assert.Equal(t, block.Hash, n.bc.Tip().Hash)
}

func TestLotteryRoundOverBlocks(t *testing.T) {
	n := newNode(t, 3)
	chain := n.cfg.Genesis.ChainID
	fee := n.cfg.Lotto.EntryFee

	tickets := make([]*lotto.Ticket, len(n.players))
	for i, p := range n.players[:2] {
		tk, err := lotto.NewTicket()
		require.NoError(t, err)
		tickets[i] = tk
		tx, err := p.JoinLotto(chain, tk.Commitment, fee, 0, 0)
		require.NoError(t, err)
		n.submit(t, tx)
	}
	_, err := n.poa.ProduceBlock()
	require.NoError(t, err)
	assert.Equal(t, core.PhaseJoin, n.session(t, 1).Phase)

	// A wrong deposit is refused before it reaches the mempool.
	bad, err := n.players[2].JoinLotto(chain, lotto.Commit("x", 1), fee+1, 0, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, n.poa.Preflight(bad), lotto.ErrInvalidDeposit)

	// The third player joins after the window and flips the session.
	n.clock.Add(11 * time.Minute)
	tk, err := lotto.NewTicket()
	require.NoError(t, err)
	tickets[2] = tk
	late, err := n.players[2].JoinLotto(chain, tk.Commitment, fee, 0, 0)
	require.NoError(t, err)
	n.submit(t, late)
	_, err = n.poa.ProduceBlock()
	require.NoError(t, err)

	sess := n.session(t, 1)
	assert.Equal(t, core.PhaseReveal, sess.Phase)
	assert.Equal(t, uint64(3), sess.ParticipantsLength)

	for i, p := range n.players {
		tx, err := p.OpenLotto(chain, tickets[i].Secret, tickets[i].Message, 1, 0)
		require.NoError(t, err)
		n.submit(t, tx)
	}
	_, err = n.poa.ProduceBlock()
	require.NoError(t, err)

	sess = n.session(t, 1)
	assert.Equal(t, core.PhaseFinished, sess.Phase)

	var ended *core.SessionEnded
	require.NoError(t, n.exec.View(func(st core.State) error {
		var err error
		ended, err = st.GetSessionEnded(1)
		return err
	}))
	sum := tickets[0].Message + tickets[1].Message + tickets[2].Message
	assert.Equal(t, n.players[sum%3].PubKey(), ended.Winner)
	assert.Equal(t, 3*fee, ended.Reward)
	assert.Equal(t, core.PhaseNotStarted, n.session(t, 2).Phase)
}

func TestRejectedTxIsDroppedNotBlocking(t *testing.T) {
	n := newNode(t, 2)
	chain := n.cfg.Genesis.ChainID
	fee := n.cfg.Lotto.EntryFee

	var rejected []events.Event
	n.emitter.Subscribe(func(ev events.Event) { rejected = append(rejected, ev) }, events.EventTxRejected)

	a, err := n.players[0].JoinLotto(chain, lotto.Commit("a", 1), fee, 0, 0)
	require.NoError(t, err)
	c, err := n.players[0].JoinLotto(chain, lotto.Commit("a", 2), fee, 1, 0)
	require.NoError(t, err)
	b, err := n.players[0].ForceLotto(chain, 1, 0)
	require.NoError(t, err)
	d, err := n.players[1].JoinLotto(chain, lotto.Commit("b", 1), fee, 0, 0)
	require.NoError(t, err)
	for _, tx := range []*core.Transaction{a, c, b, d} {
		require.NoError(t, n.mempool.Add(tx))
	}

	block, err := n.poa.ProduceBlock()
	require.NoError(t, err)
	// a opens and joins, c duplicates it, b moves to reveal, d is too late.
	assert.Len(t, block.Transactions, 2)
	require.Len(t, rejected, 2)
	assert.Contains(t, rejected[0].Data["error"], lotto.ErrAlreadyParticipating.Error())
	assert.Contains(t, rejected[1].Data["error"], lotto.ErrNotJoinPhase.Error())
	assert.Equal(t, 0, n.mempool.Size())
}

func TestRunProducesOnTicks(t *testing.T) {
	n := newNode(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.poa.Run(ctx, time.Second)
	}()

	tx, err := n.players[0].Transfer(n.cfg.Genesis.ChainID, "someone", 1, 0, 0)
	require.NoError(t, err)
	n.submit(t, tx)

	require.Eventually(t, func() bool {
		n.clock.Add(time.Second)
		return n.bc.Height() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestBlockTimestampsStrictlyIncrease(t *testing.T) {
	n := newNode(t, 2)
	chain := n.cfg.Genesis.ChainID
	genesis := n.bc.Tip()

	// The clock does not move between blocks.
	last := genesis.Header.Timestamp
	for i, p := range n.players {
		tx, err := p.JoinLotto(chain, lotto.Commit("s", uint64(i)), n.cfg.Lotto.EntryFee, 0, 0)
		require.NoError(t, err)
		n.submit(t, tx)
		block, err := n.poa.ProduceBlock()
		require.NoError(t, err)
		assert.Greater(t, block.Header.Timestamp, last)
		last = block.Header.Timestamp
	}

	stale := core.NewBlockAt(n.bc.Height()+1, n.bc.Tip().Hash, n.cfg.Validators[0], nil, last)
	stale.Sign(n.key.PrivKey())
	assert.ErrorIs(t, n.poa.ValidateBlock(stale), core.ErrBadLink)
}
