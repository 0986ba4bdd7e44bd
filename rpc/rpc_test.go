package rpc_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/lottochain/config"
	"github.com/tolelom/lottochain/consensus"
	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/indexer"
	"github.com/tolelom/lottochain/internal/testutil"
	"github.com/tolelom/lottochain/lotto"
	"github.com/tolelom/lottochain/metrics"
	"github.com/tolelom/lottochain/rpc"
	"github.com/tolelom/lottochain/vm"
	"github.com/tolelom/lottochain/wallet"

	_ "github.com/tolelom/lottochain/vm/modules/economy"
	_ "github.com/tolelom/lottochain/vm/modules/lottery"
)

const token = "s3cret"

type env struct {
	cfg    *config.Config
	clock  *clock.Mock
	poa    *consensus.PoA
	server *rpc.Server
	hub    *rpc.Hub
	client *rpc.Client
	player *wallet.Wallet
}

func newEnv(t *testing.T) *env {
	t.Helper()
	validator, err := wallet.Generate()
	require.NoError(t, err)
	player, err := wallet.Generate()
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Validators = []string{validator.PubKey()}
	cfg.Genesis.Alloc[player.PubKey()] = 10 * cfg.Lotto.EntryFee
	mock := clock.NewMock()
	mock.Set(time.Now())

	db := testutil.NewMemDB()
	st := testutil.NewStateDB()
	bc := core.NewBlockchain(testutil.NewMemBlockStore())
	genesis, err := config.CreateGenesisBlock(cfg, st, validator.PrivKey(), mock.Now().UnixNano())
	require.NoError(t, err)
	require.NoError(t, bc.AddBlock(genesis))

	machine, err := lotto.NewMachine(cfg.Lotto.Params())
	require.NoError(t, err)
	emitter := events.NewEmitter()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Attach(emitter)
	idx := indexer.New(db, emitter)
	mempool := core.NewMempool(mock)
	exec := vm.NewExecutor(st, emitter, machine, cfg.Genesis.ChainID)
	poa := consensus.New(cfg, bc, mempool, exec, emitter, validator.PrivKey(), mock)

	handler := rpc.NewHandler(bc, mempool, exec, idx, poa, cfg.Genesis.ChainID)
	hub := rpc.NewHub(emitter, m)
	server := rpc.NewServer("127.0.0.1:0", handler, token,
		rpc.WithHub(hub),
		rpc.WithMetrics(m, reg),
	)
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })

	return &env{
		cfg:    cfg,
		clock:  mock,
		poa:    poa,
		server: server,
		hub:    hub,
		client: rpc.NewClient("http://"+server.Addr(), token, nil),
		player: player,
	}
}

func (e *env) send(t *testing.T, tx *core.Transaction) error {
	t.Helper()
	var out map[string]string
	err := e.client.Call(context.Background(), "sendTx", tx, &out)
	if err == nil {
		assert.Equal(t, tx.ID, out["tx_id"])
	}
	return err
}

func rpcCode(t *testing.T, err error) int {
	t.Helper()
	var rpcErr *rpc.Error
	require.True(t, errors.As(err, &rpcErr), "want *rpc.Error, got %v", err)
	return rpcErr.Code
}

func TestLottoQueries(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var params rpc.ParamsView
	require.NoError(t, e.client.Call(ctx, "lotto_params", nil, &params))
	assert.Equal(t, e.cfg.Lotto.EntryFee, params.EntryFee)
	assert.Equal(t, "10m0s", params.JoinWindow)

	var id uint64
	require.NoError(t, e.client.Call(ctx, "lotto_currentSessionId", nil, &id))
	assert.Equal(t, uint64(1), id)

	var sess rpc.SessionView
	require.NoError(t, e.client.Call(ctx, "lotto_getSession", map[string]any{}, &sess))
	assert.Equal(t, "not_started", sess.Phase)
	assert.True(t, sess.Current)

	tk, err := lotto.NewTicket()
	require.NoError(t, err)
	tx, err := e.player.JoinLotto(e.cfg.Genesis.ChainID, tk.Commitment, e.cfg.Lotto.EntryFee, 0, 0)
	require.NoError(t, err)
	require.NoError(t, e.send(t, tx))

	var receipt indexer.Receipt
	require.NoError(t, e.client.Call(ctx, "getTxReceipt", map[string]string{"tx_id": tx.ID}, &receipt))
	assert.Equal(t, "pending", receipt.Status)

	_, err = e.poa.ProduceBlock()
	require.NoError(t, err)

	require.NoError(t, e.client.Call(ctx, "getTxReceipt", map[string]string{"tx_id": tx.ID}, &receipt))
	assert.Equal(t, indexer.StatusApplied, receipt.Status)

	require.NoError(t, e.client.Call(ctx, "lotto_getSession", map[string]any{"id": 1}, &sess))
	assert.Equal(t, "join", sess.Phase)
	assert.Equal(t, uint64(1), sess.ParticipantsLength)
	assert.NotZero(t, sess.Deadline)

	var ok bool
	require.NoError(t, e.client.Call(ctx, "lotto_isParticipating", map[string]any{"id": 1, "address": e.player.PubKey()}, &ok))
	assert.True(t, ok)

	var p core.LottoParticipant
	require.NoError(t, e.client.Call(ctx, "lotto_getParticipantState", map[string]any{"address": e.player.PubKey()}, &p))
	assert.Equal(t, tk.Commitment, p.Commitment)
	require.NoError(t, e.client.Call(ctx, "lotto_getParticipant", map[string]any{"id": 1, "index": 0}, &p))
	assert.Equal(t, e.player.PubKey(), p.User)

	err = e.client.Call(ctx, "lotto_indexOfParticipant", map[string]any{"id": 1, "address": "nobody"}, nil)
	assert.Equal(t, rpc.CodeLottoRejected, rpcCode(t, err))
	assert.Contains(t, err.Error(), lotto.ErrNotParticipating.Error())

	err = e.client.Call(ctx, "lotto_getSession", map[string]any{"id": 9}, &sess)
	assert.Equal(t, rpc.CodeLottoRejected, rpcCode(t, err))

	var mine map[string][]uint64
	require.NoError(t, e.client.Call(ctx, "lotto_getSessionsByPlayer", map[string]string{"address": e.player.PubKey()}, &mine))
	assert.Equal(t, []uint64{1}, mine["joined"])
	assert.Empty(t, mine["won"])

	var ended []core.SessionEnded
	require.NoError(t, e.client.Call(ctx, "lotto_getSessionEnded", map[string]any{}, &ended))
	assert.Empty(t, ended)
}

func TestSendTxSurfacesRejections(t *testing.T) {
	e := newEnv(t)
	chain := e.cfg.Genesis.ChainID

	tx, err := e.player.JoinLotto(chain, lotto.Commit("s", 1), e.cfg.Lotto.EntryFee-1, 0, 0)
	require.NoError(t, err)
	err = e.send(t, tx)
	assert.Equal(t, rpc.CodeLottoRejected, rpcCode(t, err))
	assert.Contains(t, err.Error(), lotto.ErrInvalidDeposit.Error())

	tx, err = e.player.OpenLotto(chain, "s", 1, 0, 0)
	require.NoError(t, err)
	err = e.send(t, tx)
	assert.Equal(t, rpc.CodeLottoRejected, rpcCode(t, err))
	assert.Contains(t, err.Error(), lotto.ErrNotRevealPhase.Error())

	tx, err = e.player.JoinLotto("other-chain", lotto.Commit("s", 1), e.cfg.Lotto.EntryFee, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, rpc.CodeInvalidParams, rpcCode(t, e.send(t, tx)))

	tx, err = e.player.NewTx(chain, "mint_asset", 0, 0, map[string]string{"template": "sword"})
	require.NoError(t, err)
	err = e.send(t, tx)
	assert.Equal(t, rpc.CodeInvalidParams, rpcCode(t, err))
	assert.Contains(t, err.Error(), vm.ErrUnknownTxType.Error())
}

func TestAuthToken(t *testing.T) {
	e := newEnv(t)
	anon := rpc.NewClient("http://"+e.server.Addr(), "", nil)
	err := anon.Call(context.Background(), "getBlockHeight", nil, nil)
	assert.Equal(t, rpc.CodeUnauthorized, rpcCode(t, err))

	var height int64
	require.NoError(t, e.client.Call(context.Background(), "getBlockHeight", nil, &height))
	assert.Equal(t, int64(0), height)

	var chainID string
	require.NoError(t, e.client.Call(context.Background(), "getChainId", nil, &chainID))
	assert.Equal(t, e.cfg.Genesis.ChainID, chainID)

	err = e.client.Call(context.Background(), "noSuchMethod", nil, nil)
	assert.Equal(t, rpc.CodeMethodNotFound, rpcCode(t, err))
}

func TestWebSocketFeed(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan rpc.PushMessage, 16)
	go func() {
		_ = e.client.Subscribe(ctx, func(m rpc.PushMessage) { got <- m })
	}()

	tx, err := e.player.JoinLotto(e.cfg.Genesis.ChainID, lotto.Commit("s", 1), e.cfg.Lotto.EntryFee, 0, 0)
	require.NoError(t, err)
	require.NoError(t, e.send(t, tx))

	require.Eventually(t, func() bool { return e.hub.Clients() == 1 }, 3*time.Second, 10*time.Millisecond)
	_, err = e.poa.ProduceBlock()
	require.NoError(t, err)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case m := <-got:
			if m.Type == string(events.EventLottoJoined) {
				assert.Equal(t, uint64(1), m.SessionID)
				return
			}
		case <-deadline:
			t.Fatal("no lotto_joined push received")
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.client.Call(context.Background(), "getMempoolSize", nil, nil))

	resp, err := http.Get("http://" + e.server.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "lottochain_rpc_request_duration_seconds")
}
