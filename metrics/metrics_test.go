package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/metrics"
)

func TestMetricsFollowEvents(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	em := events.NewEmitter()
	m.Attach(em)

	em.Emit(events.Event{Type: events.EventLottoJoined, Data: map[string]any{"index": uint64(0)}})
	em.Emit(events.Event{Type: events.EventLottoJoined, Data: map[string]any{"index": uint64(1)}})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Joins))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CurrentPool))

	em.Emit(events.Event{Type: events.EventLottoPhase, Data: map[string]any{"to": "reveal"}})
	em.Emit(events.Event{Type: events.EventLottoRevealed})
	em.Emit(events.Event{Type: events.EventLottoSessionEnded,
		Data: map[string]any{"winner": "alice", "reward": uint64(2_000_000)}})
	em.Emit(events.Event{Type: events.EventLottoSessionEnded, Data: map[string]any{"winner": ""}})
	em.Emit(events.Event{Type: events.EventTxRejected, Data: map[string]any{"type": "lotto_open"}})
	em.Emit(events.Event{Type: events.EventBlockCommit, BlockHeight: 7})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PhaseChanges.WithLabelValues("reveal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reveals))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsEnded.WithLabelValues("won")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsEnded.WithLabelValues("refunded")))
	assert.Equal(t, 2_000_000.0, testutil.ToFloat64(m.Payouts))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CurrentPool))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Txs.WithLabelValues("lotto_open", "rejected")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.BlockHeight))

	m.Detach(em)
	em.Emit(events.Event{Type: events.EventLottoRevealed})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reveals))
}

func TestObserveRPC(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ObserveRPC("lotto_getSession", false, time.Millisecond)
	m.ObserveRPC("sendTx", true, time.Millisecond)
	assert.Equal(t, 2, testutil.CollectAndCount(m.RPCDuration))
}
