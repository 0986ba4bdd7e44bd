// Package metrics exports chain and lottery activity to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tolelom/lottochain/events"
)

const namespace = "lottochain"

// Metrics holds every collector the node exports.
type Metrics struct {
	BlockHeight   prometheus.Gauge
	Txs           *prometheus.CounterVec
	Joins         prometheus.Counter
	Reveals       prometheus.Counter
	PhaseChanges  *prometheus.CounterVec
	SessionsEnded *prometheus.CounterVec
	Payouts       prometheus.Counter
	CurrentPool   prometheus.Gauge
	RPCDuration   *prometheus.HistogramVec
	WSClients     prometheus.Gauge

	subs []events.Subscription
}

// New registers the collectors with reg. Use prometheus.DefaultRegisterer
// in the node and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BlockHeight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "chain", Name: "height",
			Help: "Height of the latest committed block",
		}),
		Txs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chain", Name: "txs_total",
			Help: "Transactions processed by the block producer",
		}, []string{"type", "status"}),
		Joins: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lotto", Name: "joins_total",
			Help: "Accepted joins across all sessions",
		}),
		Reveals: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lotto", Name: "reveals_total",
			Help: "Accepted commitment openings",
		}),
		PhaseChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lotto", Name: "phase_changes_total",
			Help: "Session phase transitions by target phase",
		}, []string{"to"}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lotto", Name: "sessions_ended_total",
			Help: "Finished sessions by outcome",
		}, []string{"outcome"}),
		Payouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lotto", Name: "payout_units_total",
			Help: "Base units paid to winners",
		}),
		CurrentPool: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "lotto", Name: "current_participants",
			Help: "Participants in the session currently accepting joins",
		}),
		RPCDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "rpc", Name: "request_duration_seconds",
			Help:    "JSON-RPC latency by method and outcome",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"method", "outcome"}),
		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "rpc", Name: "ws_clients",
			Help: "Connected WebSocket subscribers",
		}),
	}
}

// Attach feeds the collectors from emitter.
func (m *Metrics) Attach(emitter *events.Emitter) {
	m.subs = append(m.subs, emitter.SubscribeAll(m.observe))
}

// Detach stops observing emitter.
func (m *Metrics) Detach(emitter *events.Emitter) {
	for _, s := range m.subs {
		emitter.Unsubscribe(s)
	}
	m.subs = nil
}

// ObserveRPC records one JSON-RPC call.
func (m *Metrics) ObserveRPC(method string, failed bool, d time.Duration) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.RPCDuration.WithLabelValues(method, outcome).Observe(d.Seconds())
}

func (m *Metrics) observe(ev events.Event) {
	switch ev.Type {
	case events.EventBlockCommit:
		m.BlockHeight.Set(float64(ev.BlockHeight))
	case events.EventTxExecuted:
		typ, _ := ev.Data["type"].(string)
		m.Txs.WithLabelValues(typ, "applied").Inc()
	case events.EventTxRejected:
		typ, _ := ev.Data["type"].(string)
		m.Txs.WithLabelValues(typ, "rejected").Inc()
	case events.EventLottoJoined:
		m.Joins.Inc()
		if idx, ok := ev.Data["index"].(uint64); ok {
			m.CurrentPool.Set(float64(idx + 1))
		}
	case events.EventLottoRevealed:
		m.Reveals.Inc()
	case events.EventLottoPhase:
		to, _ := ev.Data["to"].(string)
		m.PhaseChanges.WithLabelValues(to).Inc()
	case events.EventLottoSessionEnded:
		m.CurrentPool.Set(0)
		if w, _ := ev.Data["winner"].(string); w != "" {
			m.SessionsEnded.WithLabelValues("won").Inc()
			if r, ok := ev.Data["reward"].(uint64); ok {
				m.Payouts.Add(float64(r))
			}
			return
		}
		m.SessionsEnded.WithLabelValues("refunded").Inc()
	}
}
