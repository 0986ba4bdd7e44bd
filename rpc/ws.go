package rpc

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/metrics"
)

const (
	wsSendBuffer = 64
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// pushed lists the events forwarded to WebSocket clients.
var pushed = []events.EventType{
	events.EventBlockCommit,
	events.EventBlockAbandoned,
	events.EventLottoJoined,
	events.EventLottoRevealStarted,
	events.EventLottoRevealed,
	events.EventLottoPhase,
	events.EventLottoSessionEnded,
	events.EventTxRejected,
}

type wsClient struct {
	id   string
	send chan PushMessage
}

// Hub fans chain events out to WebSocket subscribers. Emit runs on the
// block producer's goroutine, so delivery never blocks: a client whose
// buffer is full is disconnected.
type Hub struct {
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics

	mu      sync.Mutex
	clients map[string]*wsClient
	sub     events.Subscription
	emitter *events.Emitter
}

// NewHub subscribes a Hub to emitter. m may be nil.
func NewHub(emitter *events.Emitter, m *metrics.Metrics) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		metrics: m,
		clients: make(map[string]*wsClient),
		emitter: emitter,
	}
	h.sub = emitter.Subscribe(h.broadcast, pushed...)
	return h
}

// Close unsubscribes and disconnects every client.
func (h *Hub) Close() {
	h.emitter.Unsubscribe(h.sub)
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.send)
		delete(h.clients, id)
	}
	h.gauge()
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) gauge() {
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(len(h.clients)))
	}
}

func (h *Hub) broadcast(ev events.Event) {
	msg := PushMessage{
		Type:        string(ev.Type),
		BlockHeight: ev.BlockHeight,
		TxID:        ev.TxID,
		Data:        ev.Data,
	}
	if id, ok := ev.Data["session_id"].(uint64); ok {
		msg.SessionID = id
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Warn().Str("component", "rpc").Str("client", id).Msg("ws client too slow, dropping")
			close(c.send)
			delete(h.clients, id)
		}
	}
	h.gauge()
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		close(c.send)
		delete(h.clients, c.id)
		h.gauge()
	}
}

// ServeHTTP upgrades the request and streams events until the client goes
// away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Str("component", "rpc").Err(err).Msg("ws upgrade")
		return
	}
	c := &wsClient{id: uuid.NewString(), send: make(chan PushMessage, wsSendBuffer)}
	h.mu.Lock()
	h.clients[c.id] = c
	h.gauge()
	h.mu.Unlock()
	log.Debug().Str("component", "rpc").Str("client", c.id).Str("remote", r.RemoteAddr).Msg("ws connected")

	go h.readLoop(conn, c)
	h.writeLoop(conn, c)
}

// readLoop only services control frames; clients do not send data.
func (h *Hub) readLoop(conn *websocket.Conn, c *wsClient) {
	defer h.remove(c)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}
