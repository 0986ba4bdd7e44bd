// Package events is the in-process pub/sub broker that VM modules publish
// state changes to. The indexer, metrics and the WebSocket feed consume it.
package events

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit EventType = "block_commit"
	// EventBlockAbandoned retracts the events of a block that was executed
	// but not stored.
	EventBlockAbandoned EventType = "block_abandoned"
	EventTxExecuted     EventType = "tx_executed"
	EventTxRejected     EventType = "tx_rejected"
	EventTokenTransfer  EventType = "token_transfer"

	EventLottoJoined        EventType = "lotto_joined"
	EventLottoRevealStarted EventType = "lotto_reveal_started"
	EventLottoRevealed      EventType = "lotto_revealed"
	EventLottoPhase         EventType = "lotto_phase"
	EventLottoSessionEnded  EventType = "lotto_session_ended"
)

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Subscription identifies a registered handler so it can be removed.
type Subscription struct {
	ID    string
	types []EventType // nil for wildcard subscriptions
}

type entry struct {
	id string
	h  Handler
}

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]entry
	any      []entry
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]entry)}
}

// Subscribe registers h to be called whenever one of types is emitted.
func (e *Emitter) Subscribe(h Handler, types ...EventType) Subscription {
	sub := Subscription{ID: uuid.NewString(), types: types}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, typ := range types {
		e.handlers[typ] = append(e.handlers[typ], entry{id: sub.ID, h: h})
	}
	return sub
}

// SubscribeAll registers h for every event type.
func (e *Emitter) SubscribeAll(h Handler) Subscription {
	sub := Subscription{ID: uuid.NewString()}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.any = append(e.any, entry{id: sub.ID, h: h})
	return sub
}

// Unsubscribe removes a handler. Unknown subscriptions are ignored.
func (e *Emitter) Unsubscribe(sub Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sub.types == nil {
		e.any = without(e.any, sub.ID)
		return
	}
	for _, typ := range sub.types {
		e.handlers[typ] = without(e.handlers[typ], sub.ID)
	}
}

func without(list []entry, id string) []entry {
	out := make([]entry, 0, len(list))
	for _, en := range list {
		if en.id != id {
			out = append(out, en)
		}
	}
	return out
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot crash the node or halt block production.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	targets := make([]entry, 0, len(e.handlers[ev.Type])+len(e.any))
	targets = append(targets, e.handlers[ev.Type]...)
	targets = append(targets, e.any...)
	e.mu.RUnlock()
	for _, en := range targets {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("component", "events").Str("event", string(ev.Type)).
						Interface("panic", r).Msg("handler panicked")
				}
			}()
			en.h(ev)
		}()
	}
}
