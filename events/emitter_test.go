package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitterDeliversByType(t *testing.T) {
	e := NewEmitter()
	var joined, ended int
	e.Subscribe(func(Event) { joined++ }, EventLottoJoined)
	e.Subscribe(func(Event) { ended++ }, EventLottoSessionEnded, EventLottoPhase)

	e.Emit(Event{Type: EventLottoJoined})
	e.Emit(Event{Type: EventLottoSessionEnded})
	e.Emit(Event{Type: EventLottoPhase})
	e.Emit(Event{Type: EventTokenTransfer})

	assert.Equal(t, 1, joined)
	assert.Equal(t, 2, ended)
}

func TestEmitterWildcardAndUnsubscribe(t *testing.T) {
	e := NewEmitter()
	var seen []EventType
	sub := e.SubscribeAll(func(ev Event) { seen = append(seen, ev.Type) })
	typed := e.Subscribe(func(Event) { t.Fatal("unsubscribed handler called") }, EventLottoRevealed)
	e.Unsubscribe(typed)

	e.Emit(Event{Type: EventLottoRevealed})
	e.Unsubscribe(sub)
	e.Emit(Event{Type: EventLottoJoined})

	assert.Equal(t, []EventType{EventLottoRevealed}, seen)
	assert.NotEmpty(t, sub.ID)
}

func TestEmitterRecoversFromPanics(t *testing.T) {
	e := NewEmitter()
	called := false
	e.Subscribe(func(Event) { panic("boom") }, EventBlockCommit)
	e.Subscribe(func(Event) { called = true }, EventBlockCommit)

	assert.NotPanics(t, func() { e.Emit(Event{Type: EventBlockCommit}) })
	assert.True(t, called)
}
