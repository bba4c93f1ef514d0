// Package signalingtest provides an in-memory relay transport for tests of
// code built on the signaling package.
package signalingtest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/1ureka/duet/internal/protocol"
	"github.com/1ureka/duet/internal/signaling"
)

// Frame is one recorded Send.
type Frame struct {
	Event   protocol.Event
	Payload any
}

// Transport records outgoing events and lets tests inject incoming ones
// through the embedded Hub.
type Transport struct {
	signaling.Hub

	mu       sync.Mutex
	id       string
	sent     []Frame
	connects int
	closed   bool

	// Err is returned from Send when set.
	Err error
	// OnClose runs at the start of Close.
	OnClose func()
}

// NewTransport creates a Transport that reports id as its connection id.
func NewTransport(id string) *Transport {
	return &Transport{id: id}
}

func (t *Transport) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// SetID changes the connection id, as a reconnect would.
func (t *Transport) SetID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.id = id
}

func (t *Transport) Send(event protocol.Event, payload any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return signaling.ErrNotConnected
	}
	if t.Err != nil {
		return t.Err
	}
	t.sent = append(t.sent, Frame{Event: event, Payload: payload})
	return nil
}

func (t *Transport) Connect(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	return nil
}

// Close records a best-effort leave, like the real client, and stops
// accepting sends.
func (t *Transport) Close() error {
	if t.OnClose != nil {
		t.OnClose()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.sent = append(t.sent, Frame{Event: protocol.EventQueueLeave})
	t.closed = true
	return nil
}

// Push delivers an incoming event as if the relay had sent it.
func (t *Transport) Push(event protocol.Event, payload any) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			panic(err)
		}
		data = b
	}
	t.Emit(event, data)
}

// Events returns the names of the sent events, in order.
func (t *Transport) Events() []protocol.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]protocol.Event, len(t.sent))
	for i, f := range t.sent {
		out[i] = f.Event
	}
	return out
}

// Sent returns the payloads sent with event.
func (t *Transport) Sent(event protocol.Event) []any {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []any
	for _, f := range t.sent {
		if f.Event == event {
			out = append(out, f.Payload)
		}
	}
	return out
}

// Reset forgets the recorded sends.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}

// Connects reports how many times Connect was called.
func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
