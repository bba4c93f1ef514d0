package signaling

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/1ureka/duet/internal/protocol"
)

func TestHubUnsubscribe(t *testing.T) {
	var h Hub
	var calls []string

	a := h.On(protocol.EventLobby, func(json.RawMessage) { calls = append(calls, "a") })
	h.On(protocol.EventLobby, func(json.RawMessage) { calls = append(calls, "b") })

	h.Emit(protocol.EventLobby, nil)
	a.Unsubscribe()
	a.Unsubscribe()
	h.Emit(protocol.EventLobby, nil)

	assert.Equal(t, []string{"a", "b", "b"}, calls)
	assert.False(t, a.Active())
	assert.Equal(t, 1, h.HandlerCount(protocol.EventLobby))
}

func TestScopeCloseReleasesEverything(t *testing.T) {
	var h Hub
	scope := NewScope(&h, nil)

	fired := 0
	scope.On(protocol.EventLobby, func(json.RawMessage) { fired++ })
	scope.On(protocol.EventPartnerLeft, func(json.RawMessage) { fired++ })

	h.Emit(protocol.EventLobby, nil)
	scope.Close()
	h.Emit(protocol.EventLobby, nil)
	h.Emit(protocol.EventPartnerLeft, nil)

	assert.Equal(t, 1, fired)
	assert.Zero(t, h.HandlerCount(protocol.EventLobby))
	assert.Zero(t, h.HandlerCount(protocol.EventPartnerLeft))

	// Registering on a closed scope does nothing.
	scope.On(protocol.EventLobby, func(json.RawMessage) { fired++ })
	assert.Zero(t, h.HandlerCount(protocol.EventLobby))
}

func TestScopeDropsQueuedDeliveryAfterClose(t *testing.T) {
	var h Hub
	var queue []func()
	scope := NewScope(&h, func(fn func()) { queue = append(queue, fn) })

	fired := false
	scope.On(protocol.EventPartnerLeft, func(json.RawMessage) { fired = true })

	// The event is queued for the loop, then the phase ends before it runs.
	h.Emit(protocol.EventPartnerLeft, nil)
	scope.Close()

	for _, fn := range queue {
		fn()
	}
	assert.Len(t, queue, 1)
	assert.False(t, fired)
}
