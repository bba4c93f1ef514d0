package chat

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/duet/internal/eventloop"
	"github.com/1ureka/duet/internal/protocol"
	"github.com/1ureka/duet/internal/signaling/signalingtest"
	"github.com/1ureka/duet/internal/util"
)

func init() {
	util.SetOutput(io.Discard)
}

type harness struct {
	t       *testing.T
	loop    *eventloop.Loop
	relay   *signalingtest.Transport
	ch      *Channel
	changes int
}

func newHarness(t *testing.T, quiet time.Duration) *harness {
	t.Helper()
	loop := eventloop.New()
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(cancel)

	h := &harness{t: t, loop: loop, relay: signalingtest.NewTransport("abc")}
	h.ch = New(Config{
		Transport:   h.relay,
		Name:        "ada",
		QuietPeriod: quiet,
		Post:        func(fn func()) { loop.Post(fn) },
		OnChange:    func() { h.changes++ },
	})
	return h
}

// do runs fn on the loop after everything already queued.
func (h *harness) do(fn func()) {
	h.t.Helper()
	require.True(h.t, h.loop.Call(fn))
}

func (h *harness) messages() []Message {
	var out []Message
	h.do(func() { out = h.ch.Messages() })
	return out
}

func (h *harness) peerTyping() bool {
	var on bool
	h.do(func() { on = h.ch.PeerTyping() })
	return on
}

func TestJoinSendsRoomAndName(t *testing.T) {
	h := newHarness(t, 0)
	h.do(func() { h.ch.Join("r1") })

	joins := h.relay.Sent(protocol.EventChatJoin)
	require.Len(t, joins, 1)
	assert.Equal(t, protocol.ChatJoin{RoomID: "r1", Name: "ada"}, joins[0])
	assert.Empty(t, h.messages())
	assert.Equal(t, 1, h.relay.HandlerCount(protocol.EventChatMessage))
}

func TestOptimisticSendSuppressesEcho(t *testing.T) {
	h := newHarness(t, 0)
	h.do(func() { h.ch.Join("r1") })

	var err error
	h.do(func() { err = h.ch.Send("  hello ") })
	require.NoError(t, err)

	h.relay.Push(protocol.EventChatMessage, protocol.ChatMessage{
		RoomID: "r1", Text: "hello", From: "ada", ClientID: "abc", TS: 1,
	})

	msgs := h.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, "abc", msgs[0].ClientID)
	assert.Equal(t, KindUser, msgs[0].Kind)

	sent := h.relay.Sent(protocol.EventChatMessage)
	require.Len(t, sent, 1)
	wire := sent[0].(protocol.ChatMessage)
	assert.Equal(t, "r1", wire.RoomID)
	assert.Equal(t, "abc", wire.ClientID)
	assert.Equal(t, "hello", wire.Text)

	typing := h.relay.Sent(protocol.EventChatTyping)
	require.Len(t, typing, 1)
	assert.False(t, typing[0].(protocol.ChatTyping).Typing)
}

func TestEchoAfterReconnectIsNotRecognised(t *testing.T) {
	h := newHarness(t, 0)
	h.do(func() { h.ch.Join("r1") })
	h.do(func() { require.NoError(t, h.ch.Send("hello")) })

	// A reconnect hands out a new id; the old echo now looks foreign.
	h.relay.SetID("def")
	h.relay.Push(protocol.EventChatMessage, protocol.ChatMessage{RoomID: "r1", Text: "hello", ClientID: "abc"})

	assert.Len(t, h.messages(), 2)
}

func TestSendGating(t *testing.T) {
	tests := []struct {
		name string
		room string
		id   string
		text string
		want error
	}{
		{name: "no room", id: "abc", text: "hi", want: ErrCannotSend},
		{name: "no connection id", room: "r1", text: "hi", want: ErrCannotSend},
		{name: "blank", room: "r1", id: "abc", text: " \t\n", want: ErrEmptyMessage},
		{name: "ok", room: "r1", id: "abc", text: "hi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 0)
			h.relay.SetID(tt.id)
			if tt.room != "" {
				h.do(func() { h.ch.Join(tt.room) })
			}

			var err error
			h.do(func() { err = h.ch.Send(tt.text) })
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				assert.Empty(t, h.messages())
				assert.Empty(t, h.relay.Sent(protocol.EventChatMessage))
				return
			}
			assert.NoError(t, err)
			assert.Len(t, h.messages(), 1)
		})
	}
}

func TestSendWithoutNameIsRefused(t *testing.T) {
	relay := signalingtest.NewTransport("abc")
	ch := New(Config{Transport: relay})
	ch.Join("r1")
	assert.False(t, ch.CanSend())
	assert.ErrorIs(t, ch.Send("hi"), ErrCannotSend)
}

func TestPeerMessageAndSystemNotice(t *testing.T) {
	h := newHarness(t, 0)
	h.do(func() { h.ch.Join("r1") })

	h.relay.Push(protocol.EventChatMessage, protocol.ChatMessage{
		RoomID: "r1", Text: "hi there", From: "bob", ClientID: "xyz", TS: 1700000000000,
	})
	h.relay.Push(protocol.EventChatSystem, protocol.ChatSystem{Text: "bob joined"})

	msgs := h.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "bob", msgs[0].From)
	assert.Equal(t, time.UnixMilli(1700000000000), msgs[0].Time)
	assert.Equal(t, KindSystem, msgs[1].Kind)
	assert.Equal(t, SystemSender, msgs[1].From)
	assert.Equal(t, SystemSender, msgs[1].ClientID)
}

func TestRoomChangeResetsLog(t *testing.T) {
	h := newHarness(t, 0)
	h.do(func() { h.ch.Join("r1") })
	h.relay.Push(protocol.EventChatMessage, protocol.ChatMessage{RoomID: "r1", Text: "old", ClientID: "xyz"})
	require.Len(t, h.messages(), 1)

	h.do(func() { h.ch.Join("r2") })
	assert.Empty(t, h.messages())

	// Late traffic for the previous room is ignored.
	h.relay.Push(protocol.EventChatMessage, protocol.ChatMessage{RoomID: "r1", Text: "late", ClientID: "xyz"})
	assert.Empty(t, h.messages())
	assert.Equal(t, 1, h.relay.HandlerCount(protocol.EventChatMessage))
}

func TestLeaveReleasesHandlers(t *testing.T) {
	h := newHarness(t, 0)
	h.do(func() { h.ch.Join("r1") })
	h.do(func() { h.ch.Leave() })

	for _, ev := range []protocol.Event{protocol.EventChatMessage, protocol.EventChatSystem, protocol.EventChatTyping} {
		assert.Zero(t, h.relay.HandlerCount(ev), ev)
	}
	h.relay.Push(protocol.EventChatSystem, protocol.ChatSystem{Text: "ignored"})
	assert.Empty(t, h.messages())

	var room string
	h.do(func() { room = h.ch.RoomID() })
	assert.Empty(t, room)
}

func TestTypingIndicatorClearsAfterQuietPeriod(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	h.do(func() { h.ch.Join("r1") })

	h.relay.Push(protocol.EventChatTyping, protocol.ChatTyping{RoomID: "r1", From: "bob", Typing: true})
	assert.True(t, h.peerTyping())

	assert.Eventually(t, func() bool { return !h.peerTyping() }, time.Second, 10*time.Millisecond)
}

func TestTypingIndicatorIsExtendedByFurtherTyping(t *testing.T) {
	h := newHarness(t, 300*time.Millisecond)
	h.do(func() { h.ch.Join("r1") })

	h.relay.Push(protocol.EventChatTyping, protocol.ChatTyping{RoomID: "r1", Typing: true})
	time.Sleep(200 * time.Millisecond)
	h.relay.Push(protocol.EventChatTyping, protocol.ChatTyping{RoomID: "r1", Typing: true})
	time.Sleep(200 * time.Millisecond)

	assert.True(t, h.peerTyping())
}

func TestTypingIndicatorClearsImmediately(t *testing.T) {
	tests := []struct {
		name  string
		clear func(h *harness)
	}{
		{
			name: "typing false",
			clear: func(h *harness) {
				h.relay.Push(protocol.EventChatTyping, protocol.ChatTyping{RoomID: "r1", Typing: false})
			},
		},
		{
			name: "peer message",
			clear: func(h *harness) {
				h.relay.Push(protocol.EventChatMessage, protocol.ChatMessage{RoomID: "r1", Text: "done", ClientID: "xyz"})
			},
		},
		{
			name:  "leave",
			clear: func(h *harness) { h.do(func() { h.ch.Leave() }) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, time.Hour)
			h.do(func() { h.ch.Join("r1") })
			h.relay.Push(protocol.EventChatTyping, protocol.ChatTyping{RoomID: "r1", Typing: true})
			require.True(t, h.peerTyping())

			tt.clear(h)
			assert.False(t, h.peerTyping())
		})
	}
}

func TestLocalTypingIsSentOnlyInRoom(t *testing.T) {
	h := newHarness(t, 0)
	h.do(func() { h.ch.Typing() })
	assert.Empty(t, h.relay.Sent(protocol.EventChatTyping))

	h.do(func() { h.ch.Join("r1") })
	h.do(func() { h.ch.Typing() })
	sent := h.relay.Sent(protocol.EventChatTyping)
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.ChatTyping{RoomID: "r1", From: "ada", Typing: true}, sent[0])
}
