// Package chat implements the per-room text channel carried over the relay
// connection: an append-only message log, echo suppression of one's own
// optimistic sends, and the peer's typing indicator.
package chat

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/1ureka/duet/internal/protocol"
	"github.com/1ureka/duet/internal/signaling"
	"github.com/1ureka/duet/internal/util"
)

var (
	// ErrCannotSend is returned when there is no room, display name or
	// connection id to send with.
	ErrCannotSend = errors.New("chat: not ready to send")
	// ErrEmptyMessage is returned for blank text.
	ErrEmptyMessage = errors.New("chat: empty message")
)

// DefaultQuietPeriod is how long the peer's typing indicator stays on
// without a further typing event.
const DefaultQuietPeriod = 3 * time.Second

// SystemSender is the From and ClientID of relay notices.
const SystemSender = "system"

// Kind distinguishes user messages from relay notices.
type Kind string

const (
	KindUser   Kind = "user"
	KindSystem Kind = "system"
)

// Message is one entry of the room's log.
type Message struct {
	Text     string
	From     string
	ClientID string
	Time     time.Time
	Kind     Kind
}

// Transport is what the channel needs from the relay connection.
type Transport interface {
	signaling.Subscriber
	Send(event protocol.Event, payload any) error
	// ID is the local connection id, empty until the relay acknowledged
	// the connection.
	ID() string
}

// Config wires a Channel.
type Config struct {
	Transport   Transport
	Name        string
	QuietPeriod time.Duration
	// Post runs fn on the owner's goroutine. Relay events and the typing
	// timer are delivered through it. Nil runs them inline.
	Post func(fn func())
	// OnChange is called after the log or the typing indicator changed.
	OnChange func()
}

// Channel is the chat of the current room. It is owned by one goroutine:
// every method and every delivery must run there.
type Channel struct {
	cfg Config
	log util.Logger

	roomID     string
	messages   []Message
	peerTyping bool
	typingGen  uint64
	typingStop *time.Timer
	scope      *signaling.Scope
}

// New creates a Channel that is not in any room.
func New(cfg Config) *Channel {
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = DefaultQuietPeriod
	}
	return &Channel{cfg: cfg, log: util.NewLogger("chat")}
}

// Join enters the chat scope of roomID with an empty log. Anything from the
// previous room is dropped, including deliveries still in flight.
func (c *Channel) Join(roomID string) {
	c.reset()
	c.roomID = roomID

	c.scope = signaling.NewScope(c.cfg.Transport, c.cfg.Post)
	c.scope.On(protocol.EventChatMessage, c.onMessage)
	c.scope.On(protocol.EventChatSystem, c.onSystem)
	c.scope.On(protocol.EventChatTyping, c.onTyping)

	if err := c.cfg.Transport.Send(protocol.EventChatJoin, protocol.ChatJoin{RoomID: roomID, Name: c.cfg.Name}); err != nil {
		c.log.Warn("failed to join chat for room %s: %v", roomID, err)
	}
	c.changed()
}

// Leave drops the room, its log and the typing indicator.
func (c *Channel) Leave() {
	hadRoom := c.roomID != ""
	c.reset()
	if hadRoom {
		c.changed()
	}
}

func (c *Channel) reset() {
	if c.scope != nil {
		c.scope.Close()
		c.scope = nil
	}
	c.clearTyping()
	c.roomID = ""
	c.messages = nil
}

// RoomID returns the current room, or "".
func (c *Channel) RoomID() string { return c.roomID }

// CanSend reports whether a message could be sent right now.
func (c *Channel) CanSend() bool {
	return c.roomID != "" && c.cfg.Name != "" && c.cfg.Transport.ID() != ""
}

// Send appends text to the log immediately and relays it. The relay's echo
// is recognised by the local connection id and not appended again.
func (c *Channel) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if !c.CanSend() {
		return ErrCannotSend
	}

	msg := Message{
		Text:     text,
		From:     c.cfg.Name,
		ClientID: c.cfg.Transport.ID(),
		Time:     time.Now(),
		Kind:     KindUser,
	}
	c.messages = append(c.messages, msg)
	c.changed()

	wire := protocol.ChatMessage{
		RoomID:   c.roomID,
		Text:     msg.Text,
		From:     msg.From,
		ClientID: msg.ClientID,
		TS:       msg.Time.UnixMilli(),
	}
	if err := c.cfg.Transport.Send(protocol.EventChatMessage, wire); err != nil {
		c.log.Warn("failed to send chat message: %v", err)
	}
	c.sendTyping(false)
	return nil
}

// Typing tells the peer the local user is typing. Call it on every
// keystroke.
func (c *Channel) Typing() {
	if c.roomID == "" {
		return
	}
	c.sendTyping(true)
}

func (c *Channel) sendTyping(typing bool) {
	payload := protocol.ChatTyping{RoomID: c.roomID, From: c.cfg.Name, Typing: typing}
	if err := c.cfg.Transport.Send(protocol.EventChatTyping, payload); err != nil {
		c.log.Debug("failed to send typing indicator: %v", err)
	}
}

// Messages returns a copy of the log.
func (c *Channel) Messages() []Message {
	return append([]Message(nil), c.messages...)
}

// PeerTyping reports whether the peer's typing indicator is on.
func (c *Channel) PeerTyping() bool { return c.peerTyping }

// ---------------------------------------------------------------------------
// Incoming events
// ---------------------------------------------------------------------------

func (c *Channel) onMessage(data json.RawMessage) {
	var m protocol.ChatMessage
	if err := protocol.Unmarshal(data, &m); err != nil {
		c.log.Warn("malformed chat message: %v", err)
		return
	}
	if !c.inRoom(m.RoomID) {
		return
	}
	if id := c.cfg.Transport.ID(); id != "" && m.ClientID == id {
		return
	}

	ts := time.Now()
	if m.TS > 0 {
		ts = time.UnixMilli(m.TS)
	}
	c.messages = append(c.messages, Message{
		Text:     m.Text,
		From:     m.From,
		ClientID: m.ClientID,
		Time:     ts,
		Kind:     KindUser,
	})
	c.clearTyping()
	c.changed()
}

func (c *Channel) onSystem(data json.RawMessage) {
	var m protocol.ChatSystem
	if err := protocol.Unmarshal(data, &m); err != nil {
		c.log.Warn("malformed chat notice: %v", err)
		return
	}
	if c.roomID == "" {
		return
	}
	c.messages = append(c.messages, Message{
		Text:     m.Text,
		From:     SystemSender,
		ClientID: SystemSender,
		Time:     time.Now(),
		Kind:     KindSystem,
	})
	c.changed()
}

func (c *Channel) onTyping(data json.RawMessage) {
	var m protocol.ChatTyping
	if err := protocol.Unmarshal(data, &m); err != nil {
		c.log.Warn("malformed typing event: %v", err)
		return
	}
	if !c.inRoom(m.RoomID) {
		return
	}
	if !m.Typing {
		c.clearTyping()
		c.changed()
		return
	}

	c.clearTyping()
	c.peerTyping = true
	gen := c.typingGen
	c.typingStop = time.AfterFunc(c.cfg.QuietPeriod, func() {
		c.post(func() {
			if c.typingGen != gen {
				return
			}
			c.clearTyping()
			c.changed()
		})
	})
	c.changed()
}

// clearTyping turns the indicator off and invalidates any pending timer.
func (c *Channel) clearTyping() {
	c.typingGen++
	if c.typingStop != nil {
		c.typingStop.Stop()
		c.typingStop = nil
	}
	c.peerTyping = false
}

// inRoom accepts events for the current room. Events without a room id are
// accepted while in any room.
func (c *Channel) inRoom(roomID string) bool {
	if c.roomID == "" {
		return false
	}
	return roomID == "" || roomID == c.roomID
}

func (c *Channel) changed() {
	if c.cfg.OnChange != nil {
		c.cfg.OnChange()
	}
}

func (c *Channel) post(fn func()) {
	if c.cfg.Post == nil {
		fn()
		return
	}
	c.cfg.Post(fn)
}
