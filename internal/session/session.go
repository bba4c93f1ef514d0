// Package session drives one participant through lobby, connecting and
// connected: it reacts to relay events and user actions, runs the peer
// negotiation for the assigned role, and decides which resources each
// transition releases.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duet/internal/chat"
	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/peer"
	"github.com/1ureka/duet/internal/protocol"
	"github.com/1ureka/duet/internal/signaling"
	"github.com/1ureka/duet/internal/util"
)

// ErrTerminated is returned by actions on a session that has ended.
var ErrTerminated = errors.New("session terminated")

// Transport is the relay connection a Session runs over.
type Transport interface {
	signaling.Subscriber
	Send(event protocol.Event, payload any) error
	ID() string
	Connect(ctx context.Context) error
	// Close notifies the relay of leaving, best effort, and disconnects.
	Close() error
}

// Config wires a Session.
type Config struct {
	Transport Transport
	Name      string
	// Media owns the local tracks. It may be nil for a receive-only session.
	Media         *media.Controller
	Preview       media.Preview
	NewConnection func() (peer.Connection, error)
	Renderers     []media.Renderer
	QuietPeriod   time.Duration
	// Post runs fn on the goroutine that owns the Session. Nil runs
	// callbacks inline.
	Post func(fn func())
	// OnChange receives a snapshot after every visible change.
	OnChange func(Snapshot)
	// OnLeave is called once after an explicit Leave completed.
	OnLeave func()
}

// Session is one participant's matching session. Methods must be called on
// the goroutine behind Config.Post.
type Session struct {
	cfg Config
	log util.Logger

	state    State
	status   string
	roomID   string
	role     peer.Role
	chatOpen bool

	peers *peer.Manager
	chat  *chat.Channel
	scope *signaling.Scope
}

// New creates a Session in the lobby. Nothing is dialled until Start.
func New(cfg Config) (*Session, error) {
	if cfg.Transport == nil {
		return nil, errors.New("session: transport is required")
	}
	if cfg.NewConnection == nil {
		return nil, errors.New("session: connection factory is required")
	}

	s := &Session{
		cfg:    cfg,
		log:    util.NewLogger("session"),
		state:  StateLobby,
		status: StatusWaiting,
	}
	s.peers = peer.NewManager(peer.Config{
		NewConnection: cfg.NewConnection,
		Signaler:      cfg.Transport,
		Post:          cfg.Post,
		Renderers:     cfg.Renderers,
		OnStateChange: s.onPeerState,
	})
	s.chat = chat.New(chat.Config{
		Transport:   cfg.Transport,
		Name:        cfg.Name,
		QuietPeriod: cfg.QuietPeriod,
		Post:        cfg.Post,
		OnChange:    s.notify,
	})
	return s, nil
}

// Start subscribes to the relay, binds the local preview and connects the
// transport.
func (s *Session) Start(ctx context.Context) error {
	if s.state == StateTerminated {
		return ErrTerminated
	}
	if s.scope != nil {
		return nil
	}

	s.scope = signaling.NewScope(s.cfg.Transport, s.cfg.Post)
	s.scope.On(protocol.EventConnect, s.onConnect)
	s.scope.On(protocol.EventDisconnect, s.onDisconnect)
	s.scope.On(protocol.EventSendOffer, s.onSendOffer)
	s.scope.On(protocol.EventOffer, s.onOffer)
	s.scope.On(protocol.EventAnswer, s.onAnswer)
	s.scope.On(protocol.EventICECandidate, s.onCandidate)
	s.scope.On(protocol.EventLobby, s.onWaiting(StatusWaiting))
	s.scope.On(protocol.EventQueueWaiting, s.onWaiting(StatusSearching))
	s.scope.On(protocol.EventPartnerLeft, s.onPartnerLeft)

	if s.cfg.Media != nil && s.cfg.Preview != nil {
		s.cfg.Media.BindPreview(s.cfg.Preview)
	}

	s.notify()
	if err := s.cfg.Transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect to relay: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// User actions
// ---------------------------------------------------------------------------

// Next asks the relay for a new match. An active call is torn down; local
// devices stay live.
func (s *Session) Next() error {
	if s.state == StateTerminated {
		return ErrTerminated
	}
	if err := s.cfg.Transport.Send(protocol.EventQueueNext, nil); err != nil {
		s.log.Warn("failed to request next match: %v", err)
	}
	if s.state.InCall() {
		util.Stats.AddSkip()
		s.teardown()
	}
	s.status = StatusNext
	s.notify()
	return nil
}

// Leave ends the session for good: the relay is told, every connection is
// closed and the local devices are stopped.
func (s *Session) Leave() {
	if s.state == StateTerminated {
		return
	}
	s.shutdown(true)
	if s.cfg.OnLeave != nil {
		s.cfg.OnLeave()
	}
}

// Close releases the session without stopping the local devices, which
// stay with their owner. It is safe to call repeatedly.
func (s *Session) Close() {
	if s.state == StateTerminated {
		return
	}
	s.shutdown(false)
}

// Recheck resets the status line. It does not touch an active call.
func (s *Session) Recheck() {
	if s.state == StateTerminated {
		return
	}
	s.status = StatusRechecking
	s.notify()
}

// ToggleMic flips the microphone and returns its new state.
func (s *Session) ToggleMic() bool {
	if s.cfg.Media == nil {
		return false
	}
	on := s.cfg.Media.ToggleMic()
	s.notify()
	return on
}

// ToggleCam flips the camera and returns its new state.
func (s *Session) ToggleCam() bool {
	if s.cfg.Media == nil {
		return false
	}
	on := s.cfg.Media.ToggleCam()
	s.notify()
	return on
}

// ToggleChat opens or closes the chat panel. The panel only opens during a
// call.
func (s *Session) ToggleChat() bool {
	s.chatOpen = !s.chatOpen && s.state.InCall()
	s.notify()
	return s.chatOpen
}

// SendChat sends a chat message to the current room.
func (s *Session) SendChat(text string) error {
	return s.chat.Send(text)
}

// Typing forwards a keystroke to the chat.
func (s *Session) Typing() {
	s.chat.Typing()
}

// Interact records a user gesture so a blocked preview can start.
func (s *Session) Interact() {
	if s.cfg.Media != nil {
		s.cfg.Media.Interact()
	}
}

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// Snapshot returns the current view of the session.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		State:        s.state,
		Status:       s.status,
		RoomID:       s.roomID,
		Role:         s.role,
		ConnectionID: s.cfg.Transport.ID(),
		ChatOpen:     s.chatOpen,
		CanSend:      s.chat.CanSend(),
		Messages:     s.chat.Messages(),
		PeerTyping:   s.chat.PeerTyping(),
		ActivePeers:  s.peers.Active(),
		RemoteTracks: s.peers.Sink().Len(),
	}
	if s.cfg.Media != nil {
		snap.MicOn = s.cfg.Media.MicOn()
		snap.CamOn = s.cfg.Media.CamOn()
	}
	return snap
}

// ---------------------------------------------------------------------------
// Relay events
// ---------------------------------------------------------------------------

func (s *Session) onConnect(data json.RawMessage) {
	var ack protocol.ConnectAck
	if err := protocol.Unmarshal(data, &ack); err != nil {
		s.log.Warn("malformed connect ack: %v", err)
	}
	s.log.Info("connected to relay as %s", ack.ID)

	// A new connection id means the relay no longer knows our room.
	if s.state.InCall() {
		s.teardown()
		s.status = StatusSearching
	} else if s.status == StatusReconnecting || s.status == StatusDisconnected {
		s.status = StatusWaiting
	}
	s.notify()
}

func (s *Session) onDisconnect(data json.RawMessage) {
	var d protocol.Disconnect
	if err := protocol.Unmarshal(data, &d); err != nil {
		s.log.Warn("malformed disconnect: %v", err)
	}
	if !d.Final {
		s.status = StatusReconnecting
		s.notify()
		return
	}

	s.log.Error("relay connection lost: %s", d.Reason)
	if s.state.InCall() {
		s.teardown()
	}
	s.status = StatusDisconnected
	s.notify()
}

func (s *Session) onSendOffer(data json.RawMessage) {
	var a protocol.RoomAssignment
	if err := protocol.Unmarshal(data, &a); err != nil || a.RoomID == "" {
		s.log.Warn("ignoring malformed room assignment: %v", err)
		return
	}

	s.enterRoom(a.RoomID, peer.RoleCaller)
	if err := s.peers.StartCaller(a.RoomID, s.tracks()); err != nil {
		s.log.Warn("caller negotiation stalled: %v", err)
	}
	s.notify()
}

func (s *Session) onOffer(data json.RawMessage) {
	var d protocol.Description
	if err := protocol.Unmarshal(data, &d); err != nil || d.RoomID == "" {
		s.log.Warn("ignoring malformed offer: %v", err)
		return
	}

	s.enterRoom(d.RoomID, peer.RoleAnswerer)
	if err := s.peers.StartAnswerer(d.RoomID, d.SDP, s.tracks()); err != nil {
		s.log.Warn("answerer negotiation stalled: %v", err)
		s.notify()
		return
	}
	s.setConnected()
}

func (s *Session) onAnswer(data json.RawMessage) {
	var d protocol.Description
	if err := protocol.Unmarshal(data, &d); err != nil {
		s.log.Warn("ignoring malformed answer: %v", err)
		return
	}

	applied, err := s.peers.HandleAnswer(d.RoomID, d.SDP)
	if err != nil {
		s.log.Warn("answer could not be applied: %v", err)
		return
	}
	if applied && s.state == StateConnecting {
		s.setConnected()
	}
}

func (s *Session) onCandidate(data json.RawMessage) {
	var c protocol.Candidate
	if err := protocol.Unmarshal(data, &c); err != nil {
		s.log.Warn("ignoring malformed candidate: %v", err)
		return
	}
	s.peers.AddRemoteCandidate(c.Type, c.Candidate)
}

func (s *Session) onWaiting(status string) signaling.Handler {
	return func(json.RawMessage) {
		if s.state.InCall() {
			s.teardown()
		}
		s.status = status
		s.notify()
	}
}

func (s *Session) onPartnerLeft(json.RawMessage) {
	if !s.state.InCall() {
		return
	}
	s.log.Info("partner left room %s", s.roomID)
	s.teardown()
	s.status = StatusPartnerLeft
	s.notify()
}

func (s *Session) onPeerState(role peer.Role, state webrtc.PeerConnectionState) {
	if state == webrtc.PeerConnectionStateFailed {
		s.log.Warn("%s connection failed in room %s", role, s.roomID)
	}
}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

// enterRoom moves into connecting for roomID. Switching rooms releases the
// previous call first.
func (s *Session) enterRoom(roomID string, role peer.Role) {
	switch {
	case s.state.InCall() && s.roomID != roomID:
		s.teardown()
	case s.state.InCall() && s.role != role:
		// Same room, new role: only the new role's slot may hold a
		// connection. The chat scope stays.
		s.peers.Teardown()
	}
	if s.roomID != roomID {
		util.Stats.AddMatch()
		s.chat.Join(roomID)
	}
	s.roomID = roomID
	s.role = role
	s.state = StateConnecting
	s.status = StatusConnecting
	s.log.Info("matched in room %s as %s", roomID, role)
}

func (s *Session) setConnected() {
	s.state = StateConnected
	s.status = StatusConnected
	s.notify()
}

// teardown returns to the lobby, keeping the local devices live.
func (s *Session) teardown() {
	s.peers.Teardown()
	s.chat.Leave()
	s.chatOpen = false
	s.roomID = ""
	s.role = peer.RoleNone
	s.state = StateLobby
}

// shutdown releases everything in a fixed order so no relay event can reach
// a closed connection.
func (s *Session) shutdown(stopDevices bool) {
	// 1. Stop relay deliveries, including the chat scope.
	if s.scope != nil {
		s.scope.Close()
		s.scope = nil
	}
	s.chat.Leave()

	// 2. Tell the relay and disconnect.
	if err := s.cfg.Transport.Close(); err != nil {
		s.log.Warn("failed to close relay connection: %v", err)
	}

	// 3. Close both peer connections and discard remote media.
	s.teardown()

	// 4. Release local media.
	if s.cfg.Media != nil {
		if stopDevices {
			s.cfg.Media.Stop()
		}
		s.cfg.Media.DetachPreview()
	}

	s.state = StateTerminated
	s.status = StatusDisconnected
	s.notify()
}

func (s *Session) tracks() []*media.Track {
	if s.cfg.Media == nil {
		return nil
	}
	return s.cfg.Media.Tracks()
}

func (s *Session) notify() {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(s.Snapshot())
	}
}
