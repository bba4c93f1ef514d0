package peer

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/protocol"
	"github.com/1ureka/duet/internal/util"
)

// ErrStale is returned when a connection was replaced or torn down while
// its negotiation was still running.
var ErrStale = errors.New("peer connection is no longer current")

// Config wires a Manager to its surroundings.
type Config struct {
	// NewConnection creates a fresh connection for each negotiation.
	NewConnection func() (Connection, error)
	Signaler      Signaler
	// Post runs fn on the goroutine that owns the Manager. Connection
	// callbacks arrive on arbitrary goroutines and are funnelled through it.
	// A nil Post runs callbacks inline.
	Post func(fn func())
	// Renderers receive every remote track.
	Renderers []media.Renderer
	// OnStateChange is told about state changes of current connections.
	OnStateChange func(role Role, state webrtc.PeerConnectionState)
}

// link is one negotiation's connection. Its pointer identity doubles as the
// cancellation token: callbacks captured for a link do nothing once the
// slot no longer holds that exact link.
type link struct {
	role   Role
	roomID string
	conn   Connection
}

// Manager owns the sending and receiving slots of one session. It is not
// safe for concurrent use; every method must run on the owner's goroutine.
type Manager struct {
	cfg   Config
	slots [2]*link
	sink  *RemoteSink
	log   util.Logger
}

// NewManager creates a Manager with both slots empty.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, log: util.NewLogger("peer")}
}

// StartCaller opens the sending connection for roomID, attaches the usable
// local tracks, and sends an offer that asks to receive audio and video.
func (m *Manager) StartCaller(roomID string, tracks []*media.Track) error {
	return m.start(RoleCaller, roomID, nil, tracks)
}

// StartAnswerer opens the receiving connection for roomID, applies the
// peer's offer, and sends the answer.
func (m *Manager) StartAnswerer(roomID string, offer webrtc.SessionDescription, tracks []*media.Track) error {
	return m.start(RoleAnswerer, roomID, &offer, tracks)
}

// HandleAnswer applies the peer's answer to the sending connection. It
// reports false, without error, when there is no sending connection to
// apply it to.
func (m *Manager) HandleAnswer(roomID string, answer webrtc.SessionDescription) (bool, error) {
	l := m.slots[SlotSending]
	if l == nil {
		m.log.Debug("answer for room %s dropped: no sending connection", roomID)
		return false, nil
	}
	if roomID != "" && roomID != l.roomID {
		m.log.Debug("answer for room %s dropped: sending connection is in room %s", roomID, l.roomID)
		return false, nil
	}
	if err := l.conn.SetRemoteDescription(answer); err != nil {
		return false, fmt.Errorf("apply answer for room %s: %w", roomID, err)
	}
	return true, nil
}

// AddRemoteCandidate routes a candidate from the peer to the local
// connection on the opposite side of the one that gathered it. Candidates
// for an empty slot are dropped, and failures are only logged.
func (m *Manager) AddRemoteCandidate(tag protocol.CandidateTag, c webrtc.ICECandidateInit) {
	slot, ok := slotForTag(tag)
	if !ok {
		m.log.Warn("candidate with unknown tag %q dropped", tag)
		return
	}
	l := m.slots[slot]
	if l == nil {
		m.log.Debug("candidate for empty %s slot dropped", slot)
		return
	}
	if err := l.conn.AddICECandidate(c); err != nil {
		m.log.Warn("failed to add %s candidate: %v", slot, err)
	}
}

// Teardown closes both connections and discards the remote sink. It is
// safe to call repeatedly.
func (m *Manager) Teardown() {
	for i, l := range m.slots {
		if l == nil {
			continue
		}
		m.slots[i] = nil
		m.closeLink(l)
	}
	if m.sink != nil {
		m.sink.discard()
		m.sink = nil
	}
	for _, r := range m.cfg.Renderers {
		r.Detach()
	}
}

// Active reports how many slots hold a connection.
func (m *Manager) Active() int {
	n := 0
	for _, l := range m.slots {
		if l != nil {
			n++
		}
	}
	return n
}

// Connection returns the connection held in slot, or nil.
func (m *Manager) Connection(slot Slot) Connection {
	if l := m.slots[slot]; l != nil {
		return l.conn
	}
	return nil
}

// Sink returns the current remote sink, or nil when none exists.
func (m *Manager) Sink() *RemoteSink { return m.sink }

// ---------------------------------------------------------------------------
// Negotiation
// ---------------------------------------------------------------------------

// start runs the shared part of both roles: open a link, negotiate the local
// description, and send it to the peer.
func (m *Manager) start(role Role, roomID string, remote *webrtc.SessionDescription, tracks []*media.Track) error {
	l, err := m.open(role, roomID, tracks)
	if err != nil {
		return err
	}

	local, err := m.negotiate(l, remote)
	if err != nil {
		return fmt.Errorf("%s negotiation for room %s: %w", role, roomID, err)
	}
	if !m.current(l) {
		return ErrStale
	}

	return m.cfg.Signaler.Send(role.descriptionEvent(), protocol.Description{RoomID: roomID, SDP: local})
}

func (m *Manager) negotiate(l *link, remote *webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	var (
		desc webrtc.SessionDescription
		err  error
	)

	switch l.role {
	case RoleCaller:
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if err := l.conn.AddReceiver(kind); err != nil {
				return desc, fmt.Errorf("request %s: %w", kind, err)
			}
		}
		if desc, err = l.conn.CreateOffer(); err != nil {
			return desc, fmt.Errorf("create offer: %w", err)
		}
	case RoleAnswerer:
		if remote == nil {
			return desc, errors.New("answerer started without an offer")
		}
		if err := l.conn.SetRemoteDescription(*remote); err != nil {
			return desc, fmt.Errorf("apply offer: %w", err)
		}
		if desc, err = l.conn.CreateAnswer(); err != nil {
			return desc, fmt.Errorf("create answer: %w", err)
		}
	default:
		return desc, fmt.Errorf("cannot negotiate as %s", l.role)
	}

	if err := l.conn.SetLocalDescription(desc); err != nil {
		return desc, fmt.Errorf("set local description: %w", err)
	}
	return desc, nil
}

// open replaces the role's slot with a fresh connection and hooks its
// callbacks. A previous link in the slot is fully closed first.
func (m *Manager) open(role Role, roomID string, tracks []*media.Track) (*link, error) {
	slot := role.slot()
	if old := m.slots[slot]; old != nil {
		m.slots[slot] = nil
		m.closeLink(old)
	}

	conn, err := m.cfg.NewConnection()
	if err != nil {
		return nil, fmt.Errorf("create %s connection: %w", role, err)
	}
	l := &link{role: role, roomID: roomID, conn: conn}
	m.slots[slot] = l

	for _, t := range tracks {
		if !media.Usable(t) {
			continue
		}
		if err := conn.AddTrack(t); err != nil {
			m.log.Warn("failed to attach %s track: %v", t.Kind(), err)
		}
	}

	m.ensureSink()

	conn.OnTrack(func(rt media.RemoteTrack) {
		m.post(func() {
			if !m.current(l) {
				_ = rt.Stop()
				return
			}
			m.ensureSink().Add(rt)
		})
	})

	conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		m.post(func() {
			if !m.current(l) {
				return
			}
			payload := protocol.Candidate{RoomID: l.roomID, Candidate: c, Type: role.tag()}
			if err := m.cfg.Signaler.Send(protocol.EventICECandidate, payload); err != nil {
				m.log.Debug("failed to send %s candidate: %v", role, err)
			}
		})
	})

	conn.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		m.post(func() {
			if !m.current(l) {
				return
			}
			m.log.Debug("%s connection: %s", role, s)
			if m.cfg.OnStateChange != nil {
				m.cfg.OnStateChange(role, s)
			}
		})
	})

	return l, nil
}

func (m *Manager) ensureSink() *RemoteSink {
	if m.sink == nil {
		m.sink = newRemoteSink(m.cfg.Renderers)
	}
	return m.sink
}

// current reports whether l still occupies its slot.
func (m *Manager) current(l *link) bool {
	return m.slots[l.role.slot()] == l
}

func (m *Manager) closeLink(l *link) {
	if err := l.conn.RemoveSenders(); err != nil {
		m.log.Warn("failed to detach %s senders: %v", l.role, err)
	}
	if err := l.conn.Close(); err != nil {
		m.log.Warn("failed to close %s connection: %v", l.role, err)
	}
}

func (m *Manager) post(fn func()) {
	if m.cfg.Post == nil {
		fn()
		return
	}
	m.cfg.Post(fn)
}
