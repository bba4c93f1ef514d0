// Package peertest provides in-memory fakes for the peer package.
package peertest

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/peer"
	"github.com/1ureka/duet/internal/protocol"
)

// ---------------------------------------------------------------------------
// Connection
// ---------------------------------------------------------------------------

// Connection is a scripted peer.Connection that records what was done to it.
type Connection struct {
	mu sync.Mutex

	Tracks     []*media.Track
	Receivers  []webrtc.RTPCodecType
	Local      *webrtc.SessionDescription
	Remote     *webrtc.SessionDescription
	Candidates []webrtc.ICECandidateInit
	Removed    bool
	Closed     bool

	// Fail* make the matching call return an error.
	FailOffer  bool
	FailRemote bool
	FailAddICE bool

	onCandidate func(webrtc.ICECandidateInit)
	onTrack     func(media.RemoteTrack)
	onState     func(webrtc.PeerConnectionState)
}

var _ peer.Connection = (*Connection)(nil)

var errScripted = errors.New("scripted failure")

func (c *Connection) AddTrack(t *media.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Tracks = append(c.Tracks, t)
	return nil
}

func (c *Connection) AddReceiver(kind webrtc.RTPCodecType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Receivers = append(c.Receivers, kind)
	return nil
}

func (c *Connection) RemoveSenders() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Removed = true
	return nil
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	if c.FailOffer {
		return webrtc.SessionDescription{}, errScripted
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (c *Connection) SetLocalDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Local = &d
	return nil
}

func (c *Connection) SetRemoteDescription(d webrtc.SessionDescription) error {
	if c.FailRemote {
		return errScripted
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Remote = &d
	return nil
}

func (c *Connection) AddICECandidate(cand webrtc.ICECandidateInit) error {
	if c.FailAddICE {
		return errScripted
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Candidates = append(c.Candidates, cand)
	return nil
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onCandidate = fn }
func (c *Connection) OnTrack(fn func(media.RemoteTrack))             { c.onTrack = fn }
func (c *Connection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.onState = fn
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}

// Gather fires the candidate callback as if ICE had discovered cand.
func (c *Connection) Gather(cand webrtc.ICECandidateInit) {
	if c.onCandidate != nil {
		c.onCandidate(cand)
	}
}

// Deliver fires the track callback with t.
func (c *Connection) Deliver(t media.RemoteTrack) {
	if c.onTrack != nil {
		c.onTrack(t)
	}
}

// SetState fires the connection-state callback.
func (c *Connection) SetState(s webrtc.PeerConnectionState) {
	if c.onState != nil {
		c.onState(s)
	}
}

// IsClosed reports whether Close was called.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Closed
}

// CandidateCount reports how many remote candidates were added.
func (c *Connection) CandidateCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Candidates)
}

// ---------------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------------

// Factory hands out Connections and remembers them in creation order.
type Factory struct {
	mu    sync.Mutex
	Conns []*Connection
	// Fail makes the next New call fail.
	Fail bool
}

// New satisfies peer.Config.NewConnection.
func (f *Factory) New() (peer.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Fail {
		f.Fail = false
		return nil, errScripted
	}
	c := &Connection{}
	f.Conns = append(f.Conns, c)
	return c, nil
}

// Last returns the most recently created connection, or nil.
func (f *Factory) Last() *Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Conns) == 0 {
		return nil
	}
	return f.Conns[len(f.Conns)-1]
}

// Count reports how many connections were created.
func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Conns)
}

// ---------------------------------------------------------------------------
// Signaler
// ---------------------------------------------------------------------------

// Sent is one recorded Send call.
type Sent struct {
	Event   protocol.Event
	Payload any
}

// Signaler records every event sent through it.
type Signaler struct {
	mu   sync.Mutex
	Sent []Sent
	// Err is returned from every Send when set.
	Err error
}

func (s *Signaler) Send(event protocol.Event, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Sent = append(s.Sent, Sent{Event: event, Payload: payload})
	return nil
}

// Events returns the names of the recorded events, in order.
func (s *Signaler) Events() []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Event, len(s.Sent))
	for i, m := range s.Sent {
		out[i] = m.Event
	}
	return out
}

// Find returns the payloads sent with event.
func (s *Signaler) Find(event protocol.Event) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []any
	for _, m := range s.Sent {
		if m.Event == event {
			out = append(out, m.Payload)
		}
	}
	return out
}

// Reset forgets everything recorded so far.
func (s *Signaler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sent = nil
}

// ---------------------------------------------------------------------------
// Remote media
// ---------------------------------------------------------------------------

// RemoteTrack is a media.RemoteTrack whose Read blocks until Stop.
type RemoteTrack struct {
	id      string
	kind    webrtc.RTPCodecType
	stopped chan struct{}
	once    sync.Once
}

// NewRemoteTrack creates a live remote track.
func NewRemoteTrack(id string, kind webrtc.RTPCodecType) *RemoteTrack {
	return &RemoteTrack{id: id, kind: kind, stopped: make(chan struct{})}
}

func (t *RemoteTrack) ID() string                { return t.id }
func (t *RemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }

func (t *RemoteTrack) Read([]byte) (int, error) {
	<-t.stopped
	return 0, io.EOF
}

func (t *RemoteTrack) Stop() error {
	t.once.Do(func() { close(t.stopped) })
	return nil
}

// Stopped reports whether Stop was called.
func (t *RemoteTrack) Stopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}

// Renderer records the tracks it was given.
type Renderer struct {
	mu       sync.Mutex
	Rendered []media.RemoteTrack
	Detached int
}

func (r *Renderer) Render(t media.RemoteTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Rendered = append(r.Rendered, t)
}

func (r *Renderer) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Rendered = nil
	r.Detached++
}

// Len reports how many tracks are currently rendered.
func (r *Renderer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Rendered)
}

// String is used in test failure output.
func (r *Renderer) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("Renderer(%d tracks, %d detaches)", len(r.Rendered), r.Detached)
}
