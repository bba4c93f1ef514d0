// Package webrtc adapts pion PeerConnections to the connection interface the
// peer manager drives.
package webrtc

import (
	"errors"
	"fmt"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/peer"
	"github.com/1ureka/duet/internal/util"
)

// NewPeerConnection creates a PeerConnection that gathers candidates through
// the given STUN servers. With no servers only host candidates are used.
func NewPeerConnection(stunServers []string) (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{}
	if len(stunServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}
	return webrtc.NewPeerConnection(config)
}

// Conn is a pion-backed peer.Connection.
type Conn struct {
	pc  *webrtc.PeerConnection
	log util.Logger
}

var _ peer.Connection = (*Conn)(nil)

// NewConn creates a Conn on a fresh PeerConnection.
func NewConn(stunServers []string) (*Conn, error) {
	pc, err := NewPeerConnection(stunServers)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return &Conn{pc: pc, log: util.NewLogger("webrtc")}, nil
}

// Factory returns a constructor suitable for peer.Config.NewConnection.
func Factory(stunServers []string) func() (peer.Connection, error) {
	return func() (peer.Connection, error) {
		return NewConn(stunServers)
	}
}

// ---------------------------------------------------------------------------
// Tracks
// ---------------------------------------------------------------------------

// AddTrack attaches a local track. Incoming RTCP for its sender is read and
// discarded so pion's interceptors (NACK, reports) keep running.
func (c *Conn) AddTrack(t *media.Track) error {
	sender, err := c.pc.AddTrack(t)
	if err != nil {
		return err
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// AddReceiver adds a receive-only transceiver for kind unless the connection
// already has a transceiver of that kind.
func (c *Conn) AddReceiver(kind webrtc.RTPCodecType) error {
	for _, tr := range c.pc.GetTransceivers() {
		if tr.Kind() == kind {
			return nil
		}
	}
	_, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return err
}

// RemoveSenders detaches every local track. All senders are attempted even
// when one fails.
func (c *Conn) RemoveSenders() error {
	var errs []error
	for _, s := range c.pc.GetSenders() {
		if s.Track() == nil {
			continue
		}
		if err := c.pc.RemoveTrack(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

func (c *Conn) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *Conn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *Conn) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *Conn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *Conn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(cand)
}

// SignalingState returns the connection's offer/answer state.
func (c *Conn) SignalingState() webrtc.SignalingState {
	return c.pc.SignalingState()
}

// ---------------------------------------------------------------------------
// Callbacks
// ---------------------------------------------------------------------------

// OnICECandidate registers fn for every gathered candidate. The end-of-
// gathering marker is not forwarded.
func (c *Conn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		fn(cand.ToJSON())
	})
}

// OnTrack registers fn for every inbound track. A keyframe is requested for
// video so the first frames render without waiting for the next interval.
func (c *Conn) OnTrack(fn func(media.RemoteTrack)) {
	c.pc.OnTrack(func(t *webrtc.TrackRemote, r *webrtc.RTPReceiver) {
		c.log.Debug("remote %s track %s (%s)", t.Kind(), t.ID(), t.Codec().MimeType)
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(t.SSRC())}}
			if err := c.pc.WriteRTCP(pli); err != nil {
				c.log.Debug("keyframe request failed: %v", err)
			}
		}
		fn(&remoteTrack{track: t, receiver: r})
	})
}

func (c *Conn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(fn)
}

// Close closes the underlying PeerConnection.
func (c *Conn) Close() error {
	return c.pc.Close()
}

// remoteTrack exposes a pion remote track as a media.RemoteTrack.
type remoteTrack struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
}

func (t *remoteTrack) ID() string                { return t.track.ID() }
func (t *remoteTrack) Kind() webrtc.RTPCodecType { return t.track.Kind() }

func (t *remoteTrack) Read(b []byte) (int, error) {
	n, _, err := t.track.Read(b)
	return n, err
}

func (t *remoteTrack) Stop() error {
	return t.receiver.Stop()
}
