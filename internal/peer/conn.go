// Package peer manages the peer connections of one session: at most one
// outgoing (caller) and one incoming (answerer) connection, the trickle-ICE
// routing between them, and the sink that collects the peer's media.
package peer

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/protocol"
)

// Connection is the slice of a WebRTC peer connection the manager drives.
// The webrtc package provides the pion-backed implementation.
//
// Callbacks registered with OnTrack, OnICECandidate and
// OnConnectionStateChange may fire on any goroutine.
type Connection interface {
	AddTrack(track *media.Track) error
	// AddReceiver asks to receive media of the given kind even when no
	// local track of that kind is attached.
	AddReceiver(kind webrtc.RTPCodecType) error
	// RemoveSenders detaches every local track from the connection.
	RemoveSenders() error

	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error

	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnTrack(fn func(media.RemoteTrack))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))

	Close() error
}

// Signaler sends events to the relay.
type Signaler interface {
	Send(event protocol.Event, payload any) error
}
