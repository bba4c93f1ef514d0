package media

import (
	"github.com/pion/webrtc/v4"
)

// RemoteTrack is an inbound track received from the peer.
type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	// Read reads one RTP packet into b.
	Read(b []byte) (int, error)
	// Stop ends the track; pending and future reads fail.
	Stop() error
}

// Renderer is a surface that shows remote media. A renderer is bound to one
// remote sink at a time and receives each track as it is appended.
type Renderer interface {
	Render(track RemoteTrack)
	Detach()
}

// Preview is the surface that shows the local tracks.
type Preview interface {
	Show(tracks []*Track)
	SetMuted(muted bool)
	// Play starts playback. It may fail until the user has interacted
	// with the application (autoplay policies).
	Play() error
	Clear()
}
