package peer

import (
	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/util"
)

// RemoteSink collects the tracks received from the peer. It is bound to its
// renderers once, at creation; tracks are only ever appended, and the whole
// sink is discarded on teardown.
type RemoteSink struct {
	tracks    []media.RemoteTrack
	renderers []media.Renderer
	log       util.Logger
}

func newRemoteSink(renderers []media.Renderer) *RemoteSink {
	return &RemoteSink{renderers: renderers, log: util.NewLogger("peer")}
}

// Add appends a track and hands it to every renderer.
func (s *RemoteSink) Add(t media.RemoteTrack) {
	s.tracks = append(s.tracks, t)
	for _, r := range s.renderers {
		r.Render(t)
	}
}

// Len reports how many tracks the sink holds.
func (s *RemoteSink) Len() int {
	if s == nil {
		return 0
	}
	return len(s.tracks)
}

// Tracks returns a copy of the held tracks.
func (s *RemoteSink) Tracks() []media.RemoteTrack {
	if s == nil {
		return nil
	}
	return append([]media.RemoteTrack(nil), s.tracks...)
}

// discard stops every track. A failing Stop does not keep the others alive.
func (s *RemoteSink) discard() {
	for _, t := range s.tracks {
		if err := t.Stop(); err != nil {
			s.log.Warn("failed to stop remote track %s: %v", t.ID(), err)
		}
	}
	s.tracks = nil
}
