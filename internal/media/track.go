// Package media owns the local audio/video tracks handed to a session and
// the rendering surfaces that show local and remote media.
package media

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/1ureka/duet/internal/util"
)

// ErrTrackEnded is returned when writing to a stopped track.
var ErrTrackEnded = errors.New("track ended")

// Track is a local media track. It adds the two pieces of device state a
// session needs on top of a pion static-sample track: an enabled flag
// (mute) and an ended flag (device released).
//
// While disabled, samples are dropped instead of sent, so muting never
// requires renegotiation.
type Track struct {
	*webrtc.TrackLocalStaticSample

	enabled atomic.Bool
	ended   atomic.Bool
	done    chan struct{}
	once    sync.Once
}

// NewTrack creates an enabled, live Opus (audio) or VP8 (video) track.
func NewTrack(kind webrtc.RTPCodecType, id, streamID string) (*Track, error) {
	var capability webrtc.RTPCodecCapability
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	case webrtc.RTPCodecTypeVideo:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	default:
		return nil, fmt.Errorf("unsupported track kind %s", kind)
	}

	raw, err := webrtc.NewTrackLocalStaticSample(capability, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}

	t := &Track{TrackLocalStaticSample: raw, done: make(chan struct{})}
	t.enabled.Store(true)
	return t, nil
}

// WriteSample sends one sample to every peer connection the track is
// attached to.
func (t *Track) WriteSample(s pionmedia.Sample) error {
	if t.ended.Load() {
		return ErrTrackEnded
	}
	if !t.enabled.Load() {
		return nil
	}
	if err := t.TrackLocalStaticSample.WriteSample(s); err != nil {
		return err
	}
	util.Stats.AddSent(len(s.Data))
	return nil
}

// Enabled reports whether samples are currently sent.
func (t *Track) Enabled() bool { return t.enabled.Load() }

// SetEnabled mutes or unmutes the track. It never ends it.
func (t *Track) SetEnabled(on bool) { t.enabled.Store(on) }

// Live reports whether the underlying device is still producing.
func (t *Track) Live() bool { return !t.ended.Load() }

// Ended is closed when the track is stopped.
func (t *Track) Ended() <-chan struct{} { return t.done }

// Stop releases the track for good.
func (t *Track) Stop() {
	t.once.Do(func() {
		t.ended.Store(true)
		close(t.done)
	})
}

// Usable reports whether a track may be attached to a peer connection:
// it must exist and its device must still be live. Attaching a stopped
// track would negotiate a stream that never carries media.
func Usable(t *Track) bool {
	return t != nil && t.Live()
}
