package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/1ureka/duet/internal/util"
)

// ErrDeviceUnavailable wraps every acquisition failure.
var ErrDeviceUnavailable = errors.New("media device unavailable")

const (
	opusPageDuration = 20 * time.Millisecond
	opusClockRate    = 48000
)

// Devices names the capture sources. This client has no camera or
// microphone drivers: an Ogg/Opus file stands in for the microphone and an
// IVF/VP8 file for the camera, each looped for as long as the track lives.
// An empty path yields a live track that sends nothing.
type Devices struct {
	AudioFile string
	VideoFile string
}

// Acquire opens the configured sources, creates both tracks, and starts
// feeding them. Any failure is a device error and nothing is left running.
func Acquire(ctx context.Context, d Devices) (*Controller, error) {
	streamID := "duet-" + uuid.NewString()[:8]

	audio, err := NewTrack(webrtc.RTPCodecTypeAudio, "audio", streamID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	video, err := NewTrack(webrtc.RTPCodecTypeVideo, "video", streamID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	var files []*os.File
	open := func(path string) (*os.File, error) {
		if path == "" {
			return nil, nil
		}
		f, err := os.Open(path)
		if err != nil {
			for _, opened := range files {
				opened.Close()
			}
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		files = append(files, f)
		return f, nil
	}

	audioFile, err := open(d.AudioFile)
	if err != nil {
		return nil, err
	}
	videoFile, err := open(d.VideoFile)
	if err != nil {
		return nil, err
	}

	log := util.NewLogger("media")
	if audioFile != nil {
		go func() {
			defer audioFile.Close()
			if err := PumpOgg(ctx, audio, audioFile); err != nil {
				log.Warn("audio source stopped: %v", err)
			}
		}()
	}
	if videoFile != nil {
		go func() {
			defer videoFile.Close()
			if err := PumpIVF(ctx, video, videoFile); err != nil {
				log.Warn("video source stopped: %v", err)
			}
		}()
	}

	return NewController(audio, video), nil
}

// PumpIVF writes VP8 frames from an IVF stream to track at the stream's
// frame rate, rewinding at EOF. It returns nil when the track ends or ctx
// is cancelled.
func PumpIVF(ctx context.Context, track *Track, src io.ReadSeeker) error {
	ivf, header, err := ivfreader.NewWith(src)
	if err != nil {
		return fmt.Errorf("read ivf header: %w", err)
	}
	if header.TimebaseDenominator == 0 {
		return errors.New("ivf header has zero timebase")
	}

	frameDuration := time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	if frameDuration <= 0 {
		return errors.New("ivf header has zero frame duration")
	}
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-track.Ended():
			return nil
		case <-ticker.C:
		}

		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if _, err := src.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("rewind ivf: %w", err)
			}
			if ivf, _, err = ivfreader.NewWith(src); err != nil {
				return fmt.Errorf("read ivf header: %w", err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("read ivf frame: %w", err)
		}

		if err := track.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDuration}); err != nil {
			if errors.Is(err, ErrTrackEnded) {
				return nil
			}
			return err
		}
	}
}

// PumpOgg writes Opus pages from an Ogg stream to track in real time,
// rewinding at EOF. It returns nil when the track ends or ctx is cancelled.
func PumpOgg(ctx context.Context, track *Track, src io.ReadSeeker) error {
	ogg, _, err := oggreader.NewWith(src)
	if err != nil {
		return fmt.Errorf("read ogg header: %w", err)
	}

	ticker := time.NewTicker(opusPageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-track.Ended():
			return nil
		case <-ticker.C:
		}

		page, header, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if _, err := src.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("rewind ogg: %w", err)
			}
			if ogg, _, err = oggreader.NewWith(src); err != nil {
				return fmt.Errorf("read ogg header: %w", err)
			}
			lastGranule = 0
			continue
		}
		if err != nil {
			return fmt.Errorf("read ogg page: %w", err)
		}

		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(float64(samples) / opusClockRate * float64(time.Second))

		if err := track.WriteSample(pionmedia.Sample{Data: page, Duration: duration}); err != nil {
			if errors.Is(err, ErrTrackEnded) {
				return nil
			}
			return err
		}
	}
}
