package media

import (
	"sync"

	"github.com/1ureka/duet/internal/util"
)

// Controller owns the two local tracks of a participant. Toggling mutes a
// track in place; only Stop ends them.
type Controller struct {
	mu    sync.Mutex
	audio *Track
	video *Track
	micOn bool
	camOn bool

	preview    Preview
	retryArmed bool

	log util.Logger
}

// NewController takes ownership of the given tracks. Either may be nil.
func NewController(audio, video *Track) *Controller {
	return &Controller{
		audio: audio,
		video: video,
		micOn: true,
		camOn: true,
		log:   util.NewLogger("media"),
	}
}

// Audio returns the local audio track, or nil.
func (c *Controller) Audio() *Track { return c.audio }

// Video returns the local video track, or nil.
func (c *Controller) Video() *Track { return c.video }

// Tracks returns the non-nil tracks, video first.
func (c *Controller) Tracks() []*Track {
	tracks := make([]*Track, 0, 2)
	if c.video != nil {
		tracks = append(tracks, c.video)
	}
	if c.audio != nil {
		tracks = append(tracks, c.audio)
	}
	return tracks
}

// ToggleMic flips the microphone and returns the new state.
func (c *Controller) ToggleMic() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.micOn = !c.micOn
	if c.audio != nil {
		c.audio.SetEnabled(c.micOn)
	}
	return c.micOn
}

// ToggleCam flips the camera and returns the new state.
func (c *Controller) ToggleCam() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.camOn = !c.camOn
	if c.video != nil {
		c.video.SetEnabled(c.camOn)
	}
	return c.camOn
}

func (c *Controller) MicOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.micOn
}

func (c *Controller) CamOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.camOn
}

// ---------------------------------------------------------------------------
// Preview
// ---------------------------------------------------------------------------

// BindPreview shows both tracks on p, muted so local audio never echoes,
// and starts playback. One more playback attempt is armed for the first
// user interaction.
func (c *Controller) BindPreview(p Preview) {
	tracks := c.Tracks()
	if p == nil || len(tracks) == 0 {
		return
	}

	c.mu.Lock()
	c.preview = p
	c.retryArmed = true
	c.mu.Unlock()

	p.Show(tracks)
	p.SetMuted(true)
	if err := p.Play(); err != nil {
		c.log.Debug("preview playback blocked, will retry on interaction: %v", err)
	}
}

// Interact reports a user gesture. The first one after BindPreview retries
// playback; later ones do nothing.
func (c *Controller) Interact() {
	c.mu.Lock()
	p := c.preview
	armed := c.retryArmed
	c.retryArmed = false
	c.mu.Unlock()

	if !armed || p == nil {
		return
	}
	if err := p.Play(); err != nil {
		c.log.Warn("preview playback failed: %v", err)
	}
}

// DetachPreview clears the preview surface. The tracks keep running.
func (c *Controller) DetachPreview() {
	c.mu.Lock()
	p := c.preview
	c.preview = nil
	c.retryArmed = false
	c.mu.Unlock()

	if p != nil {
		p.Clear()
	}
}

// Stop ends both tracks. Reserved for explicit leave and device re-check.
func (c *Controller) Stop() {
	for _, t := range c.Tracks() {
		t.Stop()
	}
}
