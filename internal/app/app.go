// Package app wires the media sources, the relay transport and the session
// together and drives them from a line-based console.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/1ureka/duet/internal/config"
	"github.com/1ureka/duet/internal/eventloop"
	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/profile"
	"github.com/1ureka/duet/internal/session"
	"github.com/1ureka/duet/internal/signaling"
	"github.com/1ureka/duet/internal/util"
	webrtcpkg "github.com/1ureka/duet/internal/webrtc"
)

// ErrNoName is returned when neither the configuration nor the profile
// supplies a display name.
var ErrNoName = errors.New("a display name is required")

// identity is what a session is built around. A new session is created
// whenever it changes.
type identity struct {
	name  string
	audio *media.Track
	video *media.Track
}

// App is one running client.
type App struct {
	cfg  *config.Config
	ui   *Console
	log  util.Logger
	loop *eventloop.Loop

	// Owned by the loop once Run started.
	media   *media.Controller
	drain   *media.Drain
	sess    *session.Session
	current identity

	left     chan struct{}
	leftOnce sync.Once
}

// New creates an App. Nothing starts until Run.
func New(cfg *config.Config, ui *Console) *App {
	return &App{
		cfg:   cfg,
		ui:    ui,
		log:   util.NewLogger("app"),
		loop:  eventloop.New(),
		drain: media.NewDrain(),
		left:  make(chan struct{}),
	}
}

// Run executes the client lifecycle:
//  1. Resolve the display name (profile gate)
//  2. Acquire the local media devices
//  3. Start the session on the event loop
//  4. Feed console commands to it until leave, EOF or cancellation
func (a *App) Run(ctx context.Context, in io.Reader) error {
	// ── 1. Identity ────────────────────────────────────────────────────
	if err := a.resolveName(ctx); err != nil {
		return err
	}

	// ── 2. Devices ─────────────────────────────────────────────────────
	ctrl, err := media.Acquire(ctx, a.devices())
	if err != nil {
		return fmt.Errorf("acquire devices: %w", err)
	}
	a.media = ctrl
	defer func() { a.media.Stop() }()

	// ── 3. Session ─────────────────────────────────────────────────────
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go a.loop.Run(loopCtx)

	var startErr error
	a.loop.Call(func() { startErr = a.syncSession(ctx) })
	if startErr != nil {
		a.shutdown()
		return startErr
	}

	util.StartStatsReporter(ctx, a.cfg.StatsInterval)

	// ── 4. Commands ────────────────────────────────────────────────────
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-loopCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-a.left:
			return nil
		case <-ctx.Done():
			a.shutdown()
			return nil
		case line, ok := <-lines:
			if !ok {
				a.shutdown()
				return nil
			}
			a.loop.Call(func() { a.handle(ctx, line) })
		}
	}
}

// resolveName applies the profile gate when a profile API is configured.
func (a *App) resolveName(ctx context.Context) error {
	if a.cfg.ProfileAPI != "" {
		p, err := profile.NewClient(a.cfg.ProfileAPI, a.cfg.ProfileToken).Me(ctx)
		if err != nil {
			return err
		}
		if a.cfg.Name == "" {
			a.cfg.Name = p.DisplayName()
		}
		util.LogSuccess("profile found, matching as %s", a.cfg.Name)
	}
	if a.cfg.Name == "" {
		return ErrNoName
	}
	return nil
}

func (a *App) devices() media.Devices {
	return media.Devices{AudioFile: a.cfg.AudioFile, VideoFile: a.cfg.VideoFile}
}

// syncSession makes sure the running session matches the current identity,
// replacing it when the name or a track changed. Runs on the loop.
func (a *App) syncSession(ctx context.Context) error {
	id := identity{name: a.cfg.Name, audio: a.media.Audio(), video: a.media.Video()}
	if a.sess != nil && id == a.current {
		return nil
	}
	if a.sess != nil {
		a.log.Info("session inputs changed, starting a new session")
		a.sess.Close()
		a.sess = nil
	}

	client := signaling.NewClient(signaling.Options{
		URL:         a.cfg.RelayURL,
		Name:        a.cfg.Name,
		MaxAttempts: a.cfg.ReconnectAttempts,
		Backoff:     a.cfg.ReconnectBackoff,
		MaxBackoff:  a.cfg.ReconnectMaxBackoff,
		PingPeriod:  a.cfg.PingPeriod,
	})

	sess, err := session.New(session.Config{
		Transport:     client,
		Name:          a.cfg.Name,
		Media:         a.media,
		Preview:       preview{console: a.ui},
		NewConnection: webrtcpkg.Factory(a.cfg.STUNServers),
		Renderers:     []media.Renderer{a.drain},
		QuietPeriod:   a.cfg.TypingQuietPeriod,
		Post:          a.post,
		OnChange:      a.ui.Render,
		OnLeave:       a.onLeave,
	})
	if err != nil {
		return err
	}
	a.sess = sess
	a.current = id
	return sess.Start(ctx)
}

// handle runs one console line on the loop.
func (a *App) handle(ctx context.Context, line string) {
	if a.sess == nil {
		return
	}
	a.sess.Interact()

	cmd := ParseCommand(line)
	switch cmd.Kind {
	case CmdNone:
	case CmdChat:
		a.sess.Typing()
		if err := a.sess.SendChat(cmd.Text); err != nil {
			a.ui.Warn("message not sent: %v", err)
		}
	case CmdNext:
		if err := a.sess.Next(); err != nil {
			a.ui.Warn("%v", err)
		}
	case CmdLeave:
		a.sess.Leave()
	case CmdMic:
		a.sess.ToggleMic()
	case CmdCam:
		a.sess.ToggleCam()
	case CmdChatPanel:
		a.sess.ToggleChat()
	case CmdRecheck:
		a.sess.Recheck()
	case CmdDevices:
		a.recheckDevices(ctx)
	case CmdHelp:
		a.ui.Help()
	case CmdUnknown:
		a.ui.Warn("unknown command %s, try /help", cmd.Text)
	}
}

// recheckDevices acquires new tracks and releases the current ones. New
// tracks mean a new session. On failure the current tracks and session
// stay in place.
func (a *App) recheckDevices(ctx context.Context) {
	ctrl, err := media.Acquire(ctx, a.devices())
	if err != nil {
		a.ui.Warn("devices unavailable: %v", err)
		return
	}
	a.media.Stop()
	a.media = ctrl
	if err := a.syncSession(ctx); err != nil {
		a.ui.Warn("failed to restart session: %v", err)
	}
}

func (a *App) shutdown() {
	a.loop.Call(func() {
		if a.sess != nil {
			a.sess.Close()
		}
	})
}

func (a *App) onLeave() {
	a.leftOnce.Do(func() { close(a.left) })
}

func (a *App) post(fn func()) {
	a.loop.Post(fn)
}
