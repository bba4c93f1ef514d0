package app

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pterm/pterm"

	"github.com/1ureka/duet/internal/chat"
	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/session"
)

// Console prints session changes as lines of text. It diffs every snapshot
// against the previous one and only prints what changed.
type Console struct {
	mu   sync.Mutex
	out  io.Writer
	last session.Snapshot
	room string
	seen int
}

// NewConsole creates a Console writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// Render prints the difference between s and the previous snapshot.
func (c *Console) Render(s session.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.last
	c.last = s

	if s.Status != prev.Status {
		c.printer(pterm.Info).Println(s.Status)
	}
	if s.ConnectionID != prev.ConnectionID && s.ConnectionID != "" {
		c.printer(pterm.Info).Printfln("Connected to relay as %s", s.ConnectionID)
	}

	if s.RoomID != c.room {
		c.room = s.RoomID
		c.seen = 0
		if s.RoomID != "" {
			c.printer(pterm.Success).Printfln("Matched in room %s as %s", s.RoomID, s.Role)
		}
	}

	if s.MicOn != prev.MicOn && prev.Status != "" {
		c.printer(pterm.Info).Printfln("Microphone %s", onOff(s.MicOn))
	}
	if s.CamOn != prev.CamOn && prev.Status != "" {
		c.printer(pterm.Info).Printfln("Camera %s", onOff(s.CamOn))
	}
	if s.ChatOpen != prev.ChatOpen {
		c.printer(pterm.Info).Printfln("Chat panel %s", map[bool]string{true: "opened", false: "closed"}[s.ChatOpen])
	}

	if c.seen > len(s.Messages) {
		c.seen = 0
	}
	for _, m := range s.Messages[c.seen:] {
		c.printMessage(m, s.ConnectionID)
	}
	c.seen = len(s.Messages)

	if s.PeerTyping && !prev.PeerTyping {
		pterm.Fprintln(c.out, pterm.Gray("partner is typing…"))
	}
}

func (c *Console) printMessage(m chat.Message, self string) {
	if m.Kind == chat.KindSystem {
		pterm.Fprintln(c.out, pterm.Italic.Sprint("  "+m.Text))
		return
	}
	from := m.From
	if self != "" && m.ClientID == self {
		from = "you"
	}
	pterm.Fprintln(c.out, fmt.Sprintf("%s %s: %s", pterm.Gray(m.Time.Format("15:04")), pterm.Cyan(from), m.Text))
}

// Help lists the available commands.
func (c *Console) Help() {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines := []string{
		"/next      skip to the next match",
		"/leave     leave and quit",
		"/mic       toggle the microphone",
		"/cam       toggle the camera",
		"/chat      open or close the chat panel",
		"/recheck   reset the status line",
		"/devices   re-acquire the media devices",
		"anything else is sent as a chat message",
	}
	pterm.Fprintln(c.out, strings.Join(lines, "\n"))
}

// Warn prints a warning line.
func (c *Console) Warn(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printer(pterm.Warning).Printfln(format, args...)
}

func (c *Console) printer(p pterm.PrefixPrinter) *pterm.PrefixPrinter {
	return p.WithWriter(c.out)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// preview is the local preview surface of a terminal: it can only say what
// it would show.
type preview struct {
	console *Console
}

var _ media.Preview = preview{}

func (p preview) Show(tracks []*media.Track) {
	kinds := make([]string, 0, len(tracks))
	for _, t := range tracks {
		kinds = append(kinds, t.Kind().String())
	}
	p.console.mu.Lock()
	defer p.console.mu.Unlock()
	p.console.printer(pterm.Info).Printfln("Local preview: %s", strings.Join(kinds, " + "))
}

func (p preview) SetMuted(bool) {}
func (p preview) Play() error  { return nil }
func (p preview) Clear()       {}
