package media

import (
	"sync"

	"github.com/pion/rtp"

	"github.com/1ureka/duet/internal/util"
)

// Drain is a Renderer for a terminal: it cannot show media, so it consumes
// every remote track and accounts the received payload in util.Stats.
type Drain struct {
	mu     sync.Mutex
	tracks map[string]RemoteTrack
	log    util.Logger
}

// NewDrain creates an empty Drain.
func NewDrain() *Drain {
	return &Drain{tracks: make(map[string]RemoteTrack), log: util.NewLogger("render")}
}

// Render starts consuming track until it is stopped.
func (d *Drain) Render(track RemoteTrack) {
	d.mu.Lock()
	d.tracks[track.ID()] = track
	d.mu.Unlock()

	d.log.Info("receiving remote %s track %s", track.Kind(), track.ID())

	go func() {
		buf := make([]byte, 1500)
		var pkt rtp.Packet
		for {
			n, err := track.Read(buf)
			if err != nil {
				d.log.Debug("remote %s track %s ended: %v", track.Kind(), track.ID(), err)
				return
			}
			if err := pkt.Unmarshal(buf[:n]); err != nil {
				continue
			}
			util.Stats.AddRecv(len(pkt.Payload))
		}
	}()
}

// Detach forgets the current tracks. Their readers exit once the owning
// sink stops them.
func (d *Drain) Detach() {
	d.mu.Lock()
	clear(d.tracks)
	d.mu.Unlock()
}

// Len reports how many tracks are attached.
func (d *Drain) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tracks)
}
