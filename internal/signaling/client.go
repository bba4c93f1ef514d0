// Package signaling owns the persistent connection to the relay server: it
// dials, authenticates, reconnects with a bounded number of attempts, and
// exposes a publish/subscribe surface for relay events.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/duet/internal/protocol"
	"github.com/1ureka/duet/internal/util"
)

var (
	// ErrNotConnected is returned by Send while no relay connection is up.
	ErrNotConnected = errors.New("not connected to relay")
	// ErrAlreadyStarted is returned by a second Connect.
	ErrAlreadyStarted = errors.New("client already started")
	// ErrRetriesExhausted is the reason published with the final disconnect.
	ErrRetriesExhausted = errors.New("reconnection attempts exhausted")
)

const (
	defaultMaxAttempts = 5
	defaultBackoff     = 500 * time.Millisecond
	defaultMaxBackoff  = 5 * time.Second
	handshakeTimeout   = 10 * time.Second
	writeTimeout       = 5 * time.Second
)

// State is the connection state of a Client.
type State int

const (
	StateIdle         State = iota // Connect not called yet
	StateConnecting                // first dial in progress
	StateConnected                 // authenticated, id known
	StateReconnecting              // connection lost, retrying
	StateDisconnected              // retries exhausted (terminal)
	StateClosed                    // Close called (terminal)
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a Client.
type Options struct {
	// URL is the relay WebSocket endpoint, e.g. wss://relay.example.com/ws.
	URL string

	// Name is the display name presented in the connect handshake.
	Name string

	// MaxAttempts bounds consecutive failed dials before the client gives
	// up. Defaults to 5 if zero.
	MaxAttempts int

	// Backoff is the delay before the first retry; it doubles up to
	// MaxBackoff. Defaults to 500ms and 5s.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// PingPeriod enables WebSocket keepalive pings. Zero disables them.
	PingPeriod time.Duration

	// Dialer overrides websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Client is the transport session. It embeds a Hub: relay events and the
// local connect/disconnect events are emitted on it from the read goroutine.
type Client struct {
	Hub

	opts Options
	log  util.Logger

	mu    sync.RWMutex
	conn  *websocket.Conn
	id    string
	state State

	writeMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient creates a Client. Nothing is dialed until Connect.
func NewClient(opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:   opts,
		log:    util.NewLogger("signaling"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Connect starts the connection in the background and returns immediately.
// The local connect event fires (and ID becomes non-empty) once the relay
// acknowledges the handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.state = StateConnecting
	c.mu.Unlock()

	// ctx only bounds the start; the connection lives until Close.
	if err := ctx.Err(); err != nil {
		c.setState(StateIdle)
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(c.ctx)
	}()
	return nil
}

// Close sends a best-effort queue:leave, then severs the connection and
// stops reconnecting. Safe to call multiple times.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		c.state = StateClosed
		c.mu.Unlock()

		// A connection still in its handshake sends the notice from serve.
		if conn != nil {
			if err := c.write(conn, protocol.EventQueueLeave, nil); err != nil {
				c.log.Debug("leave notification not sent: %v", err)
			}
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
		}

		c.cancel()
		if conn != nil {
			conn.Close()
		}
	})
	c.wg.Wait()
	return nil
}

// ID returns the connection id assigned by the relay, or "" while not
// connected.
func (c *Client) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = s
	}
	c.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Publish
// ---------------------------------------------------------------------------

// Send writes one event to the relay. It is fire-and-forget: a nil error
// only means the frame was written to the socket.
func (c *Client) Send(event protocol.Event, payload any) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.write(conn, event, payload)
}

func (c *Client) write(conn *websocket.Conn, event protocol.Event, payload any) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

func (c *Client) emitLocal(event protocol.Event, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Error("failed to encode local %s event: %v", event, err)
		return
	}
	c.Emit(event, data)
}
