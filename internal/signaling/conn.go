package signaling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/duet/internal/protocol"
)

// run dials, serves, and redials with exponential backoff until ctx is
// cancelled or MaxAttempts consecutive attempts have failed.
func (c *Client) run(ctx context.Context) {
	backoff := c.opts.Backoff
	failures := 0

	for {
		conn, id, err := c.dial(ctx)
		if err == nil {
			failures = 0
			backoff = c.opts.Backoff

			err = c.serve(ctx, conn, id)
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("relay connection lost: %v", err)
			c.emitLocal(protocol.EventDisconnect, protocol.Disconnect{Reason: err.Error()})
		} else {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("relay dial failed: %v", err)
		}

		failures++
		if failures > c.opts.MaxAttempts {
			c.log.Error("giving up on relay after %d attempts", c.opts.MaxAttempts)
			c.setState(StateDisconnected)
			c.emitLocal(protocol.EventDisconnect, protocol.Disconnect{
				Reason: ErrRetriesExhausted.Error(),
				Final:  true,
			})
			return
		}

		c.setState(StateReconnecting)
		c.log.Info("reconnecting to relay (attempt %d/%d) in %v", failures, c.opts.MaxAttempts, backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > c.opts.MaxBackoff {
			backoff = c.opts.MaxBackoff
		}
	}
}

// dial opens the WebSocket and performs the connect handshake: the client
// presents its name, the relay answers with the connection id.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, string, error) {
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to connect to relay: %w", err)
	}

	id, err := handshake(conn, c.opts.Name)
	if err != nil {
		conn.Close()
		return nil, "", err
	}
	return conn, id, nil
}

func handshake(conn *websocket.Conn, name string) (string, error) {
	frame, err := protocol.Encode(protocol.EventConnect, protocol.ConnectRequest{
		Auth: protocol.Auth{Name: name},
	})
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(handshakeTimeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return "", fmt.Errorf("handshake write: %w", err)
	}

	_ = conn.SetReadDeadline(deadline)
	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("handshake read: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	env, err := protocol.Decode(data)
	if err != nil {
		return "", fmt.Errorf("handshake: %w", err)
	}
	if env.Event != protocol.EventConnect {
		return "", fmt.Errorf("handshake: unexpected %q before connect ack", env.Event)
	}

	var ack protocol.ConnectAck
	if err := protocol.Unmarshal(env.Data, &ack); err != nil {
		return "", fmt.Errorf("handshake ack: %w", err)
	}
	if ack.ID == "" {
		return "", errors.New("handshake ack has no connection id")
	}
	return ack.ID, nil
}

// serve publishes the connection, runs its pumps, and blocks until the
// connection fails or ctx is cancelled.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn, id string) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		// Close ran while the handshake was in flight and could not
		// notify the relay itself.
		if err := c.write(conn, protocol.EventQueueLeave, nil); err != nil {
			c.log.Debug("leave notification not sent: %v", err)
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		conn.Close()
		return context.Canceled
	}
	c.conn = conn
	c.id = id
	c.state = StateConnected
	c.mu.Unlock()

	c.log.Debug("relay connected, id=%s", id)
	c.emitLocal(protocol.EventConnect, protocol.ConnectAck{ID: id})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readPump(conn) })
	g.Go(func() error { return c.pingPump(gctx, conn) })
	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})
	err := g.Wait()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.id = ""
	}
	c.mu.Unlock()

	return err
}

func (c *Client) readPump(conn *websocket.Conn) error {
	if c.opts.PingPeriod > 0 {
		wait := 2 * c.opts.PingPeriod
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		env, err := protocol.Decode(data)
		if err != nil {
			c.log.Warn("dropping malformed frame: %v", err)
			continue
		}
		c.Emit(env.Event, env.Data)
	}
}

func (c *Client) pingPump(ctx context.Context, conn *websocket.Conn) error {
	if c.opts.PingPeriod <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}
