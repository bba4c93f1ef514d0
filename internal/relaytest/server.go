// Package relaytest provides an in-process relay for tests. It speaks the
// same framing and connect handshake as the real relay but does no
// matching: tests push events to clients and inspect what clients sent.
package relaytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/duet/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Frame is one event received from a client.
type Frame struct {
	ClientID string
	Name     string
	Event    protocol.Event
	Data     json.RawMessage
}

type peer struct {
	id   string
	name string
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes
}

// Server is the fake relay.
type Server struct {
	srv *httptest.Server

	mu      sync.Mutex
	peers   map[string]*peer
	joined  chan string
	frames  chan Frame
	refuse  bool
	accepts int
}

// NewServer starts a relay on a loopback port. It is closed via t.Cleanup.
func NewServer(t testing.TB) *Server {
	s := &Server{
		peers:  make(map[string]*peer),
		joined: make(chan string, 16),
		frames: make(chan Frame, 256),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// endpoint clients should dial.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	refuse := s.refuse
	s.mu.Unlock()
	if refuse {
		http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Handshake: connect {auth:{name}} → connect {id}.
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	env, err := protocol.Decode(data)
	if err != nil || env.Event != protocol.EventConnect {
		conn.Close()
		return
	}
	var req protocol.ConnectRequest
	_ = protocol.Unmarshal(env.Data, &req)

	p := &peer{id: uuid.NewString(), name: req.Auth.Name, conn: conn}
	if err := p.write(protocol.EventConnect, protocol.ConnectAck{ID: p.id}); err != nil {
		conn.Close()
		return
	}

	s.mu.Lock()
	s.peers[p.id] = p
	s.accepts++
	s.mu.Unlock()

	select {
	case s.joined <- p.id:
	default:
	}

	go s.readLoop(p)
}

func (s *Server) readLoop(p *peer) {
	defer func() {
		s.mu.Lock()
		delete(s.peers, p.id)
		s.mu.Unlock()
		p.conn.Close()
	}()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		select {
		case s.frames <- Frame{ClientID: p.id, Name: p.name, Event: env.Event, Data: env.Data}:
		default:
		}
	}
}

func (p *peer) write(event protocol.Event, payload any) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, frame)
}

// ---------------------------------------------------------------------------
// Test controls
// ---------------------------------------------------------------------------

// WaitForClient blocks until a client completes the handshake and returns
// its connection id.
func (s *Server) WaitForClient(t testing.TB) string {
	t.Helper()
	select {
	case id := <-s.joined:
		return id
	case <-time.After(5 * time.Second):
		t.Fatalf("relaytest: no client connected within 5s")
		return ""
	}
}

// Push sends an event to one client.
func (s *Server) Push(clientID string, event protocol.Event, payload any) error {
	s.mu.Lock()
	p, ok := s.peers[clientID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("relaytest: unknown client %s", clientID)
	}
	return p.write(event, payload)
}

// Expect returns the next frame with the given event, skipping others.
func (s *Server) Expect(t testing.TB, event protocol.Event) Frame {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case f := <-s.frames:
			if f.Event == event {
				return f
			}
		case <-deadline:
			t.Fatalf("relaytest: no %q frame within 5s", event)
			return Frame{}
		}
	}
}

// Drop severs one client's connection without a close frame.
func (s *Server) Drop(clientID string) {
	s.mu.Lock()
	p, ok := s.peers[clientID]
	s.mu.Unlock()
	if ok {
		p.conn.UnderlyingConn().Close()
	}
}

// Refuse makes every following dial fail (or succeed again with false).
func (s *Server) Refuse(refuse bool) {
	s.mu.Lock()
	s.refuse = refuse
	s.mu.Unlock()
}

// Accepts reports how many handshakes have completed.
func (s *Server) Accepts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepts
}

// Close shuts the relay down.
func (s *Server) Close() {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.conn.Close()
	}
	s.srv.Close()
}
