package session

import (
	"fmt"

	"github.com/1ureka/duet/internal/chat"
	"github.com/1ureka/duet/internal/peer"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateLobby State = iota
	StateConnecting
	StateConnected
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateLobby:
		return "lobby"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// InCall reports whether the state holds a room.
func (s State) InCall() bool {
	return s == StateConnecting || s == StateConnected
}

// Status lines shown to the user.
const (
	StatusWaiting      = "Waiting to connect you to someone…"
	StatusSearching    = "Searching for the best match…"
	StatusConnecting   = "Connecting…"
	StatusConnected    = "Connected"
	StatusPartnerLeft  = "Partner left. Finding a new match…"
	StatusNext         = "Searching for your next match…"
	StatusRechecking   = "Rechecking…"
	StatusReconnecting = "Reconnecting…"
	StatusDisconnected = "Disconnected"
)

// Snapshot is a copy of everything a UI shows about a Session.
type Snapshot struct {
	State        State
	Status       string
	RoomID       string
	Role         peer.Role
	ConnectionID string

	MicOn bool
	CamOn bool

	ChatOpen   bool
	CanSend    bool
	Messages   []chat.Message
	PeerTyping bool

	ActivePeers  int
	RemoteTracks int
}
