package protocol

import (
	"github.com/pion/webrtc/v4"
)

// CandidateTag identifies which side of a match originated an ICE candidate.
type CandidateTag string

const (
	TagSender   CandidateTag = "sender"   // gathered by the caller's connection
	TagReceiver CandidateTag = "receiver" // gathered by the answerer's connection
)

// Auth carries the identity a client presents when it connects.
type Auth struct {
	Name string `json:"name"`
}

// ConnectRequest is the first frame a client writes after dialing.
type ConnectRequest struct {
	Auth Auth `json:"auth"`
}

// ConnectAck is the relay's reply to ConnectRequest.
type ConnectAck struct {
	ID string `json:"id"`
}

// Disconnect is the payload of the local EventDisconnect.
type Disconnect struct {
	Reason string `json:"reason"`
	Final  bool   `json:"final"` // reconnection attempts exhausted
}

// RoomAssignment is the payload of send-offer.
type RoomAssignment struct {
	RoomID string `json:"roomId"`
}

// Description carries an offer or an answer for a room.
type Description struct {
	RoomID string                    `json:"roomId"`
	SDP    webrtc.SessionDescription `json:"sdp"`
}

// Candidate carries one trickled ICE candidate.
type Candidate struct {
	RoomID    string                  `json:"roomId"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
	Type      CandidateTag            `json:"type"`
}

// ChatJoin enters the chat scope of a room.
type ChatJoin struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

// ChatMessage is a user chat message. TS is a unix timestamp in milliseconds.
type ChatMessage struct {
	RoomID   string `json:"roomId"`
	Text     string `json:"text"`
	From     string `json:"from"`
	ClientID string `json:"clientId"`
	TS       int64  `json:"ts"`
}

// ChatSystem is a relay notice.
type ChatSystem struct {
	Text string `json:"text"`
}

// ChatTyping is a typing indicator update.
type ChatTyping struct {
	RoomID string `json:"roomId"`
	From   string `json:"from"`
	Typing bool   `json:"typing"`
}
