package peer

import (
	"fmt"

	"github.com/1ureka/duet/internal/protocol"
)

// Role is the part a session plays in a match, as assigned by the relay.
type Role int

const (
	RoleNone     Role = iota
	RoleCaller        // creates the offer; uses the sending slot
	RoleAnswerer      // answers the offer; uses the receiving slot
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleCaller:
		return "caller"
	case RoleAnswerer:
		return "answerer"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Slot is one of the two peer-connection holders.
type Slot int

const (
	SlotSending   Slot = iota // holds the caller's connection
	SlotReceiving             // holds the answerer's connection
)

func (s Slot) String() string {
	if s == SlotSending {
		return "sending"
	}
	return "receiving"
}

func (r Role) slot() Slot {
	if r == RoleAnswerer {
		return SlotReceiving
	}
	return SlotSending
}

// tag is how candidates gathered by this role are labelled on the wire.
func (r Role) tag() protocol.CandidateTag {
	if r == RoleAnswerer {
		return protocol.TagReceiver
	}
	return protocol.TagSender
}

// descriptionEvent is the event that carries this role's local description.
func (r Role) descriptionEvent() protocol.Event {
	if r == RoleAnswerer {
		return protocol.EventAnswer
	}
	return protocol.EventOffer
}

// slotForTag routes a remote candidate: the tag names the side that
// gathered it, so it belongs to the local connection on the other side.
func slotForTag(tag protocol.CandidateTag) (Slot, bool) {
	switch tag {
	case protocol.TagSender:
		return SlotReceiving, true
	case protocol.TagReceiver:
		return SlotSending, true
	default:
		return 0, false
	}
}
