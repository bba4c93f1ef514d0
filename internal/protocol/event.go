// Package protocol defines the relay wire contract: event names, the JSON
// envelope every frame travels in, and the payload carried by each event.
package protocol

// Event is the name of a relay event.
type Event string

// Relay events. Directions are from the client's point of view.
const (
	EventConnect      Event = "connect"           // client→relay auth, relay→client id ack
	EventSendOffer    Event = "send-offer"        // relay→caller: you are caller for this room
	EventOffer        Event = "offer"             // both directions
	EventAnswer       Event = "answer"            // both directions
	EventICECandidate Event = "add-ice-candidate" // both directions, trickled
	EventLobby        Event = "lobby"             // relay→client: you are waiting
	EventQueueWaiting Event = "queue:waiting"     // relay→client: searching
	EventQueueNext    Event = "queue:next"        // client→relay: request a new match
	EventQueueLeave   Event = "queue:leave"       // client→relay: leaving the queue/call
	EventPartnerLeft  Event = "partner:left"      // relay→client: the other party disconnected
	EventChatJoin     Event = "chat:join"         // client→relay
	EventChatMessage  Event = "chat:message"      // both directions
	EventChatSystem   Event = "chat:system"       // relay→client
	EventChatTyping   Event = "chat:typing"       // both directions
)

// EventDisconnect is never sent on the wire. The transport publishes it
// locally whenever the relay connection drops.
const EventDisconnect Event = "disconnect"
