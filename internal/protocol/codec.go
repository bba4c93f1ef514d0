package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingEvent is returned by Decode for a frame without an event name.
var ErrMissingEvent = errors.New("frame has no event name")

// Envelope is the JSON structure of every relay frame.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode serializes an event and its payload into a relay frame. A nil
// payload produces a frame without data.
func Encode(event Event, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Decode deserializes a relay frame into an Envelope.
func Decode(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if env.Event == "" {
		return nil, ErrMissingEvent
	}
	return &env, nil
}

// Unmarshal decodes event data into v. Empty data leaves v untouched.
func Unmarshal(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
