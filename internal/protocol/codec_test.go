package protocol

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWireShape(t *testing.T) {
	testCases := []struct {
		name    string
		event   Event
		payload any
		want    string
	}{
		{
			name:    "connect carries auth name",
			event:   EventConnect,
			payload: ConnectRequest{Auth: Auth{Name: "ada"}},
			want:    `{"event":"connect","data":{"auth":{"name":"ada"}}}`,
		},
		{
			name:    "queue:next has no data",
			event:   EventQueueNext,
			payload: nil,
			want:    `{"event":"queue:next"}`,
		},
		{
			name:  "offer nests the session description",
			event: EventOffer,
			payload: Description{
				RoomID: "r1",
				SDP:    webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
			},
			want: `{"event":"offer","data":{"roomId":"r1","sdp":{"type":"offer","sdp":"v=0"}}}`,
		},
		{
			name:    "chat message uses clientId and ts",
			event:   EventChatMessage,
			payload: ChatMessage{RoomID: "r1", Text: "hi", From: "ada", ClientID: "abc", TS: 42},
			want:    `{"event":"chat:message","data":{"roomId":"r1","text":"hi","from":"ada","clientId":"abc","ts":42}}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := Encode(tc.event, tc.payload)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(frame))
		})
	}
}

func TestDecodeCandidate(t *testing.T) {
	frame := []byte(`{"event":"add-ice-candidate","data":{"roomId":"r9","type":"sender",` +
		`"candidate":{"candidate":"candidate:1 1 udp 2122260223 10.0.0.2 50000 typ host","sdpMid":"0","sdpMLineIndex":0}}}`)

	env, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, EventICECandidate, env.Event)

	var c Candidate
	require.NoError(t, Unmarshal(env.Data, &c))
	assert.Equal(t, "r9", c.RoomID)
	assert.Equal(t, TagSender, c.Type)
	require.NotNil(t, c.Candidate.SDPMid)
	assert.Equal(t, "0", *c.Candidate.SDPMid)
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	_, err := Decode([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, ErrMissingEvent)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestUnmarshalEmptyData(t *testing.T) {
	a := RoomAssignment{RoomID: "keep"}
	require.NoError(t, Unmarshal(nil, &a))
	assert.Equal(t, "keep", a.RoomID)

	require.NoError(t, Unmarshal(json.RawMessage(`{"roomId":"r2"}`), &a))
	assert.Equal(t, "r2", a.RoomID)
}
