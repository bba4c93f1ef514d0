package session

import (
	"context"
	"io"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/duet/internal/chat"
	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/peer"
	"github.com/1ureka/duet/internal/peer/peertest"
	"github.com/1ureka/duet/internal/protocol"
	"github.com/1ureka/duet/internal/signaling/signalingtest"
	"github.com/1ureka/duet/internal/util"
)

func init() {
	util.SetOutput(io.Discard)
}

type fakePreview struct {
	shown   int
	cleared bool
}

func (p *fakePreview) Show([]*media.Track) { p.shown++ }
func (p *fakePreview) SetMuted(bool)       {}
func (p *fakePreview) Play() error         { return nil }
func (p *fakePreview) Clear()              { p.cleared = true }

type harness struct {
	relay    *signalingtest.Transport
	factory  *peertest.Factory
	renderer *peertest.Renderer
	preview  *fakePreview
	media    *media.Controller
	sess     *Session
	left     bool
	snaps    []Snapshot
}

// newHarness starts a Session whose callbacks all run inline.
func newHarness(t *testing.T) *harness {
	t.Helper()
	audio, err := media.NewTrack(webrtc.RTPCodecTypeAudio, "audio", "local")
	require.NoError(t, err)
	video, err := media.NewTrack(webrtc.RTPCodecTypeVideo, "video", "local")
	require.NoError(t, err)

	h := &harness{
		relay:    signalingtest.NewTransport("abc"),
		factory:  &peertest.Factory{},
		renderer: &peertest.Renderer{},
		preview:  &fakePreview{},
		media:    media.NewController(audio, video),
	}
	h.sess, err = New(Config{
		Transport:     h.relay,
		Name:          "ada",
		Media:         h.media,
		Preview:       h.preview,
		NewConnection: h.factory.New,
		Renderers:     []media.Renderer{h.renderer},
		OnChange:      func(s Snapshot) { h.snaps = append(h.snaps, s) },
		OnLeave:       func() { h.left = true },
	})
	require.NoError(t, err)
	require.NoError(t, h.sess.Start(context.Background()))
	h.relay.Push(protocol.EventConnect, protocol.ConnectAck{ID: "abc"})
	return h
}

func (h *harness) assignCaller(room string) {
	h.relay.Push(protocol.EventSendOffer, protocol.RoomAssignment{RoomID: room})
}

func (h *harness) answer(room string) {
	h.relay.Push(protocol.EventAnswer, protocol.Description{
		RoomID: room,
		SDP:    webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"},
	})
}

func (h *harness) offer(room string) {
	h.relay.Push(protocol.EventOffer, protocol.Description{
		RoomID: room,
		SDP:    webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"},
	})
}

// assertLobby checks what every lobby entry must guarantee.
func (h *harness) assertLobby(t *testing.T) {
	t.Helper()
	snap := h.sess.Snapshot()
	assert.Equal(t, StateLobby, snap.State)
	assert.Zero(t, snap.ActivePeers)
	assert.Zero(t, snap.RemoteTracks)
	assert.False(t, snap.ChatOpen)
	assert.Empty(t, snap.RoomID)
	assert.Equal(t, peer.RoleNone, snap.Role)
	for _, c := range h.factory.Conns {
		assert.True(t, c.IsClosed())
	}
}

func (h *harness) assertDevicesLive(t *testing.T) {
	t.Helper()
	assert.True(t, h.media.Audio().Live())
	assert.True(t, h.media.Video().Live())
}

func TestStartConnectsAndBindsPreview(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 1, h.relay.Connects())
	assert.Equal(t, 1, h.preview.shown)

	snap := h.sess.Snapshot()
	assert.Equal(t, StateLobby, snap.State)
	assert.Equal(t, StatusWaiting, snap.Status)
	assert.Equal(t, "abc", snap.ConnectionID)
	assert.True(t, snap.MicOn)
	assert.True(t, snap.CamOn)
}

func TestNewRequiresTransportAndFactory(t *testing.T) {
	_, err := New(Config{NewConnection: (&peertest.Factory{}).New})
	assert.Error(t, err)
	_, err = New(Config{Transport: signalingtest.NewTransport("x")})
	assert.Error(t, err)
}

func TestCallerFlowReachesConnected(t *testing.T) {
	h := newHarness(t)
	h.assignCaller("r1")

	snap := h.sess.Snapshot()
	assert.Equal(t, StateConnecting, snap.State)
	assert.Equal(t, StatusConnecting, snap.Status)
	assert.Equal(t, peer.RoleCaller, snap.Role)
	assert.Equal(t, "r1", snap.RoomID)

	offers := h.relay.Sent(protocol.EventOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, "r1", offers[0].(protocol.Description).RoomID)
	assert.Len(t, h.relay.Sent(protocol.EventChatJoin), 1)

	h.answer("r1")

	conn := h.factory.Last()
	require.NotNil(t, conn.Remote)
	assert.Equal(t, webrtc.SDPTypeAnswer, conn.Remote.Type)
	assert.Equal(t, StateConnected, h.sess.State())
	assert.Equal(t, StatusConnected, h.sess.Snapshot().Status)
}

func TestAnswererFlowReachesConnected(t *testing.T) {
	h := newHarness(t)
	h.offer("r2")

	snap := h.sess.Snapshot()
	assert.Equal(t, StateConnected, snap.State)
	assert.Equal(t, peer.RoleAnswerer, snap.Role)
	assert.Equal(t, "r2", snap.RoomID)
	assert.Len(t, h.relay.Sent(protocol.EventAnswer), 1)
	assert.Len(t, h.factory.Last().Tracks, 2)
}

func TestPartnerLeftReturnsToLobbyKeepingDevices(t *testing.T) {
	h := newHarness(t)
	h.assignCaller("r1")
	h.answer("r1")
	h.factory.Last().Deliver(peertest.NewRemoteTrack("v", webrtc.RTPCodecTypeVideo))
	h.sess.ToggleChat()
	require.Equal(t, 1, h.sess.Snapshot().RemoteTracks)
	require.True(t, h.sess.Snapshot().ChatOpen)

	h.relay.Push(protocol.EventPartnerLeft, nil)

	h.assertLobby(t)
	h.assertDevicesLive(t)
	assert.True(t, h.media.Audio().Enabled())
	assert.True(t, h.media.Video().Enabled())
	assert.Equal(t, StatusPartnerLeft, h.sess.Snapshot().Status)
}

func TestPartnerLeftInLobbyIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.relay.Push(protocol.EventPartnerLeft, nil)
	assert.Equal(t, StatusWaiting, h.sess.Snapshot().Status)
}

func TestRepeatedSkipsKeepDevicesAndMuteState(t *testing.T) {
	h := newHarness(t)
	require.False(t, h.sess.ToggleMic())

	skipsBefore := util.Stats.Skips.Load()
	for i, room := range []string{"r1", "r2", "r3"} {
		if i%2 == 0 {
			h.assignCaller(room)
		} else {
			h.offer(room)
		}
		require.NoError(t, h.sess.Next())
		h.assertLobby(t)
		h.assertDevicesLive(t)
		assert.False(t, h.media.Audio().Enabled())
		assert.True(t, h.media.Video().Enabled())
	}

	assert.Len(t, h.relay.Sent(protocol.EventQueueNext), 3)
	assert.Equal(t, StatusNext, h.sess.Snapshot().Status)
	assert.GreaterOrEqual(t, util.Stats.Skips.Load()-skipsBefore, int64(3))
}

func TestNextInLobbyOnlyRequeues(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sess.Next())
	assert.Len(t, h.relay.Sent(protocol.EventQueueNext), 1)
	assert.Zero(t, h.factory.Count())
}

func TestLateAnswerAfterSkipIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.assignCaller("r1")
	require.NoError(t, h.sess.Next())

	assert.NotPanics(t, func() { h.answer("r1") })
	assert.Equal(t, StateLobby, h.sess.State())
	assert.Nil(t, h.factory.Last().Remote)
}

func TestLeaveMidNegotiation(t *testing.T) {
	h := newHarness(t)
	h.assignCaller("r1")
	conn := h.factory.Last()

	h.sess.Leave()

	assert.NotPanics(t, func() { h.answer("r1") })
	assert.Nil(t, conn.Remote)
	assert.True(t, conn.IsClosed())
	assert.True(t, conn.Removed)

	assert.Equal(t, StateTerminated, h.sess.State())
	assert.Contains(t, h.relay.Events(), protocol.EventQueueLeave)
	assert.True(t, h.relay.Closed())
	assert.False(t, h.media.Audio().Live())
	assert.False(t, h.media.Video().Live())
	assert.True(t, h.preview.cleared)
	assert.True(t, h.left)

	assert.ErrorIs(t, h.sess.Next(), ErrTerminated)
}

func TestCloseOrder(t *testing.T) {
	h := newHarness(t)
	h.assignCaller("r1")
	conn := h.factory.Last()

	h.relay.OnClose = func() {
		// Handlers are gone but the peer connection is still open.
		assert.Zero(t, h.relay.HandlerCount(protocol.EventAnswer))
		assert.Zero(t, h.relay.HandlerCount(protocol.EventPartnerLeft))
		assert.Zero(t, h.relay.HandlerCount(protocol.EventChatMessage))
		assert.Zero(t, h.relay.HandlerCount(protocol.EventChatTyping))
		assert.False(t, conn.IsClosed())
		assert.False(t, h.preview.cleared)
	}
	h.sess.Close()

	assert.True(t, conn.IsClosed())
	assert.True(t, h.preview.cleared)
	assert.Equal(t, StateTerminated, h.sess.State())
	// Close leaves the devices to their owner.
	h.assertDevicesLive(t)
	assert.False(t, h.left)

	h.sess.Close()
}

func TestRoleChangeInSameRoomKeepsOneSlot(t *testing.T) {
	h := newHarness(t)
	h.assignCaller("r1")
	caller := h.factory.Last()

	h.offer("r1")

	assert.True(t, caller.IsClosed())
	assert.True(t, caller.Removed)
	snap := h.sess.Snapshot()
	assert.Equal(t, 1, snap.ActivePeers)
	assert.Equal(t, peer.RoleAnswerer, snap.Role)
	assert.Equal(t, StateConnected, snap.State)
	assert.Equal(t, "r1", snap.RoomID)
	assert.Len(t, h.relay.Sent(protocol.EventChatJoin), 1, "the chat scope is kept")
	h.assertDevicesLive(t)
}

func TestRemoteCandidatesReachTheOppositeSlot(t *testing.T) {
	h := newHarness(t)
	h.offer("r1")
	answerer := h.factory.Last()

	cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"}
	h.relay.Push(protocol.EventICECandidate, protocol.Candidate{RoomID: "r1", Candidate: cand, Type: protocol.TagSender})
	h.relay.Push(protocol.EventICECandidate, protocol.Candidate{RoomID: "r1", Candidate: cand, Type: protocol.TagReceiver})

	assert.Equal(t, 1, answerer.CandidateCount())
}

func TestLocalCandidatesAreTrickled(t *testing.T) {
	h := newHarness(t)
	h.assignCaller("r1")
	h.answer("r1")

	h.factory.Last().Gather(webrtc.ICECandidateInit{Candidate: "candidate:2"})
	sent := h.relay.Sent(protocol.EventICECandidate)
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.TagSender, sent[0].(protocol.Candidate).Type)
}

func TestRelayLobbyMidCallTearsDown(t *testing.T) {
	tests := []struct {
		event  protocol.Event
		status string
	}{
		{protocol.EventLobby, StatusWaiting},
		{protocol.EventQueueWaiting, StatusSearching},
	}
	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			h := newHarness(t)
			h.offer("r1")
			h.relay.Push(tt.event, nil)
			h.assertLobby(t)
			assert.Equal(t, tt.status, h.sess.Snapshot().Status)
		})
	}
}

func TestTogglesDoNotRenegotiate(t *testing.T) {
	h := newHarness(t)
	h.assignCaller("r1")
	h.answer("r1")
	h.relay.Reset()

	assert.False(t, h.sess.ToggleMic())
	assert.False(t, h.sess.ToggleCam())
	assert.True(t, h.sess.ToggleMic())

	assert.Equal(t, 1, h.factory.Count())
	assert.Empty(t, h.relay.Events())
	snap := h.sess.Snapshot()
	assert.True(t, snap.MicOn)
	assert.False(t, snap.CamOn)
	assert.Equal(t, StateConnected, snap.State)
}

func TestRecheckDoesNotEndTheCall(t *testing.T) {
	h := newHarness(t)
	h.offer("r1")
	h.sess.Recheck()

	snap := h.sess.Snapshot()
	assert.Equal(t, StateConnected, snap.State)
	assert.Equal(t, StatusRechecking, snap.Status)
	assert.Equal(t, 1, snap.ActivePeers)
}

func TestChatPanelOnlyOpensInCall(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.sess.ToggleChat())

	h.offer("r1")
	assert.True(t, h.sess.ToggleChat())
	assert.False(t, h.sess.ToggleChat())
}

func TestChatThroughSession(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.sess.SendChat("hi"), chat.ErrCannotSend)

	h.offer("r1")
	require.NoError(t, h.sess.SendChat("hello"))
	h.relay.Push(protocol.EventChatMessage, protocol.ChatMessage{RoomID: "r1", Text: "hello", ClientID: "abc"})

	snap := h.sess.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.True(t, snap.CanSend)

	// A new match starts with an empty log.
	require.NoError(t, h.sess.Next())
	h.assignCaller("r2")
	assert.Empty(t, h.sess.Snapshot().Messages)
}

func TestFinalDisconnectReturnsToLobby(t *testing.T) {
	h := newHarness(t)
	h.offer("r1")

	h.relay.Push(protocol.EventDisconnect, protocol.Disconnect{Reason: "gone", Final: false})
	assert.Equal(t, StatusReconnecting, h.sess.Snapshot().Status)
	assert.Equal(t, StateConnected, h.sess.State())

	h.relay.Push(protocol.EventDisconnect, protocol.Disconnect{Reason: "gone", Final: true})
	h.assertLobby(t)
	assert.Equal(t, StatusDisconnected, h.sess.Snapshot().Status)
	h.assertDevicesLive(t)
}

func TestReconnectDuringCallDropsTheRoom(t *testing.T) {
	h := newHarness(t)
	h.offer("r1")

	h.relay.SetID("def")
	h.relay.Push(protocol.EventConnect, protocol.ConnectAck{ID: "def"})

	h.assertLobby(t)
	assert.Equal(t, "def", h.sess.Snapshot().ConnectionID)
}

func TestMatchesAreCounted(t *testing.T) {
	h := newHarness(t)
	before := util.Stats.Matches.Load()
	h.assignCaller("r1")
	h.answer("r1")
	assert.GreaterOrEqual(t, util.Stats.Matches.Load()-before, int64(1))
}

func TestOnChangeIsCalled(t *testing.T) {
	h := newHarness(t)
	n := len(h.snaps)
	h.offer("r1")
	require.Greater(t, len(h.snaps), n)
	assert.Equal(t, StateConnected, h.snaps[len(h.snaps)-1].State)
}
