package session

import (
	"context"
	"sync"
	"testing"

	"github.com/gregriff/jamsesh/internal/schemas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeConn) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakeConn) CreateRoom() error { return f.record("create") }
func (f *fakeConn) Validate(code string) error { return f.record("validate " + code) }
func (f *fakeConn) JoinRoom(code, name string) error { return f.record("join " + code + " " + name) }
func (f *fakeConn) StartCall(code string) error { return f.record("start " + code) }
func (f *fakeConn) EndCall(code string) error { return f.record("end " + code) }

type fakePeers struct {
	mu        sync.Mutex
	connected []string
	closed    []string
	closeAll  int
	signals   []schemas.Message
}

func (f *fakePeers) Connect(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = append(f.connected, id)
	return nil
}

func (f *fakePeers) HandleSignal(msg schemas.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, msg)
	return nil
}

func (f *fakePeers) Close(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
}

func (f *fakePeers) CloseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeAll++
}

type fakeEvents struct {
	rooms    []string
	roster   schemas.RoomSnapshot
	joined   []string
	left     []string
	promoted []string
	started  []bool
	ended    int
}

func (e *fakeEvents) RoomReady(code string) { e.rooms = append(e.rooms, code) }
func (e *fakeEvents) Roster(s schemas.RoomSnapshot, _ string) { e.roster = s }
func (e *fakeEvents) ParticipantJoined(p schemas.Participant) { e.joined = append(e.joined, p.ID) }
func (e *fakeEvents) ParticipantLeft(p schemas.Participant) { e.left = append(e.left, p.ID) }
func (e *fakeEvents) HostPromoted(name string, _ bool) { e.promoted = append(e.promoted, name) }
func (e *fakeEvents) CallStarted(hosting bool) { e.started = append(e.started, hosting) }
func (e *fakeEvents) CallEnded() { e.ended++ }

func participants(hostID string, ids ...string) []schemas.Participant {
	ps := make([]schemas.Participant, 0, len(ids))
	for _, id := range ids {
		ps = append(ps, schemas.Participant{ID: id, Username: "user-" + id, IsHost: id == hostID})
	}
	return ps
}

func roomUpdate(hostID string, ids ...string) schemas.Message {
	return schemas.Message{Type: schemas.TypeRoomUpdate, Participants: participants(hostID, ids...), HostID: hostID}
}

type harness struct {
	ctrl   *Controller
	conn   *fakeConn
	peers  *fakePeers
	events *fakeEvents
}

func newHarness(cfg Config) *harness {
	h := &harness{conn: &fakeConn{}, peers: &fakePeers{}, events: &fakeEvents{}}
	h.ctrl = New(h.conn, h.peers, h.events, cfg)
	return h
}

func (h *harness) handle(t *testing.T, msgs ...schemas.Message) {
	t.Helper()
	for _, m := range msgs {
		require.NoError(t, h.ctrl.Handle(m))
	}
}

func TestCreateThenJoinOwnRoom(t *testing.T) {
	h := newHarness(Config{Username: "ana"})

	h.handle(t,
		schemas.Message{Type: schemas.TypeInit, ClientID: "a"},
		schemas.Message{Type: schemas.TypeRoomCreated, Code: "042871"},
	)
	assert.Equal(t, []string{"create", "join 042871 ana"}, h.conn.calls)

	h.handle(t, schemas.Message{
		Type: schemas.TypeJoinSuccess, Code: "042871", IsHost: true,
		Participants: participants("a", "a"), HostID: "a",
	})
	st := h.ctrl.Status()
	assert.Equal(t, "042871", st.Code)
	assert.True(t, st.Streaming)
	assert.False(t, st.InCall, "no autostart")
}

func TestJoinValidatesFirst(t *testing.T) {
	h := newHarness(Config{Username: "bo", Code: "042871"})

	h.handle(t,
		schemas.Message{Type: schemas.TypeInit, ClientID: "b"},
		schemas.Message{Type: schemas.TypeValidation, Status: schemas.StatusValid},
	)
	assert.Equal(t, []string{"validate 042871", "join 042871 bo"}, h.conn.calls)
}

func TestInvalidCodeEndsSession(t *testing.T) {
	h := newHarness(Config{Username: "bo", Code: "000000"})
	h.handle(t, schemas.Message{Type: schemas.TypeInit, ClientID: "b"})

	err := h.ctrl.Handle(schemas.Message{Type: schemas.TypeValidation, Status: schemas.StatusInvalid})
	assert.ErrorIs(t, err, ErrNoRoom)
}

func TestHostStreamsToEveryoneAndLateJoiners(t *testing.T) {
	h := newHarness(Config{Username: "ana"})
	h.handle(t,
		schemas.Message{Type: schemas.TypeInit, ClientID: "a"},
		schemas.Message{Type: schemas.TypeJoinSuccess, Code: "042871", IsHost: true, Participants: participants("a", "a"), HostID: "a"},
		schemas.Message{Type: schemas.TypeUserJoined, NewParticipant: schemas.Participant{ID: "b"}},
		roomUpdate("a", "a", "b"),
	)
	assert.Empty(t, h.peers.connected, "no call yet")

	require.NoError(t, h.ctrl.StartCall())
	assert.Contains(t, h.conn.calls, "start 042871")
	assert.Equal(t, []string{"b"}, h.peers.connected)
	assert.Equal(t, []bool{true}, h.events.started)

	h.handle(t,
		schemas.Message{Type: schemas.TypeUserJoined, NewParticipant: schemas.Participant{ID: "c"}},
		roomUpdate("a", "a", "b", "c"),
	)
	assert.Equal(t, []string{"b", "c"}, h.peers.connected)
}

func TestAutoStart(t *testing.T) {
	h := newHarness(Config{Username: "ana", AutoStart: true})
	h.handle(t,
		schemas.Message{Type: schemas.TypeInit, ClientID: "a"},
		schemas.Message{Type: schemas.TypeJoinSuccess, Code: "042871", IsHost: true, Participants: participants("a", "a"), HostID: "a"},
		schemas.Message{Type: schemas.TypeHostPromoted, NewHostID: "a", NewHostUsername: "ana", IsYou: true},
	)
	assert.True(t, h.ctrl.Status().InCall)
	assert.Equal(t, 1, countCalls(h.conn.calls, "start 042871"), "repeated promotion does not restart the call")
}

func countCalls(calls []string, want string) int {
	n := 0
	for _, c := range calls {
		if c == want {
			n++
		}
	}
	return n
}

func TestListenerCannotControlCall(t *testing.T) {
	h := newHarness(Config{Username: "bo", Code: "042871"})
	h.handle(t,
		schemas.Message{Type: schemas.TypeInit, ClientID: "b"},
		schemas.Message{Type: schemas.TypeJoinSuccess, Code: "042871", Participants: participants("a", "a", "b"), HostID: "a"},
	)
	assert.ErrorIs(t, h.ctrl.StartCall(), ErrNotHost)
	assert.ErrorIs(t, h.ctrl.EndCall(), ErrNotHost)
}

func TestCommandsBeforeJoining(t *testing.T) {
	h := newHarness(Config{})
	assert.ErrorIs(t, h.ctrl.StartCall(), ErrNotInRoom)
	assert.ErrorIs(t, h.ctrl.EndCall(), ErrNotInRoom)
}

func TestPromotedListenerReconnectsDuringCall(t *testing.T) {
	h := newHarness(Config{Username: "bo", Code: "042871"})
	h.handle(t,
		schemas.Message{Type: schemas.TypeInit, ClientID: "b"},
		schemas.Message{Type: schemas.TypeJoinSuccess, Code: "042871", Participants: participants("a", "a", "b", "c"), HostID: "a"},
		schemas.Message{Type: schemas.TypeStartCall, From: "a"},
	)
	assert.Equal(t, []bool{false}, h.events.started)

	// the host disconnects mid call
	h.handle(t,
		schemas.Message{Type: schemas.TypeClientLeft, Participant: schemas.Participant{ID: "a"}},
		schemas.Message{Type: schemas.TypeHostPromoted, NewHostID: "b", NewHostUsername: "bo", IsYou: true},
		roomUpdate("b", "b", "c"),
	)
	assert.Equal(t, []string{"a"}, h.peers.closed)
	assert.Equal(t, []string{"c"}, h.peers.connected)
	assert.Equal(t, "b", h.events.roster.HostID)

	// a duplicate promotion opens nothing new
	h.handle(t, schemas.Message{Type: schemas.TypeHostPromoted, NewHostID: "b", IsYou: true})
	assert.Equal(t, []string{"c"}, h.peers.connected)
}

func TestEndCallHandsOff(t *testing.T) {
	h := newHarness(Config{Username: "ana"})
	h.handle(t,
		schemas.Message{Type: schemas.TypeInit, ClientID: "a"},
		schemas.Message{Type: schemas.TypeJoinSuccess, Code: "042871", IsHost: true, Participants: participants("a", "a"), HostID: "a"},
		roomUpdate("a", "a", "b"),
	)
	require.NoError(t, h.ctrl.StartCall())
	require.NoError(t, h.ctrl.EndCall())

	assert.Contains(t, h.conn.calls, "end 042871")
	assert.Equal(t, 1, h.peers.closeAll)
	assert.Equal(t, 1, h.events.ended)
	st := h.ctrl.Status()
	assert.False(t, st.Streaming)
	assert.False(t, st.InCall)

	h.handle(t,
		schemas.Message{Type: schemas.TypeHostPromoted, NewHostID: "b", NewHostUsername: "bo"},
		roomUpdate("b", "a", "b"),
	)
	assert.ErrorIs(t, h.ctrl.StartCall(), ErrNotHost)
}

func TestHostAloneCanRestartAfterEnding(t *testing.T) {
	h := newHarness(Config{Username: "ana"})
	h.handle(t,
		schemas.Message{Type: schemas.TypeInit, ClientID: "a"},
		schemas.Message{Type: schemas.TypeJoinSuccess, Code: "042871", IsHost: true, Participants: participants("a", "a"), HostID: "a"},
	)
	require.NoError(t, h.ctrl.StartCall())
	require.NoError(t, h.ctrl.EndCall())
	h.handle(t, roomUpdate("a", "a"))

	require.NoError(t, h.ctrl.StartCall())
	assert.True(t, h.ctrl.Status().Streaming)
}

func TestListenerLeavesCallOnEnd(t *testing.T) {
	h := newHarness(Config{Username: "bo", Code: "042871"})
	h.handle(t,
		schemas.Message{Type: schemas.TypeInit, ClientID: "b"},
		schemas.Message{Type: schemas.TypeJoinSuccess, Code: "042871", Participants: participants("a", "a", "b"), HostID: "a"},
		schemas.Message{Type: schemas.TypeStartCall, From: "a"},
		schemas.Message{Type: schemas.TypeEndCall, From: "a"},
	)
	assert.Equal(t, 1, h.peers.closeAll)
	assert.False(t, h.ctrl.Status().InCall)
}

func TestSignalsGoToPeers(t *testing.T) {
	h := newHarness(Config{})
	offer := schemas.Message{Type: schemas.TypeOffer, From: "a", SDP: []byte(`{"type":"offer","sdp":"v=0"}`)}
	h.handle(t, offer, schemas.Message{Type: "bogus"})
	assert.Equal(t, []schemas.Message{offer}, h.peers.signals)
}

func TestRunStopsOnChannelClose(t *testing.T) {
	h := newHarness(Config{})
	msgs := make(chan schemas.Message, 1)
	msgs <- schemas.Message{Type: schemas.TypeInit, ClientID: "x"}
	close(msgs)

	require.NoError(t, h.ctrl.Run(context.Background(), msgs))
	assert.Equal(t, "x", h.ctrl.Status().SelfID)
	assert.Equal(t, 1, h.peers.closeAll)
}
