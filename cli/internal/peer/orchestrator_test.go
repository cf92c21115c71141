package peer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gregriff/jamsesh/cli/internal/bitrate"
	"github.com/gregriff/jamsesh/internal/schemas"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSignaler struct {
	mu   sync.Mutex
	sent []schemas.Signal
}

func (f *fakeSignaler) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v.(schemas.Signal))
	return nil
}

func (f *fakeSignaler) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []string
	for _, s := range f.sent {
		types = append(types, s.Type)
	}
	return types
}

func (f *fakeSignaler) last() schemas.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type fakeTransport struct {
	peerID string
	events TransportEvents
	gather []webrtc.ICECandidateInit

	mu         sync.Mutex
	attached   bool
	answered   bool
	candidates []webrtc.ICECandidateInit
	closed     bool
	stats      bitrate.Sample
	statsOK    bool
	offers     int

	// rejectOffers makes AcceptOffer fail, as a connection does for an offer from a restarted peer.
	rejectOffers bool
}

func (t *fakeTransport) AttachAudio(webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attached = true
	return nil
}

func (t *fakeTransport) emitGathered() {
	for _, c := range t.gather {
		t.events.OnCandidate(c)
	}
}

func (t *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	t.emitGathered()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-to-" + t.peerID}, nil
}

func (t *fakeTransport) AcceptOffer(webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	t.mu.Lock()
	reject := t.rejectOffers
	t.offers++
	t.mu.Unlock()
	if reject {
		return webrtc.SessionDescription{}, errors.New("fingerprint changed")
	}
	t.emitGathered()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-to-" + t.peerID}, nil
}

func (t *fakeTransport) AcceptAnswer(webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.answered = true
	return nil
}

func (t *fakeTransport) AddCandidate(c webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.candidates = append(t.candidates, c)
	return nil
}

func (t *fakeTransport) OutboundAudioStats() (bitrate.Sample, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats, t.statsOK, nil
}

func (t *fakeTransport) setStats(s bitrate.Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats, t.statsOK = s, true
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) appliedCandidates() []webrtc.ICECandidateInit {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), t.candidates...)
}

type fakeFactory struct {
	mu         sync.Mutex
	transports map[string][]*fakeTransport
	gather     []webrtc.ICECandidateInit
	err        error

	// gate, when set, holds NewTransport until closed.
	gate    chan struct{}
	waiting atomic.Int32
}

func (f *fakeFactory) NewTransport(_ context.Context, peerID string, events TransportEvents) (Transport, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		f.waiting.Add(1)
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.transports == nil {
		f.transports = make(map[string][]*fakeTransport)
	}
	t := &fakeTransport{peerID: peerID, events: events, gather: f.gather}
	f.transports[peerID] = append(f.transports[peerID], t)
	return t, nil
}

func (f *fakeFactory) created(peerID string) []*fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[peerID]
}

type fakeSender struct {
	mu      sync.Mutex
	applied []int
	closed  bool
}

func (s *fakeSender) Track() webrtc.TrackLocal { return nil }

func (s *fakeSender) SetMaxBitrate(bps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, bps)
	return nil
}

func (s *fakeSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSender) appliedRates() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.applied...)
}

type fakeSource struct {
	mu      sync.Mutex
	initial map[string]int
	senders map[string]*fakeSender
}

func (f *fakeSource) NewSender(peerID string, bps int) (AudioSender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.senders == nil {
		f.senders = make(map[string]*fakeSender)
		f.initial = make(map[string]int)
	}
	s := &fakeSender{}
	f.senders[peerID] = s
	f.initial[peerID] = bps
	return s, nil
}

type fakePlayer struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePlayer) record(e string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *fakePlayer) Suspend() error { return p.record("suspend") }
func (p *fakePlayer) Resume() error  { return p.record("resume") }
func (p *fakePlayer) Close() error   { return p.record("close") }

func (p *fakePlayer) log() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type fakeSink struct {
	mu      sync.Mutex
	players []*fakePlayer
}

func (f *fakeSink) Play(string, *webrtc.TrackRemote) (Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePlayer{}
	f.players = append(f.players, p)
	return p, nil
}

func (f *fakeSink) played() []*fakePlayer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePlayer(nil), f.players...)
}

type fixture struct {
	orch    *Orchestrator
	sig     *fakeSignaler
	factory *fakeFactory
	source  *fakeSource
	sink    *fakeSink
	clock   *clock.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sig:     &fakeSignaler{},
		factory: &fakeFactory{},
		source:  &fakeSource{},
		sink:    &fakeSink{},
		clock:   clock.NewMock(),
	}
	f.orch = New(context.Background(), f.sig, f.factory, Config{
		Source: f.source,
		Sink:   f.sink,
		Clock:  f.clock,
	})
	t.Cleanup(f.orch.CloseAll)
	return f
}

func offerFrom(peer string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-from-" + peer}
}

func answerFrom(peer string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-from-" + peer}
}

func TestConnectOffersThenConnectsOnAnswer(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.Connect("bob"))
	assert.Equal(t, Negotiating, f.orch.State("bob"))

	offer := f.sig.last()
	assert.Equal(t, schemas.TypeOffer, offer.Type)
	assert.Equal(t, "bob", offer.To)
	var sd webrtc.SessionDescription
	require.NoError(t, json.Unmarshal(offer.SDP, &sd))
	assert.Equal(t, "offer-to-bob", sd.SDP)

	transport := f.factory.created("bob")[0]
	assert.True(t, transport.attached)
	assert.Equal(t, bitrate.Medium.Bitrate(), f.source.initial["bob"])

	_, sending := f.orch.Level("bob")
	assert.False(t, sending, "bitrate control starts once connected")

	require.NoError(t, f.orch.HandleAnswer("bob", answerFrom("bob")))
	assert.Equal(t, Connected, f.orch.State("bob"))
	assert.True(t, transport.answered)

	level, sending := f.orch.Level("bob")
	assert.True(t, sending)
	assert.Equal(t, bitrate.Medium, level)
}

func TestConnectToExistingPeerIsNoop(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.Connect("bob"))
	require.NoError(t, f.orch.HandleAnswer("bob", answerFrom("bob")))
	require.NoError(t, f.orch.Connect("bob"))

	assert.Len(t, f.factory.created("bob"), 1)
	assert.Equal(t, []string{schemas.TypeOffer}, f.sig.types())
	assert.Equal(t, Connected, f.orch.State("bob"))
}

func TestRemoteCandidatesWaitForRemoteDescription(t *testing.T) {
	f := newFixture(t)
	early := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.2 4000 typ host"}
	late := webrtc.ICECandidateInit{Candidate: "candidate:2 1 udp 1 10.0.0.2 4001 typ host"}

	require.NoError(t, f.orch.Connect("bob"))
	transport := f.factory.created("bob")[0]

	require.NoError(t, f.orch.HandleCandidate("bob", early))
	assert.Empty(t, transport.appliedCandidates())

	require.NoError(t, f.orch.HandleAnswer("bob", answerFrom("bob")))
	assert.Equal(t, []webrtc.ICECandidateInit{early}, transport.appliedCandidates())

	require.NoError(t, f.orch.HandleCandidate("bob", late))
	assert.Equal(t, []webrtc.ICECandidateInit{early, late}, transport.appliedCandidates())
}

func TestLocalCandidatesFollowTheDescription(t *testing.T) {
	f := newFixture(t)
	f.factory.gather = []webrtc.ICECandidateInit{{Candidate: "candidate:1 1 udp 1 192.168.1.5 5000 typ host"}}

	require.NoError(t, f.orch.Connect("bob"))
	require.NoError(t, f.orch.HandleOffer("cat", offerFrom("cat")))

	assert.Equal(t, []string{
		schemas.TypeOffer, schemas.TypeICECandidate,
		schemas.TypeAnswer, schemas.TypeICECandidate,
	}, f.sig.types())

	c := f.sig.last()
	assert.Equal(t, "cat", c.To)
	var got webrtc.ICECandidateInit
	require.NoError(t, json.Unmarshal(c.Candidate, &got))
	assert.Equal(t, f.factory.gather[0].Candidate, got.Candidate)
}

func TestCandidateForUnknownPeerIsDropped(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, f.orch.HandleCandidate("ghost", webrtc.ICECandidateInit{Candidate: "candidate:x"}))
	assert.NoError(t, f.orch.HandleAnswer("ghost", answerFrom("ghost")))
	assert.Empty(t, f.factory.created("ghost"))
	assert.Equal(t, Idle, f.orch.State("ghost"))
}

func TestResponderAnswersWithoutSendingAudio(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.HandleOffer("host", offerFrom("host")))
	assert.Equal(t, Connected, f.orch.State("host"))
	assert.Equal(t, schemas.TypeAnswer, f.sig.last().Type)
	assert.False(t, f.factory.created("host")[0].attached)

	_, sending := f.orch.Level("host")
	assert.False(t, sending)
}

func (t *fakeTransport) rejectNextOffers() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rejectOffers = true
}

func TestRepeatedOfferRenegotiatesExistingSession(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.HandleOffer("host", offerFrom("host")))
	require.NoError(t, f.orch.HandleOffer("host", offerFrom("host")))

	transports := f.factory.created("host")
	require.Len(t, transports, 1)
	assert.Equal(t, 2, transports[0].offers)
	assert.Equal(t, Connected, f.orch.State("host"))
	assert.Equal(t, []string{schemas.TypeAnswer, schemas.TypeAnswer}, f.sig.types())
}

func TestOfferFromRestartedPeerReplacesSession(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.HandleOffer("host", offerFrom("host")))
	f.factory.created("host")[0].rejectNextOffers()
	require.NoError(t, f.orch.HandleOffer("host", offerFrom("host")))

	transports := f.factory.created("host")
	require.Len(t, transports, 2)
	assert.True(t, transports[0].isClosed())
	assert.False(t, transports[1].isClosed())
	assert.Equal(t, []string{"host"}, f.orch.Peers())
}

func TestReconnectAfterClose(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.Connect("bob"))
	f.orch.Close("bob")
	assert.Equal(t, Idle, f.orch.State("bob"))

	require.NoError(t, f.orch.Connect("bob"))
	assert.Len(t, f.factory.created("bob"), 2)
	assert.Equal(t, Negotiating, f.orch.State("bob"))
}

func TestBitrateControlRunsUntilClose(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.Connect("bob"))
	require.NoError(t, f.orch.HandleAnswer("bob", answerFrom("bob")))
	transport := f.factory.created("bob")[0]
	sender := f.source.senders["bob"]

	transport.setStats(bitrate.Sample{FractionLost: 0.20, RoundTripTime: 0.05})
	require.Eventually(t, func() bool {
		f.clock.Add(time.Second)
		level, _ := f.orch.Level("bob")
		return level == bitrate.Low
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{bitrate.Low.Bitrate()}, sender.appliedRates())

	f.orch.Close("bob")
	assert.True(t, transport.isClosed())
	assert.True(t, sender.closed)

	// good stats would step the level up if the controller were still running
	transport.setStats(bitrate.Sample{FractionLost: 0.01, RoundTripTime: 0.05})
	f.clock.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []int{bitrate.Low.Bitrate()}, sender.appliedRates())
}

func TestFirstTrackStartsSynchronizedPlayback(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.HandleOffer("host", offerFrom("host")))
	transport := f.factory.created("host")[0]
	transport.events.OnTrack(nil)
	transport.events.OnTrack(nil)

	players := f.sink.played()
	require.Len(t, players, 1)
	player := players[0]

	require.Eventually(t, func() bool {
		return len(player.log()) >= 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "suspend", player.log()[0])

	require.Eventually(t, func() bool {
		f.clock.Add(100 * time.Millisecond)
		for _, e := range player.log() {
			if e == "resume" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	f.orch.Close("host")
	events := player.log()
	assert.Equal(t, "close", events[len(events)-1])
}

func TestFailedTransportClosesOnlyItsOwnSession(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.HandleOffer("host", offerFrom("host")))
	first := f.factory.created("host")[0]
	first.rejectNextOffers()
	require.NoError(t, f.orch.HandleOffer("host", offerFrom("host")))

	// a late failure from the replaced session leaves the new one alone
	first.events.OnStateChange(webrtc.PeerConnectionStateFailed)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Connected, f.orch.State("host"))

	second := f.factory.created("host")[1]
	second.events.OnStateChange(webrtc.PeerConnectionStateFailed)
	require.Eventually(t, func() bool {
		return f.orch.State("host") == Idle && second.isClosed()
	}, time.Second, 5*time.Millisecond)
}

func TestHandleSignal(t *testing.T) {
	f := newFixture(t)

	sdp, err := json.Marshal(offerFrom("host"))
	require.NoError(t, err)
	require.NoError(t, f.orch.HandleSignal(schemas.Message{Type: schemas.TypeOffer, From: "host", SDP: sdp}))
	assert.Equal(t, Connected, f.orch.State("host"))

	cand, err := json.Marshal(webrtc.ICECandidateInit{Candidate: "candidate:9"})
	require.NoError(t, err)
	require.NoError(t, f.orch.HandleSignal(schemas.Message{Type: schemas.TypeICECandidate, From: "host", Candidate: cand}))
	assert.Len(t, f.factory.created("host")[0].appliedCandidates(), 1)

	assert.Error(t, f.orch.HandleSignal(schemas.Message{Type: schemas.TypeOffer, From: "host", SDP: []byte("nope")}))
	assert.Error(t, f.orch.HandleSignal(schemas.Message{Type: schemas.TypeRoomUpdate}))
}

func TestSlowTransportSetupLeavesOtherPeersUsable(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.HandleOffer("host", offerFrom("host")))

	release := make(chan struct{})
	f.factory.mu.Lock()
	f.factory.gate = release
	f.factory.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- f.orch.Connect("bob") }()
	require.Eventually(t, func() bool {
		return f.factory.waiting.Load() == 1
	}, time.Second, 5*time.Millisecond)

	candidate := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"}
	require.NoError(t, f.orch.HandleCandidate("host", candidate))
	assert.Equal(t, []webrtc.ICECandidateInit{candidate}, f.factory.created("host")[0].appliedCandidates())
	assert.Equal(t, []string{"host"}, f.orch.Peers())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, Negotiating, f.orch.State("bob"))
}

func TestTransportErrorLeavesNoRecord(t *testing.T) {
	f := newFixture(t)
	f.factory.err = errors.New("no network")

	assert.Error(t, f.orch.Connect("bob"))
	assert.Equal(t, Idle, f.orch.State("bob"))
	assert.Empty(t, f.orch.Peers())
}

func TestCloseAll(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.Connect("bob"))
	require.NoError(t, f.orch.Connect("cat"))
	assert.Equal(t, []string{"bob", "cat"}, f.orch.Peers())

	f.orch.CloseAll()
	assert.Empty(t, f.orch.Peers())
	assert.True(t, f.factory.created("bob")[0].isClosed())
	assert.True(t, f.factory.created("cat")[0].isClosed())
}
