// Package peer manages one media session per remote participant: it drives the offer/answer
// exchange through the signaling server and owns the timers tied to each session.
package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gregriff/jamsesh/cli/internal/bitrate"
	"github.com/gregriff/jamsesh/cli/internal/clocksync"
	"github.com/gregriff/jamsesh/internal/schemas"
	"github.com/pion/webrtc/v4"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	// Source provides outgoing audio for sessions this side initiates. Nil sends nothing.
	Source AudioSource

	// Sink plays incoming audio. Nil discards it.
	Sink AudioSink

	// Offsets is the reference clock estimate used to align playback.
	Offsets clocksync.OffsetSource

	InitialLevel    bitrate.Level
	BitrateInterval time.Duration
	SyncInterval    time.Duration
	PlaybackDelay   time.Duration

	Clock clock.Clock
}

func (c *Config) setDefaults() {
	if c.InitialLevel == 0 {
		c.InitialLevel = bitrate.Medium
	}
	if c.BitrateInterval <= 0 {
		c.BitrateInterval = bitrate.DefaultInterval
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = clocksync.DefaultInterval
	}
	if c.PlaybackDelay == 0 {
		c.PlaybackDelay = clocksync.DefaultDelay
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// Orchestrator holds the peer table. All methods are safe for concurrent use.
type Orchestrator struct {
	ctx      context.Context
	signaler Signaler
	factory  TransportFactory
	cfg      Config

	mu       sync.Mutex
	sessions map[string]*session
}

// New returns an orchestrator whose sessions live no longer than ctx.
func New(ctx context.Context, signaler Signaler, factory TransportFactory, cfg Config) *Orchestrator {
	cfg.setDefaults()
	return &Orchestrator{
		ctx:      ctx,
		signaler: signaler,
		factory:  factory,
		cfg:      cfg,
		sessions: make(map[string]*session),
	}
}

// open creates and registers a session for peerID. A Closed record still in the table is
// replaced; a live one is returned with created false unless replace is set, in which case
// it is closed once the new session is registered. The transport is built outside the table
// lock.
func (o *Orchestrator) open(peerID string, replace bool) (s *session, created bool, err error) {
	if !replace {
		if existing := o.lookup(peerID); existing != nil && existing.State() != Closed {
			return existing, false, nil
		}
	}

	s = o.newSession(peerID)
	transport, err := o.factory.NewTransport(s.ctx, peerID, TransportEvents{
		OnCandidate:   s.onLocalCandidate,
		OnTrack:       s.onTrack,
		OnStateChange: func(st webrtc.PeerConnectionState) { o.onStateChange(s, st) },
	})
	if err != nil {
		s.cancel()
		if replace {
			if existing := o.lookup(peerID); existing != nil {
				o.drop(existing)
			}
		}
		return nil, false, fmt.Errorf("creating transport for %s: %w", peerID, err)
	}
	s.transport = transport

	o.mu.Lock()
	existing := o.sessions[peerID]
	if existing != nil && existing.State() != Closed && !replace {
		// another open for peerID registered first
		o.mu.Unlock()
		s.close()
		return existing, false, nil
	}
	o.sessions[peerID] = s
	o.mu.Unlock()

	if existing != nil {
		existing.close()
	}
	return s, true, nil
}

func (o *Orchestrator) newSession(peerID string) *session {
	ctx, cancel := context.WithCancel(o.ctx)
	return &session{
		peerID: peerID,
		o:      o,
		log:    log.WithField("peer", peerID),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (o *Orchestrator) lookup(peerID string) *session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[peerID]
}

// Connect starts a session to peerID as the initiator: attach outgoing audio, then send an offer.
// It is a no-op when a live session to peerID already exists.
func (o *Orchestrator) Connect(peerID string) error {
	s, created, err := o.open(peerID, false)
	if err != nil {
		return err
	}
	if !created {
		log.WithField("peer", peerID).Debug("session already exists")
		return nil
	}

	s.negotiate.Lock()
	defer s.negotiate.Unlock()
	s.setState(Negotiating)

	if o.cfg.Source != nil {
		if err := s.attachAudio(o.cfg.Source); err != nil {
			o.drop(s)
			return err
		}
	}

	offer, err := s.transport.CreateOffer()
	if err != nil {
		o.drop(s)
		return fmt.Errorf("creating offer: %w", err)
	}
	if err := s.sendDescription(schemas.TypeOffer, offer); err != nil {
		o.drop(s)
		return err
	}
	return nil
}

// HandleOffer answers an offer from peerID, creating the session if there is none. An offer
// that the existing session cannot take, because the peer started over with a new connection,
// replaces that session.
func (o *Orchestrator) HandleOffer(peerID string, offer webrtc.SessionDescription) error {
	s, created, err := o.open(peerID, false)
	if err != nil {
		return err
	}

	err = o.answer(s, offer)
	if err == nil || created {
		return err
	}

	s.log.WithError(err).Info("offer does not fit the existing session, starting over")
	if s, _, err = o.open(peerID, true); err != nil {
		return err
	}
	return o.answer(s, offer)
}

func (o *Orchestrator) answer(s *session, offer webrtc.SessionDescription) error {
	s.negotiate.Lock()
	defer s.negotiate.Unlock()
	if s.State() == Closed {
		return fmt.Errorf("session with %s closed", s.peerID)
	}
	s.setState(Negotiating)

	answer, err := s.transport.AcceptOffer(offer)
	if err != nil {
		return fmt.Errorf("accepting offer: %w", err)
	}
	s.remoteApplied()

	if err := s.sendDescription(schemas.TypeAnswer, answer); err != nil {
		o.drop(s)
		return err
	}
	s.connected()
	return nil
}

// HandleAnswer completes a session this side initiated. Answers from unknown peers are dropped.
func (o *Orchestrator) HandleAnswer(peerID string, answer webrtc.SessionDescription) error {
	s := o.lookup(peerID)
	if s == nil {
		log.WithField("peer", peerID).Warn("answer for unknown peer dropped")
		return nil
	}

	s.negotiate.Lock()
	defer s.negotiate.Unlock()
	if s.State() != Negotiating {
		s.log.Warnf("answer dropped in state %s", s.State())
		return nil
	}

	if err := s.transport.AcceptAnswer(answer); err != nil {
		return fmt.Errorf("accepting answer: %w", err)
	}
	s.remoteApplied()
	s.connected()
	return nil
}

// HandleCandidate applies a remote network candidate. Candidates that arrive before the remote
// description are held until it is applied; candidates for unknown peers are dropped.
func (o *Orchestrator) HandleCandidate(peerID string, candidate webrtc.ICECandidateInit) error {
	s := o.lookup(peerID)
	if s == nil {
		log.WithField("peer", peerID).Debug("candidate for unknown peer dropped")
		return nil
	}
	if err := s.addRemoteCandidate(candidate); err != nil {
		return fmt.Errorf("adding candidate: %w", err)
	}
	return nil
}

// HandleSignal decodes a relayed negotiation message and dispatches it by type.
func (o *Orchestrator) HandleSignal(msg schemas.Message) error {
	switch msg.Type {
	case schemas.TypeOffer, schemas.TypeAnswer:
		var sd webrtc.SessionDescription
		if err := json.Unmarshal(msg.SDP, &sd); err != nil {
			return fmt.Errorf("decoding %s from %s: %w", msg.Type, msg.From, err)
		}
		if msg.Type == schemas.TypeOffer {
			return o.HandleOffer(msg.From, sd)
		}
		return o.HandleAnswer(msg.From, sd)
	case schemas.TypeICECandidate:
		var c webrtc.ICECandidateInit
		if err := json.Unmarshal(msg.Candidate, &c); err != nil {
			return fmt.Errorf("decoding candidate from %s: %w", msg.From, err)
		}
		return o.HandleCandidate(msg.From, c)
	default:
		return fmt.Errorf("not a negotiation message: %q", msg.Type)
	}
}

func (o *Orchestrator) onStateChange(s *session, st webrtc.PeerConnectionState) {
	s.log.Debugf("transport %s", st)
	switch st {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		// transport callbacks must not block on the transport's own teardown
		go o.drop(s)
	}
}

// drop removes s from the table if it is still the current session for its peer, then closes it.
func (o *Orchestrator) drop(s *session) {
	o.mu.Lock()
	if o.sessions[s.peerID] == s {
		delete(o.sessions, s.peerID)
	}
	o.mu.Unlock()
	s.close()
}

// Close tears down the session with peerID, if any.
func (o *Orchestrator) Close(peerID string) {
	o.mu.Lock()
	s := o.sessions[peerID]
	delete(o.sessions, peerID)
	o.mu.Unlock()

	if s != nil {
		s.close()
	}
}

// CloseAll tears down every session.
func (o *Orchestrator) CloseAll() {
	o.mu.Lock()
	sessions := make([]*session, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	clear(o.sessions)
	o.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Go(s.close)
	}
	wg.Wait()
}

// State reports the session state for peerID, Idle if there is none.
func (o *Orchestrator) State(peerID string) State {
	if s := o.lookup(peerID); s != nil {
		return s.State()
	}
	return Idle
}

// Peers lists the peers with a session, sorted.
func (o *Orchestrator) Peers() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	peers := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		peers = append(peers, id)
	}
	slices.Sort(peers)
	return peers
}

// Level reports the bitrate level of the outgoing audio to peerID. ok is false when nothing
// is being sent.
func (o *Orchestrator) Level(peerID string) (level bitrate.Level, ok bool) {
	if s := o.lookup(peerID); s != nil {
		return s.level()
	}
	return 0, false
}
