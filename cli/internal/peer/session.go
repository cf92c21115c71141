package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gregriff/jamsesh/cli/internal/bitrate"
	"github.com/gregriff/jamsesh/cli/internal/clocksync"
	"github.com/gregriff/jamsesh/internal/schemas"
	"github.com/pion/webrtc/v4"
	log "github.com/sirupsen/logrus"
)

// State is the negotiation state of one peer session.
type State int32

const (
	Idle State = iota
	Negotiating
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// session owns everything tied to one remote peer. Its goroutines run under ctx and are
// waited for on close.
type session struct {
	peerID string
	o      *Orchestrator
	log    *log.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	state     atomic.Int32
	transport Transport

	// negotiate serialises offer/answer steps.
	negotiate sync.Mutex

	mu            sync.Mutex
	remoteSet     bool
	pendingRemote []webrtc.ICECandidateInit
	localSent     bool
	pendingLocal  []webrtc.ICECandidateInit
	sender        AudioSender
	controller    *bitrate.Controller
	player        Player
	closed        bool
}

func (s *session) State() State {
	return State(s.state.Load())
}

func (s *session) setState(st State) {
	s.state.Store(int32(st))
	s.log.Debugf("session %s", st)
}

// attachAudio creates the outgoing audio sender at the initial bitrate level.
func (s *session) attachAudio(source AudioSource) error {
	sender, err := source.NewSender(s.peerID, s.o.cfg.InitialLevel.Bitrate())
	if err != nil {
		return fmt.Errorf("creating audio sender: %w", err)
	}
	if err := s.transport.AttachAudio(sender.Track()); err != nil {
		_ = sender.Close()
		return fmt.Errorf("attaching audio: %w", err)
	}

	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
	return nil
}

func (s *session) sendDescription(kind string, sd webrtc.SessionDescription) error {
	raw, err := json.Marshal(sd)
	if err != nil {
		return err
	}
	if err := s.o.signaler.Send(schemas.Signal{Type: kind, To: s.peerID, SDP: raw}); err != nil {
		return fmt.Errorf("sending %s: %w", kind, err)
	}

	// candidates gathered before the description went out follow it now
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localSent = true
	for _, c := range s.pendingLocal {
		s.sendCandidate(c)
	}
	s.pendingLocal = nil
	return nil
}

func (s *session) sendCandidate(c webrtc.ICECandidateInit) {
	raw, err := json.Marshal(c)
	if err != nil {
		s.log.WithError(err).Warn("encoding candidate")
		return
	}
	if err := s.o.signaler.Send(schemas.Signal{Type: schemas.TypeICECandidate, To: s.peerID, Candidate: raw}); err != nil {
		s.log.WithError(err).Warn("sending candidate")
	}
}

func (s *session) onLocalCandidate(c webrtc.ICECandidateInit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if !s.localSent {
		s.pendingLocal = append(s.pendingLocal, c)
		return
	}
	s.sendCandidate(c)
}

// remoteApplied flushes candidates that arrived before the remote description.
func (s *session) remoteApplied() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteSet = true
	for _, c := range s.pendingRemote {
		if err := s.transport.AddCandidate(c); err != nil {
			s.log.WithError(err).Warn("adding buffered candidate")
		}
	}
	s.pendingRemote = nil
}

func (s *session) addRemoteCandidate(c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if !s.remoteSet {
		s.pendingRemote = append(s.pendingRemote, c)
		return nil
	}
	return s.transport.AddCandidate(c)
}

// connected marks negotiation complete and starts bitrate control when audio is attached.
func (s *session) connected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.setState(Connected)

	if s.sender == nil || s.controller != nil {
		return
	}
	s.controller = bitrate.NewController(s.peerID, s, s.o.cfg.InitialLevel,
		bitrate.WithInterval(s.o.cfg.BitrateInterval),
		bitrate.WithClock(s.o.cfg.Clock),
	)
	s.wg.Go(func() { s.controller.Run(s.ctx) })
}

// Stats and SetMaxBitrate make the session a bitrate.Target.
func (s *session) Stats() (bitrate.Sample, bool, error) {
	s.mu.Lock()
	attached := s.sender != nil
	s.mu.Unlock()
	if !attached {
		return bitrate.Sample{}, false, nil
	}
	return s.transport.OutboundAudioStats()
}

func (s *session) SetMaxBitrate(bps int) error {
	s.mu.Lock()
	sender := s.sender
	s.mu.Unlock()
	if sender == nil {
		return errors.New("no outbound audio")
	}
	return sender.SetMaxBitrate(bps)
}

func (s *session) level() (bitrate.Level, bool) {
	s.mu.Lock()
	controller := s.controller
	s.mu.Unlock()
	if controller == nil {
		return 0, false
	}
	return controller.Level(), true
}

// onTrack starts playback and clock sync for the first remote audio flow.
func (s *session) onTrack(track *webrtc.TrackRemote) {
	sink := s.o.cfg.Sink
	if sink == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.player != nil {
		return
	}

	player, err := sink.Play(s.peerID, track)
	if err != nil {
		s.log.WithError(err).Error("starting playback")
		return
	}
	s.player = player

	syncer := clocksync.New(player, s.o.cfg.Offsets,
		clocksync.WithDelay(s.o.cfg.PlaybackDelay),
		clocksync.WithInterval(s.o.cfg.SyncInterval),
		clocksync.WithClock(s.o.cfg.Clock),
		clocksync.WithLogger(s.log),
	)
	s.wg.Go(func() { syncer.Run(s.ctx) })
}

// close releases the transport and stops every timer the session started. Safe to call more than once.
func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.setState(Closed)
	s.mu.Unlock()

	s.cancel()
	if err := s.transport.Close(); err != nil {
		s.log.WithError(err).Warn("closing transport")
	}
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sender != nil {
		if err := s.sender.Close(); err != nil {
			s.log.WithError(err).Warn("closing audio sender")
		}
	}
	if s.player != nil {
		if err := s.player.Close(); err != nil {
			s.log.WithError(err).Warn("closing player")
		}
	}
	s.log.Info("session closed")
}
