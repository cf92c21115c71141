// Package clocksync keeps listeners phase aligned: playback is suspended and resumed at an
// instant every listener derives from the shared reference clock.
package clocksync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultDelay    = 400 * time.Millisecond
	DefaultInterval = 5 * time.Second
)

// OffsetSource publishes the current estimate of reference clock minus local clock.
type OffsetSource interface {
	Offset() time.Duration
}

// Player is the playback side of one remote audio flow.
type Player interface {
	Suspend() error
	Resume() error
}

type Synchronizer struct {
	player   Player
	offset   OffsetSource
	delay    time.Duration
	interval time.Duration
	clock    clock.Clock
	log      *log.Entry

	mu      sync.Mutex
	pending *clock.Timer
}

type Option func(*Synchronizer)

// WithDelay sets the playback delay added to the reference instant.
func WithDelay(d time.Duration) Option {
	return func(s *Synchronizer) { s.delay = d }
}

func WithInterval(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithClock(clk clock.Clock) Option {
	return func(s *Synchronizer) { s.clock = clk }
}

func WithLogger(entry *log.Entry) Option {
	return func(s *Synchronizer) { s.log = entry }
}

// New returns a synchronizer for player. A nil offset source is treated as a zero offset.
func New(player Player, offset OffsetSource, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		player:   player,
		offset:   offset,
		delay:    DefaultDelay,
		interval: DefaultInterval,
		clock:    clock.New(),
		log:      log.NewEntry(log.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResumeIn returns how long from now playback should stay suspended.
func (s *Synchronizer) ResumeIn() time.Duration {
	var offset time.Duration
	if s.offset != nil {
		offset = s.offset.Offset()
	}

	reference := s.clock.Now().Add(offset)
	target := reference.Add(s.delay)
	deadline := target.Add(-offset)

	return max(deadline.Sub(s.clock.Now()), 0)
}

// Resync suspends playback and schedules it to resume at the shared instant.
// A pending resume from an earlier call is replaced.
func (s *Synchronizer) Resync() error {
	wait := s.ResumeIn()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}

	if err := s.player.Suspend(); err != nil {
		return fmt.Errorf("suspending playback: %w", err)
	}
	if wait == 0 {
		return s.resume()
	}
	s.pending = s.clock.AfterFunc(wait, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.resume(); err != nil {
			s.log.WithError(err).Warn("resuming playback")
		}
	})
	s.log.Debugf("playback resumes in %s", wait)
	return nil
}

func (s *Synchronizer) resume() error {
	s.pending = nil
	if err := s.player.Resume(); err != nil {
		return fmt.Errorf("resuming playback: %w", err)
	}
	return nil
}

// Run resyncs immediately and then every interval until ctx is done.
func (s *Synchronizer) Run(ctx context.Context) {
	defer s.stop()

	if err := s.Resync(); err != nil {
		s.log.WithError(err).Warn("clock sync")
	}

	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Resync(); err != nil {
				s.log.WithError(err).Warn("clock sync")
			}
		}
	}
}

func (s *Synchronizer) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}
