package bitrate

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
)

// DefaultInterval is how often the controller samples statistics.
const DefaultInterval = 5 * time.Second

// Target is the outbound audio flow of one peer session.
type Target interface {
	// Stats returns the latest remote report. ok is false when there is no outbound audio or no report yet.
	Stats() (s Sample, ok bool, err error)
	SetMaxBitrate(bps int) error
}

// Controller steps the bitrate ceiling of a single peer on a fixed period.
type Controller struct {
	target   Target
	interval time.Duration
	clock    clock.Clock
	log      *log.Entry

	mu    sync.Mutex
	level Level
}

type Option func(*Controller)

func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

func WithClock(clk clock.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// NewController returns a controller for target whose ceiling is currently initial.
func NewController(peerID string, target Target, initial Level, opts ...Option) *Controller {
	c := &Controller{
		target:   target,
		interval: DefaultInterval,
		clock:    clock.New(),
		log:      log.WithField("peer", peerID),
		level:    initial,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Level returns the last successfully applied level.
func (c *Controller) Level() Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// Tick samples the target once and applies the next level if it differs.
// It reports whether the level changed.
func (c *Controller) Tick() bool {
	sample, ok, err := c.target.Stats()
	if err != nil {
		c.log.WithError(err).Debug("reading transport stats")
		return false
	}
	if !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := Next(c.level, sample)
	if next == c.level {
		return false
	}
	if err := c.target.SetMaxBitrate(next.Bitrate()); err != nil {
		c.log.WithError(err).Warnf("applying %s bitrate", next)
		return false
	}

	c.log.WithFields(log.Fields{
		"loss": sample.FractionLost,
		"rtt":  sample.RoundTripTime,
	}).Infof("bitrate %s -> %s (%d bps)", c.level, next, next.Bitrate())
	c.level = next
	return true
}

// Run ticks every interval until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	ticker := c.clock.Ticker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}
