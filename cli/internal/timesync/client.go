// Package timesync estimates the offset between the local clock and the jamsesh server's
// clock, which every listener in a room uses as the shared reference.
package timesync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
)

const (
	path = "/timesync"

	DefaultProbes   = 5
	DefaultInterval = 10 * time.Second
)

var ErrNoSamples = errors.New("no timesync probe succeeded")

type probe struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
}

type reply struct {
	ID     int   `json:"id"`
	Result int64 `json:"result"`
}

// Sample is the outcome of one probe.
type Sample struct {
	Offset time.Duration
	RTT    time.Duration
}

type Client struct {
	http     *http.Client
	clock    clock.Clock
	probes   int
	interval time.Duration

	offset atomic.Int64
	synced atomic.Bool
	nextID atomic.Int64
}

type Option func(*Client)

func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithProbes sets how many probes each Sync sends. The lowest round trip wins.
func WithProbes(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.probes = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.interval = d
		}
	}
}

// New returns a client posting probes through client, whose transport resolves paths
// against the server address.
func New(client *http.Client, opts ...Option) *Client {
	c := &Client{
		http:     client,
		clock:    clock.New(),
		probes:   DefaultProbes,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Offset is the latest estimate of server time minus local time. Zero until the first
// successful Sync.
func (c *Client) Offset() time.Duration {
	return time.Duration(c.offset.Load())
}

func (c *Client) Synced() bool {
	return c.synced.Load()
}

// Probe measures a single round trip.
func (c *Client) Probe(ctx context.Context) (Sample, error) {
	id := int(c.nextID.Add(1))
	body, err := json.Marshal(probe{JSONRPC: "2.0", ID: id, Method: "timesync"})
	if err != nil {
		return Sample{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return Sample{}, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	sent := c.clock.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return Sample{}, fmt.Errorf("request error: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()
	received := c.clock.Now()

	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return Sample{}, fmt.Errorf("timesync failed (%d): %s", res.StatusCode, bytes.TrimSpace(msg))
	}

	var r reply
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return Sample{}, fmt.Errorf("decoding timesync reply: %w", err)
	}
	if r.ID != id {
		return Sample{}, fmt.Errorf("timesync reply for probe %d, want %d", r.ID, id)
	}

	return estimate(sent, received, time.UnixMilli(r.Result)), nil
}

// estimate assumes the server stamped its reply halfway through the round trip.
func estimate(sent, received, server time.Time) Sample {
	rtt := received.Sub(sent)
	return Sample{
		RTT:    rtt,
		Offset: server.Add(rtt / 2).Sub(received),
	}
}

// Sync sends a burst of probes and adopts the offset from the one with the lowest round trip.
func (c *Client) Sync(ctx context.Context) (Sample, error) {
	var (
		best  Sample
		found bool
		errs  []error
	)
	for range c.probes {
		s, err := c.Probe(ctx)
		if err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if !found || s.RTT < best.RTT {
			best, found = s, true
		}
	}

	if !found {
		return Sample{}, errors.Join(append([]error{ErrNoSamples}, errs...)...)
	}
	c.offset.Store(int64(best.Offset))
	c.synced.Store(true)
	log.Debugf("clock offset %s (rtt %s)", best.Offset, best.RTT)
	return best, nil
}

// Run syncs immediately and then every interval until ctx is done. Failures keep the
// previous estimate.
func (c *Client) Run(ctx context.Context) {
	if _, err := c.Sync(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Warn("clock sync")
	}

	ticker := c.clock.Ticker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Sync(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Warn("clock sync")
			}
		}
	}
}
