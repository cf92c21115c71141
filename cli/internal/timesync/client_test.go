package timesync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gregriff/jamsesh/cli/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// fakeServer replies to probes with serverNow(), advancing mock by the next rtt first.
func fakeServer(t *testing.T, mock *clock.Mock, rtts []time.Duration, serverNow func() time.Time) *http.Client {
	t.Helper()
	i := 0
	return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		var p probe
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "timesync", p.Method)

		rtt := rtts[i%len(rtts)]
		i++
		mock.Add(rtt / 2)
		stamp := serverNow()
		mock.Add(rtt / 2)

		body := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%d}`, p.ID, stamp.UnixMilli())
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     make(http.Header),
		}, nil
	})}
}

func TestEstimate(t *testing.T) {
	sent := time.UnixMilli(1_000_000)
	received := sent.Add(100 * time.Millisecond)
	server := sent.Add(50*time.Millisecond + 2*time.Second)

	s := estimate(sent, received, server)
	assert.Equal(t, 100*time.Millisecond, s.RTT)
	assert.Equal(t, 2*time.Second, s.Offset)
}

func TestSyncAdoptsLowestRoundTrip(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.UnixMilli(1_700_000_000_000))

	// the server runs 3s ahead, except that the slow probes see a skewed stamp
	calls := 0
	rtts := []time.Duration{400 * time.Millisecond, 20 * time.Millisecond, 300 * time.Millisecond}
	client := fakeServer(t, mock, rtts, func() time.Time {
		calls++
		if calls == 2 {
			return mock.Now().Add(3 * time.Second)
		}
		return mock.Now().Add(5 * time.Second)
	})

	c := New(client, WithClock(mock), WithProbes(3))
	assert.False(t, c.Synced())
	assert.Zero(t, c.Offset())

	best, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, best.RTT)
	assert.Equal(t, 3*time.Second, c.Offset())
	assert.True(t, c.Synced())
}

func TestSyncFailureKeepsPreviousOffset(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.UnixMilli(1_700_000_000_000))
	ok := fakeServer(t, mock, []time.Duration{10 * time.Millisecond}, func() time.Time {
		return mock.Now().Add(time.Second)
	})

	c := New(ok, WithClock(mock), WithProbes(2))
	_, err := c.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, time.Second, c.Offset())

	c.http = &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, fmt.Errorf("connection refused")
	})}
	_, err = c.Sync(context.Background())
	assert.ErrorIs(t, err, ErrNoSamples)
	assert.Equal(t, time.Second, c.Offset())
}

func TestProbeAgainstServerRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, path, r.URL.Path)

		var p probe
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": p.ID, "result": time.Now().UnixMilli()})
	}))
	defer srv.Close()

	c := New(services.NewClient(srv.URL))
	s, err := c.Probe(context.Background())
	require.NoError(t, err)
	assert.Less(t, s.Offset.Abs(), time.Second)
}

func TestProbeRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unknown method", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := New(services.NewClient(srv.URL)).Probe(context.Background())
	assert.ErrorContains(t, err, "unknown method")
}
