package turn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"urls":"stun:relay.example.org:80"},{"urls":"turn:relay.example.org:443","username":"u","credential":"p"}]`))
	}))
	defer srv.Close()

	servers, err := NewHTTPProvider(srv.URL, nil).ICEServers(context.Background())
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, []string{"turn:relay.example.org:443"}, servers[1].URLs)
	assert.Equal(t, "p", servers[1].Credential)
}

func TestHTTPProviderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTPProvider(srv.URL, nil).ICEServers(context.Background())
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestNewProvider(t *testing.T) {
	_, err := NewProvider(Config{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	p, err := NewProvider(Config{APILink: "https://example.org/creds"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPProvider{}, p)

	p, err = NewProvider(Config{Kind: "twilio", TwilioAccountSID: "AC123", TwilioAuthToken: "secret"})
	require.NoError(t, err)
	assert.IsType(t, &TwilioProvider{}, p)

	_, err = NewProvider(Config{Kind: "twilio"})
	assert.Error(t, err)
	_, err = NewProvider(Config{Kind: "carrier-pigeon"})
	assert.Error(t, err)
}
