// Package turn fetches short-lived relay credentials that clients use to configure ICE.
package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gregriff/jamsesh/internal/schemas"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// ErrNotConfigured is returned by NewProvider when no credential source is set.
var ErrNotConfigured = errors.New("no relay credential provider configured")

// Provider returns zero or more ICE servers with credentials.
type Provider interface {
	ICEServers(ctx context.Context) ([]schemas.ICEServer, error)
}

type Config struct {
	// Kind is "http", "twilio" or empty.
	Kind string

	// APILink is fetched with GET by the http provider and must return a JSON array of ICE servers.
	APILink string

	TwilioAccountSID string
	TwilioAuthToken  string
	TTL              time.Duration
}

func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Kind {
	case "":
		if cfg.APILink != "" {
			return NewHTTPProvider(cfg.APILink, nil), nil
		}
		return nil, ErrNotConfigured
	case "http":
		if cfg.APILink == "" {
			return nil, errors.New("http relay provider needs turn.api-link or TURN_API_LINK")
		}
		return NewHTTPProvider(cfg.APILink, nil), nil
	case "twilio":
		if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" {
			return nil, errors.New("twilio relay provider needs an account sid and auth token")
		}
		return NewTwilioProvider(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unknown relay provider %q", cfg.Kind)
	}
}

// HTTPProvider proxies a credential API such as metered.ca that returns an ICE server array.
type HTTPProvider struct {
	link   string
	client *http.Client
}

func NewHTTPProvider(link string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPProvider{link: link, client: client}
}

func (p *HTTPProvider) ICEServers(ctx context.Context) ([]schemas.ICEServer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.link, nil)
	if err != nil {
		return nil, fmt.Errorf("building credential request: %w", err)
	}
	res, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching credentials: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("credential provider returned %s: %s", res.Status, body)
	}

	var servers []schemas.ICEServer
	if err := json.NewDecoder(res.Body).Decode(&servers); err != nil {
		return nil, fmt.Errorf("decoding credentials: %w", err)
	}
	return servers, nil
}

// TwilioProvider mints Network Traversal Service tokens.
type TwilioProvider struct {
	client *twilio.RestClient
	ttl    int
}

func NewTwilioProvider(accountSID, authToken string, ttl time.Duration) *TwilioProvider {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TwilioProvider{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
		ttl: int(ttl.Seconds()),
	}
}

func (p *TwilioProvider) ICEServers(_ context.Context) ([]schemas.ICEServer, error) {
	ttl := p.ttl
	token, err := p.client.Api.CreateToken(&twilioApi.CreateTokenParams{Ttl: &ttl})
	if err != nil {
		return nil, fmt.Errorf("creating twilio token: %w", err)
	}
	if token.IceServers == nil {
		return nil, nil
	}

	servers := make([]schemas.ICEServer, 0, len(*token.IceServers))
	for _, s := range *token.IceServers {
		servers = append(servers, schemas.ICEServer{
			URLs:       []string{s.Url},
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers, nil
}
