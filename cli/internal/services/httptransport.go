// Package services contains clients for the jamsesh server's HTTP and websocket endpoints.
package services

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Transport resolves every request path against BaseURL before handing it to the wrapped
// RoundTripper, so callers can write client.Get("/timesync").
type Transport struct {
	BaseURL      string
	MaxIdleConns int
	IdleConnTimeout,
	TLSHandshakeTimeout,
	ResponseHeaderTimeout time.Duration

	once sync.Once
	base http.RoundTripper
}

// RoundTrip adds the base url to each request.
// Reference: https://cs.opensource.google/go/x/oauth2/+/refs/tags/v0.31.0:transport.go
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	path := req.URL.Path
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}

	baseURL := strings.TrimSuffix(t.BaseURL, "/")
	newURL, err := req.URL.Parse(baseURL + "/" + strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("resolving %s against %s: %w", path, t.BaseURL, err)
	}

	// RoundTrippers must not modify the caller's request
	out := req.Clone(req.Context())
	out.URL = newURL
	out.Host = newURL.Host
	log.Debugf("%s %s", out.Method, newURL)

	return t.transport().RoundTrip(out)
}

func (t *Transport) transport() http.RoundTripper {
	t.once.Do(t.init)
	return t.base
}

func (t *Transport) init() {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if t.MaxIdleConns > 0 {
		base.MaxIdleConns = t.MaxIdleConns
	}
	if t.IdleConnTimeout > 0 {
		base.IdleConnTimeout = t.IdleConnTimeout
	}
	if t.TLSHandshakeTimeout > 0 {
		base.TLSHandshakeTimeout = t.TLSHandshakeTimeout
	}
	if t.ResponseHeaderTimeout > 0 {
		base.ResponseHeaderTimeout = t.ResponseHeaderTimeout
	}
	t.base = base
}

// NewClient provides an http.Client for requests to the jamsesh server at baseURL.
func NewClient(baseURL string) *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &Transport{
			BaseURL:               baseURL,
			MaxIdleConns:          10,
			IdleConnTimeout:       30 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: 5 * time.Second,
		},
	}
}
