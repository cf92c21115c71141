// Package jamsesh calls the jamsesh server's HTTP endpoints.
package jamsesh

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gregriff/jamsesh/internal/schemas"
	log "github.com/sirupsen/logrus"
)

const credentialsPath = "/api/get-turn-credentials"

// GetICEServers asks the server for relay credentials.
func GetICEServers(ctx context.Context, client *http.Client) ([]schemas.ICEServer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, credentialsPath, nil)
	if err != nil {
		return nil, err
	}

	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request error: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return nil, fmt.Errorf("request failed (%d): %s", res.StatusCode, body)
	}

	var servers []schemas.ICEServer
	if err := json.NewDecoder(res.Body).Decode(&servers); err != nil {
		return nil, fmt.Errorf("decoding ice servers: %w", err)
	}
	return servers, nil
}

// FetchICEServers is GetICEServers for callers that can proceed without relays:
// any failure is logged and yields an empty list.
func FetchICEServers(ctx context.Context, client *http.Client) []schemas.ICEServer {
	servers, err := GetICEServers(ctx, client)
	if err != nil {
		log.WithError(err).Warn("continuing without TURN servers")
		return []schemas.ICEServer{}
	}
	return servers
}
