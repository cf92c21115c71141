package routes

import (
	"net/http"

	"golang.org/x/net/websocket"
)

// SignalingWS upgrades the request to the persistent signaling channel served by the hub.
func (h *RouteHandler) SignalingWS() http.Handler {
	return websocket.Server{
		Handshake: websocketHandshake,
		Handler:   h.hub.ServeConn,
	}
}

// browsers on other origins (static pages served elsewhere) are allowed to connect
func websocketHandshake(_ *websocket.Config, _ *http.Request) error { return nil }
