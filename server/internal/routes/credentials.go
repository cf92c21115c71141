package routes

import (
	"net/http"

	"github.com/gregriff/jamsesh/internal/schemas"
	log "github.com/sirupsen/logrus"
)

// TURNCredentials returns the relay servers clients should add to their ICE configuration.
// An unconfigured server answers with an empty list so clients fall back to STUN.
func (h *RouteHandler) TURNCredentials(w http.ResponseWriter, req *http.Request) {
	if h.turn == nil {
		WriteJSON(w, []schemas.ICEServer{})
		return
	}

	servers, err := h.turn.ICEServers(req.Context())
	if err != nil {
		log.WithError(err).Warn("fetching relay credentials")
		WriteJSONStatus(w, http.StatusBadGateway, map[string]string{"error": "failed to fetch TURN credentials"})
		return
	}
	if servers == nil {
		servers = []schemas.ICEServer{}
	}
	WriteJSON(w, servers)
}
