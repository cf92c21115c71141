package routes

import (
	"net/http"
	"strconv"

	"github.com/gregriff/jamsesh/server/internal/dal"
	"github.com/gregriff/jamsesh/server/internal/middleware"
	"github.com/gregriff/jamsesh/server/internal/rooms"
	log "github.com/sirupsen/logrus"
)

const defaultHistoryLimit = 50

type adminRoomsResponse struct {
	Rooms   []rooms.Summary `json:"rooms"`
	History []dal.RoomEvent `json:"history"`
}

// AdminRooms lists active rooms and recent room history. Mounted behind basic auth.
func (h *RouteHandler) AdminRooms(w http.ResponseWriter, req *http.Request) {
	active, err := h.hub.Rooms(req.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	limit := defaultHistoryLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	res := adminRoomsResponse{Rooms: active, History: []dal.RoomEvent{}}
	if h.db != nil {
		events, err := dal.GetRoomEvents(h.db, req.URL.Query().Get("code"), limit)
		if err != nil {
			log.WithError(err).Warn("reading room history")
		} else if events != nil {
			res.History = events
		}
	}

	log.WithField("admin", middleware.GetUsername(req)).Debug("listed rooms")
	WriteJSON(w, &res)
}
