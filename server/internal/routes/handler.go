// package routes contains the exposed API endpoints
package routes

import (
	"database/sql"
	"time"

	"github.com/gregriff/jamsesh/server/internal/hub"
	"github.com/gregriff/jamsesh/server/internal/turn"
)

// RouteHandler provides the dependencies for any endpoint, and is the reciever of the endpoint handling functions
type RouteHandler struct {
	hub  *hub.Hub
	db   *sql.DB
	turn turn.Provider
	now  func() time.Time
}

// NewRouteHandler creates the reciever for all endpoint handling functions.
// db and provider may be nil, disabling history and relay credentials respectively.
func NewRouteHandler(h *hub.Hub, db *sql.DB, provider turn.Provider) *RouteHandler {
	return &RouteHandler{
		hub:  h,
		db:   db,
		turn: provider,
		now:  time.Now,
	}
}
