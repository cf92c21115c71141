// package dal is the data access layer. It contains functions that perform SQL queries and logic
// that cannot be decoupled from the queries. Files correspond to SQL tables
package dal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gregriff/jamsesh/internal/schemas"
)

// room_events kinds
const (
	EventCreated     = "created"
	EventClosed      = "closed"
	EventHostChanged = "host"
)

// RoomEvent is one row of room history.
type RoomEvent struct {
	Code     string    `json:"code"`
	Kind     string    `json:"kind"`
	HostID   string    `json:"hostId,omitempty"`
	HostName string    `json:"hostName,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

func AddRoomEvent(db *sql.DB, e RoomEvent) error {
	_, err := db.Exec(
		"INSERT INTO room_events (id, code, kind, host_id, host_name, reason, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		uuid.NewString(), e.Code, e.Kind, e.HostID, e.HostName, e.Reason, e.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("error inserting room event: %w", err)
	}
	return nil
}

// GetRoomEvents returns the latest limit events, newest first. A code filters to one room.
func GetRoomEvents(db *sql.DB, code string, limit int) ([]RoomEvent, error) {
	query := "SELECT code, kind, host_id, host_name, reason, created_at FROM room_events"
	args := []any{}
	if code != "" {
		query += " WHERE code = ?"
		args = append(args, code)
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying room events: %w", err)
	}
	defer rows.Close()

	var events []RoomEvent
	for rows.Next() {
		var (
			e  RoomEvent
			ms int64
		)
		if err := rows.Scan(&e.Code, &e.Kind, &e.HostID, &e.HostName, &e.Reason, &ms); err != nil {
			return nil, fmt.Errorf("error scanning room event: %w", err)
		}
		e.At = time.UnixMilli(ms)
		events = append(events, e)
	}
	return events, rows.Err()
}

// History adapts the room_events table to the hub's recorder.
type History struct {
	db *sql.DB
}

func NewHistory(db *sql.DB) *History {
	return &History{db: db}
}

func (h *History) RoomCreated(code string, at time.Time) error {
	return AddRoomEvent(h.db, RoomEvent{Code: code, Kind: EventCreated, At: at})
}

func (h *History) RoomClosed(code string, at time.Time) error {
	return AddRoomEvent(h.db, RoomEvent{Code: code, Kind: EventClosed, At: at})
}

func (h *History) HostChanged(code string, host schemas.Participant, reason string, at time.Time) error {
	return AddRoomEvent(h.db, RoomEvent{
		Code:     code,
		Kind:     EventHostChanged,
		HostID:   host.ID,
		HostName: host.Username,
		Reason:   reason,
		At:       at,
	})
}

func (h *History) Recent(limit int) ([]RoomEvent, error) {
	return GetRoomEvents(h.db, "", limit)
}
