// Package rooms owns room existence, membership and the host pointer.
// It performs no I/O: every operation returns what changed and the caller decides who to notify.
// A Registry is not safe for concurrent use; the signaling hub owns it from a single goroutine.
package rooms

import (
	"time"

	"github.com/gregriff/jamsesh/internal/schemas"
)

type member struct {
	id       string
	username string
	joinedAt time.Time
}

// Room is a coded group of participants sharing one audio session.
type Room struct {
	Code      string
	CreatedAt time.Time

	// members is ordered by succession. Joiners are appended; a host that ends
	// its hosting session moves to the back.
	members    []member
	hostID     string
	callActive bool
	everJoined bool
}

func (r *Room) Len() int { return len(r.members) }

// Snapshot builds the externally visible state of r. isHost is derived from hostID here and nowhere else.
func (r *Room) Snapshot() schemas.RoomSnapshot {
	participants := make([]schemas.Participant, len(r.members))
	for i, m := range r.members {
		participants[i] = r.participant(m)
	}
	return schemas.RoomSnapshot{Participants: participants, HostID: r.hostID}
}

// MemberIDs returns the ids of every member except the ones listed in exclude.
func (r *Room) MemberIDs(exclude ...string) []string {
	ids := make([]string, 0, len(r.members))
outer:
	for _, m := range r.members {
		for _, ex := range exclude {
			if m.id == ex {
				continue outer
			}
		}
		ids = append(ids, m.id)
	}
	return ids
}

func (r *Room) participant(m member) schemas.Participant {
	return schemas.Participant{ID: m.id, Username: m.username, IsHost: m.id == r.hostID}
}

func (r *Room) indexOf(clientID string) int {
	for i, m := range r.members {
		if m.id == clientID {
			return i
		}
	}
	return -1
}

func (r *Room) remove(i int) member {
	m := r.members[i]
	r.members = append(r.members[:i], r.members[i+1:]...)
	return m
}

// Summary is a read-only description of a room for operators.
type Summary struct {
	Code         string                `json:"code"`
	CreatedAt    time.Time             `json:"createdAt"`
	CallActive   bool                  `json:"callActive"`
	HostID       string                `json:"hostId"`
	Participants []schemas.Participant `json:"participants"`
}

func (r *Room) summary() Summary {
	snap := r.Snapshot()
	return Summary{
		Code:         r.Code,
		CreatedAt:    r.CreatedAt,
		CallActive:   r.callActive,
		HostID:       snap.HostID,
		Participants: snap.Participants,
	}
}
