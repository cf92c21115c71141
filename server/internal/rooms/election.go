package rooms

import "github.com/gregriff/jamsesh/internal/schemas"

// Reason records why the host role moved.
type Reason string

const (
	ReasonJoin       Reason = "join"
	ReasonEndCall    Reason = "end-call"
	ReasonDisconnect Reason = "disconnect"
)

// Promotion describes a transition into Hosted(Host.ID).
type Promotion struct {
	Host   schemas.Participant
	Reason Reason
}

// successor picks the member earliest in succession order, skipping exclude.
func (r *Room) successor(exclude string) (member, bool) {
	for _, m := range r.members {
		if m.id != exclude {
			return m, true
		}
	}
	return member{}, false
}

// promote moves the host pointer to m. Promoting the current host is a no-op and returns nil.
func (r *Room) promote(m member, reason Reason) *Promotion {
	if r.hostID == m.id {
		return nil
	}
	r.hostID = m.id
	return &Promotion{Host: r.participant(m), Reason: reason}
}
