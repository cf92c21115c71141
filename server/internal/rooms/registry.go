package rooms

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gregriff/jamsesh/internal/schemas"
	"github.com/gregriff/jamsesh/server/internal/crypto"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrCodeSpaceExhausted = errors.New("room code space exhausted")
	ErrNotMember          = errors.New("client is not in a room")
	ErrNotHost            = errors.New("client is not the room host")
)

// maxCodeAttempts bounds regeneration on collisions before giving up.
const maxCodeAttempts = 1000

// Registry tracks every active room and which room each client belongs to.
type Registry struct {
	rooms      map[string]*Room
	membership map[string]string // client id -> room code

	newCode func() string
	now     func() time.Time
}

type Option func(*Registry)

// WithCodeGenerator replaces the random room code source.
func WithCodeGenerator(fn func() string) Option {
	return func(r *Registry) { r.newCode = fn }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms:      make(map[string]*Room),
		membership: make(map[string]string),
		newCode:    crypto.GenerateRoomCode,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateRoom registers an empty room under a fresh code.
func (reg *Registry) CreateRoom() (string, error) {
	if len(reg.rooms) >= crypto.RoomCodeSpace {
		return "", ErrCodeSpaceExhausted
	}
	for range maxCodeAttempts {
		code := reg.newCode()
		if _, taken := reg.rooms[code]; taken {
			continue
		}
		reg.rooms[code] = &Room{Code: code, CreatedAt: reg.now()}
		return code, nil
	}
	return "", fmt.Errorf("%w: no free code after %d attempts", ErrCodeSpaceExhausted, maxCodeAttempts)
}

// Validate reports whether code names an active room.
func (reg *Registry) Validate(code string) bool {
	_, ok := reg.rooms[code]
	return ok
}

// JoinResult is everything the caller needs to notify after a join.
type JoinResult struct {
	Code   string
	Joined schemas.Participant

	// Existing holds the members present before the join. Empty on a rejoin.
	Existing []string
	Snapshot schemas.RoomSnapshot

	// Promotion is set when the joiner became host of a room with no host.
	Promotion *Promotion

	// Rejoin is true when the client was already a member and nothing changed.
	Rejoin     bool
	CallActive bool

	// Previous is set when joining moved the client out of another room.
	Previous *LeaveResult
}

// Join adds clientID to the room. The first joiner becomes host; role is advisory and ignored.
func (reg *Registry) Join(code, clientID, username, role string) (JoinResult, error) {
	room, ok := reg.rooms[code]
	if !ok {
		return JoinResult{}, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	if current, in := reg.membership[clientID]; in {
		if current == code {
			i := room.indexOf(clientID)
			return JoinResult{
				Code:       code,
				Joined:     room.participant(room.members[i]),
				Snapshot:   room.Snapshot(),
				Rejoin:     true,
				CallActive: room.callActive,
			}, nil
		}
	}

	var previous *LeaveResult
	if left, ok := reg.Leave(clientID); ok {
		previous = &left
	}

	existing := room.MemberIDs()
	m := member{id: clientID, username: username, joinedAt: reg.now()}
	room.members = append(room.members, m)
	room.everJoined = true
	reg.membership[clientID] = code

	var promotion *Promotion
	if room.hostID == "" {
		promotion = room.promote(m, ReasonJoin)
	}

	return JoinResult{
		Code:       code,
		Joined:     room.participant(m),
		Existing:   existing,
		Snapshot:   room.Snapshot(),
		Promotion:  promotion,
		CallActive: room.callActive,
		Previous:   previous,
	}, nil
}

// LeaveResult is everything the caller needs to notify after a departure.
type LeaveResult struct {
	Code      string
	Left      schemas.Participant
	Survivors []string
	Snapshot  schemas.RoomSnapshot
	Promotion *Promotion

	// Deleted is true when the room became empty and was removed.
	Deleted bool
}

// Leave removes clientID from its room, electing a new host if it held the role.
// It returns false if the client was not in a room.
func (reg *Registry) Leave(clientID string) (LeaveResult, bool) {
	code, ok := reg.membership[clientID]
	if !ok {
		return LeaveResult{}, false
	}
	delete(reg.membership, clientID)

	room := reg.rooms[code]
	i := room.indexOf(clientID)
	if i < 0 {
		return LeaveResult{}, false
	}
	left := room.participant(room.remove(i))

	res := LeaveResult{Code: code, Left: left}
	if room.Len() == 0 {
		delete(reg.rooms, code)
		res.Deleted = true
		return res, true
	}

	if left.IsHost {
		next, _ := room.successor("")
		res.Promotion = room.promote(next, ReasonDisconnect)
	}
	res.Survivors = room.MemberIDs()
	res.Snapshot = room.Snapshot()
	return res, true
}

// CallResult describes a start-call or end-call accepted from the host.
type CallResult struct {
	Code string

	// Others holds every member except the host that issued the request.
	Others    []string
	Snapshot  schemas.RoomSnapshot
	Promotion *Promotion
}

// StartCall marks the host's room as having an active call.
func (reg *Registry) StartCall(clientID string) (CallResult, error) {
	room, err := reg.hostedRoom(clientID)
	if err != nil {
		return CallResult{}, err
	}
	room.callActive = true
	return CallResult{Code: room.Code, Others: room.MemberIDs(clientID), Snapshot: room.Snapshot()}, nil
}

// EndCall ends the active call and hands the host role to the earliest other member.
// The outgoing host moves to the back of the succession order. With no other members the
// host keeps the role and no promotion is returned.
func (reg *Registry) EndCall(clientID string) (CallResult, error) {
	room, err := reg.hostedRoom(clientID)
	if err != nil {
		return CallResult{}, err
	}
	room.callActive = false

	res := CallResult{Code: room.Code, Others: room.MemberIDs(clientID)}
	if next, ok := room.successor(clientID); ok {
		i := room.indexOf(clientID)
		room.members = append(room.members, room.remove(i))
		res.Promotion = room.promote(next, ReasonEndCall)
	}
	res.Snapshot = room.Snapshot()
	return res, nil
}

func (reg *Registry) hostedRoom(clientID string) (*Room, error) {
	code, ok := reg.membership[clientID]
	if !ok {
		return nil, ErrNotMember
	}
	room := reg.rooms[code]
	if room.hostID != clientID {
		return nil, fmt.Errorf("%w: room %s is hosted by %s", ErrNotHost, code, room.hostID)
	}
	return room, nil
}

// RoomOf returns the code of the room clientID belongs to.
func (reg *Registry) RoomOf(clientID string) (string, bool) {
	code, ok := reg.membership[clientID]
	return code, ok
}

// SameRoom reports whether both clients are members of the same room.
func (reg *Registry) SameRoom(a, b string) bool {
	roomA, okA := reg.membership[a]
	roomB, okB := reg.membership[b]
	return okA && okB && roomA == roomB
}

// PruneUnjoined deletes rooms nobody ever joined that were created before cutoff.
func (reg *Registry) PruneUnjoined(cutoff time.Time) []string {
	var pruned []string
	for code, room := range reg.rooms {
		if !room.everJoined && room.CreatedAt.Before(cutoff) {
			delete(reg.rooms, code)
			pruned = append(pruned, code)
		}
	}
	sort.Strings(pruned)
	return pruned
}

// Summaries lists every active room, oldest first.
func (reg *Registry) Summaries() []Summary {
	out := make([]Summary, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		out = append(out, room.summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
