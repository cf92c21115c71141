// Package schemas contains the wire types exchanged between jamsesh clients and the server.
// Every message is a JSON object with a "type" discriminator.
package schemas

import "encoding/json"

// message types
const (
	TypeInit         = "init"
	TypeCreateRoom   = "create_room"
	TypeRoomCreated  = "room_created"
	TypeValidation   = "validation"
	TypeJoinRoom     = "joinroom"
	TypeJoinSuccess  = "join_success"
	TypeUserJoined   = "user-joined"
	TypeRoomUpdate   = "room-update"
	TypeStartCall    = "start-call"
	TypeEndCall      = "end-call"
	TypeClientLeft   = "client-left"
	TypeHostPromoted = "host-promoted"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
)

// validation statuses
const (
	StatusValid   = "valid"
	StatusInvalid = "invalid"
)

// requested roles. The server treats these as hints only.
const (
	RoleHost     = "host"
	RoleListener = "listener"
)

// IsRelayed reports whether messages of type t are forwarded peer to peer.
func IsRelayed(t string) bool {
	return t == TypeOffer || t == TypeAnswer || t == TypeICECandidate
}

// Participant is a member of a room as observed by clients.
type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsHost   bool   `json:"isHost"`
}

// RoomSnapshot is the authoritative view of a room. Clients overwrite their roster with it.
type RoomSnapshot struct {
	Participants []Participant `json:"participants"`
	HostID       string        `json:"hostId"`
}

// Host returns the participant holding the host role, if any.
func (s RoomSnapshot) Host() (Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == s.HostID {
			return p, true
		}
	}
	return Participant{}, false
}

// Request is any non-relayed message sent by a client.
type Request struct {
	Type     string `json:"type"`
	Code     string `json:"code,omitempty"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
}

type InitMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

type RoomCreated struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

type Validation struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

type JoinSuccess struct {
	Type string `json:"type"`
	Code string `json:"code"`
	RoomSnapshot
	IsHost bool `json:"isHost"`
}

type UserJoined struct {
	Type           string      `json:"type"`
	NewParticipant Participant `json:"newParticipant"`
}

type RoomUpdate struct {
	Type string `json:"type"`
	RoomSnapshot
}

// CallControl is a start-call or end-call notice, stamped with the host that issued it.
type CallControl struct {
	Type string `json:"type"`
	From string `json:"from"`
}

type ClientLeft struct {
	Type        string      `json:"type"`
	Participant Participant `json:"participant"`
}

type HostPromoted struct {
	Type            string `json:"type"`
	NewHostID       string `json:"newHostId"`
	NewHostUsername string `json:"newHostUsername"`
	IsYou           bool   `json:"isYou"`
}

// Signal is an offer, answer or ice-candidate addressed to a single peer.
// The server never reads Payload fields; it only rewrites From.
type Signal struct {
	Type      string          `json:"type"`
	To        string          `json:"to"`
	From      string          `json:"from,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Message is the union of every field the server sends. Clients decode into it and switch on Type.
type Message struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
	Code     string `json:"code"`
	Status   string `json:"status"`

	Participants []Participant `json:"participants"`
	HostID       string        `json:"hostId"`
	IsHost       bool          `json:"isHost"`

	NewParticipant  Participant `json:"newParticipant"`
	Participant     Participant `json:"participant"`
	NewHostID       string      `json:"newHostId"`
	NewHostUsername string      `json:"newHostUsername"`
	IsYou           bool        `json:"isYou"`

	To        string          `json:"to"`
	From      string          `json:"from"`
	SDP       json.RawMessage `json:"sdp"`
	Candidate json.RawMessage `json:"candidate"`
}

// Snapshot returns the room snapshot carried by join_success and room-update messages.
func (m Message) Snapshot() RoomSnapshot {
	return RoomSnapshot{Participants: m.Participants, HostID: m.HostID}
}
