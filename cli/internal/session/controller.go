// Package session is the client side of a room: it reacts to server messages, decides when
// this participant streams, and tells the peer orchestrator whom to connect to.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gregriff/jamsesh/internal/schemas"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNotHost   = errors.New("only the host can do that")
	ErrNotInRoom = errors.New("not in a room")
	ErrNoRoom    = errors.New("room not found")
)

// Conn sends room control requests to the signaling server.
type Conn interface {
	CreateRoom() error
	Validate(code string) error
	JoinRoom(code, username string) error
	StartCall(code string) error
	EndCall(code string) error
}

// Peers is the per-peer session table.
type Peers interface {
	Connect(peerID string) error
	HandleSignal(msg schemas.Message) error
	Close(peerID string)
	CloseAll()
}

// Events receives everything a user interface shows.
type Events interface {
	RoomReady(code string)
	Roster(snapshot schemas.RoomSnapshot, selfID string)
	ParticipantJoined(p schemas.Participant)
	ParticipantLeft(p schemas.Participant)
	HostPromoted(username string, isYou bool)
	CallStarted(hosting bool)
	CallEnded()
}

type Config struct {
	Username string

	// Code joins an existing room. Empty creates a new one.
	Code string

	// AutoStart starts a call as soon as this participant becomes host.
	AutoStart bool
}

// Controller holds the client's view of its room. Handle and the call commands may be
// called from different goroutines.
type Controller struct {
	conn   Conn
	peers  Peers
	events Events
	cfg    Config

	mu        sync.Mutex
	selfID    string
	code      string
	snapshot  schemas.RoomSnapshot
	joined    bool
	streaming bool
	inCall    bool
}

func New(conn Conn, peers Peers, events Events, cfg Config) *Controller {
	return &Controller{conn: conn, peers: peers, events: events, cfg: cfg}
}

// Handle applies one server message. Errors are returned only for conditions that end the
// session, such as an invalid room code.
func (c *Controller) Handle(msg schemas.Message) error {
	entry := log.WithField("type", msg.Type)

	switch msg.Type {
	case schemas.TypeInit:
		c.mu.Lock()
		c.selfID = msg.ClientID
		c.mu.Unlock()
		entry.WithField("client", msg.ClientID).Debug("identity assigned")
		if c.cfg.Code == "" {
			return c.conn.CreateRoom()
		}
		return c.conn.Validate(c.cfg.Code)

	case schemas.TypeRoomCreated:
		c.events.RoomReady(msg.Code)
		return c.conn.JoinRoom(msg.Code, c.cfg.Username)

	case schemas.TypeValidation:
		if msg.Status != schemas.StatusValid {
			return fmt.Errorf("%w: %s", ErrNoRoom, c.cfg.Code)
		}
		return c.conn.JoinRoom(c.cfg.Code, c.cfg.Username)

	case schemas.TypeJoinSuccess:
		c.mu.Lock()
		c.code = msg.Code
		c.joined = true
		c.snapshot = msg.Snapshot()
		c.mu.Unlock()
		c.events.RoomReady(msg.Code)
		c.roster()
		if msg.IsHost {
			return c.becomeHost()
		}

	case schemas.TypeRoomUpdate:
		c.mu.Lock()
		c.snapshot = msg.Snapshot()
		c.mu.Unlock()
		c.roster()

	case schemas.TypeHostPromoted:
		c.events.HostPromoted(msg.NewHostUsername, msg.IsYou)
		if msg.IsYou {
			return c.becomeHost()
		}
		c.stopStreaming()

	case schemas.TypeStartCall:
		c.mu.Lock()
		c.inCall = true
		c.mu.Unlock()
		c.events.CallStarted(false)

	case schemas.TypeEndCall:
		c.mu.Lock()
		c.inCall = false
		c.mu.Unlock()
		c.peers.CloseAll()
		c.events.CallEnded()

	case schemas.TypeUserJoined:
		c.events.ParticipantJoined(msg.NewParticipant)
		c.mu.Lock()
		connect := c.streaming && c.inCall
		c.mu.Unlock()
		if connect {
			c.connect(msg.NewParticipant.ID)
		}

	case schemas.TypeClientLeft:
		// the room-update that follows replaces this; until then nobody connects to the leaver
		c.mu.Lock()
		c.snapshot.Participants = slices.DeleteFunc(slices.Clone(c.snapshot.Participants), func(p schemas.Participant) bool {
			return p.ID == msg.Participant.ID
		})
		c.mu.Unlock()
		c.peers.Close(msg.Participant.ID)
		c.events.ParticipantLeft(msg.Participant)

	case schemas.TypeOffer, schemas.TypeAnswer, schemas.TypeICECandidate:
		if err := c.peers.HandleSignal(msg); err != nil {
			entry.WithField("from", msg.From).WithError(err).Warn("negotiation failed")
		}

	default:
		entry.Warn("unknown message type dropped")
	}
	return nil
}

func (c *Controller) roster() {
	c.mu.Lock()
	snapshot, self := c.snapshot, c.selfID
	c.mu.Unlock()
	c.events.Roster(snapshot, self)
}

// becomeHost makes this participant the streamer. It is idempotent: a repeated promotion
// neither restarts the call nor opens duplicate sessions.
func (c *Controller) becomeHost() error {
	c.mu.Lock()
	if c.streaming {
		c.mu.Unlock()
		return nil
	}
	c.streaming = true
	inCall := c.inCall
	c.mu.Unlock()

	log.Info("hosting")
	if inCall {
		c.connectAll()
		return nil
	}
	if c.cfg.AutoStart {
		return c.StartCall()
	}
	return nil
}

func (c *Controller) stopStreaming() {
	c.mu.Lock()
	was := c.streaming
	c.streaming = false
	c.mu.Unlock()
	if was {
		// the new host opens fresh sessions to everyone
		c.peers.CloseAll()
	}
}

func (c *Controller) others() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for _, p := range c.snapshot.Participants {
		if p.ID != c.selfID {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func (c *Controller) connectAll() {
	for _, id := range c.others() {
		c.connect(id)
	}
}

func (c *Controller) connect(peerID string) {
	if err := c.peers.Connect(peerID); err != nil {
		log.WithField("peer", peerID).WithError(err).Warn("connecting")
	}
}

// StartCall begins streaming to every other participant.
func (c *Controller) StartCall() error {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return ErrNotInRoom
	}
	// a host that ended a call alone keeps the role without streaming
	if !c.streaming && c.snapshot.HostID != c.selfID {
		c.mu.Unlock()
		return ErrNotHost
	}
	if c.inCall && c.streaming {
		c.mu.Unlock()
		return nil
	}
	c.streaming = true
	c.inCall = true
	code := c.code
	c.mu.Unlock()

	if err := c.conn.StartCall(code); err != nil {
		return fmt.Errorf("starting call: %w", err)
	}
	c.events.CallStarted(true)
	c.connectAll()
	return nil
}

// EndCall stops streaming and hands the host role to the next participant.
func (c *Controller) EndCall() error {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return ErrNotInRoom
	}
	if !c.streaming {
		c.mu.Unlock()
		return ErrNotHost
	}
	c.inCall = false
	c.streaming = false
	code := c.code
	c.mu.Unlock()

	err := c.conn.EndCall(code)
	c.peers.CloseAll()
	c.events.CallEnded()
	if err != nil {
		return fmt.Errorf("ending call: %w", err)
	}
	return nil
}

// Status is a point-in-time view for display.
type Status struct {
	Code      string
	SelfID    string
	Snapshot  schemas.RoomSnapshot
	Streaming bool
	InCall    bool
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Code:      c.code,
		SelfID:    c.selfID,
		Snapshot:  schemas.RoomSnapshot{Participants: slices.Clone(c.snapshot.Participants), HostID: c.snapshot.HostID},
		Streaming: c.streaming,
		InCall:    c.inCall,
	}
}

// Run applies messages until the channel closes or ctx is done, then tears down every session.
func (c *Controller) Run(ctx context.Context, messages <-chan schemas.Message) error {
	defer c.peers.CloseAll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if err := c.Handle(msg); err != nil {
				return err
			}
		}
	}
}
