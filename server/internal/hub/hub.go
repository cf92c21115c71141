// Package hub runs the signaling hub: one goroutine that owns every client channel and the room
// registry, applies each inbound message in arrival order and fans out the resulting notices.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gregriff/jamsesh/internal/schemas"
	"github.com/gregriff/jamsesh/internal/validation"
	"github.com/gregriff/jamsesh/server/internal/rooms"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

// ErrStopped is returned by queries made after the hub has shut down.
var ErrStopped = errors.New("hub stopped")

// Recorder persists room lifecycle events. Failures are logged and never affect signaling.
type Recorder interface {
	RoomCreated(code string, at time.Time) error
	RoomClosed(code string, at time.Time) error
	HostChanged(code string, host schemas.Participant, reason string, at time.Time) error
}

type Config struct {
	// SendBuffer is the per-client outbound queue length.
	SendBuffer int

	// Rooms created but never joined are deleted after UnjoinedTTL, checked every SweepInterval.
	UnjoinedTTL   time.Duration
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.UnjoinedTTL <= 0 {
		c.UnjoinedTTL = 10 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	return c
}

type frame struct {
	client *Client
	data   []byte
}

type Hub struct {
	cfg      Config
	registry *rooms.Registry
	recorder Recorder
	clients  map[string]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan frame
	queries    chan func()

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a hub around registry. recorder may be nil.
func New(registry *rooms.Registry, recorder Recorder, cfg Config) *Hub {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Hub{
		cfg:        cfg.withDefaults(),
		registry:   registry,
		recorder:   recorder,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan frame, 256),
		queries:    make(chan func()),
		done:       make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled, then closes every client channel.
func (h *Hub) Run(ctx context.Context) {
	sweep := time.NewTicker(h.cfg.SweepInterval)
	defer sweep.Stop()
	defer h.stop()

	for {
		select {
		case <-ctx.Done():
			log.Infof("hub stopping, closing %d client(s)", len(h.clients))
			for _, c := range h.clients {
				close(c.send)
			}
			clear(h.clients)
			return
		case c := <-h.register:
			h.clients[c.ID] = c
			c.log.Debug("client connected")
			h.send(c.ID, schemas.InitMessage{Type: schemas.TypeInit, ClientID: c.ID})
		case c := <-h.unregister:
			if _, ok := h.clients[c.ID]; !ok {
				continue
			}
			delete(h.clients, c.ID)
			close(c.send)
			c.log.Debug("client disconnected")
			if res, ok := h.registry.Leave(c.ID); ok {
				h.announceLeave(res)
			}
		case f := <-h.inbound:
			if _, ok := h.clients[f.client.ID]; !ok {
				continue
			}
			h.handle(f.client, f.data)
		case query := <-h.queries:
			query()
		case now := <-sweep.C:
			for _, code := range h.registry.PruneUnjoined(now.Add(-h.cfg.UnjoinedTTL)) {
				log.WithField("room", code).Info("pruned room that was never joined")
				h.record(h.recorder.RoomClosed(code, now))
			}
		}
	}
}

func (h *Hub) stop() { h.stopOnce.Do(func() { close(h.done) }) }

// ServeConn is the websocket handler for one signaling channel. It returns when the channel closes.
func (h *Hub) ServeConn(ws *websocket.Conn) {
	// the http server may have left deadlines on the hijacked connection
	if err := ws.SetDeadline(time.Time{}); err != nil {
		log.WithError(err).Debug("clearing connection deadline")
	}
	c := newClient(ws, h.cfg.SendBuffer)

	select {
	case h.register <- c:
	case <-h.done:
		return
	}

	var wg sync.WaitGroup
	wg.Go(c.writePump)

	c.readPump(h.inbound, h.done)

	select {
	case h.unregister <- c:
	case <-h.done:
	}
	wg.Wait()
}

// Rooms returns a summary of every active room, read on the hub goroutine.
func (h *Hub) Rooms(ctx context.Context) ([]rooms.Summary, error) {
	reply := make(chan []rooms.Summary, 1)
	query := func() { reply <- h.registry.Summaries() }

	select {
	case h.queries <- query:
	case <-h.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case summaries := <-reply:
		return summaries, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) handle(c *Client, data []byte) {
	var req schemas.Request
	if err := json.Unmarshal(data, &req); err != nil {
		c.log.WithError(err).Warn("dropping malformed message")
		return
	}
	if schemas.IsRelayed(req.Type) {
		h.relay(c, data)
		return
	}

	switch req.Type {
	case schemas.TypeCreateRoom:
		h.createRoom(c)
	case schemas.TypeValidation:
		h.validate(c, req.Code)
	case schemas.TypeJoinRoom:
		h.joinRoom(c, req)
	case schemas.TypeStartCall:
		h.startCall(c, req.Code)
	case schemas.TypeEndCall:
		h.endCall(c, req.Code)
	default:
		c.log.WithField("type", req.Type).Warn("dropping message of unknown type")
	}
}

func (h *Hub) createRoom(c *Client) {
	code, err := h.registry.CreateRoom()
	if err != nil {
		c.log.WithError(err).Error("creating room")
		return
	}
	c.log.WithField("room", code).Info("room created")
	h.record(h.recorder.RoomCreated(code, time.Now()))
	h.send(c.ID, schemas.RoomCreated{Type: schemas.TypeRoomCreated, Code: code})
}

func (h *Hub) validate(c *Client, code string) {
	status := schemas.StatusInvalid
	if h.registry.Validate(code) {
		status = schemas.StatusValid
	}
	h.send(c.ID, schemas.Validation{Type: schemas.TypeValidation, Status: status})
}

func (h *Hub) joinRoom(c *Client, req schemas.Request) {
	entry := c.log.WithField("room", req.Code)
	username := validation.NormalizeUsername(req.Username)

	res, err := h.registry.Join(req.Code, c.ID, username, req.Role)
	if err != nil {
		entry.WithError(err).Warn("dropping join")
		return
	}
	if res.Previous != nil {
		h.announceLeave(*res.Previous)
	}

	h.send(c.ID, schemas.JoinSuccess{
		Type:         schemas.TypeJoinSuccess,
		Code:         res.Code,
		RoomSnapshot: res.Snapshot,
		IsHost:       res.Joined.IsHost,
	})
	if res.Rejoin {
		return
	}
	entry.WithField("username", username).Info("joined room")

	if res.CallActive {
		h.send(c.ID, schemas.CallControl{Type: schemas.TypeStartCall, From: res.Snapshot.HostID})
	}
	h.broadcast(res.Existing, schemas.UserJoined{Type: schemas.TypeUserJoined, NewParticipant: res.Joined})

	members := append(res.Existing, c.ID)
	if res.Promotion != nil {
		h.announcePromotion(res.Code, members, res.Promotion)
	}
	h.broadcast(members, schemas.RoomUpdate{Type: schemas.TypeRoomUpdate, RoomSnapshot: res.Snapshot})
}

func (h *Hub) startCall(c *Client, code string) {
	if !h.inRoom(c, code) {
		return
	}
	res, err := h.registry.StartCall(c.ID)
	if err != nil {
		c.log.WithError(err).Warn("dropping start-call")
		return
	}
	c.log.WithField("room", res.Code).Info("call started")
	h.broadcast(res.Others, schemas.CallControl{Type: schemas.TypeStartCall, From: c.ID})
}

func (h *Hub) endCall(c *Client, code string) {
	if !h.inRoom(c, code) {
		return
	}
	res, err := h.registry.EndCall(c.ID)
	if err != nil {
		c.log.WithError(err).Warn("dropping end-call")
		return
	}
	c.log.WithField("room", res.Code).Info("call ended")
	h.broadcast(res.Others, schemas.CallControl{Type: schemas.TypeEndCall, From: c.ID})

	members := append(res.Others, c.ID)
	if res.Promotion != nil {
		h.announcePromotion(res.Code, members, res.Promotion)
	}
	h.broadcast(members, schemas.RoomUpdate{Type: schemas.TypeRoomUpdate, RoomSnapshot: res.Snapshot})
}

// inRoom rejects control requests naming a room other than the sender's. An empty code is accepted.
func (h *Hub) inRoom(c *Client, code string) bool {
	if code == "" {
		return true
	}
	if current, ok := h.registry.RoomOf(c.ID); !ok || current != code {
		c.log.WithField("room", code).Warn("dropping control request for a room the client is not in")
		return false
	}
	return true
}

func (h *Hub) announceLeave(res rooms.LeaveResult) {
	entry := log.WithFields(log.Fields{"room": res.Code, "client": res.Left.ID})
	if res.Deleted {
		entry.Info("last participant left, room closed")
		h.record(h.recorder.RoomClosed(res.Code, time.Now()))
		return
	}
	entry.Info("participant left")
	h.broadcast(res.Survivors, schemas.ClientLeft{Type: schemas.TypeClientLeft, Participant: res.Left})
	if res.Promotion != nil {
		h.announcePromotion(res.Code, res.Survivors, res.Promotion)
	}
	h.broadcast(res.Survivors, schemas.RoomUpdate{Type: schemas.TypeRoomUpdate, RoomSnapshot: res.Snapshot})
}

// announcePromotion tells every member who now hosts, flagging the new host's own copy.
func (h *Hub) announcePromotion(code string, members []string, p *rooms.Promotion) {
	log.WithFields(log.Fields{"room": code, "host": p.Host.ID, "reason": p.Reason}).Info("host promoted")
	h.record(h.recorder.HostChanged(code, p.Host, string(p.Reason), time.Now()))
	for _, id := range members {
		h.send(id, schemas.HostPromoted{
			Type:            schemas.TypeHostPromoted,
			NewHostID:       p.Host.ID,
			NewHostUsername: p.Host.Username,
			IsYou:           id == p.Host.ID,
		})
	}
}

func (h *Hub) send(id string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Errorf("encoding %T", v)
		return
	}
	h.deliver(id, data)
}

func (h *Hub) broadcast(ids []string, v any) {
	if len(ids) == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Errorf("encoding %T", v)
		return
	}
	for _, id := range ids {
		h.deliver(id, data)
	}
}

// deliver is fire-and-forget: missing clients and full queues drop the message.
func (h *Hub) deliver(id string, data []byte) {
	c, ok := h.clients[id]
	if !ok {
		log.WithField("client", id).Debug("dropping message for missing client")
		return
	}
	if !c.deliver(data) {
		c.log.Warn("send queue full, dropping message")
	}
}

func (h *Hub) record(err error) {
	if err != nil {
		log.WithError(err).Warn("recording room history")
	}
}

type noopRecorder struct{}

func (noopRecorder) RoomCreated(string, time.Time) error { return nil }
func (noopRecorder) RoomClosed(string, time.Time) error  { return nil }
func (noopRecorder) HostChanged(string, schemas.Participant, string, time.Time) error {
	return nil
}
