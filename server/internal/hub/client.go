package hub

import (
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer. SDP blobs fit comfortably.
	maxMessageSize = 64 * 1024
)

// Client is one open signaling channel. Its id is assigned here and is the identity the
// relay stamps on everything the client sends.
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan []byte
	log  *log.Entry
}

func newClient(conn *websocket.Conn, buffer int) *Client {
	id := uuid.NewString()
	conn.MaxPayloadBytes = maxMessageSize
	return &Client{
		ID:   id,
		conn: conn,
		send: make(chan []byte, buffer),
		log:  log.WithField("client", id),
	}
}

// readPump forwards every frame to the hub until the connection fails.
func (c *Client) readPump(inbound chan<- frame, done <-chan struct{}) {
	for {
		var data []byte
		if err := websocket.Message.Receive(c.conn, &data); err != nil {
			if !errors.Is(err, io.EOF) {
				c.log.WithError(err).Debug("read failed, closing channel")
			}
			return
		}
		select {
		case inbound <- frame{client: c, data: data}:
		case <-done:
			return
		}
	}
}

// writePump drains the send queue onto the connection. It returns once the hub closes the queue.
func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			c.log.WithError(err).Debug("setting write deadline")
		}
		if err := websocket.Message.Send(c.conn, string(msg)); err != nil {
			c.log.WithError(err).Debug("write failed")
			// unblocks readPump so the hub hears about the loss
			c.conn.Close()
		}
	}
}

// deliver queues msg without blocking. A full queue drops the message.
func (c *Client) deliver(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}
