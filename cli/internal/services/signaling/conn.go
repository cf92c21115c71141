// Package signaling holds the client side of the jamsesh websocket: room control requests
// go out and every server message comes back decoded into a schemas.Message.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gregriff/jamsesh/internal/schemas"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

const (
	endpoint = "/ws"
	origin   = "app://jamsesh" // no real origin b/c we're not a browser
)

// ErrClosed is returned by Send and Receive after Close.
var ErrClosed = errors.New("signaling connection closed")

type Conn struct {
	ws *websocket.Conn

	sendMu sync.Mutex
	once   sync.Once
	closed chan struct{}
}

// NewConfig creates a websocket.Config for the signaling endpoint of the server at baseURL.
func NewConfig(baseURL string) (*websocket.Config, error) {
	loc := strings.Replace(strings.TrimSuffix(baseURL, "/"), "http", "ws", 1) + endpoint
	log.Debugf("ws url: %s", loc)
	return websocket.NewConfig(loc, origin)
}

// Dial connects to the signaling endpoint of the server at baseURL.
func Dial(ctx context.Context, baseURL string) (*Conn, error) {
	cfg, err := NewConfig(baseURL)
	if err != nil {
		return nil, err
	}
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("error dialing ws: %w", err)
	}
	return &Conn{ws: ws, closed: make(chan struct{})}, nil
}

// Send writes v as one JSON frame. Safe for concurrent use.
func (c *Conn) Send(v any) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := websocket.JSON.Send(c.ws, v); err != nil {
		return fmt.Errorf("error writing to websocket: %w", err)
	}
	return nil
}

// CreateRoom asks the server for a new room code.
func (c *Conn) CreateRoom() error {
	return c.Send(schemas.Request{Type: schemas.TypeCreateRoom})
}

// Validate asks whether code names a live room.
func (c *Conn) Validate(code string) error {
	return c.Send(schemas.Request{Type: schemas.TypeValidation, Code: code})
}

func (c *Conn) JoinRoom(code, username string) error {
	return c.Send(schemas.Request{Type: schemas.TypeJoinRoom, Code: code, Username: username})
}

func (c *Conn) StartCall(code string) error {
	return c.Send(schemas.Request{Type: schemas.TypeStartCall, Code: code})
}

func (c *Conn) EndCall(code string) error {
	return c.Send(schemas.Request{Type: schemas.TypeEndCall, Code: code})
}

// Receive blocks until the next server message arrives or ctx is done.
func (c *Conn) Receive(ctx context.Context) (schemas.Message, error) {
	var msg schemas.Message
	if err := receiveWithContext(ctx, c.ws, &msg); err != nil {
		select {
		case <-c.closed:
			return msg, ErrClosed
		default:
		}
		return msg, err
	}
	return msg, nil
}

// ReadLoop forwards every server message to out until the connection ends or ctx is done.
// out is closed on return.
func (c *Conn) ReadLoop(ctx context.Context, out chan<- schemas.Message) error {
	defer close(out)
	for {
		msg, err := c.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("error reading from ws: %w", err)
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

// Close closes the websocket. Readers blocked in Receive unblock with ErrClosed.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}

// receiveWithContext reads json into v from ws in a new goroutine and cancels
// the read if ctx is cancelled. Param v should be a pointer.
func receiveWithContext(ctx context.Context, ws *websocket.Conn, v any) error {
	var (
		recv sync.WaitGroup
		done = make(chan error, 1)
	)
	defer recv.Wait()

	recv.Go(func() {
		done <- websocket.JSON.Receive(ws, v)
	})

	select {
	case <-ctx.Done():
		_ = ws.SetReadDeadline(time.Now()) // interrupt the read
		return ctx.Err()
	case err := <-done:
		return err
	}
}
