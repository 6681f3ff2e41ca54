package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alinzhou20/miniServer/pkg/event"
)

// Connection wraps one WebSocket with a single-writer goroutine so
// concurrent senders never race on the socket. Identity is fixed at
// handshake time and never changes; a role or group change requires a new
// connection.
type Connection struct {
	id       string
	conn     *websocket.Conn
	identity *event.Identity

	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection wraps an upgraded socket. bufferSize bounds the outbound
// queue; when it is full the copy for this recipient is dropped rather
// than stalling the emitting loop.
func NewConnection(conn *websocket.Conn, identity *event.Identity, bufferSize int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.New().String(),
		conn:         conn,
		identity:     identity,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	go c.writeLoop()
	return c
}

// ID returns the transport connection id.
func (c *Connection) ID() string { return c.id }

// Identity returns the participant behind this connection.
func (c *Connection) Identity() *event.Identity { return c.identity }

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send marshals v and queues it for the writer goroutine. Never blocks:
// a closed connection or a full buffer returns an error and the caller
// decides whether the drop matters.
func (c *Connection) Send(v any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrWriteBufferFull
	}
}

// Close tears the connection down. Idempotent; once close is requested no
// further events are delivered for this connection.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
