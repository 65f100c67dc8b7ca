package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"classchat/pkg/interfaces"
	"classchat/pkg/log"
	"classchat/pkg/types"
)

var _ interfaces.Socket = (*Connection)(nil)

// Connection implements interfaces.Socket on top of a gorilla connection
// ARCHITECTURAL DISCOVERY: gorilla allows one concurrent writer, so every data
// frame goes through writeLoop. Pings and the close frame use WriteControl,
// which gorilla permits concurrently with other writes.
type Connection struct {
	conn      *websocket.Conn
	writeCh   chan []byte
	stopped   chan struct{}
	opts      Options
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	log       zerolog.Logger

	mu       sync.Mutex
	writeErr error // First failed write; later sends report the connection closed
}

// NewConnection wraps conn and starts its writer and heartbeat goroutines
func NewConnection(conn *websocket.Conn, opts Options) *Connection {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		writeCh: make(chan []byte, opts.BufferSize),
		stopped: make(chan struct{}),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		log:     log.WithComponent("websocket"),
	}

	// Every pong or frame from the server pushes the read deadline out
	_ = conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
	})

	go c.writeLoop()
	go c.pingLoop()

	return c
}

func (c *Connection) writeLoop() {
	defer close(c.stopped)
	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(data); err != nil {
				// The read side observes the broken link and reports the close
				c.log.Warn().Err(err).Msg("Socket write failed")
				c.mu.Lock()
				c.writeErr = err
				c.mu.Unlock()
				c.cancel()
				_ = c.conn.Close()
				return
			}

		case <-c.ctx.Done():
			c.drain()
			return
		}
	}
}

// drain flushes frames queued before Close so a send followed by Close is not lost
func (c *Connection) drain() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Connection) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.Debug().Err(err).Msg("Ping failed")
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for the writer goroutine
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	timer := time.NewTimer(c.opts.WriteTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// ReadMessage returns the next text frame. Binary frames are skipped.
func (c *Connection) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, c.closeError(err)
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		if messageType == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *Connection) closeError(err error) error {
	var wsClose *websocket.CloseError
	if errors.As(err, &wsClose) {
		return &types.CloseError{Code: wsClose.Code, Reason: wsClose.Text}
	}
	c.mu.Lock()
	writeErr := c.writeErr
	c.mu.Unlock()
	if writeErr != nil {
		return &types.CloseError{Code: types.CloseAbnormal, Reason: writeErr.Error()}
	}
	select {
	case <-c.ctx.Done():
		return &types.CloseError{Code: types.CloseNormal, Reason: "closed by client"}
	default:
	}
	return &types.CloseError{Code: types.CloseAbnormal, Reason: err.Error()}
}

// Close flushes queued frames, sends a normal close frame and releases the
// connection. Idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.stopped

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))

		err = c.conn.Close()
	})
	return err
}
