package wsserver

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ammujacic/agentap/internal/common/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBufferSize = 256
)

// client wraps one authenticated WebSocket connection. Reads and writes
// each run on their own goroutine; outbound frames are queued on a bounded
// channel so a stalled client cannot block the broadcaster.
type client struct {
	id   string
	conn *websocket.Conn
	srv  *Server
	send chan []byte
	log  *logger.Logger

	mu            sync.Mutex
	closed        bool
	authenticated bool
}

func newClient(id string, conn *websocket.Conn, srv *Server, log *logger.Logger) *client {
	return &client{
		id:   id,
		conn: conn,
		srv:  srv,
		send: make(chan []byte, sendBufferSize),
		log:  log.WithFields(zap.String("client_id", id)),
	}
}

// enqueue offers data to the client's send buffer without blocking. It
// reports false if the buffer was already full, signaling the caller to
// drop this client rather than wait on it.
func (c *client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.srv.hub.unregister <- c
		c.srv.forgetClient(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("", ErrorCodeBadRequest, "malformed message envelope")
			continue
		}

		go c.srv.handleMessage(ctx, c, &msg)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(data)

			// Drain any further already-queued messages into the same frame.
			n := len(c.send)
			for range n {
				queued, ok := <-c.send
				if !ok {
					break
				}
				_, _ = w.Write([]byte{'\n'})
				_, _ = w.Write(queued)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to marshal outgoing message", zap.Error(err))
		return
	}
	if !c.enqueue(data) {
		c.log.Warn("client send buffer full, dropping client")
		c.srv.hub.unregister <- c
	}
}

func (c *client) sendError(id string, code, errMsg string) {
	c.sendMessage(newErrorMessage(id, "", code, errMsg))
}
