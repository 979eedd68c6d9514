package wsserver

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/ammujacic/agentap/internal/common/logger"
)

// hub owns the set of live client connections and serializes every
// mutation of that set through its own goroutine, per the daemon's
// single-owner concurrency policy.
type hub struct {
	clients map[*client]bool

	register   chan *client
	unregister chan *client
	broadcast  chan *Message

	mu  sync.RWMutex
	log *logger.Logger
}

func newHub(log *logger.Logger) *hub {
	return &hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan *Message, 256),
		log:        log.WithFields(zap.String("component", "wsserver_hub")),
	}
}

func (h *hub) run(ctx context.Context) {
	h.log.Info("websocket hub started")
	defer h.log.Info("websocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.remove(c)
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.closeSend()
		delete(h.clients, c)
	}
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.closeSend()
	}
}

// deliver enqueues msg on every client's bounded send buffer. A client
// whose buffer is already full is dropped and unregistered rather than
// allowed to stall the broadcaster.
func (h *hub) deliver(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(data) {
			h.log.Warn("dropping slow websocket client", zap.String("client_id", c.id))
			h.remove(c)
		}
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) broadcastMessage(msg *Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("broadcast channel full, dropping message", zap.String("action", string(msg.Action)))
	}
}
