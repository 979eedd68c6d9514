// Package wsserver is the daemon's WebSocket fan-out endpoint: it
// authenticates the remote mobile/web client, dispatches its requests to
// the daemon orchestrator via callbacks, and broadcasts canonical ACP
// events and session-list snapshots to every connected client.
package wsserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ammujacic/agentap/internal/adapter"
	"github.com/ammujacic/agentap/internal/common/logger"
	"github.com/ammujacic/agentap/internal/protocol"
	"github.com/ammujacic/agentap/internal/session"
)

// StartSessionRequest is the payload of an ActionStartSession request.
type StartSessionRequest struct {
	Agent       string `json:"agent"`
	ProjectPath string `json:"projectPath"`
	Prompt      string `json:"prompt"`
}

// Callbacks wires every request the remote client can make into the
// daemon orchestrator. Every field must be set before Server.Run is
// called; a nil callback for an implemented action is a programmer error.
type Callbacks struct {
	OnAuth                func(ctx context.Context, token string) (valid bool, userID string, err error)
	OnCommand             func(ctx context.Context, sessionID string, cmd adapter.Command) error
	OnTerminateSession    func(ctx context.Context, sessionID string) error
	OnStartSession        func(ctx context.Context, req StartSessionRequest) (session.Session, error)
	GetSessions           func() []session.Session
	GetCapabilities       func() map[string]session.Capabilities
	GetSessionHistory     func(sessionID string) ([]protocol.Event, error)
	OnClientAuthenticated func(clientID string)
}

// Server owns the hub, the hook-approval long-poll registry, and the
// single HTTP mux both are mounted on.
type Server struct {
	hub       *hub
	approvals *approvalRegistry
	callbacks Callbacks
	upgrader  websocket.Upgrader
	log       *logger.Logger

	mu            sync.RWMutex
	authenticated map[*client]bool
}

// New constructs a Server. Call Handler to obtain the mux to serve, and
// Run to start the hub's owning goroutine.
func New(callbacks Callbacks, log *logger.Logger) *Server {
	return &Server{
		hub:           newHub(log),
		approvals:     newApprovalRegistry(log),
		callbacks:     callbacks,
		authenticated: make(map[*client]bool),
		log:           log.WithFields(zap.String("component", "wsserver")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Run starts the hub's single owning goroutine and blocks until ctx is
// canceled, at which point every connected client is closed.
func (s *Server) Run(ctx context.Context) {
	s.hub.run(ctx)
}

// Handler returns the mux mounting the WebSocket upgrade endpoint, the
// hook-approval long-poll endpoint, and a health probe. The daemon mounts
// this on whichever *http.Server it exposes through the tunnel.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/api/hooks/approve", s.approvals.handleRequest)
	mux.HandleFunc("/api/hooks/health", s.handleHooksHealth)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `{"status":"ok","clients":%d}`, s.GetClientCount())
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(uuid.NewString(), conn, s, s.log)
	s.hub.register <- c

	go c.writePump()
	c.readPump(r.Context())
}

func (s *Server) handleHooksHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `{"pendingApprovals":%d}`, s.approvals.pendingCount())
}

// GetClientCount reports the number of currently registered clients.
func (s *Server) GetClientCount() int {
	return s.hub.count()
}

// Close disconnects every currently registered client; it does not stop
// new connections from registering. Canceling Run's context also closes
// every client and stops the hub; Close lets a caller without ctx ownership
// disconnect the clients synchronously.
func (s *Server) Close() {
	s.hub.closeAll()
}

// BroadcastACPEvent fans a canonical event out to every connected client.
func (s *Server) BroadcastACPEvent(event protocol.Event) {
	msg, err := newNotification(ActionACPEvent, event)
	if err != nil {
		s.log.Error("failed to encode acp event broadcast", zap.Error(err))
		return
	}
	s.hub.broadcastMessage(msg)
}

// BroadcastSessionsList fans the current session table snapshot out to
// every connected client.
func (s *Server) BroadcastSessionsList(sessions []session.Session) {
	msg, err := newNotification(ActionSessionsList, sessions)
	if err != nil {
		s.log.Error("failed to encode sessions list broadcast", zap.Error(err))
		return
	}
	s.hub.broadcastMessage(msg)
}

// SetApprovalNotifier registers the callback invoked whenever a hook
// approval request starts waiting, so the daemon can forward it upstream
// (e.g. a push notification) in addition to the long-poll response.
func (s *Server) SetApprovalNotifier(cb func(ApprovalRequest)) {
	s.approvals.setNotifier(cb)
}

// PendingApprovalCount reports how many hook approval long-polls are
// currently blocked waiting for a decision.
func (s *Server) PendingApprovalCount() int {
	return s.approvals.pendingCount()
}

// ResolveApproval delivers a decision to a blocked hook long-poll
// identified by requestID. It returns false if no such request is
// waiting (already resolved, or timed out).
func (s *Server) ResolveApproval(requestID string, decision ApprovalDecision) bool {
	return s.approvals.resolve(requestID, decision)
}

func (s *Server) isAuthenticated(c *client) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated[c]
}

func (s *Server) markAuthenticated(c *client) {
	s.mu.Lock()
	s.authenticated[c] = true
	s.mu.Unlock()
}

func (s *Server) forgetClient(c *client) {
	s.mu.Lock()
	delete(s.authenticated, c)
	s.mu.Unlock()
}
