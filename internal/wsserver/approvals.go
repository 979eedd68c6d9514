package wsserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ammujacic/agentap/internal/common/logger"
)

// hookLongPollTimeout bounds how long /api/hooks/approve blocks waiting
// for a decision before the calling hook script falls through to the
// agent's native prompt.
const hookLongPollTimeout = 290 * time.Second

// ApprovalRequest is one pending hook approval, as forwarded to the
// registry's notifier callback so the daemon can surface it upstream
// (push notification, broadcast) in addition to holding the long-poll
// connection open.
type ApprovalRequest struct {
	ID      string
	Payload json.RawMessage
}

// ApprovalDecision is delivered to ResolveApproval and echoed back to the
// blocked hook script as its long-poll response body.
type ApprovalDecision struct {
	PermissionDecision string `json:"permissionDecision"` // "allow" | "deny" | "ask"
}

// hookResponse is the envelope a Claude Code PreToolUse hook expects back
// from /api/hooks/approve.
type hookResponse struct {
	HookSpecificOutput hookSpecificOutput `json:"hookSpecificOutput"`
}

type hookSpecificOutput struct {
	PermissionDecision string `json:"permissionDecision"`
}

// approvalRegistry correlates hook long-poll HTTP requests with decisions
// that arrive asynchronously (typically from a remote-client websocket
// command) via a per-request channel.
type approvalRegistry struct {
	mu       sync.Mutex
	pending  map[string]chan ApprovalDecision
	notifier func(ApprovalRequest)
	log      *logger.Logger
}

func newApprovalRegistry(log *logger.Logger) *approvalRegistry {
	return &approvalRegistry{
		pending: make(map[string]chan ApprovalDecision),
		log:     log.WithFields(zap.String("component", "wsserver_approvals")),
	}
}

func (r *approvalRegistry) setNotifier(cb func(ApprovalRequest)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifier = cb
}

func (r *approvalRegistry) pendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// handleRequest backs POST /api/hooks/approve. The request body is the
// hook's native payload (a Claude Code PreToolUse input or an OpenCode
// permission.ask input), forwarded to it verbatim; the handler only needs
// a fresh correlation id to hand back to ResolveApproval.
func (r *approvalRegistry) handleRequest(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	id := uuid.NewString()
	decisionCh := make(chan ApprovalDecision, 1)

	r.mu.Lock()
	r.pending[id] = decisionCh
	notifier := r.notifier
	r.mu.Unlock()

	if notifier != nil {
		notifier(ApprovalRequest{ID: id, Payload: body})
	}

	ctx, cancel := context.WithTimeout(req.Context(), hookLongPollTimeout)
	defer cancel()

	decision := ApprovalDecision{PermissionDecision: "ask"}
	select {
	case decision = <-decisionCh:
	case <-ctx.Done():
		r.log.Info("hook approval long-poll timed out, falling back to native prompt",
			zap.String("request_id", id))
	}

	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(hookResponse{
		HookSpecificOutput: hookSpecificOutput{PermissionDecision: decision.PermissionDecision},
	})
}

// resolve delivers decision to the long-poll identified by requestID. It
// reports false if no such request is currently waiting.
func (r *approvalRegistry) resolve(requestID string, decision ApprovalDecision) bool {
	r.mu.Lock()
	ch, ok := r.pending[requestID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- decision:
		return true
	default:
		return false
	}
}
