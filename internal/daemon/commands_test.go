package daemon

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ammujacic/agentap/internal/adapter"
	"github.com/ammujacic/agentap/internal/wsserver"
)

// TestOnCommandResolvesHookApprovalBeforeFallingBackToDriver exercises the
// path in onCommand that a hook script actually takes: a Claude Code
// PreToolUse hook blocks on POST /api/hooks/approve with no session driver
// of its own, and a remote approve/deny command resolves that long-poll by
// request id rather than reaching a driver at all.
func TestOnCommandResolvesHookApprovalBeforeFallingBackToDriver(t *testing.T) {
	d := newTestDaemon(t)

	requestIDs := make(chan string, 1)
	d.ws.SetApprovalNotifier(func(req wsserver.ApprovalRequest) {
		requestIDs <- req.ID
	})

	srv := httptest.NewServer(d.ws.Handler())
	defer srv.Close()

	type hookResult struct {
		body []byte
		err  error
	}
	resultCh := make(chan hookResult, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/api/hooks/approve", "application/json", bytes.NewBufferString(`{"tool":"bash"}`))
		if err != nil {
			resultCh <- hookResult{err: err}
			return
		}
		defer resp.Body.Close()
		var out bytes.Buffer
		_, err = out.ReadFrom(resp.Body)
		resultCh <- hookResult{body: out.Bytes(), err: err}
	}()

	var requestID string
	select {
	case requestID = <-requestIDs:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the hook approval notifier")
	}
	require.NotEmpty(t, requestID)

	// No driver is attached for any session; onCommand must resolve the
	// hook's long-poll directly instead of returning a session-not-found
	// error from resolveDriver.
	err := d.onCommand(t.Context(), "", adapter.Command{
		Type:      adapter.CommandApproveToolCall,
		RequestID: requestID,
	})
	require.NoError(t, err)

	select {
	case res := <-resultCh:
		require.NoError(t, res.err)
		var decoded struct {
			HookSpecificOutput struct {
				PermissionDecision string `json:"permissionDecision"`
			} `json:"hookSpecificOutput"`
		}
		require.NoError(t, json.Unmarshal(res.body, &decoded))
		require.Equal(t, "allow", decoded.HookSpecificOutput.PermissionDecision)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the hook long-poll to resolve")
	}
}

func TestOnCommandResolveApprovalMissReturnsSessionNotFound(t *testing.T) {
	d := newTestDaemon(t)

	err := d.onCommand(t.Context(), "no-such-session", adapter.Command{
		Type:      adapter.CommandDenyToolCall,
		RequestID: "not-pending",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "session not found")
}
