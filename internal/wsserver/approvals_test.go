package wsserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApprovalLongPollResolvesWithDecision(t *testing.T) {
	reg := newApprovalRegistry(testLogger(t))

	var captured ApprovalRequest
	reg.setNotifier(func(r ApprovalRequest) { captured = r })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/hooks/approve", bytes.NewReader([]byte(`{"tool_name":"Bash"}`)))

	done := make(chan struct{})
	go func() {
		reg.handleRequest(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return captured.ID != "" }, time.Second, 5*time.Millisecond)
	require.Contains(t, string(captured.Payload), "Bash")

	require.True(t, reg.resolve(captured.ID, ApprovalDecision{PermissionDecision: "allow"}))
	<-done

	require.Equal(t, http.StatusOK, rec.Code)
	var resp hookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "allow", resp.HookSpecificOutput.PermissionDecision)
}

func TestResolveUnknownRequestIDReturnsFalse(t *testing.T) {
	reg := newApprovalRegistry(testLogger(t))
	require.False(t, reg.resolve("no-such-request", ApprovalDecision{PermissionDecision: "allow"}))
}

func TestApprovalRegistryRejectsNonPost(t *testing.T) {
	reg := newApprovalRegistry(testLogger(t))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/hooks/approve", nil)

	reg.handleRequest(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPendingCountTracksInFlightRequests(t *testing.T) {
	reg := newApprovalRegistry(testLogger(t))
	req := httptest.NewRequest(http.MethodPost, "/api/hooks/approve", bytes.NewReader([]byte(`{}`)))

	done := make(chan struct{})
	go func() {
		reg.handleRequest(httptest.NewRecorder(), req)
		close(done)
	}()

	require.Eventually(t, func() bool { return reg.pendingCount() == 1 }, time.Second, 5*time.Millisecond)

	var id string
	reg.mu.Lock()
	for k := range reg.pending {
		id = k
	}
	reg.mu.Unlock()

	reg.resolve(id, ApprovalDecision{PermissionDecision: "deny"})
	<-done
	require.Equal(t, 0, reg.pendingCount())
}
