package daemon

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ammujacic/agentap/internal/config"
	"github.com/ammujacic/agentap/internal/restclient"
)

func TestOnAuthUnlinkedMachineAcceptsAnyTokenAsLocalUser(t *testing.T) {
	d := newTestDaemon(t)

	valid, userID, err := d.onAuth(t.Context(), "whatever-token")
	require.NoError(t, err)
	require.True(t, valid)
	require.Equal(t, localUserID, userID)
}

func TestOnAuthRejectsEmptyToken(t *testing.T) {
	d := newTestDaemon(t)

	valid, userID, err := d.onAuth(t.Context(), "")
	require.NoError(t, err)
	require.False(t, valid)
	require.Empty(t, userID)
}

func TestOnAuthLinkedMachineReportsValidatedUserID(t *testing.T) {
	d := newTestDaemon(t)
	d.cfg.Machine = config.MachineConfig{ID: "machine-1", APISecret: "secret"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/daemon/validate-token", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(restclient.ValidateTokenResponse{Valid: true, UserID: "remote-user-42"})
	}))
	defer srv.Close()
	d.rest = restclient.New(srv.URL, d.cfg.Machine.APISecret)

	valid, userID, err := d.onAuth(t.Context(), "a-token")
	require.NoError(t, err)
	require.True(t, valid)
	require.Equal(t, "remote-user-42", userID)
}

func TestOnAuthLinkedMachineDegradesToLocalUserOnNetworkFailure(t *testing.T) {
	d := newTestDaemon(t)
	d.cfg.Machine = config.MachineConfig{ID: "machine-1", APISecret: "secret"}
	d.rest = restclient.New("http://127.0.0.1:0", d.cfg.Machine.APISecret)

	valid, userID, err := d.onAuth(t.Context(), "a-token")
	require.NoError(t, err)
	require.True(t, valid)
	require.Equal(t, localUserID, userID)
}
