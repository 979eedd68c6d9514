package restclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateLinkRequestSendsBearerAndBody(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(LinkRequestResponse{Code: "ABC123"})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret-token")
	resp, err := c.CreateLinkRequest(t.Context(), "my-laptop", "linux", "amd64", []string{"opencode"})
	require.NoError(t, err)
	require.Equal(t, "ABC123", resp.Code)
	require.Equal(t, "Bearer secret-token", gotAuth)
	require.Equal(t, "my-laptop", gotBody["machineName"])
}

func TestLinkStatusNotLinked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(LinkStatusResponse{Linked: false})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	resp, err := c.LinkStatus(t.Context(), "ABC123")
	require.NoError(t, err)
	require.False(t, resp.Linked)
}

func TestNonTwoXXReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("invalid token"))
	}))
	defer srv.Close()

	c := New(srv.URL, "bad-secret")
	_, err := c.ValidateToken(t.Context(), "tok", "machine-1")
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestHeartbeatOmitsAuthWhenNoSecret(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	err := c.Heartbeat(t.Context(), "machine-1", HeartbeatRequest{AgentsDetected: []string{"opencode"}})
	require.NoError(t, err)
	require.Empty(t, gotAuth)
}
