package restclient

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitForLinkReturnsOnceLinked(t *testing.T) {
	var attempts int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&attempts, 1)
		w.Header().Set("Content-Type", "application/json")
		if n < 2 {
			_, _ = w.Write([]byte(`{"linked":false}`))
			return
		}
		_, _ = w.Write([]byte(`{"linked":true,"machineId":"m1","userId":"u1","apiSecret":"s1"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	polls := 0
	status, err := c.WaitForLink(t.Context(), "CODE", func(*LinkStatusResponse) { polls++ })
	require.NoError(t, err)
	require.True(t, status.Linked)
	require.Equal(t, "m1", status.MachineID)
	require.GreaterOrEqual(t, polls, 2)
}

func TestWaitForLinkAbortsOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.WaitForLink(t.Context(), "CODE", nil)
	require.ErrorIs(t, err, ErrLinkNotFound)
}

func TestWaitForLinkIgnoresTransientErrorsAndRetries(t *testing.T) {
	var attempts int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&attempts, 1)
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"linked":true,"machineId":"m2"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	status, err := c.WaitForLink(t.Context(), "CODE", nil)
	require.NoError(t, err)
	require.Equal(t, "m2", status.MachineID)
}

func TestLinkPollIntervalIsTwoSeconds(t *testing.T) {
	require.Equal(t, 2*time.Second, linkPollInterval)
}
