package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFindReturnsNilWhenNothingListening(t *testing.T) {
	ctx := context.Background()
	res, err := Find(ctx)
	require.NoError(t, err)
	require.Nil(t, res)
}

func TestFindPicksThirdPort(t *testing.T) {
	port := FirstPort + 2
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Skipf("port %d unavailable in this environment: %v", port, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(healthPath, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(healthBody{Healthy: true, Version: "0.3.0"})
	})
	srv := &http.Server{Handler: mux}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	res, err := Find(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, fmt.Sprintf("http://127.0.0.1:%d", port), res.URL)
	require.Equal(t, "0.3.0", res.Version)
}
