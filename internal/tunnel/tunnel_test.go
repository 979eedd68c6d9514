package tunnel

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ammujacic/agentap/internal/common/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "text", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func TestQuickTunnelURLPatternMatchesCloudflareOutput(t *testing.T) {
	line := "2024-01-01T00:00:00Z INF |  https://random-words-here.trycloudflare.com  |"
	match := quickTunnelURLPattern.FindString(line)
	require.Equal(t, "https://random-words-here.trycloudflare.com", match)
}

func TestQuickTunnelURLPatternIgnoresUnrelatedURLs(t *testing.T) {
	line := "connecting to https://api.cloudflare.com for registration"
	require.Empty(t, quickTunnelURLPattern.FindString(line))
}

func TestStopOnNeverStartedSupervisorIsNoop(t *testing.T) {
	s := New(t.TempDir(), 8787, testLogger(t), EventHandler{})
	require.NotPanics(t, func() {
		s.Stop()
		s.Stop()
	})
}

func TestStartFailsFastWhenAlreadyRunning(t *testing.T) {
	s := New(t.TempDir(), 8787, testLogger(t), EventHandler{})
	s.mu.Lock()
	s.cmd = exec.Command("true")
	s.mu.Unlock()

	_, _, err := s.Start(t.Context())
	require.ErrorContains(t, err, "Tunnel already running")
}

func TestStartWithTokenFailsFastWhenAlreadyRunning(t *testing.T) {
	s := New(t.TempDir(), 8787, testLogger(t), EventHandler{})
	s.mu.Lock()
	s.cmd = exec.Command("true")
	s.mu.Unlock()

	err := s.StartWithToken(t.Context(), "tok")
	require.ErrorContains(t, err, "Tunnel already running")
}

func TestGetTunnelURLEmptyBeforeStart(t *testing.T) {
	s := New(t.TempDir(), 8787, testLogger(t), EventHandler{})
	require.Empty(t, s.GetTunnelURL())
}

func TestDownloadURLForPlatformKnownTarget(t *testing.T) {
	url, err := downloadURLForPlatform()
	if err != nil {
		require.ErrorContains(t, err, "unsupported platform")
		return
	}
	require.Contains(t, url, "github.com/cloudflare/cloudflared/releases/latest/download/")
}
