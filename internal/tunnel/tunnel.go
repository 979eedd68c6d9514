// Package tunnel supervises the cloudflared-compatible tunnel binary that
// exposes the daemon's WebSocket server to the remote mobile/web client.
package tunnel

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ammujacic/agentap/internal/common/logger"
)

const (
	binaryName     = "cloudflared"
	startupTimeout = 30 * time.Second
)

var quickTunnelURLPattern = regexp.MustCompile(`https://[a-zA-Z0-9-]+\.trycloudflare\.com`)

// EventHandler receives tunnel lifecycle notifications.
type EventHandler struct {
	OnConnected    func(tunnelURL, tunnelID string)
	OnDisconnected func()
}

// Supervisor owns at most one tunnel child process at a time.
type Supervisor struct {
	binaryPath string
	configDir  string
	port       int
	log        *logger.Logger
	handler    EventHandler

	mu        sync.Mutex
	cmd       *exec.Cmd
	stopping  bool
	tunnelURL string
	named     bool
	token     string
}

// New constructs a Supervisor for the local daemon port.
func New(configDir string, port int, log *logger.Logger, handler EventHandler) *Supervisor {
	return &Supervisor{configDir: configDir, port: port, log: log, handler: handler}
}

// SetBinaryPath seeds a previously-resolved binary location (e.g. persisted
// in config) so ensureInstalled can skip the install probe entirely.
func (s *Supervisor) SetBinaryPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.binaryPath = path
}

// Start launches an anonymous quick tunnel. It fails fast if a tunnel is
// already owned by this supervisor.
func (s *Supervisor) Start(ctx context.Context) (string, string, error) {
	s.mu.Lock()
	if s.cmd != nil {
		s.mu.Unlock()
		return "", "", fmt.Errorf("Tunnel already running")
	}
	s.mu.Unlock()

	binary, err := s.ensureInstalled(ctx)
	if err != nil {
		return "", "", fmt.Errorf("ensure tunnel binary installed: %w", err)
	}

	args := []string{"tunnel", "--no-autoupdate", "--url", fmt.Sprintf("http://localhost:%d", s.port)}
	tunnelID := uuid.NewString()
	url, err := s.run(ctx, binary, args, quickTunnelURLPattern, "")
	if err != nil {
		return "", "", err
	}

	s.mu.Lock()
	s.tunnelURL = url
	s.named = false
	s.mu.Unlock()

	if s.handler.OnConnected != nil {
		s.handler.OnConnected(url, tunnelID)
	}
	return url, tunnelID, nil
}

// StartWithToken launches a named tunnel using a persisted token. Success
// is detected by the phrase "Registered tunnel connection" in stderr, and
// GetTunnelURL returns the "named-tunnel" marker since the real hostname is
// fetched from the remote API during linking, not parsed from output.
func (s *Supervisor) StartWithToken(ctx context.Context, token string) error {
	s.mu.Lock()
	if s.cmd != nil {
		s.mu.Unlock()
		return fmt.Errorf("Tunnel already running")
	}
	s.mu.Unlock()

	binary, err := s.ensureInstalled(ctx)
	if err != nil {
		return fmt.Errorf("ensure tunnel binary installed: %w", err)
	}

	args := []string{"tunnel", "--no-autoupdate", "run", "--token", token}
	_, err = s.run(ctx, binary, args, nil, "Registered tunnel connection")
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.tunnelURL = namedTunnelMarker
	s.named = true
	s.token = token
	s.mu.Unlock()

	if s.handler.OnConnected != nil {
		s.handler.OnConnected(namedTunnelMarker, "")
	}
	return nil
}

const namedTunnelMarker = "named-tunnel"

// GetTunnelURL returns the last-known tunnel URL, or the named-tunnel
// marker for token-based tunnels.
func (s *Supervisor) GetTunnelURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tunnelURL
}

// run spawns the binary and scans stdout+stderr for either a URL match
// (urlPattern) or a literal success phrase (successPhrase), reconnecting
// on unexpected nonzero exit via exponential backoff.
func (s *Supervisor) run(ctx context.Context, binary string, args []string, urlPattern *regexp.Regexp, successPhrase string) (string, error) {
	cmd := exec.Command(binary, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGTERM, Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("spawn tunnel binary: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.stopping = false
	s.mu.Unlock()

	found := make(chan string, 1)
	scan := func(name string, r *bufio.Scanner) {
		for r.Scan() {
			line := r.Text()
			s.log.Debug(line, zap.String("stream", name))
			if urlPattern != nil {
				if m := urlPattern.FindString(line); m != "" {
					select {
					case found <- m:
					default:
					}
				}
			}
			if successPhrase != "" && strings.Contains(line, successPhrase) {
				select {
				case found <- successPhrase:
				default:
				}
			}
		}
	}
	go scan("stdout", bufio.NewScanner(stdout))
	go scan("stderr", bufio.NewScanner(stderr))
	go s.monitorExit(cmd)

	select {
	case result := <-found:
		return result, nil
	case <-time.After(startupTimeout):
		_ = cmd.Process.Kill()
		return "", fmt.Errorf("Tunnel startup timeout")
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return "", ctx.Err()
	}
}

func (s *Supervisor) monitorExit(cmd *exec.Cmd) {
	err := cmd.Wait()

	s.mu.Lock()
	stopping := s.stopping
	s.cmd = nil
	s.mu.Unlock()

	if stopping {
		return
	}

	if err == nil {
		if s.handler.OnDisconnected != nil {
			s.handler.OnDisconnected()
		}
		return
	}

	s.log.Warn("tunnel process exited unexpectedly, reconnecting", zap.Error(err))
	s.reconnect()
}

// reconnect retries starting the tunnel with exponential backoff via
// cenkalti/backoff, capped so a persistently broken tunnel doesn't spin
// forever.
func (s *Supervisor) reconnect() {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 5 * time.Minute

	_ = backoff.Retry(func() error {
		s.mu.Lock()
		named := s.named
		token := s.token
		s.mu.Unlock()

		ctx := context.Background()
		if named {
			return s.StartWithToken(ctx, token)
		}
		_, _, err := s.Start(ctx)
		return err
	}, b)
}

// Stop terminates the tunnel child process and clears all state. Safe to
// call multiple times.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	if cmd == nil || cmd.Process == nil {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	pid := cmd.Process.Pid
	s.mu.Unlock()

	_ = syscall.Kill(pid, syscall.SIGTERM)

	s.mu.Lock()
	s.cmd = nil
	s.tunnelURL = ""
	s.mu.Unlock()
}

// ensureInstalled probes the tunnel binary via `<name> --version`, and on
// macOS falls back to the system package manager before downloading an
// architecture-specific binary into <configDir>/bin/.
func (s *Supervisor) ensureInstalled(ctx context.Context) (string, error) {
	if s.binaryPath != "" {
		return s.binaryPath, nil
	}
	if path, err := exec.LookPath(binaryName); err == nil {
		if err := exec.CommandContext(ctx, path, "--version").Run(); err == nil {
			s.binaryPath = path
			return path, nil
		}
	}
	return installBinary(ctx, s.configDir)
}

// installBinary downloads the platform's cloudflared binary into
// <configDir>/bin/ and marks it executable.
func installBinary(ctx context.Context, configDir string) (string, error) {
	url, err := downloadURLForPlatform()
	if err != nil {
		return "", err
	}

	binDir := configDir + "/bin"
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return "", fmt.Errorf("create bin dir: %w", err)
	}
	dest := binDir + "/" + binaryName

	if err := downloadFile(ctx, url, dest); err != nil {
		return "", fmt.Errorf("download tunnel binary: %w", err)
	}
	if err := os.Chmod(dest, 0o755); err != nil {
		return "", fmt.Errorf("chmod tunnel binary: %w", err)
	}
	return dest, nil
}
