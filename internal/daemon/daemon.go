// Package daemon is the orchestrator: it owns the session table, wires
// every other subsystem's callbacks together, and runs the startup
// sequence, watcher handling, command dispatch, and heartbeat loop that
// make up the running agentap daemon.
package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ammujacic/agentap/internal/adapter"
	"github.com/ammujacic/agentap/internal/adapter/loader"
	"github.com/ammujacic/agentap/internal/common/logger"
	"github.com/ammujacic/agentap/internal/config"
	"github.com/ammujacic/agentap/internal/hooks"
	"github.com/ammujacic/agentap/internal/pidfile"
	"github.com/ammujacic/agentap/internal/restclient"
	"github.com/ammujacic/agentap/internal/session"
	"github.com/ammujacic/agentap/internal/tunnel"
	"github.com/ammujacic/agentap/internal/wsserver"
)

// nowFunc is overridable in tests that need deterministic timestamps.
var nowFunc = time.Now

const (
	heartbeatInterval = 60 * time.Second
	recentSessionAge  = 24 * time.Hour
	activeSessionAge  = 5 * time.Minute
	attachMaxAttempts = 3
	attachRetryDelay  = 2 * time.Second
	inboxBufferSize   = 256
)

// daemonMsg is one closure posted to the orchestrator's inbox. It is the
// only way any goroutine but run's own may touch the session table,
// driver map or retry counters.
type daemonMsg func(d *Daemon)

// Daemon owns every daemon-wide subsystem and the session table's single
// mutating goroutine.
type Daemon struct {
	cfg *config.Config
	log *logger.Logger

	rest   *restclient.Client
	tunnel *tunnel.Supervisor
	ws     *wsserver.Server
	http   *http.Server

	adapters       []adapter.Adapter
	adaptersByKind map[string]adapter.Adapter
	capabilities   map[string]session.Capabilities

	table          *session.Table
	drivers        map[string]adapter.Driver
	retryCounts    map[string]int
	stopWatches    []adapter.StopWatch
	agentsDetected []string

	inbox  chan daemonMsg
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	advertisedURL string
}

// New constructs a Daemon from a loaded configuration. Call Start to run
// the nine-step startup sequence.
func New(cfg *config.Config, log *logger.Logger) *Daemon {
	return &Daemon{
		cfg:            cfg,
		log:            log,
		rest:           restclient.New(cfg.API.URL, cfg.Machine.APISecret),
		adaptersByKind: make(map[string]adapter.Adapter),
		capabilities:   make(map[string]session.Capabilities),
		table:          session.NewTable(),
		drivers:        make(map[string]adapter.Driver),
		retryCounts:    make(map[string]int),
		inbox:          make(chan daemonMsg, inboxBufferSize),
	}
}

// post enqueues msg for execution on the orchestrator's own goroutine.
// Safe to call from any goroutine, including run's own (it will simply
// process msg on its next loop iteration).
func (d *Daemon) post(msg daemonMsg) {
	select {
	case d.inbox <- msg:
	case <-d.ctx.Done():
	}
}

func (d *Daemon) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case msg := <-d.inbox:
			msg(d)
		}
	}
}

// Start runs the nine-step startup sequence described in the daemon
// orchestrator design and returns once every step has been attempted.
// Per-adapter and per-integration failures are logged, not fatal; only a
// failure to bind the WebSocket server's HTTP listener aborts startup.
func (d *Daemon) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.run()

	if err := d.startWebSocketServer(); err != nil {
		return fmt.Errorf("start websocket server: %w", err)
	}

	d.ws.SetApprovalNotifier(d.forwardHookApproval)

	if err := pidfile.Write(d.cfg.Daemon.ConfigDir, d.cfg.Daemon.Port); err != nil {
		d.log.Info("failed to write pidfile", zap.Error(err))
	}

	d.startTunnelOrLAN()
	d.loadAdapters()
	d.printLoadedAgents()
	d.installHooks()
	d.initializeSessions()
	d.startWatchers()

	if d.cfg.Machine.Linked() {
		d.startHeartbeat()
	}

	return nil
}

// Stop cancels the heartbeat timer, every watcher and driver, the tunnel,
// and finally the WebSocket server. Idempotent.
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	for _, stop := range d.stopWatches {
		if stop != nil {
			stop()
		}
	}
	d.stopWatches = nil
	for _, drv := range d.drivers {
		drv.Detach()
	}
	if d.tunnel != nil {
		d.tunnel.Stop()
	}
	if d.http != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.http.Shutdown(shutdownCtx)
	}
	if d.ws != nil {
		d.ws.Close()
	}
	_ = pidfile.Remove(d.cfg.Daemon.ConfigDir)
	d.wg.Wait()
}

func (d *Daemon) startWebSocketServer() error {
	d.ws = wsserver.New(wsserver.Callbacks{
		OnAuth:                d.onAuth,
		OnCommand:             d.onCommand,
		OnTerminateSession:    d.onTerminateSession,
		OnStartSession:        d.onStartSession,
		GetSessions:           d.getSessions,
		GetCapabilities:       d.getCapabilities,
		GetSessionHistory:     d.getSessionHistory,
		OnClientAuthenticated: d.onClientAuthenticated,
	}, d.log)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", d.cfg.Daemon.Port))
	if err != nil {
		return err
	}

	d.http = &http.Server{Handler: d.ws.Handler()}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.ws.Run(d.ctx)
	}()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.http.Serve(listener); err != nil && err != http.ErrServerClosed {
			d.log.Error("websocket http server stopped unexpectedly", zap.Error(err))
		}
	}()
	return nil
}

func (d *Daemon) startTunnelOrLAN() {
	d.tunnel = tunnel.New(d.cfg.Daemon.ConfigDir, d.cfg.Daemon.Port, d.log, tunnel.EventHandler{
		OnConnected: func(tunnelURL, _ string) {
			d.advertisedURL = tunnelURL
		},
		OnDisconnected: func() {
			d.log.Warn("tunnel disconnected")
		},
	})
	if d.cfg.Tunnel.BinaryPath != "" {
		d.tunnel.SetBinaryPath(d.cfg.Tunnel.BinaryPath)
	}

	switch {
	case d.cfg.Daemon.NoTunnel:
		d.advertisedURL = fmt.Sprintf("http://%s:%d", lanIPv4(), d.cfg.Daemon.Port)
	case d.cfg.Machine.TunnelToken != "":
		go func() {
			if err := d.tunnel.StartWithToken(d.ctx, d.cfg.Machine.TunnelToken); err != nil {
				d.log.Error("failed to start named tunnel", zap.Error(err))
			}
		}()
	default:
		// Deferred until linking completes; see link.go.
	}
}

func (d *Daemon) loadAdapters() {
	home, err := os.UserHomeDir()
	if err != nil {
		d.log.Warn("could not resolve home directory, adapter discovery degraded", zap.Error(err))
	}
	ld := loader.New(home, d.cfg.Adapters.PluginDir, d.cfg.Adapters.Disabled, d.log)
	d.adapters = ld.Load()
	for _, a := range d.adapters {
		d.adaptersByKind[a.Kind()] = a
		d.capabilities[a.Kind()] = a.Capabilities()
		d.agentsDetected = append(d.agentsDetected, a.Kind())
	}
}

func (d *Daemon) printLoadedAgents() {
	names := make([]string, 0, len(d.adaptersByKind))
	for kind := range d.adaptersByKind {
		names = append(names, kind)
	}
	sort.Strings(names)
	d.log.Info("loaded agent adapters", zap.Strings("agents", names))
}

func (d *Daemon) installHooks() {
	home, err := os.UserHomeDir()
	if err != nil {
		d.log.Warn("could not resolve home directory, skipping hook install", zap.Error(err))
		return
	}
	if err := hooks.InstallClaudeCode(d.cfg.Daemon.ConfigDir, home, d.log); err != nil {
		d.log.Warn("claude code hook install failed", zap.Error(err))
	}
	if err := hooks.InstallOpenCode(home, d.log); err != nil {
		d.log.Warn("opencode plugin install failed", zap.Error(err))
	}
}

// lanIPv4 returns this machine's outbound-facing IPv4 address, falling
// back to the loopback address if none can be determined.
func lanIPv4() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer func() { _ = conn.Close() }()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}
