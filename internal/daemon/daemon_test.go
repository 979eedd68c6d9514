package daemon

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ammujacic/agentap/internal/adapter"
	"github.com/ammujacic/agentap/internal/common/logger"
	"github.com/ammujacic/agentap/internal/config"
	"github.com/ammujacic/agentap/internal/protocol"
	"github.com/ammujacic/agentap/internal/session"
	"github.com/ammujacic/agentap/internal/wsserver"
)

// fakeDriver is a minimal adapter.Driver double for daemon-level tests; it
// records every Execute call and lets tests assert on them.
type fakeDriver struct {
	mu        sync.Mutex
	sessionID string
	executed  []adapter.Command
	history   []protocol.Event
}

func (f *fakeDriver) SessionID() string { return f.sessionID }
func (f *fakeDriver) OnEvent(func(protocol.Event)) adapter.Unsubscribe {
	return func() {}
}
func (f *fakeDriver) GetHistory() []protocol.Event { return f.history }
func (f *fakeDriver) Start(context.Context, string, string) error { return nil }
func (f *fakeDriver) Execute(_ context.Context, cmd adapter.Command) error {
	f.mu.Lock()
	f.executed = append(f.executed, cmd)
	f.mu.Unlock()
	return nil
}
func (f *fakeDriver) Refresh() {}
func (f *fakeDriver) Detach()  {}

// fakeAdapter is a minimal adapter.Adapter double that attaches a single
// pre-built fakeDriver for whatever session id is requested.
type fakeAdapter struct {
	kind   string
	driver *fakeDriver
}

func (a *fakeAdapter) Kind() string                          { return a.kind }
func (a *fakeAdapter) Capabilities() session.Capabilities     { return session.Capabilities{} }
func (a *fakeAdapter) IsInstalled(context.Context) bool       { return true }
func (a *fakeAdapter) GetVersion(context.Context) string      { return "test" }
func (a *fakeAdapter) GetDataPaths() adapter.DataPaths        { return adapter.DataPaths{} }
func (a *fakeAdapter) DiscoverSessions(context.Context) ([]adapter.DiscoveredSession, error) {
	return nil, nil
}
func (a *fakeAdapter) WatchSessions(adapter.WatchCallback) (adapter.StopWatch, error) {
	return func() {}, nil
}
func (a *fakeAdapter) AttachToSession(_ context.Context, sessionID string) (adapter.Driver, error) {
	a.driver.sessionID = sessionID
	return a.driver, nil
}
func (a *fakeAdapter) StartSession(context.Context, adapter.StartOptions) (adapter.Driver, error) {
	return a.driver, nil
}

// newTestDaemon builds a Daemon whose actor goroutine is running but which
// never binds a network listener, spawns a tunnel, or touches the real
// filesystem outside t.TempDir().
func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	cfg := &config.Config{
		Daemon: config.DaemonConfig{Port: 0, NoTunnel: true, ConfigDir: t.TempDir()},
	}
	d := New(cfg, logger.Default())
	d.ws = wsserver.New(wsserver.Callbacks{}, logger.Default())
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.wg.Add(1)
	go d.run()
	t.Cleanup(func() {
		d.cancel()
		d.wg.Wait()
	})
	return d
}

func TestResolveDriverReturnsAlreadyAttachedDriver(t *testing.T) {
	d := newTestDaemon(t)
	drv := &fakeDriver{sessionID: "sess-1"}

	done := make(chan struct{})
	d.post(func(d *Daemon) {
		d.drivers["sess-1"] = drv
		close(done)
	})
	<-done

	got, err := d.resolveDriver(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Same(t, drv, got)
}

func TestResolveDriverErrorsOnUnknownSession(t *testing.T) {
	d := newTestDaemon(t)
	_, err := d.resolveDriver(context.Background(), "no-such-session")
	require.Error(t, err)
	require.Contains(t, err.Error(), "session not found")
}

func TestResolveDriverAttachesIdleSessionOnDemand(t *testing.T) {
	d := newTestDaemon(t)
	drv := &fakeDriver{}
	a := &fakeAdapter{kind: "opencode", driver: drv}
	d.adaptersByKind["opencode"] = a

	done := make(chan struct{})
	d.post(func(d *Daemon) {
		d.table.Put(&session.Session{ID: "sess-2", Agent: "opencode", Status: protocol.StatusIdle})
		close(done)
	})
	<-done

	got, err := d.resolveDriver(context.Background(), "sess-2")
	require.NoError(t, err)
	require.Same(t, drv, got)

	registered := make(chan bool, 1)
	d.post(func(d *Daemon) { _, ok := d.drivers["sess-2"]; registered <- ok })
	require.True(t, <-registered, "resolveDriver must register the driver it attached")
}

func TestGetSessionHistoryDelegatesToResolvedDriver(t *testing.T) {
	d := newTestDaemon(t)
	drv := &fakeDriver{sessionID: "sess-3", history: []protocol.Event{{SessionID: "sess-3", Type: protocol.EventSessionStarted}}}

	done := make(chan struct{})
	d.post(func(d *Daemon) {
		d.drivers["sess-3"] = drv
		close(done)
	})
	<-done

	history, err := d.getSessionHistory("sess-3")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestOnCommandFallsThroughToDriverWhenNoHookPending(t *testing.T) {
	d := newTestDaemon(t)
	drv := &fakeDriver{sessionID: "sess-4"}

	done := make(chan struct{})
	d.post(func(d *Daemon) {
		d.drivers["sess-4"] = drv
		close(done)
	})
	<-done

	err := d.onCommand(context.Background(), "sess-4", adapter.Command{Type: adapter.CommandSendMessage, Message: "hi"})
	require.NoError(t, err)
	require.Len(t, drv.executed, 1)
	require.Equal(t, adapter.CommandSendMessage, drv.executed[0].Type)
}

func TestOnTerminateSessionMarksCompletedAndDetaches(t *testing.T) {
	d := newTestDaemon(t)
	drv := &fakeDriver{sessionID: "sess-5"}

	done := make(chan struct{})
	d.post(func(d *Daemon) {
		d.table.Put(&session.Session{ID: "sess-5", Agent: "opencode", Status: protocol.StatusRunning})
		d.drivers["sess-5"] = drv
		close(done)
	})
	<-done

	require.NoError(t, d.onTerminateSession(context.Background(), "sess-5"))

	result := make(chan *session.Session, 1)
	d.post(func(d *Daemon) { result <- d.table.Get("sess-5") })
	entry := <-result
	require.NotNil(t, entry)
	require.Equal(t, protocol.StatusCompleted, entry.Status)

	gone := make(chan bool, 1)
	d.post(func(d *Daemon) { _, ok := d.drivers["sess-5"]; gone <- ok })
	require.False(t, <-gone)
}

func TestMachineIDReportsLocalWhenUnlinked(t *testing.T) {
	d := newTestDaemon(t)
	require.Equal(t, "local", d.machineID())
}
