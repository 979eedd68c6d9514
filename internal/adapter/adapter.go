// Package adapter defines the per-agent-kind contract: locate an agent's
// on-disk store, enumerate and watch its sessions, and produce session
// drivers that project the agent's native events into the canonical event
// stream. internal/adapter/opencode implements this contract for OpenCode;
// other agent kinds follow the same shape against their own on-disk format.
package adapter

import (
	"context"
	"time"

	"github.com/ammujacic/agentap/internal/protocol"
	"github.com/ammujacic/agentap/internal/session"
)

// DataPaths are the fixed on-disk locations an adapter's agent kind uses.
type DataPaths struct {
	SessionsRoot string
	ConfigDir    string
	LogsDir      string
}

// DiscoveredSession is one entry returned by Adapter.DiscoverSessions.
type DiscoveredSession struct {
	ID           string
	Agent        string
	ProjectPath  string
	ProjectName  string
	SessionName  string
	LastMessage  string
	LastActivity time.Time
}

// WatchEventType enumerates the watcher callback's event kinds.
type WatchEventType string

const (
	WatchSessionCreated WatchEventType = "session_created"
	WatchSessionUpdated WatchEventType = "session_updated"
	WatchSessionRemoved WatchEventType = "session_removed"
)

// WatchEvent is delivered to a WatchCallback on session filesystem changes.
type WatchEvent struct {
	Type      WatchEventType
	SessionID string
	Agent     string
}

// WatchCallback receives session lifecycle notifications from an adapter's
// filesystem watch.
type WatchCallback func(WatchEvent)

// StartOptions parameterize Adapter.StartSession.
type StartOptions struct {
	ProjectPath string
	Prompt      string
}

// CommandType enumerates the commands a Driver accepts via Execute.
type CommandType string

const (
	CommandSendMessage     CommandType = "send_message"
	CommandApproveToolCall CommandType = "approve_tool_call"
	CommandDenyToolCall    CommandType = "deny_tool_call"
	CommandCancel          CommandType = "cancel"
	CommandTerminate       CommandType = "terminate"
)

// Command is a single remote-originated instruction delivered to a Driver.
type Command struct {
	Type      CommandType
	Message   string
	RequestID string
	ToolCallID string
	Reason    string
}

// Unsubscribe cancels an event subscription registered via Driver.OnEvent.
type Unsubscribe func()

// StopWatch disposes a watch started via Adapter.WatchSessions.
type StopWatch func()

// Driver is the per-session object that projects one agent's native events
// into canonical events and accepts remote commands. The daemon exclusively
// owns a Driver for its lifetime and releases it on Detach.
type Driver interface {
	// SessionID returns the driver's session id, assigned by Start for
	// freshly-minted sessions.
	SessionID() string

	// OnEvent registers a listener for canonical events in sequence order
	// and returns an unsubscribe function.
	OnEvent(cb func(protocol.Event)) Unsubscribe

	// GetHistory returns a snapshot copy of every event emitted so far in
	// strict sequence order. Mutating the returned slice does not affect
	// future calls.
	GetHistory() []protocol.Event

	// Start begins a freshly-minted session: try the agent's HTTP server
	// if known, falling back to spawning its CLI.
	Start(ctx context.Context, projectPath, prompt string) error

	// Execute dispatches a remote command to the agent's native control
	// surface.
	Execute(ctx context.Context, cmd Command) error

	// Refresh is a hint that the underlying session file changed; adapters
	// that don't need it treat this as a no-op.
	Refresh()

	// Detach stops all watchers, aborts any SSE subscription, terminates
	// any child process, and releases event listeners. Idempotent.
	Detach()
}

// Adapter is the per-agent-kind façade.
type Adapter interface {
	// Kind returns the adapter's stable machine name, e.g. "opencode".
	Kind() string

	// Capabilities returns this adapter's capabilities record.
	Capabilities() session.Capabilities

	// IsInstalled reports whether the agent's CLI is reachable.
	IsInstalled(ctx context.Context) bool

	// GetVersion returns a best-effort version string.
	GetVersion(ctx context.Context) string

	// GetDataPaths returns the agent's fixed on-disk locations.
	GetDataPaths() DataPaths

	// DiscoverSessions walks the on-disk store and returns sessions sorted
	// descending by last activity.
	DiscoverSessions(ctx context.Context) ([]DiscoveredSession, error)

	// WatchSessions starts a filesystem watch and returns a disposer.
	WatchSessions(cb WatchCallback) (StopWatch, error)

	// AttachToSession constructs a driver bound to an existing session id.
	AttachToSession(ctx context.Context, sessionID string) (Driver, error)

	// StartSession constructs a driver without a session id and starts it.
	StartSession(ctx context.Context, opts StartOptions) (Driver, error)
}
