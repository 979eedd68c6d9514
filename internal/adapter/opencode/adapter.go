package opencode

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ammujacic/agentap/internal/adapter"
	"github.com/ammujacic/agentap/internal/common/logger"
	"github.com/ammujacic/agentap/internal/discovery"
	"github.com/ammujacic/agentap/internal/protocol"
	"github.com/ammujacic/agentap/internal/session"
)

const binaryName = "opencode"

// Adapter is the per-agent-kind façade for OpenCode: it locates the
// on-disk session store, enumerates and watches sessions, and constructs
// Drivers bound to them.
type Adapter struct {
	home string
	log  *logger.Logger
}

// New constructs an OpenCode adapter rooted at the given home directory
// (the real user home in production, a temp dir in tests).
func New(home string, log *logger.Logger) *Adapter {
	return &Adapter{home: home, log: log}
}

var _ adapter.Adapter = (*Adapter)(nil)

// Kind implements adapter.Adapter.
func (a *Adapter) Kind() string { return "opencode" }

// Capabilities implements adapter.Adapter.
func (a *Adapter) Capabilities() session.Capabilities {
	return session.Capabilities{
		AgentName:         "opencode",
		DisplayName:       "OpenCode",
		Icon:              "opencode",
		IntegrationMethod: session.IntegrationFileWatch,
		Features: session.FeatureFlags{
			Streaming:      true,
			Approval:       true,
			SessionControl: true,
			Planning:       false,
			Resources:      true,
			FileOperations: true,
			UserInteraction: true,
		},
		SubAgents:  false,
		Git:        true,
		WebSearch:  false,
		Multimodal: true,
		Thinking:   true,
	}
}

// IsInstalled implements adapter.Adapter.
func (a *Adapter) IsInstalled(ctx context.Context) bool {
	_, err := exec.LookPath(binaryName)
	return err == nil
}

// GetVersion implements adapter.Adapter: prefers the discovered HTTP
// server's self-reported version over the CLI's.
func (a *Adapter) GetVersion(ctx context.Context) string {
	if result, err := discovery.Find(ctx); err == nil && result != nil {
		return result.Version
	}

	out, err := exec.CommandContext(ctx, binaryName, "--version").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// GetDataPaths implements adapter.Adapter.
func (a *Adapter) GetDataPaths() adapter.DataPaths {
	root := filepath.Join(a.home, ".local", "share", "opencode")
	return adapter.DataPaths{
		SessionsRoot: root,
		ConfigDir:    filepath.Join(a.home, ".config", "opencode"),
		LogsDir:      filepath.Join(root, "log"),
	}
}

func (a *Adapter) storageRoot() string {
	return filepath.Join(a.GetDataPaths().SessionsRoot, "storage")
}

// DiscoverSessions implements adapter.Adapter.
func (a *Adapter) DiscoverSessions(ctx context.Context) ([]adapter.DiscoveredSession, error) {
	root := filepath.Join(a.storageRoot(), "session")
	projectDirs, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions root: %w", err)
	}

	var out []adapter.DiscoveredSession
	for _, projectDir := range projectDirs {
		if !projectDir.IsDir() {
			continue
		}
		projectID := projectDir.Name()
		sessionFiles, err := os.ReadDir(filepath.Join(root, projectID))
		if err != nil {
			continue
		}

		for _, f := range sessionFiles {
			if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
				continue
			}
			discovered, ok := a.discoverOne(filepath.Join(root, projectID, f.Name()))
			if !ok {
				continue
			}
			out = append(out, discovered)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

func (a *Adapter) discoverOne(path string) (adapter.DiscoveredSession, bool) {
	var rec sessionRecord
	if err := readJSON(path, &rec); err != nil {
		return adapter.DiscoveredSession{}, false
	}
	if rec.Time.Archived != 0 {
		return adapter.DiscoveredSession{}, false
	}

	projectName := "Unknown"
	if rec.Directory != "" {
		projectName = filepath.Base(filepath.Clean(rec.Directory))
	}

	sessionName, lastMessage := a.derivePreview(rec.ID)

	return adapter.DiscoveredSession{
		ID:           rec.ID,
		Agent:        "opencode",
		ProjectPath:  rec.Directory,
		ProjectName:  projectName,
		SessionName:  sessionName,
		LastMessage:  lastMessage,
		LastActivity: time.UnixMilli(rec.Time.Updated),
	}, true
}

func (a *Adapter) derivePreview(sessionID string) (sessionName, lastMessage string) {
	entries, err := loadSessionHistory(a.storageRoot(), sessionID)
	if err != nil {
		return "", ""
	}
	for _, entry := range entries {
		text := concatenateText(entry.Parts)
		if strings.TrimSpace(text) == "" {
			continue
		}
		if entry.Message.Role == "user" && sessionName == "" {
			sessionName = text
		}
		if entry.Message.Role == "assistant" {
			lastMessage = text
		}
	}
	return sessionName, lastMessage
}

// WatchSessions implements adapter.Adapter: a depth-2 watch on the sessions
// root, reporting create/update/remove by JSON file path.
func (a *Adapter) WatchSessions(cb adapter.WatchCallback) (adapter.StopWatch, error) {
	return watchSessionsRoot(filepath.Join(a.storageRoot(), "session"), cb)
}

// AttachToSession implements adapter.Adapter.
func (a *Adapter) AttachToSession(ctx context.Context, sessionID string) (adapter.Driver, error) {
	path, found := a.findSessionFile(sessionID)
	if !found {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}

	var rec sessionRecord
	if err := readJSON(path, &rec); err != nil {
		return nil, fmt.Errorf("read session record: %w", err)
	}

	var srv *serverInfo
	if result, err := discovery.Find(ctx); err == nil && result != nil {
		srv = &serverInfo{URL: result.URL}
	}

	d := newDriver(sessionID, a.storageRoot(), rec.Directory, a.Capabilities(), srv, protocol.NewSequencer(), a.log)
	if err := d.LoadHistory(ctx); err != nil {
		a.log.Warn("failed to load session history", zap.Error(err))
	}

	if watch, err := watchSessionFiles(a.storageRoot(), sessionID, d.handleFileChange); err == nil {
		d.fileWatch = watch
	}
	if srv != nil {
		if sub, err := subscribeSSE(ctx, srv.URL, rec.Directory, a.log, d.handleSSEEnvelope); err == nil {
			d.sse = sub
		}
	}

	return d, nil
}

// StartSession implements adapter.Adapter.
func (a *Adapter) StartSession(ctx context.Context, opts adapter.StartOptions) (adapter.Driver, error) {
	var srv *serverInfo
	if result, err := discovery.Find(ctx); err == nil && result != nil {
		srv = &serverInfo{URL: result.URL}
	}

	d := newDriver("", a.storageRoot(), opts.ProjectPath, a.Capabilities(), srv, protocol.NewSequencer(), a.log)
	if err := d.Start(ctx, opts.ProjectPath, opts.Prompt); err != nil {
		return nil, err
	}
	return d, nil
}

func (a *Adapter) findSessionFile(sessionID string) (string, bool) {
	root := filepath.Join(a.storageRoot(), "session")
	projectDirs, err := os.ReadDir(root)
	if err != nil {
		return "", false
	}
	for _, projectDir := range projectDirs {
		if !projectDir.IsDir() {
			continue
		}
		candidate := filepath.Join(root, projectDir.Name(), sessionID+".json")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}
