package daemon

import (
	"context"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ammujacic/agentap/internal/adapter"
	"github.com/ammujacic/agentap/internal/protocol"
	"github.com/ammujacic/agentap/internal/session"
)

// initializeSessions discovers each adapter's sessions, retains those
// active within the last 24 hours, and eagerly attaches to those active
// within the last 5 minutes. One adapter's failure is logged and does not
// block the others.
func (d *Daemon) initializeSessions() {
	now := time.Now()
	for _, a := range d.adapters {
		discovered, err := a.DiscoverSessions(d.ctx)
		if err != nil {
			d.log.Warn("discover sessions failed", zap.String("agent", a.Kind()), zap.Error(err))
			continue
		}

		for _, ds := range discovered {
			if now.Sub(ds.LastActivity) > recentSessionAge {
				continue
			}

			status := protocol.StatusIdle
			if now.Sub(ds.LastActivity) <= activeSessionAge {
				status = protocol.StatusRunning
			}

			entry := &session.Session{
				ID:           ds.ID,
				Agent:        ds.Agent,
				MachineID:    d.machineID(),
				ProjectPath:  ds.ProjectPath,
				ProjectName:  ds.ProjectName,
				Status:       status,
				SessionName:  ds.SessionName,
				LastMessage:  ds.LastMessage,
				CreatedAt:    ds.LastActivity,
				LastActivity: ds.LastActivity,
			}
			d.table.Put(entry)

			if status == protocol.StatusRunning {
				kind := a.Kind()
				sessionID := ds.ID
				go d.attachWithRetry(sessionID, kind)
			}
		}
	}
}

// startWatchers starts a filesystem watch on every adapter, routing every
// callback through the orchestrator's inbox.
func (d *Daemon) startWatchers() {
	for _, a := range d.adapters {
		kind := a.Kind()
		stop, err := a.WatchSessions(func(evt adapter.WatchEvent) {
			d.post(func(d *Daemon) { d.handleWatchEvent(kind, evt) })
		})
		if err != nil {
			d.log.Warn("start session watcher failed", zap.String("agent", kind), zap.Error(err))
			continue
		}
		d.stopWatches = append(d.stopWatches, stop)
	}
}

// handleWatchEvent runs on the orchestrator's own goroutine.
func (d *Daemon) handleWatchEvent(kind string, evt adapter.WatchEvent) {
	switch evt.Type {
	case adapter.WatchSessionCreated:
		d.handleSessionCreated(kind, evt.SessionID)
	case adapter.WatchSessionRemoved:
		d.handleSessionRemoved(evt.SessionID)
	case adapter.WatchSessionUpdated:
		d.handleSessionUpdated(kind, evt.SessionID)
	}
}

func (d *Daemon) handleSessionCreated(kind, sessionID string) {
	if d.table.Get(sessionID) != nil {
		return
	}

	a, ok := d.adaptersByKind[kind]
	if !ok {
		return
	}

	discovered, err := a.DiscoverSessions(d.ctx)
	if err != nil {
		d.log.Warn("re-enumerate sessions failed", zap.String("agent", kind), zap.Error(err))
		return
	}

	for _, ds := range discovered {
		if ds.ID != sessionID {
			continue
		}
		entry := &session.Session{
			ID:           ds.ID,
			Agent:        ds.Agent,
			MachineID:    d.machineID(),
			ProjectPath:  ds.ProjectPath,
			ProjectName:  ds.ProjectName,
			Status:       protocol.StatusRunning,
			SessionName:  ds.SessionName,
			LastMessage:  ds.LastMessage,
			CreatedAt:    ds.LastActivity,
			LastActivity: ds.LastActivity,
		}
		d.table.Put(entry)
		d.broadcastSnapshot()
		go d.attachWithRetry(sessionID, kind)
		return
	}
}

func (d *Daemon) handleSessionRemoved(sessionID string) {
	if drv, ok := d.drivers[sessionID]; ok {
		drv.Detach()
		delete(d.drivers, sessionID)
	}
	d.table.Delete(sessionID)
	delete(d.retryCounts, sessionID)
	d.broadcastSnapshot()
}

func (d *Daemon) handleSessionUpdated(kind, sessionID string) {
	entry := d.table.Get(sessionID)
	if entry == nil {
		return
	}
	entry.LastActivity = time.Now()

	if entry.ProjectName == "Unknown" || entry.ProjectName == "" {
		if a, ok := d.adaptersByKind[kind]; ok {
			if discovered, err := a.DiscoverSessions(d.ctx); err == nil {
				for _, ds := range discovered {
					if ds.ID == sessionID && ds.ProjectName != "" {
						entry.ProjectName = ds.ProjectName
						entry.ProjectPath = ds.ProjectPath
						break
					}
				}
			}
		}
	}

	if drv, ok := d.drivers[sessionID]; ok {
		drv.Refresh()
	} else if entry.Status == protocol.StatusIdle {
		entry.Status = protocol.StatusRunning
		go d.attachWithRetry(sessionID, kind)
	}

	d.table.Put(entry)
}

// attachWithRetry attempts to attach a driver to sessionID up to
// attachMaxAttempts times with a fixed delay between attempts. It runs on
// an arbitrary goroutine; every table/driver mutation is posted back to
// the orchestrator's inbox.
func (d *Daemon) attachWithRetry(sessionID, kind string) {
	a, ok := d.adaptersByKind[kind]
	if !ok {
		return
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(attachRetryDelay), uint64(attachMaxAttempts-1))
	attempt := 0

	operation := func() error {
		attempt++
		drv, err := a.AttachToSession(d.ctx, sessionID)
		if err != nil {
			d.log.Warn("attach attempt failed",
				zap.String("session_id", sessionID), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		d.post(func(d *Daemon) { d.onAttached(sessionID, drv) })
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, d.ctx)); err != nil {
		d.post(func(d *Daemon) { delete(d.retryCounts, sessionID) })
	}
}

// onAttached runs on the orchestrator's own goroutine.
func (d *Daemon) onAttached(sessionID string, drv adapter.Driver) {
	delete(d.retryCounts, sessionID)
	d.drivers[sessionID] = drv
	drv.OnEvent(func(event protocol.Event) {
		d.post(func(d *Daemon) { d.handleCanonicalEvent(sessionID, event) })
	})
}

func (d *Daemon) machineID() string {
	if d.cfg.Machine.Linked() {
		return d.cfg.Machine.ID
	}
	return "local"
}

func projectNameFromPath(path string) string {
	return filepath.Base(path)
}

// getSessions implements the wsserver GetSessions callback: a snapshot of
// the session table.
func (d *Daemon) getSessions() []session.Session {
	snapshot := d.table.Snapshot()
	out := make([]session.Session, 0, len(snapshot))
	for _, s := range snapshot {
		out = append(out, *s)
	}
	return out
}

// getCapabilities implements the wsserver GetCapabilities callback.
func (d *Daemon) getCapabilities() map[string]session.Capabilities {
	return d.capabilities
}

// getSessionHistory implements the wsserver GetSessionHistory callback,
// lazily re-attaching to idle sessions so their history can be read.
func (d *Daemon) getSessionHistory(sessionID string) ([]protocol.Event, error) {
	drv, err := d.resolveDriver(context.Background(), sessionID)
	if err != nil {
		return nil, err
	}
	return drv.GetHistory(), nil
}
