package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/ammujacic/agentap/internal/adapter"
	"github.com/ammujacic/agentap/internal/protocol"
	"github.com/ammujacic/agentap/internal/session"
	"github.com/ammujacic/agentap/internal/wsserver"
)

// onCommand implements the wsserver OnCommand callback. Approve/deny
// commands are tried first against the hook long-poll registry, since a
// hook-originated approval (forwarded via forwardHookApproval) has no
// attached driver of its own; only once that lookup misses does the
// command fall through to the session's driver.
func (d *Daemon) onCommand(ctx context.Context, sessionID string, cmd adapter.Command) error {
	if cmd.RequestID != "" {
		switch cmd.Type {
		case adapter.CommandApproveToolCall:
			if d.ws.ResolveApproval(cmd.RequestID, wsserver.ApprovalDecision{PermissionDecision: "allow"}) {
				return nil
			}
		case adapter.CommandDenyToolCall:
			if d.ws.ResolveApproval(cmd.RequestID, wsserver.ApprovalDecision{PermissionDecision: "deny"}) {
				return nil
			}
		}
	}

	drv, err := d.resolveDriver(ctx, sessionID)
	if err != nil {
		return err
	}
	return drv.Execute(ctx, cmd)
}

// driverLookup is the result of a table/driver-map read, performed on the
// orchestrator's own goroutine.
type driverLookup struct {
	driver      adapter.Driver
	needsAttach bool
	agentKind   string
}

// resolveDriver looks up sessionID's attached driver, re-attaching via its
// originating adapter if it isn't currently attached. The table/driver-map
// read is serialized through the orchestrator's inbox; the attach itself
// (which may block on process/network I/O) runs on the calling goroutine
// so it never stalls the orchestrator.
func (d *Daemon) resolveDriver(ctx context.Context, sessionID string) (adapter.Driver, error) {
	ch := make(chan driverLookup, 1)
	d.post(func(d *Daemon) {
		if drv, ok := d.drivers[sessionID]; ok {
			ch <- driverLookup{driver: drv}
			return
		}
		entry := d.table.Get(sessionID)
		if entry == nil {
			ch <- driverLookup{}
			return
		}
		ch <- driverLookup{needsAttach: true, agentKind: entry.Agent}
	})

	lookup := <-ch
	if lookup.driver != nil {
		return lookup.driver, nil
	}
	if !lookup.needsAttach {
		return nil, errSessionNotFound(sessionID)
	}

	a, ok := d.adaptersByKind[lookup.agentKind]
	if !ok {
		return nil, errSessionNotFound(sessionID)
	}
	drv, err := a.AttachToSession(ctx, sessionID)
	if err != nil {
		return nil, errSessionNotFound(sessionID)
	}
	d.post(func(d *Daemon) { d.onAttached(sessionID, drv) })
	return drv, nil
}

// onTerminateSession implements the wsserver OnTerminateSession callback.
func (d *Daemon) onTerminateSession(ctx context.Context, sessionID string) error {
	if err := d.onCommand(ctx, sessionID, adapter.Command{Type: adapter.CommandTerminate}); err != nil {
		return err
	}

	type result struct{ err error }
	ch := make(chan result, 1)
	d.post(func(d *Daemon) {
		entry := d.table.Get(sessionID)
		if entry == nil {
			ch <- result{err: errSessionNotFound(sessionID)}
			return
		}
		entry.Status = protocol.StatusCompleted
		d.table.Put(entry)
		d.detachSession(sessionID)
		d.broadcastSnapshot()
		ch <- result{}
	})
	return (<-ch).err
}

// onStartSession implements the wsserver OnStartSession callback.
func (d *Daemon) onStartSession(ctx context.Context, req wsserver.StartSessionRequest) (session.Session, error) {
	a, ok := d.adaptersByKind[req.Agent]
	if !ok {
		return session.Session{}, fmt.Errorf("unknown agent: %s", req.Agent)
	}

	drv, err := a.StartSession(ctx, adapter.StartOptions{ProjectPath: req.ProjectPath, Prompt: req.Prompt})
	if err != nil {
		return session.Session{}, fmt.Errorf("start session: %w", err)
	}

	entry := session.Session{
		ID:           drv.SessionID(),
		Agent:        req.Agent,
		MachineID:    d.machineID(),
		ProjectPath:  req.ProjectPath,
		ProjectName:  projectNameFromPath(req.ProjectPath),
		Status:       protocol.StatusRunning,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}

	type result struct{}
	ch := make(chan result, 1)
	d.post(func(d *Daemon) {
		stored := entry
		d.table.Put(&stored)
		d.onAttached(entry.ID, drv)
		d.broadcastSnapshot()
		ch <- result{}
	})
	<-ch

	return entry, nil
}

// onClientAuthenticated implements the wsserver OnClientAuthenticated
// callback: it triggers an immediate heartbeat.
func (d *Daemon) onClientAuthenticated(_ string) {
	if !d.cfg.Machine.Linked() {
		return
	}
	go d.sendHeartbeat()
}
