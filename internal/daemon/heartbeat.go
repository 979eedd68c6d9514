package daemon

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ammujacic/agentap/internal/restclient"
	"github.com/ammujacic/agentap/internal/session"
)

// startHeartbeat sends an immediate heartbeat and then one every
// heartbeatInterval for as long as the daemon runs. Only called once the
// machine has completed linking.
func (d *Daemon) startHeartbeat() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sendHeartbeat()

		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-d.ctx.Done():
				return
			case <-ticker.C:
				d.sendHeartbeat()
			}
		}
	}()
}

// sendHeartbeat posts the current session snapshot and tunnel state to the
// remote API. Safe to call from any goroutine; failures are logged, not
// returned, since the caller never waits on the result.
func (d *Daemon) sendHeartbeat() {
	snapshot := make(chan []session.Session, 1)
	d.post(func(d *Daemon) { snapshot <- d.getSessions() })
	var sessions []session.Session
	select {
	case sessions = <-snapshot:
	case <-d.ctx.Done():
		return
	}
	payload := make([]restclient.SessionHeartbeat, 0, len(sessions))
	for _, s := range sessions {
		payload = append(payload, restclient.SessionHeartbeat{
			ID:             s.ID,
			Agent:          s.Agent,
			ProjectPath:    s.ProjectPath,
			ProjectName:    s.ProjectName,
			Status:         string(s.Status),
			LastMessage:    s.LastMessage,
			LastActivityAt: s.LastActivity.UTC().Format(time.RFC3339),
			StartedAt:      s.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := d.rest.Heartbeat(ctx, d.cfg.Machine.ID, restclient.HeartbeatRequest{
		TunnelURL:      d.advertisedURL,
		AgentsDetected: d.agentsDetected,
		Sessions:       payload,
	})
	if err == nil {
		return
	}

	var statusErr *restclient.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == 401 {
		d.log.Warn("heartbeat rejected, machine needs re-linking", zap.Error(err))
		return
	}
	d.log.Warn("heartbeat failed", zap.Error(err))
}
