package daemon

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/ammujacic/agentap/internal/protocol"
	"github.com/ammujacic/agentap/internal/restclient"
	"github.com/ammujacic/agentap/internal/session"
	"github.com/ammujacic/agentap/internal/wsserver"
)

// handleCanonicalEvent runs on the orchestrator's own goroutine. It
// applies the event's side effect to the session table, broadcasts it to
// every WebSocket client, and forwards approval requests upstream when
// the machine is linked.
func (d *Daemon) handleCanonicalEvent(sessionID string, event protocol.Event) {
	entry := d.table.Get(sessionID)
	if entry != nil {
		d.applyEvent(entry, event)
		d.table.Put(entry)
	}

	d.ws.BroadcastACPEvent(event)

	if event.Type == protocol.EventApprovalRequested && d.cfg.Machine.Linked() {
		d.forwardApprovalEvent(event)
	}
}

func (d *Daemon) applyEvent(entry *session.Session, event protocol.Event) {
	switch event.Type {
	case protocol.EventSessionStatusChanged:
		if p, ok := event.Payload.(protocol.SessionStatusChangedPayload); ok {
			entry.Status = p.To
		}
		entry.LastActivity = nowFunc()

	case protocol.EventSessionCompleted:
		entry.Status = protocol.StatusCompleted
		d.detachSession(entry.ID)

	case protocol.EventSessionError:
		entry.Status = protocol.StatusError
		d.detachSession(entry.ID)

	case protocol.EventMessageComplete:
		p, ok := event.Payload.(protocol.MessageCompletePayload)
		if !ok {
			return
		}
		switch p.Role {
		case protocol.RoleUser:
			if entry.SessionName == "" {
				if name := session.DeriveSessionName(p.Content); name != "" {
					entry.SessionName = name
				}
			}
		case protocol.RoleAssistant:
			entry.LastMessage = session.DeriveLastMessage(p.Content)
		}

	case protocol.EventMessageDelta:
		entry.LastActivity = nowFunc()

	case protocol.EventEnvironmentInfo:
		if p, ok := event.Payload.(protocol.EnvironmentInfoPayload); ok {
			entry.Model = p.Context.Model
			if p.Context.Provider != "" {
				entry.Model = p.Context.Provider + "/" + p.Context.Model
			}
		}
	}
}

func (d *Daemon) detachSession(sessionID string) {
	if drv, ok := d.drivers[sessionID]; ok {
		drv.Detach()
		delete(d.drivers, sessionID)
	}
}

func (d *Daemon) forwardApprovalEvent(event protocol.Event) {
	payload, ok := event.Payload.(protocol.ApprovalRequestedPayload)
	if !ok {
		return
	}

	machineID := d.cfg.Machine.ID

	go func() {
		err := d.rest.ForwardApproval(context.Background(), restclient.ApprovalNotification{
			MachineID:   machineID,
			SessionID:   event.SessionID,
			RequestID:   payload.RequestID,
			ToolCallID:  payload.ToolCallID,
			ToolName:    payload.ToolName,
			Description: payload.Description,
			RiskLevel:   string(payload.RiskLevel),
		})
		if err != nil {
			d.log.Warn("forward approval notification failed", zap.Error(err))
		}
	}()
}

func (d *Daemon) broadcastSnapshot() {
	d.ws.BroadcastSessionsList(d.getSessions())
}

// forwardHookApproval is installed as the wsserver approvals subsystem's
// notifier: it is called synchronously whenever a hook script's long-poll
// request starts waiting for a decision. The raw hook payload (a Claude
// Code PreToolUse input or an OpenCode permission.ask input) carries no
// canonical session id, so it is surfaced to connected clients as a
// best-effort approval-requested event keyed by whatever the payload
// itself can identify.
func (d *Daemon) forwardHookApproval(req wsserver.ApprovalRequest) {
	var fields map[string]any
	if err := json.Unmarshal(req.Payload, &fields); err != nil {
		d.log.Warn("hook approval payload was not valid JSON", zap.Error(err))
		return
	}

	toolName, _ := fields["tool_name"].(string)
	if toolName == "" {
		toolName, _ = fields["tool"].(string)
	}

	event := protocol.Event{
		Type: protocol.EventApprovalRequested,
		Payload: protocol.ApprovalRequestedPayload{
			RequestID: req.ID,
			ToolName:  toolName,
		},
	}
	d.ws.BroadcastACPEvent(event)
}
