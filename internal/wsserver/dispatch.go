package wsserver

import (
	"context"

	"go.uber.org/zap"

	"github.com/ammujacic/agentap/internal/adapter"
)

// handleMessage routes one decoded client request to the matching
// callback and replies with a response or error envelope. Every action
// except authenticate requires a previously authenticated connection.
func (s *Server) handleMessage(ctx context.Context, c *client, msg *Message) {
	if msg.Action != ActionAuthenticate && !s.isAuthenticated(c) {
		c.sendMessage(newErrorMessage(msg.ID, msg.Action, ErrorCodeUnauthorized, "client is not authenticated"))
		return
	}

	switch msg.Action {
	case ActionAuthenticate:
		s.handleAuthenticate(ctx, c, msg)
	case ActionCommand:
		s.handleCommand(ctx, c, msg)
	case ActionTerminateSession:
		s.handleTerminateSession(ctx, c, msg)
	case ActionStartSession:
		s.handleStartSession(ctx, c, msg)
	case ActionGetSessions:
		s.handleGetSessions(c, msg)
	case ActionGetCapabilities:
		s.handleGetCapabilities(c, msg)
	case ActionGetHistory:
		s.handleGetHistory(c, msg)
	default:
		c.sendMessage(newErrorMessage(msg.ID, msg.Action, ErrorCodeUnknownAction, "unrecognized action"))
	}
}

type authenticatePayload struct {
	Token string `json:"token"`
}

func (s *Server) handleAuthenticate(ctx context.Context, c *client, msg *Message) {
	var payload authenticatePayload
	if err := msg.parsePayload(&payload); err != nil || payload.Token == "" {
		c.sendMessage(newErrorMessage(msg.ID, msg.Action, ErrorCodeBadRequest, "missing token"))
		return
	}

	ok, userID, err := s.callbacks.OnAuth(ctx, payload.Token)
	if err != nil {
		s.log.Error("auth callback failed", zap.Error(err))
		c.sendMessage(newErrorMessage(msg.ID, msg.Action, ErrorCodeInternal, "authentication check failed"))
		return
	}
	if !ok {
		c.sendMessage(newErrorMessage(msg.ID, msg.Action, ErrorCodeUnauthorized, "invalid token"))
		return
	}

	s.markAuthenticated(c)
	if s.callbacks.OnClientAuthenticated != nil {
		s.callbacks.OnClientAuthenticated(c.id)
	}

	resp, err := newResponse(msg.ID, msg.Action, map[string]any{"authenticated": true, "userId": userID})
	if err != nil {
		return
	}
	c.sendMessage(resp)
}

type commandPayload struct {
	SessionID  string `json:"sessionId"`
	Type       string `json:"type"`
	Message    string `json:"message"`
	RequestID  string `json:"requestId"`
	ToolCallID string `json:"toolCallId"`
	Reason     string `json:"reason"`
}

func (s *Server) handleCommand(ctx context.Context, c *client, msg *Message) {
	var payload commandPayload
	if err := msg.parsePayload(&payload); err != nil || payload.SessionID == "" || payload.Type == "" {
		c.sendMessage(newErrorMessage(msg.ID, msg.Action, ErrorCodeBadRequest, "sessionId and type are required"))
		return
	}

	cmd := adapter.Command{
		Type:       adapter.CommandType(payload.Type),
		Message:    payload.Message,
		RequestID:  payload.RequestID,
		ToolCallID: payload.ToolCallID,
		Reason:     payload.Reason,
	}

	if err := s.callbacks.OnCommand(ctx, payload.SessionID, cmd); err != nil {
		c.sendMessage(newErrorMessage(msg.ID, msg.Action, ErrorCodeNotFound, err.Error()))
		return
	}

	resp, err := newResponse(msg.ID, msg.Action, map[string]bool{"ok": true})
	if err != nil {
		return
	}
	c.sendMessage(resp)
}

type terminateSessionPayload struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleTerminateSession(ctx context.Context, c *client, msg *Message) {
	var payload terminateSessionPayload
	if err := msg.parsePayload(&payload); err != nil || payload.SessionID == "" {
		c.sendMessage(newErrorMessage(msg.ID, msg.Action, ErrorCodeBadRequest, "sessionId is required"))
		return
	}

	if err := s.callbacks.OnTerminateSession(ctx, payload.SessionID); err != nil {
		c.sendMessage(newErrorMessage(msg.ID, msg.Action, ErrorCodeNotFound, err.Error()))
		return
	}

	resp, err := newResponse(msg.ID, msg.Action, map[string]bool{"ok": true})
	if err != nil {
		return
	}
	c.sendMessage(resp)
}

func (s *Server) handleStartSession(ctx context.Context, c *client, msg *Message) {
	var req StartSessionRequest
	if err := msg.parsePayload(&req); err != nil || req.Agent == "" || req.ProjectPath == "" {
		c.sendMessage(newErrorMessage(msg.ID, msg.Action, ErrorCodeBadRequest, "agent and projectPath are required"))
		return
	}

	started, err := s.callbacks.OnStartSession(ctx, req)
	if err != nil {
		c.sendMessage(newErrorMessage(msg.ID, msg.Action, ErrorCodeInternal, err.Error()))
		return
	}

	resp, err := newResponse(msg.ID, msg.Action, started)
	if err != nil {
		return
	}
	c.sendMessage(resp)
}

func (s *Server) handleGetSessions(c *client, msg *Message) {
	resp, err := newResponse(msg.ID, msg.Action, s.callbacks.GetSessions())
	if err != nil {
		return
	}
	c.sendMessage(resp)
}

func (s *Server) handleGetCapabilities(c *client, msg *Message) {
	resp, err := newResponse(msg.ID, msg.Action, s.callbacks.GetCapabilities())
	if err != nil {
		return
	}
	c.sendMessage(resp)
}

type getHistoryPayload struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleGetHistory(c *client, msg *Message) {
	var payload getHistoryPayload
	if err := msg.parsePayload(&payload); err != nil || payload.SessionID == "" {
		c.sendMessage(newErrorMessage(msg.ID, msg.Action, ErrorCodeBadRequest, "sessionId is required"))
		return
	}

	history, err := s.callbacks.GetSessionHistory(payload.SessionID)
	if err != nil {
		c.sendMessage(newErrorMessage(msg.ID, msg.Action, ErrorCodeNotFound, err.Error()))
		return
	}

	resp, err := newResponse(msg.ID, msg.Action, history)
	if err != nil {
		return
	}
	c.sendMessage(resp)
}
