// Package opencode implements the reference agent adapter against OpenCode's
// on-disk session store and optional HTTP+SSE server.
package opencode

import "encoding/json"

// Part type tags, mirroring OpenCode's own SSE/part vocabulary.
const (
	PartTypeText       = "text"
	PartTypeReasoning  = "reasoning"
	PartTypeTool       = "tool"
	PartTypeStepStart  = "step-start"
	PartTypeStepFinish = "step-finish"
)

// Tool state transitions.
const (
	ToolStatusPending   = "pending"
	ToolStatusRunning   = "running"
	ToolStatusCompleted = "completed"
	ToolStatusError     = "error"
)

// SSE event type tags.
const (
	SDKEventMessageUpdated     = "message.updated"
	SDKEventMessagePartUpdated = "message.part.updated"
	SDKEventPermissionAsked    = "permission.asked"
	SDKEventPermissionReplied  = "permission.replied"
)

// Permission reply values.
const (
	PermissionReplyOnce   = "once"
	PermissionReplyAlways = "always"
	PermissionReplyReject = "reject"
)

// sessionRecord is the on-disk shape of session/<projectId>/<sessionId>.json.
type sessionRecord struct {
	ID        string      `json:"id"`
	Directory string      `json:"directory"`
	Time      sessionTime `json:"time"`
}

type sessionTime struct {
	Created  int64 `json:"created"`
	Updated  int64 `json:"updated"`
	Archived int64 `json:"archived,omitempty"`
}

// messageRecord is the on-disk shape of message/<sessionId>/<messageId>.json.
type messageRecord struct {
	ID         string       `json:"id"`
	SessionID  string       `json:"sessionID"`
	Role       string       `json:"role"` // "user" | "assistant"
	Time       messageTime  `json:"time"`
	Path       *messagePath `json:"path,omitempty"`
	ProviderID string       `json:"providerID,omitempty"`
	ModelID    string       `json:"modelID,omitempty"`
	Finish     string       `json:"finish,omitempty"`
	Error      *messageErr  `json:"error,omitempty"`
}

type messageTime struct {
	Created   int64 `json:"created"`
	Completed int64 `json:"completed,omitempty"`
}

type messagePath struct {
	Root string `json:"root"`
}

type messageErr struct {
	Message string `json:"message"`
}

// partRecord is the on-disk shape of part/<messageId>/<partId>.json, and
// also the shape carried inside message.part.updated SSE properties.
type partRecord struct {
	ID        string        `json:"id"`
	MessageID string        `json:"messageID"`
	SessionID string        `json:"sessionID"`
	Type      string        `json:"type"`
	Text      string        `json:"text,omitempty"`
	Time      *partTime     `json:"time,omitempty"`
	CallID    string        `json:"callID,omitempty"`
	Tool      string        `json:"tool,omitempty"`
	State     *toolState    `json:"state,omitempty"`
	Tokens    *tokensInfo   `json:"tokens,omitempty"`
	Cost      float64       `json:"cost,omitempty"`
}

type partTime struct {
	Start int64 `json:"start,omitempty"`
	End   int64 `json:"end,omitempty"`
}

type toolState struct {
	Status string          `json:"status"` // pending|running|completed|error
	Input  json.RawMessage `json:"input,omitempty"`
	Output string          `json:"output,omitempty"`
	Title  string          `json:"title,omitempty"`
	Error  string          `json:"error,omitempty"`
	Time   *partTime       `json:"time,omitempty"`
}

type tokensInfo struct {
	Input     int            `json:"input"`
	Output    int            `json:"output"`
	Reasoning int            `json:"reasoning,omitempty"`
	Cache     *cacheTokens   `json:"cache,omitempty"`
}

type cacheTokens struct {
	Read  int `json:"read"`
	Write int `json:"write"`
}

// sdkEventEnvelope is the outer shape of every SSE message.
type sdkEventEnvelope struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

type messageUpdatedProperties struct {
	Info messageRecord `json:"info"`
}

type messagePartUpdatedProperties struct {
	Part partRecord `json:"part"`
}

type permissionAskedProperties struct {
	ID         string              `json:"id"`
	SessionID  string              `json:"sessionID"`
	Permission string              `json:"permission"`
	Patterns   []string            `json:"patterns,omitempty"`
	Metadata   map[string]any      `json:"metadata,omitempty"`
	Tool       *permissionToolInfo `json:"tool,omitempty"`
}

type permissionToolInfo struct {
	CallID string `json:"callID"`
}

type permissionRepliedProperties struct {
	ID     string `json:"id"`
	Reply  string `json:"reply"`
}

// healthResponse is the body of GET /global/health.
type healthResponse struct {
	Healthy bool   `json:"healthy"`
	Version string `json:"version"`
}

// createSessionResponse is the body of POST /session.
type createSessionResponse struct {
	ID string `json:"id"`
}

type textPartInput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type sendMessageRequest struct {
	Parts []textPartInput `json:"parts"`
}

type permissionReplyRequest struct {
	Reply   string `json:"reply"`
	Message string `json:"message,omitempty"`
}
