// Package session defines the daemon's view of a coding-assistant session
// and the capabilities record each adapter publishes about its agent kind.
package session

import (
	"time"

	"github.com/ammujacic/agentap/internal/protocol"
)

// Session is the daemon's table entry for one coding-assistant session.
type Session struct {
	ID            string                 `json:"id"`
	Agent         string                 `json:"agent"`
	MachineID     string                 `json:"machineId"`
	ProjectPath   string                 `json:"projectPath"`
	ProjectName   string                 `json:"projectName"`
	Status        protocol.SessionStatus `json:"status"`
	SessionName   string                 `json:"sessionName,omitempty"`
	LastMessage   string                 `json:"lastMessage,omitempty"`
	Model         string                 `json:"model,omitempty"`
	AgentMode     string                 `json:"agentMode,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	LastActivity  time.Time              `json:"lastActivity"`
}

// IntegrationMethod describes how an adapter talks to its agent.
type IntegrationMethod string

const (
	IntegrationFileWatch IntegrationMethod = "file-watch"
	IntegrationProcess   IntegrationMethod = "process"
	IntegrationHTTP      IntegrationMethod = "http"
	IntegrationSSE       IntegrationMethod = "sse"
	IntegrationHybrid    IntegrationMethod = "hybrid"
)

// FeatureFlags groups the boolean capability switches an adapter publishes.
type FeatureFlags struct {
	Streaming      bool `json:"streaming"`
	Approval       bool `json:"approval"`
	SessionControl bool `json:"sessionControl"`
	Planning       bool `json:"planning"`
	Resources      bool `json:"resources"`
	FileOperations bool `json:"fileOperations"`
	UserInteraction bool `json:"userInteraction"`
}

// Capabilities is the canonical per-adapter capabilities record.
type Capabilities struct {
	AgentName          string             `json:"agentName"`
	DisplayName        string             `json:"displayName"`
	Icon               string             `json:"icon"`
	Version            string             `json:"version"`
	IntegrationMethod  IntegrationMethod  `json:"integrationMethod"`
	Features           FeatureFlags       `json:"features"`
	SubAgents          bool               `json:"subAgents"`
	Git                bool               `json:"git"`
	WebSearch          bool               `json:"webSearch"`
	Multimodal         bool               `json:"multimodal"`
	Thinking           bool               `json:"thinking"`
	CustomEventTypes   []string           `json:"customEventTypes,omitempty"`
}
