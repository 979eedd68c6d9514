package opencode

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ammujacic/agentap/internal/adapter"
	"github.com/ammujacic/agentap/internal/common/logger"
	"github.com/ammujacic/agentap/internal/protocol"
	"github.com/ammujacic/agentap/internal/session"
)

const approvalExpiry = 5 * time.Minute

// serverInfo carries the agent's discovered HTTP server, when known.
type serverInfo struct {
	URL string
}

// partDedup tracks the last-seen projection state for one part ID so that
// file watch, SSE, and process-stdout sources all feed one suppression
// table, per the spec's "centralize the projection in one place" note.
type partDedup struct {
	kind          string
	seen          bool
	lastToolState string
}

// Driver is the OpenCode reference session driver: it loads history,
// watches for new files, optionally follows an SSE stream or a spawned
// child's stdout, and funnels all three into one canonical event stream.
type Driver struct {
	sessionID   string
	storageRoot string
	projectDir  string
	capabilities session.Capabilities
	server      *serverInfo
	http        *httpClient
	seq         *protocol.Sequencer
	log         *logger.Logger

	mu         sync.Mutex
	listeners  map[int]func(protocol.Event)
	nextListen int
	history    []protocol.Event

	dedup        map[string]*partDedup
	messageRoles map[string]protocol.Role

	tokensCumulative int
	costCumulative   float64

	fileWatch  StopWatch
	sse        *sseSubscription
	child      *childProcess
	detached   bool

	pendingApprovals map[string]pendingApproval
}

type pendingApproval struct {
	toolCallID string
}

// StopWatch cancels a running filesystem watch.
type StopWatch func()

// newDriver constructs a driver bound to an existing sessionID (or empty,
// for freshly-started sessions).
func newDriver(sessionID, storageRoot, projectDir string, caps session.Capabilities, srv *serverInfo, seq *protocol.Sequencer, log *logger.Logger) *Driver {
	d := &Driver{
		sessionID:        sessionID,
		storageRoot:      storageRoot,
		projectDir:       projectDir,
		capabilities:     caps,
		server:           srv,
		seq:              seq,
		log:              log,
		listeners:        make(map[int]func(protocol.Event)),
		dedup:            make(map[string]*partDedup),
		messageRoles:     make(map[string]protocol.Role),
		pendingApprovals: make(map[string]pendingApproval),
	}
	if srv != nil {
		d.http = newHTTPClient(srv.URL, projectDir, log)
	}
	return d
}

// SessionID implements adapter.Driver.
func (d *Driver) SessionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID
}

// OnEvent implements adapter.Driver.
func (d *Driver) OnEvent(cb func(protocol.Event)) adapter.Unsubscribe {
	d.mu.Lock()
	id := d.nextListen
	d.nextListen++
	d.listeners[id] = cb
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.listeners, id)
		d.mu.Unlock()
	}
}

// GetHistory implements adapter.Driver.
func (d *Driver) GetHistory() []protocol.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]protocol.Event, len(d.history))
	copy(out, d.history)
	return out
}

// Refresh implements adapter.Driver. OpenCode sessions need no explicit
// refresh hook beyond what the file watcher already delivers.
func (d *Driver) Refresh() {}

// emit assigns a sequence number, records the event in history, and
// delivers it to every current listener.
func (d *Driver) emit(eventType protocol.EventType, payload any) {
	evt := d.seq.Create(d.sessionID, eventType, payload)

	d.mu.Lock()
	d.history = append(d.history, evt)
	listeners := make([]func(protocol.Event), 0, len(d.listeners))
	for _, cb := range d.listeners {
		listeners = append(listeners, cb)
	}
	d.mu.Unlock()

	for _, cb := range listeners {
		cb(evt)
	}
}

// LoadHistory replays message/<sessionId> + part/<messageId> files in
// lexicographic order, projecting each into canonical events.
func (d *Driver) LoadHistory(ctx context.Context) error {
	entries, err := loadSessionHistory(d.storageRoot, d.sessionID)
	if err != nil {
		return fmt.Errorf("load session history: %w", err)
	}
	for _, entry := range entries {
		d.projectMessage(entry.Message, entry.Parts)
	}
	return nil
}

func lastPathSegment(path string) string {
	if path == "" {
		return "Unknown"
	}
	base := filepath.Base(filepath.Clean(path))
	if base == "." || base == string(filepath.Separator) {
		return "Unknown"
	}
	return base
}

func (d *Driver) projectMessage(msg messageRecord, parts []partRecord) {
	switch msg.Role {
	case "user":
		d.projectUserMessage(msg, parts)
	case "assistant":
		d.projectAssistantMessage(msg, parts)
	}
}

func (d *Driver) projectUserMessage(msg messageRecord, parts []partRecord) {
	text := concatenateText(parts)
	if strings.TrimSpace(text) == "" {
		return
	}
	if _, known := d.messageRoles[msg.ID]; known {
		return
	}
	d.messageRoles[msg.ID] = protocol.RoleUser
	d.emit(protocol.EventMessageStart, protocol.MessageStartPayload{MessageID: msg.ID, Role: protocol.RoleUser})
	d.emit(protocol.EventMessageComplete, protocol.MessageCompletePayload{
		MessageID: msg.ID,
		Role:      protocol.RoleUser,
		Content:   []protocol.ContentBlock{{Type: "text", Text: text}},
	})
}

func concatenateText(parts []partRecord) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Type == PartTypeText && strings.TrimSpace(p.Text) != "" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func (d *Driver) projectAssistantMessage(msg messageRecord, parts []partRecord) {
	if d.projectDir == "" && msg.Path != nil && msg.Path.Root != "" {
		d.projectDir = msg.Path.Root
		if d.http != nil {
			d.http.directory = d.projectDir
		}
		d.emit(protocol.EventEnvironmentInfo, protocol.EnvironmentInfoPayload{
			Context: protocol.EnvironmentContext{
				Agent:    "opencode",
				Model:    msg.ModelID,
				Provider: msg.ProviderID,
				Project:  fmt.Sprintf("%s (%s)", d.projectDir, lastPathSegment(d.projectDir)),
				Runtime:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
			},
		})
	}

	_, known := d.messageRoles[msg.ID]
	d.messageRoles[msg.ID] = protocol.RoleAssistant
	if !known {
		d.emit(protocol.EventMessageStart, protocol.MessageStartPayload{MessageID: msg.ID, Role: protocol.RoleAssistant})
	}

	for _, p := range parts {
		d.projectPart(p)
	}

	if msg.Finish != "" && !d.dedupFor("msg-complete-"+msg.ID, "message-complete").seen {
		d.dedupFor("msg-complete-"+msg.ID, "message-complete").seen = true
		text := concatenateText(parts)
		model := ""
		if msg.ProviderID != "" || msg.ModelID != "" {
			model = fmt.Sprintf("%s/%s", msg.ProviderID, msg.ModelID)
		}
		d.emit(protocol.EventMessageComplete, protocol.MessageCompletePayload{
			MessageID:  msg.ID,
			Role:       protocol.RoleAssistant,
			Content:    []protocol.ContentBlock{{Type: "text", Text: text}},
			Model:      model,
			StopReason: msg.Finish,
		})
	}

	if msg.Error != nil && !d.dedupFor("msg-error-"+msg.ID, "message-error").seen {
		d.dedupFor("msg-error-"+msg.ID, "message-error").seen = true
		d.emit(protocol.EventSessionError, protocol.SessionErrorPayload{
			Error: protocol.SessionError{
				Code:        "ASSISTANT_ERROR",
				Message:     msg.Error.Message,
				Recoverable: true,
			},
		})
	}
}

func (d *Driver) dedupFor(partID, kind string) *partDedup {
	pd, ok := d.dedup[partID]
	if !ok {
		pd = &partDedup{kind: kind}
		d.dedup[partID] = pd
	}
	return pd
}

func (d *Driver) projectPart(p partRecord) {
	switch p.Type {
	case PartTypeText:
		pd := d.dedupFor(p.ID, p.Type)
		if pd.seen {
			return
		}
		pd.seen = true
		role := d.messageRoles[p.MessageID]
		if role == "" {
			role = protocol.RoleAssistant
		}
		d.emit(protocol.EventMessageDelta, protocol.MessageDeltaPayload{MessageID: p.MessageID, Role: role, Delta: p.Text})

	case PartTypeReasoning:
		pd := d.dedupFor(p.ID, p.Type)
		if pd.seen {
			return
		}
		pd.seen = true
		d.emit(protocol.EventThinkingStart, protocol.ThinkingStartPayload{MessageID: p.MessageID})
		if p.Text != "" {
			d.emit(protocol.EventThinkingDelta, protocol.ThinkingDeltaPayload{MessageID: p.MessageID, Delta: p.Text})
		}
		if p.Time != nil && p.Time.End > 0 {
			d.emit(protocol.EventThinkingComplete, protocol.ThinkingCompletePayload{MessageID: p.MessageID})
		}

	case PartTypeTool:
		d.projectToolPart(p)

	case PartTypeStepFinish:
		pd := d.dedupFor(p.ID, p.Type)
		if pd.seen {
			return
		}
		pd.seen = true
		d.projectStepFinish(p)

	default:
		d.dedupFor(p.ID, p.Type).seen = true
	}
}

func (d *Driver) projectToolPart(p partRecord) {
	if p.State == nil {
		return
	}
	pd := d.dedupFor(p.ID, PartTypeTool)
	if pd.lastToolState == p.State.Status {
		return
	}
	pd.lastToolState = p.State.Status

	toolCallID := p.CallID
	if toolCallID == "" {
		toolCallID = p.ID
	}

	switch p.State.Status {
	case ToolStatusPending:
		var input map[string]any
		_ = json.Unmarshal(p.State.Input, &input)
		d.emit(protocol.EventToolStart, protocol.ToolStartPayload{
			ToolCallID:  toolCallID,
			Name:        p.Tool,
			Category:    string(protocol.CategorizeTool(p.Tool)),
			Description: protocol.DescribeToolCall(p.Tool, input),
		})

	case ToolStatusRunning:
		var input map[string]any
		_ = json.Unmarshal(p.State.Input, &input)
		risk := protocol.AssessRisk(p.Tool, input, d.projectDir)
		d.emit(protocol.EventToolExecuting, protocol.ToolExecutingPayload{
			ToolCallID:       toolCallID,
			Name:             p.Tool,
			Input:            input,
			RiskLevel:        risk,
			RequiresApproval: false,
		})

	case ToolStatusCompleted:
		var duration time.Duration
		if p.State.Time != nil {
			duration = time.Duration(p.State.Time.End-p.State.Time.Start) * time.Millisecond
		}
		d.emit(protocol.EventToolResult, protocol.ToolResultPayload{
			ToolCallID: toolCallID,
			Name:       p.Tool,
			Output:     p.State.Output,
			Duration:   duration,
		})

	case ToolStatusError:
		d.emit(protocol.EventToolError, protocol.ToolErrorPayload{
			ToolCallID: toolCallID,
			Name:       p.Tool,
			Error:      p.State.Error,
		})
	}
}

func (d *Driver) projectStepFinish(p partRecord) {
	if p.Tokens != nil {
		total := p.Tokens.Input + p.Tokens.Output + p.Tokens.Reasoning
		d.tokensCumulative += total
		d.emit(protocol.EventResourceTokenUsage, protocol.TokenUsagePayload{
			Delta:      total,
			Cumulative: d.tokensCumulative,
		})
	}
	if p.Cost > 0 {
		d.costCumulative += p.Cost
		d.emit(protocol.EventResourceCost, protocol.CostPayload{
			Delta:      p.Cost,
			Cumulative: d.costCumulative,
		})
	}
}

// handleSSEEnvelope dispatches one SSE (or process-stdout) event through the
// same projection/dedup table as history load. Events for other sessions
// (the server multiplexes every session's SSE stream together) are dropped.
func (d *Driver) handleSSEEnvelope(env sdkEventEnvelope) {
	switch env.Type {
	case SDKEventPermissionAsked:
		var props permissionAskedProperties
		if err := json.Unmarshal(env.Properties, &props); err == nil && props.SessionID == d.SessionID() {
			d.handlePermissionAsked(env.Properties)
		}
	case SDKEventPermissionReplied:
		var scope struct {
			SessionID string `json:"sessionID"`
		}
		if err := json.Unmarshal(env.Properties, &scope); err == nil && scope.SessionID == d.SessionID() {
			d.handlePermissionReplied(env.Properties)
		}
	case SDKEventMessagePartUpdated:
		var props messagePartUpdatedProperties
		if err := json.Unmarshal(env.Properties, &props); err == nil && props.Part.SessionID == d.SessionID() {
			d.projectPart(props.Part)
		}
	case SDKEventMessageUpdated:
		var props messageUpdatedProperties
		if err := json.Unmarshal(env.Properties, &props); err == nil && props.Info.SessionID == d.SessionID() {
			d.handleMessageUpdated(props.Info)
		}
	}
}

func (d *Driver) handleMessageUpdated(msg messageRecord) {
	role, known := d.messageRoles[msg.ID]
	if !known {
		if msg.Role == "user" {
			d.projectUserMessage(msg, nil)
		} else {
			d.projectAssistantMessage(msg, nil)
		}
		return
	}
	if role != protocol.RoleAssistant {
		return
	}
	if msg.Finish == "" || msg.Time.Completed == 0 {
		return
	}
	if d.dedupFor("msg-complete-"+msg.ID, "message-complete").seen {
		return
	}
	d.dedupFor("msg-complete-"+msg.ID, "message-complete").seen = true

	model := ""
	if msg.ProviderID != "" || msg.ModelID != "" {
		model = fmt.Sprintf("%s/%s", msg.ProviderID, msg.ModelID)
	}
	d.emit(protocol.EventMessageComplete, protocol.MessageCompletePayload{
		MessageID:  msg.ID,
		Role:       protocol.RoleAssistant,
		Model:      model,
		StopReason: msg.Finish,
	})
}

func (d *Driver) handlePermissionAsked(raw json.RawMessage) {
	var props permissionAskedProperties
	if err := json.Unmarshal(raw, &props); err != nil {
		return
	}

	toolCallID := props.ID
	if props.Tool != nil && props.Tool.CallID != "" {
		toolCallID = props.Tool.CallID
	}

	d.mu.Lock()
	d.pendingApprovals[props.ID] = pendingApproval{toolCallID: toolCallID}
	d.mu.Unlock()

	d.emit(protocol.EventSessionStatusChanged, protocol.SessionStatusChangedPayload{
		From: protocol.StatusRunning,
		To:   protocol.StatusWaitingForApproval,
	})

	preview := strings.Join(props.Patterns, ", ")
	d.emit(protocol.EventApprovalRequested, protocol.ApprovalRequestedPayload{
		RequestID:   props.ID,
		ToolCallID:  toolCallID,
		ToolName:    props.Permission,
		ToolInput:   props.Metadata,
		Description: fmt.Sprintf("Permission requested: %s", props.Permission),
		RiskLevel:   protocol.AssessRisk(props.Permission, props.Metadata, d.projectDir),
		ExpiresAt:   nowUTC().Add(approvalExpiry).Format(time.RFC3339),
		Preview:     preview,
	})
}

func (d *Driver) handlePermissionReplied(raw json.RawMessage) {
	var props permissionRepliedProperties
	if err := json.Unmarshal(raw, &props); err != nil {
		return
	}

	switch props.Reply {
	case PermissionReplyOnce, PermissionReplyAlways:
		d.emit(protocol.EventSessionStatusChanged, protocol.SessionStatusChangedPayload{
			From: protocol.StatusWaitingForApproval,
			To:   protocol.StatusRunning,
		})
	case PermissionReplyReject:
		d.emit(protocol.EventSessionStatusChanged, protocol.SessionStatusChangedPayload{
			From: protocol.StatusWaitingForApproval,
			To:   protocol.StatusError,
		})
	}
}

var nowUTC = func() time.Time { return time.Now().UTC() }

// Start implements adapter.Driver for freshly-minted sessions.
func (d *Driver) Start(ctx context.Context, projectPath, prompt string) error {
	d.mu.Lock()
	d.projectDir = projectPath
	d.mu.Unlock()

	d.seq.Reset(d.sessionID)
	d.emit(protocol.EventSessionStatusChanged, protocol.SessionStatusChangedPayload{From: protocol.StatusIdle, To: protocol.StatusStarting})

	if d.server != nil {
		if err := d.startViaHTTP(ctx, projectPath, prompt); err == nil {
			return nil
		} else {
			d.log.Warn("HTTP session start failed, falling back to process spawn", zap.Error(err))
		}
	}

	return d.startViaProcess(ctx, projectPath, prompt)
}

func (d *Driver) startViaHTTP(ctx context.Context, projectPath, prompt string) error {
	id, err := d.http.createSession(ctx)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	d.mu.Lock()
	d.sessionID = id
	d.http.directory = projectPath
	d.mu.Unlock()

	if err := d.http.sendMessage(ctx, id, prompt); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	d.emit(protocol.EventSessionStatusChanged, protocol.SessionStatusChangedPayload{From: protocol.StatusStarting, To: protocol.StatusRunning})
	d.emit(protocol.EventSessionStarted, protocol.SessionStartedPayload{
		Agent:            "opencode",
		ProjectPath:      projectPath,
		ProjectName:      lastPathSegment(projectPath),
		WorkingDirectory: projectPath,
	})

	if watch, err := watchSessionFiles(d.storageRoot, d.sessionID, d.handleFileChange); err == nil {
		d.fileWatch = watch
	}
	if sub, err := subscribeSSE(ctx, d.server.URL, projectPath, d.log, d.handleSSEEnvelope); err == nil {
		d.sse = sub
	}

	return nil
}

func (d *Driver) startViaProcess(ctx context.Context, projectPath, prompt string) error {
	cp, err := spawnProcess(ctx, "opencode", prompt, projectPath, d.log, d.handleSSEEnvelope, d.handleProcessExit)
	if err != nil {
		d.emit(protocol.EventSessionError, protocol.SessionErrorPayload{
			Error: protocol.SessionError{Code: "SPAWN_ERROR", Message: err.Error(), Recoverable: false},
		})
		return fmt.Errorf("spawn agent process: %w", err)
	}

	d.mu.Lock()
	d.child = cp
	d.mu.Unlock()

	d.emit(protocol.EventSessionStatusChanged, protocol.SessionStatusChangedPayload{From: protocol.StatusStarting, To: protocol.StatusRunning})
	d.emit(protocol.EventSessionStarted, protocol.SessionStartedPayload{
		Agent:            "opencode",
		ProjectPath:      projectPath,
		ProjectName:      lastPathSegment(projectPath),
		WorkingDirectory: projectPath,
	})
	return nil
}

func (d *Driver) handleProcessExit(code int, err error) {
	if err == nil && code == 0 {
		d.emit(protocol.EventSessionCompleted, protocol.SessionCompletedPayload{Summary: "process exited cleanly"})
		return
	}
	d.emit(protocol.EventSessionError, protocol.SessionErrorPayload{
		Error: protocol.SessionError{Code: "PROCESS_ERROR", Message: fmt.Sprintf("exit code %d", code), Recoverable: false},
	})
}

// handleFileChange re-reads and re-projects the session's message/part
// files on any filesystem notification; the dedup table absorbs anything
// already seen from SSE, process stdout, or a prior file-change pass.
func (d *Driver) handleFileChange() {
	entries, err := loadSessionHistory(d.storageRoot, d.sessionID)
	if err != nil {
		return
	}
	for _, entry := range entries {
		d.projectMessage(entry.Message, entry.Parts)
	}
}

// Execute implements adapter.Driver's command table.
func (d *Driver) Execute(ctx context.Context, cmd adapter.Command) error {
	d.mu.Lock()
	hasServer := d.http != nil
	hasProcess := d.child != nil
	sessionID := d.sessionID
	d.mu.Unlock()

	switch cmd.Type {
	case adapter.CommandSendMessage:
		if hasServer {
			return d.http.sendMessage(ctx, sessionID, cmd.Message)
		}
		if hasProcess {
			return d.child.write(cmd.Message)
		}
		return fmt.Errorf("cannot send message: no server connection and no active process")

	case adapter.CommandApproveToolCall:
		if !hasServer {
			return fmt.Errorf("cannot approve tool call: no server connection")
		}
		if err := d.http.replyPermission(ctx, cmd.RequestID, PermissionReplyOnce, ""); err != nil {
			return err
		}
		d.emit(protocol.EventApprovalResolved, protocol.ApprovalResolvedPayload{
			RequestID:  cmd.RequestID,
			ToolCallID: d.resolvePendingToolCallID(cmd.RequestID),
			Approved:   true,
			ResolvedBy: "user",
		})
		return nil

	case adapter.CommandDenyToolCall:
		if !hasServer {
			return fmt.Errorf("cannot deny tool call: no server connection")
		}
		if err := d.http.replyPermission(ctx, cmd.RequestID, PermissionReplyReject, cmd.Reason); err != nil {
			return err
		}
		d.emit(protocol.EventApprovalResolved, protocol.ApprovalResolvedPayload{
			RequestID:  cmd.RequestID,
			ToolCallID: d.resolvePendingToolCallID(cmd.RequestID),
			Approved:   false,
			ResolvedBy: "user",
			Reason:     cmd.Reason,
		})
		return nil

	case adapter.CommandCancel:
		if hasServer {
			return d.http.abort(ctx, sessionID)
		}
		if hasProcess {
			d.child.interrupt()
			return nil
		}
		return nil

	case adapter.CommandTerminate:
		if hasServer {
			_ = d.http.abort(ctx, sessionID)
		}
		d.mu.Lock()
		child := d.child
		d.mu.Unlock()
		if child != nil {
			child.terminate()
		}
		d.Detach()
		return nil

	default:
		return nil
	}
}

func (d *Driver) resolvePendingToolCallID(requestID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pendingApprovals[requestID]; ok {
		delete(d.pendingApprovals, requestID)
		return p.toolCallID
	}
	return requestID
}

// Detach implements adapter.Driver. Idempotent.
func (d *Driver) Detach() {
	d.mu.Lock()
	if d.detached {
		d.mu.Unlock()
		return
	}
	d.detached = true
	watch := d.fileWatch
	sse := d.sse
	child := d.child
	d.listeners = make(map[int]func(protocol.Event))
	d.mu.Unlock()

	if watch != nil {
		watch()
	}
	if sse != nil {
		sse.stop()
	}
	if child != nil {
		child.terminate()
	}
}
