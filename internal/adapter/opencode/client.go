package opencode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ammujacic/agentap/internal/common/logger"
)

const directoryHeader = "x-opencode-directory"

// httpClient is the thin wrapper around OpenCode's HTTP surface: session
// creation, prompt submission, permission replies, and abort. It carries no
// session-projection logic — that belongs to driver.go.
type httpClient struct {
	baseURL    string
	directory  string
	http       *http.Client
	promptHTTP *http.Client
	log        *logger.Logger
}

func newHTTPClient(baseURL, directory string, log *logger.Logger) *httpClient {
	return &httpClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		directory:  directory,
		http:       &http.Client{Timeout: 30 * time.Second},
		promptHTTP: &http.Client{Timeout: 60 * time.Minute},
		log:        log,
	}
}

func (c *httpClient) newRequest(ctx context.Context, client *http.Client, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(directoryHeader, c.directory)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return client.Do(req)
}

func (c *httpClient) apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	return fmt.Errorf("OpenCode API error %d: %s", resp.StatusCode, string(body))
}

// createSession issues POST session/.
func (c *httpClient) createSession(ctx context.Context) (string, error) {
	resp, err := c.newRequest(ctx, c.http, http.MethodPost, "/session", strings.NewReader("{}"))
	if err != nil {
		return "", fmt.Errorf("create session request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.apiError(resp)
	}

	var out createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("parse create session response: %w", err)
	}
	return out.ID, nil
}

// sendMessage issues POST session/{id}/message.
func (c *httpClient) sendMessage(ctx context.Context, sessionID, text string) error {
	req := sendMessageRequest{Parts: []textPartInput{{Type: PartTypeText, Text: text}}}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal message request: %w", err)
	}

	path := fmt.Sprintf("/session/%s/message", sessionID)
	resp, err := c.newRequest(ctx, c.promptHTTP, http.MethodPost, path, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("send message request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.apiError(resp)
	}
	return nil
}

// abort issues POST session/{id}/abort, best-effort.
func (c *httpClient) abort(ctx context.Context, sessionID string) error {
	path := fmt.Sprintf("/session/%s/abort", sessionID)
	resp, err := c.newRequest(ctx, c.http, http.MethodPost, path, nil)
	if err != nil {
		c.log.Debug("abort request failed", zap.Error(err))
		return nil
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.ReadAll(resp.Body)
	return nil
}

// replyPermission issues POST permission/{requestId}/reply.
func (c *httpClient) replyPermission(ctx context.Context, requestID, reply, message string) error {
	body, err := json.Marshal(permissionReplyRequest{Reply: reply, Message: message})
	if err != nil {
		return fmt.Errorf("marshal permission reply: %w", err)
	}

	path := fmt.Sprintf("/permission/%s/reply", requestID)
	resp, err := c.newRequest(ctx, c.http, http.MethodPost, path, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("permission reply request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.apiError(resp)
	}
	return nil
}

// version probes GET /global/health for the server's reported version.
func (c *httpClient) version(ctx context.Context) (string, error) {
	resp, err := c.newRequest(ctx, c.http, http.MethodGet, "/global/health", nil)
	if err != nil {
		return "", fmt.Errorf("health request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", c.apiError(resp)
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return "", fmt.Errorf("parse health response: %w", err)
	}
	return health.Version, nil
}
