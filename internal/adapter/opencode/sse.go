package opencode

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ammujacic/agentap/internal/common/logger"
)

// sseSubscription reads OpenCode's GET /event stream and dispatches each
// parsed envelope to a handler until the connection is cancelled or drops.
type sseSubscription struct {
	cancel context.CancelFunc
}

// subscribeSSE connects to the event stream and starts a background reader.
// It blocks only long enough to confirm the connection succeeded.
func subscribeSSE(ctx context.Context, baseURL, directory string, log *logger.Logger, handler func(sdkEventEnvelope)) (*sseSubscription, error) {
	sseCtx, cancel := context.WithCancel(ctx)

	url := strings.TrimSuffix(baseURL, "/") + "/event"
	req, err := http.NewRequestWithContext(sseCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create event stream request: %w", err)
	}
	req.Header.Set(directoryHeader, directory)
	req.Header.Set("Accept", "text/event-stream")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connect event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("event stream failed: HTTP %d", resp.StatusCode)
	}

	go readSSE(sseCtx, resp.Body, log, handler)

	return &sseSubscription{cancel: cancel}, nil
}

func (s *sseSubscription) stop() {
	if s != nil {
		s.cancel()
	}
}

func readSSE(ctx context.Context, body io.ReadCloser, log *logger.Logger, handler func(sdkEventEnvelope)) {
	defer func() { _ = body.Close() }()

	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			data.WriteString(strings.TrimPrefix(line, "data: "))
			continue
		}
		if line != "" || data.Len() == 0 {
			continue
		}

		payload := strings.TrimSpace(data.String())
		data.Reset()
		if payload == "" {
			continue
		}

		var env sdkEventEnvelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			log.Warn("failed to parse SSE event", zap.Error(err))
			continue
		}
		handler(env)
	}
}
