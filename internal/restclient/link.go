package restclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	linkPollInterval = 2 * time.Second
	linkPollTimeout  = 10 * time.Minute
)

// ErrLinkExpired is returned when WaitForLink exceeds its overall timeout.
var ErrLinkExpired = errors.New("link code expired")

// ErrLinkNotFound is returned when the remote reports the code is unknown
// or has already expired server-side.
var ErrLinkNotFound = errors.New("link request not found or expired")

// WaitForLink polls link status every 2 seconds for up to 10 minutes,
// invoking onPoll (if non-nil) after every poll attempt. Transient network
// errors are swallowed and retried; a 404-class response aborts immediately.
func (c *Client) WaitForLink(ctx context.Context, code string, onPoll func(*LinkStatusResponse)) (*LinkStatusResponse, error) {
	deadline := time.Now().Add(linkPollTimeout)
	ticker := time.NewTicker(linkPollInterval)
	defer ticker.Stop()

	for {
		status, err := c.LinkStatus(ctx, code)
		if err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
				return nil, ErrLinkNotFound
			}
			// Transient network or non-404 error: fall through to retry.
		} else {
			if onPoll != nil {
				onPoll(status)
			}
			if status.Linked {
				return status, nil
			}
		}

		if time.Now().After(deadline) {
			return nil, ErrLinkExpired
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for link: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
