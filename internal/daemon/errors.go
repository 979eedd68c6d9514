package daemon

import "fmt"

func errSessionNotFound(sessionID string) error {
	return fmt.Errorf("session not found: %s", sessionID)
}
