package daemon

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ammujacic/agentap/internal/restclient"
)

// localUserID is the userId reported for every accepted token on an
// unlinked machine, which has no remote identity to attribute one to.
const localUserID = "local-user"

// onAuth implements the wsserver OnAuth callback. An unlinked machine has no
// remote identity to check a token against, so any non-empty token from a
// client on the local network is accepted and attributed to localUserID. A
// linked machine validates the token against the remote API and reports the
// user id the API returns; a non-2xx response rejects the token, and a
// network failure degrades to the unlinked behavior rather than locking the
// user out of their own workstation.
func (d *Daemon) onAuth(ctx context.Context, token string) (bool, string, error) {
	if token == "" {
		return false, "", nil
	}

	if !d.cfg.Machine.Linked() {
		return true, localUserID, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := d.rest.ValidateToken(reqCtx, token, d.cfg.Machine.ID)
	if err != nil {
		var statusErr *restclient.StatusError
		if errors.As(err, &statusErr) {
			d.log.Info("token rejected by remote API", zap.Error(err))
			return false, "", nil
		}
		d.log.Warn("token validation request failed, accepting token", zap.Error(err))
		return true, localUserID, nil
	}
	return resp.Valid, resp.UserID, nil
}
