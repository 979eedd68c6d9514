package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/ammujacic/agentap/internal/config"
	"github.com/ammujacic/agentap/internal/restclient"
)

// LinkStart is the result of CreateLinkRequest: the short code a user types
// into the mobile/web client, and the JSON payload a QR code should encode.
type LinkStart struct {
	Code      string
	QRPayload string
}

type qrPayload struct {
	Version int    `json:"v"`
	Code    string `json:"code"`
	Name    string `json:"name"`
}

// CreateLinkRequest registers a new pairing code with the remote API.
func (d *Daemon) CreateLinkRequest(ctx context.Context) (*LinkStart, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	resp, err := d.rest.CreateLinkRequest(ctx, hostname, runtime.GOOS, runtime.GOARCH, d.agentsDetected)
	if err != nil {
		return nil, fmt.Errorf("create link request: %w", err)
	}

	payload, err := json.Marshal(qrPayload{Version: 1, Code: resp.Code, Name: hostname})
	if err != nil {
		return nil, fmt.Errorf("encode qr payload: %w", err)
	}

	return &LinkStart{Code: resp.Code, QRPayload: string(payload)}, nil
}

// WaitForLink polls link status until the remote side confirms pairing, then
// persists the machine fields, starts the heartbeat loop, and (unless
// noTunnel) starts the named tunnel using the token the remote API handed
// back. onPoll, if non-nil, is invoked after every poll attempt.
func (d *Daemon) WaitForLink(ctx context.Context, code string, onPoll func()) error {
	status, err := d.rest.WaitForLink(ctx, code, func(*restclient.LinkStatusResponse) {
		if onPoll != nil {
			onPoll()
		}
	})
	if err != nil {
		return err
	}

	machine := config.MachineConfig{
		ID:          status.MachineID,
		UserID:      status.UserID,
		APISecret:   status.APISecret,
		TunnelToken: status.TunnelToken,
		TunnelURL:   status.TunnelURL,
	}
	if err := config.SaveMachineLink(d.cfg, machine); err != nil {
		d.log.Warn("failed to persist machine link", zap.Error(err))
	}
	d.rest = restclient.New(d.cfg.API.URL, d.cfg.Machine.APISecret)

	d.startHeartbeat()

	if !d.cfg.Daemon.NoTunnel && d.cfg.Machine.TunnelToken != "" {
		go func() {
			if err := d.tunnel.StartWithToken(d.ctx, d.cfg.Machine.TunnelToken); err != nil {
				d.log.Error("failed to start named tunnel after linking", zap.Error(err))
			}
		}()
	}

	return nil
}
