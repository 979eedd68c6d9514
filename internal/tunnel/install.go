package tunnel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"runtime"
)

// cloudflaredTargets maps GOOS/GOARCH to the asset name published under
// cloudflare/cloudflared's GitHub releases.
var cloudflaredTargets = map[string]string{
	"darwin/amd64":  "cloudflared-darwin-amd64.tgz",
	"darwin/arm64":  "cloudflared-darwin-arm64.tgz",
	"linux/amd64":   "cloudflared-linux-amd64",
	"linux/arm64":   "cloudflared-linux-arm64",
	"windows/amd64": "cloudflared-windows-amd64.exe",
}

// downloadURLForPlatform resolves the GitHub release download URL for the
// current platform. Unsupported platforms fail fast.
func downloadURLForPlatform() (string, error) {
	key := runtime.GOOS + "/" + runtime.GOARCH
	asset, ok := cloudflaredTargets[key]
	if !ok {
		return "", fmt.Errorf("unsupported platform: %s", key)
	}
	return "https://github.com/cloudflare/cloudflared/releases/latest/download/" + asset, nil
}

// downloadFile fetches url and writes the response body to dest. macOS
// prefers the system package manager (homebrew) when available, since
// Apple-notarized binaries install more reliably that way than a raw
// GitHub download.
func downloadFile(ctx context.Context, url, dest string) error {
	if runtime.GOOS == "darwin" {
		if installed, err := installViaHomebrew(ctx, dest); err == nil && installed {
			return nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create download request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("write binary: %w", err)
	}
	return nil
}

// installViaHomebrew installs cloudflared via brew and symlinks the result
// into dest. Returns (false, err) when brew itself is unavailable so the
// caller falls back to a direct download.
func installViaHomebrew(ctx context.Context, dest string) (bool, error) {
	brewPath, err := exec.LookPath("brew")
	if err != nil {
		return false, err
	}
	if err := exec.CommandContext(ctx, brewPath, "install", "cloudflared").Run(); err != nil {
		return false, fmt.Errorf("brew install cloudflared: %w", err)
	}
	installedPath, err := exec.LookPath(binaryName)
	if err != nil {
		return false, fmt.Errorf("cloudflared not on PATH after brew install: %w", err)
	}
	if installedPath == dest {
		return true, nil
	}
	if err := os.Symlink(installedPath, dest); err != nil {
		return false, fmt.Errorf("symlink brew-installed cloudflared: %w", err)
	}
	return true, nil
}
