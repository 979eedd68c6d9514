// Package pidfile writes and reads the daemon's port-advertising pidfile so
// agent hook scripts can rediscover a running daemon without a fixed port,
// and so the CLI's stop and status subcommands can find the running
// process without a remote shutdown endpoint of their own.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	fileName = "daemon.pid"
	fileMode = 0o600
)

// Path returns the pidfile location under a config directory.
func Path(configDir string) string {
	return filepath.Join(configDir, fileName)
}

// Write records the listening port and the current process id, one per
// line. The process id line is new; Read ignores it so existing port-only
// readers (and pidfiles written before it existed) keep working.
func Write(configDir string, port int) error {
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	contents := fmt.Sprintf("%d\n%d\n", port, os.Getpid())
	if err := os.WriteFile(Path(configDir), []byte(contents), fileMode); err != nil {
		return fmt.Errorf("write pidfile: %w", err)
	}
	return nil
}

// Read returns the port recorded in the pidfile. A stale or missing file is
// reported as an error; callers treat that as "no daemon running".
func Read(configDir string) (int, error) {
	fields, err := readFields(configDir)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("parse pidfile port %q: %w", fields[0], err)
	}
	return port, nil
}

// ReadPID returns the process id recorded alongside the port. Pidfiles
// written before the process id line existed return an error here even
// though Read still succeeds against them.
func ReadPID(configDir string) (int, error) {
	fields, err := readFields(configDir)
	if err != nil {
		return 0, err
	}
	if len(fields) < 2 {
		return 0, fmt.Errorf("no process id recorded in %s", Path(configDir))
	}
	pid, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("parse pidfile pid %q: %w", fields[1], err)
	}
	return pid, nil
}

func readFields(configDir string) ([]string, error) {
	data, err := os.ReadFile(Path(configDir))
	if err != nil {
		return nil, fmt.Errorf("read pidfile: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty pidfile %s", Path(configDir))
	}
	return fields, nil
}

// Remove deletes the pidfile, tolerating one that is already gone.
func Remove(configDir string) error {
	if err := os.Remove(Path(configDir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pidfile: %w", err)
	}
	return nil
}
