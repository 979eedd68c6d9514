package opencode

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestWatchSessionFilesObservesPartsUnderNewMessageSubdirectory exercises
// the file-watch fallback path's coverage of part/<messageId>/<partId>.json:
// OpenCode writes each message's tool-call parts under a subdirectory
// created after the watch starts, so the watcher must pick that directory
// up dynamically rather than only ever watching part/ itself.
func TestWatchSessionFilesObservesPartsUnderNewMessageSubdirectory(t *testing.T) {
	storageRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(storageRoot, "message", "sess-1"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(storageRoot, "part"), 0o755))

	var calls atomic.Int32
	stop, err := watchSessionFiles(storageRoot, "sess-1", func() { calls.Add(1) })
	require.NoError(t, err)
	defer stop()

	msgDir := filepath.Join(storageRoot, "part", "m1")
	require.NoError(t, os.Mkdir(msgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(msgDir, "p1.json"), []byte("{}"), 0o644))

	require.Eventually(t, func() bool {
		return calls.Load() > 0
	}, 2*time.Second, 20*time.Millisecond, "onChange must fire for a write under a newly created part/<messageId> directory")
}
