package opencode

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ammujacic/agentap/internal/adapter"
	"github.com/ammujacic/agentap/internal/common/logger"
)

func writeSessionFile(t *testing.T, storageRoot, projectID string, rec sessionRecord) {
	t.Helper()
	dir := filepath.Join(storageRoot, "session", projectID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, rec.ID+".json"), data, 0o644))
}

func TestDiscoverSessionsSkipsArchivedAndIgnoresNonJSON(t *testing.T) {
	home := t.TempDir()
	a := New(home, logger.Default())
	storageRoot := a.storageRoot()

	writeSessionFile(t, storageRoot, "proj1", sessionRecord{
		ID: "live-1", Directory: "/home/user/proj1",
		Time: sessionTime{Created: 1, Updated: time.Now().UnixMilli()},
	})
	writeSessionFile(t, storageRoot, "proj1", sessionRecord{
		ID: "archived-1", Directory: "/home/user/proj1",
		Time: sessionTime{Created: 1, Updated: 2, Archived: 3},
	})

	// A non-JSON stray file in the same directory must be silently ignored.
	dir := filepath.Join(storageRoot, "session", "proj1")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a session"), 0o644))

	discovered, err := a.DiscoverSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, discovered, 1)
	require.Equal(t, "live-1", discovered[0].ID)
	require.Equal(t, "proj1", discovered[0].ProjectName)
}

func TestDiscoverSessionsOnMissingRootReturnsEmpty(t *testing.T) {
	a := New(t.TempDir(), logger.Default())
	discovered, err := a.DiscoverSessions(context.Background())
	require.NoError(t, err)
	require.Empty(t, discovered)
}

func TestWatchSessionsRootIgnoresNonJSONPaths(t *testing.T) {
	home := t.TempDir()
	a := New(home, logger.Default())
	root := filepath.Join(a.storageRoot(), "session")
	require.NoError(t, os.MkdirAll(root, 0o755))

	events := make(chan adapter.WatchEvent, 8)
	stop, err := a.WatchSessions(func(evt adapter.WatchEvent) { events <- evt })
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(filepath.Join(root, "ignored.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sess-1.json"), []byte("{}"), 0o644))

	select {
	case evt := <-events:
		require.Equal(t, "sess-1", evt.SessionID)
		require.Equal(t, adapter.WatchSessionCreated, evt.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the .json watch event")
	}

	// os.WriteFile creates and then writes sess-1.json, so a follow-up
	// session_updated for it may arrive; nothing may arrive for ignored.txt.
	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case evt := <-events:
			require.Equal(t, "sess-1", evt.SessionID, "unexpected event for non-JSON write: %+v", evt)
		case <-deadline:
			return
		}
	}
}
