package opencode

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ammujacic/agentap/internal/adapter"
)

const fileWatchDebounce = 300 * time.Millisecond

// watchSessionFiles watches message/<sessionId> and part/* for a single
// attached session, calling onChange (debounced) after a burst of writes
// settles. The returned StopWatch disposes the underlying watcher.
func watchSessionFiles(storageRoot, sessionID string, onChange func()) (StopWatch, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	messageDir := filepath.Join(storageRoot, "message", sessionID)
	partRoot := filepath.Join(storageRoot, "part")

	_ = watcher.Add(messageDir)
	_ = watcher.Add(partRoot)
	if entries, err := os.ReadDir(partRoot); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				_ = watcher.Add(filepath.Join(partRoot, e.Name()))
			}
		}
	}

	done := make(chan struct{})
	go debounceWatch(watcher, onChange, done)

	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}

// debounceWatch coalesces a burst of writes into a single onChange call.
// Part updates land under a fresh per-message subdirectory
// (part/<messageId>/<partId>.json); fsnotify does not watch recursively, so
// every directory fsnotify.Create under part/ is added to the watch as it
// appears, mirroring watchSessionRootLoop's handling of session/<projectId>.
func debounceWatch(watcher *fsnotify.Watcher, onChange func(), done chan struct{}) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(fileWatchDebounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(fileWatchDebounce)
			}
			timerC = timer.C
		case <-timerC:
			onChange()
			timer = nil
			timerC = nil
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// watchSessionsRoot watches session/<projectId>/ at depth 2 and reports
// session_created/session_updated/session_removed for every JSON file
// event, ignoring non-JSON paths.
func watchSessionsRoot(root string, cb adapter.WatchCallback) (adapter.StopWatch, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	_ = watcher.Add(root)
	if entries, err := os.ReadDir(root); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				_ = watcher.Add(filepath.Join(root, e.Name()))
			}
		}
	}

	done := make(chan struct{})
	go watchSessionRootLoop(watcher, cb, done)

	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}

func watchSessionRootLoop(watcher *fsnotify.Watcher, cb adapter.WatchCallback, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != ".json" {
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = watcher.Add(event.Name)
					}
				}
				continue
			}

			sessionID := strings.TrimSuffix(filepath.Base(event.Name), ".json")
			var eventType adapter.WatchEventType
			switch {
			case event.Op&fsnotify.Create != 0:
				eventType = adapter.WatchSessionCreated
			case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
				eventType = adapter.WatchSessionRemoved
			case event.Op&fsnotify.Write != 0:
				eventType = adapter.WatchSessionUpdated
			default:
				continue
			}

			cb(adapter.WatchEvent{Type: eventType, SessionID: sessionID, Agent: "opencode"})
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}
