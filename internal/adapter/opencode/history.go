package opencode

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// listJSONFilesSorted returns the base names (without extension) of every
// *.json file directly under dir, sorted lexicographically — OpenCode's
// own file IDs are time-ordered, which this relies on without
// re-verification (an accepted, documented risk).
func listJSONFilesSorted(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// loadMessage reads message/<sessionId>/<messageId>.json. Unreadable or
// malformed files are reported as an error for the caller to skip silently.
func loadMessage(storageRoot, sessionID, messageID string) (messageRecord, error) {
	var m messageRecord
	path := filepath.Join(storageRoot, "message", sessionID, messageID+".json")
	err := readJSON(path, &m)
	return m, err
}

// loadParts reads every part/<messageId>/*.json file for one message,
// sorted lexicographically. Unreadable or malformed part files are skipped
// silently rather than aborting the whole message.
func loadParts(storageRoot, messageID string) []partRecord {
	dir := filepath.Join(storageRoot, "part", messageID)
	names, err := listJSONFilesSorted(dir)
	if err != nil {
		return nil
	}

	parts := make([]partRecord, 0, len(names))
	for _, name := range names {
		var p partRecord
		if err := readJSON(filepath.Join(dir, name+".json"), &p); err != nil {
			continue
		}
		parts = append(parts, p)
	}
	return parts
}

// loadSessionHistory enumerates message/<sessionId>/*.json in order and
// returns each (message, parts) pair for projection.
func loadSessionHistory(storageRoot, sessionID string) ([]historyEntry, error) {
	dir := filepath.Join(storageRoot, "message", sessionID)
	names, err := listJSONFilesSorted(dir)
	if err != nil {
		return nil, err
	}

	entries := make([]historyEntry, 0, len(names))
	for _, messageID := range names {
		msg, err := loadMessage(storageRoot, sessionID, messageID)
		if err != nil {
			continue
		}
		entries = append(entries, historyEntry{
			Message: msg,
			Parts:   loadParts(storageRoot, messageID),
		})
	}
	return entries, nil
}

type historyEntry struct {
	Message messageRecord
	Parts   []partRecord
}
