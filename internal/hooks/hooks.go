// Package hooks installs small forwarding scripts into each supported
// agent's own configuration so tool-approval prompts are escalated through
// this daemon's long-poll endpoint instead of the agent's native prompt.
package hooks

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/ammujacic/agentap/internal/common/logger"
)

//go:embed assets/pre-tool-use.sh assets/agentap-plugin.js
var assetsFS embed.FS

const (
	preToolUseMatcher = "Bash|Write|Edit|NotebookEdit"
	preToolUseAsset   = "assets/pre-tool-use.sh"
	openCodePlugin    = "assets/agentap-plugin.js"
)

// InstallClaudeCode copies the bundled pre-tool-use.sh into
// <configDir>/hooks/ and merges a PreToolUse hook entry into the user's
// ~/.claude/settings.json that points at it. A read-only filesystem logs
// at info and does not return an error, per the daemon's "no single
// integration failure blocks startup" policy.
func InstallClaudeCode(configDir, home string, log *logger.Logger) error {
	scriptPath, err := writeScript(configDir)
	if err != nil {
		if isReadOnly(err) {
			log.Info("claude code hook install skipped: read-only filesystem", zap.Error(err))
			return nil
		}
		return fmt.Errorf("write pre-tool-use script: %w", err)
	}

	settingsPath := filepath.Join(home, ".claude", "settings.json")
	if err := mergeClaudeSettings(settingsPath, scriptPath); err != nil {
		if isReadOnly(err) {
			log.Info("claude code settings merge skipped: read-only filesystem", zap.Error(err))
			return nil
		}
		return fmt.Errorf("merge claude settings: %w", err)
	}
	return nil
}

// isReadOnly reports whether err means the location cannot be written: a
// permission error or a read-only filesystem.
func isReadOnly(err error) bool {
	return os.IsPermission(err) || errors.Is(err, syscall.EROFS)
}

// writeScript copies the embedded pre-tool-use.sh into <configDir>/hooks/
// and marks it executable, returning its final path.
func writeScript(configDir string) (string, error) {
	hooksDir := filepath.Join(configDir, "hooks")
	if err := os.MkdirAll(hooksDir, 0o755); err != nil {
		return "", err
	}

	data, err := assetsFS.ReadFile(preToolUseAsset)
	if err != nil {
		return "", fmt.Errorf("read embedded hook script: %w", err)
	}

	scriptPath := filepath.Join(hooksDir, "pre-tool-use.sh")
	if err := os.WriteFile(scriptPath, data, 0o755); err != nil {
		return "", err
	}
	return scriptPath, nil
}

// claudeHookCommand is one entry in a PreToolUse matcher group's hooks list.
type claudeHookCommand struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// claudeHookGroup is one PreToolUse matcher group.
type claudeHookGroup struct {
	Matcher string              `json:"matcher"`
	Hooks   []claudeHookCommand `json:"hooks"`
}

// mergeClaudeSettings rewrites settingsPath's "hooks.PreToolUse" list so it
// contains an entry pointing at scriptPath with the correct matcher,
// preserving every other top-level key untouched. If an existing entry
// references our script with the overly-broad matcher ".*", it is
// repaired in place rather than duplicated.
func mergeClaudeSettings(settingsPath, scriptPath string) error {
	settings, err := readSettings(settingsPath)
	if err != nil {
		return err
	}

	hooksSection, _ := settings["hooks"].(map[string]any)
	if hooksSection == nil {
		hooksSection = map[string]any{}
	}

	groups := decodePreToolUse(hooksSection["PreToolUse"])

	found := false
	for i, group := range groups {
		if !groupReferencesScript(group, scriptPath) {
			continue
		}
		found = true
		if group.Matcher == ".*" {
			groups[i].Matcher = preToolUseMatcher
		}
	}

	if !found {
		groups = append(groups, claudeHookGroup{
			Matcher: preToolUseMatcher,
			Hooks:   []claudeHookCommand{{Type: "command", Command: scriptPath}},
		})
	}

	hooksSection["PreToolUse"] = groups
	settings["hooks"] = hooksSection

	return writeSettings(settingsPath, settings)
}

func groupReferencesScript(group claudeHookGroup, scriptPath string) bool {
	for _, cmd := range group.Hooks {
		if cmd.Command == scriptPath {
			return true
		}
	}
	return false
}

// decodePreToolUse re-decodes the raw "PreToolUse" value (present as
// []any after a generic json.Unmarshal) into typed hook groups, discarding
// anything malformed rather than failing the merge.
func decodePreToolUse(raw any) []claudeHookGroup {
	if raw == nil {
		return nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var groups []claudeHookGroup
	if err := json.Unmarshal(encoded, &groups); err != nil {
		return nil
	}
	return groups
}

func readSettings(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parse existing settings.json: %w", err)
	}
	return settings, nil
}

func writeSettings(path string, settings map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings.json: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// InstallOpenCode copies the bundled agentap-plugin.js into
// ~/.config/opencode/plugins/, always overwriting any previous copy.
func InstallOpenCode(home string, log *logger.Logger) error {
	pluginDir := filepath.Join(home, ".config", "opencode", "plugins")
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		if isReadOnly(err) {
			log.Info("opencode plugin install skipped: read-only filesystem", zap.Error(err))
			return nil
		}
		return fmt.Errorf("create opencode plugin dir: %w", err)
	}

	data, err := assetsFS.ReadFile(openCodePlugin)
	if err != nil {
		return fmt.Errorf("read embedded opencode plugin: %w", err)
	}

	pluginPath := filepath.Join(pluginDir, "agentap-plugin.js")
	if err := os.WriteFile(pluginPath, data, 0o644); err != nil {
		if isReadOnly(err) {
			log.Info("opencode plugin install skipped: read-only filesystem", zap.Error(err))
			return nil
		}
		return fmt.Errorf("write opencode plugin: %w", err)
	}
	return nil
}
