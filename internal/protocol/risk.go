package protocol

import (
	"path/filepath"
	"regexp"
	"strings"
)

// destructiveCommand matches shell invocations this daemon always treats as
// critical risk, regardless of project boundaries.
var destructiveCommand = regexp.MustCompile(`(?i)\b(?:rm\s+-rf|sudo|mkfs)\b|\bdd\s+|:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`)

// AssessRisk classifies a tool invocation into one of four risk levels.
// The rule table is deterministic and documented, per spec.md §4.1:
//
//  1. A shell/execute-category tool whose command matches a known
//     destructive pattern (rm -rf, sudo, mkfs, dd, fork bombs) is critical.
//  2. Any other execute-category tool, any network-category tool, or a
//     write/edit outside the project root, is high.
//  3. A write/edit inside the project root is medium.
//  4. A read or search category tool is low.
//  5. Anything that doesn't classify is medium, failing safe.
func AssessRisk(toolName string, input map[string]any, projectRoot string) RiskLevel {
	category := CategorizeTool(toolName)

	if category == CategoryExecute {
		if command, ok := stringField(input, "command"); ok && destructiveCommand.MatchString(command) {
			return RiskCritical
		}
		return RiskHigh
	}

	if category == CategoryNetwork {
		return RiskHigh
	}

	if category == CategoryWrite {
		if path, ok := stringField(input, "path", "file_path", "filePath"); ok {
			if isOutsideRoot(path, projectRoot) {
				return RiskHigh
			}
		}
		return RiskMedium
	}

	if category == CategoryRead || category == CategorySearch {
		return RiskLow
	}

	return RiskMedium
}

func stringField(input map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := input[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func isOutsideRoot(path, root string) bool {
	if root == "" || !filepath.IsAbs(path) {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return true
	}
	return strings.HasPrefix(rel, "..")
}
