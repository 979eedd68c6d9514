package session

import (
	"regexp"
	"strings"

	"github.com/ammujacic/agentap/internal/protocol"
)

// strippedTags are removed, paired or orphaned, before deriving a session
// name or truncating a last-message preview.
var strippedTags = []string{
	"system-reminder",
	"ide_opened_file",
	"ide_selection",
	"ide_context",
	"gitStatus",
	"command-name",
	"claudeMd",
}

const (
	sessionNameMaxLen = 100
	lastMessageMaxLen = 200
	truncationSuffix  = "..."
)

// StripAgentTags removes every paired (<tag>...</tag>) and orphaned (an
// unmatched open tag that consumes the remainder of the string) occurrence
// of a known noise tag, plus any antml: namespaced tag, and trims the result.
func StripAgentTags(text string) string {
	for _, tag := range strippedTags {
		text = stripTag(text, tag)
	}
	text = stripAntmlTags(text)
	return strings.TrimSpace(text)
}

func stripTag(text, tag string) string {
	paired := regexp.MustCompile(`(?s)<` + regexp.QuoteMeta(tag) + `[^>]*>.*?</` + regexp.QuoteMeta(tag) + `>`)
	text = paired.ReplaceAllString(text, "")

	orphaned := regexp.MustCompile(`(?s)<` + regexp.QuoteMeta(tag) + `[^>]*>.*$`)
	return orphaned.ReplaceAllString(text, "")
}

const antmlTagName = `antml:[A-Za-z0-9_]+`

var antmlPaired = regexp.MustCompile(`(?s)<(` + antmlTagName + `)(?:\s[^>]*)?>.*?</\s*` + antmlTagName + `\s*>`)
var antmlOrphan = regexp.MustCompile(`(?s)<` + antmlTagName + `(?:\s[^>]*)?>.*$`)

// stripAntmlTags removes any tag whose name starts with the "antml:" prefix,
// paired or orphaned, per spec.md §4.4.
func stripAntmlTags(text string) string {
	text = antmlPaired.ReplaceAllString(text, "")
	return antmlOrphan.ReplaceAllString(text, "")
}

func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max] + truncationSuffix
}

// DeriveSessionName extracts a session's display name from the first user
// message's text content, per spec.md §4.4. Returns "" if the message is
// tag-noise only (sessionName should stay unset in that case).
func DeriveSessionName(content []protocol.ContentBlock) string {
	var b strings.Builder
	for _, block := range content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	cleaned := StripAgentTags(b.String())
	if cleaned == "" {
		return ""
	}
	return truncate(cleaned, sessionNameMaxLen)
}

// DeriveLastMessage extracts the latest assistant text preview, truncated
// to 200 characters + "...".
func DeriveLastMessage(content []protocol.ContentBlock) string {
	for _, block := range content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			return truncate(block.Text, lastMessageMaxLen)
		}
	}
	return ""
}
