package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ammujacic/agentap/internal/protocol"
)

func TestDeriveSessionNamePairedTagStripped(t *testing.T) {
	content := []protocol.ContentBlock{
		{Type: "text", Text: "<system-reminder>ctx</system-reminder>Hello"},
	}
	require.Equal(t, "Hello", DeriveSessionName(content))
}

func TestDeriveSessionNameOrphanTagYieldsEmpty(t *testing.T) {
	content := []protocol.ContentBlock{
		{Type: "text", Text: "<system-reminder>ctx"},
	}
	require.Equal(t, "", DeriveSessionName(content))
}

func TestDeriveSessionNameTruncatesAt100(t *testing.T) {
	content := []protocol.ContentBlock{
		{Type: "text", Text: strings.Repeat("A", 150)},
	}
	require.Equal(t, strings.Repeat("A", 100)+"...", DeriveSessionName(content))
}

func TestDeriveLastMessageTruncatesAt200(t *testing.T) {
	content := []protocol.ContentBlock{
		{Type: "text", Text: strings.Repeat("B", 250)},
	}
	require.Equal(t, strings.Repeat("B", 200)+"...", DeriveLastMessage(content))
}

func TestStripAgentTagsHandlesAntmlNamespace(t *testing.T) {
	got := StripAgentTags(`<antml:invoke name="bash">x</antml:invoke>keep me`)
	require.Equal(t, "keep me", got)
}

func TestStripAgentTagsHandlesAllListedTags(t *testing.T) {
	input := "<ide_opened_file>foo</ide_opened_file>" +
		"<ide_selection>a</ide_selection>" +
		"<gitStatus>clean</gitStatus>" +
		"<command-name>/x</command-name>" +
		"<claudeMd>notes</claudeMd>" +
		"<ide_context>c</ide_context>real content"
	require.Equal(t, "real content", StripAgentTags(input))
}
