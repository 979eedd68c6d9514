package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAssessRiskShellDestructiveIsCritical(t *testing.T) {
	risk := AssessRisk("bash", map[string]any{"command": "sudo rm -rf /"}, "/proj")
	require.Equal(t, RiskCritical, risk)
}

func TestAssessRiskBareDDWithoutIfIsCritical(t *testing.T) {
	risk := AssessRisk("bash", map[string]any{"command": "dd of=/dev/sda bs=1M"}, "/proj")
	require.Equal(t, RiskCritical, risk)
}

func TestAssessRiskShellOrdinaryIsHigh(t *testing.T) {
	risk := AssessRisk("bash", map[string]any{"command": "ls -la"}, "/proj")
	require.Equal(t, RiskHigh, risk)
}

func TestAssessRiskWriteInsideRootIsMedium(t *testing.T) {
	risk := AssessRisk("write", map[string]any{"path": "/proj/main.go"}, "/proj")
	require.Equal(t, RiskMedium, risk)
}

func TestAssessRiskWriteOutsideRootIsHigh(t *testing.T) {
	risk := AssessRisk("write", map[string]any{"path": "/etc/passwd"}, "/proj")
	require.Equal(t, RiskHigh, risk)
}

func TestAssessRiskReadIsLow(t *testing.T) {
	risk := AssessRisk("read", map[string]any{"path": "/proj/main.go"}, "/proj")
	require.Equal(t, RiskLow, risk)
}

func TestCategorizeToolKnownPrefixes(t *testing.T) {
	cases := map[string]ToolCategory{
		"bash":       CategoryExecute,
		"Read":       CategoryRead,
		"write":      CategoryWrite,
		"webfetch":   CategoryNetwork,
		"grep":       CategorySearch,
		"mysterious": CategoryOther,
	}
	for name, want := range cases {
		require.Equal(t, want, CategorizeTool(name), name)
	}
}

func TestDescribeToolCallNeverPanics(t *testing.T) {
	require.NotPanics(t, func() {
		DescribeToolCall("bash", nil)
		DescribeToolCall("write", map[string]any{})
	})
}
