package detect

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"seclog/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const rulesJSON = `[
  {
    "enabled": true,
    "rule_name": "Brute Force",
    "description": "Multiple failed logons",
    "logfile": "Security",
    "conditions": {"event_id": 4625},
    "aggregation": {"time_window_minutes": 10, "threshold": 5}
  },
  {
    "enabled": false,
    "type": "threshold",
    "rule_name": "Audit Log Cleared",
    "description": "Security log was cleared",
    "logfile": "security",
    "conditions": {"event_id": "1102", "source": "Microsoft-Windows-Eventlog"},
    "aggregation": {"time_window_minutes": 60, "threshold": 1}
  },
  {
    "enabled": true,
    "type": "correlation",
    "rule_name": "Logon then Service Install",
    "description": "Failed logons followed by a new service",
    "time_window_minutes": 30,
    "steps": [
      {"logfile": "Security", "conditions": {"event_id": "4625"}, "threshold": 3},
      {"logfile": "System", "conditions": {"event_id": "7045"}}
    ]
  }
]`

func writeRules(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadRules_JSON(t *testing.T) {
	rs, issues := LoadRules(writeRules(t, "rules.json", rulesJSON), zap.NewNop().Sugar())
	assert.Empty(t, issues)
	require.Len(t, rs.Threshold, 2)
	require.Len(t, rs.Correlation, 1)

	bf := rs.Threshold[0]
	assert.Equal(t, "Brute Force", bf.Name)
	assert.True(t, bf.Enabled)
	assert.Equal(t, core.LogfileSecurity, bf.Logfile)
	assert.Equal(t, core.Conditions{"event_id": "4625"}, bf.Conditions, "numeric values are stringified")
	assert.Equal(t, 10*time.Minute, bf.TimeWindow)
	assert.Equal(t, 5, bf.Threshold)

	assert.False(t, rs.Threshold[1].Enabled)
	assert.Equal(t, core.LogfileSecurity, rs.Threshold[1].Logfile)

	corr := rs.Correlation[0]
	assert.Equal(t, 30*time.Minute, corr.TimeWindow)
	require.Len(t, corr.Steps, 2)
	assert.Equal(t, 3, corr.Steps[0].Threshold)
	assert.Equal(t, 1, corr.Steps[1].Threshold, "step threshold defaults to 1")
	assert.Equal(t, core.LogfileSystem, corr.Steps[1].Logfile)

	th, co := rs.Enabled()
	assert.Equal(t, 1, th)
	assert.Equal(t, 1, co)
	assert.True(t, rs.Has("Audit Log Cleared"))
}

func TestLoadRules_YAML(t *testing.T) {
	content := `
- enabled: true
  rule_name: Service Stopped
  description: A service stopped unexpectedly
  logfile: System
  conditions:
    event_id: 7034
  aggregation:
    time_window_minutes: 5
    threshold: 2
- enabled: true
  type: correlation
  rule_name: Crash Loop
  time_window_minutes: 15
  steps:
    - logfile: Application
      conditions: {event_id: "1000"}
      threshold: 2
`
	rs, issues := LoadRules(writeRules(t, "rules.yaml", content), zap.NewNop().Sugar())
	assert.Empty(t, issues)
	require.Len(t, rs.Threshold, 1)
	assert.Equal(t, core.Conditions{"event_id": "7034"}, rs.Threshold[0].Conditions)
	require.Len(t, rs.Correlation, 1)
	assert.Equal(t, 2, rs.Correlation[0].Steps[0].Threshold)
}

func TestLoadRules_MissingOrMalformedFile(t *testing.T) {
	rs, issues := LoadRules(filepath.Join(t.TempDir(), "absent.json"), zap.NewNop().Sugar())
	assert.Zero(t, rs.Len())
	require.Len(t, issues, 1)
	assert.Equal(t, -1, issues[0].Index)

	rs, issues = LoadRules(writeRules(t, "rules.json", `[{"rule_name": `), zap.NewNop().Sugar())
	assert.Zero(t, rs.Len())
	require.Len(t, issues, 1)

	rs, _ = LoadRules(writeRules(t, "rules.json", `{"rule_name": "not an array"}`), zap.NewNop().Sugar())
	assert.Zero(t, rs.Len())
}

func TestParseRules_DropsInvalidRules(t *testing.T) {
	testCases := []struct {
		name string
		rule string
	}{
		{"missing rule_name", `{"logfile": "Security", "aggregation": {"time_window_minutes": 1, "threshold": 1}}`},
		{"missing aggregation", `{"rule_name": "x", "logfile": "Security"}`},
		{"zero threshold", `{"rule_name": "x", "logfile": "Security", "aggregation": {"time_window_minutes": 1, "threshold": 0}}`},
		{"fractional window", `{"rule_name": "x", "logfile": "Security", "aggregation": {"time_window_minutes": 1.5, "threshold": 1}}`},
		{"unknown condition field", `{"rule_name": "x", "logfile": "Security", "conditions": {"user": "bob"}, "aggregation": {"time_window_minutes": 1, "threshold": 1}}`},
		{"nested condition value", `{"rule_name": "x", "logfile": "Security", "conditions": {"event_id": ["1", "2"]}, "aggregation": {"time_window_minutes": 1, "threshold": 1}}`},
		{"correlation without steps", `{"type": "correlation", "rule_name": "x", "time_window_minutes": 5, "steps": []}`},
		{"correlation step without logfile", `{"type": "correlation", "rule_name": "x", "time_window_minutes": 5, "steps": [{"conditions": {}}]}`},
		{"window too long", `{"rule_name": "x", "logfile": "Security", "aggregation": {"time_window_minutes": 20000, "threshold": 1}}`},
		{"not an object", `"rule"`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			valid := `{"enabled": true, "rule_name": "ok", "logfile": "Security", "aggregation": {"time_window_minutes": 1, "threshold": 1}}`
			rs, issues := ParseRules([]byte("["+tc.rule+","+valid+"]"), false)
			require.Len(t, issues, 1)
			assert.Equal(t, 0, issues[0].Index)
			require.Len(t, rs.Threshold, 1, "the valid rule survives")
			assert.Equal(t, "ok", rs.Threshold[0].Name)
		})
	}
}

func TestParseRules_DuplicateNames(t *testing.T) {
	rule := `{"enabled": true, "rule_name": "dup", "logfile": "Security", "aggregation": {"time_window_minutes": 1, "threshold": 1}}`
	rs, issues := ParseRules([]byte("["+rule+","+rule+"]"), false)
	assert.Len(t, rs.Threshold, 1)
	require.Len(t, issues, 1)
	assert.Equal(t, "rule 1 (dup): duplicate rule_name", issues[0].String())
}
