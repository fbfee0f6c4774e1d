package loader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const agentsYAML = `
agents:
  london-momentum:
    agent_id: 3
    profile_id: 7
    instruments: [eurusd, " xauusd "]
    timeframe: 1h
    bar_count: 240
    risk_pct: 2
    window:
      start: "08:00"
      end: "17:00"
      zone: Europe/London
      business_days_only: true
    settle_delay_seconds: 20
    reeval_interval: 15m
  disabled-agent:
    agent_id: 4
    profile_id: 1
    instruments: [eurusd]
    enabled: false
`

func writeAgents(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoaderNormalizesDefinitions(t *testing.T) {
	l, err := NewAgentLoader(writeAgents(t, agentsYAML))
	require.NoError(t, err)

	snap := l.Snapshot()
	require.Len(t, snap.Agents, 2)

	def := snap.Agents["london-momentum"]
	assert.Equal(t, "london-momentum", def.Name)
	assert.Equal(t, []string{"EURUSD", "XAUUSD"}, def.Instruments)
	assert.Equal(t, 240, def.BarCount)
	assert.Equal(t, 15*time.Minute, def.ReevalDuration())
	assert.True(t, def.Active())
	assert.True(t, def.Window.BusinessDaysOnly)

	assert.False(t, snap.Agents["disabled-agent"].Active())
}

func TestLoaderDefaults(t *testing.T) {
	l, err := NewAgentLoader(writeAgents(t, `
agents:
  minimal:
    agent_id: 1
    profile_id: 1
    instruments: [eurusd]
`))
	require.NoError(t, err)
	def := l.Snapshot().Agents["minimal"]
	assert.Equal(t, "1h", def.Timeframe)
	assert.Equal(t, 200, def.BarCount)
	assert.Equal(t, 1.0, def.RiskPct)
	assert.Equal(t, "00:00", def.Window.Start)
	assert.Equal(t, "23:59", def.Window.End)
	assert.Equal(t, "UTC", def.Window.Zone)
	assert.Equal(t, 15*time.Minute, def.ReevalDuration())
}

func TestLoaderRejectsBadDefinitions(t *testing.T) {
	_, err := NewAgentLoader(writeAgents(t, `
agents:
  broken:
    agent_id: 0
    profile_id: 1
    instruments: [eurusd]
`))
	assert.Error(t, err)

	_, err = NewAgentLoader(writeAgents(t, `
agents:
  empty:
    agent_id: 1
    profile_id: 1
    instruments: []
`))
	assert.Error(t, err)

	_, err = NewAgentLoader("")
	assert.Error(t, err)
}

func TestSnapshotIsolation(t *testing.T) {
	l, err := NewAgentLoader(writeAgents(t, agentsYAML))
	require.NoError(t, err)

	a := l.Snapshot()
	a.Agents["london-momentum"] = AgentDefinition{Name: "mutated"}
	b := l.Snapshot()
	assert.Equal(t, "london-momentum", b.Agents["london-momentum"].Name)
}
