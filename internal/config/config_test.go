package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
decider:
  base_url: http://decider:9000
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "paper", cfg.Venue.Name)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, 60, cfg.Decider.TimeoutSeconds)
	assert.Equal(t, ":9981", cfg.Report.Addr)
	assert.Equal(t, 10000.0, cfg.Venue.Paper.Balance)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
app:
  log_level: debug
decider:
  base_url: http://base:9000
`)
	path := writeFile(t, dir, "config.yaml", `
include:
  - base.yaml
decider:
  base_url: http://override:9000
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	// The including file wins over the fragment.
	assert.Equal(t, "http://override:9000", cfg.Decider.BaseURL)
	assert.Equal(t, "debug", cfg.App.LogLevel)
}

func TestLoadRejectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	path := writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	dir := t.TempDir()

	path := writeFile(t, dir, "noventure.yaml", `
venue:
  name: kraken
decider:
  base_url: http://d:9000
`)
	_, err := Load(path)
	assert.Error(t, err)

	path = writeFile(t, dir, "nodecider.yaml", `
venue:
  name: paper
`)
	_, err = Load(path)
	assert.Error(t, err)

	path = writeFile(t, dir, "binance-nokeys.yaml", `
venue:
  name: binance
decider:
  base_url: http://d:9000
`)
	_, err = Load(path)
	assert.Error(t, err)

	path = writeFile(t, dir, "tg.yaml", `
decider:
  base_url: http://d:9000
notify:
  telegram:
    enabled: true
`)
	_, err = Load(path)
	assert.Error(t, err)
}
