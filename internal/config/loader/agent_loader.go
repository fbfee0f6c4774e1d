// Package loader reads the agent definitions file and watches it for
// changes. A reload swaps the snapshot atomically; running cycles keep
// their old parameters and the new snapshot takes effect from the next
// rebuild.
package loader

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"tandem/internal/logger"
	"tandem/internal/scheduler"
)

// WindowSpec mirrors the trading-window fields of one agent definition.
type WindowSpec struct {
	Start            string `mapstructure:"start"`
	End              string `mapstructure:"end"`
	Zone             string `mapstructure:"zone"`
	BusinessDaysOnly bool   `mapstructure:"business_days_only"`
}

// AgentDefinition describes one agent+profile pair and its instruments.
type AgentDefinition struct {
	Name               string     `mapstructure:"-"`
	AgentID            int        `mapstructure:"agent_id"`
	ProfileID          int        `mapstructure:"profile_id"`
	Instruments        []string   `mapstructure:"instruments"`
	Timeframe          string     `mapstructure:"timeframe"`
	BarCount           int        `mapstructure:"bar_count"`
	RiskPct            float64    `mapstructure:"risk_pct"`
	Window             WindowSpec `mapstructure:"window"`
	SettleDelaySeconds int        `mapstructure:"settle_delay_seconds"`
	ReevalInterval     string     `mapstructure:"reeval_interval"`
	Enabled            *bool      `mapstructure:"enabled"`
}

// Active reports whether the agent should run; absent means enabled.
func (d AgentDefinition) Active() bool { return d.Enabled == nil || *d.Enabled }

// ReevalDuration parses the re-decision interval, defaulting to 15m.
func (d AgentDefinition) ReevalDuration() time.Duration {
	if dur, ok := scheduler.ParseIntervalDuration(d.ReevalInterval); ok {
		return dur
	}
	return 15 * time.Minute
}

type fileConfig struct {
	Agents map[string]AgentDefinition `mapstructure:"agents"`
}

// Snapshot is an immutable view of the definitions file.
type Snapshot struct {
	Version  int
	LoadedAt time.Time
	Agents   map[string]AgentDefinition
}

// ChangeListener is invoked with the fresh snapshot after a reload.
type ChangeListener func(Snapshot)

// AgentLoader loads the file and pushes snapshots on change.
type AgentLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

func NewAgentLoader(path string) (*AgentLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("loader: agent loader requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("loader: read agents config failed: %w", err)
	}
	l := &AgentLoader{path: path, v: v}
	if err := l.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := l.reload(); err != nil {
			logger.Errorf("loader: agents reload failed (%s): %v", evt.Name, err)
			return
		}
		l.notify()
	})
	v.WatchConfig()
	return l, nil
}

// Snapshot returns the current definitions (deep copy).
func (l *AgentLoader) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Subscribe registers a listener for future reloads.
func (l *AgentLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

func (l *AgentLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("loader: agents listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func (l *AgentLoader) reload() error {
	var fileCfg fileConfig
	if err := l.v.Unmarshal(&fileCfg); err != nil {
		return fmt.Errorf("loader: parse agents config failed: %w", err)
	}
	normalized := make(map[string]AgentDefinition, len(fileCfg.Agents))
	for name, def := range fileCfg.Agents {
		norm, err := normalizeDefinition(name, def)
		if err != nil {
			return err
		}
		normalized[name] = norm
	}
	l.mu.Lock()
	l.snapshot = Snapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Agents:   normalized,
	}
	l.mu.Unlock()
	logger.Infof("loader: loaded %d agents from %s", len(normalized), filepath.Base(l.path))
	return nil
}

func normalizeDefinition(name string, def AgentDefinition) (AgentDefinition, error) {
	def.Name = name
	if def.AgentID <= 0 || def.ProfileID <= 0 {
		return def, fmt.Errorf("loader: agent %q needs positive agent_id and profile_id", name)
	}
	instruments := make([]string, 0, len(def.Instruments))
	for _, in := range def.Instruments {
		if in = strings.ToUpper(strings.TrimSpace(in)); in != "" {
			instruments = append(instruments, in)
		}
	}
	if len(instruments) == 0 {
		return def, fmt.Errorf("loader: agent %q has no instruments", name)
	}
	def.Instruments = instruments
	if def.Timeframe == "" {
		def.Timeframe = "1h"
	}
	if def.BarCount <= 0 {
		def.BarCount = 200
	}
	if def.RiskPct <= 0 {
		def.RiskPct = 1
	}
	if def.Window.Start == "" {
		def.Window.Start = "00:00"
	}
	if def.Window.End == "" {
		def.Window.End = "23:59"
	}
	if def.Window.Zone == "" {
		def.Window.Zone = "UTC"
	}
	if def.SettleDelaySeconds < 0 {
		def.SettleDelaySeconds = 0
	}
	return def, nil
}

func cloneSnapshot(src Snapshot) Snapshot {
	out := Snapshot{Version: src.Version, LoadedAt: src.LoadedAt, Agents: make(map[string]AgentDefinition, len(src.Agents))}
	for name, def := range src.Agents {
		def.Instruments = append([]string(nil), def.Instruments...)
		out.Agents[name] = def
	}
	return out
}
