// Package app wires configuration into running services: storage,
// registry, venue connector, decision client, notifier, report server
// and one engine per active agent definition.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"tandem/internal/agent/engine"
	"tandem/internal/config"
	"tandem/internal/config/loader"
	"tandem/internal/gateway/decider"
	"tandem/internal/gateway/notifier"
	"tandem/internal/logger"
	"tandem/internal/registry"
	"tandem/internal/scheduler"
	"tandem/internal/store/gormstore"
	"tandem/internal/transport/http/report"
	"tandem/internal/venue"
)

// App owns the process-level dependency graph. Engines are rebuilt from
// the loader snapshot whenever the agent definitions file changes.
type App struct {
	cfg      *config.Config
	store    *gormstore.Store
	registry *registry.Registry
	venue    venue.Connector
	decider  *decider.Client
	notifier notifier.TextNotifier
	loader   *loader.AgentLoader
	report   *report.Server
}

// NewApp builds the application object without starting it.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildApp(cfg)
}

// Run starts the report server and the agent loops, blocking until the
// context is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.store.Close()

	group, ctx := errgroup.WithContext(ctx)

	if a.report != nil {
		group.Go(func() error {
			if err := a.report.Start(ctx); err != nil {
				return fmt.Errorf("report server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		return a.runAgents(ctx)
	})

	return group.Wait()
}

// runAgents runs one generation of engines per loader snapshot. A file
// change cancels the current generation and starts the next one with
// the fresh definitions; cycles already in flight finish on the old
// parameters.
func (a *App) runAgents(ctx context.Context) error {
	reload := make(chan struct{}, 1)
	a.loader.Subscribe(func(loader.Snapshot) {
		select {
		case reload <- struct{}{}:
		default:
		}
	})

	for {
		snap := a.loader.Snapshot()
		engines, err := a.buildEngines(snap)
		if err != nil {
			return err
		}
		logger.Infof("app: definitions v%d, running %d agents", snap.Version, len(engines))

		genCtx, cancel := context.WithCancel(ctx)
		group, groupCtx := errgroup.WithContext(genCtx)
		for _, eng := range engines {
			eng := eng
			group.Go(func() error {
				return eng.Run(groupCtx)
			})
		}

		select {
		case <-ctx.Done():
			cancel()
			if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		case <-reload:
			logger.Infof("app: agent definitions changed, restarting loops")
			cancel()
			if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		}
	}
}

func (a *App) buildEngines(snap loader.Snapshot) ([]*engine.Engine, error) {
	engines := make([]*engine.Engine, 0, len(snap.Agents))
	for name, def := range snap.Agents {
		if !def.Active() {
			logger.Infof("app: agent %s disabled, skipping", name)
			continue
		}
		window, err := scheduler.NewWindow(def.Window.Start, def.Window.End, def.Window.Zone, def.Window.BusinessDaysOnly)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", name, err)
		}
		engines = append(engines, engine.New(engine.Params{
			AgentID:        def.AgentID,
			ProfileID:      def.ProfileID,
			Instruments:    def.Instruments,
			Timeframe:      def.Timeframe,
			BarCount:       def.BarCount,
			DefaultRiskPct: def.RiskPct,
			Window:         window,
			SettleDelay:    time.Duration(def.SettleDelaySeconds) * time.Second,
			ReevalInterval: def.ReevalDuration(),
			Registry:       a.registry,
			Venue:          a.venue,
			Decider:        a.decider,
			Notifier:       a.notifier,
		}))
	}
	return engines, nil
}
