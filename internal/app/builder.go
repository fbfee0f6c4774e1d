package app

import (
	"fmt"
	"time"

	"tandem/internal/config"
	"tandem/internal/config/loader"
	"tandem/internal/gateway/decider"
	"tandem/internal/gateway/notifier"
	"tandem/internal/logger"
	"tandem/internal/registry"
	"tandem/internal/store/gormstore"
	"tandem/internal/transport/http/report"
	"tandem/internal/venue"
	"tandem/internal/venue/binance"
	"tandem/internal/venue/paper"
)

func buildApp(cfg *config.Config) (*App, error) {
	st, err := gormstore.NewStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	conn, err := buildVenue(cfg.Venue)
	if err != nil {
		st.Close()
		return nil, err
	}

	agentLoader, err := loader.NewAgentLoader(cfg.Agents.Path)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load agent definitions: %w", err)
	}

	a := &App{
		cfg:      cfg,
		store:    st,
		registry: registry.New(st),
		venue:    conn,
		loader:   agentLoader,
		notifier: buildNotifier(cfg.Notify),
		decider: decider.NewClient(decider.Options{
			BaseURL:      cfg.Decider.BaseURL,
			APIKey:       cfg.Decider.APIKey,
			Timeout:      time.Duration(cfg.Decider.TimeoutSeconds) * time.Second,
			ExtraHeaders: cfg.Decider.ExtraHeaders,
			Sink:         st,
		}),
	}

	if cfg.Report.Enabled {
		srv, err := report.NewServer(cfg.Report.Addr, st)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("report server: %w", err)
		}
		a.report = srv
	}
	return a, nil
}

func buildVenue(cfg config.VenueConfig) (venue.Connector, error) {
	switch cfg.Name {
	case "paper":
		specs := make(map[string]venue.InstrumentSpec, len(cfg.Paper.Prices))
		for instrument := range cfg.Paper.Prices {
			specs[instrument] = paper.DefaultSpec(instrument)
		}
		if cfg.Paper.SpecsPath != "" {
			loaded, err := paper.LoadSpecs(cfg.Paper.SpecsPath)
			if err != nil {
				return nil, err
			}
			for instrument, spec := range loaded {
				specs[instrument] = spec
			}
		}
		return paper.New(paper.Options{
			Seed:    cfg.Paper.Seed,
			Balance: cfg.Paper.Balance,
			Prices:  cfg.Paper.Prices,
			Specs:   specs,
		}), nil
	case "binance":
		return binance.New(binance.Config{
			APIKey:      cfg.Binance.APIKey,
			APISecret:   cfg.Binance.APISecret,
			BaseURL:     cfg.Binance.BaseURL,
			ProxyURL:    cfg.Binance.ProxyURL,
			HTTPTimeout: time.Duration(cfg.Binance.TimeoutSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("unknown venue %q", cfg.Name)
	}
}

func buildNotifier(cfg config.NotifyConfig) notifier.TextNotifier {
	if cfg.Telegram.Enabled {
		logger.Infof("app: telegram notifications enabled for chat %s", cfg.Telegram.ChatID)
		return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}
	return notifier.Noop{}
}
