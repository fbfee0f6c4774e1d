package config

const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppLogPath      = "data/logs/tandem.log"
	defaultDecisionLogPath = "data/logs/tandem-decisions.log"
	defaultVenueName       = "paper"
	defaultBinanceREST     = "https://fapi.binance.com"
	defaultBinanceTimeout  = 15
	defaultPaperBalance    = 10000
	defaultDeciderTimeout  = 60
	defaultStoragePath     = "data/db/tandem.db"
	defaultReportAddr      = ":9981"
	defaultAgentsPath      = "configs/agents.yaml"
)

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = defaultAppEnv
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = defaultAppLogLevel
	}
	if c.App.LogPath == "" {
		c.App.LogPath = defaultAppLogPath
	}
	if c.App.DecisionLogPath == "" {
		c.App.DecisionLogPath = defaultDecisionLogPath
	}
	if c.Venue.Name == "" {
		c.Venue.Name = defaultVenueName
	}
	if c.Venue.Binance.BaseURL == "" {
		c.Venue.Binance.BaseURL = defaultBinanceREST
	}
	if c.Venue.Binance.TimeoutSeconds <= 0 {
		c.Venue.Binance.TimeoutSeconds = defaultBinanceTimeout
	}
	if c.Venue.Paper.Balance <= 0 {
		c.Venue.Paper.Balance = defaultPaperBalance
	}
	if c.Decider.TimeoutSeconds <= 0 {
		c.Decider.TimeoutSeconds = defaultDeciderTimeout
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath
	}
	if c.Report.Addr == "" {
		c.Report.Addr = defaultReportAddr
	}
	if c.Agents.Path == "" {
		c.Agents.Path = defaultAgentsPath
	}
}
