package config

// Config is the main configuration carrier for the orchestrator process.
// Agent and profile definitions live in a separate hot-reloadable file, see
// the loader package.
type Config struct {
	App     AppConfig     `toml:"app"`
	Venue   VenueConfig   `toml:"venue"`
	Decider DeciderConfig `toml:"decider"`
	Notify  NotifyConfig  `toml:"notify"`
	Storage StorageConfig `toml:"storage"`
	Report  ReportConfig  `toml:"report"`
	Agents  AgentsConfig  `toml:"agents"`
}

type AppConfig struct {
	Env             string `toml:"env"`
	LogLevel        string `toml:"log_level"`
	LogPath         string `toml:"log_path"`
	DecisionLogPath string `toml:"decision_log_path"`
	DecisionDump    bool   `toml:"decision_dump_payload"`
}

type VenueConfig struct {
	Name    string        `toml:"name"` // "paper" or "binance"
	Binance BinanceConfig `toml:"binance"`
	Paper   PaperConfig   `toml:"paper"`
}

type BinanceConfig struct {
	APIKey         string `toml:"api_key"`
	APISecret      string `toml:"api_secret"`
	BaseURL        string `toml:"base_url"`
	ProxyURL       string `toml:"proxy_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type PaperConfig struct {
	Seed    int64              `toml:"seed"`
	Balance float64            `toml:"balance"`
	Prices  map[string]float64 `toml:"prices"`
	// SpecsPath optionally points at a YAML contract-spec catalog.
	SpecsPath string `toml:"specs_path"`
}

type DeciderConfig struct {
	BaseURL        string            `toml:"base_url"`
	APIKey         string            `toml:"api_key"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
	ExtraHeaders   map[string]string `toml:"extra_headers"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type StorageConfig struct {
	Path string `toml:"path"`
}

type ReportConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

type AgentsConfig struct {
	// Path points at the agent definitions file watched for hot reload.
	Path string `toml:"path"`
}
