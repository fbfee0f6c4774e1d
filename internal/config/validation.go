package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	switch strings.ToLower(c.Venue.Name) {
	case "paper":
	case "binance":
		if c.Venue.Binance.APIKey == "" || c.Venue.Binance.APISecret == "" {
			return fmt.Errorf("config: venue binance requires api_key and api_secret")
		}
	default:
		return fmt.Errorf("config: unknown venue %q", c.Venue.Name)
	}
	if c.Decider.BaseURL == "" {
		return fmt.Errorf("config: decider.base_url is required")
	}
	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "" {
			return fmt.Errorf("config: telegram enabled but bot_token or chat_id missing")
		}
	}
	switch strings.ToLower(c.App.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.App.LogLevel)
	}
	return nil
}
