package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find shield.toml in any config path")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
	ErrMissingToken          = errors.New("config is missing the bot token")
)

// CurrentVersion of the config file format.
const CurrentVersion = 1

// Config is the entire process configuration.
type Config struct {
	// Version of the config file.
	Version int     `koanf:"version"`
	Debug   Debug   `koanf:"debug"`
	Bot     Bot     `koanf:"bot"`
	Scanner Scanner `koanf:"scanner"`
	Archive Archive `koanf:"archive"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Maximum log sessions to keep.
	MaxLogsToKeep int `koanf:"max_logs_to_keep"`
}

// Bot contains Discord connection configuration.
type Bot struct {
	// Discord bot token for authentication.
	Token string `koanf:"token"`
}

// Scanner contains context-collection bounds.
type Scanner struct {
	// Maximum author messages kept in a behavior window.
	WindowMessages int `koanf:"window_messages"`
	// Lookback window in minutes.
	LookbackMinutes int `koanf:"lookback_minutes"`
	// Path to the guild policy database.
	PolicyDB string `koanf:"policy_db"`
}

// Lookback returns the lookback window as a duration.
func (s Scanner) Lookback() time.Duration {
	return time.Duration(s.LookbackMinutes) * time.Minute
}

// Archive selects and configures the evidence backend.
type Archive struct {
	Capture Capture `koanf:"capture"`
	Relay   Relay   `koanf:"relay"`
}

// Capture configures the external capture service backend.
type Capture struct {
	// Base URL of the capture service.
	ServerURL string `koanf:"server_url"`
	// Shared secret sent in the X-API-Key header.
	APIKey string `koanf:"api_key"`
}

// Relay configures the relay-channel backend.
type Relay struct {
	// Channel where evidence is re-posted.
	ChannelID uint64 `koanf:"channel_id"`
}

// LoadConfig loads shield.toml from the first config path that has one.
// Returns the config along with the used config directory.
func LoadConfig() (*Config, string, error) {
	k := koanf.New(".")

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get home directory: %w", err)
	}

	configPaths := []string{
		".shield",
		homeDir + "/.shield/config",
		"/etc/shield/config",
		"config",
		".",
	}

	var usedConfigPath string

	for _, path := range configPaths {
		if err := k.Load(file.Provider(path+"/shield.toml"), toml.Parser()); err == nil {
			usedConfigPath = path
			break
		}
	}

	if usedConfigPath == "" {
		return nil, "", ErrConfigFileNotFound
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Version != CurrentVersion {
		return nil, "", fmt.Errorf("%w: expected %d, got %d (see config/shield.toml in the repository for the current format)",
			ErrConfigVersionMismatch, CurrentVersion, config.Version)
	}

	if config.Bot.Token == "" {
		return nil, "", ErrMissingToken
	}

	config.applyDefaults()

	return &config, usedConfigPath, nil
}

func (c *Config) applyDefaults() {
	if c.Debug.LogLevel == "" {
		c.Debug.LogLevel = "info"
	}

	if c.Debug.MaxLogsToKeep == 0 {
		c.Debug.MaxLogsToKeep = 10
	}

	if c.Scanner.WindowMessages == 0 {
		c.Scanner.WindowMessages = 10
	}

	if c.Scanner.LookbackMinutes == 0 {
		c.Scanner.LookbackMinutes = 5
	}

	if c.Scanner.PolicyDB == "" {
		c.Scanner.PolicyDB = "shield.db"
	}
}
