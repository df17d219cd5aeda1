// Package config loads the daemon's TOML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full daemon configuration.
type Config struct {
	API    APIConfig    `toml:"api"`
	World  WorldConfig  `toml:"world"`
	Settle SettleConfig `toml:"settle"`
	Chain  ChainConfig  `toml:"chain"`
	DB     DBConfig     `toml:"db"`
}

type APIConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	AdminKey string `toml:"admin_key"` // empty disables admin endpoints
}

type WorldConfig struct {
	Seed             int64   `toml:"seed"`
	TickInterval     string  `toml:"tick_interval"`
	Speed            float64 `toml:"speed"`
	CityTaxRate      float64 `toml:"city_tax_rate"`
	PlatformFeePct   float64 `toml:"platform_fee_pct"`
	RevivalThreshold float64 `toml:"revival_threshold"`
}

type SettleConfig struct {
	MaxRetries       int    `toml:"max_retries"`
	BackoffBase      string `toml:"backoff_base"`
	StalenessWindow  string `toml:"staleness_window"`
	WorkerPoll       string `toml:"worker_poll"`
	DepositPoll      string `toml:"deposit_poll"`
	RequeueBatchSize int    `toml:"requeue_batch_size"`
}

type ChainConfig struct {
	Enabled  bool    `toml:"enabled"`
	Endpoint string  `toml:"endpoint"`
	APIKey   string  `toml:"api_key"`
	RPS      float64 `toml:"rps"`
}

type DBConfig struct {
	Path string `toml:"path"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8480,
		},
		World: WorldConfig{
			Seed:             42,
			TickInterval:     "1s",
			Speed:            1.0,
			CityTaxRate:      0.08,
			PlatformFeePct:   0.05,
			RevivalThreshold: 100,
		},
		Settle: SettleConfig{
			MaxRetries:       5,
			BackoffBase:      "500ms",
			StalenessWindow:  "5m",
			WorkerPoll:       "2s",
			DepositPoll:      "5s",
			RequeueBatchSize: 50,
		},
		Chain: ChainConfig{
			Enabled: false,
			RPS:     5,
		},
		DB: DBConfig{
			Path: "data/economy.db",
		},
	}
}

// Load reads a TOML file over the defaults. A missing file returns
// the defaults without error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// Duration parses a config duration string with a fallback.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
