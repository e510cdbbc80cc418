package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// RelayConfig configures the signaling relay.
type RelayConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed-origins"`
	HistoryLimit   int      `mapstructure:"history-limit"`
	RateLimit      float64  `mapstructure:"rate-limit"`
	RateBurst      int64    `mapstructure:"rate-burst"`
	RedisURL       string   `mapstructure:"redis-url"`
}

// LoadRelay resolves the relay configuration. Changed flags win over
// MESHCALL_* environment variables, which win over the optional config
// file, which wins over defaults.
func LoadRelay(flags *pflag.FlagSet, configFile string) (*RelayConfig, error) {
	v := viper.New()

	v.SetDefault("addr", ":8080")
	v.SetDefault("allowed-origins", []string{"*"})
	v.SetDefault("history-limit", 200)
	v.SetDefault("rate-limit", 50.0)
	v.SetDefault("rate-burst", 100)
	v.SetDefault("redis-url", "")

	v.SetEnvPrefix("MESHCALL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg RelayConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode relay config: %w", err)
	}

	if cfg.HistoryLimit <= 0 {
		return nil, fmt.Errorf("history-limit must be positive, got %d", cfg.HistoryLimit)
	}
	if cfg.RateLimit <= 0 || cfg.RateBurst <= 0 {
		return nil, fmt.Errorf("rate-limit and rate-burst must be positive")
	}

	return &cfg, nil
}
