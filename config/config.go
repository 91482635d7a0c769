// ABOUTME: Process-level runtime tunables layered underneath per-swarm Definitions:
// ABOUTME: global limiter default, retry policy, and compression bucket widths.

package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// RuntimeConfig holds ambient process configuration for the runtime — not
// part of any single Definition, but shared defaults every Swarm built in
// the process falls back to unless a Definition overrides them explicitly.
type RuntimeConfig struct {
	GlobalLimit     int64         `mapstructure:"global_limit"`
	LocalToolLimit  int           `mapstructure:"local_tool_limit"`
	RetryMaxRetries int           `mapstructure:"retry_max_retries"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay   time.Duration `mapstructure:"retry_max_delay"`
	CompressionStep int           `mapstructure:"compression_step"` // loaded only; agent compression uses fixed age buckets
}

// Load builds a RuntimeConfig from defaults, an optional config file, and
// SWARMSDK_-prefixed environment variables, in that order of increasing
// priority. configPath may be empty, in which case only defaults and
// environment variables apply.
func Load(configPath string) (*RuntimeConfig, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read runtime config %q: %w", configPath, err)
		}
	}

	v.SetEnvPrefix("SWARMSDK")
	v.AutomaticEnv()

	var cfg RuntimeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal runtime config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("global_limit", 50)
	v.SetDefault("local_tool_limit", 10)
	v.SetDefault("retry_max_retries", 2)
	v.SetDefault("retry_base_delay", time.Second)
	v.SetDefault("retry_max_delay", 60*time.Second)
	v.SetDefault("compression_step", 30)
}
