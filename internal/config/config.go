// Package config loads process configuration the way the teacher's
// server did: a single viper-backed YAML file selected by CONFIG_ENV,
// with defaults for everything so a missing file is not fatal.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ably-labs/ably-chat-go/internal/core"
	"github.com/ably-labs/ably-chat-go/internal/facades/typing"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config carries both the demo HTTP server's settings (kept from the
// teacher) and the room lifecycle manager's fixed timings, exposed
// here as overridable-for-testing defaults rather than constants.
type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	TransientDisconnectTimeout   time.Duration `mapstructure:"transient_disconnect_timeout"`
	DetachRetryInterval          time.Duration `mapstructure:"detach_retry_interval"`
	TypingPresenceRetryBudget    time.Duration `mapstructure:"typing_presence_retry_budget"`
	TypingPresenceRetryBaseDelay time.Duration `mapstructure:"typing_presence_retry_base_delay"`
	TypingPresenceRetryMaxDelay  time.Duration `mapstructure:"typing_presence_retry_max_delay"`
	TypingDebounce               time.Duration `mapstructure:"typing_debounce"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")

	v.SetDefault("transient_disconnect_timeout", "5s")
	v.SetDefault("detach_retry_interval", "250ms")
	v.SetDefault("typing_presence_retry_budget", "30s")
	v.SetDefault("typing_presence_retry_base_delay", "1s")
	v.SetDefault("typing_presence_retry_max_delay", "5s")
	v.SetDefault("typing_debounce", "5s")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Err(err).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).
		Dur("transient_disconnect_timeout", cfg.TransientDisconnectTimeout).
		Dur("detach_retry_interval", cfg.DetachRetryInterval).
		Msg("config ready")
	return &cfg, nil
}

// LifecycleConfig projects the manager's timing knobs out of Config so
// cmd/chatdemo can wire a core.Manager without depending on the rest
// of the server's settings.
func (c *Config) LifecycleConfig() core.Config {
	return core.Config{
		TransientDisconnectTimeout: c.TransientDisconnectTimeout,
		DetachRetryInterval:        c.DetachRetryInterval,
	}
}

// TypingRetryConfig projects the typing_presence_retry_* keys out of
// Config so the typing facade's Get retry envelope is driven by the
// same overridable settings LifecycleConfig exposes for the manager.
func (c *Config) TypingRetryConfig() typing.RetryConfig {
	return typing.RetryConfig{
		Budget:    c.TypingPresenceRetryBudget,
		BaseDelay: c.TypingPresenceRetryBaseDelay,
		MaxDelay:  c.TypingPresenceRetryMaxDelay,
	}
}
