// Package config loads procwire settings from defaults, an optional config
// file, an optional .env file and PROCWIRE_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. PROCWIRE_STRATEGY.
const EnvPrefix = "PROCWIRE"

// Spawn strategies accepted by Strategy.
const (
	StrategyAuto = "auto"
	StrategyFast = "fast"
	StrategyFork = "fork"
)

// DefaultKillGrace is the time between terminate and kill on a timed wait.
const DefaultKillGrace = 200 * time.Millisecond

// Config drives backend selection and logging.
type Config struct {
	// Strategy forces a spawn strategy; auto lets the selector decide per spawn.
	Strategy string `mapstructure:"strategy"`
	// KillGrace is used by timed waits that do not set their own grace.
	KillGrace time.Duration `mapstructure:"kill_grace"`
	LogLevel  string        `mapstructure:"log_level"`
	LogFormat string        `mapstructure:"log_format"`
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	return Config{
		Strategy:  StrategyAuto,
		KillGrace: DefaultKillGrace,
		LogLevel:  "info",
		LogFormat: "console",
	}
}

// Validate ensures the config is usable.
func (c Config) Validate() error {
	switch c.Strategy {
	case StrategyAuto, StrategyFast, StrategyFork:
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	if c.KillGrace < 0 {
		return fmt.Errorf("kill grace must be >= 0")
	}
	return nil
}

type loadOptions struct {
	configFile string
	envFile    string
}

// Option customises Load.
type Option func(*loadOptions)

// WithConfigFile reads a YAML, TOML or JSON file before the environment.
func WithConfigFile(path string) Option {
	return func(o *loadOptions) { o.configFile = path }
}

// WithEnvFile loads a .env file into the process environment first. Variables
// already set are not overridden.
func WithEnvFile(path string) Option {
	return func(o *loadOptions) { o.envFile = path }
}

// Load resolves the configuration.
func Load(opts ...Option) (Config, error) {
	var lo loadOptions
	for _, opt := range opts {
		opt(&lo)
	}

	v := viper.New()
	def := Defaults()
	v.SetDefault("strategy", def.Strategy)
	v.SetDefault("kill_grace", def.KillGrace)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_format", def.LogFormat)

	if lo.configFile != "" {
		v.SetConfigFile(lo.configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", lo.configFile, err)
		}
	}
	if lo.envFile != "" {
		if err := godotenv.Load(lo.envFile); err != nil {
			return Config{}, fmt.Errorf("load env file %s: %w", lo.envFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Strategy = strings.ToLower(strings.TrimSpace(cfg.Strategy))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv loads the configuration from the environment only. Invalid values
// fall back to Defaults and are reported alongside.
func FromEnv() (Config, error) {
	cfg, err := Load()
	if err != nil {
		return Defaults(), errors.Join(errors.New("ignoring PROCWIRE_* environment"), err)
	}
	return cfg, nil
}
