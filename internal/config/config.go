package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Run     RunConfig     `yaml:"run" mapstructure:"run"`
	Network NetworkConfig `yaml:"network" mapstructure:"network"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Profile string        `yaml:"profile" mapstructure:"profile"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RunConfig configures batch execution.
type RunConfig struct {
	Workers         int `yaml:"workers" mapstructure:"workers"`
	DeadlineSecs    int `yaml:"deadline_secs" mapstructure:"deadline_secs"`
	PollIntervalSec int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
}

// NetworkConfig holds the run-scoped half of the network enablement gates.
// The feature flag ships with the build profile, the runtime flag is set
// here, and the per-call override travels with each target; all three must
// be true for the network tier to run.
type NetworkConfig struct {
	FeatureEnabled bool `yaml:"feature_enabled" mapstructure:"feature_enabled"`
	RuntimeEnabled bool `yaml:"runtime_enabled" mapstructure:"runtime_enabled"`
}

// ServerConfig configures the review-decision webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CONSOLIDATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "consolidate.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("run.workers", 5)
	v.SetDefault("run.deadline_secs", 600)
	v.SetDefault("run.poll_interval_secs", 10)
	v.SetDefault("network.feature_enabled", false)
	v.SetDefault("network.runtime_enabled", false)
	v.SetDefault("profile", "profile.yaml")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
