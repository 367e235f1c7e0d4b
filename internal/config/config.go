// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/voidmaw/regrip/internal/breaker"
	"github.com/voidmaw/regrip/internal/recovery"
	"github.com/voidmaw/regrip/internal/selector"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Storage() StorageConfig
	Engine() EngineConfig

	// Storage Setters
	SetStorageBackend(string)
	SetStoragePath(string)
	SetStorageDSN(string)
}

// Config holds the entire application configuration. Fields are exported so
// viper can decode into them; callers go through the Interface methods.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	StorageCfg StorageConfig `mapstructure:"storage" yaml:"storage"`
	EngineCfg  EngineConfig  `mapstructure:"engine" yaml:"engine"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Storage() StorageConfig { return c.StorageCfg }
func (c *Config) Engine() EngineConfig   { return c.EngineCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetStorageBackend(b string) { c.StorageCfg.Backend = b }
func (c *Config) SetStoragePath(p string)    { c.StorageCfg.Path = p }
func (c *Config) SetStorageDSN(d string)     { c.StorageCfg.DSN = d }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// StorageConfig selects and configures the statistics backend.
type StorageConfig struct {
	// Backend is one of "memory", "badger", or "postgres".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Path is the badger data directory. Ignored by other backends.
	Path string `mapstructure:"path" yaml:"path"`
	// DSN is the postgres connection string. Ignored by other backends.
	DSN        string `mapstructure:"dsn" yaml:"-"`
	SyncWrites bool   `mapstructure:"sync_writes" yaml:"sync_writes"`
	// RetryBase and RetryAttempts tune the persistence-retry backoff of
	// the resilient wrapper around durable backends. Distinct from the
	// planner's engine.recovery knobs, which govern action retries.
	RetryBase     time.Duration `mapstructure:"retry_base" yaml:"retry_base"`
	RetryAttempts int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
}

// EngineConfig tunes the learning core.
type EngineConfig struct {
	Breaker  BreakerConfig  `mapstructure:"breaker" yaml:"breaker"`
	Selector SelectorConfig `mapstructure:"selector" yaml:"selector"`
	Recovery RecoveryConfig `mapstructure:"recovery" yaml:"recovery"`
}

// BreakerConfig holds the per-candidate circuit breaker tuning knobs.
type BreakerConfig struct {
	Alpha         float64       `mapstructure:"alpha" yaml:"alpha"`
	MinSamples    int           `mapstructure:"min_samples" yaml:"min_samples"`
	FailThreshold float64       `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	Cooldown      time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// ToParams converts the file representation into the breaker's parameter struct.
func (b BreakerConfig) ToParams() breaker.Params {
	return breaker.Params{
		Alpha:         b.Alpha,
		MinSamples:    b.MinSamples,
		FailThreshold: b.FailThreshold,
		Cooldown:      b.Cooldown,
	}
}

// SelectorConfig holds the bandit scoring knobs.
type SelectorConfig struct {
	ExploreWeight     float64 `mapstructure:"explore_weight" yaml:"explore_weight"`
	MisclickPenalty   float64 `mapstructure:"misclick_penalty" yaml:"misclick_penalty"`
	SafetyMinTrials   int     `mapstructure:"safety_min_trials" yaml:"safety_min_trials"`
	SafetyMisclickMax float64 `mapstructure:"safety_misclick_max" yaml:"safety_misclick_max"`
}

// ToParams converts the file representation into the selector's parameter struct.
func (s SelectorConfig) ToParams() selector.Params {
	return selector.Params{
		ExploreWeight:      s.ExploreWeight,
		MisclickPenalty:    s.MisclickPenalty,
		SafetyMinTrials:    s.SafetyMinTrials,
		SafetyMisclickRate: s.SafetyMisclickMax,
	}
}

// RecoveryConfig holds the planner's retry and escalation knobs.
type RecoveryConfig struct {
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBase  time.Duration `mapstructure:"retry_base" yaml:"retry_base"`
}

// ToParams converts the file representation into the planner's parameter
// struct.
func (r RecoveryConfig) ToParams() recovery.Params {
	return recovery.Params{
		MaxRetries: r.MaxRetries,
		RetryBase:  r.RetryBase,
	}
}

// DefaultDataDir resolves the per-user badger directory.
func DefaultDataDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return ".regrip"
	}
	return filepath.Join(home, ".regrip", "data")
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "regrip")
	v.SetDefault("logger.log_file", "regrip.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Storage --
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.path", DefaultDataDir())
	// Registered so the env-bound value survives Unmarshal.
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.sync_writes", false)
	v.SetDefault("storage.retry_base", "100ms")
	v.SetDefault("storage.retry_attempts", 2)

	// -- Engine --
	v.SetDefault("engine.breaker.alpha", 0.25)
	v.SetDefault("engine.breaker.min_samples", 5)
	v.SetDefault("engine.breaker.fail_threshold", 0.5)
	v.SetDefault("engine.breaker.cooldown", "30s")
	v.SetDefault("engine.selector.explore_weight", 1.0)
	v.SetDefault("engine.selector.misclick_penalty", 0.5)
	v.SetDefault("engine.selector.safety_min_trials", 10)
	v.SetDefault("engine.selector.safety_misclick_max", 0.2)
	v.SetDefault("engine.recovery.max_retries", 2)
	v.SetDefault("engine.recovery.retry_base", "500ms")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("storage.dsn", "REGRIP_STORAGE_DSN")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.StorageCfg.Backend {
	case "memory":
	case "badger":
		if c.StorageCfg.Path == "" {
			return fmt.Errorf("storage.path is required for the badger backend")
		}
	case "postgres":
		if c.StorageCfg.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres backend. Set REGRIP_STORAGE_DSN")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageCfg.Backend)
	}
	if c.StorageCfg.RetryAttempts < 0 {
		return fmt.Errorf("storage.retry_attempts must not be negative")
	}
	if err := c.EngineCfg.Breaker.Validate(); err != nil {
		return fmt.Errorf("engine.breaker configuration invalid: %w", err)
	}
	if err := c.EngineCfg.Selector.Validate(); err != nil {
		return fmt.Errorf("engine.selector configuration invalid: %w", err)
	}
	if c.EngineCfg.Recovery.MaxRetries < 0 {
		return fmt.Errorf("engine.recovery.max_retries must not be negative")
	}
	return nil
}

// Validate checks the breaker settings.
func (b *BreakerConfig) Validate() error {
	if b.Alpha <= 0.0 || b.Alpha > 1.0 {
		return fmt.Errorf("alpha must be in (0.0, 1.0]")
	}
	if b.MinSamples <= 0 {
		return fmt.Errorf("min_samples must be greater than 0")
	}
	if b.FailThreshold <= 0.0 || b.FailThreshold > 1.0 {
		return fmt.Errorf("fail_threshold must be in (0.0, 1.0]")
	}
	if b.Cooldown <= 0 {
		return fmt.Errorf("cooldown must be a positive duration")
	}
	return nil
}

// Validate checks the selector settings.
func (s *SelectorConfig) Validate() error {
	if s.ExploreWeight < 0 {
		return fmt.Errorf("explore_weight must not be negative")
	}
	if s.MisclickPenalty < 0 {
		return fmt.Errorf("misclick_penalty must not be negative")
	}
	if s.SafetyMisclickMax < 0.0 || s.SafetyMisclickMax > 1.0 {
		return fmt.Errorf("safety_misclick_max must be between 0.0 and 1.0")
	}
	return nil
}
