// Package config loads the gateway configuration from YAML with
// environment variable expansion and defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/relay/internal/engine"
	"github.com/haasonsaas/relay/internal/provider"
)

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Auth      AuthConfig                `yaml:"auth"`
	Store     StoreConfig               `yaml:"store"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Runs      RunsConfig                `yaml:"runs"`
	Logging   LoggingConfig             `yaml:"logging"`
}

type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

type AuthConfig struct {
	// APIKeys enables bearer authentication when non-empty.
	APIKeys []string `yaml:"api_keys"`
}

type StoreConfig struct {
	// Backend is one of memory, redis, postgres.
	Backend string `yaml:"backend"`
	// Cache wraps the backend with the in-process read-through cache.
	// Always effectively on for the memory backend.
	Cache    bool           `yaml:"cache"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ProviderConfig is one entry under providers, keyed by routing prefix.
type ProviderConfig struct {
	Type            string        `yaml:"type"`
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	APIVersion      string        `yaml:"api_version"`
	Region          string        `yaml:"region"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	Models          []string      `yaml:"models"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
}

type RunsConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	Timeout       time.Duration `yaml:"timeout"`
	ToolTimeout   time.Duration `yaml:"tool_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the file, expands ${ENV} references, parses, and applies
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes raw YAML config bytes.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))
	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given: memory
// store, no auth, no providers.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.Redis.Addr == "" {
		cfg.Store.Redis.Addr = "localhost:6379"
	}
	if cfg.Runs.MaxIterations == 0 {
		cfg.Runs.MaxIterations = 10
	}
	if cfg.Runs.Timeout == 0 {
		cfg.Runs.Timeout = 10 * time.Minute
	}
	if cfg.Runs.ToolTimeout == 0 {
		cfg.Runs.ToolTimeout = 30 * time.Second
	}
	if cfg.Runs.SweepInterval == 0 {
		cfg.Runs.SweepInterval = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == "postgres" && c.Store.Postgres.DSN == "" {
		return fmt.Errorf("postgres backend requires store.postgres.dsn")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}
	for name, p := range c.Providers {
		if p.Type == "" {
			return fmt.Errorf("provider %q: type is required", name)
		}
	}
	return nil
}

// Addr returns the listener address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ProviderSpecs converts the providers section into registry specs.
func (c *Config) ProviderSpecs() map[string]provider.Spec {
	specs := make(map[string]provider.Spec, len(c.Providers))
	for name, p := range c.Providers {
		specs[name] = provider.Spec{
			Type:            p.Type,
			APIKey:          p.APIKey,
			BaseURL:         p.BaseURL,
			APIVersion:      p.APIVersion,
			Region:          p.Region,
			AccessKeyID:     p.AccessKeyID,
			SecretAccessKey: p.SecretAccessKey,
			Models:          p.Models,
			MaxRetries:      p.MaxRetries,
			RetryDelay:      p.RetryDelay,
		}
	}
	return specs
}

// EngineConfig converts the runs section into engine settings.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		MaxIterations: c.Runs.MaxIterations,
		RunTimeout:    c.Runs.Timeout,
		ToolTimeout:   c.Runs.ToolTimeout,
		SweepInterval: c.Runs.SweepInterval,
	}
}
