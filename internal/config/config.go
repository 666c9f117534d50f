package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// DatabaseURL is optional: without it the pipeline keeps its window in memory.
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBMinConns  int32  `envconfig:"NEWSBOT_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"NEWSBOT_DB_MAX_CONNS" default:"8"`

	PolicyPath      string `envconfig:"POLICY_PATH" default:""`
	PipelineWorkers int    `envconfig:"PIPELINE_WORKERS" default:"0"`
	EngineQueueSize int    `envconfig:"ENGINE_QUEUE_SIZE" default:"16"`

	HTTPAddr string `envconfig:"HTTP_ADDR" default:"127.0.0.1:8090"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBMinConns < 0 {
		return fmt.Errorf("NEWSBOT_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("NEWSBOT_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("NEWSBOT_DB_MIN_CONNS (%d) cannot exceed NEWSBOT_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.PipelineWorkers < 0 {
		return fmt.Errorf("PIPELINE_WORKERS must be >= 0")
	}
	if c.EngineQueueSize < 1 {
		return fmt.Errorf("ENGINE_QUEUE_SIZE must be >= 1")
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("HTTP_ADDR is required")
	}
	return nil
}

// HasDatabase reports whether a database URL was configured.
func (c *Config) HasDatabase() bool {
	return c != nil && strings.TrimSpace(c.DatabaseURL) != ""
}

// RequireDatabase fails for commands that cannot run without persistence.
func (c *Config) RequireDatabase() error {
	if !c.HasDatabase() {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}
