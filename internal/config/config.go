// Package config loads the planner configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/weflora/planning-core/internal/apperr"
	"github.com/weflora/planning-core/internal/logging"
	"github.com/weflora/planning-core/internal/pciv"
	"github.com/weflora/planning-core/internal/readiness"
)

// #region types
type Log struct {
	Level   string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON    bool   `yaml:"json"`
	Service string `yaml:"service"`
}

// Config is the process configuration.
type Config struct {
	DB        string               `yaml:"db" validate:"required"`
	HTTPAddr  string               `yaml:"http_addr" validate:"required"`
	GRPCAddr  string               `yaml:"grpc_addr"`
	VaultFile string               `yaml:"vault_file"`
	Scope     string               `yaml:"scope"` // project scope for vault bindings
	Log       Log                  `yaml:"log"`
	Extractor pciv.ExtractorConfig `yaml:"extractor"`
	Readiness readiness.Config     `yaml:"readiness"`
}

// #endregion types

// #region load
func Default() Config {
	return Config{
		DB:        "planner.db",
		HTTPAddr:  ":8080",
		GRPCAddr:  ":9090",
		Scope:     "default",
		Log:       Log{Level: "info", Service: "planner"},
		Extractor: pciv.DefaultExtractorConfig(),
		Readiness: readiness.DefaultConfig(),
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DB = envOr("PLANNER_DB", c.DB)
	c.HTTPAddr = envOr("PLANNER_HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = envOr("PLANNER_GRPC_ADDR", c.GRPCAddr)
	c.VaultFile = envOr("PLANNER_VAULT_FILE", c.VaultFile)
	c.Scope = envOr("PLANNER_SCOPE", c.Scope)
	c.Log.Level = envOr("PLANNER_LOG_LEVEL", c.Log.Level)
}

// #endregion load

// #region validate
var validate = validator.New()

// Validate checks field constraints and the readiness tunables.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return apperr.Validation("config %s: failed %s", f.Namespace(), f.Tag())
		}
		return fmt.Errorf("validate config: %w", err)
	}
	if c.Readiness.HalfLife <= 0 {
		return apperr.Validation("config readiness.half_life must be positive")
	}
	w := c.Readiness.Weights
	if w.Scope+w.Pointer+w.Confidence+w.Recency+w.Overlap == 0 {
		return apperr.Validation("config readiness.weights are all zero")
	}
	return nil
}

// #endregion validate

// Logging maps the log section onto the logger config.
func (c Config) Logging() logging.Config {
	return logging.Config{Level: c.Log.Level, JSON: c.Log.JSON, Service: c.Log.Service}
}

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
