// Package config loads the workerhost configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cryguy/workerhost/internal/core"
	"github.com/cryguy/workerhost/internal/log"
)

// Config is the top-level configuration file.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Log       log.Config      `yaml:"log"`
	Inspector InspectorConfig `yaml:"inspector,omitempty"`
	CodeCache CodeCacheConfig `yaml:"code_cache,omitempty"`
}

// EngineConfig is the file form of core.EngineConfig.
type EngineConfig struct {
	Backend          string        `yaml:"backend,omitempty"` // default | goja
	MemoryLimitMB    int           `yaml:"memory_limit_mb,omitempty"`
	ExecutionTimeout time.Duration `yaml:"execution_timeout,omitempty"`

	IdleGC struct {
		Budget   time.Duration `yaml:"budget,omitempty"`
		Ceiling  time.Duration `yaml:"ceiling,omitempty"`
		Interval time.Duration `yaml:"interval,omitempty"`
	} `yaml:"idle_gc,omitempty"`

	MaxConsoleMessageSize int `yaml:"max_console_message_size,omitempty"`
}

// InspectorConfig enables the inspector server when Addr is set.
type InspectorConfig struct {
	Addr           string `yaml:"addr,omitempty"`
	MaxConnections int    `yaml:"max_connections,omitempty"`
}

// CodeCacheConfig locates the code cache database. An empty Path keeps the
// cache in memory.
type CodeCacheConfig struct {
	Path     string `yaml:"path,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// DefaultMaxInspectorConnections caps concurrent inspector sessions.
const DefaultMaxInspectorConnections = 8

// Default returns the configuration used without a file.
func Default() Config {
	cfg := Config{Log: log.DefaultConfig()}
	cfg.applyDefaults()
	return cfg
}

// Load reads path. A missing file yields the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a configuration document, fills defaults and validates it.
func Parse(data []byte) (Config, error) {
	cfg := Config{Log: log.DefaultConfig()}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Engine.Backend == "" {
		c.Engine.Backend = "default"
	}
	if c.Inspector.MaxConnections == 0 {
		c.Inspector.MaxConnections = DefaultMaxInspectorConnections
	}
	if c.Log.Level == "" {
		c.Log.Level = log.LevelInfo
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.CodeCache.Path != "" && !filepath.IsAbs(c.CodeCache.Path) {
		if abs, err := filepath.Abs(c.CodeCache.Path); err == nil {
			c.CodeCache.Path = abs
		}
	}
}

// Validate checks field ranges.
func (c Config) Validate() error {
	switch c.Engine.Backend {
	case "default", "goja":
	default:
		return fmt.Errorf("engine.backend: unknown backend %q (supported: default, goja)", c.Engine.Backend)
	}
	if c.Engine.MemoryLimitMB < 0 {
		return fmt.Errorf("engine.memory_limit_mb must not be negative")
	}
	if c.Engine.ExecutionTimeout < 0 {
		return fmt.Errorf("engine.execution_timeout must not be negative")
	}
	gc := c.Engine.IdleGC
	if gc.Budget < 0 || gc.Ceiling < 0 || gc.Interval < 0 {
		return fmt.Errorf("engine.idle_gc durations must not be negative")
	}
	if gc.Budget > 0 && gc.Ceiling > 0 && gc.Ceiling < gc.Budget {
		return fmt.Errorf("engine.idle_gc.ceiling (%s) is below budget (%s)", gc.Ceiling, gc.Budget)
	}
	if c.Inspector.MaxConnections < 0 {
		return fmt.Errorf("inspector.max_connections must not be negative")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

// EngineConfig converts the engine section, with defaults applied.
func (c Config) EngineConfig() core.EngineConfig {
	e := c.Engine
	return core.EngineConfig{
		Backend:               e.Backend,
		MemoryLimitMB:         e.MemoryLimitMB,
		ExecutionTimeout:      int(e.ExecutionTimeout / time.Millisecond),
		IdleGCBudget:          e.IdleGC.Budget,
		IdleGCCeiling:         e.IdleGC.Ceiling,
		IdleGCInterval:        e.IdleGC.Interval,
		MaxConsoleMessageSize: e.MaxConsoleMessageSize,
	}.WithDefaults()
}
