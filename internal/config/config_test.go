package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/workerhost/internal/core"
	"github.com/cryguy/workerhost/internal/log"
)

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
engine:
  backend: goja
  memory_limit_mb: 64
  execution_timeout: 250ms
  idle_gc:
    budget: 20ms
    ceiling: 200ms
    interval: 2s
  max_console_message_size: 1024
log:
  level: debug
  format: json
inspector:
  addr: 127.0.0.1:9229
code_cache:
  path: /var/cache/workerhost/cache.sqlite3
`))
	require.NoError(t, err)

	assert.Equal(t, "goja", cfg.Engine.Backend)
	assert.Equal(t, log.LevelDebug, cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:9229", cfg.Inspector.Addr)
	assert.Equal(t, DefaultMaxInspectorConnections, cfg.Inspector.MaxConnections)
	assert.Equal(t, "/var/cache/workerhost/cache.sqlite3", cfg.CodeCache.Path)

	assert.Equal(t, core.EngineConfig{
		Backend:               "goja",
		MemoryLimitMB:         64,
		ExecutionTimeout:      250,
		IdleGCBudget:          20 * time.Millisecond,
		IdleGCCeiling:         200 * time.Millisecond,
		IdleGCInterval:        2 * time.Second,
		MaxConsoleMessageSize: 1024,
	}, cfg.EngineConfig())
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "default", cfg.Engine.Backend)
	assert.Equal(t, log.LevelInfo, cfg.Log.Level)
	assert.Empty(t, cfg.Inspector.Addr)

	ec := cfg.EngineConfig()
	assert.Equal(t, core.DefaultIdleGCBudget, ec.IdleGCBudget)
	assert.Equal(t, core.DefaultIdleGCCeiling, ec.IdleGCCeiling)
	assert.Equal(t, core.DefaultMaxConsoleMessageSize, ec.MaxConsoleMessageSize)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workerhost.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  backend: default\n"), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Engine.Backend)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown backend", "engine:\n  backend: spidermonkey\n", "unknown backend"},
		{"negative memory", "engine:\n  memory_limit_mb: -1\n", "memory_limit_mb"},
		{"ceiling below budget", "engine:\n  idle_gc:\n    budget: 100ms\n    ceiling: 10ms\n", "below budget"},
		{"log format", "log:\n  format: xml\n", "log.format"},
		{"bad yaml", "engine: [", "failed to parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
