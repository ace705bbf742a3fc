package core

import "time"

// EngineConfig holds runtime configuration for worker execution.
type EngineConfig struct {
	Backend          string // script engine: "" or "default" for the build's engine, "goja" for the pure-Go one
	MemoryLimitMB    int    // per-context memory limit, 0 for none
	ExecutionTimeout int    // milliseconds a single evaluation may run, 0 for none

	IdleGCBudget   time.Duration // deadline given to a normal idle GC slot
	IdleGCCeiling  time.Duration // cap for extended idle GC deadlines
	IdleGCInterval time.Duration // pause between completed GC cycles

	MaxConsoleMessageSize int // bytes kept per console message
}

// Defaults for the idle collection loop.
const (
	DefaultIdleGCBudget          = 50 * time.Millisecond
	DefaultIdleGCCeiling         = time.Second
	DefaultIdleGCInterval        = 5 * time.Second
	DefaultMaxConsoleMessageSize = 4096
)

// WithDefaults returns a copy of c with zero fields replaced by defaults.
func (c EngineConfig) WithDefaults() EngineConfig {
	if c.IdleGCBudget <= 0 {
		c.IdleGCBudget = DefaultIdleGCBudget
	}
	if c.IdleGCCeiling <= 0 {
		c.IdleGCCeiling = DefaultIdleGCCeiling
	}
	if c.IdleGCCeiling < c.IdleGCBudget {
		c.IdleGCCeiling = c.IdleGCBudget
	}
	if c.IdleGCInterval <= 0 {
		c.IdleGCInterval = DefaultIdleGCInterval
	}
	if c.MaxConsoleMessageSize <= 0 {
		c.MaxConsoleMessageSize = DefaultMaxConsoleMessageSize
	}
	return c
}
