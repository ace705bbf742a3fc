package worker

import (
	"errors"
	"fmt"

	"github.com/cryguy/workerhost/internal/gojaengine"
)

// ErrUnknownBackend is returned for an EngineConfig.Backend no engine
// answers to.
var ErrUnknownBackend = errors.New("unknown script engine backend")

// NewScriptEngine returns the engine named by cfg.Backend. The default
// engine is QuickJS, or V8 when built with the v8 tag; "goja" selects the
// pure-Go interpreter.
func NewScriptEngine(cfg EngineConfig) (ScriptEngine, error) {
	cfg = cfg.WithDefaults()
	switch cfg.Backend {
	case "", "default":
		return newDefaultEngine(cfg), nil
	case "goja":
		return gojaengine.NewEngine(cfg), nil
	}
	if def := newDefaultEngine(cfg); def.Name() == cfg.Backend {
		return def, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
}
