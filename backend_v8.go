//go:build v8

package worker

import (
	"github.com/cryguy/workerhost/internal/core"
	"github.com/cryguy/workerhost/internal/v8engine"
)

func newDefaultEngine(cfg core.EngineConfig) core.ScriptEngine {
	return v8engine.NewEngine(cfg)
}
