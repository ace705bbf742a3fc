//go:build !v8

package worker

import (
	"github.com/cryguy/workerhost/internal/core"
	"github.com/cryguy/workerhost/internal/quickjs"
)

func newDefaultEngine(cfg core.EngineConfig) core.ScriptEngine {
	return quickjs.NewEngine(cfg)
}
