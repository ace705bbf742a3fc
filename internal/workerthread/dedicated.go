package workerthread

import (
	"github.com/cryguy/workerhost/internal/core"
	"github.com/cryguy/workerhost/internal/webapi"
)

// DedicatedKind is a worker owned by a single creator, talking to it
// through postMessage and onmessage on its global scope.
type DedicatedKind struct{ exclusiveThread }

func (DedicatedKind) Kind() Kind { return Dedicated }

func (DedicatedKind) CreateContext(engine core.ScriptEngine, bundle *core.StartupBundle, host core.ScopeHost) (core.ExecutionContext, error) {
	setup := append(webapi.ScopeSetup(), webapi.SetupDedicatedMessaging)
	return engine.NewContext(bundle, host, setup)
}

func (DedicatedKind) ScriptEvaluated(core.ExecutionContext) error { return nil }

func (DedicatedKind) DeliverMessage(ctx core.ExecutionContext, data string) error {
	return webapi.DispatchMessage(ctx.Runtime(), data)
}
