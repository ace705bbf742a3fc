package workerthread

import (
	"github.com/cryguy/workerhost/internal/core"
	"github.com/cryguy/workerhost/internal/webapi"
)

// SharedKind is a named worker reached through a port. The creator's
// connection is announced to script with a connect event once the script
// has run; messages then flow through that port.
type SharedKind struct{ exclusiveThread }

func (SharedKind) Kind() Kind { return Shared }

func (SharedKind) CreateContext(engine core.ScriptEngine, bundle *core.StartupBundle, host core.ScopeHost) (core.ExecutionContext, error) {
	setup := append(webapi.ScopeSetup(), webapi.SetupSharedMessaging)
	return engine.NewContext(bundle, host, setup)
}

func (SharedKind) ScriptEvaluated(ctx core.ExecutionContext) error {
	return webapi.DispatchConnect(ctx.Runtime())
}

func (SharedKind) DeliverMessage(ctx core.ExecutionContext, data string) error {
	return webapi.DispatchPortMessage(ctx.Runtime(), data)
}
