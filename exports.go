package worker

import (
	"github.com/cryguy/workerhost/internal/core"
	"github.com/cryguy/workerhost/internal/messaging"
	"github.com/cryguy/workerhost/internal/workerthread"
)

// Type aliases re-exporting internal types so embedders can configure and
// observe workers without importing internal packages.

type EngineConfig = core.EngineConfig
type ScriptEngine = core.ScriptEngine
type ScriptError = core.ScriptError
type ConsoleMessage = core.ConsoleMessage
type CSPHeader = core.CSPHeader
type CSPHeaderType = core.CSPHeaderType
type Origin = core.Origin
type StartMode = core.StartMode
type ScriptType = core.ScriptType
type Kind = workerthread.Kind
type State = workerthread.State
type ProxyState = messaging.State

// Constants re-exported from internal packages.
const (
	CSPEnforce = core.CSPEnforce
	CSPReport  = core.CSPReport

	DontPauseOnStart = core.DontPauseOnStart
	PauseOnStart     = core.PauseOnStart

	ClassicScript = core.ClassicScript
	ModuleScript  = core.ModuleScript

	Dedicated  = workerthread.Dedicated
	Shared     = workerthread.Shared
	Compositor = workerthread.Compositor

	NotStarted           = workerthread.NotStarted
	Running              = workerthread.Running
	TerminationRequested = workerthread.TerminationRequested
	ShuttingDown         = workerthread.ShuttingDown
	Terminated           = workerthread.Terminated

	ProxyLive             = messaging.Live
	ProxyObjectDestroyed  = messaging.ObjectDestroyed
	ProxyThreadTerminated = messaging.ThreadTerminated
	ProxyBothDone         = messaging.BothDone
)

// Errors re-exported from internal packages.
var (
	ErrWorkerTerminated = workerthread.ErrWorkerTerminated
	ErrBundleConsumed   = core.ErrBundleConsumed
)

// ParseKind parses "dedicated", "shared" or "compositor".
var ParseKind = workerthread.ParseKind
