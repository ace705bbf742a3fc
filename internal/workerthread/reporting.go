package workerthread

import "github.com/cryguy/workerhost/internal/core"

// ReportingProxy receives everything a worker reports back to its creator.
// Methods are called on the backing thread (WorkerThreadTerminated may also
// be called on the thread that terminated a never-started worker). They
// must not block and must not call back into the controller or registry
// synchronously.
type ReportingProxy interface {
	ReportException(err *core.ScriptError)
	ReportConsoleMessage(msg core.ConsoleMessage)
	PostMessageToWorkerObject(data string)
	ConfirmMessageFromWorkerObject(hasPendingActivity bool)
	ReportPendingActivity(hasPendingActivity bool)
	PostMessageToPageInspector(message string)
	SetCachedMetadata(url string, data []byte)
	DidEvaluateWorkerScript(success bool)
	WorkerGlobalScopeStarted()
	WorkerGlobalScopeClosed()
	WillDestroyWorkerGlobalScope()
	WorkerThreadTerminated()
}

// Instrumentation observes named tasks.
type Instrumentation interface {
	WillRunTask(workerID, name string)
	DidRunTask(workerID, name string)
}
