package workerthread

import "github.com/cryguy/workerhost/internal/core"

// Task is a unit of work run on a worker's backing thread against its
// execution context. A returned error is reported as an uncaught exception.
type Task func(ctx core.ExecutionContext) error

// envelope carries a task to the backing thread. It checks at run time
// that the execution context still exists; otherwise the task is dropped
// without running it or its instrumentation.
type envelope struct {
	c    *Controller
	name string
	task Task
}

func (e envelope) run() {
	c := e.c
	ctx := c.liveContext()
	if ctx == nil {
		c.log.Debugw("dropping task", "task", e.name)
		return
	}

	instrumented := e.name != "" && c.instrumentation != nil
	if instrumented {
		c.instrumentation.WillRunTask(c.id, e.name)
	}
	err := e.task(ctx)
	if instrumented {
		c.instrumentation.DidRunTask(c.id, e.name)
	}

	if err != nil && !c.executionForbidden() {
		c.reporting.ReportException(core.AsScriptError(err, c.scriptURL()))
	}
}
