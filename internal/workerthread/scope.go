package workerthread

import (
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cryguy/workerhost/internal/core"
)

// scopeHost connects the bindings of a worker global scope to its
// controller. It is only used on the backing thread.
type scopeHost struct {
	c         *Controller
	bundle    *core.StartupBundle
	closeOnce sync.Once
}

var _ core.ScopeHost = (*scopeHost)(nil)

func (h *scopeHost) Info() core.ScopeInfo {
	return core.ScopeInfo{
		ScriptURL: h.bundle.ScriptURL,
		UserAgent: h.bundle.UserAgent,
		Name:      h.bundle.Name,
		Kind:      h.c.kind.Kind().String(),
	}
}

func (h *scopeHost) PostMessageToCreator(data string) {
	h.c.reporting.PostMessageToWorkerObject(data)
}

func (h *scopeHost) ReportConsoleMessage(level, message string) {
	if max := h.c.cfg.MaxConsoleMessageSize; len(message) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(message[cut]) {
			cut--
		}
		message = message[:cut] + "...(truncated)"
	}
	h.c.reporting.ReportConsoleMessage(core.ConsoleMessage{
		Level:     level,
		Message:   message,
		SourceURL: h.bundle.ScriptURL,
		Time:      time.Now(),
	})
}

func (h *scopeHost) ReportException(err *core.ScriptError) {
	if err.SourceURL == "" {
		err.SourceURL = h.bundle.ScriptURL
	}
	h.c.reporting.ReportException(err)
}

func (h *scopeHost) Close() {
	h.closeOnce.Do(h.c.reporting.WorkerGlobalScopeClosed)
}

func (h *scopeHost) SetTimer(delay time.Duration, repeat bool, fire func() error) int {
	timers := h.c.timers
	return timers.Register(delay, repeat, func() {
		envelope{c: h.c, task: func(core.ExecutionContext) error { return fire() }}.run()
		if timers.Len() == 0 && h.c.liveContext() != nil {
			h.c.reporting.ReportPendingActivity(false)
		}
	})
}

func (h *scopeHost) ClearTimer(id int) {
	h.c.timers.Clear(id)
}

func (h *scopeHost) ActiveTimers() int {
	return h.c.timers.Len()
}
