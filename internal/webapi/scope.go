// Package webapi installs the worker global scope into a script runtime:
// the globals, console, timers, error reporting and messaging bindings a
// worker script sees.
package webapi

import (
	"encoding/json"

	"github.com/cryguy/workerhost/internal/core"
)

// ScopeSetup returns the setup functions shared by every worker kind, in
// the order they must run.
func ScopeSetup() []core.SetupFunc {
	return []core.SetupFunc{
		SetupEventTarget,
		SetupGlobals,
		SetupConsole,
		SetupConsoleExt,
		SetupTimers,
		SetupEncoding,
		SetupAbort,
		SetupMessageChannel,
		SetupReportError,
		SetupClose,
	}
}

// jsString returns s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
