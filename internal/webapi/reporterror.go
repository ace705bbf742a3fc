package webapi

import (
	"github.com/cryguy/workerhost/internal/core"
)

// reportErrorJS defines reportError: the error is dispatched as an error
// event on the global scope and forwarded to the creator unless a handler
// prevents it.
const reportErrorJS = `
globalThis.reportError = function(error) {
	var msg = '';
	if (error !== null && error !== undefined) {
		msg = error.message !== undefined ? String(error.message) : String(error);
	}
	var ev = new ErrorEvent('error', {
		error: error,
		message: msg,
		filename: (error && error.fileName) || location.href,
		lineno: (error && (error.lineNumber || error.line)) || 0,
		colno: (error && error.columnNumber) || 0,
	});
	if (globalThis.dispatchEvent(ev)) {
		__reportException(ev.message, ev.filename, ev.lineno, ev.colno);
	}
};
`

// SetupReportError installs reportError.
func SetupReportError(rt core.JSRuntime, host core.ScopeHost) error {
	if err := rt.RegisterFunc("__reportException", func(message, filename string, line, column int) {
		host.ReportException(&core.ScriptError{
			Message:   message,
			SourceURL: filename,
			Line:      line,
			Column:    column,
		})
	}); err != nil {
		return err
	}
	return rt.Eval(reportErrorJS)
}

// SetupClose installs self.close().
func SetupClose(rt core.JSRuntime, host core.ScopeHost) error {
	if err := rt.RegisterFunc("__close", func() {
		host.Close()
	}); err != nil {
		return err
	}
	return rt.Eval(`globalThis.close = function() { __close(); };`)
}
