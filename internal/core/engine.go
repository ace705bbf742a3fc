package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrExecutionTerminated is returned by script evaluation after the
// context's execution has been aborted.
var ErrExecutionTerminated = errors.New("script execution terminated")

// ScriptEngine creates worker execution contexts. Implementations live in
// internal/quickjs, internal/v8engine and internal/gojaengine; the root
// package picks one by build tag and configuration.
type ScriptEngine interface {
	Name() string

	// NewContext creates a context for bundle, runs every setup function
	// against its runtime, and returns it ready for Evaluate. It is called
	// on the backing thread that will own the context.
	NewContext(bundle *StartupBundle, host ScopeHost, setup []SetupFunc) (ExecutionContext, error)
}

// ExecutionContext is the worker-side global scope as seen by the thread
// controller. Every method except InterruptExecution and AbortExecution
// must be called on the backing thread.
type ExecutionContext interface {
	Runtime() JSRuntime

	// Evaluate compiles and runs a top-level script.
	Evaluate(source, url string) error

	// RunIncrementalGCStep performs collection work until deadline and
	// reports whether the collector has nothing left to do.
	RunIncrementalGCStep(deadline time.Time) bool

	// InterruptExecution stops the script running now. Later script runs
	// normally. Safe from any goroutine.
	InterruptExecution()

	// AbortExecution stops running script and forbids any more: every
	// later evaluation fails with ErrExecutionTerminated. Safe from any
	// goroutine.
	AbortExecution()

	// WillBeDestroyed is the about-to-be-destroyed notification.
	WillBeDestroyed()

	// Dispose releases the engine resources. The context is unusable after.
	Dispose()
}

// CodeCacheProducer is implemented by contexts that can hand back compiled
// code for the last evaluated script.
type CodeCacheProducer interface {
	CodeCache() []byte
}

// SetupFunc installs bindings into a fresh runtime before the worker script
// runs.
type SetupFunc func(rt JSRuntime, host ScopeHost) error

// ScopeInfo is the static description of a worker global scope.
type ScopeInfo struct {
	ScriptURL string
	UserAgent string
	Name      string
	Kind      string
}

// ScopeHost is what bindings in a worker global scope may call back into.
// All methods are called on the backing thread.
type ScopeHost interface {
	Info() ScopeInfo

	PostMessageToCreator(data string)
	ReportConsoleMessage(level, message string)
	ReportException(err *ScriptError)

	// Close handles self.close() from script.
	Close()

	// SetTimer schedules fire on the backing thread after delay, repeating
	// when repeat is set, and returns a non-zero id.
	SetTimer(delay time.Duration, repeat bool, fire func() error) int
	ClearTimer(id int)
	ActiveTimers() int
}

// ScriptError is an uncaught exception raised by worker script.
type ScriptError struct {
	Message   string
	SourceURL string
	Line      int
	Column    int
}

func (e *ScriptError) Error() string {
	if e.SourceURL == "" {
		return e.Message
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s (%s:%d:%d)", e.Message, e.SourceURL, e.Line, e.Column)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.SourceURL)
}

// AsScriptError converts err into a ScriptError, keeping location details
// when err already carries them.
func AsScriptError(err error, sourceURL string) *ScriptError {
	var se *ScriptError
	if errors.As(err, &se) {
		if se.SourceURL == "" {
			cp := *se
			cp.SourceURL = sourceURL
			return &cp
		}
		return se
	}
	return &ScriptError{Message: err.Error(), SourceURL: sourceURL}
}

// ConsoleMessage is a console call made by worker script.
type ConsoleMessage struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	SourceURL string    `json:"sourceURL,omitempty"`
	Time      time.Time `json:"time"`
}
