package core

import (
	"errors"
	"maps"
	"sync/atomic"
)

// ErrBundleConsumed is returned by Take when ownership of a StartupBundle
// has already been handed to another owner.
var ErrBundleConsumed = errors.New("startup bundle already consumed")

// CSPHeaderType says whether a Content-Security-Policy header is enforced
// or only reported.
type CSPHeaderType int

const (
	CSPEnforce CSPHeaderType = iota
	CSPReport
)

func (t CSPHeaderType) String() string {
	if t == CSPReport {
		return "report"
	}
	return "enforce"
}

// CSPHeader is a policy header as delivered with the worker script.
// Values are copied verbatim; validation belongs to the script engine.
type CSPHeader struct {
	Value string
	Type  CSPHeaderType
}

// StartMode controls whether the worker waits for a debugger before running
// its script.
type StartMode int

const (
	DontPauseOnStart StartMode = iota
	PauseOnStart
)

// ScriptType distinguishes classic scripts from ES modules.
type ScriptType int

const (
	ClassicScript ScriptType = iota
	ModuleScript
)

// Origin is a snapshot of the creator's security origin and the
// capabilities granted to it at worker creation time.
type Origin struct {
	Scheme string
	Host   string
	Port   int

	CanLoadLocalResources  bool
	UniversalAccess        bool
	BlockLocalAccessFromFS bool
}

// BundleParams are the inputs to NewStartupBundle.
type BundleParams struct {
	ScriptURL      string
	Source         string
	UserAgent      string
	Name           string
	CachedMetadata []byte
	CSP            []CSPHeader
	StarterOrigin  Origin
	Extensions     map[string]any
	StartMode      StartMode
	ScriptType     ScriptType
}

// StartupBundle carries everything a worker needs to begin running.
//
// A bundle is created on the creator thread and handed to the worker's
// backing thread exactly once. It is never read from two threads at the
// same time: the creator gives it up at Start and the backing thread claims
// it with Take.
type StartupBundle struct {
	ScriptURL      string
	Source         string
	UserAgent      string
	Name           string
	CachedMetadata []byte
	CSP            []CSPHeader
	StarterOrigin  Origin
	Extensions     map[string]any
	StartMode      StartMode
	ScriptType     ScriptType

	taken atomic.Bool
}

// NewStartupBundle builds a bundle holding private copies of every slice
// and map in p, so the caller may keep mutating its own values afterwards.
func NewStartupBundle(p BundleParams) *StartupBundle {
	b := &StartupBundle{
		ScriptURL:     p.ScriptURL,
		Source:        p.Source,
		UserAgent:     p.UserAgent,
		Name:          p.Name,
		StarterOrigin: p.StarterOrigin,
		StartMode:     p.StartMode,
		ScriptType:    p.ScriptType,
	}
	if p.CachedMetadata != nil {
		b.CachedMetadata = append([]byte(nil), p.CachedMetadata...)
	}
	if p.CSP != nil {
		b.CSP = append([]CSPHeader(nil), p.CSP...)
	}
	if p.Extensions != nil {
		b.Extensions = maps.Clone(p.Extensions)
	}
	return b
}

// Take transfers ownership of the bundle to the caller. Only the first call
// succeeds.
func (b *StartupBundle) Take() (*StartupBundle, error) {
	if b == nil {
		return nil, ErrBundleConsumed
	}
	if !b.taken.CompareAndSwap(false, true) {
		return nil, ErrBundleConsumed
	}
	return b, nil
}

// Taken reports whether ownership has been transferred.
func (b *StartupBundle) Taken() bool {
	return b.taken.Load()
}

// Release drops the payload once the execution context has consumed it.
func (b *StartupBundle) Release() {
	b.Source = ""
	b.CachedMetadata = nil
	b.CSP = nil
	b.Extensions = nil
}
