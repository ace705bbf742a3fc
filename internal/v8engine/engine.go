//go:build v8

// Package v8engine runs workers on V8 through tommie/v8go. Each worker owns
// an isolate; scripts are compiled with the bundle's cached metadata and
// produce a fresh code cache for the creator to keep.
package v8engine

import (
	"fmt"
	"sync"
	"time"

	v8 "github.com/tommie/v8go"

	"github.com/cryguy/workerhost/internal/core"
	"github.com/cryguy/workerhost/internal/log"
)

// minGCSlot is the shortest idle slot a collection is requested in.
const minGCSlot = 2 * time.Millisecond

// idleGCName is where the hidden gc function is parked so script cannot
// call it by its usual name.
const idleGCName = "__idleGC"

var flagsOnce sync.Once

// Engine creates V8 execution contexts.
type Engine struct {
	config core.EngineConfig
}

// NewEngine returns a V8 engine. The first call sets process-wide V8 flags.
func NewEngine(cfg core.EngineConfig) *Engine {
	flagsOnce.Do(func() { v8.SetFlags("--expose-gc") })
	return &Engine{config: cfg}
}

func (e *Engine) Name() string { return "v8" }

func (e *Engine) NewContext(bundle *core.StartupBundle, host core.ScopeHost, setup []core.SetupFunc) (core.ExecutionContext, error) {
	var iso *v8.Isolate
	if e.config.MemoryLimitMB > 0 {
		heapSize := uint64(e.config.MemoryLimitMB) * 1024 * 1024
		iso = v8.NewIsolate(v8.WithResourceConstraints(heapSize/2, heapSize))
	} else {
		iso = v8.NewIsolate()
	}
	ctx := v8.NewContext(iso)
	rt := &v8Runtime{iso: iso, ctx: ctx}

	if _, err := ctx.RunScript(fmt.Sprintf("globalThis.%s = globalThis.gc; delete globalThis.gc;", idleGCName), "idle_gc.js"); err != nil {
		ctx.Close()
		iso.Dispose()
		return nil, fmt.Errorf("hiding gc: %w", err)
	}
	for _, fn := range setup {
		if err := fn(rt, host); err != nil {
			ctx.Close()
			iso.Dispose()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}
	return &v8Context{iso: iso, ctx: ctx, rt: rt, cached: bundle.CachedMetadata}, nil
}

type v8Context struct {
	iso *v8.Isolate
	ctx *v8.Context
	rt  *v8Runtime

	cached    []byte
	codeCache []byte
}

var _ core.CodeCacheProducer = (*v8Context)(nil)

func (c *v8Context) Runtime() core.JSRuntime { return c.rt }

// Evaluate compiles source with any cached metadata and runs it. A rejected
// cache is logged and compilation proceeds without it.
func (c *v8Context) Evaluate(source, url string) error {
	if c.rt.terminated.Load() {
		return core.ErrExecutionTerminated
	}
	opts := v8.CompileOptions{}
	if len(c.cached) > 0 {
		opts.CachedData = &v8.CompilerCachedData{Bytes: c.cached}
	}
	script, err := c.iso.CompileUnboundScript(source, url, opts)
	if err != nil {
		return core.AsScriptError(convertError(err), url)
	}
	if opts.CachedData != nil && opts.CachedData.Rejected {
		log.Debug("code cache rejected", "url", url)
	}
	if opts.CachedData == nil || opts.CachedData.Rejected {
		if cc := script.CreateCodeCache(); cc != nil {
			c.codeCache = cc.Bytes
		}
	}
	c.cached = nil

	if _, err := script.Run(c.ctx); err != nil {
		return core.AsScriptError(convertError(err), url)
	}
	return nil
}

// CodeCache returns the cache produced by the last Evaluate, if any.
func (c *v8Context) CodeCache() []byte { return c.codeCache }

func (c *v8Context) RunIncrementalGCStep(deadline time.Time) bool {
	if c.rt.terminated.Load() {
		return true
	}
	if time.Until(deadline) < minGCSlot {
		return false
	}
	_, err := c.ctx.RunScript(fmt.Sprintf("typeof %[1]s === 'function' && %[1]s()", idleGCName), "idle_gc.js")
	return err == nil
}

func (c *v8Context) InterruptExecution() {
	c.iso.TerminateExecution()
}

func (c *v8Context) AbortExecution() {
	c.rt.terminated.Store(true)
	c.iso.TerminateExecution()
}

func (c *v8Context) WillBeDestroyed() {
	_, _ = c.ctx.RunScript(`globalThis.__timerCallbacks = {};`, "teardown.js")
}

func (c *v8Context) Dispose() {
	c.ctx.Close()
	c.iso.Dispose()
}
