//go:build !v8

// Package quickjs is the default script engine for workers, built on the
// modernc.org QuickJS port. Each worker gets its own VM, created and used
// only on its backing thread.
package quickjs

import (
	"fmt"
	"time"

	"modernc.org/quickjs"

	"github.com/cryguy/workerhost/internal/core"
)

// minGCSlot is the shortest idle slot a full QuickJS collection is started
// in. QuickJS has no incremental collector, so a step is a whole cycle.
const minGCSlot = 2 * time.Millisecond

// Engine creates QuickJS execution contexts.
type Engine struct {
	config core.EngineConfig
}

// NewEngine returns a QuickJS engine.
func NewEngine(cfg core.EngineConfig) *Engine {
	return &Engine{config: cfg}
}

func (e *Engine) Name() string { return "quickjs" }

// NewContext creates a VM, applies the memory limit and runs setup.
func (e *Engine) NewContext(bundle *core.StartupBundle, host core.ScopeHost, setup []core.SetupFunc) (core.ExecutionContext, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}
	if e.config.MemoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(e.config.MemoryLimitMB) * 1024 * 1024)
	}

	rt := &qjsRuntime{vm: vm}
	for _, fn := range setup {
		if err := fn(rt, host); err != nil {
			vm.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}
	return &qjsContext{vm: vm, rt: rt}, nil
}

type qjsContext struct {
	vm *quickjs.VM
	rt *qjsRuntime
}

func (c *qjsContext) Runtime() core.JSRuntime { return c.rt }

// Evaluate runs source as a classic script. An interrupted VM may unwind
// with a panic; that is reported as an abort.
func (c *qjsContext) Evaluate(source, url string) (err error) {
	if c.rt.terminated.Load() {
		return core.ErrExecutionTerminated
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("script execution aborted: %v", r)
		}
	}()
	v, err := c.vm.EvalValue(source, quickjs.EvalGlobal)
	if err != nil {
		return core.AsScriptError(err, url)
	}
	v.Free()
	return nil
}

func (c *qjsContext) RunIncrementalGCStep(deadline time.Time) bool {
	if time.Until(deadline) < minGCSlot {
		return false
	}
	return runGC(c.vm)
}

func (c *qjsContext) InterruptExecution() {
	c.vm.Interrupt()
}

func (c *qjsContext) AbortExecution() {
	c.rt.terminated.Store(true)
	c.vm.Interrupt()
}

// WillBeDestroyed drops script callbacks so nothing is retained across the
// final collection. It runs even after an abort.
func (c *qjsContext) WillBeDestroyed() {
	if v, err := c.vm.EvalValue(`globalThis.__timerCallbacks = {};`, quickjs.EvalGlobal); err == nil {
		v.Free()
	}
}

func (c *qjsContext) Dispose() {
	c.vm.Close()
}
