// Package gojaengine is a pure-Go script engine for workers, built on goja.
package gojaengine

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/dop251/goja"

	"github.com/cryguy/workerhost/internal/core"
)

// minGCSlot is the shortest deadline worth starting a collection in.
const minGCSlot = 5 * time.Millisecond

// Engine creates goja-backed execution contexts.
type Engine struct {
	config core.EngineConfig
}

// NewEngine returns a goja engine. goja has no heap limit, so
// MemoryLimitMB is ignored.
func NewEngine(cfg core.EngineConfig) *Engine {
	return &Engine{config: cfg}
}

func (e *Engine) Name() string { return "goja" }

func (e *Engine) NewContext(bundle *core.StartupBundle, host core.ScopeHost, setup []core.SetupFunc) (core.ExecutionContext, error) {
	vm := goja.New()
	rt := &gojaRuntime{vm: vm}
	for _, fn := range setup {
		if err := fn(rt, host); err != nil {
			return nil, fmt.Errorf("setup: %w", err)
		}
	}
	return &gojaContext{vm: vm, rt: rt}, nil
}

type gojaContext struct {
	vm *goja.Runtime
	rt *gojaRuntime
}

func (c *gojaContext) Runtime() core.JSRuntime { return c.rt }

func (c *gojaContext) Evaluate(source, url string) error {
	if c.rt.terminated.Load() {
		return core.ErrExecutionTerminated
	}
	_, err := c.vm.RunScript(url, source)
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if !c.rt.terminated.Load() {
			c.vm.ClearInterrupt()
		}
		return fmt.Errorf("script execution aborted: %v", interrupted.Value())
	}
	return convertError(err)
}

// RunIncrementalGCStep runs a Go collection when the slot is long enough.
// goja objects live on the Go heap, so a finished collection is final.
func (c *gojaContext) RunIncrementalGCStep(deadline time.Time) bool {
	if time.Until(deadline) < minGCSlot {
		return false
	}
	runtime.GC()
	return true
}

func (c *gojaContext) InterruptExecution() {
	c.vm.Interrupt("interrupted")
}

func (c *gojaContext) AbortExecution() {
	c.rt.terminated.Store(true)
	c.vm.Interrupt("terminated")
}

func (c *gojaContext) WillBeDestroyed() {}

func (c *gojaContext) Dispose() {
	c.vm.ClearInterrupt()
}
