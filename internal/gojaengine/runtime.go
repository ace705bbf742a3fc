package gojaengine

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dop251/goja"

	"github.com/cryguy/workerhost/internal/core"
)

// gojaRuntime implements core.JSRuntime on a goja.Runtime.
type gojaRuntime struct {
	vm         *goja.Runtime
	terminated atomic.Bool
}

// run evaluates js unless execution has been aborted.
func (r *gojaRuntime) run(js string) (goja.Value, error) {
	if r.terminated.Load() {
		return nil, core.ErrExecutionTerminated
	}
	return r.vm.RunString(js)
}

var _ core.JSRuntime = (*gojaRuntime)(nil)

func (r *gojaRuntime) Eval(js string) error {
	_, err := r.run(js)
	return convertError(err)
}

func (r *gojaRuntime) EvalString(js string) (string, error) {
	v, err := r.run(js)
	if err != nil {
		return "", convertError(err)
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", nil
	}
	return v.String(), nil
}

func (r *gojaRuntime) EvalBool(js string) (bool, error) {
	v, err := r.run(js)
	if err != nil {
		return false, convertError(err)
	}
	b, ok := v.Export().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", v.Export())
	}
	return b, nil
}

func (r *gojaRuntime) EvalInt(js string) (int, error) {
	v, err := r.run(js)
	if err != nil {
		return 0, convertError(err)
	}
	switch n := v.Export().(type) {
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected int, got %T", n)
	}
}

// RegisterFunc exposes fn to script. goja converts arguments by reflection
// and throws when a trailing error result is non-nil.
func (r *gojaRuntime) RegisterFunc(name string, fn any) error {
	return r.SetGlobal(name, fn)
}

func (r *gojaRuntime) SetGlobal(name string, value any) error {
	if r.terminated.Load() {
		return core.ErrExecutionTerminated
	}
	return r.vm.Set(name, value)
}

// RunMicrotasks is a no-op: goja drains its job queue whenever a top-level
// run returns.
func (r *gojaRuntime) RunMicrotasks() {}

// convertError turns a thrown JS value into a ScriptError.
func convertError(err error) error {
	if err == nil {
		return nil
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return &core.ScriptError{Message: ex.Value().String()}
	}
	return err
}
