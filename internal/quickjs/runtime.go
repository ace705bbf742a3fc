//go:build !v8

package quickjs

import (
	"fmt"
	"sync/atomic"

	"modernc.org/quickjs"

	"github.com/cryguy/workerhost/internal/core"
)

// qjsRuntime implements core.JSRuntime on one QuickJS VM.
type qjsRuntime struct {
	vm         *quickjs.VM
	terminated atomic.Bool
}

var _ core.JSRuntime = (*qjsRuntime)(nil)

// result evaluates js in global scope and returns its Go conversion.
func (r *qjsRuntime) result(js string) (any, error) {
	if r.terminated.Load() {
		return nil, core.ErrExecutionTerminated
	}
	return r.vm.Eval(js, quickjs.EvalGlobal)
}

func (r *qjsRuntime) Eval(js string) error {
	if r.terminated.Load() {
		return core.ErrExecutionTerminated
	}
	v, err := r.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

func (r *qjsRuntime) EvalString(js string) (string, error) {
	res, err := r.result(js)
	if err != nil || res == nil {
		return "", err
	}
	if s, ok := res.(string); ok {
		return s, nil
	}
	return fmt.Sprint(res), nil
}

func (r *qjsRuntime) EvalBool(js string) (bool, error) {
	res, err := r.result(js)
	if err != nil {
		return false, err
	}
	if b, ok := res.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("expected bool from %q, got %T", js, res)
}

func (r *qjsRuntime) EvalInt(js string) (int, error) {
	res, err := r.result(js)
	if err != nil {
		return 0, err
	}
	switch n := res.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, fmt.Errorf("expected number from %q, got %T", js, res)
}

// unwrapJS replaces a raw binding with a function that unwraps the
// [value, error] pair QuickJS returns for (T, error) results.
const unwrapJS = `(function(raw, name) {
	var fn = globalThis[raw];
	delete globalThis[raw];
	globalThis[name] = function() {
		var r = fn.apply(this, arguments);
		if (!Array.isArray(r) || r.length !== 2) return r;
		if (r[1] != null) throw new TypeError('calling ' + name + ': ' + r[1]);
		return r[0];
	};
})(%q, %q)`

// RegisterFunc exposes fn as a global function. A non-nil trailing error
// result is thrown as a TypeError.
func (r *qjsRuntime) RegisterFunc(name string, fn any) error {
	if r.terminated.Load() {
		return core.ErrExecutionTerminated
	}
	raw := "__raw_" + name
	if err := r.vm.RegisterFunc(raw, fn, false); err != nil {
		return fmt.Errorf("registering %s: %w", name, err)
	}
	return r.Eval(fmt.Sprintf(unwrapJS, raw, name))
}

func (r *qjsRuntime) SetGlobal(name string, value any) error {
	if r.terminated.Load() {
		return core.ErrExecutionTerminated
	}
	atom, err := r.vm.NewAtom(name)
	if err != nil {
		return fmt.Errorf("setting global %q: %w", name, err)
	}
	global := r.vm.GlobalObject()
	defer global.Free()
	return global.SetProperty(atom, value)
}

// RunMicrotasks drains the VM's promise job queue.
func (r *qjsRuntime) RunMicrotasks() {
	if r.terminated.Load() {
		return
	}
	executePendingJobs(r.vm)
}
