//go:build v8

package v8engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"

	v8 "github.com/tommie/v8go"

	"github.com/cryguy/workerhost/internal/core"
)

// hostOrigin names scripts the host itself evaluates in a worker.
const hostOrigin = "workerhost:internal"

// v8Runtime implements core.JSRuntime on one isolate and its context.
type v8Runtime struct {
	iso        *v8.Isolate
	ctx        *v8.Context
	terminated atomic.Bool
}

var _ core.JSRuntime = (*v8Runtime)(nil)

// run evaluates js and maps a thrown exception to a ScriptError. A nil
// value means undefined.
func (r *v8Runtime) run(js string) (*v8.Value, error) {
	if r.terminated.Load() {
		return nil, core.ErrExecutionTerminated
	}
	val, err := r.ctx.RunScript(js, hostOrigin)
	if err != nil {
		return nil, convertError(err)
	}
	return val, nil
}

func (r *v8Runtime) Eval(js string) error {
	_, err := r.run(js)
	return err
}

func (r *v8Runtime) EvalString(js string) (string, error) {
	val, err := r.run(js)
	if err != nil || val == nil || val.IsUndefined() || val.IsNull() {
		return "", err
	}
	return val.String(), nil
}

func (r *v8Runtime) EvalBool(js string) (bool, error) {
	val, err := r.run(js)
	if err != nil {
		return false, err
	}
	if val == nil || !val.IsBoolean() {
		return false, fmt.Errorf("expected bool from %q", js)
	}
	return val.Boolean(), nil
}

func (r *v8Runtime) EvalInt(js string) (int, error) {
	val, err := r.run(js)
	if err != nil {
		return 0, err
	}
	if val == nil || !val.IsNumber() {
		return 0, fmt.Errorf("expected number from %q", js)
	}
	return int(val.Integer()), nil
}

// RegisterFunc exposes fn as a global function. fn may return nothing, a
// value, or a value and an error; a non-nil error is thrown as a TypeError.
// Arguments and results are limited to strings, numbers and booleans.
func (r *v8Runtime) RegisterFunc(name string, fn any) error {
	if r.terminated.Load() {
		return core.ErrExecutionTerminated
	}
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return fmt.Errorf("registering %s: expected a function, got %T", name, fn)
	}
	if ft.NumOut() > 2 || (ft.NumOut() == 2 && !ft.Out(1).Implements(errorType)) {
		return fmt.Errorf("registering %s: unsupported signature %s", name, ft)
	}

	tmpl := v8.NewFunctionTemplate(r.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		if len(args) < ft.NumIn() {
			return r.throw(fmt.Sprintf("%s requires %d argument(s), got %d", name, ft.NumIn(), len(args)))
		}
		in := make([]reflect.Value, ft.NumIn())
		for i := range in {
			in[i] = fromJS(args[i], ft.In(i))
		}
		out := fv.Call(in)
		if len(out) == 2 && !out[1].IsNil() {
			return r.throw(fmt.Sprintf("calling %s: %v", name, out[1].Interface()))
		}
		if len(out) == 0 {
			return nil
		}
		return toJS(r.iso, out[0])
	})
	return r.ctx.Global().Set(name, tmpl.GetFunction(r.ctx))
}

// throw raises a TypeError carrying msg in the calling script.
func (r *v8Runtime) throw(msg string) *v8.Value {
	ex, err := r.ctx.RunScript("new TypeError("+strconv.Quote(msg)+")", hostOrigin)
	if err != nil {
		ex, _ = v8.NewValue(r.iso, msg)
	}
	return r.iso.ThrowException(ex)
}

// SetGlobal sets a global. Values other than scalars travel through JSON.
func (r *v8Runtime) SetGlobal(name string, value any) error {
	if r.terminated.Load() {
		return core.ErrExecutionTerminated
	}
	var (
		val *v8.Value
		err error
	)
	switch v := value.(type) {
	case nil:
		val = v8.Undefined(r.iso)
	case string, bool, float64, int32:
		val, err = v8.NewValue(r.iso, v)
	case int:
		val, err = v8.NewValue(r.iso, float64(v))
	case int64:
		val, err = v8.NewValue(r.iso, float64(v))
	case *v8.Value:
		val = v
	default:
		var data []byte
		if data, err = json.Marshal(value); err == nil {
			val, err = v8.JSONParse(r.ctx, string(data))
		}
	}
	if err != nil {
		return fmt.Errorf("converting value for %q: %w", name, err)
	}
	return r.ctx.Global().Set(name, val)
}

// RunMicrotasks runs a V8 microtask checkpoint.
func (r *v8Runtime) RunMicrotasks() {
	if r.terminated.Load() {
		return
	}
	r.ctx.PerformMicrotaskCheckpoint()
}

var errorType = reflect.TypeFor[error]()

func fromJS(val *v8.Value, t reflect.Type) reflect.Value {
	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(val.String())
	case reflect.Int:
		return reflect.ValueOf(int(val.Integer()))
	case reflect.Int64:
		return reflect.ValueOf(val.Integer())
	case reflect.Float64:
		return reflect.ValueOf(val.Number())
	case reflect.Bool:
		return reflect.ValueOf(val.Boolean())
	}
	return reflect.Zero(t)
}

func toJS(iso *v8.Isolate, v reflect.Value) *v8.Value {
	var (
		val *v8.Value
		err error
	)
	switch v.Kind() {
	case reflect.String:
		val, err = v8.NewValue(iso, v.String())
	case reflect.Int, reflect.Int32, reflect.Int64:
		val, err = v8.NewValue(iso, float64(v.Int()))
	case reflect.Float32, reflect.Float64:
		val, err = v8.NewValue(iso, v.Float())
	case reflect.Bool:
		val, err = v8.NewValue(iso, v.Bool())
	}
	if err != nil {
		return nil
	}
	return val
}

// convertError turns a thrown JS value into a ScriptError. V8 reports the
// throw site as "url:line:column".
func convertError(err error) error {
	var jsErr *v8.JSError
	if !errors.As(err, &jsErr) {
		return err
	}
	se := &core.ScriptError{Message: jsErr.Message}
	loc := jsErr.Location
	if i := strings.LastIndexByte(loc, ':'); i > 0 {
		col, cerr := strconv.Atoi(loc[i+1:])
		if j := strings.LastIndexByte(loc[:i], ':'); cerr == nil && j > 0 {
			if line, lerr := strconv.Atoi(loc[j+1 : i]); lerr == nil {
				se.SourceURL, se.Line, se.Column = loc[:j], line, col
			}
		}
	}
	if se.SourceURL == hostOrigin {
		se.SourceURL = ""
	}
	return se
}
