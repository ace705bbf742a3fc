package webapi

import (
	"fmt"
	"time"

	"github.com/cryguy/workerhost/internal/core"
)

// timersJS implements setTimeout/setInterval on top of __timerRegister.
// Callbacks stay in __timerCallbacks; the host only schedules ids.
const timersJS = `
(function() {
	var callbacks = globalThis.__timerCallbacks = {};
	function schedule(fn, delay, args, repeat) {
		if (typeof fn !== 'function') return 0;
		var id = __timerRegister(Math.max(0, Math.floor(Number(delay) || 0)), repeat);
		callbacks[id] = { fn: fn, args: args, repeat: repeat };
		return id;
	}
	globalThis.setTimeout = function(fn, delay) {
		return schedule(fn, delay, Array.prototype.slice.call(arguments, 2), false);
	};
	globalThis.setInterval = function(fn, interval) {
		return schedule(fn, interval, Array.prototype.slice.call(arguments, 2), true);
	};
	globalThis.clearTimeout = globalThis.clearInterval = function(id) {
		if (typeof id !== 'number' || !callbacks[id]) return;
		__timerClear(id);
		delete callbacks[id];
	};
	globalThis.queueMicrotask = function(fn) {
		Promise.resolve().then(fn);
	};
	globalThis.__timerFire = function(id) {
		var entry = callbacks[id];
		if (!entry) return;
		if (!entry.repeat) delete callbacks[id];
		try {
			entry.fn.apply(globalThis, entry.args);
		} catch (e) {
			reportError(e);
		}
	};
})();
`

// SetupTimers registers the host-backed timer primitives.
func SetupTimers(rt core.JSRuntime, host core.ScopeHost) error {
	if err := rt.RegisterFunc("__timerRegister", func(delayMs int, repeat bool) int {
		var id int
		id = host.SetTimer(time.Duration(delayMs)*time.Millisecond, repeat, func() error {
			return rt.Eval(fmt.Sprintf("globalThis.__timerFire(%d)", id))
		})
		return id
	}); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__timerClear", func(id int) {
		host.ClearTimer(id)
	}); err != nil {
		return err
	}
	return rt.Eval(timersJS)
}

// HasPendingActivity reports whether script still has timers scheduled.
func HasPendingActivity(rt core.JSRuntime) bool {
	pending, err := rt.EvalBool("Object.keys(globalThis.__timerCallbacks || {}).length > 0")
	return err == nil && pending
}
