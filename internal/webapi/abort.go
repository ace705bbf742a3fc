package webapi

import "github.com/cryguy/workerhost/internal/core"

// abortJS defines DOMException, AbortSignal and AbortController on top of
// the global event target helpers. AbortSignal.timeout uses the worker's
// own timers, so a pending timeout counts as pending activity.
const abortJS = `
(function() {
	function DOMException(message, name) {
		var e = new Error(message || '');
		Object.setPrototypeOf(e, DOMException.prototype);
		e.name = name || 'Error';
		return e;
	}
	DOMException.prototype = Object.create(Error.prototype);
	DOMException.prototype.constructor = DOMException;

	function AbortSignal() {
		__makeEventTarget(this);
		this.aborted = false;
		this.reason = undefined;
		this.onabort = null;
	}
	AbortSignal.prototype.throwIfAborted = function() {
		if (this.aborted) throw this.reason;
	};
	AbortSignal.prototype.__abort = function(reason) {
		if (this.aborted) return;
		this.aborted = true;
		this.reason = reason !== undefined ? reason : new DOMException('This operation was aborted', 'AbortError');
		this.dispatchEvent(new Event('abort'));
	};
	AbortSignal.abort = function(reason) {
		var s = new AbortSignal();
		s.__abort(reason);
		return s;
	};
	AbortSignal.timeout = function(ms) {
		var s = new AbortSignal();
		setTimeout(function() {
			s.__abort(new DOMException('The operation timed out.', 'TimeoutError'));
		}, ms);
		return s;
	};
	AbortSignal.any = function(signals) {
		var s = new AbortSignal();
		for (var i = 0; i < signals.length; i++) {
			if (signals[i].aborted) {
				s.__abort(signals[i].reason);
				return s;
			}
		}
		signals.forEach(function(src) {
			src.addEventListener('abort', function() { s.__abort(src.reason); });
		});
		return s;
	};

	function AbortController() {
		this.signal = new AbortSignal();
	}
	AbortController.prototype.abort = function(reason) {
		this.signal.__abort(reason);
	};

	globalThis.DOMException = DOMException;
	globalThis.AbortSignal = AbortSignal;
	globalThis.AbortController = AbortController;
})();
`

// SetupAbort installs AbortController and AbortSignal.
func SetupAbort(rt core.JSRuntime, _ core.ScopeHost) error {
	return rt.Eval(abortJS)
}
