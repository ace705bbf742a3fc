package webapi

import "github.com/cryguy/workerhost/internal/core"

// eventTargetJS defines Event, MessageEvent and ErrorEvent, and makes the
// global object an event target. on<type> handler properties are honoured
// before listeners.
const eventTargetJS = `
(function() {
	function Event(type, init) {
		this.type = type;
		this.defaultPrevented = false;
		if (init) {
			for (var k in init) this[k] = init[k];
		}
	}
	Event.prototype.preventDefault = function() { this.defaultPrevented = true; };

	function MessageEvent(type, init) {
		Event.call(this, type, init);
		if (this.data === undefined) this.data = null;
		if (!this.ports) this.ports = [];
	}
	MessageEvent.prototype = Object.create(Event.prototype);

	function ErrorEvent(type, init) {
		Event.call(this, type, init);
		if (this.message === undefined) this.message = '';
		if (this.filename === undefined) this.filename = '';
		if (this.lineno === undefined) this.lineno = 0;
		if (this.colno === undefined) this.colno = 0;
		if (this.error === undefined) this.error = null;
	}
	ErrorEvent.prototype = Object.create(Event.prototype);

	function makeEventTarget(obj) {
		var listeners = {};
		obj.addEventListener = function(type, fn) {
			if (typeof fn !== 'function') return;
			var list = listeners[type] || (listeners[type] = []);
			if (list.indexOf(fn) < 0) list.push(fn);
		};
		obj.removeEventListener = function(type, fn) {
			var list = listeners[type];
			if (!list) return;
			var i = list.indexOf(fn);
			if (i >= 0) list.splice(i, 1);
		};
		obj.dispatchEvent = function(ev) {
			ev.target = obj;
			var handler = obj['on' + ev.type];
			if (typeof handler === 'function') {
				if (handler.call(obj, ev) === true && ev.type === 'error') ev.preventDefault();
			}
			var list = (listeners[ev.type] || []).slice();
			for (var i = 0; i < list.length; i++) list[i].call(obj, ev);
			return !ev.defaultPrevented;
		};
		return obj;
	}

	globalThis.Event = Event;
	globalThis.MessageEvent = MessageEvent;
	globalThis.ErrorEvent = ErrorEvent;
	globalThis.__makeEventTarget = makeEventTarget;
	makeEventTarget(globalThis);
})();
`

// SetupEventTarget makes the global scope an event target.
func SetupEventTarget(rt core.JSRuntime, _ core.ScopeHost) error {
	return rt.Eval(eventTargetJS)
}
