package webapi

import "github.com/cryguy/workerhost/internal/core"

// channelJS defines MessageChannel and MessagePort for use inside one
// worker. Payloads are copied through JSON, like messages to the creator.
// A port queues messages until it is started, either by start() or by
// assigning onmessage; delivery happens on a microtask.
const channelJS = `
(function() {
	function MessagePort() {
		__makeEventTarget(this);
		var handler = null;
		Object.defineProperty(this, 'onmessage', {
			get: function() { return handler; },
			set: function(fn) { handler = fn; this.start(); },
		});
		this.onmessageerror = null;
		this.__remote = null;
		this.__started = false;
		this.__closed = false;
		this.__queue = [];
	}
	MessagePort.prototype.__deliver = function(ev) {
		var port = this;
		queueMicrotask(function() {
			if (!port.__closed) port.dispatchEvent(ev);
		});
	};
	MessagePort.prototype.postMessage = function(message) {
		var remote = this.__remote;
		if (this.__closed || !remote) return;
		var data;
		try {
			data = JSON.parse(JSON.stringify(message === undefined ? null : message));
		} catch (e) {
			remote.__deliver(new MessageEvent('messageerror', { data: e }));
			return;
		}
		var ev = new MessageEvent('message', { data: data });
		if (remote.__started) {
			remote.__deliver(ev);
		} else {
			remote.__queue.push(ev);
		}
	};
	MessagePort.prototype.start = function() {
		if (this.__started) return;
		this.__started = true;
		var pending = this.__queue.splice(0);
		for (var i = 0; i < pending.length; i++) this.__deliver(pending[i]);
	};
	MessagePort.prototype.close = function() {
		this.__closed = true;
		if (this.__remote) this.__remote.__remote = null;
		this.__remote = null;
		this.__queue = [];
	};

	function MessageChannel() {
		this.port1 = new MessagePort();
		this.port2 = new MessagePort();
		this.port1.__remote = this.port2;
		this.port2.__remote = this.port1;
	}

	globalThis.MessagePort = MessagePort;
	globalThis.MessageChannel = MessageChannel;
})();
`

// SetupMessageChannel installs MessageChannel and MessagePort.
func SetupMessageChannel(rt core.JSRuntime, _ core.ScopeHost) error {
	return rt.Eval(channelJS)
}
