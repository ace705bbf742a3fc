package webapi

import (
	"github.com/cryguy/workerhost/internal/core"
)

// dedicatedMessagingJS wires postMessage and message delivery for workers
// that talk to their creator through the global scope. Payloads cross the
// thread boundary as JSON text.
const dedicatedMessagingJS = `
globalThis.postMessage = function(message) {
	__postMessage(JSON.stringify(message === undefined ? null : message));
};
globalThis.__dispatchMessage = function(json) {
	var ev = new MessageEvent('message', { data: JSON.parse(json) });
	try {
		globalThis.dispatchEvent(ev);
	} catch (e) {
		reportError(e);
	}
};
`

// sharedMessagingJS gives shared workers a single port to their creator,
// announced through a connect event.
const sharedMessagingJS = `
(function() {
	var port = __makeEventTarget({
		postMessage: function(message) {
			__postMessage(JSON.stringify(message === undefined ? null : message));
		},
		start: function() {},
		close: function() {},
	});
	globalThis.__dispatchConnect = function() {
		globalThis.dispatchEvent(new MessageEvent('connect', { data: '', ports: [port], source: port }));
	};
	globalThis.__dispatchPortMessage = function(json) {
		var ev = new MessageEvent('message', { data: JSON.parse(json) });
		try {
			port.dispatchEvent(ev);
		} catch (e) {
			reportError(e);
		}
	};
})();
`

func registerPostMessage(rt core.JSRuntime, host core.ScopeHost) error {
	return rt.RegisterFunc("__postMessage", func(data string) {
		host.PostMessageToCreator(data)
	})
}

// SetupDedicatedMessaging installs postMessage/onmessage on the global
// scope.
func SetupDedicatedMessaging(rt core.JSRuntime, host core.ScopeHost) error {
	if err := registerPostMessage(rt, host); err != nil {
		return err
	}
	return rt.Eval(dedicatedMessagingJS)
}

// SetupSharedMessaging installs the connect event and its port.
func SetupSharedMessaging(rt core.JSRuntime, host core.ScopeHost) error {
	if err := registerPostMessage(rt, host); err != nil {
		return err
	}
	return rt.Eval(sharedMessagingJS)
}

// DispatchMessage delivers a JSON message to the global scope.
func DispatchMessage(rt core.JSRuntime, data string) error {
	return rt.Eval("globalThis.__dispatchMessage(" + jsString(data) + ")")
}

// DispatchConnect fires the connect event of a shared worker.
func DispatchConnect(rt core.JSRuntime) error {
	return rt.Eval("globalThis.__dispatchConnect()")
}

// DispatchPortMessage delivers a JSON message to a shared worker's port.
func DispatchPortMessage(rt core.JSRuntime, data string) error {
	return rt.Eval("globalThis.__dispatchPortMessage(" + jsString(data) + ")")
}
