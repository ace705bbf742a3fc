package webapi

import "github.com/cryguy/workerhost/internal/core"

// consoleJS builds a console object whose methods forward to __console.
// Objects are rendered as JSON where possible.
const consoleJS = `
(function() {
	function render(arg) {
		if (typeof arg === 'string') return arg;
		if (arg instanceof Error) return arg.stack || String(arg);
		if (typeof arg === 'object' && arg !== null) {
			try { return JSON.stringify(arg); } catch (e) { return String(arg); }
		}
		return String(arg);
	}
	var con = {};
	['log', 'info', 'warn', 'error', 'debug'].forEach(function(lvl) {
		con[lvl] = function() {
			var parts = [];
			for (var i = 0; i < arguments.length; i++) parts.push(render(arguments[i]));
			__console(lvl, parts.join(' '));
		};
	});
	globalThis.console = con;
})();
`

// SetupConsole routes console output to the creator.
func SetupConsole(rt core.JSRuntime, host core.ScopeHost) error {
	if err := rt.RegisterFunc("__console", func(level, message string) {
		host.ReportConsoleMessage(level, message)
	}); err != nil {
		return err
	}
	return rt.Eval(consoleJS)
}

// consoleExtJS adds the less common console methods on top of the basic
// ones.
const consoleExtJS = `
(function() {
	var timers = {};
	var counters = {};
	var depth = 0;
	function indent(s) { return new Array(depth + 1).join('  ') + s; }

	var base = {};
	['log', 'info', 'warn', 'error', 'debug'].forEach(function(lvl) {
		base[lvl] = console[lvl];
		console[lvl] = function() {
			var args = Array.prototype.slice.call(arguments);
			if (depth > 0 && args.length > 0) args[0] = indent(String(args[0]));
			base[lvl].apply(console, args);
		};
	});

	console.time = function(label) {
		timers[label || 'default'] = performance.now();
	};
	console.timeEnd = function(label) {
		var l = label || 'default';
		if (timers[l] === undefined) { console.warn('Timer "' + l + '" does not exist'); return; }
		var elapsed = performance.now() - timers[l];
		delete timers[l];
		console.log(l + ': ' + elapsed.toFixed(3) + 'ms');
	};
	console.count = function(label) {
		var l = label || 'default';
		counters[l] = (counters[l] || 0) + 1;
		console.log(l + ': ' + counters[l]);
	};
	console.countReset = function(label) {
		counters[label || 'default'] = 0;
	};
	console.assert = function(cond) {
		if (cond) return;
		var rest = Array.prototype.slice.call(arguments, 1);
		console.error.apply(console, ['Assertion failed' + (rest.length ? ':' : '')].concat(rest));
	};
	console.table = console.dir = function(data) {
		console.log(JSON.stringify(data, null, 2));
	};
	console.trace = function() {
		console.debug.apply(console, ['Trace:'].concat(Array.prototype.slice.call(arguments)));
	};
	console.group = function(label) {
		if (label !== undefined) console.log(label);
		depth++;
	};
	console.groupEnd = function() {
		if (depth > 0) depth--;
	};
})();
`

// SetupConsoleExt evaluates the extended console methods.
func SetupConsoleExt(rt core.JSRuntime, _ core.ScopeHost) error {
	return rt.Eval(consoleExtJS)
}
