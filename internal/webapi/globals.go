package webapi

import (
	"fmt"
	"net/url"

	"github.com/cryguy/workerhost/internal/core"
)

// SetupGlobals defines self, name, location and navigator from the scope
// description.
func SetupGlobals(rt core.JSRuntime, host core.ScopeHost) error {
	info := host.Info()
	loc := map[string]string{"href": info.ScriptURL}
	if u, err := url.Parse(info.ScriptURL); err == nil {
		loc["protocol"] = u.Scheme + ":"
		loc["host"] = u.Host
		loc["hostname"] = u.Hostname()
		loc["port"] = u.Port()
		loc["pathname"] = u.Path
		loc["search"] = ""
		if u.RawQuery != "" {
			loc["search"] = "?" + u.RawQuery
		}
		loc["origin"] = u.Scheme + "://" + u.Host
	}

	js := fmt.Sprintf(`
globalThis.self = globalThis;
globalThis.name = %s;
globalThis.location = Object.freeze({
	href: %s, protocol: %s, host: %s, hostname: %s, port: %s,
	pathname: %s, search: %s, origin: %s,
	toString: function() { return this.href; }
});
globalThis.navigator = Object.freeze({ userAgent: %s, hardwareConcurrency: 1 });
if (typeof globalThis.performance === 'undefined') {
	var __start = Date.now();
	globalThis.performance = { now: function() { return Date.now() - __start; } };
}
`,
		jsString(info.Name),
		jsString(loc["href"]), jsString(loc["protocol"]), jsString(loc["host"]),
		jsString(loc["hostname"]), jsString(loc["port"]), jsString(loc["pathname"]),
		jsString(loc["search"]), jsString(loc["origin"]),
		jsString(info.UserAgent),
	)
	return rt.Eval(js)
}
