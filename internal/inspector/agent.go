// Package inspector exposes workers to DevTools-style clients. Agent answers
// protocol commands on a worker's backing thread; Server carries them over
// websocket sessions.
package inspector

import (
	"encoding/json"
	"fmt"

	"github.com/cryguy/workerhost/internal/core"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

// Request is an inspector command.
type Request struct {
	ID     int             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request with either Result or Error.
type Response struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a Response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Agent serves inspector commands for one worker. Handle runs on the
// worker's backing thread, from its debugger queue.
type Agent struct {
	resume func()
}

// NewAgent returns an agent. resume is called for
// Runtime.runIfWaitingForDebugger and Debugger.resume and should release a
// worker paused on start.
func NewAgent(resume func()) *Agent {
	return &Agent{resume: resume}
}

// Handle answers one raw command. It returns the encoded reply.
func (a *Agent) Handle(ctx core.ExecutionContext, message string) string {
	var req Request
	if err := json.Unmarshal([]byte(message), &req); err != nil {
		return encode(Response{Error: &RPCError{Code: codeParseError, Message: err.Error()}})
	}

	var (
		result json.RawMessage
		rpcErr *RPCError
	)
	switch req.Method {
	case "Runtime.evaluate":
		result, rpcErr = a.evaluate(ctx, req.Params)
	case "Runtime.runIfWaitingForDebugger", "Debugger.resume":
		if a.resume != nil {
			a.resume()
		}
		result = json.RawMessage(`{}`)
	default:
		rpcErr = &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("'%s' wasn't found", req.Method)}
	}
	return encode(Response{ID: req.ID, Result: result, Error: rpcErr})
}

const evaluateScript = `(function () {
	const expression = globalThis.__inspectorExpression;
	globalThis.__inspectorExpression = undefined;
	try {
		const v = (0, eval)(expression);
		const r = { type: v === null ? "object" : typeof v };
		if (v === null) r.subtype = "null";
		if (r.type !== "undefined" && r.type !== "function" && r.type !== "symbol") {
			try { r.value = JSON.parse(JSON.stringify(v)); } catch (_) {}
		}
		r.description = String(v);
		return JSON.stringify({ result: r });
	} catch (e) {
		const exception = { type: "object", subtype: "error", description: e && e.stack ? String(e.stack) : String(e) };
		return JSON.stringify({ result: exception, exceptionDetails: { text: "Uncaught", exception: exception } });
	}
})()`

func (a *Agent) evaluate(ctx core.ExecutionContext, params json.RawMessage) (json.RawMessage, *RPCError) {
	var p struct {
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Expression == "" {
		return nil, &RPCError{Code: codeInvalidParams, Message: "expression is required"}
	}
	rt := ctx.Runtime()
	if err := rt.SetGlobal("__inspectorExpression", p.Expression); err != nil {
		return nil, &RPCError{Code: codeServerError, Message: err.Error()}
	}
	out, err := rt.EvalString(evaluateScript)
	if err != nil {
		return nil, &RPCError{Code: codeServerError, Message: err.Error()}
	}
	rt.RunMicrotasks()
	return json.RawMessage(out), nil
}

func encode(r Response) string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"id":%d,"error":{"code":%d,"message":%q}}`, r.ID, codeServerError, err.Error())
	}
	return string(data)
}
