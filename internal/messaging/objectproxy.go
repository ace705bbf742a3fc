package messaging

import (
	"bytes"

	"github.com/cryguy/workerhost/internal/core"
	"github.com/cryguy/workerhost/internal/log"
	"github.com/cryguy/workerhost/internal/workerthread"
)

// ObjectProxy is the worker's reporting channel. Each call is posted to the
// creator thread and applied to the Proxy there; nothing is done on the
// worker's thread and nothing blocks.
type ObjectProxy struct {
	creator TaskRunner
	proxy   *Proxy
}

var _ workerthread.ReportingProxy = (*ObjectProxy)(nil)

// NewObjectProxy returns a reporting channel that forwards to proxy on
// creator.
func NewObjectProxy(creator TaskRunner, proxy *Proxy) *ObjectProxy {
	return &ObjectProxy{creator: creator, proxy: proxy}
}

func (o *ObjectProxy) post(what string, fn func()) {
	if err := o.creator.PostTask(fn); err != nil {
		log.Debug("dropping worker report", "report", what, "error", err)
	}
}

func (o *ObjectProxy) ReportException(err *core.ScriptError) {
	e := *err
	o.post("exception", func() { o.proxy.ReportException(&e) })
}

func (o *ObjectProxy) ReportConsoleMessage(msg core.ConsoleMessage) {
	o.post("console", func() { o.proxy.ReportConsoleMessage(msg) })
}

func (o *ObjectProxy) PostMessageToWorkerObject(data string) {
	o.post("message", func() { o.proxy.PostMessageToWorkerObject(data) })
}

func (o *ObjectProxy) ConfirmMessageFromWorkerObject(hasPendingActivity bool) {
	o.post("confirm", func() { o.proxy.ConfirmMessageFromWorkerObject(hasPendingActivity) })
}

func (o *ObjectProxy) ReportPendingActivity(hasPendingActivity bool) {
	o.post("pending-activity", func() { o.proxy.ReportPendingActivity(hasPendingActivity) })
}

func (o *ObjectProxy) PostMessageToPageInspector(message string) {
	o.post("inspector", func() { o.proxy.PostMessageToPageInspector(message) })
}

func (o *ObjectProxy) SetCachedMetadata(url string, data []byte) {
	data = bytes.Clone(data)
	o.post("cached-metadata", func() { o.proxy.SetCachedMetadata(url, data) })
}

func (o *ObjectProxy) DidEvaluateWorkerScript(success bool) {
	o.post("evaluated", func() { o.proxy.DidEvaluateWorkerScript(success) })
}

func (o *ObjectProxy) WorkerGlobalScopeStarted() {
	o.post("started", o.proxy.WorkerGlobalScopeStarted)
}

func (o *ObjectProxy) WorkerGlobalScopeClosed() {
	o.post("closed", o.proxy.WorkerGlobalScopeClosed)
}

func (o *ObjectProxy) WillDestroyWorkerGlobalScope() {
	o.post("will-destroy", o.proxy.WillDestroyWorkerGlobalScope)
}

func (o *ObjectProxy) WorkerThreadTerminated() {
	o.post("terminated", o.proxy.WorkerThreadTerminated)
}
