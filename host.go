package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cryguy/workerhost/internal/codecache"
	"github.com/cryguy/workerhost/internal/core"
	"github.com/cryguy/workerhost/internal/eventloop"
	"github.com/cryguy/workerhost/internal/inspector"
	"github.com/cryguy/workerhost/internal/log"
	"github.com/cryguy/workerhost/internal/workerthread"
)

// ErrHostClosed is returned by NewWorker after Close.
var ErrHostClosed = errors.New("worker host is closed")

// HostOption configures a Host.
type HostOption func(*Host)

// WithEngineConfig sets engine limits and selects the backend.
func WithEngineConfig(cfg EngineConfig) HostOption {
	return func(h *Host) { h.cfg = cfg }
}

// WithCodeCache loads cached metadata for new workers from store and saves
// what engines produce back into it.
func WithCodeCache(store *codecache.Store) HostOption {
	return func(h *Host) { h.cache = store }
}

// WithInspector publishes every worker as a target on srv.
func WithInspector(srv *inspector.Server) HostOption {
	return func(h *Host) { h.inspector = srv }
}

// WithUserAgent sets navigator.userAgent for new workers.
func WithUserAgent(ua string) HostOption {
	return func(h *Host) { h.userAgent = ua }
}

// Host is the creator side of a set of workers. It owns the creator thread
// every worker reports back on.
type Host struct {
	cfg       EngineConfig
	cache     *codecache.Store
	inspector *inspector.Server
	userAgent string

	engine     ScriptEngine
	creator    *eventloop.Thread
	compositor *eventloop.SharedThread
	registry   *workerthread.Registry

	mu      sync.Mutex
	workers map[string]*Worker
	closed  bool
}

// NewHost returns a running host.
func NewHost(opts ...HostOption) (*Host, error) {
	h := &Host{
		userAgent:  "workerhost",
		compositor: eventloop.NewSharedThread("compositor-worker"),
		registry:   workerthread.NewRegistry(),
		workers:    make(map[string]*Worker),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.cfg = h.cfg.WithDefaults()

	engine, err := NewScriptEngine(h.cfg)
	if err != nil {
		return nil, err
	}
	h.engine = engine
	h.creator = eventloop.NewThread("worker-host")
	log.Debug("worker host started", "engine", engine.Name())
	return h, nil
}

// Engine returns the script engine workers run on.
func (h *Host) Engine() ScriptEngine { return h.engine }

// Len returns the number of workers not yet fully torn down.
func (h *Host) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.workers)
}

// NewWorker creates and starts a worker running opts.Source. Compositor
// workers of one host share a thread that no other host uses.
func (h *Host) NewWorker(ctx context.Context, opts WorkerOptions) (*Worker, error) {
	var delegate workerthread.KindDelegate
	if opts.Kind == Compositor {
		delegate = workerthread.NewCompositorKind(h.compositor)
	} else {
		var err error
		if delegate, err = workerthread.NewKindDelegate(opts.Kind); err != nil {
			return nil, err
		}
	}
	if opts.ScriptURL == "" {
		return nil, fmt.Errorf("worker script URL is required")
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHostClosed
	}
	h.mu.Unlock()

	digest := codecache.Digest(opts.Source)
	bundle := core.NewStartupBundle(core.BundleParams{
		ScriptURL:      opts.ScriptURL,
		Source:         opts.Source,
		UserAgent:      h.userAgent,
		Name:           opts.Name,
		CachedMetadata: h.loadCode(ctx, opts.ScriptURL, digest),
		CSP:            opts.CSP,
		StarterOrigin:  opts.StarterOrigin,
		Extensions:     opts.Extensions,
		StartMode:      opts.StartMode,
		ScriptType:     opts.ScriptType,
	})

	w := newWorker(h, opts, delegate, digest)
	h.mu.Lock()
	h.workers[w.id] = w
	h.mu.Unlock()
	if h.inspector != nil {
		h.inspector.AddTarget(w)
	}

	w.proxy.StartWorker(bundle)
	log.Debug("worker created", "worker", w.id, "kind", opts.Kind.String(), "url", opts.ScriptURL)
	return w, nil
}

// Close terminates every worker, waits for their threads to finish and for
// their last reports to be delivered, then stops the creator thread.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	workers := make([]*Worker, 0, len(h.workers))
	for _, w := range h.workers {
		workers = append(workers, w)
	}
	h.mu.Unlock()

	for _, w := range workers {
		w.Terminate()
	}
	var err error
	for _, w := range workers {
		if werr := w.WaitForTermination(ctx); werr != nil && err == nil {
			err = werr
		}
	}
	if err == nil {
		h.registry.TerminateAll()
		err = h.drainReports(ctx, workers)
	}

	h.creator.Stop()
	<-h.creator.Done()
	h.compositor.Shutdown()
	return err
}

// drainReports runs the creator thread until every worker's termination
// report, and so everything the worker reported before it, has been
// delivered.
func (h *Host) drainReports(ctx context.Context, workers []*Worker) error {
	for _, w := range workers {
		for !w.threadGone() {
			done := make(chan struct{})
			if err := h.creator.PostTask(func() { close(done) }); err != nil {
				return err
			}
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func (h *Host) forget(w *Worker) {
	h.mu.Lock()
	delete(h.workers, w.id)
	h.mu.Unlock()
	if h.inspector != nil {
		h.inspector.RemoveTarget(w.id)
	}
}

func (h *Host) loadCode(ctx context.Context, url, digest string) []byte {
	if h.cache == nil {
		return nil
	}
	data, err := h.cache.Get(ctx, url, digest)
	if err != nil {
		if !errors.Is(err, codecache.ErrCacheMiss) {
			log.Warn("code cache read failed", "url", url, "error", err)
		}
		return nil
	}
	return data
}

func (h *Host) storeCode(url, digest string, data []byte) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Put(context.Background(), url, digest, data); err != nil {
		log.Warn("code cache write failed", "url", url, "error", err)
	}
}
