package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	worker "github.com/cryguy/workerhost"
	"github.com/cryguy/workerhost/internal/codecache"
	"github.com/cryguy/workerhost/internal/config"
	"github.com/cryguy/workerhost/internal/inspector"
	"github.com/cryguy/workerhost/internal/log"
)

// idlePoll is how often a running worker is checked for remaining work.
const idlePoll = 10 * time.Millisecond

type runOptions struct {
	kind    string
	message string
	inspect string
	pause   bool
	module  bool
	timeout time.Duration
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run [flags] script...",
	Short: "Run worker scripts until they finish",
	Long: `Run one worker per script and wait for all of them.

A worker finishes when it calls close(), or once its script has run and it
has no timers or unanswered messages left. With --inspect, workers keep
running until interrupted so a debugger can attach.

Examples:
  workerhost run echo.js --message '{"n":1}'
  workerhost run --kind shared counter.js
  workerhost run --inspect 127.0.0.1:9229 --pause worker.js`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runScripts(ctx, cfg, runOpts, args, cmd.OutOrStdout())
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOpts.kind, "kind", "k", "dedicated", "Worker kind: dedicated, shared, compositor")
	runCmd.Flags().StringVarP(&runOpts.message, "message", "m", "", "JSON message to post to each worker after start")
	runCmd.Flags().StringVar(&runOpts.inspect, "inspect", "", "Serve the inspector on this address")
	runCmd.Flags().BoolVar(&runOpts.pause, "pause", false, "Wait for a debugger before running scripts")
	runCmd.Flags().BoolVar(&runOpts.module, "module", false, "Treat scripts as ES modules (implied for .mjs)")
	runCmd.Flags().DurationVarP(&runOpts.timeout, "timeout", "t", 0, "Terminate workers still running after this long")
}

func runScripts(ctx context.Context, cfg config.Config, opts runOptions, paths []string, out io.Writer) error {
	kind, err := worker.ParseKind(opts.kind)
	if err != nil {
		return err
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	hostOpts := []worker.HostOption{worker.WithEngineConfig(cfg.EngineConfig())}
	if !cfg.CodeCache.Disabled {
		store, err := openCodeCache(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		hostOpts = append(hostOpts, worker.WithCodeCache(store))
	}

	inspectAddr := opts.inspect
	if inspectAddr == "" {
		inspectAddr = cfg.Inspector.Addr
	}
	if inspectAddr != "" {
		srv := inspector.NewServer(cfg.Inspector.MaxConnections)
		addr, err := srv.Start(inspectAddr)
		if err != nil {
			return fmt.Errorf("failed to start inspector: %w", err)
		}
		defer srv.Close(context.Background())
		fmt.Fprintf(out, "inspector listening on http://%s/json/list\n", addr)
		hostOpts = append(hostOpts, worker.WithInspector(srv))
	}

	host, err := worker.NewHost(hostOpts...)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := host.Close(closeCtx); err != nil {
			log.Warn("workers did not shut down in time", "error", err)
		}
	}()

	var outMu sync.Mutex
	printf := func(format string, args ...any) {
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintf(out, format, args...)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, path := range paths {
		wopts, err := workerOptions(path, kind, opts)
		if err != nil {
			return err
		}
		label := filepath.Base(path)
		wopts.OnMessage = func(data string) { printf("%s: %s\n", label, data) }
		wopts.OnConsole = func(msg worker.ConsoleMessage) { printf("%s [%s] %s\n", label, msg.Level, msg.Message) }
		wopts.OnError = func(err *worker.ScriptError) bool {
			printf("%s: uncaught %s\n", label, err)
			return true
		}
		w, err := host.NewWorker(gctx, wopts)
		if err != nil {
			return err
		}
		if opts.message != "" {
			if err := w.PostMessage(opts.message); err != nil {
				return err
			}
		}
		if wopts.StartMode == worker.PauseOnStart {
			printf("%s: waiting for debugger at /devtools/%s\n", label, w.ID())
		}
		g.Go(func() error { return superviseWorker(gctx, w, label, inspectAddr != "") })
	}
	err = g.Wait()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// superviseWorker waits for w to finish and terminates it when ctx ends.
func superviseWorker(ctx context.Context, w *worker.Worker, label string, keepAlive bool) error {
	defer w.Release()

	select {
	case ok := <-w.Evaluated():
		if !ok {
			w.Terminate()
			return fmt.Errorf("%s: script evaluation failed", label)
		}
	case <-w.Terminated():
		return nil
	case <-ctx.Done():
		w.Terminate()
		return ctx.Err()
	}

	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()
	for {
		select {
		case <-w.Terminated():
			return nil
		case <-ctx.Done():
			w.Terminate()
			return ctx.Err()
		case <-ticker.C:
			if !keepAlive && !w.HasPendingActivity() {
				w.Terminate()
				return nil
			}
		}
	}
}

func workerOptions(path string, kind worker.Kind, opts runOptions) (worker.WorkerOptions, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return worker.WorkerOptions{}, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	source, err := os.ReadFile(abs)
	if err != nil {
		return worker.WorkerOptions{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	wopts := worker.WorkerOptions{
		Kind:      kind,
		ScriptURL: "file://" + filepath.ToSlash(abs),
		Source:    string(source),
		Name:      strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}
	if opts.module || strings.HasSuffix(path, ".mjs") {
		wopts.ScriptType = worker.ModuleScript
	}
	if opts.pause {
		wopts.StartMode = worker.PauseOnStart
	}
	return wopts, nil
}

func openCodeCache(cfg config.Config) (*codecache.Store, error) {
	if cfg.CodeCache.Path == "" {
		return codecache.OpenMemory()
	}
	return codecache.Open(cfg.CodeCache.Path)
}
