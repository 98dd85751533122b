package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/Sakurayuki-A/StarDriver/internal/bufpool"
	"github.com/Sakurayuki-A/StarDriver/internal/cache"
	"github.com/Sakurayuki-A/StarDriver/internal/health"
	sdhttp "github.com/Sakurayuki-A/StarDriver/internal/http"
	"github.com/Sakurayuki-A/StarDriver/internal/manifest"
	"github.com/Sakurayuki-A/StarDriver/internal/progress"
	"github.com/Sakurayuki-A/StarDriver/internal/scanner"
	"github.com/Sakurayuki-A/StarDriver/internal/scheduler"
)

// ErrAlreadyRunning is returned when Run is called on an engine that
// is already mid-run.
var ErrAlreadyRunning = errors.New("downloader: engine is already running")

const (
	// healthCheckInterval paces the pool-health evaluation.
	healthCheckInterval = 30 * time.Second

	// connRecycleInterval forces idle connections out of the pool.
	connRecycleInterval = 2 * time.Minute

	// maxAdvisoryWorkers caps the server's concurrency advisory.
	maxAdvisoryWorkers = 16
)

// Result summarizes a finished run.
type Result struct {
	Total     int
	Succeeded int
	Failed    int
	Cancelled int
}

// Ok reports whether every task in the download set completed.
func (r *Result) Ok() bool {
	return r.Failed == 0 && r.Cancelled == 0
}

// Engine drives a full sync: manifest retrieval, scan, tiered
// download, cache flush. Engines are independent; there is no shared
// global state between instances.
type Engine struct {
	client *manifest.Client
	http   *sdhttp.Client
	fs     afero.Fs
	cache  *cache.Cache
	health *health.Monitor
	sink   progress.Sink
	log    *slog.Logger

	// binDir is the absolute pso2_bin directory files install under.
	binDir string

	// RetryOverride replaces the server-advised retry count when > 0.
	RetryOverride int

	running atomic.Bool
	sleep   sleepFunc
}

// NewEngine creates an engine. sink may be nil for headless runs.
func NewEngine(client *manifest.Client, hc *sdhttp.Client, fs afero.Fs, dcache *cache.Cache, mon *health.Monitor, sink progress.Sink, binDir string, log *slog.Logger) *Engine {
	if sink == nil {
		sink = progress.NullSink{}
	}
	return &Engine{
		client: client,
		http:   hc,
		fs:     fs,
		cache:  dcache,
		health: mon,
		sink:   sink,
		log:    log,
		binDir: binDir,
		sleep:  defaultSleep,
	}
}

// Run executes one sync pass. Partial success is a normal outcome:
// the Result carries per-status counts and the error is non-nil only
// for run-wide failures (manifest retrieval or scan).
func (e *Engine) Run(ctx context.Context, sel manifest.Selection, policy scanner.Policy) (*Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer e.running.Store(false)

	e.cache.Load(ctx)

	root, err := e.client.FetchRoot(ctx)
	if err != nil {
		return nil, err
	}

	// The root descriptor may advise its own concurrency. The tiered
	// split stays authoritative for the pool; the advisory is logged
	// so operators can see what the server asked for.
	if advisory := max(root.ThreadNum, root.ParallelThreadNum); advisory > 1 {
		e.log.Info("server advises concurrency",
			slog.Int("advised", min(advisory, maxAdvisoryWorkers)),
			slog.Int("pool", scheduler.TotalWorkers))
	}
	maxRetries := root.RetryNum
	if e.RetryOverride > 0 {
		maxRetries = e.RetryOverride
	}

	entries, err := e.client.FetchManifest(ctx, root, sel)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	scn := scanner.New(e.fs, e.cache, e.sink, e.log)
	need, err := scn.Scan(ctx, entries, e.binDir, policy)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	if len(need) == 0 {
		e.cache.Flush(ctx)
		e.sink.OnDownloadCompleted(true, 0, 0, 0)
		return &Result{Total: len(entries)}, nil
	}

	tasks := make([]*Task, 0, len(need))
	for _, entry := range need {
		dest := filepath.Join(e.binDir, filepath.FromSlash(entry.RelPath))
		tasks = append(tasks, newTask(entry, dest))
	}

	e.sink.OnDownloadStarted(len(tasks))
	e.runPool(ctx, tasks, maxRetries)
	e.cache.Flush(ctx)

	result := &Result{Total: len(entries)}
	for _, task := range tasks {
		switch task.Status {
		case StatusCompleted:
			result.Succeeded++
		case StatusCancelled:
			result.Cancelled++
		case StatusPending:
			// Workers only leave tasks queued when the run was
			// cancelled out from under them.
			result.Cancelled++
		default:
			result.Failed++
		}
	}

	e.sink.OnDownloadCompleted(result.Ok(), result.Succeeded, result.Failed, result.Cancelled)
	e.log.Info("sync finished",
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Int("cancelled", result.Cancelled))
	return result, nil
}

// Check runs manifest retrieval and scan only, returning the entries
// a sync would download. Digests computed during the scan are flushed
// to the cache so a later sync benefits from the work.
func (e *Engine) Check(ctx context.Context, sel manifest.Selection, policy scanner.Policy) ([]manifest.Entry, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer e.running.Store(false)

	e.cache.Load(ctx)

	root, err := e.client.FetchRoot(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := e.client.FetchManifest(ctx, root, sel)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	scn := scanner.New(e.fs, e.cache, e.sink, e.log)
	need, err := scn.Scan(ctx, entries, e.binDir, policy)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	e.cache.Flush(ctx)
	return need, nil
}

// runPool starts the 28 tiered workers and waits for the queue to
// drain or the context to fire.
func (e *Engine) runPool(ctx context.Context, tasks []*Task, maxRetries int) {
	queue := scheduler.New(tasks, func(t *Task) int64 { return t.Entry.Size })
	bufs := bufpool.New(chunkSize)

	poolCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	go e.monitorPool(poolCtx)

	var wg sync.WaitGroup
	nextID := 0
	spawn := func(count int, affinity scheduler.Tier) {
		for i := 0; i < count; i++ {
			wg.Add(1)
			id := nextID
			nextID++
			go func(id int, affinity scheduler.Tier) {
				defer wg.Done()
				w := &worker{
					id:         id,
					affinity:   affinity,
					queue:      queue,
					opener:     e.client,
					fs:         e.fs,
					cache:      e.cache,
					health:     e.health,
					bufs:       bufs,
					sink:       e.sink,
					log:        e.log,
					maxRetries: maxRetries,
					sleep:      e.sleep,
				}
				w.run(ctx)
			}(id, affinity)
		}
	}

	spawn(scheduler.LargeWorkers, scheduler.Large)
	spawn(scheduler.MediumWorkers, scheduler.Medium)
	spawn(scheduler.SmallWorkers, scheduler.Small)
	wg.Wait()
}

// monitorPool periodically evaluates pool health and recycles idle
// connections. It only ever logs; no parameters are changed mid-run.
func (e *Engine) monitorPool(ctx context.Context) {
	healthTicker := time.NewTicker(healthCheckInterval)
	recycleTicker := time.NewTicker(connRecycleInterval)
	defer healthTicker.Stop()
	defer recycleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-healthTicker.C:
			if e.health.ShouldResetPool() {
				e.log.Warn("connection pool looks unhealthy; consider reducing concurrency",
					slog.Int("recent_errors", e.health.LiveErrors()),
					slog.Int64("total_errors", e.health.TotalErrors()))
			}
		case <-recycleTicker.C:
			e.http.CloseIdleConnections()
		}
	}
}
