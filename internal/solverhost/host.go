// Package solverhost runs schedule solves in an isolated worker with
// heartbeat liveness, cooperative and forced abort, and a progress fan-out
// bus. One Host value is owned by the application root and handed to
// everything that needs to start, watch, or stop a solve; there is no
// package-level mutable state.
package solverhost

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shiftschedule/solverapi/internal/scheduledoc"
	"github.com/shiftschedule/solverapi/internal/solver"
	appErrors "github.com/shiftschedule/solverapi/pkg/errors"
)

// Abort outcomes returned to the abort endpoint.
const (
	AbortRequested  = "abort_requested"
	AbortForced     = "force_killed"
	AbortNotRunning = "no_solver_running"
)

// NoteAbortedUsingCached is prepended when an aborted solve still has an
// incumbent to hand back.
const NoteAbortedUsingCached = "Solver was aborted — using last available solution"

// Config tunes the host's worker supervision.
type Config struct {
	ProgressQueueCapacity   int
	SubscriberQueueCapacity int
	MonitorInterval         time.Duration
	WatchdogTimeout         time.Duration
	GracefulStopTimeout     time.Duration
	ForcedStopTimeout       time.Duration
	DebugDumpDir            string
}

func (c Config) withDefaults() Config {
	if c.ProgressQueueCapacity <= 0 {
		c.ProgressQueueCapacity = 1000
	}
	if c.SubscriberQueueCapacity <= 0 {
		c.SubscriberQueueCapacity = 256
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 100 * time.Millisecond
	}
	if c.WatchdogTimeout <= 0 {
		c.WatchdogTimeout = 10 * time.Second
	}
	if c.GracefulStopTimeout <= 0 {
		c.GracefulStopTimeout = 2 * time.Second
	}
	if c.ForcedStopTimeout <= 0 {
		c.ForcedStopTimeout = time.Second
	}
	return c
}

// Host serializes solver runs (one per process) and owns the shared state a
// run needs: the running flag, the cancellation flag, the heartbeat counter,
// and the subscriber list.
type Host struct {
	cfg    Config
	logger *zap.Logger
	bus    *bus

	onActive func(int)

	mu           sync.Mutex
	running      bool
	workerCancel context.CancelFunc

	cancelled atomic.Bool
	heartbeat atomic.Int64

	latestMu sync.Mutex
	latest   []scheduledoc.Assignment
}

// Option configures optional host collaborators.
type Option func(*Host)

// WithGauges wires metric callbacks for the active-run count and subscriber
// count.
func WithGauges(onActive, onSubscribers func(int)) Option {
	return func(h *Host) {
		h.onActive = onActive
		h.bus.onCount = onSubscribers
	}
}

// New builds a Host.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	h := &Host{cfg: cfg, logger: logger}
	h.bus = newBus(cfg.SubscriberQueueCapacity, nil)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// IsRunning reports whether a solve is currently in flight.
func (h *Host) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Subscribe attaches a progress-stream consumer.
func (h *Host) Subscribe() *Subscriber {
	return h.bus.Subscribe()
}

// Unsubscribe detaches a consumer and closes its channel.
func (h *Host) Unsubscribe(sub *Subscriber) {
	h.bus.Unsubscribe(sub)
}

// Abort requests cancellation of the in-flight solve. Graceful aborts set
// the shared flag and let the worker stop at its next solution boundary;
// forced aborts additionally cancel the worker's context outright.
func (h *Host) Abort(force bool) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return AbortNotRunning
	}
	h.cancelled.Store(true)
	if force {
		if h.workerCancel != nil {
			h.workerCancel()
		}
		return AbortForced
	}
	return AbortRequested
}

// Solve runs one solve to completion in a supervised worker. The document is
// the worker's private snapshot; the host never mutates it. At most one
// Solve is in flight per Host; a second concurrent call fails fast with
// ErrSolverBusy rather than queueing.
func (h *Host) Solve(ctx context.Context, doc *scheduledoc.Document, req solver.Request) (*solver.Result, error) {
	if err := solver.ResolveRange(&req); err != nil {
		return nil, err
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		workerCancel()
		return nil, appErrors.ErrSolverBusy
	}
	h.running = true
	h.workerCancel = workerCancel
	h.cancelled.Store(false)
	h.heartbeat.Store(0)
	h.mu.Unlock()

	h.setLatest(nil)
	if h.onActive != nil {
		h.onActive(1)
	}
	requestStart := time.Now()

	queue := make(chan Event, h.cfg.ProgressQueueCapacity)
	resultCh := make(chan workerResult, 1)

	w := &worker{
		doc:             doc,
		req:             req,
		requestStart:    requestStart,
		queue:           queue,
		cancelled:       &h.cancelled,
		heartbeat:       &h.heartbeat,
		watchdogTimeout: h.cfg.WatchdogTimeout,
		cancelRun:       workerCancel,
		logger:          h.logger,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		resultCh <- w.run(workerCtx)
	}()

	h.bus.Broadcast(Event{Type: EventStart})

	result, runErr := h.monitor(ctx, queue, resultCh)

	h.stopWorker(workerCancel, done)

	h.mu.Lock()
	h.running = false
	h.workerCancel = nil
	h.mu.Unlock()
	if h.onActive != nil {
		h.onActive(0)
	}

	if runErr != nil {
		h.bus.Broadcast(Event{Type: EventComplete, Status: "error", Error: runErr.Error()})
		return nil, runErr
	}
	h.bus.Broadcast(Event{Type: EventComplete, Status: "success"})
	h.dumpDebug(req, requestStart, result)
	return result, nil
}

// monitor supervises the worker: it advances the heartbeat every tick,
// relays queued progress to subscribers, caches the latest incumbent, and
// propagates parent-context cancellation into the shared flag.
func (h *Host) monitor(ctx context.Context, queue <-chan Event, resultCh <-chan workerResult) (*solver.Result, error) {
	ticker := time.NewTicker(h.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.heartbeat.Add(1)
			if ctx.Err() != nil {
				h.cancelled.Store(true)
			}
		case ev := <-queue:
			h.relay(ev)
		case res := <-resultCh:
			h.drain(queue)
			return h.finish(res)
		}
	}
}

func (h *Host) drain(queue <-chan Event) {
	for {
		select {
		case ev := <-queue:
			h.relay(ev)
		default:
			return
		}
	}
}

func (h *Host) relay(ev Event) {
	if ev.Type == EventSolution {
		h.setLatest(ev.Assignments)
	}
	h.bus.Broadcast(ev)
}

// finish resolves the worker's exit into a caller-visible result: a normal
// result passes through; a missing result falls back to the latest cached
// incumbent (abort path); no result and no incumbent means the worker was
// lost.
func (h *Host) finish(res workerResult) (*solver.Result, error) {
	if res.err != nil {
		return nil, res.err
	}
	if res.result != nil {
		return res.result, nil
	}
	cached := h.getLatest()
	if cached == nil {
		return nil, appErrors.ErrWorkerLost
	}
	return &solver.Result{
		Assignments: cached,
		Diagnostics: solver.Diagnostics{
			SolverStatus: solver.StatusFeasible,
			Notes:        []string{NoteAbortedUsingCached},
		},
	}, nil
}

// stopWorker attempts graceful worker termination, escalating to forced
// cancellation after the graceful budget and abandoning the goroutine after
// the forced budget on top.
func (h *Host) stopWorker(cancel context.CancelFunc, done <-chan struct{}) {
	select {
	case <-done:
		return
	case <-time.After(h.cfg.GracefulStopTimeout):
	}
	cancel()
	select {
	case <-done:
	case <-time.After(h.cfg.ForcedStopTimeout):
		h.logger.Warn("solver worker did not stop in time; abandoning")
	}
}

func (h *Host) setLatest(assignments []scheduledoc.Assignment) {
	h.latestMu.Lock()
	defer h.latestMu.Unlock()
	h.latest = assignments
}

func (h *Host) getLatest() []scheduledoc.Assignment {
	h.latestMu.Lock()
	defer h.latestMu.Unlock()
	return h.latest
}

// dumpDebug writes one JSON file per solve when a dump directory is
// configured, mirroring the DEBUG_SOLVER behaviour of the system this
// service replaced.
func (h *Host) dumpDebug(req solver.Request, requestStart time.Time, result *solver.Result) {
	if h.cfg.DebugDumpDir == "" || result == nil {
		return
	}
	payload := map[string]interface{}{
		"request":     req,
		"requestedAt": requestStart.UTC(),
		"status":      result.Diagnostics.SolverStatus,
		"totalMs":     result.Diagnostics.TotalMs,
		"variables":   result.Diagnostics.NumVariables,
		"assignments": len(result.Assignments),
		"notes":       result.Diagnostics.Notes,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return
	}
	name := fmt.Sprintf("solve-%s.json", requestStart.UTC().Format("20060102T150405.000"))
	if err := os.WriteFile(filepath.Join(h.cfg.DebugDumpDir, name), data, 0o644); err != nil {
		h.logger.Sugar().Warnw("failed to write solver debug dump", "error", err)
	}
}
