package solverhost

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shiftschedule/solverapi/internal/scheduledoc"
	"github.com/shiftschedule/solverapi/internal/solver"
)

// workerResult is what a worker hands back on exit: exactly one of result or
// err, or neither when the worker was cancelled before producing anything.
type workerResult struct {
	result *solver.Result
	err    error
}

// worker executes one solve against a private snapshot of the inputs. It
// owns no host state; everything shared (cancel flag, heartbeat, queue) is
// handed in explicitly.
type worker struct {
	doc             *scheduledoc.Document
	req             solver.Request
	requestStart    time.Time
	queue           chan<- Event
	cancelled       *atomic.Bool
	heartbeat       *atomic.Int64
	watchdogTimeout time.Duration
	cancelRun       context.CancelFunc
	logger          *zap.Logger
}

func (w *worker) run(ctx context.Context) (res workerResult) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("solver worker panic: %v\n%s", r, debug.Stack())
			w.logger.Error("solver worker panicked", zap.Any("panic", r))
			res = workerResult{err: fmt.Errorf("%s", msg)}
		}
	}()

	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go w.watchdog(watchdogDone)

	w.push(phaseEvent(PhaseInit))
	w.push(phaseEvent(PhaseSnapshot))
	w.push(phaseEvent(PhaseNormalize))
	w.push(phaseEvent(PhaseSlotContexts))
	w.push(phaseEvent(PhaseBuildModel))
	w.push(phaseEvent(PhaseSearch))

	result, err := solver.Run(ctx, w.doc, w.req, w.requestStart, w.onSolution)
	if err != nil {
		return workerResult{err: err}
	}
	if w.cancelled.Load() && result == nil {
		return workerResult{}
	}

	if usedWeeklyFallback(result) {
		w.push(phaseEvent(PhaseFallback))
	}
	w.push(phaseEvent(PhaseExtract))
	w.push(phaseEvent(PhaseDiagnostics))
	w.push(phaseEvent(PhaseFinalize))
	return workerResult{result: result}
}

// onSolution is the solver's improved-incumbent callback. It publishes the
// incumbent and, when a graceful abort has been requested, cancels the
// remainder of the search so the incumbent becomes the final answer.
func (w *worker) onSolution(sol solver.ProgressSolution) {
	w.push(Event{
		Type:        EventSolution,
		SolutionNum: sol.SolutionIndex,
		TimeMs:      sol.ElapsedMs,
		Objective:   sol.Objective,
		Assignments: sol.Assignments,
	})
	if w.cancelled.Load() {
		w.cancelRun()
	}
}

// push enqueues an event without ever blocking the solve; when the monitor
// has fallen behind far enough to fill the queue, older-style progress is
// simply dropped.
func (w *worker) push(ev Event) {
	select {
	case w.queue <- ev:
	default:
	}
}

// watchdog exits the worker when the host's heartbeat stops advancing,
// so a worker whose parent vanished cancels itself instead of spinning
// forever.
func (w *worker) watchdog(done <-chan struct{}) {
	interval := w.watchdogTimeout / 5
	if interval <= 0 {
		interval = time.Second
	}
	lastSeen := w.heartbeat.Load()
	lastChange := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			current := w.heartbeat.Load()
			if current != lastSeen {
				lastSeen = current
				lastChange = time.Now()
				continue
			}
			if time.Since(lastChange) >= w.watchdogTimeout {
				w.logger.Warn("solver heartbeat stalled; worker self-cancelling")
				w.cancelled.Store(true)
				w.cancelRun()
				return
			}
		}
	}
}

func usedWeeklyFallback(result *solver.Result) bool {
	for _, cp := range result.Diagnostics.Checkpoints {
		if strings.HasPrefix(cp.Name, "week_") {
			return true
		}
	}
	return false
}
