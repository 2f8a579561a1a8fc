package solver

import (
	"context"
	"fmt"
	"time"

	"github.com/shiftschedule/solverapi/internal/scheduledoc"
	"github.com/shiftschedule/solverapi/internal/timeutil"
	appErrors "github.com/shiftschedule/solverapi/pkg/errors"
)

const (
	// DefaultTimeoutSeconds is the request timeout used when the caller
	// supplies none.
	DefaultTimeoutSeconds = 60

	// fallbackThresholdDays is the span above which an unsolvable full-range
	// request is retried one week at a time.
	fallbackThresholdDays = 14

	weekChunkDays = 7
)

// ResolveRange defaults a request's end date to start+6d and validates both
// ends, returning InvalidRange when the result is inverted or unparseable.
func ResolveRange(req *Request) error {
	if _, err := timeutil.ParseISODate(req.StartISO); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInvalidRange.Code, appErrors.ErrInvalidRange.Status, "startISO must be a valid ISO date")
	}
	if req.EndISO == "" {
		end, err := timeutil.AddDaysISO(req.StartISO, 6)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInvalidRange.Code, appErrors.ErrInvalidRange.Status, "invalid start date")
		}
		req.EndISO = end
	}
	if _, err := timeutil.ParseISODate(req.EndISO); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInvalidRange.Code, appErrors.ErrInvalidRange.Status, "endISO must be a valid ISO date")
	}
	if req.EndISO < req.StartISO {
		return appErrors.Clone(appErrors.ErrInvalidRange, fmt.Sprintf("endISO %s is before startISO %s", req.EndISO, req.StartISO))
	}
	if req.TimeoutSeconds <= 0 {
		req.TimeoutSeconds = DefaultTimeoutSeconds
	}
	return nil
}

// Run is the lock-free solve entry: it resolves the range, builds the model,
// searches it, and — when the full range cannot be solved and spans more than
// two weeks — replays the request one week at a time, concatenating whatever
// each week yields. Callers are responsible for serializing Runs; Run itself
// never takes a process-wide lock, so the weekly fallback can recurse into
// solveOnce without deadlocking.
func Run(ctx context.Context, doc *scheduledoc.Document, req Request, requestStart time.Time, onProgress func(ProgressSolution)) (*Result, error) {
	if err := ResolveRange(&req); err != nil {
		return nil, err
	}

	result, err := solveOnce(ctx, doc, req, requestStart, onProgress)
	if err != nil {
		return nil, err
	}
	if isSolved(result.Diagnostics.SolverStatus) {
		result.Diagnostics.Notes = append(result.Diagnostics.Notes,
			fmt.Sprintf("Solver completed in %dms", result.Diagnostics.TotalMs))
		return result, nil
	}

	spanDays, err := timeutil.DaysBetweenISO(req.StartISO, req.EndISO)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidRange.Code, appErrors.ErrInvalidRange.Status, "invalid range")
	}
	if spanDays <= fallbackThresholdDays {
		result.Assignments = nil
		result.Diagnostics.Notes = append([]string{"No feasible assignment found"}, result.Diagnostics.Notes...)
		return result, nil
	}

	return runWeekly(ctx, doc, req, requestStart, onProgress, result)
}

// runWeekly replays the solve in week-sized chunks after a failed full-range
// attempt, keeping the full-range diagnostics and stacking each week's result
// onto them.
func runWeekly(ctx context.Context, doc *scheduledoc.Document, req Request, requestStart time.Time, onProgress func(ProgressSolution), fullRange *Result) (*Result, error) {
	notes := []string{fmt.Sprintf(
		"Full-range solver failed for %s..%s; retrying one week at a time", req.StartISO, req.EndISO)}
	notes = append(notes, fullRange.Diagnostics.Notes...)

	combined := &Result{Diagnostics: fullRange.Diagnostics}
	solvedWeeks := 0
	totalWeeks := 0

	for weekStart := req.StartISO; weekStart <= req.EndISO; {
		weekEnd, err := timeutil.AddDaysISO(weekStart, weekChunkDays-1)
		if err != nil {
			return nil, err
		}
		if weekEnd > req.EndISO {
			weekEnd = req.EndISO
		}
		totalWeeks++

		weekReq := req
		weekReq.StartISO = weekStart
		weekReq.EndISO = weekEnd
		weekResult, err := solveOnce(ctx, doc, weekReq, requestStart, onProgress)
		if err != nil {
			return nil, err
		}
		if isSolved(weekResult.Diagnostics.SolverStatus) {
			solvedWeeks++
			combined.Assignments = append(combined.Assignments, weekResult.Assignments...)
			accumulateSubScores(&combined.Diagnostics.SubScores, weekResult.Diagnostics.SubScores)
		} else {
			notes = append(notes, fmt.Sprintf("No solution for week starting %s", weekStart))
		}
		combined.Diagnostics.TotalMs += weekResult.Diagnostics.TotalMs
		combined.Diagnostics.Checkpoints = append(combined.Diagnostics.Checkpoints,
			Checkpoint{Name: "week_" + weekStart, DurationMs: weekResult.Diagnostics.TotalMs})

		weekStart, err = timeutil.AddDaysISO(weekStart, weekChunkDays)
		if err != nil {
			return nil, err
		}
	}

	if solvedWeeks == 0 {
		notes = append(notes, "No solution")
		combined.Diagnostics.SolverStatus = StatusInfeasible
	} else {
		combined.Diagnostics.SolverStatus = StatusFeasible
		notes = append(notes, fmt.Sprintf(
			"Week-by-week fallback solved %d of %d weeks with %d assignments in %dms",
			solvedWeeks, totalWeeks, len(combined.Assignments), combined.Diagnostics.TotalMs))
	}
	combined.Diagnostics.Notes = notes
	return combined, nil
}

// solveOnce builds and searches one range with the remaining time budget.
func solveOnce(ctx context.Context, doc *scheduledoc.Document, req Request, requestStart time.Time, onProgress func(ProgressSolution)) (*Result, error) {
	model, err := BuildModel(doc, req)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidRange.Code, appErrors.ErrInvalidRange.Status, "failed to build solver model")
	}
	req.TimeoutSeconds = remainingBudgetSeconds(req.TimeoutSeconds, requestStart)
	return Solve(ctx, model, req, onProgress)
}

// remainingBudgetSeconds converts the request's total budget into whatever is
// left since the request arrived, floored at one second.
func remainingBudgetSeconds(budgetSeconds int, requestStart time.Time) int {
	if budgetSeconds <= 0 {
		budgetSeconds = DefaultTimeoutSeconds
	}
	if requestStart.IsZero() {
		return budgetSeconds
	}
	remaining := budgetSeconds - int(time.Since(requestStart).Seconds())
	if remaining < 1 {
		return 1
	}
	return remaining
}

func isSolved(s Status) bool {
	return s == StatusOptimal || s == StatusFeasible
}

func accumulateSubScores(into *SubScores, add SubScores) {
	into.SlotsFilled += add.SlotsFilled
	into.SlotsUnfilled += add.SlotsUnfilled
	into.TotalAssignments += add.TotalAssignments
	into.PreferenceScore += add.PreferenceScore
	into.TimeWindowScore += add.TimeWindowScore
	into.GapPenalty += add.GapPenalty
	into.HoursPenalty += add.HoursPenalty
}
