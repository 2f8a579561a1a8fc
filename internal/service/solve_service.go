package service

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/shiftschedule/solverapi/internal/dto"
	"github.com/shiftschedule/solverapi/internal/solver"
	"github.com/shiftschedule/solverapi/internal/solverhost"
	appErrors "github.com/shiftschedule/solverapi/pkg/errors"
)

// SolveService fronts the solver host: it snapshots the owner's normalized
// document, runs the supervised solve, and shapes the result into the
// external response contract. The returned assignments are never applied to
// the document here; that is a separate, explicit owner write.
type SolveService struct {
	schedule  *ScheduleService
	host      *solverhost.Host
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSolveService constructs the service.
func NewSolveService(schedule *ScheduleService, host *solverhost.Host, validate *validator.Validate, logger *zap.Logger) *SolveService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &SolveService{schedule: schedule, host: host, validator: validate, logger: logger}
}

// Solve runs one solve for the owner over the requested range.
func (s *SolveService) Solve(ctx context.Context, ownerID string, req dto.SolveRequest) (*dto.SolveResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid solve request")
	}
	doc, _, err := s.schedule.GetDocument(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	solverReq := solver.Request{
		StartISO:         req.StartISO,
		EndISO:           req.EndISO,
		OnlyFillRequired: req.OnlyFillRequired,
		TimeoutSeconds:   req.TimeoutSeconds,
	}
	if err := solver.ResolveRange(&solverReq); err != nil {
		return nil, err
	}

	s.logger.Sugar().Infow("starting solve",
		"owner_id", ownerID,
		"start", solverReq.StartISO,
		"end", solverReq.EndISO,
		"only_fill_required", solverReq.OnlyFillRequired,
		"timeout_seconds", solverReq.TimeoutSeconds,
	)

	result, err := s.host.Solve(ctx, doc, solverReq)
	if err != nil {
		s.logger.Sugar().Warnw("solve failed", "owner_id", ownerID, "error", err)
		return nil, err
	}

	s.logger.Sugar().Infow("solve finished",
		"owner_id", ownerID,
		"status", result.Diagnostics.SolverStatus,
		"assignments", len(result.Assignments),
		"total_ms", result.Diagnostics.TotalMs,
	)
	return buildSolveResponse(solverReq, result), nil
}

// Abort cancels the in-flight solve, if any.
func (s *SolveService) Abort(force bool) dto.AbortResponse {
	status := s.host.Abort(force)
	s.logger.Sugar().Infow("abort requested", "force", force, "status", status)
	return dto.AbortResponse{Status: status}
}

// Subscribe attaches a progress-stream consumer to the host.
func (s *SolveService) Subscribe() *solverhost.Subscriber {
	return s.host.Subscribe()
}

// Unsubscribe detaches a consumer.
func (s *SolveService) Unsubscribe(sub *solverhost.Subscriber) {
	s.host.Unsubscribe(sub)
}

// IsRunning reports whether a solve is in flight.
func (s *SolveService) IsRunning() bool {
	return s.host.IsRunning()
}

func buildSolveResponse(req solver.Request, result *solver.Result) *dto.SolveResponse {
	d := result.Diagnostics
	resp := &dto.SolveResponse{
		StartISO:    req.StartISO,
		EndISO:      req.EndISO,
		Assignments: result.Assignments,
		Notes:       append([]string{}, d.Notes...),
		DebugInfo: dto.SolveDebugInfo{
			Timing: dto.SolveTiming{
				TotalMs:     d.TotalMs,
				Checkpoints: make([]dto.SolveCheckpoint, 0, len(d.Checkpoints)),
			},
			SolutionTimes:     make([]dto.SolutionTime, 0, len(d.SolutionTimes)),
			NumVariables:      d.NumVariables,
			NumDays:           d.NumDays,
			NumSlots:          d.NumSlots,
			SolverStatus:      string(d.SolverStatus),
			CPUWorkersUsed:    d.CPUWorkersUsed,
			CPUCoresAvailable: d.CPUCoresAvailable,
			SubScores: dto.SubScores{
				SlotsFilled:      d.SubScores.SlotsFilled,
				SlotsUnfilled:    d.SubScores.SlotsUnfilled,
				TotalAssignments: d.SubScores.TotalAssignments,
				PreferenceScore:  d.SubScores.PreferenceScore,
				TimeWindowScore:  d.SubScores.TimeWindowScore,
				GapPenalty:       d.SubScores.GapPenalty,
				HoursPenalty:     d.SubScores.HoursPenalty,
			},
		},
	}
	for _, cp := range d.Checkpoints {
		resp.DebugInfo.Timing.Checkpoints = append(resp.DebugInfo.Timing.Checkpoints, dto.SolveCheckpoint{Name: cp.Name, DurationMs: cp.DurationMs})
	}
	for _, st := range d.SolutionTimes {
		resp.DebugInfo.SolutionTimes = append(resp.DebugInfo.SolutionTimes, dto.SolutionTime{Solution: st.Solution, TimeMs: st.TimeMs, Objective: st.Objective})
	}
	for _, rc := range d.RestConflicts {
		note := fmt.Sprintf("Rest-day conflict: clinician %s on call %s, assigned %s", rc.ClinicianID, rc.OnCallDateISO, rc.RestDateISO)
		if rc.AtBoundary {
			note += " (outside solved range)"
		}
		resp.Notes = append(resp.Notes, note)
	}
	return resp
}
