// Package solver builds a CP-SAT-style model from a normalized schedule
// document and a solve request, then searches it for a feasible or optimal
// assignment set. No constraint-solver library exists in the dependency
// corpus this service was grounded on (see DESIGN.md); the model and search
// here are hand-written against the standard library only.
package solver

import "github.com/shiftschedule/solverapi/internal/scheduledoc"

// Status mirrors a CP-SAT solver's terminal status vocabulary.
type Status string

const (
	StatusOptimal    Status = "OPTIMAL"
	StatusFeasible   Status = "FEASIBLE"
	StatusInfeasible Status = "INFEASIBLE"
	StatusUnknown    Status = "UNKNOWN"
)

// Request is the external solve request, already date-resolved by the
// caller (endISO defaulted, range validated).
type Request struct {
	StartISO         string
	EndISO           string
	OnlyFillRequired bool
	TimeoutSeconds   int
}

// SubScores breaks the objective down into the terms named in the external
// solve-response contract.
type SubScores struct {
	SlotsFilled      int     `json:"slotsFilled"`
	SlotsUnfilled    int     `json:"slotsUnfilled"`
	TotalAssignments int     `json:"totalAssignments"`
	PreferenceScore  float64 `json:"preferenceScore"`
	TimeWindowScore  float64 `json:"timeWindowScore"`
	GapPenalty       float64 `json:"gapPenalty"`
	HoursPenalty     float64 `json:"hoursPenalty"`
}

// RestConflict is a manual-on-manual on-call rest-day diagnostic: a pair of
// fixed assignments whose rest window overlaps, reported but never treated
// as infeasibility. AtBoundary supplements spec.md: rest windows that
// extend outside the solved horizon are flagged distinctly so a caller can
// tell "the window was honored" apart from "the window fell off the edge of
// what we could even check".
type RestConflict struct {
	ClinicianID   string
	OnCallDateISO string
	RestDateISO   string
	AtBoundary    bool
}

// Checkpoint is one named phase of solve timing.
type Checkpoint struct {
	Name       string
	DurationMs int64
}

// SolutionTime records one improved-incumbent event during search.
type SolutionTime struct {
	Solution  int
	TimeMs    int64
	Objective float64
}

// Diagnostics is the debugInfo payload of the external solve-response
// contract.
type Diagnostics struct {
	TotalMs            int64
	Checkpoints        []Checkpoint
	SolutionTimes       []SolutionTime
	NumVariables       int
	NumDays            int
	NumSlots           int
	SolverStatus       Status
	CPUWorkersUsed     int
	CPUCoresAvailable  int
	SubScores          SubScores
	RestConflicts      []RestConflict
	Notes              []string
}

// Result is everything the driver hands back to the orchestrator.
type Result struct {
	Assignments []scheduledoc.Assignment
	Diagnostics Diagnostics
}

// ProgressSolution is what the solution callback publishes on each improved
// incumbent.
type ProgressSolution struct {
	SolutionIndex int
	ElapsedMs     int64
	Objective     float64
	Assignments   []scheduledoc.Assignment
}
