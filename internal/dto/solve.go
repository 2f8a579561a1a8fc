package dto

import "github.com/shiftschedule/solverapi/internal/scheduledoc"

// SolveRequest is the external solve contract.
type SolveRequest struct {
	StartISO         string `json:"startISO" validate:"required"`
	EndISO           string `json:"endISO,omitempty"`
	OnlyFillRequired bool   `json:"onlyFillRequired"`
	TimeoutSeconds   int    `json:"timeoutSeconds,omitempty" validate:"omitempty,min=1,max=600"`
}

// SolveCheckpoint is one named timing phase.
type SolveCheckpoint struct {
	Name       string `json:"name"`
	DurationMs int64  `json:"durationMs"`
}

// SolveTiming aggregates solve timing.
type SolveTiming struct {
	TotalMs     int64             `json:"totalMs"`
	Checkpoints []SolveCheckpoint `json:"checkpoints"`
}

// SolutionTime records one improved incumbent.
type SolutionTime struct {
	Solution  int     `json:"solution"`
	TimeMs    int64   `json:"timeMs"`
	Objective float64 `json:"objective"`
}

// SubScores breaks the objective into its terms.
type SubScores struct {
	SlotsFilled      int     `json:"slotsFilled"`
	SlotsUnfilled    int     `json:"slotsUnfilled"`
	TotalAssignments int     `json:"totalAssignments"`
	PreferenceScore  float64 `json:"preferenceScore"`
	TimeWindowScore  float64 `json:"timeWindowScore"`
	GapPenalty       float64 `json:"gapPenalty"`
	HoursPenalty     float64 `json:"hoursPenalty"`
}

// SolveDebugInfo is the diagnostics block of a solve response.
type SolveDebugInfo struct {
	Timing            SolveTiming    `json:"timing"`
	SolutionTimes     []SolutionTime `json:"solutionTimes"`
	NumVariables      int            `json:"numVariables"`
	NumDays           int            `json:"numDays"`
	NumSlots          int            `json:"numSlots"`
	SolverStatus      string         `json:"solverStatus"`
	CPUWorkersUsed    int            `json:"cpuWorkersUsed"`
	CPUCoresAvailable int            `json:"cpuCoresAvailable"`
	SubScores         SubScores      `json:"subScores"`
}

// SolveResponse is the external solve result contract.
type SolveResponse struct {
	StartISO    string                   `json:"startISO"`
	EndISO      string                   `json:"endISO"`
	Assignments []scheduledoc.Assignment `json:"assignments"`
	Notes       []string                 `json:"notes"`
	DebugInfo   SolveDebugInfo           `json:"debugInfo"`
}

// AbortRequest asks the running solve to stop.
type AbortRequest struct {
	Force bool `json:"force"`
}

// AbortResponse reports the abort outcome.
type AbortResponse struct {
	Status string `json:"status"`
}
