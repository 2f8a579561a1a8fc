package solverhost

import "github.com/shiftschedule/solverapi/internal/scheduledoc"

// EventType discriminates progress-stream payloads.
type EventType string

const (
	EventStart    EventType = "start"
	EventPhase    EventType = "phase"
	EventSolution EventType = "solution"
	EventComplete EventType = "complete"
)

// The named phases a solve passes through, in order. Every phase event
// carries one of these plus its display label.
const (
	PhaseInit         = "init"
	PhaseSnapshot     = "snapshot"
	PhaseNormalize    = "normalize"
	PhaseSlotContexts = "slot_contexts"
	PhaseBuildModel   = "build_model"
	PhaseSearch       = "search"
	PhaseFallback     = "fallback"
	PhaseExtract      = "extract"
	PhaseDiagnostics  = "diagnostics"
	PhaseFinalize     = "finalize"
)

var phaseLabels = map[string]string{
	PhaseInit:         "Preparing solver run",
	PhaseSnapshot:     "Snapshotting schedule state",
	PhaseNormalize:    "Normalizing schedule document",
	PhaseSlotContexts: "Collecting slot contexts",
	PhaseBuildModel:   "Building constraint model",
	PhaseSearch:       "Searching for solutions",
	PhaseFallback:     "Retrying week by week",
	PhaseExtract:      "Extracting assignments",
	PhaseDiagnostics:  "Collecting diagnostics",
	PhaseFinalize:     "Finalizing result",
}

// Event is one progress-stream message. Fields are populated per Type; the
// zero values of the others are omitted from the wire encoding.
type Event struct {
	Type        EventType                `json:"type"`
	Phase       string                   `json:"phase,omitempty"`
	Label       string                   `json:"label,omitempty"`
	SolutionNum int                      `json:"solutionNum,omitempty"`
	TimeMs      int64                    `json:"timeMs,omitempty"`
	Objective   float64                  `json:"objective,omitempty"`
	Assignments []scheduledoc.Assignment `json:"assignments,omitempty"`
	Status      string                   `json:"status,omitempty"`
	Error       string                   `json:"error,omitempty"`
}

func phaseEvent(phase string) Event {
	return Event{Type: EventPhase, Phase: phase, Label: phaseLabels[phase]}
}
