package dto

import (
	"encoding/json"
	"time"

	"github.com/shiftschedule/solverapi/internal/scheduledoc"
)

// ScheduleResponse returns the owner's canonical schedule document.
type ScheduleResponse struct {
	Document  *scheduledoc.Document `json:"document"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// SaveScheduleRequest carries an owner write: the raw document blob is
// accepted in any historical shape and canonicalized before persisting.
type SaveScheduleRequest struct {
	Document json.RawMessage `json:"document" validate:"required"`
}

// ApplyAssignmentsRequest applies solver-produced assignments to the
// document.
type ApplyAssignmentsRequest struct {
	Assignments []scheduledoc.Assignment `json:"assignments" validate:"required,min=1"`
}

// PublishWeekRequest toggles one week's publication state.
type PublishWeekRequest struct {
	WeekISO   string `json:"weekISO" validate:"required"`
	Published bool   `json:"published"`
}

// PublicationResponse exposes the owner's feed tokens.
type PublicationResponse struct {
	OwnerToken      string            `json:"ownerToken"`
	ClinicianTokens map[string]string `json:"clinicianTokens,omitempty"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// RotateTokenResponse returns a freshly minted feed token.
type RotateTokenResponse struct {
	Token string `json:"token"`
}
