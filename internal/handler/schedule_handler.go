package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shiftschedule/solverapi/internal/dto"
	"github.com/shiftschedule/solverapi/internal/service"
	appErrors "github.com/shiftschedule/solverapi/pkg/errors"
	"github.com/shiftschedule/solverapi/pkg/response"
)

// ScheduleHandler exposes the schedule-document endpoints.
type ScheduleHandler struct {
	schedules *service.ScheduleService
}

// NewScheduleHandler constructs the handler.
func NewScheduleHandler(schedules *service.ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{schedules: schedules}
}

// Get godoc
// @Summary Fetch the caller's canonical schedule document
// @Tags Schedule
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /schedule [get]
func (h *ScheduleHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	doc, updatedAt, err := h.schedules.GetDocument(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ScheduleResponse{Document: doc, UpdatedAt: updatedAt}, nil)
}

// Save godoc
// @Summary Replace the caller's schedule document
// @Tags Schedule
// @Accept json
// @Produce json
// @Param payload body dto.SaveScheduleRequest true "Schedule document"
// @Success 200 {object} response.Envelope
// @Router /schedule [put]
func (h *ScheduleHandler) Save(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.SaveScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid schedule payload"))
		return
	}
	doc, err := h.schedules.SaveDocument(c.Request.Context(), claims.UserID, req.Document)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// ApplyAssignments godoc
// @Summary Apply solver-produced assignments to the schedule
// @Tags Schedule
// @Accept json
// @Produce json
// @Param payload body dto.ApplyAssignmentsRequest true "Assignments to apply"
// @Success 200 {object} response.Envelope
// @Router /schedule/assignments/apply [post]
func (h *ScheduleHandler) ApplyAssignments(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ApplyAssignmentsRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Assignments) == 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "assignments required"))
		return
	}
	doc, err := h.schedules.ApplyAssignments(c.Request.Context(), claims.UserID, req.Assignments)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// PublishWeek godoc
// @Summary Publish or unpublish one schedule week
// @Tags Schedule
// @Accept json
// @Produce json
// @Param payload body dto.PublishWeekRequest true "Week publication toggle"
// @Success 200 {object} response.Envelope
// @Router /schedule/publish [post]
func (h *ScheduleHandler) PublishWeek(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.PublishWeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid publish payload"))
		return
	}
	doc, err := h.schedules.SetWeekPublished(c.Request.Context(), claims.UserID, req.WeekISO, req.Published)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}
