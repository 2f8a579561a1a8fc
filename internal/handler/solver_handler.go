package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shiftschedule/solverapi/internal/dto"
	"github.com/shiftschedule/solverapi/internal/middleware"
	"github.com/shiftschedule/solverapi/internal/service"
	appErrors "github.com/shiftschedule/solverapi/pkg/errors"
	"github.com/shiftschedule/solverapi/pkg/response"
)

const sseKeepaliveInterval = 15 * time.Second

// SolverHandler exposes the solve, abort, and progress-stream endpoints.
type SolverHandler struct {
	solves *service.SolveService
}

// NewSolverHandler constructs the handler.
func NewSolverHandler(solves *service.SolveService) *SolverHandler {
	return &SolverHandler{solves: solves}
}

// Solve godoc
// @Summary Run the schedule solver over a date range
// @Tags Solver
// @Accept json
// @Produce json
// @Param payload body dto.SolveRequest true "Solve request"
// @Success 200 {object} response.Envelope
// @Router /schedule/solve [post]
func (h *SolverHandler) Solve(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.SolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid solve payload"))
		return
	}
	result, err := h.solves.Solve(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil, middleware.ExtractMeta(c))
}

// Abort godoc
// @Summary Abort the running solve
// @Tags Solver
// @Accept json
// @Produce json
// @Param payload body dto.AbortRequest true "Abort request"
// @Success 200 {object} response.Envelope
// @Router /schedule/solve/abort [post]
func (h *SolverHandler) Abort(c *gin.Context) {
	var req dto.AbortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid abort payload"))
		return
	}
	response.JSON(c, http.StatusOK, h.solves.Abort(req.Force), nil)
}

// Progress godoc
// @Summary Stream solver progress events
// @Tags Solver
// @Produce text/event-stream
// @Success 200 {string} string "SSE stream"
// @Router /schedule/solve/progress [get]
func (h *SolverHandler) Progress(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	sub := h.solves.Subscribe()
	defer h.solves.Unsubscribe(sub)

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-keepalive.C:
			if _, err := c.Writer.WriteString(": keepalive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := c.Writer.WriteString("data: " + string(payload) + "\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
