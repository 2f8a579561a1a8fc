package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shiftschedule/solverapi/internal/dto"
	"github.com/shiftschedule/solverapi/internal/service"
	appErrors "github.com/shiftschedule/solverapi/pkg/errors"
	"github.com/shiftschedule/solverapi/pkg/response"
)

// PublicationHandler exposes feed-token management endpoints.
type PublicationHandler struct {
	publications *service.PublicationService
}

// NewPublicationHandler constructs the handler.
func NewPublicationHandler(publications *service.PublicationService) *PublicationHandler {
	return &PublicationHandler{publications: publications}
}

// Get godoc
// @Summary Fetch the caller's feed publication tokens
// @Tags Publication
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /publication [get]
func (h *PublicationHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	meta, err := h.publications.GetOrCreate(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.PublicationResponse{
		OwnerToken:      meta.OwnerToken,
		ClinicianTokens: meta.ClinicianTokens,
		UpdatedAt:       meta.UpdatedAt,
	}, nil)
}

// Rotate godoc
// @Summary Rotate the caller's owner-wide feed token
// @Tags Publication
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /publication/rotate [post]
func (h *PublicationHandler) Rotate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	token, err := h.publications.Rotate(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.RotateTokenResponse{Token: token}, nil)
}

// RotateClinician godoc
// @Summary Rotate one clinician's filtered feed token
// @Tags Publication
// @Produce json
// @Param id path string true "Clinician ID"
// @Success 200 {object} response.Envelope
// @Router /publication/clinicians/{id}/rotate [post]
func (h *PublicationHandler) RotateClinician(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	token, err := h.publications.RotateClinician(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.RotateTokenResponse{Token: token}, nil)
}
