package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shiftschedule/solverapi/internal/service"
	appErrors "github.com/shiftschedule/solverapi/pkg/errors"
	"github.com/shiftschedule/solverapi/pkg/response"
)

type feedResolver interface {
	Resolve(ctx context.Context, token, ifNoneMatch, ifModifiedSince string) (*service.FeedResult, error)
}

// FeedHandler serves the anonymous iCalendar feed. The token in the path is
// the only credential; everything else about the request is standard HTTP
// caching.
type FeedHandler struct {
	feeds feedResolver
}

// NewFeedHandler constructs the handler.
func NewFeedHandler(feeds feedResolver) *FeedHandler {
	return &FeedHandler{feeds: feeds}
}

// Calendar godoc
// @Summary Public iCalendar feed for a published schedule
// @Tags Feed
// @Produce plain
// @Param token path string true "Feed token"
// @Success 200 {string} string "iCalendar text"
// @Success 304 {string} string "Not Modified"
// @Router /feed/{token}/calendar.ics [get]
func (h *FeedHandler) Calendar(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		response.Error(c, appErrors.ErrNotFound)
		return
	}

	result, err := h.feeds.Resolve(
		c.Request.Context(),
		token,
		c.GetHeader("If-None-Match"),
		c.GetHeader("If-Modified-Since"),
	)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("ETag", result.ETag)
	c.Header("Last-Modified", result.LastModified)
	c.Header("Cache-Control", "private, max-age=0, must-revalidate")
	if result.NotModified {
		c.Status(http.StatusNotModified)
		return
	}
	c.Header("Content-Disposition", `inline; filename="calendar.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", result.Body)
}
