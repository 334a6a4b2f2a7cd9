// Package health implements the relay's liveness endpoint.
package health

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scribear/relay/internal/v1/middleware"
)

// Response is the body returned by GET /health.
type Response struct {
	ReqID  string `json:"reqId"`
	Status string `json:"status"`
}

// Handler serves the relay's health endpoint.
type Handler struct{}

// NewHandler creates a new health handler.
func NewHandler() *Handler {
	return &Handler{}
}

// Health handles GET /health. The process being able to answer at all is the
// only signal: the relay holds no database connection and a degraded
// transcription backend is surfaced per-session, not globally.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		ReqID:  middleware.RequestID(c),
		Status: "ok",
	})
}
