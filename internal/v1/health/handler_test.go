package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribear/relay/internal/v1/middleware"
)

func TestHandler_HealthReturnsOKWithCorrelationID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := NewHandler()
	r := gin.New()
	r.Use(middleware.CorrelationID())
	r.GET("/health", h.Health)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)

	var body Response
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.NotEmpty(t, body.ReqID)
	assert.Equal(t, resp.Header().Get(middleware.HeaderXCorrelationID), body.ReqID)
}
