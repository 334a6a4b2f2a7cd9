// Package wsapi implements the two WebSocket-upgrade surfaces: the Audio
// Ingress Handler and the Transcript Egress Handler. Both share
// the same pre-upgrade shape — rate limit, authenticate, upgrade, enforce
// scope — adapted from how a production video-relay gates its socket
// connections before handing them to the room layer.
package wsapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/scribear/relay/internal/v1/auth"
	"github.com/scribear/relay/internal/v1/logging"
	"github.com/scribear/relay/internal/v1/metrics"
	"github.com/scribear/relay/internal/v1/ratelimit"
	"github.com/scribear/relay/internal/v1/room"
	"github.com/scribear/relay/internal/v1/transport"
	"github.com/scribear/relay/internal/v1/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AudioIngressHandler serves the kiosk's binary audio stream. Exactly
// one source connection is accepted per room; a second attempt is rejected
// with close code 4001 before any audio flows.
type AudioIngressHandler struct {
	manager     *room.Manager
	gate        *auth.Gate
	rateLimiter *ratelimit.RateLimiter
}

// NewAudioIngressHandler builds an AudioIngressHandler.
func NewAudioIngressHandler(manager *room.Manager, gate *auth.Gate, rateLimiter *ratelimit.RateLimiter) *AudioIngressHandler {
	return &AudioIngressHandler{manager: manager, gate: gate, rateLimiter: rateLimiter}
}

// ServeHTTP authenticates, upgrades, and then blocks for the lifetime of the
// source connection, forwarding every binary frame to the room's
// transcription client.
func (h *AudioIngressHandler) ServeHTTP(c *gin.Context) {
	sessionID := types.SessionID(c.Param("sessionId"))
	ctx := c.Request.Context()

	if !h.rateLimiter.CheckWebSocket(c) {
		return
	}

	claims, err := h.gate.Authenticate(c.Request)
	if err != nil {
		logging.Warn(ctx, "audio ingress auth failed", zap.String("session_id", string(sessionID)), zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if claims.SessionID != sessionID {
		logging.Warn(ctx, "audio ingress token session mismatch",
			zap.String("session_id", string(sessionID)), zap.String("token_session_id", string(claims.SessionID)))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.rateLimiter.CheckWebSocketSession(ctx, string(sessionID)); err != nil {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections for this session"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(ctx, "audio ingress upgrade failed", zap.String("session_id", string(sessionID)), zap.Error(err))
		return
	}

	src := transport.NewSource(conn, sessionID)
	metrics.IncConnection(metrics.RoleSource)
	defer metrics.DecConnection(metrics.RoleSource)

	if !claims.Scope.AllowsSource() {
		logging.Warn(ctx, "audio ingress scope rejected", zap.String("session_id", string(sessionID)), zap.String("scope", string(claims.Scope)))
		src.CloseWithCode(types.CloseUnauthorizedScope, types.ReasonScopeUnauthorized+"source")
		return
	}

	if ok := h.manager.SetAudioSource(sessionID, src); !ok {
		logging.Warn(ctx, "audio ingress rejected: source already attached", zap.String("session_id", string(sessionID)))
		src.CloseWithCode(types.CloseSourceAlreadyExists, types.ReasonSourceExists)
		return
	}
	defer h.manager.RemoveAudioSource(sessionID)

	logging.Info(ctx, "audio source attached", zap.String("session_id", string(sessionID)))

	for {
		messageType, data, err := src.ReadFrame()
		if err != nil {
			logging.Info(ctx, "audio source disconnected", zap.String("session_id", string(sessionID)), zap.Error(err))
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			h.manager.ForwardAudio(sessionID, data)
		case websocket.TextMessage:
			logging.GetLogger().Debug("ignoring text frame on audio ingress", zap.String("session_id", string(sessionID)))
		}
	}
}
