package wsapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
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

// TranscriptEgressHandler serves subscriber connections: any number of
// sinks per room, each fanned out the same JSON transcript payload.
type TranscriptEgressHandler struct {
	manager     *room.Manager
	gate        *auth.Gate
	rateLimiter *ratelimit.RateLimiter
}

// NewTranscriptEgressHandler builds a TranscriptEgressHandler.
func NewTranscriptEgressHandler(manager *room.Manager, gate *auth.Gate, rateLimiter *ratelimit.RateLimiter) *TranscriptEgressHandler {
	return &TranscriptEgressHandler{manager: manager, gate: gate, rateLimiter: rateLimiter}
}

// ServeHTTP authenticates, upgrades, and registers the connection as a
// subscriber until it disconnects or is rejected for scope.
func (h *TranscriptEgressHandler) ServeHTTP(c *gin.Context) {
	sessionID := types.SessionID(c.Param("sessionId"))
	ctx := c.Request.Context()

	if !h.rateLimiter.CheckWebSocket(c) {
		return
	}

	claims, err := h.gate.Authenticate(c.Request)
	if err != nil {
		logging.Warn(ctx, "transcript egress auth failed", zap.String("session_id", string(sessionID)), zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if claims.SessionID != sessionID {
		logging.Warn(ctx, "transcript egress token session mismatch",
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
		logging.Warn(ctx, "transcript egress upgrade failed", zap.String("session_id", string(sessionID)), zap.Error(err))
		return
	}

	subID := uuid.New().String()
	sub := transport.NewSubscriber(conn, sessionID, subID)
	metrics.IncConnection(metrics.RoleSink)
	defer metrics.DecConnection(metrics.RoleSink)

	if !claims.Scope.AllowsSink() {
		logging.Warn(ctx, "transcript egress scope rejected", zap.String("session_id", string(sessionID)), zap.String("scope", string(claims.Scope)))
		sub.CloseWithCode(types.CloseUnauthorizedScope, types.ReasonScopeUnauthorized+"sink")
		return
	}

	// LIFO: detach from the room first, then close the send channel, so the
	// broadcast path stops seeing this subscriber before its channel goes away.
	defer sub.Close()
	h.manager.AddSubscriber(sessionID, sub)
	defer h.manager.RemoveSubscriber(sessionID, subID)

	logging.Info(ctx, "subscriber attached", zap.String("session_id", string(sessionID)), zap.String("subscriber_id", subID))

	// Subscribers never send meaningful frames; this loop exists only to
	// detect disconnection (the writer pump owns actual outbound delivery).
	for {
		messageType, _, err := conn.ReadMessage()
		if err != nil {
			logging.Info(ctx, "subscriber disconnected", zap.String("session_id", string(sessionID)), zap.String("subscriber_id", subID), zap.Error(err))
			return
		}
		if messageType == websocket.TextMessage {
			logging.GetLogger().Debug("ignoring text frame on transcript egress", zap.String("session_id", string(sessionID)))
		}
	}
}
