package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/scribear/relay/internal/v1/types"
)

// Claims are the custom JWT claims issued by the session-manager service and
// verified (never issued) by the relay.
type Claims struct {
	SessionID types.SessionID `json:"sessionId"`
	Scope     types.Scope     `json:"scope"`
	SourceID  string          `json:"sourceId,omitempty"`
	jwt.RegisteredClaims
}
