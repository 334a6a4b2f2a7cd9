// Package auth implements the token verifier and the pre-upgrade WS
// auth gate. The verifier only ever checks tokens issued elsewhere by
// the session-manager service; it never mints them.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/scribear/relay/internal/v1/logging"
)

// Reason distinguishes why a token failed verification. All reasons collapse
// to a single "invalid" outcome at the caller, but are logged distinctly.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonMalformed      Reason = "malformed"
	ReasonBadSignature   Reason = "bad_signature"
	ReasonExpired        Reason = "expired"
	ReasonWrongIssuer    Reason = "wrong_issuer"
	ReasonMissingSession Reason = "missing_session_id"
	ReasonInvalidScope   Reason = "invalid_scope"
)

// Result is the outcome of verifying a token: either valid with a payload,
// or invalid with a reason.
type Result struct {
	Valid   bool
	Payload *Claims
	Reason  Reason
}

// Verifier validates bearer tokens against a shared HMAC secret and issuer.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier builds a Verifier. secret must be at least 32 bytes (enforced
// by config validation, not here) and issuer must match the claim the
// session-manager stamps into every token it mints.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses and validates tokenString, returning a collapsed Result. The
// distinguishing Reason is always populated on failure so callers can log it
// even though callers of the verifier only ever see "invalid".
func (v *Verifier) Verify(ctx context.Context, tokenString string) Result {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithExpirationRequired())

	if err != nil {
		reason := classifyError(err)
		logging.Warn(ctx, "token verification failed", zap.String("reason", string(reason)), zap.Error(err))
		return Result{Valid: false, Reason: reason}
	}

	if !token.Valid {
		logging.Warn(ctx, "token verification failed", zap.String("reason", string(ReasonBadSignature)))
		return Result{Valid: false, Reason: ReasonBadSignature}
	}

	if claims.SessionID == "" {
		logging.Warn(ctx, "token verification failed", zap.String("reason", string(ReasonMissingSession)))
		return Result{Valid: false, Reason: ReasonMissingSession}
	}

	if !claims.Scope.Valid() {
		logging.Warn(ctx, "token verification failed", zap.String("reason", string(ReasonInvalidScope)))
		return Result{Valid: false, Reason: ReasonInvalidScope}
	}

	return Result{Valid: true, Payload: claims}
}

func classifyError(err error) Reason {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ReasonBadSignature
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ReasonWrongIssuer
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ReasonMalformed
	default:
		return ReasonMalformed
	}
}
