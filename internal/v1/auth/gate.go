package auth

import (
	"errors"
	"net/http"
)

// ErrMissingToken is returned by Gate.Authenticate when the request carries
// no token query parameter at all. Browsers cannot set headers on a
// WebSocket handshake, so the token travels in the query string.
var ErrMissingToken = errors.New("token not provided")

// ErrInvalidToken is returned when a token was present but failed
// verification (any Reason collapses to this at the Gate).
var ErrInvalidToken = errors.New("invalid token")

// Gate is the pre-upgrade WS auth gate. It runs before the WebSocket
// upgrade completes and never performs scope enforcement itself — that is a
// post-upgrade concern of the individual handler (source vs sink), signaled
// via WS close codes rather than HTTP status.
type Gate struct {
	verifier *Verifier
}

// NewGate builds a Gate around the given Verifier.
func NewGate(verifier *Verifier) *Gate {
	return &Gate{verifier: verifier}
}

// Authenticate reads the "token" query parameter from r and verifies it.
// On success it returns the verified claims. On failure it returns one of
// ErrMissingToken or ErrInvalidToken, both of which the caller must surface
// as HTTP 401 prior to upgrading.
func (g *Gate) Authenticate(r *http.Request) (*Claims, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return nil, ErrMissingToken
	}

	result := g.verifier.Verify(r.Context(), token)
	if !result.Valid {
		return nil, ErrInvalidToken
	}

	return result.Payload, nil
}
