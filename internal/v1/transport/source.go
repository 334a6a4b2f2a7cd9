package transport

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/scribear/relay/internal/v1/types"
)

// Source represents the single audio-producing connection for a room (the
// kiosk). Unlike Subscriber it has no outbound send queue for ordinary
// traffic: audio flows one direction only, ingress reads binary frames and
// the ingress handler forwards each one verbatim to the transcription
// client. The room never writes audio back to the source.
type Source struct {
	conn      *websocket.Conn
	SessionID types.SessionID
}

// NewSource wraps conn as a Source.
func NewSource(conn *websocket.Conn, sessionID types.SessionID) *Source {
	return &Source{conn: conn, SessionID: sessionID}
}

// ReadFrame blocks for the next data frame. Non-binary frames (text,
// ping/pong handled by gorilla internally) are skipped transparently by the
// caller's loop, not here, so the caller can distinguish close/read errors
// from "not audio yet".
func (s *Source) ReadFrame() (messageType int, data []byte, err error) {
	return s.conn.ReadMessage()
}

// CloseWithCode sends a close frame with the given code/reason and tears
// down the connection.
func (s *Source) CloseWithCode(code int, reason string) {
	s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait),
	)
	s.conn.Close()
}

// Close closes the underlying connection without a specific close code.
func (s *Source) Close() {
	s.conn.Close()
}
