// Package transport wraps the raw WebSocket connections used by the relay:
// a Subscriber (transcript egress) and a Source (audio ingress).
// A Subscriber runs a dedicated writer goroutine while its handler keeps
// reading the connection, mirroring how a production video-relay client
// splits read and write pumps so a slow peer on one side never blocks the
// other. A Source starts no goroutine of its own: its handler's read loop is
// the only reader and nothing writes audio back.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scribear/relay/internal/v1/logging"
	"github.com/scribear/relay/internal/v1/types"
)

const (
	subscriberSendBuffer = 32
	writeWait            = 10 * time.Second
)

// Subscriber represents one sink connection receiving transcript JSON frames
// for a room. Sends never block the broadcaster: the outbound channel is
// bounded and, on overflow, the oldest queued frame is dropped to make room
// for the newest one rather than stalling the whole room's fan-out.
type Subscriber struct {
	conn      *websocket.Conn
	SessionID types.SessionID
	ID        string

	mu        sync.Mutex
	closeOnce sync.Once
	closed    bool

	send chan []byte
}

// NewSubscriber wraps conn as a Subscriber and starts its writer pump. The
// caller keeps reading conn itself to observe disconnection; the Subscriber
// only owns the outbound side.
func NewSubscriber(conn *websocket.Conn, sessionID types.SessionID, id string) *Subscriber {
	s := &Subscriber{
		conn:      conn,
		SessionID: sessionID,
		ID:        id,
		send:      make(chan []byte, subscriberSendBuffer),
	}
	go s.writePump()
	return s
}

// Send enqueues a JSON transcript frame for delivery. If the outbound buffer
// is full, the oldest queued frame is dropped and the new one takes its
// place — a single stalled subscriber must never block the room broadcast.
// The closed check and the channel send happen under the same lock as Close,
// so a concurrent Close can never turn the send into a write on a closed
// channel. Every send is a non-blocking select, so the lock is never held
// across socket I/O.
func (s *Subscriber) Send(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.send <- data:
		return
	default:
	}

	// Buffer full: drop the oldest queued frame, then retry once.
	select {
	case <-s.send:
	default:
	}
	select {
	case s.send <- data:
	default:
	}
}

// Close shuts down the writer pump and closes the underlying connection.
// Safe to call multiple times.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.send)
		s.mu.Unlock()
	})
}

func (s *Subscriber) writePump() {
	defer s.conn.Close()

	for message := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Warn(context.Background(), "subscriber write failed")
			return
		}
	}
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(types.CloseNormal, ""))
}

// CloseWithCode sends a close frame with the given code/reason and tears
// down the connection, bypassing the normal send queue.
func (s *Subscriber) CloseWithCode(code int, reason string) {
	s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait),
	)
	s.Close()
}
