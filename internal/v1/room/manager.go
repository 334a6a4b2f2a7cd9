package room

import (
	"context"
	"errors"
	"sync"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/scribear/relay/internal/v1/logging"
	"github.com/scribear/relay/internal/v1/metrics"
	"github.com/scribear/relay/internal/v1/transcription"
	"github.com/scribear/relay/internal/v1/transport"
	"github.com/scribear/relay/internal/v1/types"
)

// ErrRoomExists is returned by CreateRoom when sessionId already has a room.
var ErrRoomExists = errors.New("room already exists")

// Manager is the Room Manager: the authoritative sessionId -> Room map
// and every concurrent-safe operation over it. The map is protected by a
// single mutex held only across map-mutating sections, never across
// connection I/O or the transcription-backend handshake.
type Manager struct {
	mu    sync.Mutex
	rooms map[types.SessionID]*Room

	transcriptionServiceURL string
	transcriptionAPIKey     string
	breaker                 *gobreaker.CircuitBreaker
}

// NewManager builds an empty Manager. transcriptionServiceURL and
// transcriptionAPIKey configure every room's transcription.Client;
// breaker guards backend connect attempts across all rooms.
func NewManager(transcriptionServiceURL, transcriptionAPIKey string, breaker *gobreaker.CircuitBreaker) *Manager {
	return &Manager{
		rooms:                   make(map[types.SessionID]*Room),
		transcriptionServiceURL: transcriptionServiceURL,
		transcriptionAPIKey:     transcriptionAPIKey,
		breaker:                 breaker,
	}
}

// CreateRoom creates a new room pinned to cfg. Fails with ErrRoomExists if
// sessionId already has a room.
func (m *Manager) CreateRoom(sessionID types.SessionID, cfg types.TranscriptionSessionConfig) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rooms[sessionID]; exists {
		return nil, ErrRoomExists
	}

	r := newRoom(sessionID, cfg)
	m.rooms[sessionID] = r
	metrics.ActiveRooms.Inc()
	return r, nil
}

// GetOrCreateRoom returns the existing room for sessionId, or creates one
// with cfg if absent. Never fails.
func (m *Manager) GetOrCreateRoom(sessionID types.SessionID, cfg types.TranscriptionSessionConfig) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, exists := m.rooms[sessionID]; exists {
		return r
	}

	r := newRoom(sessionID, cfg)
	m.rooms[sessionID] = r
	metrics.ActiveRooms.Inc()
	return r
}

// GetRoom is a pure read, returning nil if sessionId has no room.
func (m *Manager) GetRoom(sessionID types.SessionID) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[sessionID]
}

// RemoveRoom closes every owned socket and the transcription client with a
// normal close, then deletes the entry. Idempotent.
func (m *Manager) RemoveRoom(sessionID types.SessionID) {
	m.mu.Lock()
	r, exists := m.rooms[sessionID]
	if !exists {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, sessionID)
	m.mu.Unlock()

	r.close(types.ReasonRoomClosed)
	metrics.ActiveRooms.Dec()
	metrics.RoomSubscribers.DeleteLabelValues(string(sessionID))
	metrics.RoomHasSource.DeleteLabelValues(string(sessionID))
	metrics.TranscriptionBackendState.DeleteLabelValues(string(sessionID))
}

// SetAudioSource attaches src as the room's audio source. Returns false if
// a source is already attached; otherwise it attaches, creates and
// connects the transcription client, wires its events, and returns true.
// The connect attempt is asynchronous — the room is visible to other
// operations with TranscriptionConnected()==false between attach and the
// backend's connected event.
func (m *Manager) SetAudioSource(sessionID types.SessionID, src *transport.Source) bool {
	r := m.GetOrCreateRoom(sessionID, types.DefaultTranscriptionSessionConfig())

	r.mu.Lock()
	if r.source != nil {
		r.mu.Unlock()
		return false
	}
	r.source = src
	cfg := r.Config
	r.mu.Unlock()

	metrics.RoomHasSource.WithLabelValues(string(sessionID)).Set(1)

	client := transcription.NewClient(m.transcriptionServiceURL, m.transcriptionAPIKey, m.breaker, sessionID, cfg)

	r.mu.Lock()
	r.client = client
	r.mu.Unlock()

	r.wg.Add(1)
	go r.watchTranscriptionEvents(client)

	go func() {
		if err := client.Connect(context.Background()); err != nil {
			logging.Error(context.Background(), "failed to connect transcription backend",
				zap.String("session_id", string(sessionID)), zap.Error(err))
		}
	}()

	return true
}

// RemoveAudioSource disconnects the room's transcription client and clears
// the source slot, triggering GC if subscribers is now empty.
func (m *Manager) RemoveAudioSource(sessionID types.SessionID) {
	m.mu.Lock()
	r, exists := m.rooms[sessionID]
	m.mu.Unlock()
	if !exists {
		return
	}

	r.mu.Lock()
	r.source = nil
	if r.client != nil {
		r.client.Disconnect()
		r.client = nil
	}
	empty := r.isEmptyLocked()
	r.mu.Unlock()

	metrics.RoomHasSource.WithLabelValues(string(sessionID)).Set(0)

	if empty {
		m.removeIfEmpty(sessionID)
	}
}

// ForwardAudio routes bytes to the room's transcription client. No-op if
// the room or its client is absent.
func (m *Manager) ForwardAudio(sessionID types.SessionID, data []byte) {
	m.mu.Lock()
	r, exists := m.rooms[sessionID]
	m.mu.Unlock()
	if !exists {
		return
	}
	r.forwardAudio(data)
}

// AddSubscriber creates the room if absent (with default config) and adds
// sub to its subscriber set.
func (m *Manager) AddSubscriber(sessionID types.SessionID, sub *transport.Subscriber) {
	r := m.GetOrCreateRoom(sessionID, types.DefaultTranscriptionSessionConfig())

	r.mu.Lock()
	r.subscribers[sub.ID] = sub
	count := len(r.subscribers)
	r.mu.Unlock()

	metrics.RoomSubscribers.WithLabelValues(string(sessionID)).Set(float64(count))
}

// RemoveSubscriber removes sub from the room's subscriber set and closes it,
// triggering GC if the source is absent and the set becomes empty.
func (m *Manager) RemoveSubscriber(sessionID types.SessionID, subID string) {
	m.mu.Lock()
	r, exists := m.rooms[sessionID]
	m.mu.Unlock()
	if !exists {
		return
	}

	r.mu.Lock()
	sub := r.subscribers[subID]
	delete(r.subscribers, subID)
	count := len(r.subscribers)
	empty := r.isEmptyLocked()
	r.mu.Unlock()

	if sub != nil {
		sub.Close()
	}

	metrics.RoomSubscribers.WithLabelValues(string(sessionID)).Set(float64(count))

	if empty {
		m.removeIfEmpty(sessionID)
	}
}

// ListRooms returns a RoomInfo snapshot for every live room.
func (m *Manager) ListRooms() []types.RoomInfo {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	infos := make([]types.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		infos = append(infos, r.Info())
	}
	return infos
}

// removeIfEmpty is the GC rule: after every removeAudioSource and
// removeSubscriber, if both source and subscribers are empty, the room is
// removed. Re-checks under the map lock since state may have changed
// between the caller's read and this call.
func (m *Manager) removeIfEmpty(sessionID types.SessionID) {
	m.mu.Lock()
	r, exists := m.rooms[sessionID]
	if !exists {
		m.mu.Unlock()
		return
	}
	r.mu.RLock()
	empty := r.isEmptyLocked()
	r.mu.RUnlock()
	if !empty {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, sessionID)
	m.mu.Unlock()

	r.close(types.ReasonRoomClosed)
	metrics.ActiveRooms.Dec()
	metrics.RoomSubscribers.DeleteLabelValues(string(sessionID))
	metrics.RoomHasSource.DeleteLabelValues(string(sessionID))
	metrics.TranscriptionBackendState.DeleteLabelValues(string(sessionID))
}

// Shutdown closes every room with a normal close. Used during graceful
// server shutdown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for id, r := range m.rooms {
		rooms = append(rooms, r)
		delete(m.rooms, id)
	}
	m.mu.Unlock()

	for _, r := range rooms {
		r.close(types.ReasonRoomClosed)
	}
}
