package room

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/scribear/relay/internal/v1/transport"
	"github.com/scribear/relay/internal/v1/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestManager() *Manager {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "test"})
	// No transcription backend is reachable at this address; Connect will
	// fail fast and the room simply stays disconnected, which is fine for
	// exercising the Room Manager's own bookkeeping.
	return NewManager("ws://127.0.0.1:1", "test-key", breaker)
}

// dialPair spins up a local WebSocket echo-ish endpoint and returns a
// connected pair: the server-side conn (as seen by the relay) and a closer
// for the client side.
func dialPair(t *testing.T) (*websocket.Conn, func()) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		connCh <- conn
	}))

	wsURL := "ws" + srv.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	serverConn := <-connCh

	return serverConn, func() {
		clientConn.Close()
		serverConn.Close()
		srv.Close()
	}
}

func TestManager_CreateRoom_ConflictsOnDuplicate(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	_, err := m.CreateRoom("session-1", types.DefaultTranscriptionSessionConfig())
	require.NoError(t, err)

	_, err = m.CreateRoom("session-1", types.DefaultTranscriptionSessionConfig())
	assert.ErrorIs(t, err, ErrRoomExists)
}

func TestManager_GetOrCreateRoom_NeverFails(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	r1 := m.GetOrCreateRoom("session-2", types.DefaultTranscriptionSessionConfig())
	r2 := m.GetOrCreateRoom("session-2", types.DefaultTranscriptionSessionConfig())
	assert.Same(t, r1, r2)
}

func TestManager_SetAudioSource_FalseWhenAlreadyAttached(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	conn1, cleanup1 := dialPair(t)
	defer cleanup1()
	conn2, cleanup2 := dialPair(t)
	defer cleanup2()

	src1 := transport.NewSource(conn1, "session-3")
	src2 := transport.NewSource(conn2, "session-3")

	ok := m.SetAudioSource("session-3", src1)
	assert.True(t, ok)

	ok = m.SetAudioSource("session-3", src2)
	assert.False(t, ok, "second source attach must be rejected")

	m.RemoveAudioSource("session-3")
}

func TestManager_AddRemoveSubscriber_GCsEmptyRoom(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	conn, cleanup := dialPair(t)
	defer cleanup()

	sub := transport.NewSubscriber(conn, "session-4", "sub-1")
	m.AddSubscriber("session-4", sub)

	r := m.GetRoom("session-4")
	require.NotNil(t, r)
	assert.Equal(t, 1, r.SubscriberCount())

	m.RemoveSubscriber("session-4", "sub-1")

	// GC is synchronous from the caller's perspective: removeIfEmpty runs
	// inline within RemoveSubscriber.
	assert.Nil(t, m.GetRoom("session-4"))
}

func TestManager_RemoveAudioSource_DoesNotGCWithSubscribersPresent(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	srcConn, srcCleanup := dialPair(t)
	defer srcCleanup()
	subConn, subCleanup := dialPair(t)
	defer subCleanup()

	src := transport.NewSource(srcConn, "session-5")
	sub := transport.NewSubscriber(subConn, "session-5", "sub-1")

	m.SetAudioSource("session-5", src)
	m.AddSubscriber("session-5", sub)

	m.RemoveAudioSource("session-5")

	r := m.GetRoom("session-5")
	require.NotNil(t, r, "room must survive while a subscriber remains")
	assert.False(t, r.HasSource())

	m.RemoveSubscriber("session-5", "sub-1")
	assert.Nil(t, m.GetRoom("session-5"))
}

func TestManager_RemoveRoom_IsIdempotent(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	_, err := m.CreateRoom("session-6", types.DefaultTranscriptionSessionConfig())
	require.NoError(t, err)

	m.RemoveRoom("session-6")
	assert.NotPanics(t, func() { m.RemoveRoom("session-6") })
}

func TestManager_ListRooms_ReflectsState(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	_, err := m.CreateRoom("session-7", types.TranscriptionSessionConfig{ProviderKey: "whisper", SampleRate: 8000, NumChannels: 1})
	require.NoError(t, err)

	infos := m.ListRooms()
	require.Len(t, infos, 1)
	assert.Equal(t, types.SessionID("session-7"), infos[0].SessionID)
	assert.False(t, infos[0].HasSource)
	assert.Equal(t, 0, infos[0].SubscriberCount)
}

func TestManager_ForwardAudio_NoopWithoutRoom(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	assert.NotPanics(t, func() {
		m.ForwardAudio("nonexistent", []byte{1, 2, 3})
	})
}

func TestRoom_Info_SnapshotsCurrentState(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()

	r, err := m.CreateRoom("session-8", types.DefaultTranscriptionSessionConfig())
	require.NoError(t, err)

	info := r.Info()
	assert.Equal(t, types.SessionID("session-8"), info.SessionID)
	assert.WithinDuration(t, time.Now(), info.CreatedAt, time.Second)
}
