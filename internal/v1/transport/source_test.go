package transport

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/scribear/relay/internal/v1/types"
)

func TestSource_ReadFrameReturnsBinaryFrames(t *testing.T) {
	serverConn, clientConn, closeAll := dialTestPair(t)
	defer closeAll()

	src := NewSource(serverConn, "session-1")

	require.NoError(t, clientConn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))

	messageType, data, err := src.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, messageType)
	require.Equal(t, []byte{1, 2, 3}, data)
}

func TestSource_CloseWithCodeSendsCloseFrame(t *testing.T) {
	serverConn, clientConn, closeAll := dialTestPair(t)
	defer closeAll()

	src := NewSource(serverConn, "session-2")
	src.CloseWithCode(types.CloseUnauthorizedScope, types.ReasonScopeUnauthorized+"source")

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := clientConn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	require.Equal(t, types.CloseUnauthorizedScope, closeErr.Code)
}
