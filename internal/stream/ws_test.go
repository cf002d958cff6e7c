package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/neosim/internal/orbit"
)

// readUntil reads WebSocket messages until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", typ)
		if msg["type"] == typ {
			return msg
		}
	}
}

func dialSession(t *testing.T, handler *Handler, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler.HandleSession))
	t.Cleanup(srv.Close)

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// TestSessionHandshake verifies the opening messages of a WebSocket session.
func TestSessionHandshake(t *testing.T) {
	conn := dialSession(t, NewHandler(testDriver(testStore()), testConfig(), testLogger()), "?zoom=150")

	hello := readUntil(t, conn, "metadata")
	assert.NotEmpty(t, hello["session"], "metadata carries a session id")
	assert.Equal(t, 150.0, hello["zoom"])
	readUntil(t, conn, "roster")
	frame := readUntil(t, conn, "frame")
	assert.Equal(t, 150.0, frame["zoom"])
}

// TestSessionZoom verifies zoom commands are applied per session and clamped.
func TestSessionZoom(t *testing.T) {
	conn := dialSession(t, NewHandler(testDriver(nil), testConfig(), testLogger()), "")
	readUntil(t, conn, "frame")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "zoom", "factor": 2}))
	assert.Equal(t, 200.0, readUntil(t, conn, "view")["zoom"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "set_zoom", "zoom": 10000}))
	assert.Equal(t, orbit.MaxZoom, readUntil(t, conn, "view")["zoom"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "zoom", "factor": -1}))
	readUntil(t, conn, "error")
}

// TestSessionPointer verifies pointer lookups reply with a nearest message.
func TestSessionPointer(t *testing.T) {
	conn := dialSession(t, NewHandler(testDriver(nil), testConfig(), testLogger()), "")
	readUntil(t, conn, "frame")

	// The sun sits at the view centre.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "pointer", "x": 1, "y": 1}))
	msg := readUntil(t, conn, "nearest")
	require.Equal(t, true, msg["found"])
	summary, ok := msg["summary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, orbit.SunID, summary["id"])

	// Far from any body.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "pointer", "x": 5000, "y": 5000}))
	assert.Equal(t, false, readUntil(t, conn, "nearest")["found"])
}

// TestSessionRejectsBadMessages verifies malformed and unknown commands get
// an error reply and keep the session open.
func TestSessionRejectsBadMessages(t *testing.T) {
	conn := dialSession(t, NewHandler(testDriver(nil), testConfig(), testLogger()), "")
	readUntil(t, conn, "frame")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	readUntil(t, conn, "error")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "warp"}))
	readUntil(t, conn, "error")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "center", "x": 10, "y": -4}))
	center, ok := readUntil(t, conn, "view")["center"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 10.0, center["x"])
	assert.Equal(t, -4.0, center["y"])
}

// TestSessionRejectsBadParams verifies parameter errors are reported before
// the upgrade.
func TestSessionRejectsBadParams(t *testing.T) {
	handler := NewHandler(testDriver(nil), testConfig(), testLogger())
	req := httptest.NewRequest("GET", "/api/v1/ws?zoom=abc", nil)
	w := httptest.NewRecorder()
	handler.HandleSession(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
