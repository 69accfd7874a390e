// Package testutil provides helpers shared by tests that talk to a running
// relay over HTTP and WebSocket.
package testutil

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gorelay/internal/relay"
)

// DefaultTimeout bounds every blocking read in these helpers.
const DefaultTimeout = 2 * time.Second

// WebSocketURL turns an httptest server URL into the URL of its /ws endpoint.
func WebSocketURL(t *testing.T, serverURL string) string {
	t.Helper()
	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"
	return u.String()
}

// OriginHeader builds the request header carrying origin. An empty origin
// yields an empty header.
func OriginHeader(origin string) http.Header {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return header
}

// Dial opens a WebSocket connection to wsURL with the given Origin. The
// connection is closed when the test ends.
func Dial(t *testing.T, wsURL, origin string) *websocket.Conn {
	t.Helper()

	conn, err := DialE(wsURL, origin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// DialE is Dial without the test plumbing, for callers expecting failure.
func DialE(wsURL, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: DefaultTimeout}
	conn, resp, err := dialer.Dial(wsURL, OriginHeader(origin))
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SendFrame writes one {"event","data"} frame.
func SendFrame(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	payload, err := relay.EncodeFrame(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

// SendRaw writes payload as a single text message.
func SendRaw(t *testing.T, conn *websocket.Conn, payload []byte) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

// ReadFrame reads the next frame, failing the test after DefaultTimeout.
func ReadFrame(t *testing.T, conn *websocket.Conn) relay.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(DefaultTimeout)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame relay.Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

// ReadMessage reads the next frame and requires it to be a message event.
func ReadMessage(t *testing.T, conn *websocket.Conn) relay.MessageEvent {
	t.Helper()
	frame := ReadFrame(t, conn)
	require.Equal(t, relay.EventMessage, frame.Event)

	var evt relay.MessageEvent
	require.NoError(t, json.Unmarshal(frame.Data, &evt))
	return evt
}

// ReadNotice reads the next frame and requires it to be an error event.
func ReadNotice(t *testing.T, conn *websocket.Conn) relay.Notice {
	t.Helper()
	frame := ReadFrame(t, conn)
	require.Equal(t, relay.EventError, frame.Event)

	var notice relay.Notice
	require.NoError(t, json.Unmarshal(frame.Data, &notice))
	return notice
}

// ExpectNoFrame asserts that nothing arrives on conn within timeout.
func ExpectNoFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, raw, err := conn.ReadMessage()
	require.Error(t, err, "expected no frame, got %s", raw)

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway),
		"unexpected error while waiting for absence of a frame: %v", err)
}

// CloseWebSocket sends a normal close frame and closes conn.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// Eventually polls cond until it holds or DefaultTimeout passes.
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, DefaultTimeout, 5*time.Millisecond, msg)
}

// MakeRequest performs an HTTP request with a short client timeout.
func MakeRequest(t *testing.T, method, target string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(method, target, http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}
