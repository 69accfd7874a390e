package relay_test

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gorelay/internal/relay"
)

// fakeHandle records every frame it is sent. Setting err makes it behave like
// a connection that closed concurrently.
type fakeHandle struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	err    error
}

func newFakeHandle(id string) *fakeHandle {
	return &fakeHandle{id: id}
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Send(payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.err != nil {
		return h.err
	}
	h.frames = append(h.frames, append([]byte(nil), payload...))
	return nil
}

func (h *fakeHandle) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

func (h *fakeHandle) sent() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.frames...)
}

func decodeFrame(t *testing.T, raw []byte) relay.Frame {
	t.Helper()
	var f relay.Frame
	require.NoError(t, json.Unmarshal(raw, &f))
	return f
}

func decodeMessage(t *testing.T, raw []byte) relay.MessageEvent {
	t.Helper()
	f := decodeFrame(t, raw)
	require.Equal(t, relay.EventMessage, f.Event)
	var evt relay.MessageEvent
	require.NoError(t, json.Unmarshal(f.Data, &evt))
	return evt
}

func decodeNotice(t *testing.T, raw []byte) relay.Notice {
	t.Helper()
	f := decodeFrame(t, raw)
	require.Equal(t, relay.EventError, f.Event)
	var n relay.Notice
	require.NoError(t, json.Unmarshal(f.Data, &n))
	return n
}
