// Package server defines transport errors and helpers that are reused across
// client and hub logic.
package server

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrClientClosed is returned by Client.Send once the connection left the hub.
	ErrClientClosed = errors.New("client connection closed")
	// ErrSendBufferFull is returned by Client.Send when the peer is not
	// draining its queue fast enough.
	ErrSendBufferFull = errors.New("client send buffer full")
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
