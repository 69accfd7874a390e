package relay

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrEmptyIdentity  = errors.New("identity must not be empty")
	ErrInvalidMessage = errors.New("invalid message event")
	ErrNotConnected   = errors.New("connection is not connected")
)

// PersistenceError reports that a message could not be appended to the
// MessageStore. It never prevents live delivery.
type PersistenceError struct {
	Event MessageEvent
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist message %s -> %s: %v", e.Event.SenderID, e.Event.ReceiverID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
