//go:generate go run go.uber.org/mock/mockgen -source=types.go -destination=mocks/mock_relay.go -package=mocks

// Package relay defines the message, record, and collaborator types shared by
// the registry, router, and lifecycle manager.
package relay

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Handle is a non-owning reference to a live transport connection.
// Implementations must be comparable (typically a pointer) because the
// Registry removes entries by handle equality.
type Handle interface {
	// ID returns an identifier unique to this connection. It appears in logs
	// and marks the connection as finished once it disconnects, so it must
	// never be reused by a later connection.
	ID() string
	// Send queues payload for delivery. It must not block on the network and
	// returns an error when the connection can no longer accept frames.
	Send(payload []byte) error
}

// MessageEvent is an in-flight message submitted by a connection and not yet
// persisted. The JSON names follow the wire format used by existing clients.
type MessageEvent struct {
	SenderID   string `json:"iduser" validate:"required"`
	ReceiverID string `json:"idusertwo" validate:"required"`
	Content    string `json:"content"`
}

// StoredRecord is an immutable persisted message. ID and Timestamp are
// assigned by the MessageStore.
type StoredRecord struct {
	ID         uuid.UUID `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// MessageStore durably appends message records. Append order must be
// timestamp-monotonic so history queries ordered by timestamp stay meaningful.
type MessageStore interface {
	Append(ctx context.Context, evt MessageEvent) (StoredRecord, error)
}

// Publisher receives every successfully stored record for downstream
// consumers.
type Publisher interface {
	Publish(ctx context.Context, rec StoredRecord) error
}

// Observer is notified of registry bindings made by the Lifecycle manager.
// Calls happen outside of any relay lock, one at a time, in the order the
// bindings changed.
type Observer interface {
	Bound(ctx context.Context, identity string)
	Unbound(ctx context.Context, identities []string)
}
