package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Tyrowin/gorelay/internal/relay"
)

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// Drivers lists every driver name Open accepts.
var Drivers = []string{DriverMemory, DriverPostgres, DriverBadger}

// Store is a MessageStore that can also answer history queries.
type Store interface {
	relay.MessageStore
	Conversation(ctx context.Context, a, b string) ([]relay.StoredRecord, error)
	Close() error
}

// Options selects and configures a store driver.
type Options struct {
	Driver      string
	DatabaseURL string
	BadgerPath  string
}

// Open returns the store named by opts.Driver. An empty driver selects the
// in-memory store.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverPostgres:
		return OpenPostgres(ctx, opts.DatabaseURL)
	case DriverBadger:
		return OpenBadger(opts.BadgerPath)
	default:
		return nil, errors.Errorf("unknown store driver %q", opts.Driver)
	}
}
