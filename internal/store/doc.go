// Package store provides MessageStore implementations for the relay: an
// in-memory store, a PostgreSQL store built on pgx, and an embedded Badger
// store. Every store assigns record ids and strictly increasing timestamps
// so that history ordered by timestamp matches append order.
package store
