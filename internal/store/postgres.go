package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/Tyrowin/gorelay/internal/relay"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS messages (
	seq         BIGSERIAL PRIMARY KEY,
	id          UUID NOT NULL UNIQUE,
	sender_id   TEXT NOT NULL,
	receiver_id TEXT NOT NULL,
	content     TEXT NOT NULL,
	timestamp   TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);
CREATE INDEX IF NOT EXISTS messages_pair_idx ON messages (sender_id, receiver_id, timestamp);
`

// PostgresStore appends records to the messages table through a pgx pool.
// Timestamps come from clock_timestamp() and ties are broken by the serial
// seq column.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OpenPostgres connects to databaseURL, verifies the connection and makes
// sure the schema exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect to postgres")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	s := NewPostgresStore(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the messages table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return errors.Wrap(err, "apply messages schema")
	}
	return nil
}

// Append inserts evt and returns the stored record.
func (s *PostgresStore) Append(ctx context.Context, evt relay.MessageEvent) (relay.StoredRecord, error) {
	rec := relay.StoredRecord{
		ID:         uuid.New(),
		SenderID:   evt.SenderID,
		ReceiverID: evt.ReceiverID,
		Content:    evt.Content,
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, content)
		 VALUES ($1, $2, $3, $4)
		 RETURNING timestamp`,
		rec.ID.String(), rec.SenderID, rec.ReceiverID, rec.Content,
	).Scan(&rec.Timestamp)
	if err != nil {
		return relay.StoredRecord{}, errors.Wrap(err, "insert message")
	}

	rec.Timestamp = rec.Timestamp.UTC()
	return rec, nil
}

// Conversation returns the records exchanged between a and b ordered by
// timestamp.
func (s *PostgresStore) Conversation(ctx context.Context, a, b string) ([]relay.StoredRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, sender_id, receiver_id, content, timestamp
		 FROM messages
		 WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		 ORDER BY timestamp, seq`,
		a, b,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query conversation")
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (relay.StoredRecord, error) {
		var (
			rec relay.StoredRecord
			id  string
		)
		if err := row.Scan(&id, &rec.SenderID, &rec.ReceiverID, &rec.Content, &rec.Timestamp); err != nil {
			return relay.StoredRecord{}, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return relay.StoredRecord{}, err
		}
		rec.ID = parsed
		rec.Timestamp = rec.Timestamp.UTC()
		return rec, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan conversation")
	}
	return records, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
