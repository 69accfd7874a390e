package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Tyrowin/gorelay/internal/relay"
)

const badgerPrefix = "msg:"

// BadgerStore keeps records in an embedded Badger database.
// Keys have the form "msg:{timestamp_padded}:{uuid}" so that a prefix scan
// returns records in timestamp order; the 19-digit padding keeps
// lexicographic and chronological order identical.
type BadgerStore struct {
	db    *badger.DB
	clock *monotonicClock
}

// OpenBadger opens (or creates) a Badger database in dir.
func OpenBadger(dir string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, errors.Wrapf(err, "open badger at %s", dir)
	}
	s, err := NewBadgerStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewBadgerStore wraps an open database. The clock resumes after the newest
// record already stored.
func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	s := &BadgerStore{db: db, clock: newMonotonicClock(time.Now)}
	last, err := s.lastTimestamp()
	if err != nil {
		return nil, err
	}
	s.clock.Observe(last)
	return s, nil
}

func badgerKey(rec relay.StoredRecord) []byte {
	return []byte(fmt.Sprintf("%s%019d:%s", badgerPrefix, rec.Timestamp.UnixNano(), rec.ID))
}

// Append stores evt and returns the resulting record.
func (s *BadgerStore) Append(ctx context.Context, evt relay.MessageEvent) (relay.StoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return relay.StoredRecord{}, err
	}

	rec := relay.StoredRecord{
		ID:         uuid.New(),
		SenderID:   evt.SenderID,
		ReceiverID: evt.ReceiverID,
		Content:    evt.Content,
		Timestamp:  s.clock.Next(),
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return relay.StoredRecord{}, errors.Wrap(err, "encode record")
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(rec), value)
	})
	if err != nil {
		return relay.StoredRecord{}, errors.Wrap(err, "write record")
	}
	return rec, nil
}

// Conversation returns the records exchanged between a and b ordered by
// timestamp.
func (s *BadgerStore) Conversation(ctx context.Context, a, b string) ([]relay.StoredRecord, error) {
	var out []relay.StoredRecord
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(badgerPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec relay.StoredRecord
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			})
			if err != nil {
				return err
			}
			if betweenPair(rec, a, b) {
				out = append(out, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan conversation")
	}
	return out, nil
}

func (s *BadgerStore) lastTimestamp() (time.Time, error) {
	var last time.Time
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(badgerPrefix)
		it.Seek(append([]byte(badgerPrefix), []byte("9999999999999999999")...))
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		stamp, _, _ := strings.Cut(string(it.Item().Key()[len(prefix):]), ":")
		nanos, err := strconv.ParseInt(stamp, 10, 64)
		if err != nil {
			return err
		}
		last = time.Unix(0, nanos).UTC()
		return nil
	})
	if err != nil {
		return time.Time{}, errors.Wrap(err, "read last record")
	}
	return last, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
