package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/Tyrowin/gorelay/internal/relay"
)

// MemoryStore keeps records in process memory. It is the default store and
// the one used by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records []relay.StoredRecord
	clock   *monotonicClock
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{clock: newMonotonicClock(time.Now)}
}

// Append stores evt and returns the resulting record.
func (s *MemoryStore) Append(ctx context.Context, evt relay.MessageEvent) (relay.StoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return relay.StoredRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := relay.StoredRecord{
		ID:         uuid.New(),
		SenderID:   evt.SenderID,
		ReceiverID: evt.ReceiverID,
		Content:    evt.Content,
		Timestamp:  s.clock.Next(),
	}
	s.records = append(s.records, rec)
	return rec, nil
}

// Records returns a copy of every stored record in append order.
func (s *MemoryStore) Records() []relay.StoredRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]relay.StoredRecord(nil), s.records...)
}

// Conversation returns the records exchanged between a and b, in either
// direction, ordered by timestamp.
func (s *MemoryStore) Conversation(_ context.Context, a, b string) ([]relay.StoredRecord, error) {
	s.mu.RLock()
	out := lo.Filter(s.records, func(rec relay.StoredRecord, _ int) bool {
		return betweenPair(rec, a, b)
	})
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func betweenPair(rec relay.StoredRecord, a, b string) bool {
	return (rec.SenderID == a && rec.ReceiverID == b) || (rec.SenderID == b && rec.ReceiverID == a)
}

// Close is a no-op; it lets MemoryStore stand in wherever a Store is needed.
func (s *MemoryStore) Close() error {
	return nil
}
