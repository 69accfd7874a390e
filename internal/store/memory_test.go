package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gorelay/internal/relay"
)

func TestMemoryStore_Append(t *testing.T) {
	req := require.New(t)
	s := NewMemoryStore()

	rec, err := s.Append(context.Background(), relay.MessageEvent{SenderID: "u1", ReceiverID: "u2", Content: "hi"})

	req.NoError(err)
	req.NotEqual(uuid.Nil, rec.ID)
	req.Equal("u1", rec.SenderID)
	req.Equal("u2", rec.ReceiverID)
	req.Equal("hi", rec.Content)
	req.False(rec.Timestamp.IsZero())
	req.Equal([]relay.StoredRecord{rec}, s.Records())
}

func TestMemoryStore_Append_Cancelled_Context(t *testing.T) {
	req := require.New(t)
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Append(ctx, relay.MessageEvent{SenderID: "u1", ReceiverID: "u2"})

	req.ErrorIs(err, context.Canceled)
	req.Empty(s.Records())
}

func TestMemoryStore_Concurrent_Appends_Are_Timestamp_Monotonic(t *testing.T) {
	req := require.New(t)
	s := NewMemoryStore()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Append(context.Background(), relay.MessageEvent{
				SenderID:   fmt.Sprintf("u%d", i),
				ReceiverID: "hub",
				Content:    "ping",
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	records := s.Records()
	req.Len(records, 50)
	for i := 1; i < len(records); i++ {
		req.True(records[i].Timestamp.After(records[i-1].Timestamp))
	}
}

func TestMemoryStore_Conversation(t *testing.T) {
	req := require.New(t)
	s := NewMemoryStore()
	ctx := context.Background()

	// Given messages in both directions and one unrelated message
	first, err := s.Append(ctx, relay.MessageEvent{SenderID: "alice", ReceiverID: "bob", Content: "hello"})
	req.NoError(err)
	_, err = s.Append(ctx, relay.MessageEvent{SenderID: "alice", ReceiverID: "clara", Content: "psst"})
	req.NoError(err)
	second, err := s.Append(ctx, relay.MessageEvent{SenderID: "bob", ReceiverID: "alice", Content: "hey"})
	req.NoError(err)

	// When the conversation is read from either side
	fromAlice, err := s.Conversation(ctx, "alice", "bob")
	req.NoError(err)
	fromBob, err := s.Conversation(ctx, "bob", "alice")
	req.NoError(err)

	// Then both sides see the same ordered records
	req.Equal([]relay.StoredRecord{first, second}, fromAlice)
	req.Equal(fromAlice, fromBob)
}
