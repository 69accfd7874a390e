package presence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEscapeGlob(t *testing.T) {
	tests := map[string]string{
		"u1":     "u1",
		"a*b":    `a\*b`,
		"what?":  `what\?`,
		"[x]":    `\[x\]`,
		`back\s`: `back\\s`,
		"":       "",
	}
	for in, want := range tests {
		require.Equal(t, want, escapeGlob(in), in)
	}
}

func TestTracker_Key(t *testing.T) {
	tr := NewTracker(nil, "node-a", 0, zap.NewNop())

	require.Equal(t, "presence:node-a:u1", tr.key("u1"))
	require.Equal(t, defaultTTL, tr.ttl)
}

// Requires a reachable Redis, e.g. TEST_REDIS_ADDR=localhost:6379.
func TestTracker_Redis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	rdb, err := Connect(ctx, Config{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	node := uuid.NewString()
	other := uuid.NewString()
	tr := NewTracker(rdb, node, time.Minute, zap.NewNop())
	remote := NewTracker(rdb, other, time.Minute, zap.NewNop())
	identity := "user-" + uuid.NewString()

	t.Run("bound identities are online with a ttl", func(t *testing.T) {
		req := require.New(t)

		tr.Bound(ctx, identity)

		online, err := tr.Online(ctx, identity)
		req.NoError(err)
		req.True(online)
		ttl, err := rdb.TTL(ctx, tr.key(identity)).Result()
		req.NoError(err)
		req.Greater(ttl, time.Duration(0))
		val, err := rdb.Get(ctx, tr.key(identity)).Result()
		req.NoError(err)
		req.Equal(node, val)
	})

	t.Run("locate sees every node", func(t *testing.T) {
		req := require.New(t)

		remote.Bound(ctx, identity)

		nodes, err := tr.Locate(ctx, identity)
		req.NoError(err)
		req.ElementsMatch([]string{node, other}, nodes)
	})

	t.Run("longer identities sharing a suffix are not matched", func(t *testing.T) {
		req := require.New(t)
		suffixed := "prefix:" + identity

		tr.Bound(ctx, suffixed)
		t.Cleanup(func() { tr.Unbound(ctx, []string{suffixed}) })

		nodes, err := tr.Locate(ctx, identity)
		req.NoError(err)
		req.Len(nodes, 2)
	})

	t.Run("refresh keeps keys alive", func(t *testing.T) {
		req := require.New(t)
		req.NoError(rdb.Expire(ctx, tr.key(identity), 5*time.Second).Err())

		req.NoError(tr.Refresh(ctx))

		ttl, err := rdb.TTL(ctx, tr.key(identity)).Result()
		req.NoError(err)
		req.Greater(ttl, 5*time.Second)
	})

	t.Run("unbound identities go offline per node", func(t *testing.T) {
		req := require.New(t)

		tr.Unbound(ctx, []string{identity})

		nodes, err := tr.Locate(ctx, identity)
		req.NoError(err)
		req.Equal([]string{other}, nodes)
	})

	t.Run("run clears the node on exit", func(t *testing.T) {
		req := require.New(t)
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			remote.Run(runCtx)
			close(done)
		}()

		cancel()
		<-done

		online, err := tr.Online(ctx, identity)
		req.NoError(err)
		req.False(online)
	})
}
