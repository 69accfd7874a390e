// Package presence mirrors the identities bound on this node into Redis so
// that other nodes and tools can see who is online where.
package presence

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix  = "presence:"
	opTimeout  = 3 * time.Second
	defaultTTL = 2 * time.Minute
)

// Config configures a Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// Connect opens a Redis client and pings it.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", cfg.Addr)
	}
	return rdb, nil
}

// Tracker writes presence:{node}:{identity} keys with a TTL while an
// identity is bound on this node. Keys are refreshed by Run and removed on
// unbind. Redis failures are logged and never reach the relay.
type Tracker struct {
	rdb  redis.UniversalClient
	node string
	ttl  time.Duration
	log  *zap.Logger

	mu     sync.Mutex
	online map[string]struct{}
}

// NewTracker creates a Tracker for node.
func NewTracker(rdb redis.UniversalClient, node string, ttl time.Duration, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Tracker{
		rdb:    rdb,
		node:   node,
		ttl:    ttl,
		log:    log.With(zap.String("node", node)),
		online: make(map[string]struct{}),
	}
}

func (t *Tracker) key(identity string) string {
	return keyPrefix + t.node + ":" + identity
}

// Bound records identity as online on this node.
func (t *Tracker) Bound(ctx context.Context, identity string) {
	t.mu.Lock()
	t.online[identity] = struct{}{}
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := t.rdb.Set(ctx, t.key(identity), t.node, t.ttl).Err(); err != nil {
		t.log.Warn("presence set failed", zap.String("identity", identity), zap.Error(err))
	}
}

// Unbound removes identities from this node's presence.
func (t *Tracker) Unbound(ctx context.Context, identities []string) {
	if len(identities) == 0 {
		return
	}

	keys := make([]string, 0, len(identities))
	t.mu.Lock()
	for _, identity := range identities {
		delete(t.online, identity)
		keys = append(keys, t.key(identity))
	}
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := t.rdb.Del(ctx, keys...).Err(); err != nil {
		t.log.Warn("presence delete failed", zap.Strings("identities", identities), zap.Error(err))
	}
}

// Refresh re-arms the TTL of every identity bound on this node.
func (t *Tracker) Refresh(ctx context.Context) error {
	t.mu.Lock()
	identities := make([]string, 0, len(t.online))
	for identity := range t.online {
		identities = append(identities, identity)
	}
	t.mu.Unlock()

	if len(identities) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := t.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, identity := range identities {
			pipe.Set(ctx, t.key(identity), t.node, t.ttl)
		}
		return nil
	})
	return errors.Wrap(err, "refresh presence")
}

// Run refreshes presence every half TTL until ctx is done, then removes
// every key this node still holds.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.clear()
			return
		case <-ticker.C:
			if err := t.Refresh(ctx); err != nil && ctx.Err() == nil {
				t.log.Warn("presence refresh failed", zap.Error(err))
			}
		}
	}
}

func (t *Tracker) clear() {
	t.mu.Lock()
	identities := make([]string, 0, len(t.online))
	for identity := range t.online {
		identities = append(identities, identity)
	}
	t.mu.Unlock()

	t.Unbound(context.Background(), identities)
}

// Locate returns the nodes on which identity is currently online.
func (t *Tracker) Locate(ctx context.Context, identity string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	pattern := keyPrefix + "*:" + escapeGlob(identity)
	var nodes []string
	iter := t.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		node := strings.TrimSuffix(strings.TrimPrefix(iter.Val(), keyPrefix), ":"+identity)
		// Node ids never contain a colon; anything else is a longer identity.
		if !strings.Contains(node, ":") {
			nodes = append(nodes, node)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrapf(err, "locate %s", identity)
	}
	return nodes, nil
}

// Online reports whether identity is bound on any node.
func (t *Tracker) Online(ctx context.Context, identity string) (bool, error) {
	nodes, err := t.Locate(ctx, identity)
	if err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

// escapeGlob quotes the characters Redis MATCH patterns treat specially.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
