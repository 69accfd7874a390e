package relay_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Tyrowin/gorelay/internal/relay"
	"github.com/Tyrowin/gorelay/internal/relay/mocks"
	"github.com/Tyrowin/gorelay/internal/store"
)

type lifecycleFixture struct {
	registry  *relay.Registry
	store     *store.MemoryStore
	lifecycle *relay.Lifecycle
}

func newLifecycleFixture(observers ...relay.Observer) lifecycleFixture {
	registry := relay.NewRegistry()
	memory := store.NewMemoryStore()
	router := relay.NewRouter(memory, registry)
	return lifecycleFixture{
		registry:  registry,
		store:     memory,
		lifecycle: relay.NewLifecycle(registry, router, nil, observers...),
	}
}

func TestLifecycle_State_Machine(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture()
	ctx := context.Background()
	h := newFakeHandle("c1")

	// Given a fresh connection
	f.lifecycle.OnConnect(h)
	req.Equal(relay.StateUnbound, f.lifecycle.State(h))
	req.Zero(f.registry.Len())

	// When it announces an identity
	req.NoError(f.lifecycle.OnIdentityAnnounced(ctx, h, "u1"))

	// Then it is bound in the registry
	req.Equal(relay.StateBound, f.lifecycle.State(h))
	got, ok := f.registry.Lookup("u1")
	req.True(ok)
	req.Same(h, got)

	// When it disconnects
	f.lifecycle.OnDisconnect(ctx, h)

	// Then the registry is scrubbed and the handle is terminally disconnected
	req.Equal(relay.StateDisconnected, f.lifecycle.State(h))
	_, ok = f.registry.Lookup("u1")
	req.False(ok)
	req.Zero(f.lifecycle.Connections())
}

func TestLifecycle_Disconnected_Handle_Is_Never_Reentered(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture()
	ctx := context.Background()
	h := newFakeHandle("c1")

	f.lifecycle.OnConnect(h)
	req.NoError(f.lifecycle.OnIdentityAnnounced(ctx, h, "u1"))
	f.lifecycle.OnDisconnect(ctx, h)

	err := f.lifecycle.OnIdentityAnnounced(ctx, h, "u1")
	req.ErrorIs(err, relay.ErrNotConnected)
	_, ok := f.registry.Lookup("u1")
	req.False(ok)

	// A late connect event for the same handle does not revive it
	f.lifecycle.OnConnect(h)
	req.Equal(relay.StateDisconnected, f.lifecycle.State(h))
	req.Zero(f.lifecycle.Connections())
	req.ErrorIs(f.lifecycle.OnIdentityAnnounced(ctx, h, "u1"), relay.ErrNotConnected)
	_, ok = f.registry.Lookup("u1")
	req.False(ok)

	_, err = f.lifecycle.OnMessage(ctx, h, relay.MessageEvent{SenderID: "u1", ReceiverID: "u2", Content: "late"})
	req.ErrorIs(err, relay.ErrNotConnected)
	req.Empty(f.store.Records())

	// Disconnecting again is harmless
	f.lifecycle.OnDisconnect(ctx, h)
}

func TestLifecycle_Announce_Rejections(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture()
	ctx := context.Background()
	h := newFakeHandle("c1")

	req.ErrorIs(f.lifecycle.OnIdentityAnnounced(ctx, h, "u1"), relay.ErrNotConnected)

	f.lifecycle.OnConnect(h)
	req.ErrorIs(f.lifecycle.OnIdentityAnnounced(ctx, h, ""), relay.ErrEmptyIdentity)
	req.Equal(relay.StateUnbound, f.lifecycle.State(h))
	req.Zero(f.registry.Len())
}

func TestLifecycle_Rebinding_Leaves_Previous_Identity_Until_Disconnect(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture()
	ctx := context.Background()
	h := newFakeHandle("c1")
	f.lifecycle.OnConnect(h)

	// When the same connection announces two identities
	req.NoError(f.lifecycle.OnIdentityAnnounced(ctx, h, "u1"))
	req.NoError(f.lifecycle.OnIdentityAnnounced(ctx, h, "u2"))

	// Then both resolve to it
	req.Equal([]string{"u1", "u2"}, f.registry.Identities())

	// And a disconnect removes both
	f.lifecycle.OnDisconnect(ctx, h)
	req.Empty(f.registry.Identities())
}

func TestLifecycle_Second_Connection_Supersedes_First(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture()
	ctx := context.Background()
	first := newFakeHandle("first")
	second := newFakeHandle("second")

	f.lifecycle.OnConnect(first)
	f.lifecycle.OnConnect(second)
	req.NoError(f.lifecycle.OnIdentityAnnounced(ctx, first, "u1"))
	req.NoError(f.lifecycle.OnIdentityAnnounced(ctx, second, "u1"))

	// When the superseded connection closes
	f.lifecycle.OnDisconnect(ctx, first)

	// Then the identity stays bound to the newer connection
	got, ok := f.registry.Lookup("u1")
	req.True(ok)
	req.Same(second, got)
	req.Equal(relay.StateBound, f.lifecycle.State(second))
}

func TestLifecycle_OnMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("should accept messages before an identity is announced", func(t *testing.T) {
		req := require.New(t)
		f := newLifecycleFixture()
		sender := newFakeHandle("c1")
		receiver := newFakeHandle("c2")
		f.lifecycle.OnConnect(sender)
		f.lifecycle.OnConnect(receiver)
		req.NoError(f.lifecycle.OnIdentityAnnounced(ctx, receiver, "u2"))

		out, err := f.lifecycle.OnMessage(ctx, sender, relay.MessageEvent{SenderID: "u1", ReceiverID: "u2", Content: "early"})

		req.NoError(err)
		req.True(out.Delivered)
		req.Len(f.store.Records(), 1)
	})

	t.Run("should reject events without sender or receiver", func(t *testing.T) {
		req := require.New(t)
		f := newLifecycleFixture()
		h := newFakeHandle("c1")
		f.lifecycle.OnConnect(h)

		_, err := f.lifecycle.OnMessage(ctx, h, relay.MessageEvent{SenderID: "u1", Content: "no receiver"})
		req.ErrorIs(err, relay.ErrInvalidMessage)

		_, err = f.lifecycle.OnMessage(ctx, h, relay.MessageEvent{ReceiverID: "u2", Content: "no sender"})
		req.ErrorIs(err, relay.ErrInvalidMessage)

		req.Empty(f.store.Records())
	})

	t.Run("should allow empty content", func(t *testing.T) {
		req := require.New(t)
		f := newLifecycleFixture()
		h := newFakeHandle("c1")
		f.lifecycle.OnConnect(h)

		out, err := f.lifecycle.OnMessage(ctx, h, relay.MessageEvent{SenderID: "u1", ReceiverID: "u2"})

		req.NoError(err)
		req.NotNil(out.Record)
	})
}

func TestLifecycle_Observers(t *testing.T) {
	ctx := context.Background()

	t.Run("should notify binds and unbinds", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		observer := mocks.NewMockObserver(ctrl)
		f := newLifecycleFixture(observer)
		h := newFakeHandle("c1")

		gomock.InOrder(
			observer.EXPECT().Bound(gomock.Any(), "u1"),
			observer.EXPECT().Bound(gomock.Any(), "u2"),
			observer.EXPECT().Unbound(gomock.Any(), []string{"u1", "u2"}),
		)

		f.lifecycle.OnConnect(h)
		require.NoError(t, f.lifecycle.OnIdentityAnnounced(ctx, h, "u1"))
		require.NoError(t, f.lifecycle.OnIdentityAnnounced(ctx, h, "u2"))
		f.lifecycle.OnDisconnect(ctx, h)
	})

	t.Run("should not notify unbind for a connection that never bound", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		observer := mocks.NewMockObserver(ctrl)
		f := newLifecycleFixture(observer)
		h := newFakeHandle("c1")

		observer.EXPECT().Unbound(gomock.Any(), gomock.Any()).Times(0)

		f.lifecycle.OnConnect(h)
		f.lifecycle.OnDisconnect(ctx, h)
	})
}

// gatedObserver records notifications. Its first Bound call blocks until
// release is closed.
type gatedObserver struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once

	mu     sync.Mutex
	events []string
}

func newGatedObserver() *gatedObserver {
	return &gatedObserver{entered: make(chan struct{}), release: make(chan struct{})}
}

func (o *gatedObserver) Bound(_ context.Context, identity string) {
	o.once.Do(func() {
		close(o.entered)
		<-o.release
	})
	o.record("bound " + identity)
}

func (o *gatedObserver) Unbound(_ context.Context, identities []string) {
	o.record("unbound " + strings.Join(identities, ","))
}

func (o *gatedObserver) record(event string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
}

func (o *gatedObserver) recorded() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

func TestLifecycle_Observers_See_Bindings_In_Order(t *testing.T) {
	req := require.New(t)
	observer := newGatedObserver()
	f := newLifecycleFixture(observer)
	ctx := context.Background()
	a, b := newFakeHandle("A"), newFakeHandle("B")
	f.lifecycle.OnConnect(a)
	f.lifecycle.OnConnect(b)

	// Given A's bind notification is still being delivered
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_ = f.lifecycle.OnIdentityAnnounced(ctx, a, "u1")
	}()
	<-observer.entered

	// When B takes over the identity and disconnects
	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		_ = f.lifecycle.OnIdentityAnnounced(ctx, b, "u1")
		f.lifecycle.OnDisconnect(ctx, b)
	}()

	// Then the registry already points at B but B's notification waits its turn
	req.Eventually(func() bool {
		got, ok := f.registry.Lookup("u1")
		return ok && got == relay.Handle(b)
	}, time.Second, 5*time.Millisecond)
	req.Never(func() bool {
		select {
		case <-secondDone:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond)

	close(observer.release)
	<-firstDone
	<-secondDone

	// And the observer saw the changes in the order the registry made them
	req.Equal(relay.StateDisconnected, f.lifecycle.State(b))
	req.Equal([]string{"bound u1", "bound u1", "unbound u1"}, observer.recorded())
}
