// Package relay drives the per-connection state machine that binds transport
// connections to identities and scrubs the registry on disconnect.
package relay

import (
	"context"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ConnState is the lifecycle state of a single connection.
type ConnState int

const (
	// StateUnknown is reported for handles the Lifecycle has never seen.
	StateUnknown ConnState = iota
	StateUnbound
	StateBound
	// StateDisconnected is terminal.
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateUnbound:
		return "connected-unbound"
	case StateBound:
		return "connected-bound"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type session struct {
	state    ConnState
	identity string
}

// notification is one observer call, queued in the order the Registry
// changed.
type notification struct {
	ctx     context.Context
	bound   string
	unbound []string
}

// Lifecycle turns transport events into Registry and Router calls. Each
// connection moves from unbound to bound on its first identity announcement
// and leaves the Lifecycle for good on disconnect; a disconnected handle is
// never re-entered into the Registry.
type Lifecycle struct {
	mu       sync.RWMutex
	sessions map[Handle]*session
	// closed holds the ids of disconnected handles. Only ids are kept so a
	// finished connection can be garbage collected.
	closed   map[string]struct{}
	registry *Registry
	router   *Router
	validate *validator.Validate
	log      *zap.Logger

	observers  []Observer
	pending    []notification
	dispatchMu sync.Mutex
}

// NewLifecycle creates a Lifecycle bound to registry and router. A nil
// logger disables logging.
func NewLifecycle(registry *Registry, router *Router, log *zap.Logger, observers ...Observer) *Lifecycle {
	if log == nil {
		log = zap.NewNop()
	}
	return &Lifecycle{
		sessions:  make(map[Handle]*session),
		closed:    make(map[string]struct{}),
		registry:  registry,
		router:    router,
		observers: observers,
		validate:  validator.New(),
		log:       log,
	}
}

// OnConnect starts tracking handle in the unbound state. Connecting a handle
// twice is a no-op, and so is connecting a handle that already disconnected.
func (l *Lifecycle) OnConnect(handle Handle) {
	if handle == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.sessions[handle]; ok {
		return
	}
	if _, ok := l.closed[handle.ID()]; ok {
		l.log.Warn("ignoring reconnect of a disconnected handle", zap.String("conn", handle.ID()))
		return
	}
	l.sessions[handle] = &session{state: StateUnbound}
	l.log.Debug("connection opened", zap.String("conn", handle.ID()))
}

// OnIdentityAnnounced binds identity to handle, superseding any handle the
// identity was bound to before. Announcing again on the same connection
// re-registers; if the identity changes the previous entry stays until its
// own disconnect or overwrite.
func (l *Lifecycle) OnIdentityAnnounced(ctx context.Context, handle Handle, identity string) error {
	if identity == "" {
		return ErrEmptyIdentity
	}

	l.mu.Lock()
	s, ok := l.sessions[handle]
	if !ok {
		l.mu.Unlock()
		return ErrNotConnected
	}
	l.registry.Register(identity, handle)
	previous := s.identity
	s.state = StateBound
	s.identity = identity
	l.enqueueLocked(notification{ctx: ctx, bound: identity})
	l.mu.Unlock()

	if previous != "" && previous != identity {
		l.log.Info("connection rebound", zap.String("conn", handle.ID()),
			zap.String("from", previous), zap.String("to", identity))
	} else {
		l.log.Info("identity bound", zap.String("conn", handle.ID()), zap.String("identity", identity))
	}

	l.dispatch()
	return nil
}

// OnMessage validates evt and routes it. Messages are accepted before the
// connection announces an identity; the sender id is taken from the event.
func (l *Lifecycle) OnMessage(ctx context.Context, handle Handle, evt MessageEvent) (Outcome, error) {
	l.mu.RLock()
	_, ok := l.sessions[handle]
	l.mu.RUnlock()
	if !ok {
		return Outcome{}, ErrNotConnected
	}

	if err := l.validate.Struct(evt); err != nil {
		return Outcome{}, errors.Wrap(ErrInvalidMessage, err.Error())
	}

	return l.router.Route(ctx, handle, evt), nil
}

// OnDisconnect removes every registry entry pointing at handle and stops
// tracking it. It is idempotent.
func (l *Lifecycle) OnDisconnect(ctx context.Context, handle Handle) {
	l.mu.Lock()
	if _, ok := l.sessions[handle]; !ok {
		l.mu.Unlock()
		return
	}
	delete(l.sessions, handle)
	l.closed[handle.ID()] = struct{}{}
	removed := l.registry.UnregisterByHandle(handle)
	if len(removed) > 0 {
		l.enqueueLocked(notification{ctx: ctx, unbound: removed})
	}
	l.mu.Unlock()

	l.log.Info("connection closed", zap.String("conn", handle.ID()), zap.Strings("unbound", removed))
	l.dispatch()
}

// enqueueLocked queues an observer call. l.mu must be held, which makes the
// queue order match the order of Registry changes.
func (l *Lifecycle) enqueueLocked(n notification) {
	if len(l.observers) == 0 {
		return
	}
	l.pending = append(l.pending, n)
}

// dispatch delivers queued notifications outside l.mu. Only one goroutine
// delivers at a time, so observers see the changes of one identity in the
// order they happened. On return, everything the caller queued has been
// delivered.
func (l *Lifecycle) dispatch() {
	if len(l.observers) == 0 {
		return
	}

	l.dispatchMu.Lock()
	defer l.dispatchMu.Unlock()

	for {
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, n := range batch {
			for _, o := range l.observers {
				if n.bound != "" {
					o.Bound(n.ctx, n.bound)
				} else {
					o.Unbound(n.ctx, n.unbound)
				}
			}
		}
	}
}

// State reports the lifecycle state of handle.
func (l *Lifecycle) State(handle Handle) ConnState {
	if handle == nil {
		return StateUnknown
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if s, ok := l.sessions[handle]; ok {
		return s.state
	}
	if _, ok := l.closed[handle.ID()]; ok {
		return StateDisconnected
	}
	return StateUnknown
}

// Connections returns the number of tracked connections.
func (l *Lifecycle) Connections() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.sessions)
}
