// Package relay routes inbound messages: each message is persisted and, when
// the recipient is connected, forwarded to its live handle.
package relay

import (
	"context"

	"go.uber.org/zap"
)

// Outcome describes what happened to a routed message.
type Outcome struct {
	// Record is the stored record; nil when persistence failed.
	Record *StoredRecord
	// PersistErr is non-nil when the store rejected the message.
	PersistErr error
	// Delivered reports whether the payload was handed to the recipient's
	// live connection.
	Delivered bool
}

// Router persists inbound messages and forwards them to live recipients.
// Route holds no lock of its own, so routes for different connections run
// fully in parallel.
type Router struct {
	store     MessageStore
	registry  *Registry
	publisher Publisher
	log       *zap.Logger
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithPublisher hands every stored record to p after a successful append.
func WithPublisher(p Publisher) RouterOption {
	return func(r *Router) {
		r.publisher = p
	}
}

// WithLogger sets the router's logger.
func WithLogger(log *zap.Logger) RouterOption {
	return func(r *Router) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRouter creates a Router backed by store and registry.
func NewRouter(store MessageStore, registry *Registry, opts ...RouterOption) *Router {
	r := &Router{
		store:    store,
		registry: registry,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type appendResult struct {
	rec StoredRecord
	err error
}

// Route persists evt and forwards it to the receiver's live handle if one is
// registered. Persistence and delivery are independent: the append runs
// concurrently with the lookup and send, and a failed append never stops
// delivery. Route returns once both have finished. A persistence failure is
// reported to sender as a non-fatal notice; an absent recipient or a failed
// send is silent.
func (r *Router) Route(ctx context.Context, sender Handle, evt MessageEvent) Outcome {
	appended := make(chan appendResult, 1)
	go func() {
		rec, err := r.store.Append(ctx, evt)
		appended <- appendResult{rec: rec, err: err}
	}()

	out := Outcome{Delivered: r.forward(evt)}

	res := <-appended
	if res.err != nil {
		out.PersistErr = &PersistenceError{Event: evt, Err: res.err}
		r.log.Warn("message not persisted",
			zap.String("sender", evt.SenderID),
			zap.String("receiver", evt.ReceiverID),
			zap.Bool("delivered", out.Delivered),
			zap.Error(res.err))
		r.notifyPersistenceFailure(sender)
		return out
	}

	rec := res.rec
	out.Record = &rec
	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, rec); err != nil {
			r.log.Warn("stored record not published", zap.Stringer("record", rec.ID), zap.Error(err))
		}
	}
	return out
}

// forward sends evt to the receiver's handle. A missing receiver and a failed
// send are the same outcome.
func (r *Router) forward(evt MessageEvent) bool {
	handle, ok := r.registry.Lookup(evt.ReceiverID)
	if !ok {
		r.log.Debug("recipient not connected", zap.String("receiver", evt.ReceiverID))
		return false
	}

	payload, err := EncodeFrame(EventMessage, evt)
	if err != nil {
		r.log.Error("encode message frame", zap.Error(err))
		return false
	}

	if err := handle.Send(payload); err != nil {
		r.log.Debug("recipient handle rejected message",
			zap.String("receiver", evt.ReceiverID),
			zap.String("conn", handle.ID()),
			zap.Error(err))
		return false
	}
	return true
}

func (r *Router) notifyPersistenceFailure(sender Handle) {
	if sender == nil {
		return
	}
	notice, err := EncodeNotice(CodePersistenceFailure, "message could not be stored")
	if err != nil {
		r.log.Error("encode persistence notice", zap.Error(err))
		return
	}
	if err := sender.Send(notice); err != nil {
		r.log.Debug("sender did not accept persistence notice", zap.String("conn", sender.ID()), zap.Error(err))
	}
}
