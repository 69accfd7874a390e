// Package server coordinates client registration, pump startup, and
// connection cleanup for the relay's WebSocket transport via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/gorelay/internal/relay"
)

// Hub owns the set of live WebSocket clients. It reports every connect and
// disconnect to the relay lifecycle and leaves identity bookkeeping to it.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	lifecycle *relay.Lifecycle
	registry  *relay.Registry
	opts      Options
	origins   originPolicy
	upgrader  websocket.Upgrader
	log       *zap.Logger
}

// NewHub creates a Hub that drives lifecycle and reads presence counts from
// registry. Zero option values fall back to defaults.
func NewHub(lifecycle *relay.Lifecycle, registry *relay.Registry, opts Options, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	opts = sanitizeOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		lifecycle:  lifecycle,
		registry:   registry,
		opts:       opts,
		origins:    newOriginPolicy(opts.AllowedOrigins, log),
		log:        log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.origins.allows,
	}
	return h
}

// Start runs the hub loop in its own goroutine.
func (h *Hub) Start() {
	go h.Run()
}

// Run is the hub's event loop. It returns once the hub is shut down.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mutex.Unlock()

			h.lifecycle.OnConnect(client)
			client.log.Info("client registered", zap.Int("clients", clientCount))

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.detach(client)
		}
	}
}

// remove reports client's disconnect to the lifecycle and takes it out of the
// hub. It is called once the read pump stops.
func (h *Hub) remove(client *Client) {
	h.lifecycle.OnDisconnect(context.WithoutCancel(h.ctx), client)

	select {
	case h.unregister <- client:
	case <-h.done:
		h.detach(client)
	}
}

// detach deletes client from the hub and closes its send queue.
func (h *Hub) detach(client *Client) {
	h.mutex.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
	}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	if !ok {
		return
	}
	client.closeSend()
	client.log.Info("client unregistered", zap.Int("clients", clientCount))
}

// ClientCount returns the number of live WebSocket connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.clients)
}

// Online returns the number of identities currently bound to a connection.
func (h *Hub) Online() int {
	return h.registry.Len()
}

// shutdownClients closes every live connection, which ends each client's
// read pump and with it the client's lifecycle.
func (h *Hub) shutdownClients() {
	h.log.Info("shutting down all client connections", zap.Strings("online", h.registry.Identities()))

	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		client.closeConnection()
	}

	h.log.Info("closed client connections", zap.Int("count", len(clients)))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached; some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
