package hub

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/alinzhou20/miniServer/internal/registry"
	"github.com/alinzhou20/miniServer/internal/router"
	"github.com/alinzhou20/miniServer/pkg/event"
)

// Hub is the single logical event loop of the broker. Every connect,
// disconnect, and inbound event runs on one goroutine, so room and
// connection state mutations are serialized: no two handler invocations
// interleave, and per-sender arrival order is preserved end to end. Only
// store I/O (appends, restore queries) leaves the loop.
type Hub struct {
	connectCh    chan registry.Conn
	disconnectCh chan string
	eventCh      chan inbound
	done         chan struct{}

	registry *registry.Registry
	router   *router.Router

	running bool
	mu      sync.RWMutex
	log     zerolog.Logger
}

type inbound struct {
	conn registry.Conn
	env  *event.Envelope
}

func New(reg *registry.Registry, rt *router.Router, logger zerolog.Logger) *Hub {
	return &Hub{
		connectCh:    make(chan registry.Conn, 100),
		disconnectCh: make(chan string, 100),
		eventCh:      make(chan inbound, 1000),
		done:         make(chan struct{}),
		registry:     reg,
		router:       rt,
		log:          logger.With().Str("comp", "hub").Logger(),
	}
}

// Start begins loop processing.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	h.log.Info().Msg("hub started")
	go h.run(ctx)
	return nil
}

// Stop shuts the loop down. Safe to call once after Start.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return ErrNotRunning
	}
	h.running = false

	select {
	case <-h.done:
	default:
		close(h.done)
	}
	return nil
}

// Connect queues a connection for admission. The eviction of any stale
// connection for the same identity completes on the loop before the new
// connection's first event is processed, since both ride the same queue.
func (h *Hub) Connect(conn registry.Conn) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrNotRunning
	}
	select {
	case h.connectCh <- conn:
		return nil
	case <-h.done:
		return ErrNotRunning
	}
}

// Disconnect queues removal of a connection by transport id.
func (h *Hub) Disconnect(connID string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrNotRunning
	}
	select {
	case h.disconnectCh <- connID:
		return nil
	case <-h.done:
		return ErrNotRunning
	}
}

// Dispatch queues an inbound event. Blocking (rather than dropping on a
// full queue) keeps per-sender ordering intact and lets the transport read
// loop act as natural backpressure.
func (h *Hub) Dispatch(conn registry.Conn, env *event.Envelope) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrNotRunning
	}
	select {
	case h.eventCh <- inbound{conn: conn, env: env}:
		return nil
	case <-h.done:
		return ErrNotRunning
	}
}

func (h *Hub) run(ctx context.Context) {
	defer h.log.Info().Msg("hub stopped")

	for {
		select {
		case conn := <-h.connectCh:
			if conn == nil {
				continue
			}
			if err := h.registry.Connect(conn); err != nil {
				h.log.Error().Err(err).Msg("admission failed")
				_ = conn.Close()
			}

		case connID := <-h.disconnectCh:
			h.registry.Disconnect(connID)

		case in := <-h.eventCh:
			h.router.Handle(ctx, in.conn, in.env)

		case <-h.done:
			return

		case <-ctx.Done():
			h.log.Info().Msg("hub context cancelled")
			return
		}
	}
}
