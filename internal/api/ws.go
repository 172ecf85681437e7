package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/telereplica/discovery/internal/platform/observability"
	"github.com/telereplica/discovery/internal/platform/worker"
)

const wsWriteTimeout = 5 * time.Second

// Hub pushes scan status to connected WebSocket observers. Delivery is
// best effort; a client that cannot keep up is dropped.
type Hub struct {
	scanner  Scanner
	logger   *zerolog.Logger
	interval time.Duration

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewHub creates a Hub pushing status every interval.
func NewHub(scanner Scanner, interval time.Duration, logger *zerolog.Logger) *Hub {
	return &Hub{
		scanner:  scanner,
		logger:   logger,
		interval: interval,
		clients:  map[*websocket.Conn]struct{}{},
	}
}

// ClientCount returns the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

// ServeHTTP upgrades the connection and holds it until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer worker.RecoverPanic(h.logger, "websocket session")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket accept failed")

		return
	}

	h.register(conn)
	defer h.unregister(conn)

	// Send the current status immediately so the client does not wait a
	// full push interval for its first frame.
	h.send(r.Context(), conn)

	// Drain incoming frames; exit when the client disconnects.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

// Run pushes status to all observers on a fixed interval until the
// context is canceled.
func (h *Hub) Run(ctx context.Context) error {
	return worker.Loop(ctx, worker.Config{
		Name:         "ws-status-push",
		PollInterval: h.interval,
		Logger:       h.logger,
		Process: func(ctx context.Context) error {
			h.Broadcast(ctx)

			return nil
		},
	})
}

// Broadcast pushes the current status to every observer now. Used by the
// scanner's notify callback for immediate state-change frames.
func (h *Hub) Broadcast(ctx context.Context) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))

	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		h.send(ctx, conn)
	}
}

func (h *Hub) send(ctx context.Context, conn *websocket.Conn) {
	payload, err := json.Marshal(map[string]any{
		"type":      "scan_status",
		"progress":  h.scanner.Status(),
		"stats":     h.scanner.Stats(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal status frame failed")

		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()

	if err := conn.Write(writeCtx, websocket.MessageText, payload); err != nil {
		h.unregister(conn)
	}
}

func (h *Hub) register(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	observability.WebsocketClients.Set(float64(count))
	h.logger.Debug().Int("clients", count).Msg("websocket client connected")
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; !ok {
		h.mu.Unlock()

		return
	}

	delete(h.clients, conn)
	count := len(h.clients)
	h.mu.Unlock()

	_ = conn.CloseNow()

	observability.WebsocketClients.Set(float64(count))
	h.logger.Debug().Int("clients", count).Msg("websocket client disconnected")
}
