package heatmap

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"carina/internal/model"
	"carina/internal/telemetry/logging"

	"github.com/gorilla/websocket"
)

// UISink is where inbound operator commands are forwarded, satisfied by
// *transport.Queue[model.UICommand].
type UISink interface {
	Send(ctx context.Context, v model.UICommand) error
}

// Hub is the WebSocket broadcaster: it accepts dashboard client
// connections, sends each one initial_map_geometry on connect, then
// fans out every subsequent CongestionUpdate concurrently, unregistering
// any client whose send fails. It also reads inbound text frames from each
// client and forwards them to the Central Controller's UI queue.
type Hub struct {
	upgrader websocket.Upgrader
	log      logging.Logger
	ui       UISink

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	geometryFn func() InitialGeometry
}

// NewHub constructs a Hub. geometryFn is called once per new connection to
// build that connection's initial_map_geometry payload (it may return a
// zero-value geometry before the first snapshot has resolved map geometry).
func NewHub(ui UISink, log logging.Logger, geometryFn func() InitialGeometry) *Hub {
	return &Hub{
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		log:        log,
		ui:         ui,
		clients:    make(map[*websocket.Conn]struct{}),
		geometryFn: geometryFn,
	}
}

// ServeHTTP upgrades the connection, sends initial geometry, registers the
// client, and starts a read loop that forwards inbound operator commands.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WarnCtx(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	if err := conn.WriteJSON(h.geometryFn()); err != nil {
		_ = conn.Close()
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	h.readLoop(r.Context(), conn)
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer h.unregister(conn)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd model.UICommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.log.WarnCtx(ctx, "dropping malformed operator command frame", "error", err)
			continue
		}
		if err := h.ui.Send(ctx, cmd); err != nil {
			h.log.WarnCtx(ctx, "operator command queue full, dropping command", "error", err)
		}
	}
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

// Broadcast sends update to every connected client concurrently,
// unregistering any client whose send fails.
func (h *Hub) Broadcast(update CongestionUpdate) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(c *websocket.Conn) {
			defer wg.Done()
			if err := c.WriteJSON(update); err != nil {
				h.unregister(c)
			}
		}(conn)
	}
	wg.Wait()
}

// ClientCount reports the number of currently registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
