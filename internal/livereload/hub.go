// Package livereload tells connected browsers to reload after a rebuild.
package livereload

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/mediapack/internal/observability"
)

// Hub tracks connected browsers and broadcasts reload messages.
type Hub struct {
	connections map[string]*Connection
	mu          sync.RWMutex
	metrics     *observability.Metrics
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
	}
}

// SetMetrics sets the metrics instance for recording reload metrics
func (h *Hub) SetMetrics(metrics *observability.Metrics) {
	h.metrics = metrics
}

func (h *Hub) updateMetrics() {
	if h.metrics == nil {
		return
	}
	h.metrics.UpdateReloadClients(h.Count())
}

// Add registers a connection.
func (h *Hub) Add(conn *Connection) {
	h.mu.Lock()
	h.connections[conn.ID] = conn
	h.mu.Unlock()

	h.updateMetrics()

	log.Debug().
		Str("connection_id", conn.ID).
		Str("remote_addr", conn.RemoteAddr).
		Msg("Live reload client connected")
}

// Remove unregisters and closes a connection.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	conn, exists := h.connections[id]
	if !exists {
		h.mu.Unlock()
		return
	}
	delete(h.connections, id)
	h.mu.Unlock()

	_ = conn.Close()
	h.updateMetrics()

	log.Debug().Str("connection_id", id).Msg("Live reload client disconnected")
}

// Count returns the number of connected browsers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// ClientInfo describes a connected browser
type ClientInfo struct {
	ID          string `json:"id"`
	RemoteAddr  string `json:"remote_addr"`
	UserAgent   string `json:"user_agent"`
	URL         string `json:"url,omitempty"`
	ConnectedAt string `json:"connected_at"`
}

// Clients lists connected browsers, oldest first.
func (h *Hub) Clients() []ClientInfo {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	sort.Slice(conns, func(i, j int) bool {
		return conns[i].ConnectedAt.Before(conns[j].ConnectedAt)
	})

	out := make([]ClientInfo, len(conns))
	for i, c := range conns {
		out[i] = ClientInfo{
			ID:          c.ID,
			RemoteAddr:  c.RemoteAddr,
			UserAgent:   c.UserAgent,
			URL:         c.URL(),
			ConnectedAt: c.ConnectedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}
	return out
}

// Broadcast sends msg to every connection and returns how many received
// it. Connections that fail are dropped.
func (h *Hub) Broadcast(msg ServerMessage) int {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	sent := 0
	var failed []string
	for _, conn := range conns {
		if err := conn.SendMessage(msg); err != nil {
			log.Debug().
				Err(err).
				Str("connection_id", conn.ID).
				Msg("Failed to send reload message")
			failed = append(failed, conn.ID)
			continue
		}
		sent++
	}
	for _, id := range failed {
		h.Remove(id)
	}

	if h.metrics != nil {
		h.metrics.RecordReload(string(msg.Type))
	}

	log.Debug().
		Str("type", string(msg.Type)).
		Int("recipients", sent).
		Msg("Reload message sent")

	return sent
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.connections = make(map[string]*Connection)
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	h.updateMetrics()
}
