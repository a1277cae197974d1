package livereload

import (
	_ "embed"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ClientScript is the browser side of live reload.
//
//go:embed client.js
var ClientScript []byte

// HeartbeatInterval keeps idle connections open through proxies.
const HeartbeatInterval = 30 * time.Second

// Handler upgrades browser connections and registers them with the hub
type Handler struct {
	hub *Hub
}

// NewHandler creates a handler for hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// HandleWebSocket handles WebSocket upgrade and communication
func (h *Handler) HandleWebSocket(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	c.Locals("user_agent", c.Get(fiber.HeaderUserAgent))
	return websocket.New(h.handleConnection)(c)
}

// HandleClientScript serves the reload client.
func (h *Handler) HandleClientScript(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "application/javascript; charset=utf-8")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	return c.Send(ClientScript)
}

func (h *Handler) handleConnection(c *websocket.Conn) {
	connectionID := uuid.New().String()
	userAgent, _ := c.Locals("user_agent").(string)

	conn := NewConnection(connectionID, c, c.RemoteAddr().String(), userAgent)
	h.hub.Add(conn)
	defer h.hub.Remove(connectionID)

	if err := conn.SendMessage(ServerMessage{Type: MessageTypeHello, ID: connectionID}); err != nil {
		return
	}

	done := make(chan struct{})
	defer close(done)
	go h.heartbeat(conn, done)

	for {
		var msg ClientMessage
		if err := c.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("connection_id", connectionID).Msg("WebSocket error")
			}
			return
		}
		h.handleMessage(conn, msg)
	}
}

func (h *Handler) heartbeat(conn *Connection, done <-chan struct{}) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.SendMessage(ServerMessage{Type: MessageTypeHeartbeat}); err != nil {
				log.Debug().Err(err).Str("connection_id", conn.ID).Msg("Heartbeat failed")
				return
			}
		}
	}
}

// handleMessage processes a browser message
func (h *Handler) handleMessage(conn *Connection, msg ClientMessage) {
	switch msg.Type {
	case MessageTypeHello:
		conn.SetURL(msg.URL)
	case MessageTypeHeartbeat:
	default:
		_ = conn.SendMessage(ServerMessage{
			Type:  MessageTypeError,
			Error: "unknown message type",
		})
	}
}
