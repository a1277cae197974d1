package devserver

import (
	"github.com/gofiber/fiber/v2"

	"github.com/fluxbase-eu/mediapack/internal/livereload"
)

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.Status())
}

func (s *Server) handleClients(c *fiber.Ctx) error {
	return c.JSON(s.hub.Clients())
}

// ReloadRequest is the body of POST /api/reload.
type ReloadRequest struct {
	Type livereload.MessageType `json:"type"`
}

func (s *Server) handleReload(c *fiber.Ctx) error {
	req := ReloadRequest{Type: livereload.MessageTypeReload}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	switch req.Type {
	case "", livereload.MessageTypeReload:
		req.Type = livereload.MessageTypeReload
	case livereload.MessageTypeCSS:
	default:
		return fiber.NewError(fiber.StatusBadRequest, "type must be reload or css")
	}

	s.Reload(req.Type)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"type":    req.Type,
		"clients": s.hub.Count(),
	})
}
