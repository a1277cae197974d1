// Package adminui embeds the dev server dashboard.
package adminui

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
)

//go:embed all:dist
var dashboardFiles embed.FS

// Handler serves the embedded dashboard
type Handler struct {
	prefix string
}

// New creates a dashboard handler mounted at prefix ("/" when empty).
func New(prefix string) *Handler {
	if prefix == "" {
		prefix = "/"
	}
	return &Handler{prefix: prefix}
}

// RegisterRoutes registers the dashboard routes. Register API routes
// first; the dashboard answers every path below its prefix.
func (h *Handler) RegisterRoutes(app *fiber.App) {
	distFS, err := fs.Sub(dashboardFiles, "dist")
	if err != nil {
		panic(err)
	}

	app.Use(h.prefix, filesystem.New(filesystem.Config{
		Root:         http.FS(distFS),
		Browse:       false,
		Index:        "index.html",
		NotFoundFile: "index.html",
	}))
}
