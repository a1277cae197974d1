package adminui

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRoutes(t *testing.T) {
	app := fiber.New()
	app.Get("/api/status", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"ok": true}) })
	New("").RegisterRoutes(app)

	tests := []struct {
		path     string
		contains string
	}{
		{"/", "<title>mediapack</title>"},
		{"/app.js", "api/status"},
		{"/unknown", "<title>mediapack</title>"},
		{"/api/status", `"ok":true`},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest("GET", tt.path, nil))
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Contains(t, string(body), tt.contains)
		})
	}
}
