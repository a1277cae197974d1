package observability

import (
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusClass(t *testing.T) {
	testCases := []struct {
		status   int
		expected string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{304, "3xx"},
		{404, "4xx"},
		{502, "5xx"},
		{100, "unknown"},
		{0, "unknown"},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("status_%d", tc.status), func(t *testing.T) {
			assert.Equal(t, tc.expected, statusClass(tc.status))
		})
	}
}

func TestNormalizePath(t *testing.T) {
	testCases := []struct {
		path     string
		expected string
	}{
		{"", ""},
		{"/", "/"},
		{"/media/js/site.js", "/media/js/site.js"},
		{"/__mediapack/client.js", "/__mediapack/client.js"},
		{"/api/status", "/api/status"},
		{"/en-US/firefox/new/", "proxied"},
		{"/media/very/long/path/that/exceeds/fifty/characters/limit/here.js", "long_path"},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.expected, normalizePath(tc.path))
		})
	}
}

// TestMetrics_AllMethods uses the shared instance; metrics register once.
func TestMetrics_AllMethods(t *testing.T) {
	m := NewMetrics()
	require.NotNil(t, m)
	assert.Same(t, m, NewMetrics())

	assert.NotPanics(t, func() {
		m.RecordBuild("production", 2*time.Second, nil)
		m.RecordBuild("development", time.Second, assert.AnError)
		m.RecordBundle("site", "script", 1024, 100*time.Millisecond, nil)
		m.RecordBundle("site", "style", 0, 100*time.Millisecond, assert.AnError)
		m.UpdateReloadClients(3)
		m.RecordReload("css")
		m.RecordPublish("s3", "uploaded", 2048)
		m.RecordPublish("s3", "skipped", 0)
		m.UpdateUptime(time.Now().Add(-time.Hour))
	})
}

func TestMetrics_HandlerAndMiddleware(t *testing.T) {
	m := NewMetrics()

	app := fiber.New()
	app.Use(m.MetricsMiddleware())
	app.Get("/api/status", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/metrics", m.Handler())

	resp, err := app.Test(httptest.NewRequest("GET", "/api/status", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "mediapack_http_requests_total")
}
