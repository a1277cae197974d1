package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/mediapack/internal/livereload"
	"github.com/fluxbase-eu/mediapack/internal/minify"
	"github.com/fluxbase-eu/mediapack/internal/pipeline"
	"github.com/fluxbase-eu/mediapack/internal/watch"
)

type fakeSender struct {
	mu       sync.Mutex
	messages []livereload.ServerMessage
}

func (f *fakeSender) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := v.(livereload.ServerMessage); ok {
		f.messages = append(f.messages, msg)
	}
	return nil
}

func (f *fakeSender) Close() error { return nil }

func (f *fakeSender) received() []livereload.ServerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]livereload.ServerMessage(nil), f.messages...)
}

type upstreamRequest struct {
	path           string
	acceptEncoding string
}

func newUpstream(t *testing.T) (*httptest.Server, *[]upstreamRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []upstreamRequest
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, upstreamRequest{path: r.URL.RequestURI(), acceptEncoding: r.Header.Get("Accept-Encoding")})
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, "<html><body><h1>Home</h1></BODY></html>")
	})
	mux.HandleFunc("/fragment/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<p>partial</p>")
	})
	mux.HandleFunc("/api/data.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"body":"</body>"}`)
	})
	mux.HandleFunc("/old/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://"+r.Host+"/new/", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &seen
}

func newServer(t *testing.T, upstream string, opts ...Option) (*Server, string) {
	t.Helper()
	out := t.TempDir()
	cfg := &pipeline.Config{
		Mode:   minify.ModeDevelopment,
		Output: pipeline.OutputConfig{Root: out},
		Server: pipeline.ServerConfig{
			Port:           8000,
			UIPort:         8001,
			ProxyURL:       upstream,
			ReloadDebounce: 10 * time.Millisecond,
			ReloadDelay:    10 * time.Millisecond,
			StaticRoute:    "/media",
		},
	}
	return New(cfg, opts...), out
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestProxy_InjectsClientIntoHTML(t *testing.T) {
	upstream, seen := newUpstream(t)
	s, _ := newServer(t, upstream.URL)

	req := httptest.NewRequest("GET", "/about/?page=2", nil)
	req.Header.Set("Accept-Encoding", "gzip, br")
	resp, err := s.ProxyApp().Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t,
		`<html><body><h1>Home</h1><script src="/__mediapack/client.js" async></script></BODY></html>`,
		readBody(t, resp))

	require.Len(t, *seen, 1)
	assert.Equal(t, "/about/?page=2", (*seen)[0].path)
	assert.NotContains(t, (*seen)[0].acceptEncoding, "br")
}

func TestProxy_AppendsWithoutClosingBody(t *testing.T) {
	upstream, _ := newUpstream(t)
	s, _ := newServer(t, upstream.URL)

	resp, err := s.ProxyApp().Test(httptest.NewRequest("GET", "/fragment/", nil))
	require.NoError(t, err)
	assert.Equal(t, `<p>partial</p><script src="/__mediapack/client.js" async></script>`, readBody(t, resp))
}

func TestProxy_LeavesOtherContentAlone(t *testing.T) {
	upstream, _ := newUpstream(t)
	s, _ := newServer(t, upstream.URL)

	resp, err := s.ProxyApp().Test(httptest.NewRequest("GET", "/api/data.json", nil))
	require.NoError(t, err)
	assert.Equal(t, `{"body":"</body>"}`, readBody(t, resp))
}

func TestProxy_RewritesUpstreamRedirects(t *testing.T) {
	upstream, _ := newUpstream(t)
	s, _ := newServer(t, upstream.URL)

	resp, err := s.ProxyApp().Test(httptest.NewRequest("GET", "/old/", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/new/", resp.Header.Get("Location"))
}

func TestProxy_UpstreamDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	s, _ := newServer(t, addr)
	resp, err := s.ProxyApp().Test(httptest.NewRequest("GET", "/", nil), 5000)
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "is not reachable")
}

func TestProxy_ServesOutputRoot(t *testing.T) {
	upstream, seen := newUpstream(t)
	s, out := newServer(t, upstream.URL)

	require.NoError(t, os.MkdirAll(filepath.Join(out, "css"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(out, "css", "site.css"), []byte("body{color:red}"), 0600))

	resp, err := s.ProxyApp().Test(httptest.NewRequest("GET", "/media/css/site.css", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "body{color:red}", readBody(t, resp))
	assert.Empty(t, *seen)
}

func TestProxy_ServesClientScript(t *testing.T) {
	s, _ := newServer(t, "localhost:1")

	resp, err := s.ProxyApp().Test(httptest.NewRequest("GET", ClientScriptPath, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "javascript")
	assert.Equal(t, string(livereload.ClientScript), readBody(t, resp))
}

func TestInjectClient(t *testing.T) {
	tag := `<script src="/__mediapack/client.js" async></script>`
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"before body", "<body>x</body>", "<body>x" + tag + "</body>"},
		{"last body wins", "<body><template></body></template></body>", "<body><template></body></template>" + tag + "</body>"},
		{"case insensitive", "<BODY>x</Body>", "<BODY>x" + tag + "</Body>"},
		{"no body", "<p>x</p>", "<p>x</p>" + tag},
		{"empty", "", tag},
		{"non-ascii before body", "<body><p>İİİİİİ</p></body>", "<body><p>İİİİİİ</p>" + tag + "</body>"},
		{"latin-1 bytes", strings.Repeat("\xe9", 40) + "</body>", strings.Repeat("\xe9", 40) + tag + "</body>"},
		{"unclosed tag at end", "<p>x</bo", "<p>x</bo" + tag},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(injectClient([]byte(tt.in))))
		})
	}
}

func TestNewApp_RecoversPanics(t *testing.T) {
	app := newApp("test")
	app.Get("/boom", func(c *fiber.Ctx) error {
		panic("boom")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestInjectable(t *testing.T) {
	assert.True(t, injectable("text/html; charset=utf-8", ""))
	assert.True(t, injectable("TEXT/HTML", "identity"))
	assert.False(t, injectable("text/html", "gzip"))
	assert.False(t, injectable("application/json", ""))
	assert.False(t, injectable("", ""))
}

func TestNormalizeUpstream(t *testing.T) {
	tests := map[string]string{
		"localhost:8080":         "http://localhost:8080",
		"http://localhost:8080/": "http://localhost:8080",
		"https://example.test":   "https://example.test",
		" web:8000 ":             "http://web:8000",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeUpstream(in), in)
	}
}

func TestUI_Status(t *testing.T) {
	s, _ := newServer(t, "localhost:8080")

	resp, err := s.UIApp().Test(httptest.NewRequest("GET", "/api/status", nil))
	require.NoError(t, err)
	var status Status
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &status))
	assert.Equal(t, "development", status.Mode)
	assert.Equal(t, "http://localhost:8080", status.Upstream)
	assert.Equal(t, "http://localhost:8000", status.ProxyURL)
	assert.Nil(t, status.LastBuild)

	s.RecordBuild(&pipeline.Result{
		Bundles:  []pipeline.BundleResult{{}, {}},
		Duration: 1500 * time.Millisecond,
	}, nil)
	resp, err = s.UIApp().Test(httptest.NewRequest("GET", "/api/status", nil))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &status))
	require.NotNil(t, status.LastBuild)
	assert.True(t, status.LastBuild.OK)
	assert.Equal(t, 2, status.LastBuild.Bundles)
	assert.Equal(t, int64(1500), status.LastBuild.DurationMS)

	s.RecordBuild(nil, errors.New("bundle site--js: js/a.js: file does not exist"))
	assert.False(t, s.Status().LastBuild.OK)
	assert.Contains(t, s.Status().LastBuild.Error, "js/a.js")
}

func TestUI_StatusIncludesWatcher(t *testing.T) {
	s, _ := newServer(t, "localhost:8080")
	assert.Nil(t, s.Status().Watch)

	s.SetWatchStats(func() watch.Stats {
		return watch.Stats{Watching: true, Dirs: 3, Rebuilds: 2, LastPath: "media/js/a.js"}
	})

	resp, err := s.UIApp().Test(httptest.NewRequest("GET", "/api/status", nil))
	require.NoError(t, err)
	var status Status
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &status))
	require.NotNil(t, status.Watch)
	assert.True(t, status.Watch.Watching)
	assert.Equal(t, 3, status.Watch.Dirs)
	assert.Equal(t, 2, status.Watch.Rebuilds)
	assert.Equal(t, "media/js/a.js", status.Watch.LastPath)
}

func TestUI_ClientsAndReload(t *testing.T) {
	s, _ := newServer(t, "localhost:8080")
	sender := &fakeSender{}
	s.Hub().Add(livereload.NewConnection("c1", sender, "127.0.0.1", "test"))

	resp, err := s.UIApp().Test(httptest.NewRequest("GET", "/api/clients", nil))
	require.NoError(t, err)
	var clients []livereload.ClientInfo
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &clients))
	require.Len(t, clients, 1)
	assert.Equal(t, "c1", clients[0].ID)

	req := httptest.NewRequest("POST", "/api/reload", strings.NewReader(`{"type":"css"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = s.UIApp().Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	require.Eventually(t, func() bool { return len(sender.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, livereload.MessageTypeCSS, sender.received()[0].Type)

	req = httptest.NewRequest("POST", "/api/reload", strings.NewReader(`{"type":"hmr"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = s.UIApp().Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestUI_Dashboard(t *testing.T) {
	s, _ := newServer(t, "localhost:8080")

	resp, err := s.UIApp().Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Contains(t, readBody(t, resp), "<title>mediapack</title>")
}

func TestRebuilt(t *testing.T) {
	s, _ := newServer(t, "localhost:8080")
	sender := &fakeSender{}
	s.Hub().Add(livereload.NewConnection("c1", sender, "127.0.0.1", "test"))

	s.Rebuilt([]string{"/p/media/js/a.js"}, nil, errors.New("minify failed"))
	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, sender.received(), "failed builds do not reload")

	s.Rebuilt([]string{"/p/media/css/a.scss"}, &pipeline.Result{}, nil)
	require.Eventually(t, func() bool { return len(sender.received()) == 1 }, time.Second, 5*time.Millisecond)
	msg := sender.received()[0]
	assert.Equal(t, livereload.MessageTypeCSS, msg.Type)
	assert.Equal(t, []string{"/p/media/css/a.scss"}, msg.Paths)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestStart(t *testing.T) {
	upstream, _ := newUpstream(t)
	opened := make(chan string, 1)
	s, _ := newServer(t, upstream.URL, WithOpener(func(url string) error {
		opened <- url
		return nil
	}))
	s.cfg.Port = freePort(t)
	s.cfg.UIPort = freePort(t)
	s.cfg.OpenBrowser = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	select {
	case url := <-opened:
		assert.Equal(t, s.LocalURL(), url)
	case <-time.After(2 * time.Second):
		t.Fatal("browser was not opened")
	}

	resp, err := http.Get(s.UIURL() + "/api/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestStart_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()

	s, _ := newServer(t, "localhost:8080")
	s.cfg.Port = ln.Addr().(*net.TCPAddr).Port

	err = s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proxy port")
}
