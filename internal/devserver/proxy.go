package devserver

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/proxy"
	"github.com/rs/zerolog/log"
)

// clientTag is injected into proxied HTML pages.
var clientTag = []byte(`<script src="` + ClientScriptPath + `" async></script>`)

var closingBody = []byte("</body>")

// handleProxy forwards the request upstream and injects the reload client
// into HTML responses.
func (s *Server) handleProxy(c *fiber.Ctx) error {
	target := s.upstream + c.OriginalURL()

	// The body may be rewritten, so ask for it uncompressed.
	c.Request().Header.Del(fiber.HeaderAcceptEncoding)

	if err := proxy.Do(c, target); err != nil {
		log.Warn().Err(err).Str("upstream", s.upstream).Str("path", c.Path()).Msg("Upstream request failed")
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("upstream %s is not reachable", s.upstream))
	}

	resp := c.Response()
	resp.Header.Del(fiber.HeaderServer)

	if location := string(resp.Header.Peek(fiber.HeaderLocation)); strings.HasPrefix(location, s.upstream) {
		rewritten := strings.TrimPrefix(location, s.upstream)
		if rewritten == "" {
			rewritten = "/"
		}
		resp.Header.Set(fiber.HeaderLocation, rewritten)
	}

	if injectable(string(resp.Header.ContentType()), string(resp.Header.Peek(fiber.HeaderContentEncoding))) {
		resp.SetBody(injectClient(resp.Body()))
	}
	return nil
}

func injectable(contentType, contentEncoding string) bool {
	if contentEncoding != "" && !strings.EqualFold(contentEncoding, "identity") {
		return false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), fiber.MIMETextHTML)
}

// injectClient inserts the client tag before the last </body>, or appends
// it when the page has none.
func injectClient(body []byte) []byte {
	out := make([]byte, 0, len(body)+len(clientTag))
	i := lastClosingBody(body)
	if i < 0 {
		out = append(out, body...)
		return append(out, clientTag...)
	}
	out = append(out, body[:i]...)
	out = append(out, clientTag...)
	return append(out, body[i:]...)
}

// lastClosingBody returns the offset of the last </body> in body, matched
// ASCII case-insensitively on the original bytes, or -1.
func lastClosingBody(body []byte) int {
	for i := len(body) - len(closingBody); i >= 0; i-- {
		if body[i] == '<' && bytes.EqualFold(body[i:i+len(closingBody)], closingBody) {
			return i
		}
	}
	return -1
}
