// Package minify applies whole-file minification to bundle output when the
// build runs in production mode.
package minify

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/fluxbase-eu/mediapack/internal/bundle"
)

// Mode is the build mode, fixed for the lifetime of the process.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// ParseMode maps a NODE_ENV style value to a Mode. Only the exact value
// "production" selects production; anything else, including "Production"
// and the empty string, is development.
func ParseMode(s string) Mode {
	if s == string(ModeProduction) {
		return ModeProduction
	}
	return ModeDevelopment
}

// IsProduction reports whether m is production.
func (m Mode) IsProduction() bool {
	return m == ModeProduction
}

// Error is a minifier failure. It is fatal to the build.
type Error struct {
	ID       bundle.ID
	Messages []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("minify %s: %s", e.ID, strings.Join(e.Messages, "; "))
}

// Minifier minifies concatenated bundle output in production and passes it
// through unchanged in development.
type Minifier struct {
	mode   Mode
	target api.Target
}

// Option configures a Minifier.
type Option func(*Minifier)

// WithTarget sets the script language target ("es2015", "esnext", ...).
// Syntax newer than the target is a minification error, not a silent
// rewrite.
func WithTarget(target string) Option {
	return func(m *Minifier) {
		if t, ok := targets[strings.ToLower(target)]; ok {
			m.target = t
		}
	}
}

var targets = map[string]api.Target{
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// ValidTarget reports whether target is a known script target.
func ValidTarget(target string) bool {
	_, ok := targets[strings.ToLower(target)]
	return ok
}

// New creates a Minifier for mode.
func New(mode Mode, opts ...Option) *Minifier {
	m := &Minifier{mode: mode, target: api.ESNext}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mode returns the mode the minifier was created with.
func (m *Minifier) Mode() Mode {
	return m.mode
}

// Script minifies concatenated script source. No output format is set, so
// top-level declarations stay global and keep their names: bundles are
// loaded as classic scripts that share the page's global scope.
func (m *Minifier) Script(id bundle.ID, code []byte) ([]byte, error) {
	if !m.mode.IsProduction() {
		return code, nil
	}
	return m.transform(id, code, api.LoaderJS)
}

// Style minifies compiled CSS.
func (m *Minifier) Style(id bundle.ID, code []byte) ([]byte, error) {
	if !m.mode.IsProduction() {
		return code, nil
	}
	return m.transform(id, code, api.LoaderCSS)
}

func (m *Minifier) transform(id bundle.ID, code []byte, loader api.Loader) ([]byte, error) {
	result := api.Transform(string(code), api.TransformOptions{
		Loader:            loader,
		Target:            m.target,
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
		LegalComments:     api.LegalCommentsNone,
		Sourcefile:        id.String(),
		LogLevel:          api.LogLevelSilent,
	})

	if len(result.Errors) > 0 {
		msgs := api.FormatMessages(result.Errors, api.FormatMessagesOptions{
			Kind: api.ErrorMessage,
		})
		for i := range msgs {
			msgs[i] = strings.TrimSpace(msgs[i])
		}
		return nil, &Error{ID: id, Messages: msgs}
	}
	return result.Code, nil
}
