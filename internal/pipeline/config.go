// Package pipeline assembles the build configuration and runs builds:
// every bundle in the entry graph is compiled, concatenated, minified in
// production and written under the output root.
package pipeline

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fluxbase-eu/mediapack/internal/bundle"
	"github.com/fluxbase-eu/mediapack/internal/config"
	"github.com/fluxbase-eu/mediapack/internal/minify"
	"github.com/fluxbase-eu/mediapack/internal/resolve"
)

// Output templates. [name] is the bundle name, [id] the bundle ID.
const (
	ScriptTemplate = "js/[name].js"
	StyleTemplate  = "css/[name].css"
	TempTemplate   = "temp/[id].js"
)

// Config is the assembled build configuration. All paths are absolute.
type Config struct {
	Root         string
	ManifestPath string
	MediaDir     string
	VendorDir    string
	VendorPrefix string

	Output OutputConfig

	Mode        minify.Mode
	Target      string
	Concurrency int
	Precompress bool
	SassBinary  string

	Watch  WatchConfig
	Server ServerConfig
}

// OutputConfig describes where bundles are written.
type OutputConfig struct {
	Root       string
	PublicPath string
	Script     string
	Style      string
	Temp       string
}

// WatchConfig controls rebuilds on change.
type WatchConfig struct {
	AggregateTimeout time.Duration
	Ignored          []string
}

// ServerConfig configures the live-reloading dev server.
type ServerConfig struct {
	Port           int
	UIPort         int
	ProxyURL       string
	OpenBrowser    bool
	Notify         bool
	ReloadDelay    time.Duration
	ReloadDebounce time.Duration
	// StaticRoute is the URL prefix serving the output root.
	StaticRoute string
}

// Assemble turns loaded configuration into a build configuration.
func Assemble(cfg *config.Config) (*Config, error) {
	root, err := filepath.Abs(cfg.Build.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	abs := func(p string) string {
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Join(root, p)
	}

	mode := minify.ParseMode(cfg.Mode)
	target := cfg.Build.Target
	if target == "" {
		target = "esnext"
	}
	if !minify.ValidTarget(target) {
		return nil, fmt.Errorf("unknown minification target %q", target)
	}

	concurrency := cfg.Build.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	vendorPrefix := cfg.Build.VendorPrefix
	if vendorPrefix == "" {
		vendorPrefix = resolve.DefaultVendorPrefix
	}

	return &Config{
		Root:         root,
		ManifestPath: abs(cfg.Build.Manifest),
		MediaDir:     abs(cfg.Build.MediaDir),
		VendorDir:    abs(cfg.Build.VendorDir),
		VendorPrefix: vendorPrefix,
		Output: OutputConfig{
			Root:       abs(cfg.Build.OutputDir),
			PublicPath: cfg.Build.PublicPath,
			Script:     ScriptTemplate,
			Style:      StyleTemplate,
			Temp:       TempTemplate,
		},
		Mode:        mode,
		Target:      target,
		Concurrency: concurrency,
		Precompress: precompress(cfg.Build.Precompress, mode),
		SassBinary:  cfg.Build.SassBinary,
		Watch: WatchConfig{
			AggregateTimeout: cfg.Watch.AggregateTimeout,
			Ignored:          cfg.Watch.Ignored,
		},
		Server: ServerConfig{
			Port:           cfg.DevServer.Port,
			UIPort:         cfg.DevServer.UIPort,
			ProxyURL:       cfg.DevServer.ProxyURL,
			OpenBrowser:    cfg.DevServer.OpenBrowser,
			Notify:         cfg.DevServer.Notify,
			ReloadDelay:    cfg.DevServer.ReloadDelay,
			ReloadDebounce: cfg.DevServer.ReloadDebounce,
			StaticRoute:    strings.TrimSuffix(cfg.DevServer.StaticRoute, "/"),
		},
	}, nil
}

func precompress(setting string, mode minify.Mode) bool {
	switch setting {
	case "always":
		return true
	case "never":
		return false
	default:
		return mode.IsProduction()
	}
}

// Resolver returns the path resolver for manifest references.
func (c *Config) Resolver() *resolve.Resolver {
	r := resolve.New(c.Root, c.MediaDir, c.VendorDir)
	r.VendorPrefix = c.VendorPrefix
	return r
}

// Entries returns the entry function reading the manifest on every call.
func (c *Config) Entries() bundle.EntryFunc {
	return bundle.NewGraphBuilder(c.ManifestPath, c.Resolver()).Entries()
}

// LoadPaths are the Sass load paths: the media directory and node_modules.
func (c *Config) LoadPaths() []string {
	return []string{c.MediaDir, filepath.Join(c.Root, "node_modules")}
}

// OutputPath returns the slash-separated output path of id relative to
// the output root. Style bundles take their file name from the bundle
// name, not from the ID.
func (c *Config) OutputPath(id bundle.ID) string {
	tmpl := c.Output.Script
	if id.Kind == bundle.KindStyle {
		tmpl = c.Output.Style
	}
	return expand(tmpl, id)
}

// TempPath returns the intermediate artifact path of id relative to the
// output root.
func (c *Config) TempPath(id bundle.ID) string {
	return expand(c.Output.Temp, id)
}

// PublicURL returns the URL path the output of id is served under.
func (c *Config) PublicURL(id bundle.ID) string {
	return path.Join("/", c.Output.PublicPath, c.OutputPath(id))
}

func expand(tmpl string, id bundle.ID) string {
	return strings.NewReplacer("[name]", id.Name, "[id]", id.String()).Replace(tmpl)
}
