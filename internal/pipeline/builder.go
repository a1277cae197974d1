package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/fluxbase-eu/mediapack/internal/assets"
	"github.com/fluxbase-eu/mediapack/internal/bundle"
	"github.com/fluxbase-eu/mediapack/internal/minify"
	"github.com/fluxbase-eu/mediapack/internal/observability"
	"github.com/fluxbase-eu/mediapack/internal/sass"
)

// StyleCompiler compiles a preprocessor source to CSS.
type StyleCompiler interface {
	Compile(ctx context.Context, path string) ([]byte, error)
}

// BundleError is a failure building one bundle. Path is the input file
// involved, if any.
type BundleError struct {
	ID   bundle.ID
	Path string
	Err  error
}

func (e *BundleError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("bundle %s: %s: %v", e.ID, e.Path, e.Err)
	}
	return fmt.Sprintf("bundle %s: %v", e.ID, e.Err)
}

func (e *BundleError) Unwrap() error {
	return e.Err
}

// BundleResult describes one bundle written by a build.
type BundleResult struct {
	ID          bundle.ID     `json:"id" yaml:"id"`
	Output      string        `json:"output" yaml:"output"`
	Files       int           `json:"files" yaml:"files"`
	InputBytes  int           `json:"input_bytes" yaml:"input_bytes"`
	OutputBytes int           `json:"output_bytes" yaml:"output_bytes"`
	Hash        string        `json:"hash" yaml:"hash"`
	Encodings   []string      `json:"encodings,omitempty" yaml:"encodings,omitempty"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
}

// Result is the report of a successful build.
type Result struct {
	Mode     minify.Mode    `json:"mode" yaml:"mode"`
	Bundles  []BundleResult `json:"bundles" yaml:"bundles"`
	Duration time.Duration  `json:"duration" yaml:"duration"`
}

// Part is one input file after preprocessing.
type Part struct {
	Path     string
	RawBytes int
	Data     []byte
}

// Builder runs builds for an assembled configuration.
type Builder struct {
	cfg      *Config
	entries  bundle.EntryFunc
	minifier *minify.Minifier
	styles   StyleCompiler
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	// runMu keeps builds from overlapping on disk.
	runMu sync.Mutex
}

// Option configures a Builder.
type Option func(*Builder)

// WithStyleCompiler replaces the sass compiler.
func WithStyleCompiler(c StyleCompiler) Option {
	return func(b *Builder) { b.styles = c }
}

// WithMetrics records build metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Builder) { b.metrics = m }
}

// WithTracer records build spans.
func WithTracer(t *observability.Tracer) Option {
	return func(b *Builder) { b.tracer = t }
}

// NewBuilder creates a builder. entries is evaluated at the start of every
// Run; pass cfg.Entries() to re-read the manifest each time.
func NewBuilder(cfg *Config, entries bundle.EntryFunc, opts ...Option) *Builder {
	b := &Builder{
		cfg:      cfg,
		entries:  entries,
		minifier: minify.New(cfg.Mode, minify.WithTarget(cfg.Target)),
		styles:   sass.NewCompiler(cfg.Root, cfg.SassBinary, cfg.LoadPaths()),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.tracer == nil {
		b.tracer = observability.NewTracerFromProvider(otel.GetTracerProvider())
	}
	return b
}

// Config returns the build configuration.
func (b *Builder) Config() *Config {
	return b.cfg
}

// Minifier returns the minifier used for outputs.
func (b *Builder) Minifier() *minify.Minifier {
	return b.minifier
}

// Graph evaluates the entry function.
func (b *Builder) Graph(ctx context.Context) (bundle.Graph, error) {
	return b.entries(ctx)
}

// Run evaluates the entries and builds every bundle. Any bundle failure
// fails the whole build and no asset manifest is written.
func (b *Builder) Run(ctx context.Context) (*Result, error) {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	start := time.Now()
	ctx, span := b.tracer.StartBuildSpan(ctx, string(b.cfg.Mode))

	result, err := b.run(ctx)

	duration := time.Since(start)
	observability.EndSpan(span, err)
	if b.metrics != nil {
		b.metrics.RecordBuild(string(b.cfg.Mode), duration, err)
	}
	if err != nil {
		return nil, err
	}
	result.Duration = duration
	return result, nil
}

func (b *Builder) run(ctx context.Context) (*Result, error) {
	graph, err := b.entries(ctx)
	if err != nil {
		return nil, err
	}
	list := graph.Sorted()
	observability.SetSpanAttributes(ctx, attribute.Int("build.bundles", len(list)))

	log.Debug().
		Str("mode", string(b.cfg.Mode)).
		Int("bundles", len(list)).
		Msg("Starting build")

	results := make([]BundleResult, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)
	for i, r := range list {
		g.Go(func() error {
			res, err := b.buildBundle(gctx, r)
			if err != nil {
				return err
			}
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m := assets.NewManifest(string(b.cfg.Mode))
	for _, r := range results {
		m.Entries[r.ID] = assets.Entry{
			Path:      r.Output,
			Bytes:     r.OutputBytes,
			Hash:      r.Hash,
			Encodings: r.Encodings,
		}
	}
	if err := m.Write(b.cfg.Output.Root); err != nil {
		return nil, err
	}

	return &Result{Mode: b.cfg.Mode, Bundles: results}, nil
}

func (b *Builder) buildBundle(ctx context.Context, r bundle.Resolved) (res *BundleResult, err error) {
	start := time.Now()
	id := r.ID
	ctx, span := b.tracer.StartBundleSpan(ctx, id.String(), id.Kind.String(), len(r.Files))
	defer func() {
		observability.EndSpan(span, err)
		if b.metrics != nil {
			out := 0
			if res != nil {
				out = res.OutputBytes
			}
			b.metrics.RecordBundle(id.Name, id.Kind.String(), out, time.Since(start), err)
		}
	}()

	parts, err := b.Parts(ctx, r)
	if err != nil {
		return nil, err
	}

	var combined bytes.Buffer
	raw := 0
	for _, p := range parts {
		combined.Write(p.Data)
		raw += p.RawBytes
	}

	if err := assets.WriteFileAtomic(b.abs(b.cfg.TempPath(id)), combined.Bytes()); err != nil {
		return nil, &BundleError{ID: id, Err: err}
	}

	out, err := b.Minify(id, combined.Bytes())
	if err != nil {
		return nil, &BundleError{ID: id, Err: err}
	}

	rel := b.cfg.OutputPath(id)
	dest := b.abs(rel)
	if err := assets.WriteFileAtomic(dest, out); err != nil {
		return nil, &BundleError{ID: id, Err: err}
	}

	var encodings []string
	if b.cfg.Precompress {
		encodings, err = assets.Precompress(dest, out)
		if err != nil {
			return nil, &BundleError{ID: id, Err: err}
		}
	}

	duration := time.Since(start)
	log.Info().
		Str("bundle", id.String()).
		Str("kind", id.Kind.String()).
		Str("path", rel).
		Int("bytes", len(out)).
		Int64("duration_ms", duration.Milliseconds()).
		Msg("Bundle built")

	return &BundleResult{
		ID:          id,
		Output:      rel,
		Files:       len(r.Files),
		InputBytes:  raw,
		OutputBytes: len(out),
		Hash:        assets.Hash(out),
		Encodings:   encodings,
		Duration:    duration,
	}, nil
}

// Parts reads every file of r in declared order. Sass sources in style
// bundles are compiled; everything else is read as is.
func (b *Builder) Parts(ctx context.Context, r bundle.Resolved) ([]Part, error) {
	parts := make([]Part, 0, len(r.Files))
	for _, file := range r.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, &BundleError{ID: r.ID, Path: file, Err: err}
		}

		data := raw
		if r.ID.Kind == bundle.KindStyle && sass.NeedsCompile(file) {
			data, err = b.styles.Compile(ctx, file)
			if err != nil {
				return nil, &BundleError{ID: r.ID, Path: file, Err: err}
			}
		}
		parts = append(parts, Part{Path: file, RawBytes: len(raw), Data: data})
	}
	return parts, nil
}

// Minify transforms code for the bundle's kind in the current mode.
func (b *Builder) Minify(id bundle.ID, code []byte) ([]byte, error) {
	if id.Kind == bundle.KindStyle {
		return b.minifier.Style(id, code)
	}
	return b.minifier.Script(id, code)
}

func (b *Builder) abs(rel string) string {
	return filepath.Join(b.cfg.Output.Root, filepath.FromSlash(rel))
}
