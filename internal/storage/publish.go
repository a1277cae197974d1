package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fluxbase-eu/mediapack/internal/assets"
	"github.com/fluxbase-eu/mediapack/internal/observability"
)

// ManifestCacheControl applies to assets.json, which changes on every build.
const ManifestCacheControl = "no-cache"

// DefaultPublishConcurrency bounds parallel uploads.
const DefaultPublishConcurrency = 4

// Publish statuses, also used as metric labels.
const (
	StatusUploaded = "uploaded"
	StatusSkipped  = "skipped"
	StatusFailed   = "failed"
)

// PublishedFile reports what happened to one file.
type PublishedFile struct {
	Key             string `json:"key" yaml:"key"`
	Status          string `json:"status" yaml:"status"`
	Bytes           int    `json:"bytes" yaml:"bytes"`
	ContentType     string `json:"content_type" yaml:"content_type"`
	ContentEncoding string `json:"content_encoding,omitempty" yaml:"content_encoding,omitempty"`
}

// PublishReport summarizes a publish run.
type PublishReport struct {
	Provider string          `json:"provider" yaml:"provider"`
	Files    []PublishedFile `json:"files" yaml:"files"`
	Uploaded int             `json:"uploaded" yaml:"uploaded"`
	Skipped  int             `json:"skipped" yaml:"skipped"`
	Bytes    int64           `json:"bytes" yaml:"bytes"`
	Pruned   []string        `json:"pruned,omitempty" yaml:"pruned,omitempty"`
	Duration time.Duration   `json:"duration" yaml:"duration"`
}

// Publisher uploads a build's outputs to a provider.
type Publisher struct {
	provider     Provider
	prefix       string
	cacheControl string
	concurrency  int
	force        bool
	prune        bool
	metrics      *observability.Metrics
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPrefix places every key below prefix.
func WithPrefix(prefix string) PublisherOption {
	return func(p *Publisher) { p.prefix = strings.Trim(prefix, "/") }
}

// WithCacheControl sets Cache-Control on bundle outputs.
func WithCacheControl(v string) PublisherOption {
	return func(p *Publisher) { p.cacheControl = v }
}

// WithForce uploads every file even when the stored hash matches.
func WithForce(force bool) PublisherOption {
	return func(p *Publisher) { p.force = force }
}

// WithPrune deletes objects below the prefix that the published asset
// manifest no longer lists.
func WithPrune(prune bool) PublisherOption {
	return func(p *Publisher) { p.prune = prune }
}

// WithPublishMetrics records publish counters.
func WithPublishMetrics(m *observability.Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// NewPublisher creates a publisher for provider.
func NewPublisher(provider Provider, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		provider:    provider,
		concurrency: DefaultPublishConcurrency,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish uploads every file listed in outputRoot's asset manifest, then
// the manifest itself. Files whose stored hash matches are skipped.
func (p *Publisher) Publish(ctx context.Context, outputRoot string) (*PublishReport, error) {
	start := time.Now()

	m, err := assets.ReadManifest(outputRoot)
	if err != nil {
		return nil, fmt.Errorf("nothing to publish, run a build first: %w", err)
	}
	if err := p.provider.Health(ctx); err != nil {
		return nil, err
	}

	paths := m.Paths()
	files := make([]PublishedFile, len(paths))

	var mu sync.Mutex
	var failed []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, rel := range paths {
		g.Go(func() error {
			file, err := p.publishFile(gctx, outputRoot, rel, p.cacheControl)
			files[i] = file
			if err != nil {
				mu.Lock()
				failed = append(failed, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(failed) > 0 {
		return nil, errors.Join(failed...)
	}

	// The manifest goes last so readers never see entries before their files.
	manifestFile, err := p.publishFile(ctx, outputRoot, assets.ManifestFile, ManifestCacheControl)
	if err != nil {
		return nil, err
	}
	files = append(files, manifestFile)

	report := &PublishReport{Provider: p.provider.Name(), Files: files}
	for _, f := range files {
		switch f.Status {
		case StatusUploaded:
			report.Uploaded++
			report.Bytes += int64(f.Bytes)
		case StatusSkipped:
			report.Skipped++
		}
	}
	if p.prune {
		pruned, err := p.pruneStale(ctx, report.Keys())
		if err != nil {
			observability.RecordError(ctx, err)
			return nil, err
		}
		report.Pruned = pruned
	}
	report.Duration = time.Since(start)

	log.Info().
		Str("provider", report.Provider).
		Int("uploaded", report.Uploaded).
		Int("skipped", report.Skipped).
		Int64("bytes", report.Bytes).
		Int("pruned", len(report.Pruned)).
		Int64("duration_ms", report.Duration.Milliseconds()).
		Msg("Published assets")

	return report, nil
}

func (p *Publisher) publishFile(ctx context.Context, outputRoot, rel, cacheControl string) (file PublishedFile, err error) {
	key := p.key(rel)
	ctx, span := observability.StartPublishSpan(ctx, p.provider.Name(), key)
	defer func() { observability.EndSpan(span, err) }()

	file = PublishedFile{Key: key, Status: StatusFailed}
	defer func() {
		if p.metrics != nil {
			var n int64
			if file.Status == StatusUploaded {
				n = int64(file.Bytes)
			}
			p.metrics.RecordPublish(p.provider.Name(), file.Status, n)
		}
	}()

	data, err := os.ReadFile(filepath.Join(outputRoot, filepath.FromSlash(rel)))
	if err != nil {
		return file, fmt.Errorf("publish %s: %w", rel, err)
	}
	file.Bytes = len(data)
	file.ContentType, file.ContentEncoding = contentHeaders(rel)
	hash := assets.Hash(data)

	if !p.force {
		existing, err := p.provider.GetObject(ctx, key)
		switch {
		case err == nil && existing.MetadataValue(HashMetadataKey) == hash:
			file.Status = StatusSkipped
			log.Debug().Str("key", key).Msg("Unchanged, skipping")
			return file, nil
		case err != nil && !errors.Is(err, ErrNotFound):
			return file, fmt.Errorf("publish %s: %w", rel, err)
		}
	}

	_, err = p.provider.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), &UploadOptions{
		ContentType:     file.ContentType,
		ContentEncoding: file.ContentEncoding,
		CacheControl:    cacheControl,
		Metadata:        map[string]string{HashMetadataKey: hash},
	})
	if err != nil {
		return file, fmt.Errorf("publish %s: %w", rel, err)
	}
	file.Status = StatusUploaded
	return file, nil
}

// pruneStale deletes every object below the prefix whose key is not in
// keep, which must be sorted.
func (p *Publisher) pruneStale(ctx context.Context, keep []string) ([]string, error) {
	prefix := ""
	if p.prefix != "" {
		prefix = p.prefix + "/"
	}
	objects, err := p.provider.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing %s objects: %w", p.provider.Name(), err)
	}

	var pruned []string
	for _, obj := range objects {
		if i := sort.SearchStrings(keep, obj.Key); i < len(keep) && keep[i] == obj.Key {
			continue
		}
		if err := p.provider.Delete(ctx, obj.Key); err != nil && !errors.Is(err, ErrNotFound) {
			return pruned, fmt.Errorf("pruning %s: %w", obj.Key, err)
		}
		log.Debug().Str("key", obj.Key).Msg("Pruned stale object")
		pruned = append(pruned, obj.Key)
	}
	sort.Strings(pruned)
	return pruned, nil
}

func (p *Publisher) key(rel string) string {
	if p.prefix == "" {
		return rel
	}
	return path.Join(p.prefix, rel)
}

// contentHeaders derives Content-Type and Content-Encoding from a file
// name. Precompressed siblings keep the type of the file they encode.
func contentHeaders(name string) (contentType, contentEncoding string) {
	ext := path.Ext(name)
	if enc := assets.EncodingForExt(ext); enc != "" {
		contentEncoding = enc
		ext = path.Ext(strings.TrimSuffix(name, ext))
	}
	contentType = utils.GetMIME(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return contentType, contentEncoding
}

// Keys returns the sorted keys of a report.
func (r *PublishReport) Keys() []string {
	keys := make([]string, len(r.Files))
	for i, f := range r.Files {
		keys[i] = f.Key
	}
	sort.Strings(keys)
	return keys
}
