package cmd

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/mediapack/internal/observability"
	"github.com/fluxbase-eu/mediapack/internal/pipeline"
	"github.com/fluxbase-eu/mediapack/internal/watch"
)

// project bundles what the build commands share: the assembled build
// configuration, a builder and the observability it reports to.
type project struct {
	cfg     *pipeline.Config
	builder *pipeline.Builder
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

func openProject(ctx context.Context) (*project, error) {
	pcfg, err := pipeline.Assemble(cfg)
	if err != nil {
		return nil, err
	}

	tracer, err := observability.NewTracer(ctx, observability.TracerConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: string(pcfg.Mode),
		Version:     Version,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics()
	builder := pipeline.NewBuilder(pcfg, pcfg.Entries(),
		pipeline.WithMetrics(metrics),
		pipeline.WithTracer(tracer),
	)

	log.Debug().
		Str("mode", string(pcfg.Mode)).
		Str("manifest", pcfg.ManifestPath).
		Str("output", pcfg.Output.Root).
		Msg("Project loaded")

	return &project{cfg: pcfg, builder: builder, metrics: metrics, tracer: tracer}, nil
}

// Close flushes pending spans.
func (p *project) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.tracer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down tracer")
	}
}

// newWatcher watches the sources and the bundle manifest. The output root
// is excluded so writes never trigger another build.
func (p *project) newWatcher(rebuild watch.RebuildFunc) (*watch.Watcher, error) {
	return watch.New(watch.Options{
		Roots:            []string{p.cfg.MediaDir, p.cfg.VendorDir},
		Files:            []string{p.cfg.ManifestPath},
		Ignored:          p.cfg.Watch.Ignored,
		Exclude:          []string{p.cfg.Output.Root},
		AggregateTimeout: p.cfg.Watch.AggregateTimeout,
	}, rebuild)
}
