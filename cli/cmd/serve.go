package cmd

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fluxbase-eu/mediapack/internal/devserver"
)

var (
	servePort   int
	serveUIPort int
	serveProxy  string
	serveNoOpen bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Build, watch and proxy the application with live reload",
	Long: `Build every bundle, watch for changes and run the development proxy.

The proxy forwards requests to the application server (BS_PROXY_URL),
serves the build output under the static route and injects the live
reload client into HTML pages. Stylesheet-only rebuilds refresh CSS in
place; anything else reloads the page. A dashboard listens on the UI port.

Examples:
  mediapack serve
  BS_PROXY_URL=localhost:5000 mediapack serve
  mediapack serve --port 3000 --no-open`,
	PreRunE: requireConfig,
	RunE:    runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8000, "proxy port")
	serveCmd.Flags().IntVar(&serveUIPort, "ui-port", 8001, "dashboard port")
	serveCmd.Flags().StringVar(&serveProxy, "proxy", "", "application server to proxy (default from BS_PROXY_URL)")
	serveCmd.Flags().BoolVar(&serveNoOpen, "no-open", false, "do not open a browser")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if serveNoOpen {
		cfg.DevServer.OpenBrowser = false
	}

	p, err := openProject(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	server := devserver.New(p.cfg,
		devserver.WithMetrics(p.metrics),
		devserver.WithTracing(p.tracer.IsEnabled()),
	)

	result, err := p.builder.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Initial build failed")
	}
	server.RecordBuild(result, err)

	watcher, err := p.newWatcher(func(ctx context.Context, changed []string) error {
		result, err := p.builder.Run(ctx)
		server.Rebuilt(changed, result, err)
		return err
	})
	if err != nil {
		return err
	}
	server.SetWatchStats(watcher.Stats)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(ctx) })
	g.Go(func() error { return watcher.Run(ctx) })
	return g.Wait()
}
