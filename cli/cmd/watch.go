package cmd

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Build, then rebuild whenever sources change",
	Long: `Build every bundle, then watch the media directory, the vendored
package and the bundle manifest and rebuild after changes settle.

A failed build is reported and the watcher keeps running.`,
	PreRunE: requireConfig,
	RunE:    runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, err := openProject(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	if result, err := p.builder.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Initial build failed")
	} else {
		log.Info().
			Int("bundles", len(result.Bundles)).
			Dur("duration", result.Duration).
			Msg("Initial build complete")
	}

	watcher, err := p.newWatcher(func(ctx context.Context, changed []string) error {
		_, err := p.builder.Run(ctx)
		return err
	})
	if err != nil {
		return err
	}
	return watcher.Run(ctx)
}
