// Package cmd provides the Cobra commands for the mediapack CLI.
package cmd

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fluxbase-eu/mediapack/cli/output"
	"github.com/fluxbase-eu/mediapack/internal/config"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// Global flags
	cfgFile   string
	mode      string
	outputFmt string
	noHeaders bool
	quiet     bool
	debug     bool

	// Shared across commands
	cfg       *config.Config
	formatter *output.Formatter

	// stdout receives command results; tests replace it.
	stdout io.Writer = os.Stdout
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mediapack",
	Short: "mediapack - Build and serve static media bundles",
	Long: `mediapack builds the CSS and JavaScript bundles declared in a bundle
manifest, serves them behind a live-reloading development proxy and
publishes them to storage.

Bundles are concatenated in manifest order. Production mode
(NODE_ENV=production or --mode production) minifies and precompresses
the outputs.

Get started:
  mediapack build        Build every bundle once
  mediapack serve        Build, watch and proxy the application server
  mediapack --help       Show available commands`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the CLI with ctx, which is cancelled on shutdown.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./mediapack.yaml or ./config/mediapack.yaml)")
	rootCmd.PersistentFlags().StringVar(&mode, "mode", "",
		"build mode: development or production (default from NODE_ENV)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table",
		"output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&noHeaders, "no-headers", false,
		"hide table headers")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"minimal output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"enable debug output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(completionCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(bundlesCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(publishCmd)
}

// requireConfig loads the configuration for commands that need it. Flags
// are bound on every call so they win over the environment and the
// config file.
func requireConfig(cmd *cobra.Command, args []string) error {
	_ = viper.BindPFlag("mode", cmd.Root().PersistentFlags().Lookup("mode"))
	_ = viper.BindPFlag("debug", cmd.Root().PersistentFlags().Lookup("debug"))
	for key, name := range commandFlags[cmd.Name()] {
		_ = viper.BindPFlag(key, cmd.Flags().Lookup(name))
	}

	format, err := output.ParseFormat(outputFmt)
	if err != nil {
		return err
	}

	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	setLogLevel(cfg.Debug, quiet)
	formatter = output.NewFormatter(format, noHeaders, quiet)
	formatter.Writer = stdout
	return nil
}

// commandFlags maps config keys to the command flags that override them.
var commandFlags = map[string]map[string]string{
	"serve": {
		"devserver.port":      "port",
		"devserver.ui_port":   "ui-port",
		"devserver.proxy_url": "proxy",
	},
	"publish": {
		"publish.provider":   "provider",
		"publish.local_path": "dest",
	},
}

func setLogLevel(debug, quiet bool) {
	switch {
	case debug:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case quiet:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// GetFormatter returns the output formatter (for use by subcommands)
func GetFormatter() *output.Formatter {
	if formatter == nil {
		format, _ := output.ParseFormat(outputFmt)
		formatter = output.NewFormatter(format, noHeaders, quiet)
		formatter.Writer = stdout
	}
	return formatter
}

// IsDebug returns true if debug mode is enabled
func IsDebug() bool {
	return debug || (cfg != nil && cfg.Debug)
}
