package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/mediapack/internal/analyzer"
)

var analyzeDetails bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze [bundle...]",
	Short: "Show what each bundle is made of",
	Long: `Analyze bundles without writing anything: the size of each input
file, its share of the output and warnings for anything over the
configured size limit (analyze.warn_bytes).

Bundles are named by ID, e.g. site--js or site--scss. With no arguments
every bundle is analyzed.

Examples:
  mediapack analyze
  mediapack analyze site--js --details
  mediapack analyze --mode production -o json`,
	PreRunE: requireConfig,
	RunE:    runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeDetails, "details", false, "show every input file")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	p, err := openProject(cmd.Context())
	if err != nil {
		return err
	}
	defer p.Close()

	results, err := analyzer.NewAnalyzer(p.builder, int(cfg.Analyze.WarnBytes)).Analyze(cmd.Context(), args)
	if err != nil {
		return err
	}

	f := GetFormatter()
	if !f.IsTable() {
		return f.Print(results)
	}
	if f.Quiet {
		return nil
	}

	for _, result := range results {
		analyzer.DisplayAnalysis(f.Writer, result, analyzeDetails)
	}
	if len(results) > 1 {
		analyzer.DisplaySummary(f.Writer, results)
	}
	return nil
}
