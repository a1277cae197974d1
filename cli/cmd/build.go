package cmd

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/mediapack/cli/output"
	"github.com/fluxbase-eu/mediapack/cli/util"
	"github.com/fluxbase-eu/mediapack/internal/pipeline"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build every bundle once",
	Long: `Build every bundle in the manifest and write the outputs and the
asset manifest under the output directory.

Examples:
  mediapack build
  NODE_ENV=production mediapack build
  mediapack build --mode production -o json`,
	PreRunE: requireConfig,
	RunE:    runBuild,
}

func runBuild(cmd *cobra.Command, args []string) error {
	p, err := openProject(cmd.Context())
	if err != nil {
		return err
	}
	defer p.Close()

	result, err := p.builder.Run(cmd.Context())
	if err != nil {
		return err
	}
	return printResult(GetFormatter(), result)
}

func printResult(f *output.Formatter, result *pipeline.Result) error {
	if !f.IsTable() {
		return f.Print(result)
	}

	data := output.TableData{
		Headers: []string{"BUNDLE", "OUTPUT", "FILES", "INPUT", "OUTPUT SIZE", "ENCODINGS", "DURATION"},
	}
	var in, out int64
	for _, b := range result.Bundles {
		in += int64(b.InputBytes)
		out += int64(b.OutputBytes)
		encodings := strings.Join(b.Encodings, ",")
		if encodings == "" {
			encodings = "-"
		}
		data.Rows = append(data.Rows, []string{
			b.ID.String(),
			b.Output,
			fmt.Sprintf("%d", b.Files),
			util.FormatBytes(int64(b.InputBytes)),
			util.FormatBytes(int64(b.OutputBytes)),
			encodings,
			util.FormatDuration(b.Duration),
		})
	}
	data.Footer = strings.Join([]string{
		"TOTAL", string(result.Mode), "",
		util.FormatBytes(in), util.FormatBytes(out), "",
		util.FormatDuration(result.Duration),
	}, "\t")
	f.PrintTable(data)

	log.Debug().Int("bundles", len(result.Bundles)).Msg("Build report printed")
	return nil
}
