package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/mediapack/cli/output"
	"github.com/fluxbase-eu/mediapack/cli/util"
	"github.com/fluxbase-eu/mediapack/internal/storage"
)

var (
	publishForce    bool
	publishBuild    bool
	publishYes      bool
	publishPrune    bool
	publishProvider string
	publishDest     string
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Upload the build output to storage",
	Long: `Upload every file in the asset manifest, including precompressed
siblings, to the configured storage provider. Files whose content hash
matches the stored object are skipped. The asset manifest is uploaded
last so readers never see it before the files it names.

Examples:
  mediapack publish
  mediapack publish --build --mode production
  mediapack publish --provider s3 --yes
  mediapack publish --prune`,
	PreRunE: requireConfig,
	RunE:    runPublish,
}

func init() {
	publishCmd.Flags().BoolVar(&publishForce, "force", false, "upload files even when unchanged")
	publishCmd.Flags().BoolVar(&publishBuild, "build", false, "build before publishing")
	publishCmd.Flags().BoolVar(&publishPrune, "prune", false, "delete objects under the prefix that the asset manifest no longer lists")
	publishCmd.Flags().BoolVarP(&publishYes, "yes", "y", false, "skip the confirmation prompt")
	publishCmd.Flags().StringVar(&publishProvider, "provider", "", "storage provider: local or s3")
	publishCmd.Flags().StringVar(&publishDest, "dest", "", "destination directory for the local provider")
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, err := openProject(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	f := GetFormatter()
	if publishBuild {
		result, err := p.builder.Run(ctx)
		if err != nil {
			return err
		}
		f.PrintInfo(fmt.Sprintf("Built %d bundles in %s", len(result.Bundles), util.FormatDuration(result.Duration)))
	}

	provider, err := storage.NewProvider(&cfg.Publish)
	if err != nil {
		return err
	}

	if provider.Name() != "local" && !publishYes && util.IsInteractive() {
		prompt := fmt.Sprintf("Publish %s to %s bucket %q?", p.cfg.Output.Root, provider.Name(), cfg.Publish.S3Bucket)
		ok, err := util.Confirm(os.Stdin, prompt, false)
		if err != nil {
			return err
		}
		if !ok {
			f.PrintInfo("Publish cancelled")
			return nil
		}
	}

	publisher := storage.NewPublisher(provider,
		storage.WithPrefix(cfg.Publish.Prefix),
		storage.WithCacheControl(cfg.Publish.CacheControl),
		storage.WithForce(publishForce),
		storage.WithPrune(publishPrune),
		storage.WithPublishMetrics(p.metrics),
	)
	report, err := publisher.Publish(ctx, p.cfg.Output.Root)
	if err != nil {
		return err
	}
	return printReport(f, report)
}

func printReport(f *output.Formatter, report *storage.PublishReport) error {
	if !f.IsTable() {
		return f.Print(report)
	}

	data := output.TableData{Headers: []string{"KEY", "STATUS", "SIZE", "TYPE", "ENCODING"}}
	for _, file := range report.Files {
		encoding := file.ContentEncoding
		if encoding == "" {
			encoding = "-"
		}
		data.Rows = append(data.Rows, []string{
			file.Key, file.Status, util.FormatBytes(int64(file.Bytes)), file.ContentType, encoding,
		})
	}
	for _, key := range report.Pruned {
		data.Rows = append(data.Rows, []string{key, "pruned", "-", "-", "-"})
	}
	f.PrintTable(data)
	f.PrintSuccess(fmt.Sprintf("Published to %s: %d uploaded, %d unchanged, %d pruned (%s) in %s",
		report.Provider, report.Uploaded, report.Skipped, len(report.Pruned),
		util.FormatBytes(report.Bytes), util.FormatDuration(report.Duration)))
	return nil
}
