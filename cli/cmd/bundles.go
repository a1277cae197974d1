package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/mediapack/cli/output"
)

var bundlesShowFiles bool

var bundlesCmd = &cobra.Command{
	Use:     "bundles",
	Aliases: []string{"ls"},
	Short:   "List the bundles declared in the manifest",
	Long: `List every bundle in the manifest with its output path and the
resolved input files, in concatenation order.

Examples:
  mediapack bundles
  mediapack bundles --files
  mediapack bundles -o json`,
	PreRunE: requireConfig,
	RunE:    runBundles,
}

func init() {
	bundlesCmd.Flags().BoolVar(&bundlesShowFiles, "files", false, "list the input files of each bundle")
}

// bundleInfo is the listing of one bundle.
type bundleInfo struct {
	ID     string   `json:"id" yaml:"id"`
	Kind   string   `json:"kind" yaml:"kind"`
	Output string   `json:"output" yaml:"output"`
	URL    string   `json:"url" yaml:"url"`
	Files  []string `json:"files" yaml:"files"`
}

func runBundles(cmd *cobra.Command, args []string) error {
	p, err := openProject(cmd.Context())
	if err != nil {
		return err
	}
	defer p.Close()

	graph, err := p.builder.Graph(cmd.Context())
	if err != nil {
		return err
	}
	resolved, err := graph.Select(nil)
	if err != nil {
		return err
	}

	infos := make([]bundleInfo, 0, len(resolved))
	for _, r := range resolved {
		infos = append(infos, bundleInfo{
			ID:     r.ID.String(),
			Kind:   r.ID.Kind.String(),
			Output: p.cfg.OutputPath(r.ID),
			URL:    p.cfg.PublicURL(r.ID),
			Files:  relativeTo(p.cfg.Root, r.Files),
		})
	}

	f := GetFormatter()
	if !f.IsTable() {
		return f.Print(infos)
	}

	data := output.TableData{Headers: []string{"BUNDLE", "KIND", "URL", "FILES"}}
	for _, info := range infos {
		data.Rows = append(data.Rows, []string{info.ID, info.Kind, info.URL, fmt.Sprintf("%d", len(info.Files))})
		if bundlesShowFiles {
			for _, file := range info.Files {
				data.Rows = append(data.Rows, []string{"", "", "  " + file, ""})
			}
		}
	}
	f.PrintTable(data)
	return nil
}

func relativeTo(root string, paths []string) []string {
	out := make([]string, len(paths))
	for i, path := range paths {
		out[i] = path
		if rel, err := filepath.Rel(root, path); err == nil {
			out[i] = filepath.ToSlash(rel)
		}
	}
	return out
}
