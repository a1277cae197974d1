package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

// newProject writes a project with plain CSS and JS bundles and its
// config file, and returns the project root and config path.
func newProject(t *testing.T) (string, string) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "media/static-bundles.json", `{
  // comments are allowed
  "css": [{"name": "site", "files": ["protocol/css/base.css", "css/site.css"]}],
  "js": [{"name": "site", "files": ["js/a.js", "js/b.js"]}]
}`)
	writeFile(t, root, "node_modules/@mozilla-protocol/core/protocol/css/base.css", "html { margin: 0; }\n")
	writeFile(t, root, "media/css/site.css", "body { color: red; }\n")
	writeFile(t, root, "media/js/a.js", "var first = 1;\n")
	writeFile(t, root, "media/js/b.js", "var second = 2;\n")

	configPath := filepath.Join(root, "mediapack.yaml")
	writeFile(t, root, "mediapack.yaml", "build:\n  root: "+root+"\n  concurrency: 2\n")
	return root, configPath
}

// execute runs the CLI with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("NODE_ENV", "")
	t.Setenv("MEDIAPACK_MODE", "")

	viper.Reset()
	resetFlags(rootCmd)
	cfg, formatter = nil, nil

	var out bytes.Buffer
	stdout = &out
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	t.Cleanup(func() {
		stdout = os.Stdout
		viper.Reset()
	})

	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.PersistentFlags().VisitAll(reset)
	c.Flags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func TestBuild(t *testing.T) {
	root, configPath := newProject(t)

	out, err := execute(t, "build", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "site--js")
	assert.Contains(t, out, "site--scss")
	assert.Contains(t, out, "TOTAL")

	js, err := os.ReadFile(filepath.Join(root, "assets", "js", "site.js"))
	require.NoError(t, err)
	assert.Equal(t, "var first = 1;\nvar second = 2;\n", string(js))

	css, err := os.ReadFile(filepath.Join(root, "assets", "css", "site.css"))
	require.NoError(t, err)
	assert.Equal(t, "html { margin: 0; }\nbody { color: red; }\n", string(css))

	assert.FileExists(t, filepath.Join(root, "assets", "assets.json"))
	assert.NoFileExists(t, filepath.Join(root, "assets", "js", "site.js.gz"))
}

func TestBuild_ProductionJSON(t *testing.T) {
	root, configPath := newProject(t)

	out, err := execute(t, "build", "--config", configPath, "--mode", "production", "-o", "json")
	require.NoError(t, err)

	var result struct {
		Mode    string `json:"mode"`
		Bundles []struct {
			ID        string   `json:"id"`
			Files     int      `json:"files"`
			Encodings []string `json:"encodings"`
		} `json:"bundles"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "production", result.Mode)
	require.Len(t, result.Bundles, 2)
	for _, b := range result.Bundles {
		assert.Equal(t, 2, b.Files)
		assert.Equal(t, []string{"gzip", "zstd"}, b.Encodings)
	}

	js, err := os.ReadFile(filepath.Join(root, "assets", "js", "site.js"))
	require.NoError(t, err)
	assert.Less(t, len(js), len("var first = 1;\nvar second = 2;\n"))
	assert.FileExists(t, filepath.Join(root, "assets", "js", "site.js.gz"))
}

func TestBuild_MissingFile(t *testing.T) {
	root, configPath := newProject(t)
	require.NoError(t, os.Remove(filepath.Join(root, "media", "js", "b.js")))

	_, err := execute(t, "build", "--config", configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "js/b.js")
}

func TestBundles(t *testing.T) {
	_, configPath := newProject(t)

	out, err := execute(t, "bundles", "--config", configPath, "-o", "json")
	require.NoError(t, err)

	var infos []bundleInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 2)

	byID := make(map[string]bundleInfo)
	for _, info := range infos {
		byID[info.ID] = info
	}
	assert.Equal(t, "/media/js/site.js", byID["site--js"].URL)
	assert.Equal(t, []string{"media/js/a.js", "media/js/b.js"}, byID["site--js"].Files)
	assert.Equal(t, []string{
		"node_modules/@mozilla-protocol/core/protocol/css/base.css",
		"media/css/site.css",
	}, byID["site--scss"].Files)
}

func TestBundles_Table(t *testing.T) {
	_, configPath := newProject(t)

	out, err := execute(t, "bundles", "--config", configPath, "--files")
	require.NoError(t, err)
	assert.Contains(t, out, "site--js")
	assert.Contains(t, out, "media/js/a.js")
}

func TestAnalyze(t *testing.T) {
	_, configPath := newProject(t)

	out, err := execute(t, "analyze", "site--js", "--config", configPath, "-o", "json")
	require.NoError(t, err)

	var results []struct {
		Bundle     string `json:"bundle"`
		TotalBytes int    `json:"total_bytes"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "site--js", results[0].Bundle)
	assert.Equal(t, 31, results[0].TotalBytes)

	assert.NoDirExists(t, filepath.Join(filepath.Dir(configPath), "assets"), "analyze writes nothing")
}

func TestAnalyze_UnknownBundle(t *testing.T) {
	_, configPath := newProject(t)

	_, err := execute(t, "analyze", "nope--js", "--config", configPath)
	assert.Error(t, err)
}

func TestPublish_Local(t *testing.T) {
	_, configPath := newProject(t)
	dest := t.TempDir()

	_, err := execute(t, "publish", "--config", configPath, "--build", "--dest", dest)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dest, "js", "site.js"))
	assert.FileExists(t, filepath.Join(dest, "css", "site.css"))
	assert.FileExists(t, filepath.Join(dest, "assets.json"))
}

func TestPublish_Prune(t *testing.T) {
	_, configPath := newProject(t)
	dest := t.TempDir()
	writeFile(t, dest, "js/retired.js", "var old;\n")

	out, err := execute(t, "publish", "--config", configPath, "--build", "--dest", dest, "--prune", "-o", "json")
	require.NoError(t, err)

	var report struct {
		Pruned []string `json:"pruned"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, []string{"js/retired.js"}, report.Pruned)
	assert.NoFileExists(t, filepath.Join(dest, "js", "retired.js"))
	assert.FileExists(t, filepath.Join(dest, "js", "site.js"))
}

func TestPublish_WithoutBuild(t *testing.T) {
	_, configPath := newProject(t)

	_, err := execute(t, "publish", "--config", configPath, "--dest", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run a build first")
}

func TestInvalidOutputFormat(t *testing.T) {
	_, configPath := newProject(t)

	_, err := execute(t, "build", "--config", configPath, "-o", "xml")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mediapack dev")
}
