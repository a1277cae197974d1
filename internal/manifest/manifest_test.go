package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	data := []byte(`{
		// bundles shared by every page
		"css": [
			{"name": "site", "files": ["css/site.scss", "protocol/css/protocol.scss"]},
		],
		"js": [
			{"name": "site", "files": ["js/a.js", "js/b.js"]}, /* trailing comma */
		],
	}`)

	m, err := Parse(data)
	require.NoError(t, err)

	require.Len(t, m.CSS, 1)
	require.Len(t, m.JS, 1)
	assert.Equal(t, "site", m.CSS[0].Name)
	assert.Equal(t, []string{"css/site.scss", "protocol/css/protocol.scss"}, m.CSS[0].Files)
	assert.Equal(t, []string{"js/a.js", "js/b.js"}, m.JS[0].Files)
	assert.Equal(t, 2, m.Len())
}

func TestParse_EmptyKinds(t *testing.T) {
	m, err := Parse([]byte(`{"css": [], "js": []}`))
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestParse_MissingKeys(t *testing.T) {
	_, err := Parse([]byte(`{"css": []}`))
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Problems, 1)
	assert.Equal(t, "js", verr.Problems[0].Location)
	assert.Contains(t, err.Error(), "js: missing required key")
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte(`css: []`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing manifest")

	var verr *ValidationError
	assert.False(t, errors.As(err, &verr), "syntax errors have no location")
}

func TestParse_WrongShape(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		problems []string
	}{
		{"top-level array", `[]`, []string{"$: manifest must be an object"}},
		{"kind is an object", `{"css": {"name": "x"}, "js": []}`, []string{"css: must be an array of bundle declarations"}},
		{"bundle is a string", `{"css": [], "js": ["site"]}`, []string{"js[0]: must be an object with name and files"}},
		{"files is a string", `{"css": [], "js": [{"name": "x", "files": "a.js"}]}`, []string{"js[0].files: must be an array of strings"}},
		{"name is a number", `{"css": [{"name": 1, "files": ["a.css"]}], "js": []}`, []string{"css[0].name: must be a string"}},
		{
			"every problem is reported",
			`{"css": [{"name": "a", "files": ["a.css", 2]}], "js": [{"name": "b", "files": {}}]}`,
			[]string{"css[0].files[1]: must be a string", "js[0].files: must be an array of strings"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			var got []string
			for _, p := range verr.Problems {
				got = append(got, p.String())
			}
			assert.Equal(t, tt.problems, got)
		})
	}
}

func TestReadFile_WrongShapeCarriesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "static-bundles.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"css": [], "js": [{"name": "x", "files": "a.js"}]}`), 0600))

	_, err := ReadFile(path)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, path, verr.Path)
	assert.Contains(t, err.Error(), "js[0].files: must be an array of strings")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		manifest  Manifest
		locations []string
	}{
		{
			name: "valid",
			manifest: Manifest{
				CSS: []Declaration{{Name: "site", Files: []string{"a.scss"}}},
				JS:  []Declaration{{Name: "site", Files: []string{"a.js"}}},
			},
		},
		{
			name: "same name across kinds is allowed",
			manifest: Manifest{
				CSS: []Declaration{{Name: "home", Files: []string{"a.scss"}}},
				JS:  []Declaration{{Name: "home", Files: []string{"a.js"}}},
			},
		},
		{
			name: "empty name",
			manifest: Manifest{
				JS: []Declaration{{Name: " ", Files: []string{"a.js"}}},
			},
			locations: []string{"js[0].name"},
		},
		{
			name: "name with separator",
			manifest: Manifest{
				CSS: []Declaration{{Name: "pages/home", Files: []string{"a.scss"}}},
			},
			locations: []string{"css[0].name"},
		},
		{
			name: "duplicate name",
			manifest: Manifest{
				JS: []Declaration{
					{Name: "site", Files: []string{"a.js"}},
					{Name: "site", Files: []string{"b.js"}},
				},
			},
			locations: []string{"js[1].name"},
		},
		{
			name: "no files and blank reference",
			manifest: Manifest{
				CSS: []Declaration{{Name: "empty"}},
				JS:  []Declaration{{Name: "site", Files: []string{"a.js", ""}}},
			},
			locations: []string{"css[0].files", "js[0].files[1]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.manifest.Validate()
			if len(tt.locations) == 0 {
				assert.NoError(t, err)
				return
			}

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			var got []string
			for _, p := range verr.Problems {
				got = append(got, p.Location)
			}
			assert.Equal(t, tt.locations, got)
		})
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadFile(filepath.Join(dir, "nope.json"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("invalid file carries path", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"css": [{"name": "", "files": ["a"]}], "js": []}`), 0600))

		_, err := ReadFile(path)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, path, verr.Path)
		assert.Contains(t, err.Error(), path)
	})

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(dir, "static-bundles.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"css": [], "js": [{"name": "site", "files": ["a.js"]}]}`), 0600))

		m, err := ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "site", m.JS[0].Name)
	})
}
