package assets

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/mediapack/internal/bundle"
)

func TestHash(t *testing.T) {
	a := Hash([]byte("body{color:red}"))
	b := Hash([]byte("body{color:red}"))
	c := Hash([]byte("body{color:blue}"))

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestManifest_WriteRead(t *testing.T) {
	dir := t.TempDir()

	m := NewManifest("production")
	m.Entries[bundle.NewID("site", bundle.KindStyle)] = Entry{Path: "css/site.css", Bytes: 10, Hash: "abc", Encodings: []string{EncodingGzip, EncodingZstd}}
	m.Entries[bundle.NewID("site", bundle.KindScript)] = Entry{Path: "js/site.js", Bytes: 20, Hash: "def"}
	require.NoError(t, m.Write(dir))

	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"site--scss"`)
	assert.Contains(t, string(raw), `"site--js"`)

	got, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "production", got.Mode)
	assert.Equal(t, m.Entries, got.Entries)

	assert.Equal(t, []string{"css/site.css", "css/site.css.gz", "css/site.css.zst", "js/site.js"}, got.Paths())

	id, entry, ok := got.Lookup("js/site.js")
	require.True(t, ok)
	assert.Equal(t, bundle.NewID("site", bundle.KindScript), id)
	assert.Equal(t, 20, entry.Bytes)

	_, _, ok = got.Lookup("js/other.js")
	assert.False(t, ok)
}

func TestReadManifest_Missing(t *testing.T) {
	_, err := ReadManifest(t.TempDir())
	assert.Error(t, err)
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "js", "site.js")

	require.NoError(t, WriteFileAtomic(path, []byte("one")))
	require.NoError(t, WriteFileAtomic(path, []byte("two")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestPrecompress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "site.js")
	data := []byte(strings.Repeat("var a = 1;\n", 200))
	require.NoError(t, os.WriteFile(path, data, 0600))

	encs, err := Precompress(path, data)
	require.NoError(t, err)
	assert.Equal(t, []string{EncodingGzip, EncodingZstd}, encs)

	gz, err := os.ReadFile(path + ".gz")
	require.NoError(t, err)
	assert.Less(t, len(gz), len(data))
	r, err := gzip.NewReader(bytes.NewReader(gz))
	require.NoError(t, err)
	plain, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, plain)

	zs, err := os.ReadFile(path + ".zst")
	require.NoError(t, err)
	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	plain, err = dec.DecodeAll(zs, nil)
	require.NoError(t, err)
	assert.Equal(t, data, plain)
}

func TestEncodingForExt(t *testing.T) {
	assert.Equal(t, EncodingGzip, EncodingForExt(".gz"))
	assert.Equal(t, EncodingZstd, EncodingForExt(".zst"))
	assert.Equal(t, "", EncodingForExt(".js"))
}
