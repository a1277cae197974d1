// Package assets records what a build wrote: the asset manifest
// (assets.json) with a content hash per output, and precompressed
// siblings of each output.
package assets

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zeebo/blake3"

	"github.com/fluxbase-eu/mediapack/internal/bundle"
)

// ManifestFile is the asset manifest's file name inside the output root.
const ManifestFile = "assets.json"

// Hash returns the hex BLAKE3 digest of data.
func Hash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Entry describes one bundle output.
type Entry struct {
	// Path is relative to the output root, slash-separated.
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
	Hash  string `json:"hash"`
	// Encodings lists precompressed siblings, e.g. "gzip" for Path+".gz".
	Encodings []string `json:"encodings,omitempty"`
}

// Manifest maps bundle IDs to their outputs.
type Manifest struct {
	Mode    string              `json:"mode"`
	Built   time.Time           `json:"built"`
	Entries map[bundle.ID]Entry `json:"entries"`
}

// NewManifest creates an empty manifest.
func NewManifest(mode string) *Manifest {
	return &Manifest{
		Mode:    mode,
		Built:   time.Now().UTC(),
		Entries: make(map[bundle.ID]Entry),
	}
}

// Paths returns every file the manifest references, including
// precompressed siblings, sorted.
func (m *Manifest) Paths() []string {
	var out []string
	for _, e := range m.Entries {
		out = append(out, e.Path)
		for _, enc := range e.Encodings {
			if ext, ok := encodingExt[enc]; ok {
				out = append(out, e.Path+ext)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Lookup returns the entry whose output path is path.
func (m *Manifest) Lookup(path string) (bundle.ID, Entry, bool) {
	for id, e := range m.Entries {
		if e.Path == path {
			return id, e, true
		}
	}
	return bundle.ID{}, Entry{}, false
}

// Write stores the manifest in dir, replacing any previous one atomically.
func (m *Manifest) Write(dir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding asset manifest: %w", err)
	}
	return WriteFileAtomic(filepath.Join(dir, ManifestFile), append(data, '\n'))
}

// ReadManifest loads the manifest from dir.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading asset manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if m.Entries == nil {
		m.Entries = make(map[bundle.ID]Entry)
	}
	return &m, nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it into place, so readers (the dev server, a browser reload) never see a
// half-written output.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil { //nolint:gosec // output directory
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil { //nolint:gosec // served static assets
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
