package bundle

import (
	"context"
	"fmt"
	"sort"

	"github.com/fluxbase-eu/mediapack/internal/manifest"
	"github.com/fluxbase-eu/mediapack/internal/resolve"
)

// Resolved is a bundle with its files mapped to absolute paths, in
// declared order.
type Resolved struct {
	ID    ID       `json:"id"`
	Files []string `json:"files"`
}

// Graph maps each bundle to its resolved files. It is built fresh for every
// build and discarded afterwards.
type Graph map[ID]Resolved

// Sorted returns the bundles ordered by kind, then name.
func (g Graph) Sorted() []Resolved {
	out := make([]Resolved, 0, len(g))
	for _, r := range g {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID.Kind != out[j].ID.Kind {
			return out[i].ID.Kind < out[j].ID.Kind
		}
		return out[i].ID.Name < out[j].ID.Name
	})
	return out
}

// Select returns the bundles named by ids, or every bundle when ids is
// empty. Unknown ids are an error.
func (g Graph) Select(ids []string) ([]Resolved, error) {
	if len(ids) == 0 {
		return g.Sorted(), nil
	}
	out := make([]Resolved, 0, len(ids))
	for _, s := range ids {
		id, err := ParseID(s)
		if err != nil {
			return nil, err
		}
		r, ok := g[id]
		if !ok {
			return nil, fmt.Errorf("unknown bundle %q", s)
		}
		out = append(out, r)
	}
	return out, nil
}

// EntryFunc supplies the entry graph on demand. The pipeline calls it at
// the start of every build, so watch-mode rebuilds pick up manifest edits.
type EntryFunc func(ctx context.Context) (Graph, error)

// Static returns an EntryFunc that always yields g.
func Static(g Graph) EntryFunc {
	return func(context.Context) (Graph, error) {
		return g, nil
	}
}

// FromManifest resolves every declaration in m. The manifest is validated
// first; the graph is returned whole or not at all.
func FromManifest(m *manifest.Manifest, r *resolve.Resolver) (Graph, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	g := make(Graph, m.Len())
	add := func(kind Kind, decls []manifest.Declaration) {
		for _, d := range decls {
			id := NewID(d.Name, kind)
			g[id] = Resolved{ID: id, Files: r.ResolveAll(d.Files)}
		}
	}
	add(KindStyle, m.CSS)
	add(KindScript, m.JS)
	return g, nil
}

// GraphBuilder assembles the entry graph from the manifest on disk.
type GraphBuilder struct {
	manifestPath string
	resolver     *resolve.Resolver
}

// NewGraphBuilder creates a builder reading the manifest at manifestPath.
func NewGraphBuilder(manifestPath string, resolver *resolve.Resolver) *GraphBuilder {
	return &GraphBuilder{
		manifestPath: manifestPath,
		resolver:     resolver,
	}
}

// Build reads the manifest and resolves every bundle.
func (b *GraphBuilder) Build(ctx context.Context) (Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := manifest.ReadFile(b.manifestPath)
	if err != nil {
		return nil, err
	}
	return FromManifest(m, b.resolver)
}

// Entries returns Build as an EntryFunc.
func (b *GraphBuilder) Entries() EntryFunc {
	return b.Build
}
