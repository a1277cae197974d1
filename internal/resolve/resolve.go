// Package resolve maps manifest file references to filesystem paths.
package resolve

import (
	"path/filepath"
	"strings"
)

// DefaultVendorPrefix marks references into the vendored design-system
// package.
const DefaultVendorPrefix = "protocol/"

// Resolver resolves file references. References carrying the vendor prefix
// live inside the installed design-system package; everything else is
// project media.
//
// Resolution never fails: a reference to a file that does not exist comes
// back as a path, and the read fails later in the pipeline.
type Resolver struct {
	MediaDir     string
	VendorDir    string
	VendorPrefix string
}

// New creates a resolver. Relative media and vendor directories are taken
// relative to root.
func New(root, mediaDir, vendorDir string) *Resolver {
	return &Resolver{
		MediaDir:     absJoin(root, mediaDir),
		VendorDir:    absJoin(root, vendorDir),
		VendorPrefix: DefaultVendorPrefix,
	}
}

// IsVendored reports whether ref points into the vendored package.
func (r *Resolver) IsVendored(ref string) bool {
	return r.VendorPrefix != "" && strings.HasPrefix(filepath.ToSlash(ref), r.VendorPrefix)
}

// Resolve returns the absolute path for ref. A vendored reference keeps its
// prefix: "protocol/css/base.scss" becomes
// "<vendor>/protocol/css/base.scss", which is how the package lays out its
// sources.
func (r *Resolver) Resolve(ref string) string {
	if r.IsVendored(ref) {
		return filepath.Join(r.VendorDir, filepath.FromSlash(ref))
	}
	return filepath.Join(r.MediaDir, filepath.FromSlash(ref))
}

// ResolveAll resolves refs in order.
func (r *Resolver) ResolveAll(refs []string) []string {
	out := make([]string, len(refs))
	for i, ref := range refs {
		out[i] = r.Resolve(ref)
	}
	return out
}

func absJoin(root, dir string) string {
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return filepath.Clean(dir)
}
