// Package bundle defines bundle identity and the entry graph consumed by
// the build pipeline.
package bundle

import (
	"fmt"
	"strings"
)

// Kind is the bundle kind. It decides the transform pipeline, the output
// directory and extension, and the identifier suffix.
type Kind int

const (
	KindStyle Kind = iota
	KindScript
)

// Kinds lists every kind in build order.
var Kinds = []Kind{KindStyle, KindScript}

func (k Kind) String() string {
	switch k {
	case KindStyle:
		return "style"
	case KindScript:
		return "script"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Suffix is the identifier suffix: "scss" for style bundles, "js" for
// script bundles.
func (k Kind) Suffix() string {
	switch k {
	case KindStyle:
		return "scss"
	case KindScript:
		return "js"
	default:
		return ""
	}
}

// ManifestKey is the top-level manifest key holding bundles of this kind.
func (k Kind) ManifestKey() string {
	switch k {
	case KindStyle:
		return "css"
	case KindScript:
		return "js"
	default:
		return ""
	}
}

// Ext is the output file extension.
func (k Kind) Ext() string {
	return "." + k.ManifestKey()
}

// ParseKind accepts the kind name, its suffix or its manifest key.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "style", "css", "scss":
		return KindStyle, nil
	case "script", "js":
		return KindScript, nil
	default:
		return 0, fmt.Errorf("unknown bundle kind %q (valid: style, script)", s)
	}
}

// separator joins the bundle name and kind suffix in an identifier.
const separator = "--"

// ID identifies a bundle across every stage of the build: output paths,
// intermediate artifacts, the asset manifest, logs and metrics all key on
// it. It is built once per declaration and passed around as a value, never
// re-derived from strings.
type ID struct {
	Name string
	Kind Kind
}

// NewID returns the identifier of the bundle called name.
func NewID(name string, kind Kind) ID {
	return ID{Name: name, Kind: kind}
}

// String returns "<name>--<suffix>", e.g. "site--scss" or "site--js".
func (id ID) String() string {
	return id.Name + separator + id.Kind.Suffix()
}

// ParseID is the inverse of String. The suffix is split at the last
// separator, so names may themselves contain "--".
func ParseID(s string) (ID, error) {
	i := strings.LastIndex(s, separator)
	if i <= 0 {
		return ID{}, fmt.Errorf("invalid bundle id %q: want <name>--<kind>", s)
	}
	kind, err := ParseKind(s[i+len(separator):])
	if err != nil {
		return ID{}, fmt.Errorf("invalid bundle id %q: %w", s, err)
	}
	return NewID(s[:i], kind), nil
}

// MarshalText lets IDs key JSON objects.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the form produced by MarshalText.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
