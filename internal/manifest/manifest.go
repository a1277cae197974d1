// Package manifest reads the static bundle manifest.
//
// The manifest is a JSON document with two keys, "css" and "js", each an
// ordered list of bundle declarations:
//
//	{
//	  "css": [{"name": "site", "files": ["css/site.scss"]}],
//	  "js":  [{"name": "site", "files": ["protocol/js/protocol-base.js", "js/site.js"]}]
//	}
//
// Manifests are authored by hand, so // comments, /* block comments */ and
// trailing commas are accepted and stripped before decoding.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// DefaultPath is where the manifest lives relative to the project root.
const DefaultPath = "media/static-bundles.json"

// ErrNotFound is returned when the manifest file does not exist.
var ErrNotFound = errors.New("manifest: not found")

// Declaration is one named bundle: an ordered list of file references.
// Order is significant: it is the concatenation order of the output.
type Declaration struct {
	Name  string   `json:"name"`
	Files []string `json:"files"`
}

// Manifest holds the bundle declarations of both kinds.
type Manifest struct {
	CSS []Declaration `json:"css"`
	JS  []Declaration `json:"js"`
}

// Parse strips JSONC comments and trailing commas from data, decodes it and
// validates the result. Both top-level keys must be present, even if empty.
// Values of the wrong JSON type are reported as problems at their location.
func Parse(data []byte) (*Manifest, error) {
	stripped := jsonc.ToJSON(data)
	if !json.Valid(stripped) {
		var v interface{}
		return nil, fmt.Errorf("parsing manifest: %w", json.Unmarshal(stripped, &v))
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(stripped, &keys); err != nil {
		return nil, &ValidationError{Problems: []Problem{{Location: "$", Message: "manifest must be an object"}}}
	}

	var (
		m        Manifest
		problems []Problem
	)
	for _, kind := range []struct {
		key   string
		decls *[]Declaration
	}{{"css", &m.CSS}, {"js", &m.JS}} {
		raw, ok := keys[kind.key]
		if !ok {
			problems = append(problems, Problem{Location: kind.key, Message: "missing required key"})
			continue
		}
		decls, declProblems := decodeKind(kind.key, raw)
		*kind.decls = decls
		problems = append(problems, declProblems...)
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// decodeKind decodes one top-level list, element by element, so a value of
// the wrong type is reported with its exact location.
func decodeKind(key string, raw json.RawMessage) ([]Declaration, []Problem) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, []Problem{{Location: key, Message: "must be an array of bundle declarations"}}
	}

	var problems []Problem
	decls := make([]Declaration, 0, len(items))
	for i, item := range items {
		loc := fmt.Sprintf("%s[%d]", key, i)

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
			problems = append(problems, Problem{Location: loc, Message: "must be an object with name and files"})
			continue
		}

		var d Declaration
		if raw, ok := fields["name"]; ok {
			if err := json.Unmarshal(raw, &d.Name); err != nil {
				problems = append(problems, Problem{Location: loc + ".name", Message: "must be a string"})
			}
		}
		if raw, ok := fields["files"]; ok {
			var files []json.RawMessage
			if err := json.Unmarshal(raw, &files); err != nil {
				problems = append(problems, Problem{Location: loc + ".files", Message: "must be an array of strings"})
			}
			for j, f := range files {
				var ref string
				if err := json.Unmarshal(f, &ref); err != nil {
					problems = append(problems, Problem{Location: fmt.Sprintf("%s.files[%d]", loc, j), Message: "must be a string"})
					continue
				}
				d.Files = append(d.Files, ref)
			}
		}
		decls = append(decls, d)
	}
	return decls, problems
}

// ReadFile reads and parses the manifest at path. A missing file is
// reported as ErrNotFound; validation failures carry the path.
func ReadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Path = path
			return nil, verr
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Len returns the total number of declarations.
func (m *Manifest) Len() int {
	return len(m.CSS) + len(m.JS)
}
