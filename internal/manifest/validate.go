package manifest

import (
	"fmt"
	"strings"
)

// Problem is a single manifest defect with its JSON location, for example
// "js[2].files[0]".
type Problem struct {
	Location string
	Message  string
}

func (p Problem) String() string {
	return p.Location + ": " + p.Message
}

// ValidationError lists every problem found in a manifest.
type ValidationError struct {
	Path     string
	Problems []Problem
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid manifest")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	for i, p := range e.Problems {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(p.String())
	}
	return b.String()
}

// Validate checks every declaration. Names must be non-empty, unique within
// their kind and usable as a file name. Every bundle needs at least one
// file and no file reference may be blank.
func (m *Manifest) Validate() error {
	var problems []Problem
	problems = append(problems, validateKind("css", m.CSS)...)
	problems = append(problems, validateKind("js", m.JS)...)
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func validateKind(key string, decls []Declaration) []Problem {
	var problems []Problem
	seen := make(map[string]int, len(decls))

	for i, d := range decls {
		loc := fmt.Sprintf("%s[%d]", key, i)

		switch {
		case strings.TrimSpace(d.Name) == "":
			problems = append(problems, Problem{Location: loc + ".name", Message: "empty bundle name"})
		case strings.ContainsAny(d.Name, `/\`) || d.Name == "." || d.Name == "..":
			problems = append(problems, Problem{Location: loc + ".name", Message: fmt.Sprintf("bundle name %q is not a valid file name", d.Name)})
		default:
			if first, dup := seen[d.Name]; dup {
				problems = append(problems, Problem{
					Location: loc + ".name",
					Message:  fmt.Sprintf("duplicate bundle name %q (first declared at %s[%d])", d.Name, key, first),
				})
			} else {
				seen[d.Name] = i
			}
		}

		if len(d.Files) == 0 {
			problems = append(problems, Problem{Location: loc + ".files", Message: "bundle has no files"})
		}
		for j, f := range d.Files {
			if strings.TrimSpace(f) == "" {
				problems = append(problems, Problem{Location: fmt.Sprintf("%s.files[%d]", loc, j), Message: "empty file reference"})
			}
		}
	}
	return problems
}
