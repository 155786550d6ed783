package api

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Axis is one matrix dimension: a name and the values jobs fan out over.
type Axis struct {
	Name   string
	Values []string
}

// Matrix describes the cartesian job fan-out of a workflow.
//
// Entries are produced in axis order, so the first axis varies slowest.
// Exclude removes product entries that match all of an exclusion's pairs.
// Include either extends matching entries with extra keys or, when no
// product entry matches, appends a new standalone entry.
type Matrix struct {
	Axes    []Axis
	Exclude []map[string]string
	Include []map[string]string
}

// IsZero reports whether the matrix declares no axes and no includes.
func (m Matrix) IsZero() bool {
	return len(m.Axes) == 0 && len(m.Include) == 0
}

// Entry is one point of the matrix: axis name -> value.
type Entry map[string]string

// Key returns a deterministic identifier for the entry, with pairs in
// sorted key order: "os=ubuntu-latest,python=3.11". The empty entry has
// the key "default".
func (e Entry) Key() string {
	if len(e) == 0 {
		return "default"
	}
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+e[k])
	}
	return strings.Join(parts, ",")
}

// clone returns a copy so entries never alias each other.
func (e Entry) clone() Entry {
	out := make(Entry, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

var matrixRef = regexp.MustCompile(`\$\{\{\s*matrix\.([A-Za-z0-9_-]+)\s*\}\}`)

// Expand replaces "${{ matrix.NAME }}" references in s with the entry's
// values. Unknown references are left untouched.
func (e Entry) Expand(s string) string {
	return matrixRef.ReplaceAllStringFunc(s, func(ref string) string {
		name := matrixRef.FindStringSubmatch(ref)[1]
		if v, ok := e[name]; ok {
			return v
		}
		return ref
	})
}

// Entries expands the matrix into its scheduled entries: the cartesian
// product of the axes in declaration order, minus exclusions, plus
// inclusions. A zero matrix yields a single empty entry so that a
// workflow without a matrix still schedules exactly one job.
func (m Matrix) Entries() ([]Entry, error) {
	seen := make(map[string]bool, len(m.Axes))
	for _, ax := range m.Axes {
		if ax.Name == "" {
			return nil, fmt.Errorf("matrix axis with empty name")
		}
		if len(ax.Values) == 0 {
			return nil, fmt.Errorf("matrix axis %q has no values", ax.Name)
		}
		if seen[ax.Name] {
			return nil, fmt.Errorf("duplicate matrix axis %q", ax.Name)
		}
		seen[ax.Name] = true
	}

	entries := []Entry{{}}
	for _, ax := range m.Axes {
		next := make([]Entry, 0, len(entries)*len(ax.Values))
		for _, base := range entries {
			for _, v := range ax.Values {
				e := base.clone()
				e[ax.Name] = v
				next = append(next, e)
			}
		}
		entries = next
	}

	if len(m.Exclude) > 0 {
		kept := entries[:0]
		for _, e := range entries {
			if !matchesAny(e, m.Exclude) {
				kept = append(kept, e)
			}
		}
		entries = kept
	}

	for _, inc := range m.Include {
		extra, matched := splitInclude(inc, seen)
		if matched != nil {
			found := false
			for _, e := range entries {
				if matches(e, matched) {
					found = true
					for k, v := range extra {
						e[k] = v
					}
				}
			}
			if found {
				continue
			}
		}
		// No entry to extend: the include stands alone as its own entry.
		e := Entry{}
		for k, v := range inc {
			e[k] = v
		}
		entries = append(entries, e)
	}

	if len(m.Axes) > 0 && len(entries) == 0 {
		return nil, fmt.Errorf("matrix excludes eliminated every entry")
	}

	return entries, nil
}

// splitInclude separates an include map into the pairs that address known
// axes (used for matching) and the extra pairs to merge in. matched is nil
// when the include addresses no axis at all.
func splitInclude(inc map[string]string, axes map[string]bool) (extra, matched map[string]string) {
	extra = make(map[string]string)
	for k, v := range inc {
		if axes[k] {
			if matched == nil {
				matched = make(map[string]string)
			}
			matched[k] = v
		} else {
			extra[k] = v
		}
	}
	return extra, matched
}

func matches(e Entry, sel map[string]string) bool {
	for k, v := range sel {
		if e[k] != v {
			return false
		}
	}
	return true
}

func matchesAny(e Entry, sels []map[string]string) bool {
	for _, sel := range sels {
		if matches(e, sel) {
			return true
		}
	}
	return false
}
