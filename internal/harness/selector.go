package harness

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/storeharness/internal/docstore"
)

// Selector is the ordered, de-duplicated set of backend kinds a run
// exercises.
type Selector struct {
	kinds []docstore.Kind
	set   map[docstore.Kind]struct{}
}

// ParseSelector parses a comma separated list such as
// "elasticsearch, memory". Whitespace is ignored, the first occurrence of a
// repeated kind keeps its position, and unknown kinds are an error.
func ParseSelector(s string) (Selector, error) {
	sel := Selector{set: make(map[docstore.Kind]struct{})}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kind, err := docstore.ParseKind(part)
		if err != nil {
			return Selector{}, fmt.Errorf("parsing backend selector %q: %w", s, err)
		}
		if _, dup := sel.set[kind]; dup {
			continue
		}
		sel.set[kind] = struct{}{}
		sel.kinds = append(sel.kinds, kind)
	}
	if len(sel.kinds) == 0 {
		return Selector{}, fmt.Errorf("%w: backend selector %q names no backend", docstore.ErrUnsupportedConfig, s)
	}
	return sel, nil
}

// MustParseSelector is ParseSelector for constant input.
func MustParseSelector(s string) Selector {
	sel, err := ParseSelector(s)
	if err != nil {
		panic(err)
	}
	return sel
}

// Kinds returns the selected kinds in selector order.
func (s Selector) Kinds() []docstore.Kind {
	return append([]docstore.Kind(nil), s.kinds...)
}

// Contains reports whether kind is selected.
func (s Selector) Contains(kind docstore.Kind) bool {
	_, ok := s.set[kind]
	return ok
}

// String returns the canonical form, e.g. "elasticsearch,memory".
func (s Selector) String() string {
	parts := make([]string, len(s.kinds))
	for i, k := range s.kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}
