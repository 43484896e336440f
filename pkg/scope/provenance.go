package scope

import (
	"go.starlark.net/starlark"
)

// provenance records where the keys of one mapping came from and what
// happened to them. It never holds values.
type provenance struct {
	fixed          map[string]bool
	baseline       map[string]bool
	modified       KeySet
	typechanges    map[string]TypeChange
	fallbackWrites []string
}

func newProvenance() *provenance {
	return &provenance{
		fixed:       make(map[string]bool),
		modified:    KeySet{},
		typechanges: make(map[string]TypeChange),
	}
}

func (p *provenance) markFixed(key string) {
	p.fixed[key] = true
}

func (p *provenance) isFixed(key string) bool {
	return p.fixed[key]
}

func (p *provenance) hasFixed() bool {
	return len(p.fixed) > 0
}

// mark records keys as the baseline that added values are measured against.
func (p *provenance) mark(keys []string) {
	p.baseline = make(map[string]bool, len(keys))
	for _, k := range keys {
		p.baseline[k] = true
	}
}

// added returns the keys that are not part of the baseline.
func (p *provenance) added(keys []string) KeySet {
	out := KeySet{}
	for _, k := range keys {
		if !p.baseline[k] {
			out.Add(k)
		}
	}
	return out
}

func (p *provenance) recordModified(key string) {
	p.modified.Add(key)
}

// recordRebind notes a type transition if old and new differ in type.
func (p *provenance) recordRebind(key string, old, new starlark.Value) {
	if typeChanged(old, new) {
		p.typechanges[key] = TypeChange{Old: typeName(old), New: typeName(new)}
	}
}

func (p *provenance) recordFallbackWrite(key string) {
	p.fallbackWrites = append(p.fallbackWrites, key)
}

// typeChanged reports whether replacing old with new counts as a type
// change. Sequences may swap list and tuple, mappings may swap
// representation, and ints may widen to floats.
func typeChanged(old, new starlark.Value) bool {
	if isSequence(old) && isSequence(new) {
		return false
	}
	if isMapping(old) && isMapping(new) {
		return false
	}
	if _, ok := old.(starlark.Int); ok {
		if _, ok := new.(starlark.Float); ok {
			return false
		}
	}
	return typeName(old) != typeName(new)
}

func typeName(v starlark.Value) string {
	if v == nil {
		return "NoneType"
	}
	return v.Type()
}

func isSequence(v starlark.Value) bool {
	switch v.(type) {
	case *starlark.List, starlark.Tuple:
		return true
	}
	return false
}

func isMapping(v starlark.Value) bool {
	switch v.(type) {
	case *Dict, *starlark.Dict:
		return true
	}
	return false
}
