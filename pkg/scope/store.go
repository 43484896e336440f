package scope

import (
	"go.starlark.net/starlark"
)

// valueStore is an insertion-ordered map from names to Starlark values.
// It knows nothing about provenance.
type valueStore struct {
	keys []string
	vals map[string]starlark.Value
}

func newValueStore(size int) *valueStore {
	return &valueStore{
		keys: make([]string, 0, size),
		vals: make(map[string]starlark.Value, size),
	}
}

func (s *valueStore) get(key string) (starlark.Value, bool) {
	v, ok := s.vals[key]
	return v, ok
}

func (s *valueStore) has(key string) bool {
	_, ok := s.vals[key]
	return ok
}

func (s *valueStore) set(key string, v starlark.Value) {
	if _, ok := s.vals[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.vals[key] = v
}

func (s *valueStore) delete(key string) bool {
	if _, ok := s.vals[key]; !ok {
		return false
	}
	delete(s.vals, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
	return true
}

func (s *valueStore) len() int {
	return len(s.keys)
}

// names returns a copy of the keys in insertion order.
func (s *valueStore) names() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}
