package scope

import (
	"encoding/json"
	"sort"
)

// KeySet is an unordered set of configuration keys.
type KeySet map[string]struct{}

// NewKeySet builds a set from keys.
func NewKeySet(keys ...string) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Add inserts key into the set.
func (s KeySet) Add(key string) {
	s[key] = struct{}{}
}

// Has reports whether key is in the set.
func (s KeySet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Sorted returns the keys in lexical order.
func (s KeySet) Sorted() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON encodes the set as a sorted array.
func (s KeySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes the set from an array.
func (s *KeySet) UnmarshalJSON(data []byte) error {
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	*s = NewKeySet(keys...)
	return nil
}

// TypeChange records the Starlark type names of a key before and after a
// rebinding.
type TypeChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// Summary is the outcome of evaluating one entry.
type Summary struct {
	// Entry is the name of the evaluated entry.
	Entry string `json:"entry"`

	// Values is the materialized, JSON-safe configuration.
	Values map[string]interface{} `json:"values"`

	// AddedValues holds the keys the entry newly introduced.
	AddedValues KeySet `json:"added_values"`

	// Modified holds the keys (dotted paths for nested mappings) whose
	// authoritative value the entry tried to override.
	Modified KeySet `json:"modified"`

	// TypeChanges maps keys to their type transition.
	TypeChanges map[string]TypeChange `json:"typechanges"`

	// IgnoredFallbackWrites lists names written by the entry that were only
	// resolvable from the read-only fallback layer, in write order. A name
	// appears once, on its first write; later writes see the primary binding
	// created by that first write.
	IgnoredFallbackWrites []string `json:"ignored_fallback_writes"`
}

func newSummary(entry string) *Summary {
	return &Summary{
		Entry:                 entry,
		Values:                make(map[string]interface{}),
		AddedValues:           KeySet{},
		Modified:              KeySet{},
		TypeChanges:           make(map[string]TypeChange),
		IgnoredFallbackWrites: []string{},
	}
}
