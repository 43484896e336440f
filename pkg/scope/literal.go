package scope

import (
	"regexp"
	"sort"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateKey reports whether key may be used in a literal entry: it must be
// identifier-shaped and must not be private.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return newError(KindInvalidKey, nil, "key %q is not a valid identifier", key).WithKey(key)
	}
	if isPrivate(key) {
		return newError(KindInvalidKey, nil, "key %q must not start with an underscore", key).WithKey(key)
	}
	return nil
}

// LiteralEntry contributes a fixed mapping of values, as if a config
// function had assigned each key in turn.
type LiteralEntry struct {
	name   string
	keys   []string
	values map[string]interface{}
}

var _ Entry = (*LiteralEntry)(nil)

// NewLiteral validates values and returns an entry named "literal".
func NewLiteral(values map[string]interface{}) (*LiteralEntry, error) {
	return NewNamedLiteral("literal", values)
}

// NewNamedLiteral validates values and returns an entry with the given name.
// Keys must pass ValidateKey and values must be representable as JSON.
// Values are normalized and copied, so later changes to values do not
// affect the entry.
func NewNamedLiteral(name string, values map[string]interface{}) (*LiteralEntry, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		if err := ValidateKey(k); err != nil {
			return nil, err.(*Error).WithEntry(name)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	normalized := make(map[string]interface{}, len(values))
	for _, k := range keys {
		v, err := Normalize(values[k])
		if err != nil {
			return nil, err.(*Error).WithKey(k).WithEntry(name)
		}
		normalized[k] = v
	}
	return &LiteralEntry{name: name, keys: keys, values: normalized}, nil
}

// Name returns the entry name.
func (l *LiteralEntry) Name() string { return l.name }

// Values returns a copy of the entry's values.
func (l *LiteralEntry) Values() map[string]interface{} {
	return CopyMap(l.values)
}

// Evaluate merges preset, then writes each literal value through the
// tracking namespace so fixed values still win.
func (l *LiteralEntry) Evaluate(fixed, preset, _ map[string]interface{}) (*Summary, error) {
	ns, err := newNamespace(fixed)
	if err != nil {
		return nil, l.tag(err)
	}
	for _, k := range sortedKeys(preset) {
		sv, err := fromGo(preset[k], false)
		if err != nil {
			return nil, l.tag(newError(KindInvalidValue, err, "preset value cannot be used").WithKey(k))
		}
		ns.bind(k, sv)
	}
	ns.mark()

	for _, k := range l.keys {
		sv, err := fromGo(l.values[k], false)
		if err != nil {
			return nil, l.tag(newError(KindInvalidValue, err, "literal value cannot be used").WithKey(k))
		}
		ns.set(k, sv)
	}

	summary := newSummary(l.name)
	ns.summarize(summary)
	if err := ns.harvest(summary, nil); err != nil {
		return nil, l.tag(err)
	}
	return summary, nil
}

func (l *LiteralEntry) tag(err error) error {
	if e, ok := err.(*Error); ok && e.Entry == "" {
		e.Entry = l.name
	}
	return err
}
