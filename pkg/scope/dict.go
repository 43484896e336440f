package scope

import (
	"fmt"
	"sort"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Dict is the tracking mapping used for every mapping that enters an
// evaluation from the layered inputs. Keys are strings. Values are reachable
// both as d["key"] and d.key, and writes to authoritative keys are reverted
// and recorded instead of applied.
type Dict struct {
	store  *valueStore
	prov   *provenance
	frozen bool
}

var (
	_ starlark.IterableMapping = (*Dict)(nil)
	_ starlark.HasSetKey       = (*Dict)(nil)
	_ starlark.HasAttrs        = (*Dict)(nil)
	_ starlark.HasSetField     = (*Dict)(nil)
	_ starlark.Sequence        = (*Dict)(nil)
	_ starlark.Comparable      = (*Dict)(nil)
)

// NewDict returns an empty tracking mapping.
func NewDict() *Dict {
	return newDict(0)
}

func newDict(size int) *Dict {
	return &Dict{
		store: newValueStore(size),
		prov:  newProvenance(),
	}
}

// String implements starlark.Value.
func (d *Dict) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range d.store.keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(starlark.String(k).String())
		b.WriteString(": ")
		b.WriteString(d.store.vals[k].String())
	}
	b.WriteByte('}')
	return b.String()
}

// Type implements starlark.Value.
func (d *Dict) Type() string { return "dict" }

// Freeze implements starlark.Value.
func (d *Dict) Freeze() {
	if d.frozen {
		return
	}
	d.frozen = true
	for _, v := range d.store.vals {
		v.Freeze()
	}
}

// Truth implements starlark.Value.
func (d *Dict) Truth() starlark.Bool { return d.store.len() > 0 }

// Hash implements starlark.Value.
func (d *Dict) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: dict")
}

// Len implements starlark.Sequence.
func (d *Dict) Len() int { return d.store.len() }

// Iterate implements starlark.Iterable. It iterates over a snapshot of the
// keys, so the body may write to the mapping while looping over it.
func (d *Dict) Iterate() starlark.Iterator {
	return &dictIterator{keys: d.store.names()}
}

// Items implements starlark.IterableMapping.
func (d *Dict) Items() []starlark.Tuple {
	items := make([]starlark.Tuple, 0, d.store.len())
	for _, k := range d.store.keys {
		items = append(items, starlark.Tuple{starlark.String(k), d.store.vals[k]})
	}
	return items
}

// Get implements starlark.Mapping.
func (d *Dict) Get(k starlark.Value) (starlark.Value, bool, error) {
	key, ok := k.(starlark.String)
	if !ok {
		return nil, false, nil
	}
	v, found := d.store.get(string(key))
	return v, found, nil
}

// SetKey implements starlark.HasSetKey.
func (d *Dict) SetKey(k, v starlark.Value) error {
	key, ok := starlark.AsString(k)
	if !ok {
		return fmt.Errorf("config keys must be strings, got %s", k.Type())
	}
	return d.assign(key, v)
}

// Attr implements starlark.HasAttrs. Keys shadow the mapping methods.
func (d *Dict) Attr(name string) (starlark.Value, error) {
	if v, ok := d.store.get(name); ok {
		return v, nil
	}
	if m, ok := dictMethods[name]; ok {
		return m.BindReceiver(d), nil
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (d *Dict) AttrNames() []string {
	names := d.store.names()
	for name := range dictMethods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetField implements starlark.HasSetField.
func (d *Dict) SetField(name string, v starlark.Value) error {
	return d.assign(name, v)
}

// CompareSameType implements starlark.Comparable.
func (d *Dict) CompareSameType(op syntax.Token, y starlark.Value, depth int) (bool, error) {
	switch op {
	case syntax.EQL:
		return deepEqual(d, y, depth)
	case syntax.NEQ:
		eq, err := deepEqual(d, y, depth)
		return !eq, err
	default:
		return false, fmt.Errorf("%s %s %s not implemented", d.Type(), op, y.Type())
	}
}

func (d *Dict) assign(key string, v starlark.Value) error {
	if d.frozen {
		return fmt.Errorf("cannot insert into frozen dict")
	}
	d.set(key, v)
	return nil
}

// set is the tracked write path shared by the namespace and nested
// mappings.
func (d *Dict) set(key string, v starlark.Value) {
	if d.prov.isFixed(key) {
		d.block(key, v)
		return
	}
	if old, ok := d.store.get(key); ok {
		d.prov.recordRebind(key, old, v)
	}
	d.store.set(key, v)
}

// block handles a write to an authoritative key. The stored value is kept;
// a mapping written over an authoritative mapping is merged into it key by
// key so each nested key is judged on its own.
func (d *Dict) block(key string, attempted starlark.Value) {
	current, _ := d.store.get(key)
	if nested, ok := current.(*Dict); ok {
		if items, ok := mappingItems(attempted); ok {
			for _, item := range items {
				k, ok := starlark.AsString(item[0])
				if !ok {
					continue
				}
				nested.set(k, item[1])
			}
			return
		}
	}
	d.prov.recordRebind(key, attempted, current)
	if eq, err := deepEqual(attempted, current, maxCompareDepth); err != nil || !eq {
		d.prov.recordModified(key)
	}
}

// collect gathers modified keys and type changes of d and every tracking
// mapping below it, prefixing nested keys with their dotted path.
func (d *Dict) collect(prefix string, modified KeySet, typechanges map[string]TypeChange, seen map[*Dict]bool) {
	if seen[d] {
		return
	}
	seen[d] = true
	for k := range d.prov.modified {
		modified.Add(prefix + k)
	}
	for k, tc := range d.prov.typechanges {
		typechanges[prefix+k] = tc
	}
	for _, k := range d.store.keys {
		if nested, ok := d.store.vals[k].(*Dict); ok {
			nested.collect(prefix+k+".", modified, typechanges, seen)
		}
	}
}

type dictIterator struct {
	keys []string
	i    int
}

func (it *dictIterator) Next(p *starlark.Value) bool {
	if it.i >= len(it.keys) {
		return false
	}
	*p = starlark.String(it.keys[it.i])
	it.i++
	return true
}

func (it *dictIterator) Done() {}

var dictMethods = map[string]*starlark.Builtin{
	"get":        starlark.NewBuiltin("get", dictGet),
	"items":      starlark.NewBuiltin("items", dictItems),
	"keys":       starlark.NewBuiltin("keys", dictKeys),
	"values":     starlark.NewBuiltin("values", dictValues),
	"update":     starlark.NewBuiltin("update", dictUpdate),
	"setdefault": starlark.NewBuiltin("setdefault", dictSetdefault),
}

func dictGet(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key, dflt starlark.Value = nil, starlark.None
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key, &dflt); err != nil {
		return nil, err
	}
	d := b.Receiver().(*Dict)
	if v, found, _ := d.Get(key); found {
		return v, nil
	}
	return dflt, nil
}

func dictItems(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	items := b.Receiver().(*Dict).Items()
	out := make([]starlark.Value, len(items))
	for i, item := range items {
		out[i] = item
	}
	return starlark.NewList(out), nil
}

func dictKeys(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	d := b.Receiver().(*Dict)
	out := make([]starlark.Value, 0, d.Len())
	for _, k := range d.store.keys {
		out = append(out, starlark.String(k))
	}
	return starlark.NewList(out), nil
}

func dictValues(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	d := b.Receiver().(*Dict)
	out := make([]starlark.Value, 0, d.Len())
	for _, k := range d.store.keys {
		out = append(out, d.store.vals[k])
	}
	return starlark.NewList(out), nil
}

func dictUpdate(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var other starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 0, &other); err != nil {
		return nil, err
	}
	d := b.Receiver().(*Dict)
	if other != nil {
		items, ok := mappingItems(other)
		if !ok {
			return nil, fmt.Errorf("update: got %s, want dict", other.Type())
		}
		for _, item := range items {
			if err := d.SetKey(item[0], item[1]); err != nil {
				return nil, err
			}
		}
	}
	for _, kv := range kwargs {
		if err := d.SetKey(kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	return starlark.None, nil
}

func dictSetdefault(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key, dflt starlark.Value = nil, starlark.None
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key, &dflt); err != nil {
		return nil, err
	}
	d := b.Receiver().(*Dict)
	if v, found, _ := d.Get(key); found {
		return v, nil
	}
	if err := d.SetKey(key, dflt); err != nil {
		return nil, err
	}
	v, _, _ := d.Get(key)
	return v, nil
}

// mappingItems returns the items of any Starlark mapping value.
func mappingItems(v starlark.Value) ([]starlark.Tuple, bool) {
	switch m := v.(type) {
	case *Dict:
		return m.Items(), true
	case *starlark.Dict:
		return m.Items(), true
	}
	return nil, false
}

const maxCompareDepth = 64

// deepEqual compares values structurally, treating the two mapping
// representations as interchangeable.
func deepEqual(x, y starlark.Value, depth int) (bool, error) {
	if depth < 1 {
		return false, fmt.Errorf("comparison exceeded maximum recursion depth")
	}
	xi, xok := mappingItems(x)
	yi, yok := mappingItems(y)
	if !xok || !yok {
		if xok != yok {
			return false, nil
		}
		return starlark.EqualDepth(x, y, depth)
	}
	if len(xi) != len(yi) {
		return false, nil
	}
	ym := make(map[string]starlark.Value, len(yi))
	for _, item := range yi {
		k, ok := starlark.AsString(item[0])
		if !ok {
			return false, nil
		}
		ym[k] = item[1]
	}
	for _, item := range xi {
		k, ok := starlark.AsString(item[0])
		if !ok {
			return false, nil
		}
		yv, found := ym[k]
		if !found {
			return false, nil
		}
		eq, err := deepEqual(item[1], yv, depth-1)
		if err != nil || !eq {
			return false, err
		}
	}
	return true, nil
}
