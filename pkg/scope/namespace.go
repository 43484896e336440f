package scope

import (
	"strings"

	"go.starlark.net/starlark"
)

// namespace is the variable environment of one evaluation. Primary storage
// lives in a tracking *Dict seeded with the fixed layer. Names resolvable
// only from the fallback layer live in a read-only side table, and helper
// globals of the defining module are consulted last.
type namespace struct {
	root     *Dict
	fallback starlark.StringDict
	helpers  starlark.StringDict
	guards   []*listGuard
}

func newNamespace(fixed map[string]interface{}) (*namespace, error) {
	ns := &namespace{
		root:     newDict(len(fixed)),
		fallback: starlark.StringDict{},
		helpers:  starlark.StringDict{},
	}
	for _, k := range sortedKeys(fixed) {
		v, err := fromGo(fixed[k], true)
		if err != nil {
			return nil, newError(KindInvalidValue, err, "fixed value cannot be used").WithKey(k)
		}
		ns.root.store.set(k, v)
		ns.root.prov.markFixed(k)
		ns.guardFixed(v, ns.root.prov, k)
	}
	return ns, nil
}

// listGuard remembers the contents of an authoritative list so that
// in-place mutations by the body can be undone and reported against the
// key that owns the list.
type listGuard struct {
	list  *starlark.List
	elems []starlark.Value
	owner *provenance
	key   string
}

func (g *listGuard) intact() bool {
	if g.list.Len() != len(g.elems) {
		return false
	}
	for i, e := range g.elems {
		if !sameValue(g.list.Index(i), e) {
			return false
		}
	}
	return true
}

func (g *listGuard) reset() error {
	if err := g.list.Clear(); err != nil {
		return err
	}
	for _, e := range g.elems {
		if err := g.list.Append(e); err != nil {
			return err
		}
	}
	return nil
}

func sameValue(x, y starlark.Value) bool {
	switch x.(type) {
	case *starlark.List, *Dict:
		return x == y
	}
	if x.Type() != y.Type() {
		return false
	}
	eq, err := starlark.Equal(x, y)
	return err == nil && eq
}

// guardFixed registers every list reachable from an authoritative value.
func (ns *namespace) guardFixed(v starlark.Value, owner *provenance, key string) {
	switch x := v.(type) {
	case *starlark.List:
		elems := make([]starlark.Value, x.Len())
		for i := range elems {
			elems[i] = x.Index(i)
		}
		ns.guards = append(ns.guards, &listGuard{list: x, elems: elems, owner: owner, key: key})
		for _, e := range elems {
			ns.guardFixed(e, owner, key)
		}
	case *Dict:
		for _, k := range x.store.keys {
			if x.prov.isFixed(k) {
				ns.guardFixed(x.store.vals[k], x.prov, k)
			}
		}
	}
}

// restoreFixed undoes in-place changes to authoritative lists. Each
// restored list marks its owning key as modified.
func (ns *namespace) restoreFixed() error {
	for _, g := range ns.guards {
		if g.intact() {
			continue
		}
		if err := g.reset(); err != nil {
			return err
		}
		g.owner.recordModified(g.key)
	}
	return nil
}

// bind stores v without tracking. Authoritative keys are left alone,
// but keys missing from an authoritative mapping are filled from v.
func (ns *namespace) bind(name string, v starlark.Value) {
	if ns.root.prov.isFixed(name) {
		if nested, ok := ns.root.store.vals[name].(*Dict); ok {
			mergeUntracked(nested, v)
		}
		return
	}
	ns.root.store.set(name, v)
}

func mergeUntracked(d *Dict, v starlark.Value) {
	items, ok := mappingItems(v)
	if !ok {
		return
	}
	for _, item := range items {
		k, ok := starlark.AsString(item[0])
		if !ok {
			continue
		}
		if d.prov.isFixed(k) {
			if nested, ok := d.store.vals[k].(*Dict); ok {
				mergeUntracked(nested, item[1])
			}
			continue
		}
		d.store.set(k, item[1])
	}
}

func (ns *namespace) bindFallback(name string, v starlark.Value) {
	ns.fallback[name] = v
}

// set is the tracked write used by assignments in the body.
func (ns *namespace) set(name string, v starlark.Value) {
	if !ns.root.store.has(name) {
		if _, ok := ns.fallback[name]; ok {
			ns.root.prov.recordFallbackWrite(name)
		}
	}
	ns.root.set(name, v)
}

func (ns *namespace) mark() {
	ns.root.prov.mark(ns.root.store.names())
}

// env builds the lookup environment for one expression. Primary names
// shadow fallback names, which shadow helpers.
func (ns *namespace) env() starlark.StringDict {
	env := make(starlark.StringDict, len(ns.helpers)+len(ns.fallback)+ns.root.store.len())
	for k, v := range ns.helpers {
		env[k] = v
	}
	for k, v := range ns.fallback {
		env[k] = v
	}
	for _, k := range ns.root.store.keys {
		env[k] = ns.root.store.vals[k]
	}
	return env
}

// fillIn adds every preset key the namespace lacks, recursing into nested
// mappings held on both sides. A value already held always wins.
func (ns *namespace) fillIn(preset map[string]interface{}) error {
	return fillMapping(ns.root, preset)
}

func fillMapping(target starlark.Value, preset map[string]interface{}) error {
	for _, k := range sortedKeys(preset) {
		pv := preset[k]
		held, found, err := getKey(target, k)
		if err != nil {
			return err
		}
		if found {
			if nested, ok := pv.(map[string]interface{}); ok && isMapping(held) {
				if err := fillMapping(held, nested); err != nil {
					return err
				}
			}
			continue
		}
		sv, err := fromGo(pv, false)
		if err != nil {
			return newError(KindInvalidValue, err, "preset value cannot be used").WithKey(k)
		}
		switch t := target.(type) {
		case *Dict:
			t.store.set(k, sv)
		case *starlark.Dict:
			if err := t.SetKey(starlark.String(k), sv); err != nil {
				return newError(KindExecution, err, "cannot complete %q from preset", k).WithKey(k)
			}
		}
	}
	return nil
}

func getKey(m starlark.Value, key string) (starlark.Value, bool, error) {
	switch t := m.(type) {
	case *Dict:
		v, ok := t.store.get(key)
		return v, ok, nil
	case *starlark.Dict:
		return t.Get(starlark.String(key))
	}
	return nil, false, nil
}

// summarize records the provenance of the namespace into s.
func (ns *namespace) summarize(s *Summary) {
	for k := range ns.root.prov.added(ns.root.store.names()) {
		if !isPrivate(k) {
			s.AddedValues.Add(k)
		}
	}
	ns.root.collect("", s.Modified, s.TypeChanges, map[*Dict]bool{})
	s.IgnoredFallbackWrites = append(s.IgnoredFallbackWrites, ns.root.prov.fallbackWrites...)
}

// harvest converts every public name into the plain domain. With drop set,
// values that cannot be converted are skipped instead of failing.
func (ns *namespace) harvest(s *Summary, drop func(key string, err error)) error {
	for _, k := range ns.root.store.keys {
		if isPrivate(k) {
			continue
		}
		pv, err := toPlain(ns.root.store.vals[k])
		if err != nil {
			if drop != nil {
				drop(k, err)
				continue
			}
			return newError(KindInvalidValue, err, "value of %q cannot be represented as JSON", k).WithKey(k)
		}
		s.Values[k] = pv
	}
	return nil
}

func isPrivate(name string) bool {
	return strings.HasPrefix(name, "_")
}
