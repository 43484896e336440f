package scope

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

const maxConvertDepth = 128

// fromGo converts a plain Go value into a Starlark value. Mappings become
// tracking *Dict values. When fixed is set, every key of every mapping is
// marked authoritative.
func fromGo(v interface{}, fixed bool) (starlark.Value, error) {
	return fromGoDepth(v, fixed, 0)
}

func fromGoDepth(v interface{}, fixed bool, depth int) (starlark.Value, error) {
	if depth > maxConvertDepth {
		return nil, fmt.Errorf("value nested deeper than %d levels", maxConvertDepth)
	}
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return x, nil
	case bool:
		return starlark.Bool(x), nil
	case string:
		return starlark.String(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case float64:
		return makeFloat(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return starlark.MakeInt64(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", x.String())
		}
		return makeFloat(f)
	case []interface{}:
		elems := make([]starlark.Value, len(x))
		for i, e := range x {
			sv, err := fromGoDepth(e, fixed, depth+1)
			if err != nil {
				return nil, err
			}
			elems[i] = sv
		}
		return starlark.NewList(elems), nil
	case map[string]interface{}:
		d := newDict(len(x))
		for _, k := range sortedKeys(x) {
			sv, err := fromGoDepth(x[k], fixed, depth+1)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			d.store.set(k, sv)
			if fixed {
				d.prov.markFixed(k)
			}
		}
		return d, nil
	}
	return fromReflect(reflect.ValueOf(v), fixed, depth)
}

// fromReflect covers named kinds and typed containers that the fast path
// above does not.
func fromReflect(rv reflect.Value, fixed bool, depth int) (starlark.Value, error) {
	switch rv.Kind() {
	case reflect.Bool:
		return starlark.Bool(rv.Bool()), nil
	case reflect.String:
		return starlark.String(rv.String()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return starlark.MakeInt64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d out of range", u)
		}
		return starlark.MakeInt64(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return makeFloat(rv.Float())
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return starlark.None, nil
		}
		return fromGoDepth(rv.Elem().Interface(), fixed, depth+1)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return starlark.NewList(nil), nil
		}
		elems := make([]starlark.Value, rv.Len())
		for i := range elems {
			sv, err := fromGoDepth(rv.Index(i).Interface(), fixed, depth+1)
			if err != nil {
				return nil, err
			}
			elems[i] = sv
		}
		return starlark.NewList(elems), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		d := newDict(len(keys))
		for _, k := range keys {
			mv := rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()))
			sv, err := fromGoDepth(mv.Interface(), fixed, depth+1)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			d.store.set(k, sv)
			if fixed {
				d.prov.markFixed(k)
			}
		}
		return d, nil
	case reflect.Invalid:
		return starlark.None, nil
	}
	return nil, fmt.Errorf("unsupported value of type %s", rv.Type())
}

func makeFloat(f float64) (starlark.Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite float %v", f)
	}
	return starlark.Float(f), nil
}

// toPlain converts a Starlark value into the plain JSON-safe domain:
// nil, bool, int64, float64, string, []interface{} and
// map[string]interface{}. Tuples and sets become lists and structs become
// mappings; everything else is rejected.
func toPlain(v starlark.Value) (interface{}, error) {
	return toPlainDepth(v, 0)
}

func toPlainDepth(v starlark.Value, depth int) (interface{}, error) {
	if depth > maxConvertDepth {
		return nil, fmt.Errorf("value nested deeper than %d levels", maxConvertDepth)
	}
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.String:
		return string(x), nil
	case starlark.Int:
		i, ok := x.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s out of range", x.String())
		}
		return i, nil
	case starlark.Float:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("non-finite float %v", f)
		}
		return f, nil
	case *starlark.List:
		return iterablePlain(x, x.Len(), depth)
	case starlark.Tuple:
		return iterablePlain(x, x.Len(), depth)
	case *starlark.Set:
		return iterablePlain(x, x.Len(), depth)
	case *Dict, *starlark.Dict:
		items, _ := mappingItems(x)
		out := make(map[string]interface{}, len(items))
		for _, item := range items {
			k, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("mapping key %s is not a string", item[0].String())
			}
			pv, err := toPlainDepth(item[1], depth+1)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = pv
		}
		return out, nil
	case *starlarkstruct.Struct:
		names := x.AttrNames()
		out := make(map[string]interface{}, len(names))
		for _, name := range names {
			av, err := x.Attr(name)
			if err != nil {
				return nil, err
			}
			pv, err := toPlainDepth(av, depth+1)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			out[name] = pv
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value of type %s", v.Type())
}

func iterablePlain(x starlark.Iterable, n int, depth int) (interface{}, error) {
	out := make([]interface{}, 0, n)
	it := x.Iterate()
	defer it.Done()
	var elem starlark.Value
	for it.Next(&elem) {
		pv, err := toPlainDepth(elem, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, pv)
	}
	return out, nil
}

// Normalize converts a Go value into the plain domain produced by
// evaluation. It fails for values with no JSON representation.
func Normalize(v interface{}) (interface{}, error) {
	sv, err := fromGo(v, false)
	if err != nil {
		return nil, newError(KindInvalidValue, err, "value cannot be represented as JSON")
	}
	pv, err := toPlain(sv)
	if err != nil {
		return nil, newError(KindInvalidValue, err, "value cannot be represented as JSON")
	}
	return pv, nil
}

// DeepCopy copies the nested maps and slices of a plain value. Leaves are
// shared.
func DeepCopy(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[k] = DeepCopy(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = DeepCopy(e)
		}
		return out
	}
	return v
}

// CopyMap is DeepCopy for a top-level mapping; a nil map yields an empty one.
func CopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return make(map[string]interface{})
	}
	return DeepCopy(m).(map[string]interface{})
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
