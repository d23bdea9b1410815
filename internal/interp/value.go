package interp

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Marshaler lets host types provide their own guest representation.
type Marshaler interface {
	MarshalStarlark() (starlark.Value, error)
}

// MarshalOptions controls host-to-guest conversion.
type MarshalOptions struct {
	// Frozen freezes the converted value, and everything reachable from it.
	Frozen bool
}

// ToValue converts a host value into a guest value.
func (ip *Interpreter) ToValue(v any) (starlark.Value, error) {
	return ip.ToValueWithOptions(v, MarshalOptions{})
}

// ToValueWithOptions converts a host value into a guest value using opts.
func (ip *Interpreter) ToValueWithOptions(v any, opts MarshalOptions) (starlark.Value, error) {
	if ip.isClosed() {
		return nil, ErrClosed
	}
	return ip.toValueLocked(v, opts)
}

func (ip *Interpreter) toValueLocked(v any, opts MarshalOptions) (starlark.Value, error) {
	out, err := toValue(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConversion, err)
	}
	if opts.Frozen {
		out.Freeze()
	}
	return out, nil
}

func toValue(val any) (starlark.Value, error) {
	if m, ok := val.(Marshaler); ok {
		return m.MarshalStarlark()
	}
	switch v := val.(type) {
	case starlark.Value:
		return v, nil
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case int64:
		return starlark.MakeInt64(v), nil
	case uint64:
		return starlark.MakeUint64(v), nil
	case *big.Int:
		if v == nil {
			return starlark.None, nil
		}
		return starlark.MakeBigInt(v), nil
	case float64:
		return starlark.Float(v), nil
	case string:
		return starlark.String(v), nil
	case []byte:
		return starlark.Bytes(v), nil
	case error:
		return starlark.String(v.Error()), nil
	case []any:
		elems := make([]starlark.Value, len(v))
		for i, el := range v {
			mv, err := toValue(el)
			if err != nil {
				return nil, err
			}
			elems[i] = mv
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		d := starlark.NewDict(len(v))
		for _, k := range sortedKeys(v) {
			mv, err := toValue(v[k])
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), mv); err != nil {
				return nil, err
			}
		}
		return d, nil
	}
	return reflectValue(val)
}

func reflectValue(val any) (starlark.Value, error) {
	rv := reflect.ValueOf(val)
	if !rv.IsValid() {
		return starlark.None, nil
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return starlark.None, nil
		}
		return toValue(rv.Elem().Interface())
	case reflect.Bool:
		return starlark.Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return starlark.MakeInt64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return starlark.MakeUint64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return starlark.Float(rv.Float()), nil
	case reflect.String:
		return starlark.String(rv.String()), nil
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return starlark.Bytes(b), nil
		}
		elems := make([]starlark.Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			mv, err := toValue(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			elems[i] = mv
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
		d := starlark.NewDict(len(keys))
		for _, k := range keys {
			mv, err := toValue(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface())
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), mv); err != nil {
				return nil, err
			}
		}
		return d, nil
	case reflect.Struct:
		fields := make(starlark.StringDict, rv.NumField())
		rt := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			field := rt.Field(i)
			if field.PkgPath != "" { // unexported
				continue
			}
			mv, err := toValue(rv.Field(i).Interface())
			if err != nil {
				return nil, err
			}
			fields[field.Name] = mv
		}
		return starlarkstruct.FromStringDict(starlarkstruct.Default, fields), nil
	}
	return nil, fmt.Errorf("unsupported value type %T", val)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FromValue converts a plain guest value (None, bool, int, float, string,
// bytes, list, tuple, dict with string keys, struct) into a host value.
// Integers that fit come back as int64, larger ones as *big.Int.
func FromValue(v starlark.Value) (any, error) {
	switch v := v.(type) {
	case nil, starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(v), nil
	case starlark.Int:
		if n, ok := v.Int64(); ok {
			return n, nil
		}
		return v.BigInt(), nil
	case starlark.Float:
		return float64(v), nil
	case starlark.String:
		return string(v), nil
	case starlark.Bytes:
		return []byte(v), nil
	case *starlark.List:
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			el, err := FromValue(v.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = el
		}
		return out, nil
	case starlark.Tuple:
		out := make([]any, len(v))
		for i, el := range v {
			hv, err := FromValue(el)
			if err != nil {
				return nil, err
			}
			out[i] = hv
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			k, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("%w: dict key %s is not a string", ErrConversion, item[0].Type())
			}
			el, err := FromValue(item[1])
			if err != nil {
				return nil, err
			}
			out[string(k)] = el
		}
		return out, nil
	case *starlarkstruct.Struct:
		d := make(starlark.StringDict)
		v.ToStringDict(d)
		out := make(map[string]any, len(d))
		for k, el := range d {
			hv, err := FromValue(el)
			if err != nil {
				return nil, err
			}
			out[k] = hv
		}
		return out, nil
	case starlark.Callable:
		return nil, fmt.Errorf("%w: %s values have no host form", ErrConversion, v.Type())
	}
	return nil, errors.Join(ErrConversion, fmt.Errorf("unsupported guest type %s", v.Type()))
}
