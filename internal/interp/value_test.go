package interp

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

type point struct {
	X, Y   int
	Label  string
	hidden bool
}

type celsius float64

func (c celsius) MarshalStarlark() (starlark.Value, error) {
	return starlark.String("temp"), nil
}

func TestToValue(t *testing.T) {
	ip := newTestInterpreter(t)

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "None"},
		{"bool", true, "True"},
		{"int", 42, "42"},
		{"int8", int8(-3), "-3"},
		{"uint64 max", uint64(math.MaxUint64), "18446744073709551615"},
		{"float", 1.5, "1.5"},
		{"string", "hi", `"hi"`},
		{"bytes", []byte("raw"), `b"raw"`},
		{"slice", []any{1, "a"}, `[1, "a"]`},
		{"typed slice", []string{"a", "b"}, `["a", "b"]`},
		{"map", map[string]any{"b": 2, "a": 1}, `{"a": 1, "b": 2}`},
		{"typed map", map[string]int{"z": 26}, `{"z": 26}`},
		{"nil pointer", (*point)(nil), "None"},
		{"marshaler", celsius(21), `"temp"`},
		{"passthrough", starlark.MakeInt(9), "9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ip.ToValue(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.String())
		})
	}
}

func TestToValueStruct(t *testing.T) {
	ip := newTestInterpreter(t)

	v, err := ip.ToValue(&point{X: 1, Y: 2, Label: "p"})
	require.NoError(t, err)
	require.NoError(t, ip.DefineGlobalConstant("P", v))

	globals, err := ip.Eval(context.Background(), "struct.star", []byte(`
sum = P.X + P.Y
label = P.Label
has_hidden = hasattr(P, "hidden")
`))
	require.NoError(t, err)
	assert.Equal(t, starlark.MakeInt(3), globals["sum"])
	assert.Equal(t, starlark.String("p"), globals["label"])
	assert.Equal(t, starlark.False, globals["has_hidden"])
}

func TestToValueUnsupported(t *testing.T) {
	ip := newTestInterpreter(t)

	_, err := ip.ToValue(make(chan int))
	require.ErrorIs(t, err, ErrConversion)

	_, err = ip.ToValue(map[int]string{1: "a"})
	require.ErrorIs(t, err, ErrConversion)
}

func TestToValueFrozen(t *testing.T) {
	ip := newTestInterpreter(t)

	v, err := ip.ToValueWithOptions([]any{[]any{1}}, MarshalOptions{Frozen: true})
	require.NoError(t, err)
	outer := v.(*starlark.List)
	inner := outer.Index(0).(*starlark.List)
	require.Error(t, outer.Append(starlark.None))
	require.Error(t, inner.Append(starlark.None))

	v, err = ip.ToValue([]any{1})
	require.NoError(t, err)
	require.NoError(t, v.(*starlark.List).Append(starlark.None))
}

func TestFromValue(t *testing.T) {
	d := starlark.NewDict(2)
	require.NoError(t, d.SetKey(starlark.String("n"), starlark.MakeInt(1)))
	require.NoError(t, d.SetKey(starlark.String("tags"), starlark.Tuple{starlark.String("a"), starlark.Bytes("b")}))

	got, err := FromValue(d)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"n":    int64(1),
		"tags": []any{"a", []byte("b")},
	}, got)

	got, err = FromValue(starlark.NewList([]starlark.Value{starlark.None, starlark.True, starlark.Float(2.5)}))
	require.NoError(t, err)
	assert.Equal(t, []any{nil, true, 2.5}, got)

	bad := starlark.NewDict(1)
	require.NoError(t, bad.SetKey(starlark.MakeInt(1), starlark.None))
	_, err = FromValue(bad)
	require.ErrorIs(t, err, ErrConversion)

	_, err = FromValue(starlark.NewBuiltin("f", nil))
	require.ErrorIs(t, err, ErrConversion)
}

func TestFreeze(t *testing.T) {
	ip := newTestInterpreter(t)

	l := starlark.NewList(nil)
	require.NoError(t, ip.Freeze(l))
	require.Error(t, l.Append(starlark.None))
	require.ErrorIs(t, ip.Freeze(nil), ErrConversion)
}
