package interp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func TestSessionKeepsGlobals(t *testing.T) {
	ip := newTestInterpreter(t)
	require.NoError(t, ip.DefineGlobalConstant("BASE", starlark.MakeInt(10)))

	s, err := ip.NewSession("repl")
	require.NoError(t, err)
	ctx := context.Background()

	v, err := s.Eval(ctx, "x = BASE + 1")
	require.NoError(t, err)
	assert.Equal(t, starlark.None, v)

	v, err = s.Eval(ctx, "x * 2")
	require.NoError(t, err)
	assert.Equal(t, starlark.MakeInt(22), v)

	_, err = s.Eval(ctx, "def double(n):\n    return n * 2\n")
	require.NoError(t, err)
	v, err = s.Eval(ctx, "double(x)")
	require.NoError(t, err)
	assert.Equal(t, starlark.MakeInt(22), v)

	// Session globals stay mutable between chunks.
	_, err = s.Eval(ctx, "items = []")
	require.NoError(t, err)
	_, err = s.Eval(ctx, "items.append(1)")
	require.NoError(t, err)
	v, err = s.Eval(ctx, "len(items)")
	require.NoError(t, err)
	assert.Equal(t, starlark.MakeInt(1), v)
}

func TestSessionErrorsKeepState(t *testing.T) {
	ip := newTestInterpreter(t)
	s, err := ip.NewSession("")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Eval(ctx, "y = 5")
	require.NoError(t, err)

	_, err = s.Eval(ctx, "fail('nope')")
	require.Error(t, err)
	var rte *RuntimeError
	require.ErrorAs(t, err, &rte)
	assert.Equal(t, "<session>:2", rte.Frame.Source)

	_, err = s.Eval(ctx, "y +")
	require.Error(t, err)
	assert.True(t, IsSyntaxError(err))

	v, err := s.Eval(ctx, "y")
	require.NoError(t, err)
	assert.Equal(t, starlark.MakeInt(5), v)
}

func TestSessionSeesLaterClasses(t *testing.T) {
	ip := newTestInterpreter(t)
	s, err := ip.NewSession("repl")
	require.NoError(t, err)

	_, err = ip.DefineClass(&ClassSpec{Name: "Later"})
	require.NoError(t, err)

	v, err := s.Eval(context.Background(), "type(Later())")
	require.NoError(t, err)
	assert.Equal(t, starlark.String("Later"), v)
}
