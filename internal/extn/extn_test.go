package extn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/xirelogy/go-starhost/internal/interp"
)

func newInterpreter(t *testing.T) *interp.Interpreter {
	t.Helper()
	ip, err := interp.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ip.Close() })
	return ip
}

func pingExtension(class string, source string) *Extension {
	return &Extension{
		Class: class,
		Methods: []interp.Method{{
			Name:  "ping",
			Arity: interp.ArgsNone(),
			Fn: func(g *interp.Guard, _ starlark.Value, _ interp.Args) (starlark.Value, error) {
				return g.ToValue("pong")
			},
		}},
		Source: []byte(source),
	}
}

func TestInitDefinesNativeAndGuestMethods(t *testing.T) {
	ip := newInterpreter(t)
	ext := pingExtension("Pinger", `
def _twice(self):
    return self.ping() + self.ping()

Pinger.twice = _twice
`)
	require.NoError(t, Init(context.Background(), ip, ext))

	globals, err := ip.Eval(context.Background(), "use.star", []byte("out = Pinger().twice()"))
	require.NoError(t, err)
	assert.Equal(t, starlark.String("pongpong"), globals["out"])

	class, ok := ip.Class("Pinger")
	require.True(t, ok)
	assert.True(t, class.IsNative("ping"))
	assert.False(t, class.IsNative("twice"))
}

func TestInitWithoutSource(t *testing.T) {
	ip := newInterpreter(t)
	require.NoError(t, Init(context.Background(), ip, pingExtension("Bare", "")))

	_, ok := ip.Class("Bare")
	assert.True(t, ok)
}

func TestInitSpecInvalid(t *testing.T) {
	tests := []struct {
		name string
		ext  *Extension
	}{
		{"nil extension", nil},
		{"lowercase class", pingExtension("pinger", "")},
		{"unknown superclass", &Extension{Class: "Child", Super: "Missing"}},
		{"nil method fn", &Extension{Class: "Broken", Methods: []interp.Method{{Name: "m"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip := newInterpreter(t)
			err := Init(context.Background(), ip, tt.ext)
			require.ErrorIs(t, err, ErrSpecInvalid)
			assert.False(t, errors.Is(err, ErrEvalFailed))

			var extErr *Error
			require.ErrorAs(t, err, &extErr)
			assert.Equal(t, KindSpecInvalid, extErr.Kind)
			assert.Empty(t, ip.Classes())
		})
	}
}

func TestInitDuplicateClassIsNotMerged(t *testing.T) {
	ip := newInterpreter(t)
	require.NoError(t, Init(context.Background(), ip, pingExtension("Dup", "")))

	second := &Extension{
		Class: "Dup",
		Methods: []interp.Method{{
			Name: "other",
			Fn: func(*interp.Guard, starlark.Value, interp.Args) (starlark.Value, error) {
				return starlark.None, nil
			},
		}},
	}
	err := Init(context.Background(), ip, second)
	require.ErrorIs(t, err, ErrSpecInvalid)
	require.ErrorIs(t, err, interp.ErrClassDefined)

	class, ok := ip.Class("Dup")
	require.True(t, ok)
	assert.Equal(t, []string{"ping"}, class.MethodNames())
}

func TestInitSuperclass(t *testing.T) {
	ip := newInterpreter(t)
	require.NoError(t, Init(context.Background(), ip, pingExtension("Parent", "")))
	require.NoError(t, Init(context.Background(), ip, &Extension{Class: "Kid", Super: "Parent"}))

	globals, err := ip.Eval(context.Background(), "kid.star", []byte("out = Kid().ping()"))
	require.NoError(t, err)
	assert.Equal(t, starlark.String("pong"), globals["out"])
}

func TestInitEvalFailedRollsBack(t *testing.T) {
	tests := []struct {
		name       string
		source     string
		wantSyntax bool
	}{
		{"runtime failure", "fail('broken extension')", false},
		{"malformed source", "def (:", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip := newInterpreter(t)
			err := Init(context.Background(), ip, pingExtension("Flaky", tt.source))
			require.ErrorIs(t, err, ErrEvalFailed)
			assert.Equal(t, tt.wantSyntax, interp.IsSyntaxError(err))

			var extErr *Error
			require.ErrorAs(t, err, &extErr)
			assert.Equal(t, "Flaky", extErr.Class)

			_, ok := ip.Class("Flaky")
			assert.False(t, ok, "failed extension must not stay defined")
			_, err = ip.Eval(context.Background(), "use.star", []byte("Flaky()"))
			require.Error(t, err)
		})
	}
}

func TestInitAllStopsAtFirstFailure(t *testing.T) {
	ip := newInterpreter(t)
	exts := []*Extension{
		pingExtension("First", ""),
		pingExtension("Second", "fail('no')"),
		pingExtension("Third", ""),
	}
	err := InitAll(context.Background(), ip, exts)
	require.ErrorIs(t, err, ErrEvalFailed)
	assert.Equal(t, []string{"First"}, ip.Classes())
}

func TestInitOnClosedInterpreter(t *testing.T) {
	ip, err := interp.New()
	require.NoError(t, err)
	require.NoError(t, ip.Close())

	err = Init(context.Background(), ip, pingExtension("Late", ""))
	require.ErrorIs(t, err, interp.ErrClosed)
	var extErr *Error
	assert.False(t, errors.As(err, &extErr))
}

func TestRegister(t *testing.T) {
	ext := pingExtension("RegistryProbe", "")
	Register(ext)

	got, ok := Lookup("RegistryProbe")
	require.True(t, ok)
	assert.Same(t, ext, got)
	assert.Contains(t, All(), ext)

	assert.Panics(t, func() { Register(pingExtension("RegistryProbe", "")) })
	assert.Panics(t, func() { Register(nil) })
	assert.Panics(t, func() { Register(&Extension{}) })
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "spec invalid", KindSpecInvalid.String())
	assert.Equal(t, "eval failed", KindEvalFailed.String())
	assert.Equal(t, "Kind(0)", Kind(0).String())
}
