package interp

import (
	"errors"
	"fmt"

	"go.starlark.net/starlark"
	"go.uber.org/zap"
)

// Guard is the scoped interpreter access handed to a NativeFunc. It is
// valid only while the native call is running.
type Guard struct {
	ip       *Interpreter
	thread   *starlark.Thread
	released bool
}

func unwrapInterpreter(thread *starlark.Thread) (*Guard, error) {
	if thread == nil {
		return nil, ErrNoInterpreter
	}
	ip, ok := thread.Local(threadLocalKey).(*Interpreter)
	if !ok || ip == nil {
		return nil, ErrNoInterpreter
	}
	return &Guard{ip: ip, thread: thread}, nil
}

func (g *Guard) release() {
	g.released = true
}

func (g *Guard) check() error {
	if g == nil || g.released {
		return ErrGuardReleased
	}
	return nil
}

// ToValue converts a host value into a guest value.
func (g *Guard) ToValue(v any) (starlark.Value, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	return g.ip.toValueLocked(v, MarshalOptions{})
}

// NewInstance creates an instance of a defined class without running its
// init method.
func (g *Guard) NewInstance(class string) (*Instance, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	// The busy guard is already held by the evaluation that called us.
	c, ok := g.ip.classes[class]
	if !ok {
		return nil, fmt.Errorf("interp: class %s is not defined", class)
	}
	return newInstance(c), nil
}

// Freeze marks v immutable.
func (g *Guard) Freeze(v starlark.Value) error {
	if err := g.check(); err != nil {
		return err
	}
	if v == nil {
		return fmt.Errorf("%w: nil value", ErrConversion)
	}
	v.Freeze()
	return nil
}

// Logger returns the interpreter's logger.
func (g *Guard) Logger() *zap.Logger {
	if g.check() != nil {
		return zap.NewNop()
	}
	return g.ip.log
}

// trampoline builds the guest builtin for a native method. The arity is
// checked before m.Fn runs, and the guard is released when it returns.
func trampoline(m *Method) *starlark.Builtin {
	return starlark.NewBuiltin(m.Name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := m.Arity.check(b.Name(), args, kwargs); err != nil {
			return nil, err
		}
		g, err := unwrapInterpreter(thread)
		if err != nil {
			return nil, err
		}
		defer g.release()

		res, err := m.Fn(g, b.Receiver(), Args{name: b.Name(), args: args})
		if err != nil {
			return nil, err
		}
		if res == nil {
			return starlark.None, nil
		}
		return res, nil
	})
}

// Args holds the positional arguments of a native call.
type Args struct {
	name string
	args starlark.Tuple
}

// Len returns the number of arguments passed.
func (a Args) Len() int { return len(a.args) }

// Tuple returns the raw arguments.
func (a Args) Tuple() starlark.Tuple { return a.args }

// Value returns argument i, or nil when it was not passed.
func (a Args) Value(i int) starlark.Value {
	if i < 0 || i >= len(a.args) {
		return nil
	}
	return a.args[i]
}

// String returns argument i as a guest string.
func (a Args) String(i int) (string, error) {
	v, err := a.at(i, "string")
	if err != nil {
		return "", err
	}
	s, ok := starlark.AsString(v)
	if !ok {
		return "", a.mismatch(i, "string", v)
	}
	return s, nil
}

// Bytes accepts both bytes and string arguments.
func (a Args) Bytes(i int) ([]byte, error) {
	v, err := a.at(i, "bytes")
	if err != nil {
		return nil, err
	}
	switch v := v.(type) {
	case starlark.Bytes:
		return []byte(v), nil
	case starlark.String:
		return []byte(v), nil
	}
	return nil, a.mismatch(i, "bytes", v)
}

// Int returns argument i; values outside int64 are an ArgError.
func (a Args) Int(i int) (int64, error) {
	v, err := a.at(i, "int")
	if err != nil {
		return 0, err
	}
	n, ok := v.(starlark.Int)
	if !ok {
		return 0, a.mismatch(i, "int", v)
	}
	i64, ok := n.Int64()
	if !ok {
		return 0, &ArgError{Method: a.name, Index: i, Want: "int64", Got: "big int"}
	}
	return i64, nil
}

// Bool returns argument i as a bool. Other values are not coerced.
func (a Args) Bool(i int) (bool, error) {
	v, err := a.at(i, "bool")
	if err != nil {
		return false, err
	}
	b, ok := v.(starlark.Bool)
	if !ok {
		return false, a.mismatch(i, "bool", v)
	}
	return bool(b), nil
}

func (a Args) at(i int, want string) (starlark.Value, error) {
	v := a.Value(i)
	if v == nil {
		return nil, &ArgError{Method: a.name, Index: i, Want: want, Got: "missing"}
	}
	return v, nil
}

func (a Args) mismatch(i int, want string, got starlark.Value) error {
	return &ArgError{Method: a.name, Index: i, Want: want, Got: got.Type()}
}

// ArgError reports a native method argument of the wrong type.
type ArgError struct {
	Method string
	Index  int
	Want   string
	Got    string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("%s: argument %d: expected %s, got %s", e.Method, e.Index+1, e.Want, e.Got)
}

// IsArgError reports whether err is an ArgError.
func IsArgError(err error) bool {
	var ae *ArgError
	return errors.As(err, &ae)
}
