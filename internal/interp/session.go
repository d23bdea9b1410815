package interp

import (
	"context"
	"fmt"

	"go.starlark.net/starlark"
)

// Session evaluates a sequence of source chunks that share one set of
// globals, as an interactive prompt does. Classes and constants defined on
// the Interpreter are visible in every chunk.
type Session struct {
	ip      *Interpreter
	name    string
	globals starlark.StringDict
	chunk   int
}

// NewSession starts a session whose chunks are reported under name.
func (ip *Interpreter) NewSession(name string) (*Session, error) {
	if ip.isClosed() {
		return nil, ErrClosed
	}
	if name == "" {
		name = "<session>"
	}
	return &Session{ip: ip, name: name, globals: make(starlark.StringDict)}, nil
}

// Eval runs one chunk. When the chunk is a single expression its value is
// returned; otherwise the result is None.
func (s *Session) Eval(ctx context.Context, src string) (starlark.Value, error) {
	s.chunk++
	name := fmt.Sprintf("%s:%d", s.name, s.chunk)

	result := starlark.Value(starlark.None)
	err := s.ip.exec(ctx, name, func(thread *starlark.Thread) error {
		for k, v := range s.ip.globals {
			s.globals[k] = v
		}
		if expr, err := fileOptions.ParseExpr(name, src, 0); err == nil {
			v, err := starlark.EvalExprOptions(fileOptions, thread, expr, s.globals)
			if err != nil {
				return err
			}
			result = v
			return nil
		}
		f, err := fileOptions.Parse(name, src, 0)
		if err != nil {
			return err
		}
		return starlark.ExecREPLChunk(f, thread, s.globals)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Globals returns the names the session has bound so far, including
// interpreter constants and classes.
func (s *Session) Globals() starlark.StringDict {
	return s.globals
}
