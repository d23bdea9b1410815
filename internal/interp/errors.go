package interp

import (
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Sentinel errors returned by the interpreter. Use errors.Is to test for them.
var (
	ErrClosed        = errors.New("interp: interpreter is closed")
	ErrBusy          = errors.New("interp: interpreter is busy; concurrent evaluation not allowed")
	ErrClassDefined  = errors.New("interp: class already defined")
	ErrInvalidSpec   = errors.New("interp: invalid class spec")
	ErrInvalidName   = errors.New("interp: invalid name")
	ErrGuardReleased = errors.New("interp: guard used after its native call returned")
	ErrNoInterpreter = errors.New("interp: no interpreter attached to thread")
	ErrConversion    = errors.New("interp: value conversion failed")
)

// FrameTrace describes a single frame in a runtime error.
type FrameTrace struct {
	Function string
	Source   string
	Line     int
	Column   int
}

func (f FrameTrace) String() string {
	var b strings.Builder
	if f.Source != "" {
		b.WriteString(f.Source)
	} else {
		b.WriteString("-")
	}
	if f.Line > 0 {
		fmt.Fprintf(&b, ":%d", f.Line)
		if f.Column > 0 {
			fmt.Fprintf(&b, ":%d", f.Column)
		}
	}
	if f.Function != "" {
		fmt.Fprintf(&b, " in %s", f.Function)
	}
	return b.String()
}

// RuntimeError is a source-aware guest failure: a compile error or an error
// raised while the guest program ran.
//
// Frame is the innermost frame; Stack runs from the innermost frame outwards.
type RuntimeError struct {
	Message string
	Frame   FrameTrace
	Stack   []FrameTrace
	Cause   error

	syntax    bool
	backtrace string
}

func (e *RuntimeError) Error() string {
	parts := []string{}
	if e.Frame.Source != "" {
		if e.Frame.Line > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", e.Frame.Source, e.Frame.Line))
		} else {
			parts = append(parts, e.Frame.Source)
		}
	} else if e.Frame.Line > 0 {
		parts = append(parts, fmt.Sprintf("line %d", e.Frame.Line))
	}
	if e.Frame.Function != "" {
		parts = append(parts, fmt.Sprintf("in %s", e.Frame.Function))
	}
	loc := strings.Join(parts, " ")
	if loc != "" {
		return fmt.Sprintf("%s: %s", loc, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying engine error for errors.Is/As.
func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

// Syntax reports whether the error was raised before execution started
// (scanning, parsing or name resolution).
func (e *RuntimeError) Syntax() bool {
	return e.syntax
}

// Backtrace renders the call stack in the engine's own format.
func (e *RuntimeError) Backtrace() string {
	if e.backtrace != "" {
		return e.backtrace
	}
	return e.Frame.String() + ": " + e.Message
}

// IsSyntaxError reports whether err carries a compile-time guest error.
func IsSyntaxError(err error) bool {
	var rte *RuntimeError
	return errors.As(err, &rte) && rte.syntax
}

func convertError(err error) error {
	if err == nil {
		return nil
	}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		stack := stackTraceFromStarlark(evalErr.CallStack)
		rte := &RuntimeError{
			Message:   evalErr.Msg,
			Stack:     stack,
			Cause:     err,
			backtrace: evalErr.Backtrace(),
		}
		if len(stack) > 0 {
			rte.Frame = stack[0]
		}
		return rte
	}
	var synErr syntax.Error
	if errors.As(err, &synErr) {
		frame := frameTraceFromPosition("", synErr.Pos)
		return &RuntimeError{
			Message: synErr.Msg,
			Frame:   frame,
			Stack:   []FrameTrace{frame},
			Cause:   err,
			syntax:  true,
		}
	}
	var resolveErrs resolve.ErrorList
	if errors.As(err, &resolveErrs) && len(resolveErrs) > 0 {
		first := resolveErrs[0]
		frame := frameTraceFromPosition("", first.Pos)
		msg := first.Msg
		if extra := len(resolveErrs) - 1; extra > 0 {
			msg = fmt.Sprintf("%s (and %d more)", msg, extra)
		}
		return &RuntimeError{
			Message: msg,
			Frame:   frame,
			Stack:   []FrameTrace{frame},
			Cause:   err,
			syntax:  true,
		}
	}
	return err
}

const builtinFilename = "<builtin>"

func frameTraceFromPosition(function string, pos syntax.Position) FrameTrace {
	return FrameTrace{
		Function: function,
		Source:   pos.Filename(),
		Line:     int(pos.Line),
		Column:   int(pos.Col),
	}
}

func stackTraceFromStarlark(stack starlark.CallStack) []FrameTrace {
	if len(stack) == 0 {
		return nil
	}
	out := make([]FrameTrace, 0, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		// Builtin frames carry no source position.
		if stack[i].Pos.Filename() == builtinFilename {
			continue
		}
		out = append(out, frameTraceFromPosition(stack[i].Name, stack[i].Pos))
	}
	return out
}
