package extn

import (
	"errors"
	"fmt"
)

// Kind classifies why installing an extension failed.
type Kind int

const (
	// KindSpecInvalid: the class or its method table was rejected before
	// any guest code ran.
	KindSpecInvalid Kind = iota + 1
	// KindEvalFailed: the extension's guest source failed to evaluate.
	KindEvalFailed
)

func (k Kind) String() string {
	switch k {
	case KindSpecInvalid:
		return "spec invalid"
	case KindEvalFailed:
		return "eval failed"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ErrSpecInvalid and ErrEvalFailed match an *Error of the same Kind.
var (
	ErrSpecInvalid = errors.New("extn: invalid extension spec")
	ErrEvalFailed  = errors.New("extn: extension source failed to evaluate")
)

// Error reports a failed extension install.
type Error struct {
	Kind  Kind
	Class string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extn: %s: %s: %v", e.Class, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrSpecInvalid:
		return e.Kind == KindSpecInvalid
	case ErrEvalFailed:
		return e.Kind == KindEvalFailed
	}
	return false
}
