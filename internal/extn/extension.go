// Package extn installs native extension classes into an interpreter.
//
// Extension packages describe themselves with an Extension and call Register
// from their init function; the bootstrap then installs every registered
// extension, in registration order, with InitAll.
package extn

import (
	"fmt"

	"github.com/xirelogy/go-starhost/internal/interp"
)

// Extension describes a guest class whose methods come partly from the host
// (Methods) and partly from guest source evaluated after the class exists.
type Extension struct {
	Class   string
	Super   string
	Methods []interp.Method

	// SourceName names Source in diagnostics. Defaults to "<Class>.star".
	SourceName string
	Source     []byte
}

func (e *Extension) sourceName() string {
	if e.SourceName != "" {
		return e.SourceName
	}
	return e.Class + ".star"
}

var (
	byName  = map[string]*Extension{}
	ordered []*Extension
)

// Register adds an extension to the process-wide registry.
func Register(ext *Extension) {
	if ext == nil {
		panic("extension is nil")
	}
	if ext.Class == "" {
		panic("extension has empty class name")
	}
	if _, exists := byName[ext.Class]; exists {
		panic(fmt.Sprintf("extension %s already registered", ext.Class))
	}
	byName[ext.Class] = ext
	ordered = append(ordered, ext)
}

// Lookup finds a registered extension by class name.
func Lookup(class string) (*Extension, bool) {
	ext, ok := byName[class]
	return ext, ok
}

// All returns the registered extensions in registration order.
func All() []*Extension {
	out := make([]*Extension, len(ordered))
	copy(out, ordered)
	return out
}
