// Package demo provides the Demo class: one native method, native, plus
// guest methods defined in demo.star that call back into it.
package demo

import (
	_ "embed"

	"go.starlark.net/starlark"

	"github.com/xirelogy/go-starhost/internal/extn"
	"github.com/xirelogy/go-starhost/internal/interp"
)

// ClassName is the guest-visible name of the class.
const ClassName = "Demo"

//go:embed demo.star
var source []byte

func init() {
	extn.Register(Extension())
}

// Extension describes the Demo class.
func Extension() *extn.Extension {
	return &extn.Extension{
		Class: ClassName,
		Methods: []interp.Method{
			{Name: "native", Arity: interp.ArgsNone(), Fn: native},
		},
		SourceName: "demo.star",
		Source:     source,
	}
}

// native ignores its receiver and returns a fresh Demo tagged with where it
// was made.
func native(g *interp.Guard, _ starlark.Value, _ interp.Args) (starlark.Value, error) {
	inst, err := g.NewInstance(ClassName)
	if err != nil {
		return nil, err
	}
	origin, err := g.ToValue("native")
	if err != nil {
		return nil, err
	}
	if err := inst.SetField("origin", origin); err != nil {
		return nil, err
	}
	return inst, nil
}
