package interp

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"go.starlark.net/starlark"
)

// NativeFunc is the host side of a native method. recv is the value the
// method was looked up on; it may be ignored when the class keeps no
// per-instance host state. args have already been checked against the
// method's declared arity.
//
// g is only valid for the duration of the call and must not be retained.
type NativeFunc func(g *Guard, recv starlark.Value, args Args) (starlark.Value, error)

// Arity describes the positional arguments a native method accepts.
// Keyword arguments are never accepted.
type Arity struct {
	Required int
	Optional int
	Rest     bool
}

// ArgsNone declares a method that takes no arguments.
func ArgsNone() Arity { return Arity{} }

// ArgsReq declares n required arguments.
func ArgsReq(n int) Arity { return Arity{Required: n} }

// ArgsOpt declares n optional arguments.
func ArgsOpt(n int) Arity { return Arity{Optional: n} }

// ArgsRest declares any number of trailing arguments.
func ArgsRest() Arity { return Arity{Rest: true} }

// And combines two declarations, e.g. ArgsReq(1).And(ArgsOpt(1)).
func (a Arity) And(b Arity) Arity {
	return Arity{
		Required: a.Required + b.Required,
		Optional: a.Optional + b.Optional,
		Rest:     a.Rest || b.Rest,
	}
}

func (a Arity) String() string {
	parts := []string{}
	if a.Required > 0 {
		parts = append(parts, fmt.Sprintf("req(%d)", a.Required))
	}
	if a.Optional > 0 {
		parts = append(parts, fmt.Sprintf("opt(%d)", a.Optional))
	}
	if a.Rest {
		parts = append(parts, "rest")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

func (a Arity) valid() bool {
	return a.Required >= 0 && a.Optional >= 0
}

func (a Arity) check(name string, args starlark.Tuple, kwargs []starlark.Tuple) error {
	if len(kwargs) > 0 {
		return fmt.Errorf("%s: unexpected keyword argument %s", name, kwargs[0][0])
	}
	n := len(args)
	if n < a.Required {
		return fmt.Errorf("%s: got %d arguments, want at least %d", name, n, a.Required)
	}
	if limit := a.Required + a.Optional; !a.Rest && n > limit {
		if limit == 0 {
			return fmt.Errorf("%s: got %d arguments, want none", name, n)
		}
		return fmt.Errorf("%s: got %d arguments, want at most %d", name, n, limit)
	}
	return nil
}

// Method is one entry of a class's native method table.
type Method struct {
	Name  string
	Arity Arity
	Fn    NativeFunc
}

// ClassSpec describes a class for DefineClass.
type ClassSpec struct {
	Name    string
	Super   *Class
	Methods []Method
}

// Validate checks the class name and native method table.
func (s *ClassSpec) Validate() error {
	if !isConstantName(s.Name) {
		return fmt.Errorf("%w: class name %q must be an identifier starting with an upper-case letter", ErrInvalidSpec, s.Name)
	}
	seen := make(map[string]struct{}, len(s.Methods))
	for _, m := range s.Methods {
		if !isIdentifier(m.Name) {
			return fmt.Errorf("%w: %s: method name %q", ErrInvalidSpec, s.Name, m.Name)
		}
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("%w: %s: duplicate method %s", ErrInvalidSpec, s.Name, m.Name)
		}
		seen[m.Name] = struct{}{}
		if m.Fn == nil {
			return fmt.Errorf("%w: %s.%s: nil function", ErrInvalidSpec, s.Name, m.Name)
		}
		if !m.Arity.valid() {
			return fmt.Errorf("%w: %s.%s: negative arity", ErrInvalidSpec, s.Name, m.Name)
		}
	}
	return nil
}

type method struct {
	native *Method
	guest  starlark.Callable
}

var (
	_ starlark.Callable    = (*Class)(nil)
	_ starlark.HasSetField = (*Class)(nil)
	_ starlark.HasSetField = (*Instance)(nil)
)

// Class is a guest-visible class. Its method table starts with the native
// methods of its spec; guest code re-opens the class by assigning a callable
// to one of its attributes (Demo.greet = _greet), which adds or overrides an
// in-language method.
//
// Calling the class creates an instance, running its init method if any.
type Class struct {
	name    string
	super   *Class
	methods map[string]method
	frozen  bool
}

var reservedClassAttrs = map[string]bool{"name": true, "methods": true, "superclass": true}

func newClass(spec *ClassSpec) *Class {
	c := &Class{
		name:    spec.Name,
		super:   spec.Super,
		methods: make(map[string]method, len(spec.Methods)),
	}
	for i := range spec.Methods {
		m := spec.Methods[i]
		c.methods[m.Name] = method{native: &m}
	}
	return c
}

func (c *Class) Name() string          { return c.name }
func (c *Class) String() string        { return fmt.Sprintf("<class %s>", c.name) }
func (c *Class) Type() string          { return "class" }
func (c *Class) Truth() starlark.Bool  { return starlark.True }
func (c *Class) Hash() (uint32, error) { return starlark.String(c.name).Hash() }

// Superclass returns the parent class, or nil.
func (c *Class) Superclass() *Class { return c.super }

// Freeze freezes the guest methods only. A guest module freezing its
// globals must not lock an interpreter-owned class, so the method table stays
// open until Seal.
func (c *Class) Freeze() {
	for _, m := range c.methods {
		if m.guest != nil {
			m.guest.Freeze()
		}
	}
}

// Seal locks the method table; re-opening the class fails afterwards.
// Superclasses are not affected.
func (c *Class) Seal() {
	c.Freeze()
	c.frozen = true
}

func (c *Class) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	inst := newInstance(c)
	init, ok := c.lookup("init")
	if !ok {
		if len(args) > 0 || len(kwargs) > 0 {
			return nil, fmt.Errorf("%s: got %d arguments, want none", c.name, len(args)+len(kwargs))
		}
		return inst, nil
	}
	if _, err := starlark.Call(thread, inst.bind("init", init), args, kwargs); err != nil {
		return nil, err
	}
	return inst, nil
}

func (c *Class) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		return starlark.String(c.name), nil
	case "methods":
		names := c.MethodNames()
		elems := make([]starlark.Value, len(names))
		for i, n := range names {
			elems[i] = starlark.String(n)
		}
		return starlark.NewList(elems), nil
	case "superclass":
		if c.super == nil {
			return starlark.None, nil
		}
		return c.super, nil
	}
	return nil, nil
}

func (c *Class) AttrNames() []string {
	return []string{"methods", "name", "superclass"}
}

func (c *Class) SetField(name string, val starlark.Value) error {
	if c.frozen {
		return fmt.Errorf("cannot reopen frozen class %s", c.name)
	}
	if reservedClassAttrs[name] {
		return fmt.Errorf("cannot assign to %s.%s", c.name, name)
	}
	fn, ok := val.(starlark.Callable)
	if !ok {
		return fmt.Errorf("cannot define %s.%s: got %s, want callable", c.name, name, val.Type())
	}
	c.methods[name] = method{guest: fn}
	return nil
}

func (c *Class) lookup(name string) (method, bool) {
	for k := c; k != nil; k = k.super {
		if m, ok := k.methods[name]; ok {
			return m, true
		}
	}
	return method{}, false
}

// MethodNames returns the sorted names of every method visible on instances.
func (c *Class) MethodNames() []string {
	seen := map[string]struct{}{}
	for k := c; k != nil; k = k.super {
		for name := range k.methods {
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsNative reports whether name resolves to a native method.
func (c *Class) IsNative(name string) bool {
	m, ok := c.lookup(name)
	return ok && m.native != nil
}

// Instance is an object created by calling a Class. Besides its class's
// methods it carries named fields; a frozen instance rejects field updates.
type Instance struct {
	class  *Class
	fields map[string]starlark.Value
	frozen bool
}

func newInstance(c *Class) *Instance {
	return &Instance{class: c, fields: make(map[string]starlark.Value)}
}

// Class returns the class the instance was created from.
func (i *Instance) Class() *Class { return i.class }

func (i *Instance) String() string        { return fmt.Sprintf("<%s instance>", i.class.name) }
func (i *Instance) Type() string          { return i.class.name }
func (i *Instance) Truth() starlark.Bool  { return starlark.True }
func (i *Instance) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: %s", i.Type()) }

func (i *Instance) Freeze() {
	if i.frozen {
		return
	}
	i.frozen = true
	for _, v := range i.fields {
		v.Freeze()
	}
}

func (i *Instance) Attr(name string) (starlark.Value, error) {
	if m, ok := i.class.lookup(name); ok {
		return i.bind(name, m), nil
	}
	if v, ok := i.fields[name]; ok {
		return v, nil
	}
	return nil, nil
}

func (i *Instance) AttrNames() []string {
	names := i.class.MethodNames()
	for name := range i.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (i *Instance) SetField(name string, val starlark.Value) error {
	if i.frozen {
		return fmt.Errorf("cannot set %s.%s: instance is frozen", i.class.name, name)
	}
	if _, ok := i.class.lookup(name); ok {
		return fmt.Errorf("cannot assign to method %s.%s", i.class.name, name)
	}
	i.fields[name] = val
	return nil
}

// Field returns a field value set on the instance.
func (i *Instance) Field(name string) (starlark.Value, bool) {
	v, ok := i.fields[name]
	return v, ok
}

// bind resolves a method against the instance. Native methods become
// receiver-bound trampolines; guest methods get the instance as their
// first argument.
func (i *Instance) bind(name string, m method) starlark.Value {
	if m.native != nil {
		return trampoline(m.native).BindReceiver(i)
	}
	fn := m.guest
	return starlark.NewBuiltin(name, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		callArgs := make(starlark.Tuple, 0, len(args)+1)
		callArgs = append(callArgs, i)
		callArgs = append(callArgs, args...)
		return starlark.Call(thread, fn, callArgs, kwargs)
	})
}

func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if r == '_' || unicode.IsLetter(r) {
			continue
		}
		if i > 0 && unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return true
}

func isConstantName(name string) bool {
	if !isIdentifier(name) {
		return false
	}
	return unicode.IsUpper([]rune(name)[0])
}
