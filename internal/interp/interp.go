// Package interp is the interpreter handle: it owns the guest (Starlark)
// state for one embedding, and is the only way host code evaluates guest
// source, converts host values, binds global constants and defines native
// classes.
//
// An Interpreter is driven by a single owner. It is not designed for shared
// concurrent mutation: an evaluation started while another one is running on
// the same Interpreter fails with ErrBusy instead of racing.
package interp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
	"go.uber.org/zap"
)

// threadLocalKey is where every guest thread keeps its owning Interpreter so
// native methods can recover it from the call context.
const threadLocalKey = "starhost.interpreter"

// fileOptions is the dialect every guest source unit is compiled with.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Interpreter owns the predeclared namespace (classes and global constants)
// that every evaluation runs against.
type Interpreter struct {
	log      *zap.Logger
	stdout   io.Writer
	maxSteps uint64

	mu      sync.Mutex
	busy    bool
	closed  bool
	globals starlark.StringDict
	classes map[string]*Class
}

// Option configures an Interpreter at construction.
type Option func(*Interpreter)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(ip *Interpreter) { ip.log = l }
}

// WithStdout sets where guest print() output goes. The default is os.Stdout.
func WithStdout(w io.Writer) Option {
	return func(ip *Interpreter) { ip.stdout = w }
}

// WithMaxSteps caps the execution steps of a single evaluation (0 for unlimited).
func WithMaxSteps(n uint64) Option {
	return func(ip *Interpreter) { ip.maxSteps = n }
}

// New creates an Interpreter.
func New(opts ...Option) (*Interpreter, error) {
	ip := &Interpreter{
		log:     zap.NewNop(),
		stdout:  os.Stdout,
		globals: make(starlark.StringDict),
		classes: make(map[string]*Class),
	}
	for _, opt := range opts {
		opt(ip)
	}
	if ip.log == nil {
		return nil, errors.New("interp: nil logger")
	}
	if ip.stdout == nil {
		return nil, errors.New("interp: nil stdout writer")
	}
	ip.log.Debug("interpreter created", zap.Uint64("max_steps", ip.maxSteps))
	return ip, nil
}

// Logger returns the interpreter's logger.
func (ip *Interpreter) Logger() *zap.Logger {
	return ip.log
}

func (ip *Interpreter) acquire() error {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	if ip.closed {
		return ErrClosed
	}
	if ip.busy {
		return ErrBusy
	}
	ip.busy = true
	return nil
}

func (ip *Interpreter) release() {
	ip.mu.Lock()
	ip.busy = false
	ip.mu.Unlock()
}

func (ip *Interpreter) isClosed() bool {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.closed
}

func (ip *Interpreter) newThread(name string) *starlark.Thread {
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			fmt.Fprintln(ip.stdout, msg)
		},
	}
	thread.SetLocal(threadLocalKey, ip)
	if ip.maxSteps > 0 {
		thread.SetMaxExecutionSteps(ip.maxSteps)
	}
	return thread
}

// exec runs fn on a fresh guest thread while holding the busy guard. Context
// cancellation cancels the thread; the returned error then wraps ctx.Err().
func (ip *Interpreter) exec(ctx context.Context, name string, fn func(*starlark.Thread) error) error {
	if err := ip.acquire(); err != nil {
		return err
	}
	defer ip.release()
	if err := ctx.Err(); err != nil {
		return err
	}

	thread := ip.newThread(name)
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	defer stop()

	err := convertError(fn(thread))
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}

// Eval evaluates a guest source unit and returns the globals it defined.
// name is used in diagnostics.
func (ip *Interpreter) Eval(ctx context.Context, name string, src []byte) (starlark.StringDict, error) {
	var globals starlark.StringDict
	err := ip.exec(ctx, name, func(thread *starlark.Thread) error {
		var err error
		globals, err = starlark.ExecFileOptions(fileOptions, thread, name, src, ip.globals)
		return err
	})
	if err != nil {
		ip.log.Debug("evaluation failed", zap.String("source", name), zap.Error(err))
		return nil, err
	}
	ip.log.Debug("evaluated", zap.String("source", name), zap.Int("globals", len(globals)))
	return globals, nil
}

// EvalFile reads a guest source unit from path and evaluates it.
func (ip *Interpreter) EvalFile(ctx context.Context, path string) (starlark.StringDict, error) {
	if ip.isClosed() {
		return nil, ErrClosed
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("interp: read %s: %w", path, err)
	}
	return ip.Eval(ctx, path, src)
}

// Freeze marks v immutable; later guest mutation of v fails. A class is
// sealed so that it can no longer be re-opened.
func (ip *Interpreter) Freeze(v starlark.Value) error {
	if ip.isClosed() {
		return ErrClosed
	}
	if v == nil {
		return fmt.Errorf("%w: nil value", ErrConversion)
	}
	if c, ok := v.(*Class); ok {
		c.Seal()
		return nil
	}
	v.Freeze()
	return nil
}

// DefineGlobalConstant binds v under name in the global namespace for every
// later evaluation. v is frozen. Rebinding an existing constant replaces it.
func (ip *Interpreter) DefineGlobalConstant(name string, v starlark.Value) error {
	if !isConstantName(name) {
		return fmt.Errorf("%w: constant %q", ErrInvalidName, name)
	}
	if v == nil {
		return fmt.Errorf("%w: nil value for constant %s", ErrConversion, name)
	}
	if err := ip.acquire(); err != nil {
		return err
	}
	defer ip.release()

	if _, isClass := ip.classes[name]; isClass {
		return fmt.Errorf("%w: %s is a class", ErrClassDefined, name)
	}
	if _, exists := ip.globals[name]; exists {
		ip.log.Warn("constant redefined", zap.String("name", name))
	}
	v.Freeze()
	ip.globals[name] = v
	ip.log.Debug("constant defined", zap.String("name", name), zap.String("type", v.Type()))
	return nil
}

// Constant returns the value bound to a global constant or class name.
func (ip *Interpreter) Constant(name string) (starlark.Value, bool) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	v, ok := ip.globals[name]
	return v, ok
}

// DefineClass materializes spec and makes it visible to guest code under its
// name. The Interpreter owns the returned class.
//
// Defining a name that is already bound fails with ErrClassDefined; classes
// are never merged.
func (ip *Interpreter) DefineClass(spec *ClassSpec) (*Class, error) {
	if spec == nil {
		return nil, fmt.Errorf("%w: nil spec", ErrInvalidSpec)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := ip.acquire(); err != nil {
		return nil, err
	}
	defer ip.release()

	if _, exists := ip.globals[spec.Name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrClassDefined, spec.Name)
	}
	class := newClass(spec)
	ip.classes[spec.Name] = class
	ip.globals[spec.Name] = class
	ip.log.Debug("class defined",
		zap.String("class", spec.Name),
		zap.Int("native_methods", len(spec.Methods)),
	)
	return class, nil
}

// UndefineClass removes a class so later evaluations can no longer see it.
func (ip *Interpreter) UndefineClass(name string) error {
	if err := ip.acquire(); err != nil {
		return err
	}
	defer ip.release()

	if _, ok := ip.classes[name]; !ok {
		return fmt.Errorf("interp: class %s is not defined", name)
	}
	delete(ip.classes, name)
	delete(ip.globals, name)
	ip.log.Debug("class removed", zap.String("class", name))
	return nil
}

// Class looks up a defined class by name.
func (ip *Interpreter) Class(name string) (*Class, bool) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	c, ok := ip.classes[name]
	return c, ok
}

// Classes returns the names of all defined classes, sorted.
func (ip *Interpreter) Classes() []string {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	out := make([]string, 0, len(ip.classes))
	for name := range ip.classes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Close releases all guest state. Every later call fails with ErrClosed,
// including a second Close.
func (ip *Interpreter) Close() error {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	if ip.closed {
		return ErrClosed
	}
	if ip.busy {
		return ErrBusy
	}
	ip.closed = true
	ip.globals = nil
	ip.classes = nil
	ip.log.Debug("interpreter closed")
	return nil
}
