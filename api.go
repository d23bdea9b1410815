// Package starhost boots an embedded Starlark interpreter: it installs the
// registered native extension classes, binds the host arguments to ARGV,
// runs a top-level script and reports guest failures as a backtrace.
package starhost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.starlark.net/starlark"
	"go.uber.org/zap"

	"github.com/xirelogy/go-starhost/internal/backtrace"
	_ "github.com/xirelogy/go-starhost/internal/classes"
	"github.com/xirelogy/go-starhost/internal/extn"
	"github.com/xirelogy/go-starhost/internal/interp"
	"github.com/xirelogy/go-starhost/internal/repl"
)

// ArgvConstant is the global constant holding the host arguments.
const ArgvConstant = "ARGV"

var (
	// ErrInvalidState is returned when an operation is called out of order
	// or after the Runtime has failed or closed.
	ErrInvalidState = errors.New("starhost: operation not allowed in current state")
	// ErrScriptFailed wraps a reported guest failure under WithFailOnScriptError.
	ErrScriptFailed = errors.New("starhost: script failed")
)

// State is a Runtime's position in the bootstrap sequence.
type State int

const (
	StateCreated State = iota
	StateExtensionsRegistered
	StateArgumentsMarshalled
	StateScriptEvaluated
	StateClosed
	// StateErrored is entered on any host-side failure. Only Close is
	// allowed afterwards.
	StateErrored
)

// String returns the lower-case, dash-separated state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateExtensionsRegistered:
		return "extensions-registered"
	case StateArgumentsMarshalled:
		return "arguments-marshalled"
	case StateScriptEvaluated:
		return "script-evaluated"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Script is a top-level guest program. Either Source (reported under Name)
// or Path is set.
type Script struct {
	Name   string
	Source []byte
	Path   string
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger shared with the interpreter.
func WithLogger(l *zap.Logger) Option { return func(rt *Runtime) { rt.log = l } }

// WithStdout sets where guest print() output goes.
func WithStdout(w io.Writer) Option { return func(rt *Runtime) { rt.stdout = w } }

// WithStderr sets where backtraces are written.
func WithStderr(w io.Writer) Option { return func(rt *Runtime) { rt.stderr = w } }

// WithColor controls ANSI colour in backtraces.
func WithColor(c backtrace.ColorChoice) Option { return func(rt *Runtime) { rt.color = c } }

// WithMaxSteps bounds each evaluation (0 for unlimited).
func WithMaxSteps(n uint64) Option { return func(rt *Runtime) { rt.maxSteps = n } }

// WithFailOnScriptError makes a failing script surface as ErrScriptFailed
// after its backtrace is reported.
func WithFailOnScriptError(enable bool) Option {
	return func(rt *Runtime) { rt.failOnScriptError = enable }
}

// WithExtensions replaces the registered extensions installed by
// InstallExtensions.
func WithExtensions(exts ...*extn.Extension) Option {
	return func(rt *Runtime) { rt.extensions = exts }
}

// WithInteractive makes Run open a prompt after the script.
func WithInteractive(enable bool) Option {
	return func(rt *Runtime) { rt.interactive = enable }
}

// Runtime drives one interpreter through the bootstrap sequence:
// New, InstallExtensions, MarshalArguments, Execute, Close.
type Runtime struct {
	ip                *interp.Interpreter
	log               *zap.Logger
	stdout            io.Writer
	stderr            io.Writer
	color             backtrace.ColorChoice
	colorEnabled      bool
	maxSteps          uint64
	failOnScriptError bool
	extensions        []*extn.Extension
	interactive       bool

	mu      sync.Mutex
	state   State
	running bool
}

// New creates a Runtime and its interpreter.
func New(opts ...Option) (*Runtime, error) {
	rt := &Runtime{
		log:        zap.NewNop(),
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		extensions: extn.All(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.log == nil || rt.stdout == nil || rt.stderr == nil {
		return nil, errors.New("starhost: nil logger or writer")
	}
	ip, err := interp.New(
		interp.WithLogger(rt.log.Named("interp")),
		interp.WithStdout(rt.stdout),
		interp.WithMaxSteps(rt.maxSteps),
	)
	if err != nil {
		return nil, fmt.Errorf("starhost: create interpreter: %w", err)
	}
	rt.ip = ip
	rt.colorEnabled = rt.color.Enabled(rt.stderr)
	return rt, nil
}

// State reports where the Runtime is in the bootstrap sequence.
func (rt *Runtime) State() State {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// Interpreter exposes the underlying interpreter.
func (rt *Runtime) Interpreter() *interp.Interpreter {
	return rt.ip
}

// begin claims the Runtime for one operation. Only one operation runs at a
// time; a second one fails with interp.ErrBusy and leaves the state alone.
func (rt *Runtime) begin(allowed ...State) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.running {
		return interp.ErrBusy
	}
	for _, s := range allowed {
		if rt.state == s {
			rt.running = true
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidState, rt.state)
}

func (rt *Runtime) end() {
	rt.mu.Lock()
	rt.running = false
	rt.mu.Unlock()
}

// transition moves to next. Closed is final and Errored only leads to Closed.
func (rt *Runtime) transition(next State) {
	rt.mu.Lock()
	prev := rt.state
	if prev == StateClosed || (prev == StateErrored && next != StateClosed) {
		rt.mu.Unlock()
		rt.log.Debug("state change refused", zap.Stringer("from", prev), zap.Stringer("to", next))
		return
	}
	rt.state = next
	rt.mu.Unlock()
	rt.log.Debug("state changed", zap.Stringer("from", prev), zap.Stringer("to", next))
}

func (rt *Runtime) fail(err error) error {
	rt.transition(StateErrored)
	return err
}

// InstallExtensions installs the configured extensions in order.
func (rt *Runtime) InstallExtensions(ctx context.Context) error {
	if err := rt.begin(StateCreated); err != nil {
		return err
	}
	defer rt.end()
	if err := extn.InitAll(ctx, rt.ip, rt.extensions); err != nil {
		rt.log.Error("extension install failed", zap.Error(err))
		return rt.fail(err)
	}
	rt.log.Debug("extensions installed", zap.Int("count", len(rt.extensions)))
	rt.transition(StateExtensionsRegistered)
	return nil
}

// MarshalArguments binds args, in order, to ARGV. Each argument becomes
// frozen guest bytes, and the collection itself is frozen.
func (rt *Runtime) MarshalArguments(args [][]byte) error {
	if err := rt.begin(StateExtensionsRegistered); err != nil {
		return err
	}
	defer rt.end()
	elems := make([]starlark.Value, 0, len(args))
	for i, arg := range args {
		v, err := rt.ip.ToValueWithOptions(arg, interp.MarshalOptions{Frozen: true})
		if err != nil {
			return rt.fail(fmt.Errorf("starhost: argument %d: %w", i, err))
		}
		elems = append(elems, v)
	}
	argv := starlark.NewList(elems)
	if err := rt.ip.Freeze(argv); err != nil {
		return rt.fail(err)
	}
	if err := rt.ip.DefineGlobalConstant(ArgvConstant, argv); err != nil {
		return rt.fail(fmt.Errorf("starhost: define %s: %w", ArgvConstant, err))
	}
	rt.log.Info("arguments marshalled", zap.Int("argc", len(args)))
	rt.transition(StateArgumentsMarshalled)
	return nil
}

// Execute evaluates a top-level script. A guest failure is written to the
// error writer as a backtrace and is not returned, unless the Runtime was
// built WithFailOnScriptError. Host failures are returned. While another
// evaluation is running Execute fails with interp.ErrBusy.
func (rt *Runtime) Execute(ctx context.Context, script Script) error {
	if err := rt.begin(StateArgumentsMarshalled, StateScriptEvaluated); err != nil {
		return err
	}
	defer rt.end()
	return rt.execute(ctx, script)
}

// ExecuteFromPath reads and evaluates a script file. Failing to read the
// file is a host error.
func (rt *Runtime) ExecuteFromPath(ctx context.Context, path string) error {
	if err := rt.begin(StateArgumentsMarshalled, StateScriptEvaluated); err != nil {
		return err
	}
	defer rt.end()
	return rt.executePath(ctx, path)
}

func (rt *Runtime) execute(ctx context.Context, script Script) error {
	if script.Path != "" && script.Source == nil {
		return rt.executePath(ctx, script.Path)
	}
	name := script.Name
	if name == "" {
		name = "<script>"
	}
	_, err := rt.ip.Eval(ctx, name, script.Source)
	return rt.finishScript(ctx, name, err)
}

func (rt *Runtime) executePath(ctx context.Context, path string) error {
	_, err := rt.ip.EvalFile(ctx, path)
	return rt.finishScript(ctx, path, err)
}

func (rt *Runtime) finishScript(ctx context.Context, name string, err error) error {
	if err == nil {
		rt.log.Debug("script evaluated", zap.String("script", name))
		rt.transition(StateScriptEvaluated)
		return nil
	}
	if errors.Is(err, interp.ErrBusy) {
		return err
	}
	var rte *interp.RuntimeError
	if ctx.Err() != nil || !errors.As(err, &rte) {
		rt.log.Error("script aborted", zap.String("script", name), zap.Error(err))
		return rt.fail(err)
	}

	rt.log.Debug("script raised", zap.String("script", name), zap.Error(err))
	if werr := backtrace.FormatCLITraceInto(rt.stderr, rt.colorEnabled, err); werr != nil {
		return rt.fail(fmt.Errorf("starhost: write backtrace: %w", werr))
	}
	rt.transition(StateScriptEvaluated)
	if rt.failOnScriptError {
		return fmt.Errorf("%w: %w", ErrScriptFailed, err)
	}
	return nil
}

// ExecFuture is a script evaluation running in the background.
type ExecFuture struct {
	ch <-chan error
}

// Await waits for the evaluation or for ctx to be done.
func (f ExecFuture) Await(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-f.ch:
		return err
	}
}

// ExecuteAsync claims the Runtime and runs the script on its own goroutine.
// Cancelling ctx stops the evaluation.
func (rt *Runtime) ExecuteAsync(ctx context.Context, script Script) ExecFuture {
	ch := make(chan error, 1)
	if err := rt.begin(StateArgumentsMarshalled, StateScriptEvaluated); err != nil {
		ch <- err
		close(ch)
		return ExecFuture{ch: ch}
	}
	go func() {
		defer close(ch)
		err := rt.execute(ctx, script)
		rt.end()
		ch <- err
	}()
	return ExecFuture{ch: ch}
}

// Interact opens a prompt on the terminal that shares ARGV and every
// installed class with the script. It returns when the user quits.
func (rt *Runtime) Interact(ctx context.Context) error {
	if err := rt.begin(StateScriptEvaluated); err != nil {
		return err
	}
	defer rt.end()
	session, err := rt.ip.NewSession("<stdin>")
	if err != nil {
		return rt.fail(err)
	}
	report := func(err error) {
		if werr := backtrace.FormatCLITraceInto(rt.stderr, rt.colorEnabled, err); werr != nil {
			rt.log.Warn("write backtrace", zap.Error(werr))
		}
	}
	return repl.Run(ctx, session, rt.stdout, report)
}

// Close releases the interpreter. It is valid in every state but Closed;
// a second Close returns interp.ErrClosed.
func (rt *Runtime) Close() error {
	if rt.State() == StateClosed {
		return interp.ErrClosed
	}
	if err := rt.ip.Close(); err != nil && !errors.Is(err, interp.ErrClosed) {
		return err
	}
	rt.transition(StateClosed)
	return nil
}

// Entrypoint marshals args into ARGV and evaluates script on a Runtime
// whose extensions are installed.
func Entrypoint(ctx context.Context, rt *Runtime, script Script, args [][]byte) error {
	if err := rt.MarshalArguments(args); err != nil {
		return err
	}
	return rt.Execute(ctx, script)
}

// Run performs the whole bootstrap sequence and always closes the Runtime.
func Run(ctx context.Context, script Script, args [][]byte, opts ...Option) (err error) {
	rt, err := New(opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := rt.InstallExtensions(ctx); err != nil {
		return err
	}
	if err := Entrypoint(ctx, rt, script, args); err != nil {
		return err
	}
	if rt.interactive {
		return rt.Interact(ctx)
	}
	return nil
}
