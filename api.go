// Package microjs is a sandboxed execution engine for a strict subset of
// JavaScript. Source text is compiled to bytecode and executed on a
// stack-based virtual machine with configurable memory and wall-clock
// limits; hostile or runaway programs are stopped by cooperative polling.
//
// A minimal session:
//
//	ctx := microjs.New(microjs.Options{TimeLimit: time.Second})
//	v, err := ctx.Eval("1 + 2")   // v == float64(3)
package microjs

import (
	"time"

	"github.com/chazu/microjs/compiler"
	"github.com/chazu/microjs/vm"
)

// Options configure a context. The zero value means unbounded execution.
type Options struct {
	// MemoryLimit caps heap allocation in bytes. 0 = unbounded.
	MemoryLimit int
	// TimeLimit caps wall-clock execution per Eval call. 0 = unbounded.
	TimeLimit time.Duration
	// Poll is consulted every PollInterval instructions; returning true
	// aborts execution with TimeLimitError.
	Poll func() bool
	// PollInterval is the instruction count between budget checks
	// (default 100).
	PollInterval int
	// RegexStackLimit bounds the regex backtrack stack (default 10000).
	RegexStackLimit int
}

// Context is one isolated sandbox: its own heap, global object and budget.
// A context is not safe for concurrent use; one program runs at a time.
type Context struct {
	rt *vm.Context
}

// New creates a context with the standard globals installed.
func New(opts Options) *Context {
	return &Context{rt: vm.NewContext(vm.Options{
		MemoryLimit:     opts.MemoryLimit,
		TimeLimit:       opts.TimeLimit,
		Poll:            opts.Poll,
		PollInterval:    opts.PollInterval,
		RegexStackLimit: opts.RegexStackLimit,
	})}
}

// ID returns the context's unique identifier, useful for log correlation.
func (c *Context) ID() string { return c.rt.ID }

// Runtime exposes the underlying VM context for embedders that need the
// Value-level API.
func (c *Context) Runtime() *vm.Context { return c.rt }

// Compile compiles source without running it.
func (c *Context) Compile(source, name string) (*vm.FunctionProto, error) {
	return compiler.Compile(source, name, c.rt.Heap)
}

// Eval compiles and runs source as top-level code, returning the completion
// value (the value of the last expression statement) converted to a host
// representation. Errors are *vm.SyntaxError, *vm.RuntimeError,
// *vm.MemoryLimitError, *vm.TimeLimitError or *vm.RegexAbortError.
func (c *Context) Eval(source string) (any, error) {
	v, err := c.EvalValue(source)
	if err != nil {
		return nil, err
	}
	return c.rt.Export(v), nil
}

// EvalValue is Eval without the host conversion.
func (c *Context) EvalValue(source string) (vm.Value, error) {
	proto, err := compiler.Compile(source, "<eval>", c.rt.Heap)
	if err != nil {
		return vm.Undefined, err
	}
	return c.rt.Run(proto)
}

// Run executes an already compiled function module.
func (c *Context) Run(proto *vm.FunctionProto) (any, error) {
	v, err := c.rt.Run(proto)
	if err != nil {
		return nil, err
	}
	return c.rt.Export(v), nil
}

// Get reads a property of the global object.
func (c *Context) Get(name string) any {
	return c.rt.Export(c.rt.GetGlobal(name))
}

// Set writes a host value as a global. Numbers, strings, booleans and nil
// convert by value; a microjs.Func becomes callable from scripts and
// re-enters host code synchronously.
func (c *Context) Set(name string, value any) error {
	v, err := c.rt.ToValue(value)
	if err != nil {
		return err
	}
	c.rt.SetGlobal(name, v)
	return nil
}

// Func is the host-callable signature accepted by Set.
type Func = vm.HostFunc
