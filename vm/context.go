package vm

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/microjs/regex"
)

// ---------------------------------------------------------------------------
// Context: one isolated sandbox
// ---------------------------------------------------------------------------

// Options configure a context. The zero value means unbounded execution.
type Options struct {
	// MemoryLimit caps heap allocation in bytes. 0 = unbounded.
	MemoryLimit int
	// TimeLimit caps wall-clock execution per Run call. 0 = unbounded.
	TimeLimit time.Duration
	// Poll is invoked every PollInterval instructions; a true return aborts
	// execution with TimeLimitError.
	Poll func() bool
	// PollInterval is the instruction count between budget checks.
	// Defaults to 100.
	PollInterval int
	// RegexStackLimit bounds the regex backtrack stack. Defaults to 10000.
	RegexStackLimit int
}

// Context owns a heap, a global object and budget counters. Contexts share
// nothing; one context runs one program at a time.
type Context struct {
	ID   string
	Heap *Heap

	Global Value

	// Built-in prototypes, installed at construction.
	objectProto   Value
	functionProto Value
	arrayProto    Value
	stringProto   Value
	numberProto   Value
	booleanProto  Value
	errorProto    Value
	regexpProto   Value
	errorProtos   map[string]Value // subtype name -> prototype

	// Budget.
	timeLimit    time.Duration
	deadline     time.Time
	poll         func() bool
	pollInterval int
	regexStack   int
	steps        int

	// Execution state (one interpreter per context; no internal parallelism).
	frames []*frame

	// Per-context compiled-regex cache for regexp literals.
	regexCache map[*FunctionProto][]*regex.Program
}

// NewContext creates an isolated context and installs the standard globals.
func NewContext(opts Options) *Context {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100
	}
	if opts.RegexStackLimit <= 0 {
		opts.RegexStackLimit = 10000
	}
	ctx := &Context{
		ID:           uuid.NewString(),
		Heap:         NewHeap(opts.MemoryLimit),
		timeLimit:    opts.TimeLimit,
		poll:         opts.Poll,
		pollInterval: opts.PollInterval,
		regexStack:   opts.RegexStackLimit,
		errorProtos:  make(map[string]Value),
		regexCache:   make(map[*FunctionProto][]*regex.Program),
	}
	ctx.bootstrap()
	return ctx
}

// Run executes a compiled top-level function and returns its completion
// value. Budget and regex-abort panics are converted to the typed errors of
// the embedding contract here; any other panic is re-raised.
func (ctx *Context) Run(proto *FunctionProto) (result Value, err error) {
	if ctx.timeLimit > 0 {
		ctx.deadline = time.Now().Add(ctx.timeLimit)
	} else {
		ctx.deadline = time.Time{}
	}
	ctx.steps = 0

	defer func() {
		if r := recover(); r != nil {
			ctx.frames = ctx.frames[:0]
			switch r.(type) {
			case memoryLimitPanic:
				err = &MemoryLimitError{}
			case timeLimitPanic:
				err = &TimeLimitError{}
			case regexAbortPanic:
				err = &RegexAbortError{Err: r.(regexAbortPanic).err}
			default:
				panic(r)
			}
		}
	}()

	closure := &Closure{Proto: proto, This: Undefined}
	fnVal := ctx.Heap.NewClosure(ctx.functionProto, closure)
	result, callErr := ctx.call(fnVal, ctx.Global, nil)
	if callErr != nil {
		return Undefined, ctx.runtimeError(callErr)
	}
	return result, nil
}

// runtimeError converts an internal error into the embedder-facing kind.
func (ctx *Context) runtimeError(err error) error {
	t, ok := err.(*Thrown)
	if !ok {
		return err
	}
	re := &RuntimeError{Value: t.Value}
	re.Message = ctx.errorString(t.Value)
	if t.Value.IsObject() {
		o := ctx.Heap.Obj(t.Value)
		if line := o.own("lineNumber"); line != nil && line.Value.IsNumber() {
			re.Line = int(line.Value.Number())
		}
		if col := o.own("columnNumber"); col != nil && col.Value.IsNumber() {
			re.Column = int(col.Value.Number())
		}
	}
	return re
}

// errorString renders a thrown value for diagnostics without running user
// code (a throwing toString must not mask the original error).
func (ctx *Context) errorString(v Value) string {
	switch {
	case v.IsString():
		return ctx.Heap.Str(v)
	case v.IsNumber():
		return FormatNumber(v.Number())
	case v.IsObject():
		o := ctx.Heap.Obj(v)
		name, msg := "Error", ""
		if p := ctx.lookup(o, "name"); p != nil && !p.Accessor && p.Value.IsString() {
			name = ctx.Heap.Str(p.Value)
		}
		if p := ctx.lookup(o, "message"); p != nil && !p.Accessor && p.Value.IsString() {
			msg = ctx.Heap.Str(p.Value)
		}
		if o.Class == ClassError {
			if msg == "" {
				return name
			}
			return name + ": " + msg
		}
		return "[object Object]"
	case v.IsBool():
		return fmt.Sprintf("%v", v.Bool())
	case v.IsNull():
		return "null"
	default:
		return "undefined"
	}
}

// checkBudget is the cooperative poll: every pollInterval instructions the
// wall clock and the host callback are consulted.
func (ctx *Context) checkBudget() {
	ctx.steps++
	if ctx.steps%ctx.pollInterval != 0 {
		return
	}
	if !ctx.deadline.IsZero() && time.Now().After(ctx.deadline) {
		panic(timeLimitPanic{})
	}
	if ctx.poll != nil && ctx.poll() {
		panic(timeLimitPanic{})
	}
}

// regexPoll is the poll contract handed to the regex engine; it folds the
// context clock into the host callback.
func (ctx *Context) regexPoll() bool {
	if !ctx.deadline.IsZero() && time.Now().After(ctx.deadline) {
		return true
	}
	return ctx.poll != nil && ctx.poll()
}

// ---------------------------------------------------------------------------
// Globals access
// ---------------------------------------------------------------------------

// GetGlobal reads a property of the global object.
func (ctx *Context) GetGlobal(name string) Value {
	g := ctx.Heap.Obj(ctx.Global)
	if p := g.own(name); p != nil && !p.Accessor {
		return p.Value
	}
	return Undefined
}

// SetGlobal writes a property of the global object.
func (ctx *Context) SetGlobal(name string, v Value) {
	ctx.Heap.Obj(ctx.Global).setOwn(ctx.Heap, name, v)
}
