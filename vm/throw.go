package vm

import "fmt"

// ---------------------------------------------------------------------------
// Raising catchable errors from inside the VM and builtins
// ---------------------------------------------------------------------------

// NewError builds an error object of the given subtype ("TypeError", ...).
func (ctx *Context) NewError(kind, message string) Value {
	proto, ok := ctx.errorProtos[kind]
	if !ok {
		proto = ctx.errorProto
	}
	v := ctx.Heap.addObject(&Object{Class: ClassError, Proto: proto})
	ctx.Heap.Obj(v).setOwn(ctx.Heap, "message", ctx.Heap.NewString(message))
	return v
}

// Throw wraps a value as a pending JavaScript exception.
func (ctx *Context) Throw(v Value) error {
	return &Thrown{Value: v}
}

func (ctx *Context) throwError(kind, format string, args ...any) error {
	return &Thrown{Value: ctx.NewError(kind, fmt.Sprintf(format, args...))}
}

func (ctx *Context) throwTypeError(format string, args ...any) error {
	return ctx.throwError("TypeError", format, args...)
}

func (ctx *Context) throwRangeError(format string, args ...any) error {
	return ctx.throwError("RangeError", format, args...)
}

func (ctx *Context) throwReferenceError(format string, args ...any) error {
	return ctx.throwError("ReferenceError", format, args...)
}

func (ctx *Context) throwSyntaxError(format string, args ...any) error {
	return ctx.throwError("SyntaxError", format, args...)
}
