package vm

// ---------------------------------------------------------------------------
// Function.prototype: call, apply, bind
// ---------------------------------------------------------------------------

func (ctx *Context) initFunctionProto() {
	p := ctx.functionProto

	ctx.method(p, "call", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		if !ctx.isCallable(this) {
			return Undefined, ctx.throwTypeError("Function.prototype.call called on non-callable")
		}
		var rest []Value
		if len(args) > 1 {
			rest = args[1:]
		}
		return ctx.call(this, arg(args, 0), rest)
	})

	ctx.method(p, "apply", 2, func(ctx *Context, this Value, args []Value) (Value, error) {
		if !ctx.isCallable(this) {
			return Undefined, ctx.throwTypeError("Function.prototype.apply called on non-callable")
		}
		list := arg(args, 1)
		var callArgs []Value
		if !list.IsNullish() {
			if !list.IsObject() {
				return Undefined, ctx.throwTypeError("apply arguments must be an array")
			}
			o := ctx.Heap.Obj(list)
			if o.Class != ClassArray && o.Class != ClassArguments {
				return Undefined, ctx.throwTypeError("apply arguments must be an array")
			}
			callArgs = append(callArgs, o.Elements...)
		}
		return ctx.call(this, arg(args, 0), callArgs)
	})

	ctx.method(p, "bind", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		if !ctx.isCallable(this) {
			return Undefined, ctx.throwTypeError("Function.prototype.bind called on non-callable")
		}
		target := this
		boundThis := arg(args, 0)
		bound := make([]Value, 0, len(args))
		if len(args) > 1 {
			bound = append(bound, args[1:]...)
		}
		name := "bound " + ctx.fnName(ctx.Heap.Obj(this))
		return ctx.Heap.NewNative(ctx.functionProto, name, 0,
			func(ctx *Context, _ Value, callArgs []Value) (Value, error) {
				all := make([]Value, 0, len(bound)+len(callArgs))
				all = append(all, bound...)
				all = append(all, callArgs...)
				return ctx.call(target, boundThis, all)
			}), nil
	})

	ctx.method(p, "toString", 0, func(ctx *Context, this Value, args []Value) (Value, error) {
		if !this.IsObject() || !ctx.Heap.Obj(this).IsCallable() {
			return Undefined, ctx.throwTypeError("Function.prototype.toString called on non-callable")
		}
		name := ctx.fnName(ctx.Heap.Obj(this))
		return ctx.Heap.NewString("function " + name + "() { [bytecode] }"), nil
	})
}
