package vm

// ---------------------------------------------------------------------------
// Object.prototype and the Object constructor
// ---------------------------------------------------------------------------

func (ctx *Context) initObjectProto() {
	p := ctx.objectProto

	ctx.method(p, "toString", 0, func(ctx *Context, this Value, args []Value) (Value, error) {
		return ctx.Heap.NewString("[object Object]"), nil
	})
	ctx.method(p, "valueOf", 0, func(ctx *Context, this Value, args []Value) (Value, error) {
		return this, nil
	})
	ctx.method(p, "hasOwnProperty", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		key, err := ctx.ToString(arg(args, 0))
		if err != nil {
			return Undefined, err
		}
		if !this.IsObject() {
			return False, nil
		}
		o := ctx.Heap.Obj(this)
		if o.Class == ClassArray || o.Class == ClassArguments {
			if i := arrayIndex(key); i >= 0 {
				return BoolValue(i < len(o.Elements)), nil
			}
			if key == "length" {
				return True, nil
			}
		}
		return BoolValue(o.findOwn(key) >= 0), nil
	})
	ctx.method(p, "isPrototypeOf", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		v := arg(args, 0)
		if !v.IsObject() || !this.IsObject() {
			return False, nil
		}
		proto := ctx.Heap.Obj(v).Proto
		for proto.IsObject() {
			if proto == this {
				return True, nil
			}
			proto = ctx.Heap.Obj(proto).Proto
		}
		return False, nil
	})
}

func (ctx *Context) installObjectConstructor() {
	h := ctx.Heap
	ctor := h.NewNative(ctx.functionProto, "Object", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		v := arg(args, 0)
		if v.IsObject() {
			return v, nil
		}
		return h.NewObject(ctx.objectProto), nil
	})
	ctx.hidden(ctor, "prototype", ctx.objectProto)
	ctx.hidden(ctx.objectProto, "constructor", ctor)
	ctx.hidden(ctx.Global, "Object", ctor)

	ctx.method(ctor, "keys", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireObject(arg(args, 0), "Object.keys")
		if err != nil {
			return Undefined, err
		}
		keys := o.OwnKeys()
		elems := make([]Value, len(keys))
		for i, k := range keys {
			elems[i] = h.NewString(k)
		}
		return h.NewArray(ctx.arrayProto, elems), nil
	})
	ctx.method(ctor, "values", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		v := arg(args, 0)
		o, err := ctx.requireObject(v, "Object.values")
		if err != nil {
			return Undefined, err
		}
		var elems []Value
		for _, k := range o.OwnKeys() {
			val, err := ctx.GetProp(v, k)
			if err != nil {
				return Undefined, err
			}
			elems = append(elems, val)
		}
		return h.NewArray(ctx.arrayProto, elems), nil
	})
	ctx.method(ctor, "entries", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		v := arg(args, 0)
		o, err := ctx.requireObject(v, "Object.entries")
		if err != nil {
			return Undefined, err
		}
		var elems []Value
		for _, k := range o.OwnKeys() {
			val, err := ctx.GetProp(v, k)
			if err != nil {
				return Undefined, err
			}
			pair := h.NewArray(ctx.arrayProto, []Value{h.NewString(k), val})
			elems = append(elems, pair)
		}
		return h.NewArray(ctx.arrayProto, elems), nil
	})
	ctx.method(ctor, "assign", 2, func(ctx *Context, this Value, args []Value) (Value, error) {
		target := arg(args, 0)
		if _, err := ctx.requireObject(target, "Object.assign"); err != nil {
			return Undefined, err
		}
		for _, src := range args[1:] {
			if !src.IsObject() {
				continue
			}
			for _, k := range ctx.Heap.Obj(src).OwnKeys() {
				val, err := ctx.GetProp(src, k)
				if err != nil {
					return Undefined, err
				}
				if err := ctx.SetProp(target, k, val); err != nil {
					return Undefined, err
				}
			}
		}
		return target, nil
	})
	ctx.method(ctor, "create", 2, func(ctx *Context, this Value, args []Value) (Value, error) {
		proto := arg(args, 0)
		if !proto.IsObject() && !proto.IsNull() {
			return Undefined, ctx.throwTypeError("Object prototype may only be an object or null")
		}
		obj := h.NewObject(proto)
		if props := arg(args, 1); props.IsObject() {
			return Undefined, ctx.throwTypeError("property descriptors are not supported")
		}
		return obj, nil
	})
	ctx.method(ctor, "getPrototypeOf", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireObject(arg(args, 0), "Object.getPrototypeOf")
		if err != nil {
			return Undefined, err
		}
		return o.Proto, nil
	})
	ctx.method(ctor, "freeze", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		v := arg(args, 0)
		if v.IsObject() {
			ctx.Heap.Obj(v).Frozen = true
		}
		return v, nil
	})
	ctx.method(ctor, "isFrozen", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		v := arg(args, 0)
		if !v.IsObject() {
			return True, nil
		}
		return BoolValue(ctx.Heap.Obj(v).Frozen), nil
	})
	ctx.method(ctor, "getOwnPropertyNames", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireObject(arg(args, 0), "Object.getOwnPropertyNames")
		if err != nil {
			return Undefined, err
		}
		keys := o.OwnKeys()
		if o.Class == ClassArray || o.Class == ClassArguments {
			keys = append(keys, "length")
		}
		elems := make([]Value, len(keys))
		for i, k := range keys {
			elems[i] = h.NewString(k)
		}
		return h.NewArray(ctx.arrayProto, elems), nil
	})
}

func (ctx *Context) requireObject(v Value, who string) (*Object, error) {
	if !v.IsObject() {
		return nil, ctx.throwTypeError("%s called on non-object", who)
	}
	return ctx.Heap.Obj(v), nil
}
