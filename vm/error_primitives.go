package vm

// ---------------------------------------------------------------------------
// Error hierarchy
// ---------------------------------------------------------------------------

var errorSubtypes = []string{
	"TypeError", "RangeError", "ReferenceError", "SyntaxError", "EvalError",
}

func (ctx *Context) initErrorClasses() {
	h := ctx.Heap

	ctx.hidden(ctx.errorProto, "name", h.NewString("Error"))
	ctx.hidden(ctx.errorProto, "message", h.NewString(""))
	ctx.method(ctx.errorProto, "toString", 0, func(ctx *Context, this Value, args []Value) (Value, error) {
		name, err := ctx.errorPart(this, "name", "Error")
		if err != nil {
			return Undefined, err
		}
		msg, err := ctx.errorPart(this, "message", "")
		if err != nil {
			return Undefined, err
		}
		switch {
		case msg == "":
			return h.NewString(name), nil
		case name == "":
			return h.NewString(msg), nil
		default:
			return h.NewString(name + ": " + msg), nil
		}
	})

	makeCtor := func(name string, proto Value) Value {
		ctor := h.NewNative(ctx.functionProto, name, 1, func(ctx *Context, this Value, args []Value) (Value, error) {
			e := h.addObject(&Object{Class: ClassError, Proto: proto})
			if msg := arg(args, 0); !msg.IsUndefined() {
				s, err := ctx.ToString(msg)
				if err != nil {
					return Undefined, err
				}
				h.Obj(e).setOwn(h, "message", h.NewString(s))
			}
			return e, nil
		})
		ctx.hidden(ctor, "prototype", proto)
		ctx.hidden(proto, "constructor", ctor)
		ctx.hidden(ctx.Global, name, ctor)
		return ctor
	}

	makeCtor("Error", ctx.errorProto)
	for _, name := range errorSubtypes {
		proto := h.NewObject(ctx.errorProto)
		ctx.hidden(proto, "name", h.NewString(name))
		ctx.errorProtos[name] = proto
		makeCtor(name, proto)
	}
}

// errorPart reads a string-valued property without running user getters.
func (ctx *Context) errorPart(v Value, key, fallback string) (string, error) {
	if !v.IsObject() {
		return fallback, nil
	}
	p := ctx.lookup(ctx.Heap.Obj(v), key)
	if p == nil || p.Accessor {
		return fallback, nil
	}
	if p.Value.IsUndefined() {
		return fallback, nil
	}
	return ctx.ToString(p.Value)
}
