package vm

import (
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Array.prototype and the Array constructor
// ---------------------------------------------------------------------------

func (ctx *Context) requireArray(v Value, who string) (*Object, error) {
	if v.IsObject() {
		o := ctx.Heap.Obj(v)
		if o.Class == ClassArray || o.Class == ClassArguments {
			return o, nil
		}
	}
	return nil, ctx.throwTypeError("%s called on non-array", who)
}

// clampIndex resolves a possibly negative index against a length.
func clampIndex(idx float64, length int) int {
	i := int(toIntegerOrInf(idx))
	if i < 0 {
		i += length
		if i < 0 {
			i = 0
		}
	}
	if i > length {
		i = length
	}
	return i
}

func (ctx *Context) installArrayConstructor() {
	h := ctx.Heap
	ctor := h.NewNative(ctx.functionProto, "Array", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		if len(args) == 1 && args[0].IsNumber() {
			f := args[0].Number()
			n := int(f)
			if float64(n) != f || n < 0 {
				return Undefined, ctx.throwRangeError("invalid array length")
			}
			elems := make([]Value, n)
			for i := range elems {
				elems[i] = Undefined
			}
			return h.NewArray(ctx.arrayProto, elems), nil
		}
		elems := make([]Value, len(args))
		copy(elems, args)
		return h.NewArray(ctx.arrayProto, elems), nil
	})
	ctx.hidden(ctor, "prototype", ctx.arrayProto)
	ctx.hidden(ctx.arrayProto, "constructor", ctor)
	ctx.hidden(ctx.Global, "Array", ctor)

	ctx.method(ctor, "isArray", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		v := arg(args, 0)
		return BoolValue(v.IsObject() && ctx.Heap.Obj(v).Class == ClassArray), nil
	})
}

func (ctx *Context) initArrayProto() {
	h := ctx.Heap
	p := ctx.arrayProto

	ctx.method(p, "push", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireArray(this, "push")
		if err != nil {
			return Undefined, err
		}
		h.charge(valueCost * len(args))
		o.Elements = append(o.Elements, args...)
		return NumberValue(float64(len(o.Elements))), nil
	})
	ctx.method(p, "pop", 0, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireArray(this, "pop")
		if err != nil {
			return Undefined, err
		}
		if len(o.Elements) == 0 {
			return Undefined, nil
		}
		v := o.Elements[len(o.Elements)-1]
		o.Elements = o.Elements[:len(o.Elements)-1]
		return v, nil
	})
	ctx.method(p, "shift", 0, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireArray(this, "shift")
		if err != nil {
			return Undefined, err
		}
		if len(o.Elements) == 0 {
			return Undefined, nil
		}
		v := o.Elements[0]
		o.Elements = append(o.Elements[:0], o.Elements[1:]...)
		return v, nil
	})
	ctx.method(p, "unshift", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireArray(this, "unshift")
		if err != nil {
			return Undefined, err
		}
		h.charge(valueCost * len(args))
		o.Elements = append(append([]Value{}, args...), o.Elements...)
		return NumberValue(float64(len(o.Elements))), nil
	})
	ctx.method(p, "indexOf", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireArray(this, "indexOf")
		if err != nil {
			return Undefined, err
		}
		target := arg(args, 0)
		start := 0
		if len(args) > 1 {
			n, err := ctx.ToNumber(args[1])
			if err != nil {
				return Undefined, err
			}
			start = clampIndex(n, len(o.Elements))
		}
		for i := start; i < len(o.Elements); i++ {
			if ctx.StrictEquals(o.Elements[i], target) {
				return NumberValue(float64(i)), nil
			}
		}
		return NumberValue(-1), nil
	})
	ctx.method(p, "lastIndexOf", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireArray(this, "lastIndexOf")
		if err != nil {
			return Undefined, err
		}
		target := arg(args, 0)
		for i := len(o.Elements) - 1; i >= 0; i-- {
			if ctx.StrictEquals(o.Elements[i], target) {
				return NumberValue(float64(i)), nil
			}
		}
		return NumberValue(-1), nil
	})
	ctx.method(p, "includes", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireArray(this, "includes")
		if err != nil {
			return Undefined, err
		}
		target := arg(args, 0)
		for _, v := range o.Elements {
			if ctx.StrictEquals(v, target) {
				return True, nil
			}
			// includes, unlike indexOf, finds NaN.
			if v.IsNumber() && target.IsNumber() && v.Number() != v.Number() && target.Number() != target.Number() {
				return True, nil
			}
		}
		return False, nil
	})
	ctx.method(p, "join", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireArray(this, "join")
		if err != nil {
			return Undefined, err
		}
		sep := ","
		if s := arg(args, 0); !s.IsUndefined() {
			sep, err = ctx.ToString(s)
			if err != nil {
				return Undefined, err
			}
		}
		return ctx.joinElements(o.Elements, sep)
	})
	ctx.method(p, "toString", 0, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireArray(this, "toString")
		if err != nil {
			return Undefined, err
		}
		return ctx.joinElements(o.Elements, ",")
	})
	ctx.method(p, "reverse", 0, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireArray(this, "reverse")
		if err != nil {
			return Undefined, err
		}
		for i, j := 0, len(o.Elements)-1; i < j; i, j = i+1, j-1 {
			o.Elements[i], o.Elements[j] = o.Elements[j], o.Elements[i]
		}
		return this, nil
	})
	ctx.method(p, "slice", 2, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireArray(this, "slice")
		if err != nil {
			return Undefined, err
		}
		n := len(o.Elements)
		start, end := 0, n
		if v := arg(args, 0); !v.IsUndefined() {
			f, err := ctx.ToNumber(v)
			if err != nil {
				return Undefined, err
			}
			start = clampIndex(f, n)
		}
		if v := arg(args, 1); !v.IsUndefined() {
			f, err := ctx.ToNumber(v)
			if err != nil {
				return Undefined, err
			}
			end = clampIndex(f, n)
		}
		if end < start {
			end = start
		}
		out := make([]Value, end-start)
		copy(out, o.Elements[start:end])
		return h.NewArray(ctx.arrayProto, out), nil
	})
	ctx.method(p, "concat", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireArray(this, "concat")
		if err != nil {
			return Undefined, err
		}
		out := append([]Value{}, o.Elements...)
		for _, a := range args {
			if a.IsObject() && ctx.Heap.Obj(a).Class == ClassArray {
				out = append(out, ctx.Heap.Obj(a).Elements...)
			} else {
				out = append(out, a)
			}
		}
		h.charge(valueCost * len(out))
		return h.NewArray(ctx.arrayProto, out), nil
	})
	ctx.method(p, "splice", 2, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireArray(this, "splice")
		if err != nil {
			return Undefined, err
		}
		n := len(o.Elements)
		start := 0
		if v := arg(args, 0); !v.IsUndefined() {
			f, err := ctx.ToNumber(v)
			if err != nil {
				return Undefined, err
			}
			start = clampIndex(f, n)
		}
		del := n - start
		if v := arg(args, 1); !v.IsUndefined() {
			f, err := ctx.ToNumber(v)
			if err != nil {
				return Undefined, err
			}
			del = int(toIntegerOrInf(f))
			if del < 0 {
				del = 0
			}
			if del > n-start {
				del = n - start
			}
		}
		removed := make([]Value, del)
		copy(removed, o.Elements[start:start+del])
		var ins []Value
		if len(args) > 2 {
			ins = args[2:]
		}
		h.charge(valueCost * len(ins))
		out := make([]Value, 0, n-del+len(ins))
		out = append(out, o.Elements[:start]...)
		out = append(out, ins...)
		out = append(out, o.Elements[start+del:]...)
		o.Elements = out
		return h.NewArray(ctx.arrayProto, removed), nil
	})
	ctx.method(p, "fill", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireArray(this, "fill")
		if err != nil {
			return Undefined, err
		}
		v := arg(args, 0)
		for i := range o.Elements {
			o.Elements[i] = v
		}
		return this, nil
	})
	ctx.method(p, "flat", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireArray(this, "flat")
		if err != nil {
			return Undefined, err
		}
		depth := 1
		if v := arg(args, 0); !v.IsUndefined() {
			f, err := ctx.ToNumber(v)
			if err != nil {
				return Undefined, err
			}
			depth = int(toIntegerOrInf(f))
		}
		var flatten func(elems []Value, d int, out []Value) []Value
		flatten = func(elems []Value, d int, out []Value) []Value {
			for _, e := range elems {
				if d > 0 && e.IsObject() && ctx.Heap.Obj(e).Class == ClassArray {
					out = flatten(ctx.Heap.Obj(e).Elements, d-1, out)
				} else {
					out = append(out, e)
				}
			}
			return out
		}
		return h.NewArray(ctx.arrayProto, flatten(o.Elements, depth, nil)), nil
	})

	// --- callback-driven methods ---

	ctx.method(p, "forEach", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireArray(this, "forEach")
		if err != nil {
			return Undefined, err
		}
		cb := arg(args, 0)
		for i := 0; i < len(o.Elements); i++ {
			if _, err := ctx.call(cb, arg(args, 1), []Value{o.Elements[i], NumberValue(float64(i)), this}); err != nil {
				return Undefined, err
			}
		}
		return Undefined, nil
	})
	ctx.method(p, "map", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireArray(this, "map")
		if err != nil {
			return Undefined, err
		}
		cb := arg(args, 0)
		out := make([]Value, len(o.Elements))
		for i := 0; i < len(o.Elements); i++ {
			v, err := ctx.call(cb, arg(args, 1), []Value{o.Elements[i], NumberValue(float64(i)), this})
			if err != nil {
				return Undefined, err
			}
			out[i] = v
		}
		return h.NewArray(ctx.arrayProto, out), nil
	})
	ctx.method(p, "filter", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireArray(this, "filter")
		if err != nil {
			return Undefined, err
		}
		cb := arg(args, 0)
		var out []Value
		for i := 0; i < len(o.Elements); i++ {
			keep, err := ctx.call(cb, arg(args, 1), []Value{o.Elements[i], NumberValue(float64(i)), this})
			if err != nil {
				return Undefined, err
			}
			if ctx.ToBoolean(keep) {
				out = append(out, o.Elements[i])
			}
		}
		return h.NewArray(ctx.arrayProto, out), nil
	})
	ctx.method(p, "find", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		v, _, err := ctx.arrayFind(this, args, "find")
		return v, err
	})
	ctx.method(p, "findIndex", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		_, idx, err := ctx.arrayFind(this, args, "findIndex")
		if err != nil {
			return Undefined, err
		}
		return NumberValue(float64(idx)), nil
	})
	ctx.method(p, "some", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		_, idx, err := ctx.arrayFind(this, args, "some")
		if err != nil {
			return Undefined, err
		}
		return BoolValue(idx >= 0), nil
	})
	ctx.method(p, "every", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireArray(this, "every")
		if err != nil {
			return Undefined, err
		}
		cb := arg(args, 0)
		for i := 0; i < len(o.Elements); i++ {
			ok, err := ctx.call(cb, Undefined, []Value{o.Elements[i], NumberValue(float64(i)), this})
			if err != nil {
				return Undefined, err
			}
			if !ctx.ToBoolean(ok) {
				return False, nil
			}
		}
		return True, nil
	})
	ctx.method(p, "reduce", 2, func(ctx *Context, this Value, args []Value) (Value, error) {
		return ctx.arrayReduce(this, args, false)
	})
	ctx.method(p, "reduceRight", 2, func(ctx *Context, this Value, args []Value) (Value, error) {
		return ctx.arrayReduce(this, args, true)
	})
	ctx.method(p, "sort", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireArray(this, "sort")
		if err != nil {
			return Undefined, err
		}
		cmp := arg(args, 0)
		var sortErr error
		sort.SliceStable(o.Elements, func(i, j int) bool {
			if sortErr != nil {
				return false
			}
			a, b := o.Elements[i], o.Elements[j]
			if a.IsUndefined() {
				return false
			}
			if b.IsUndefined() {
				return true
			}
			if ctx.isCallable(cmp) {
				r, err := ctx.call(cmp, Undefined, []Value{a, b})
				if err != nil {
					sortErr = err
					return false
				}
				n, err := ctx.ToNumber(r)
				if err != nil {
					sortErr = err
					return false
				}
				return n < 0
			}
			sa, err := ctx.ToString(a)
			if err != nil {
				sortErr = err
				return false
			}
			sb, err := ctx.ToString(b)
			if err != nil {
				sortErr = err
				return false
			}
			return sa < sb
		})
		if sortErr != nil {
			return Undefined, sortErr
		}
		return this, nil
	})
	ctx.method(p, "at", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.requireArray(this, "at")
		if err != nil {
			return Undefined, err
		}
		f, err := ctx.ToNumber(arg(args, 0))
		if err != nil {
			return Undefined, err
		}
		i := int(toIntegerOrInf(f))
		if i < 0 {
			i += len(o.Elements)
		}
		if i < 0 || i >= len(o.Elements) {
			return Undefined, nil
		}
		return o.Elements[i], nil
	})
}

func (ctx *Context) arrayFind(this Value, args []Value, who string) (Value, int, error) {
	o, err := ctx.requireArray(this, who)
	if err != nil {
		return Undefined, -1, err
	}
	cb := arg(args, 0)
	for i := 0; i < len(o.Elements); i++ {
		ok, err := ctx.call(cb, arg(args, 1), []Value{o.Elements[i], NumberValue(float64(i)), this})
		if err != nil {
			return Undefined, -1, err
		}
		if ctx.ToBoolean(ok) {
			return o.Elements[i], i, nil
		}
	}
	return Undefined, -1, nil
}

func (ctx *Context) arrayReduce(this Value, args []Value, fromRight bool) (Value, error) {
	o, err := ctx.requireArray(this, "reduce")
	if err != nil {
		return Undefined, err
	}
	cb := arg(args, 0)
	n := len(o.Elements)
	idx := func(i int) int {
		if fromRight {
			return n - 1 - i
		}
		return i
	}
	i := 0
	var acc Value
	if len(args) > 1 {
		acc = args[1]
	} else {
		if n == 0 {
			return Undefined, ctx.throwTypeError("reduce of empty array with no initial value")
		}
		acc = o.Elements[idx(0)]
		i = 1
	}
	for ; i < n; i++ {
		j := idx(i)
		v, err := ctx.call(cb, Undefined, []Value{acc, o.Elements[j], NumberValue(float64(j)), this})
		if err != nil {
			return Undefined, err
		}
		acc = v
	}
	return acc, nil
}

// joinElements renders elements with null/undefined as empty strings.
func (ctx *Context) joinElements(elems []Value, sep string) (Value, error) {
	var b strings.Builder
	for i, e := range elems {
		if i > 0 {
			b.WriteString(sep)
		}
		if e.IsNullish() {
			continue
		}
		s, err := ctx.ToString(e)
		if err != nil {
			return Undefined, err
		}
		b.WriteString(s)
	}
	return ctx.Heap.NewString(b.String()), nil
}
