package vm

import (
	"math"
	"math/rand"
	"time"
)

func mathRandom() float64 { return rand.Float64() }

// ---------------------------------------------------------------------------
// Context bootstrap: prototypes and standard globals
// ---------------------------------------------------------------------------

// arg returns args[i] or undefined, the calling convention every builtin
// uses for optional parameters.
func arg(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return Undefined
}

// method installs a builtin function as a hidden property.
func (ctx *Context) method(obj Value, name string, arity int, fn func(ctx *Context, this Value, args []Value) (Value, error)) {
	v := ctx.Heap.NewNative(ctx.functionProto, name, arity, fn)
	ctx.Heap.Obj(obj).setHidden(ctx.Heap, name, v)
}

// hidden installs a non-enumerated data property.
func (ctx *Context) hidden(obj Value, name string, v Value) {
	ctx.Heap.Obj(obj).setHidden(ctx.Heap, name, v)
}

func (ctx *Context) bootstrap() {
	h := ctx.Heap

	ctx.objectProto = h.NewObject(Null)
	ctx.functionProto = h.NewObject(ctx.objectProto)
	ctx.arrayProto = h.NewObject(ctx.objectProto)
	ctx.stringProto = h.NewObject(ctx.objectProto)
	ctx.numberProto = h.NewObject(ctx.objectProto)
	ctx.booleanProto = h.NewObject(ctx.objectProto)
	ctx.errorProto = h.NewObject(ctx.objectProto)
	ctx.regexpProto = h.NewObject(ctx.objectProto)

	ctx.Global = h.NewObject(ctx.objectProto)

	ctx.initObjectProto()
	ctx.initFunctionProto()
	ctx.initArrayProto()
	ctx.initStringProto()
	ctx.initErrorClasses()
	ctx.initRegexpProto()

	g := ctx.Global
	ctx.hidden(g, "globalThis", g)
	ctx.hidden(g, "undefined", Undefined)
	ctx.hidden(g, "NaN", NumberValue(math.NaN()))
	ctx.hidden(g, "Infinity", NumberValue(math.Inf(1)))

	ctx.installObjectConstructor()
	ctx.installArrayConstructor()
	ctx.installStringConstructor()
	ctx.installNumberConstructor()
	ctx.installBooleanConstructor()
	ctx.installRegExpConstructor()
	ctx.installMath()
	ctx.installJSON()

	// Date is limited to current wall-clock time.
	date := h.NewObject(ctx.objectProto)
	ctx.method(date, "now", 0, func(ctx *Context, this Value, args []Value) (Value, error) {
		return NumberValue(float64(time.Now().UnixMilli())), nil
	})
	ctx.hidden(g, "Date", date)

	ctx.method(g, "parseInt", 2, builtinParseInt)
	ctx.method(g, "parseFloat", 1, builtinParseFloat)
	ctx.method(g, "isNaN", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		n, err := ctx.ToNumber(arg(args, 0))
		if err != nil {
			return Undefined, err
		}
		return BoolValue(n != n), nil
	})
	ctx.method(g, "isFinite", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		n, err := ctx.ToNumber(arg(args, 0))
		if err != nil {
			return Undefined, err
		}
		return BoolValue(!math.IsNaN(n) && !math.IsInf(n, 0)), nil
	})
}

// installMath populates the Math namespace.
func (ctx *Context) installMath() {
	h := ctx.Heap
	m := h.NewObject(ctx.objectProto)
	ctx.hidden(ctx.Global, "Math", m)

	ctx.hidden(m, "PI", NumberValue(math.Pi))
	ctx.hidden(m, "E", NumberValue(math.E))
	ctx.hidden(m, "LN2", NumberValue(math.Ln2))
	ctx.hidden(m, "LN10", NumberValue(math.Log(10)))
	ctx.hidden(m, "LOG2E", NumberValue(math.Log2E))
	ctx.hidden(m, "LOG10E", NumberValue(math.Log10E))
	ctx.hidden(m, "SQRT2", NumberValue(math.Sqrt2))
	ctx.hidden(m, "SQRT1_2", NumberValue(math.Sqrt(0.5)))

	unary := func(name string, fn func(float64) float64) {
		ctx.method(m, name, 1, func(ctx *Context, this Value, args []Value) (Value, error) {
			n, err := ctx.ToNumber(arg(args, 0))
			if err != nil {
				return Undefined, err
			}
			return NumberValue(fn(n)), nil
		})
	}
	unary("abs", math.Abs)
	unary("floor", math.Floor)
	unary("ceil", math.Ceil)
	unary("sqrt", math.Sqrt)
	unary("cbrt", math.Cbrt)
	unary("sin", math.Sin)
	unary("cos", math.Cos)
	unary("tan", math.Tan)
	unary("asin", math.Asin)
	unary("acos", math.Acos)
	unary("atan", math.Atan)
	unary("sinh", math.Sinh)
	unary("cosh", math.Cosh)
	unary("tanh", math.Tanh)
	unary("exp", math.Exp)
	unary("log", math.Log)
	unary("log2", math.Log2)
	unary("log10", math.Log10)
	unary("trunc", math.Trunc)
	unary("sign", func(f float64) float64 {
		switch {
		case f != f:
			return f
		case f > 0:
			return 1
		case f < 0:
			return -1
		}
		return f // preserves signed zero
	})
	unary("round", func(f float64) float64 {
		// Halfway cases round toward positive infinity.
		return math.Floor(f + 0.5)
	})
	unary("fround", func(f float64) float64 { return float64(float32(f)) })

	ctx.method(m, "atan2", 2, func(ctx *Context, this Value, args []Value) (Value, error) {
		y, err := ctx.ToNumber(arg(args, 0))
		if err != nil {
			return Undefined, err
		}
		x, err := ctx.ToNumber(arg(args, 1))
		if err != nil {
			return Undefined, err
		}
		return NumberValue(math.Atan2(y, x)), nil
	})
	ctx.method(m, "pow", 2, func(ctx *Context, this Value, args []Value) (Value, error) {
		a, err := ctx.ToNumber(arg(args, 0))
		if err != nil {
			return Undefined, err
		}
		b, err := ctx.ToNumber(arg(args, 1))
		if err != nil {
			return Undefined, err
		}
		return NumberValue(jsPow(a, b)), nil
	})
	ctx.method(m, "hypot", 2, func(ctx *Context, this Value, args []Value) (Value, error) {
		sum := 0.0
		for _, a := range args {
			n, err := ctx.ToNumber(a)
			if err != nil {
				return Undefined, err
			}
			sum += n * n
		}
		return NumberValue(math.Sqrt(sum)), nil
	})
	ctx.method(m, "max", 2, func(ctx *Context, this Value, args []Value) (Value, error) {
		return ctx.mathMinMax(args, true)
	})
	ctx.method(m, "min", 2, func(ctx *Context, this Value, args []Value) (Value, error) {
		return ctx.mathMinMax(args, false)
	})
	ctx.method(m, "random", 0, func(ctx *Context, this Value, args []Value) (Value, error) {
		return NumberValue(mathRandom()), nil
	})
}

func (ctx *Context) mathMinMax(args []Value, wantMax bool) (Value, error) {
	best := math.Inf(-1)
	if !wantMax {
		best = math.Inf(1)
	}
	for _, a := range args {
		n, err := ctx.ToNumber(a)
		if err != nil {
			return Undefined, err
		}
		if n != n {
			return NumberValue(math.NaN()), nil
		}
		if wantMax && n > best || !wantMax && n < best {
			best = n
		}
	}
	return NumberValue(best), nil
}
