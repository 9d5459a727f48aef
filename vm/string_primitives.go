package vm

import (
	"strings"
)

// ---------------------------------------------------------------------------
// String.prototype and the String constructor
// ---------------------------------------------------------------------------

// thisString coerces the receiver of a string method.
func (ctx *Context) thisString(this Value) (string, error) {
	if this.IsNullish() {
		return "", ctx.throwTypeError("String.prototype method called on null or undefined")
	}
	return ctx.ToString(this)
}

// asciiLower folds A-Z only; the subset does not case-fold beyond ASCII.
func asciiLower(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + 32
		}
		return r
	}, s)
}

func asciiUpper(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' {
			return r - 32
		}
		return r
	}, s)
}

func (ctx *Context) installStringConstructor() {
	h := ctx.Heap
	ctor := h.NewNative(ctx.functionProto, "String", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		if len(args) == 0 {
			return h.NewString(""), nil
		}
		s, err := ctx.ToString(args[0])
		if err != nil {
			return Undefined, err
		}
		return h.NewString(s), nil
	})
	ctx.hidden(ctor, "prototype", ctx.stringProto)
	ctx.hidden(ctx.stringProto, "constructor", ctor)
	ctx.hidden(ctx.Global, "String", ctor)

	ctx.method(ctor, "fromCharCode", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		units := make([]uint16, len(args))
		for i, a := range args {
			n, err := ctx.ToNumber(a)
			if err != nil {
				return Undefined, err
			}
			units[i] = uint16(toInt32(n))
		}
		return h.NewString(unitsToString(units)), nil
	})
}

func (ctx *Context) initStringProto() {
	h := ctx.Heap
	p := ctx.stringProto

	str1 := func(name string, fn func(ctx *Context, s string, args []Value) (Value, error)) {
		ctx.method(p, name, 1, func(ctx *Context, this Value, args []Value) (Value, error) {
			s, err := ctx.thisString(this)
			if err != nil {
				return Undefined, err
			}
			return fn(ctx, s, args)
		})
	}

	str1("toString", func(ctx *Context, s string, args []Value) (Value, error) {
		return h.NewString(s), nil
	})
	str1("valueOf", func(ctx *Context, s string, args []Value) (Value, error) {
		return h.NewString(s), nil
	})
	str1("charAt", func(ctx *Context, s string, args []Value) (Value, error) {
		n, err := ctx.ToNumber(arg(args, 0))
		if err != nil {
			return Undefined, err
		}
		units := codeUnits(s)
		i := int(toIntegerOrInf(n))
		if i < 0 || i >= len(units) {
			return h.NewString(""), nil
		}
		return h.NewString(unitsToString(units[i : i+1])), nil
	})
	str1("charCodeAt", func(ctx *Context, s string, args []Value) (Value, error) {
		n, err := ctx.ToNumber(arg(args, 0))
		if err != nil {
			return Undefined, err
		}
		units := codeUnits(s)
		i := int(toIntegerOrInf(n))
		if i < 0 || i >= len(units) {
			return canonicalNaN, nil
		}
		return NumberValue(float64(units[i])), nil
	})
	str1("codePointAt", func(ctx *Context, s string, args []Value) (Value, error) {
		n, err := ctx.ToNumber(arg(args, 0))
		if err != nil {
			return Undefined, err
		}
		units := codeUnits(s)
		i := int(toIntegerOrInf(n))
		if i < 0 || i >= len(units) {
			return Undefined, nil
		}
		c := units[i]
		if c >= 0xD800 && c < 0xDC00 && i+1 < len(units) && units[i+1] >= 0xDC00 && units[i+1] < 0xE000 {
			return NumberValue(float64(0x10000 + (int(c-0xD800) << 10) + int(units[i+1]-0xDC00))), nil
		}
		return NumberValue(float64(c)), nil
	})
	str1("at", func(ctx *Context, s string, args []Value) (Value, error) {
		n, err := ctx.ToNumber(arg(args, 0))
		if err != nil {
			return Undefined, err
		}
		units := codeUnits(s)
		i := int(toIntegerOrInf(n))
		if i < 0 {
			i += len(units)
		}
		if i < 0 || i >= len(units) {
			return Undefined, nil
		}
		return h.NewString(unitsToString(units[i : i+1])), nil
	})
	str1("indexOf", func(ctx *Context, s string, args []Value) (Value, error) {
		needle, err := ctx.ToString(arg(args, 0))
		if err != nil {
			return Undefined, err
		}
		return NumberValue(float64(indexOfUnits(s, needle, 0))), nil
	})
	str1("lastIndexOf", func(ctx *Context, s string, args []Value) (Value, error) {
		needle, err := ctx.ToString(arg(args, 0))
		if err != nil {
			return Undefined, err
		}
		byteIdx := strings.LastIndex(s, needle)
		if byteIdx < 0 {
			return NumberValue(-1), nil
		}
		return NumberValue(float64(lenCodeUnits(s[:byteIdx]))), nil
	})
	str1("includes", func(ctx *Context, s string, args []Value) (Value, error) {
		needle, err := ctx.ToString(arg(args, 0))
		if err != nil {
			return Undefined, err
		}
		return BoolValue(strings.Contains(s, needle)), nil
	})
	str1("startsWith", func(ctx *Context, s string, args []Value) (Value, error) {
		needle, err := ctx.ToString(arg(args, 0))
		if err != nil {
			return Undefined, err
		}
		return BoolValue(strings.HasPrefix(s, needle)), nil
	})
	str1("endsWith", func(ctx *Context, s string, args []Value) (Value, error) {
		needle, err := ctx.ToString(arg(args, 0))
		if err != nil {
			return Undefined, err
		}
		return BoolValue(strings.HasSuffix(s, needle)), nil
	})
	str1("substring", func(ctx *Context, s string, args []Value) (Value, error) {
		units := codeUnits(s)
		n := len(units)
		start, end := 0, n
		if v := arg(args, 0); !v.IsUndefined() {
			f, err := ctx.ToNumber(v)
			if err != nil {
				return Undefined, err
			}
			start = clampAbs(f, n)
		}
		if v := arg(args, 1); !v.IsUndefined() {
			f, err := ctx.ToNumber(v)
			if err != nil {
				return Undefined, err
			}
			end = clampAbs(f, n)
		}
		if start > end {
			start, end = end, start
		}
		return h.NewString(unitsToString(units[start:end])), nil
	})
	str1("slice", func(ctx *Context, s string, args []Value) (Value, error) {
		units := codeUnits(s)
		n := len(units)
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
		return h.NewString(unitsToString(units[start:end])), nil
	})
	str1("toLowerCase", func(ctx *Context, s string, args []Value) (Value, error) {
		return h.NewString(asciiLower(s)), nil
	})
	str1("toUpperCase", func(ctx *Context, s string, args []Value) (Value, error) {
		return h.NewString(asciiUpper(s)), nil
	})
	str1("trim", func(ctx *Context, s string, args []Value) (Value, error) {
		return h.NewString(strings.TrimFunc(s, isJSSpace)), nil
	})
	str1("trimStart", func(ctx *Context, s string, args []Value) (Value, error) {
		return h.NewString(strings.TrimLeftFunc(s, isJSSpace)), nil
	})
	str1("trimEnd", func(ctx *Context, s string, args []Value) (Value, error) {
		return h.NewString(strings.TrimRightFunc(s, isJSSpace)), nil
	})
	str1("concat", func(ctx *Context, s string, args []Value) (Value, error) {
		var b strings.Builder
		b.WriteString(s)
		for _, a := range args {
			part, err := ctx.ToString(a)
			if err != nil {
				return Undefined, err
			}
			b.WriteString(part)
		}
		return h.NewString(b.String()), nil
	})
	str1("repeat", func(ctx *Context, s string, args []Value) (Value, error) {
		f, err := ctx.ToNumber(arg(args, 0))
		if err != nil {
			return Undefined, err
		}
		n := int(toIntegerOrInf(f))
		if n < 0 || f != f {
			return Undefined, ctx.throwRangeError("invalid repeat count")
		}
		ctx.Heap.charge(len(s) * n)
		return h.NewString(strings.Repeat(s, n)), nil
	})
	str1("padStart", func(ctx *Context, s string, args []Value) (Value, error) {
		return ctx.stringPad(s, args, true)
	})
	str1("padEnd", func(ctx *Context, s string, args []Value) (Value, error) {
		return ctx.stringPad(s, args, false)
	})
	str1("split", func(ctx *Context, s string, args []Value) (Value, error) {
		return ctx.stringSplit(s, args)
	})
	str1("replace", func(ctx *Context, s string, args []Value) (Value, error) {
		return ctx.stringReplace(s, args)
	})
	str1("match", func(ctx *Context, s string, args []Value) (Value, error) {
		return ctx.stringMatch(s, args)
	})
	str1("search", func(ctx *Context, s string, args []Value) (Value, error) {
		return ctx.stringSearch(s, args)
	})
}

// clampAbs clamps to [0, n] without negative-from-end semantics.
func clampAbs(f float64, n int) int {
	i := int(toIntegerOrInf(f))
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

// indexOfUnits returns a code-unit index, or -1.
func indexOfUnits(s, needle string, fromByte int) int {
	byteIdx := strings.Index(s[fromByte:], needle)
	if byteIdx < 0 {
		return -1
	}
	return lenCodeUnits(s[:fromByte+byteIdx])
}

func (ctx *Context) stringPad(s string, args []Value, atStart bool) (Value, error) {
	f, err := ctx.ToNumber(arg(args, 0))
	if err != nil {
		return Undefined, err
	}
	target := int(toIntegerOrInf(f))
	cur := lenCodeUnits(s)
	if target <= cur {
		return ctx.Heap.NewString(s), nil
	}
	pad := " "
	if v := arg(args, 1); !v.IsUndefined() {
		pad, err = ctx.ToString(v)
		if err != nil {
			return Undefined, err
		}
		if pad == "" {
			return ctx.Heap.NewString(s), nil
		}
	}
	ctx.Heap.charge(target - cur)
	padUnits := codeUnits(pad)
	fill := make([]uint16, 0, target-cur)
	for len(fill) < target-cur {
		fill = append(fill, padUnits...)
	}
	fill = fill[:target-cur]
	if atStart {
		return ctx.Heap.NewString(unitsToString(fill) + s), nil
	}
	return ctx.Heap.NewString(s + unitsToString(fill)), nil
}
