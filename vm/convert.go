package vm

import (
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Abstract operations: coercion, equality, ordering
// ---------------------------------------------------------------------------

// ToBoolean implements the truthiness rules.
func (ctx *Context) ToBoolean(v Value) bool {
	switch {
	case v.IsBool():
		return v.Bool()
	case v.IsNumber():
		f := v.Number()
		return f != 0 && f == f
	case v.IsString():
		return ctx.Heap.Str(v) != ""
	case v.IsUndefined(), v.IsNull():
		return false
	default:
		return true
	}
}

// ToNumber coerces a value to a number.
func (ctx *Context) ToNumber(v Value) (float64, error) {
	switch {
	case v.IsNumber():
		return v.Number(), nil
	case v.IsBool():
		if v.Bool() {
			return 1, nil
		}
		return 0, nil
	case v.IsUndefined():
		return math.NaN(), nil
	case v.IsNull():
		return 0, nil
	case v.IsString():
		return stringToNumber(ctx.Heap.Str(v)), nil
	default:
		prim, err := ctx.ToPrimitive(v, "number")
		if err != nil {
			return 0, err
		}
		if prim.IsObject() {
			return 0, ctx.throwTypeError("cannot convert object to number")
		}
		return ctx.ToNumber(prim)
	}
}

// ToString coerces a value to a string.
func (ctx *Context) ToString(v Value) (string, error) {
	switch {
	case v.IsString():
		return ctx.Heap.Str(v), nil
	case v.IsNumber():
		return FormatNumber(v.Number()), nil
	case v.IsBool():
		if v.Bool() {
			return "true", nil
		}
		return "false", nil
	case v.IsUndefined():
		return "undefined", nil
	case v.IsNull():
		return "null", nil
	default:
		prim, err := ctx.ToPrimitive(v, "string")
		if err != nil {
			return "", err
		}
		if prim.IsObject() {
			return "", ctx.throwTypeError("cannot convert object to string")
		}
		return ctx.ToString(prim)
	}
}

// ToPrimitive converts an object to a primitive, calling its valueOf and
// toString in the order the hint demands.
func (ctx *Context) ToPrimitive(v Value, hint string) (Value, error) {
	if !v.IsObject() {
		return v, nil
	}
	methods := []string{"valueOf", "toString"}
	if hint == "string" {
		methods = []string{"toString", "valueOf"}
	}
	for _, name := range methods {
		m, err := ctx.GetProp(v, name)
		if err != nil {
			return Undefined, err
		}
		if !ctx.isCallable(m) {
			continue
		}
		res, err := ctx.call(m, v, nil)
		if err != nil {
			return Undefined, err
		}
		if !res.IsObject() {
			return res, nil
		}
	}
	return Undefined, ctx.throwTypeError("cannot convert object to primitive value")
}

// ToInt32 coerces a value through the 32-bit two's-complement conversion.
func (ctx *Context) ToInt32(v Value) (int32, error) {
	f, err := ctx.ToNumber(v)
	if err != nil {
		return 0, err
	}
	return toInt32(f), nil
}

// ToUint32 coerces to an unsigned 32-bit integer.
func (ctx *Context) ToUint32(v Value) (uint32, error) {
	f, err := ctx.ToNumber(v)
	if err != nil {
		return 0, err
	}
	return uint32(toInt32(f)), nil
}

func toInt32(f float64) int32 {
	if f != f || math.IsInf(f, 0) {
		return 0
	}
	return int32(uint32(int64(math.Trunc(f))))
}

// toIntegerOrInf truncates toward zero, mapping NaN to 0.
func toIntegerOrInf(f float64) float64 {
	if f != f {
		return 0
	}
	return math.Trunc(f)
}

// ---------------------------------------------------------------------------
// Number <-> string
// ---------------------------------------------------------------------------

// FormatNumber renders a number with the source language's ToString rules:
// shortest round-trip digits, plain decimal notation for exponents in
// [-6, 21), exponent notation outside.
func FormatNumber(f float64) string {
	if f != f {
		return "NaN"
	}
	if math.IsInf(f, 1) {
		return "Infinity"
	}
	if math.IsInf(f, -1) {
		return "-Infinity"
	}
	if f == 0 {
		return "0"
	}
	mant := strconv.FormatFloat(math.Abs(f), 'e', -1, 64)
	epos := strings.IndexByte(mant, 'e')
	digits := strings.Replace(mant[:epos], ".", "", 1)
	exp, _ := strconv.Atoi(mant[epos+1:])
	n := exp + 1 // decimal point position
	k := len(digits)
	var s string
	switch {
	case k <= n && n <= 21:
		s = digits + strings.Repeat("0", n-k)
	case 0 < n && n <= 21:
		s = digits[:n] + "." + digits[n:]
	case -6 < n && n <= 0:
		s = "0." + strings.Repeat("0", -n) + digits
	default:
		e := n - 1
		m := digits[:1]
		if k > 1 {
			m += "." + digits[1:]
		}
		sign := "+"
		if e < 0 {
			sign = "-"
			e = -e
		}
		s = m + "e" + sign + strconv.Itoa(e)
	}
	if f < 0 {
		s = "-" + s
	}
	return s
}

// stringToNumber implements ToNumber on strings: trimmed decimal, hex,
// octal and binary literals, Infinity, empty string is zero.
func stringToNumber(s string) float64 {
	s = strings.TrimFunc(s, isJSSpace)
	if s == "" {
		return 0
	}
	sign := 1.0
	body := s
	if body[0] == '+' || body[0] == '-' {
		if body[0] == '-' {
			sign = -1
		}
		body = body[1:]
	}
	if body == "Infinity" {
		return sign * math.Inf(1)
	}
	if len(body) > 2 && body[0] == '0' {
		var base int
		switch body[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			// Radix literals reject signs in the source language.
			if sign < 0 || s[0] == '+' {
				return math.NaN()
			}
			n, err := strconv.ParseUint(body[2:], base, 64)
			if err != nil {
				return math.NaN()
			}
			return float64(n)
		}
	}
	f, err := strconv.ParseFloat(body, 64)
	if err != nil {
		return math.NaN()
	}
	return sign * f
}

func isJSSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f', 0x00A0, 0x2028, 0x2029, 0xFEFF:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Equality and ordering
// ---------------------------------------------------------------------------

// StrictEquals implements ===: same type, bit-identical value, NaN unequal
// to itself, +0 equal to -0, objects by identity.
func (ctx *Context) StrictEquals(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		return a.Number() == b.Number()
	}
	if a.IsString() && b.IsString() {
		return ctx.Heap.Str(a) == ctx.Heap.Str(b)
	}
	return a == b
}

// LooseEquals implements == with the standard coercion lattice.
func (ctx *Context) LooseEquals(a, b Value) (bool, error) {
	if a.IsNullish() && b.IsNullish() {
		return true, nil
	}
	if a.IsNullish() || b.IsNullish() {
		return false, nil
	}
	if a.IsObject() && b.IsObject() {
		return a == b, nil
	}
	if a.IsObject() {
		prim, err := ctx.ToPrimitive(a, "default")
		if err != nil {
			return false, err
		}
		return ctx.LooseEquals(prim, b)
	}
	if b.IsObject() {
		prim, err := ctx.ToPrimitive(b, "default")
		if err != nil {
			return false, err
		}
		return ctx.LooseEquals(a, prim)
	}
	if a.IsString() && b.IsString() {
		return ctx.Heap.Str(a) == ctx.Heap.Str(b), nil
	}
	if a.IsBool() || b.IsBool() || a.IsNumber() || b.IsNumber() {
		na, err := ctx.ToNumber(a)
		if err != nil {
			return false, err
		}
		nb, err := ctx.ToNumber(b)
		if err != nil {
			return false, err
		}
		return na == nb, nil
	}
	return false, nil
}

// compareResult: -1 less, 0 equal, 1 greater, 2 unordered (NaN involved).
func (ctx *Context) compare(a, b Value) (int, error) {
	pa, err := ctx.ToPrimitive(a, "number")
	if err != nil {
		return 0, err
	}
	pb, err := ctx.ToPrimitive(b, "number")
	if err != nil {
		return 0, err
	}
	if pa.IsString() && pb.IsString() {
		sa, sb := ctx.Heap.Str(pa), ctx.Heap.Str(pb)
		switch {
		case sa < sb:
			return -1, nil
		case sa > sb:
			return 1, nil
		default:
			return 0, nil
		}
	}
	na, err := ctx.ToNumber(pa)
	if err != nil {
		return 0, err
	}
	nb, err := ctx.ToNumber(pb)
	if err != nil {
		return 0, err
	}
	switch {
	case na != na || nb != nb:
		return 2, nil
	case na < nb:
		return -1, nil
	case na > nb:
		return 1, nil
	default:
		return 0, nil
	}
}
