package vm

import "math"

// ---------------------------------------------------------------------------
// for-in / for-of iteration state
// ---------------------------------------------------------------------------

type iterKind uint8

const (
	iterKeys     iterKind = iota // for-in: snapshotted key list
	iterElements                 // for-of over an array: live indexing
	iterValues                   // for-of over a snapshot (strings, arguments)
)

type iterState struct {
	kind   iterKind
	keys   []string
	values []Value
	target Value // iterElements: the array being walked
	idx    int
}

func (it *iterState) next(ctx *Context) (Value, bool) {
	switch it.kind {
	case iterKeys:
		if it.idx >= len(it.keys) {
			return Undefined, true
		}
		k := it.keys[it.idx]
		it.idx++
		return ctx.Heap.NewString(k), false
	case iterElements:
		o := ctx.Heap.Obj(it.target)
		if it.idx >= len(o.Elements) {
			return Undefined, true
		}
		v := o.Elements[it.idx]
		it.idx++
		return v, false
	default:
		if it.idx >= len(it.values) {
			return Undefined, true
		}
		v := it.values[it.idx]
		it.idx++
		return v, false
	}
}

// newForInIterator snapshots enumerable keys: own properties in insertion
// order, then up the prototype chain, skipping shadowed and hidden names.
func (ctx *Context) newForInIterator(v Value) Value {
	var keys []string
	if v.IsObject() {
		seen := make(map[string]bool)
		o := ctx.Heap.Obj(v)
		for {
			if o.Class == ClassArray || o.Class == ClassArguments {
				for i := range o.Elements {
					k := itoa(i)
					if !seen[k] {
						seen[k] = true
						keys = append(keys, k)
					}
				}
			}
			for i := range o.props {
				p := &o.props[i]
				if p.Hidden || seen[p.Key] {
					continue
				}
				seen[p.Key] = true
				keys = append(keys, p.Key)
			}
			if !o.Proto.IsObject() {
				break
			}
			o = ctx.Heap.Obj(o.Proto)
		}
	}
	return ctx.Heap.addObject(&Object{
		Class: ClassIterator,
		Proto: Null,
		Iter:  &iterState{kind: iterKeys, keys: keys},
	})
}

// newForOfIterator builds a value iterator: live for arrays, snapshot code
// points for strings.
func (ctx *Context) newForOfIterator(v Value) (Value, error) {
	st := &iterState{}
	switch {
	case v.IsString():
		s := ctx.Heap.Str(v)
		for _, r := range s {
			st.values = append(st.values, ctx.Heap.NewString(string(r)))
		}
		st.kind = iterValues
	case v.IsObject():
		o := ctx.Heap.Obj(v)
		switch o.Class {
		case ClassArray:
			st.kind = iterElements
			st.target = v
		case ClassArguments:
			st.kind = iterValues
			st.values = append(st.values, o.Elements...)
		default:
			return Undefined, ctx.throwTypeError("%s is not iterable", ctx.errorString(v))
		}
	default:
		return Undefined, ctx.throwTypeError("%s is not iterable", ctx.errorString(v))
	}
	return ctx.Heap.addObject(&Object{Class: ClassIterator, Proto: Null, Iter: st}), nil
}

func itoa(i int) string {
	return FormatNumber(float64(i))
}

// ---------------------------------------------------------------------------
// Numeric operator edge cases
// ---------------------------------------------------------------------------

// jsMod keeps the dividend's sign, like the source language's % operator.
func jsMod(a, b float64) float64 {
	return math.Mod(a, b)
}

// jsPow matches the exponentiation operator: ±1 to an infinite power is NaN.
func jsPow(a, b float64) float64 {
	if math.IsInf(b, 0) && (a == 1 || a == -1) {
		return math.NaN()
	}
	return math.Pow(a, b)
}
