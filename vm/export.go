package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Host value conversion
// ---------------------------------------------------------------------------

// HostFunc is the signature host callables take when installed as globals.
// Invocation re-enters host code synchronously.
type HostFunc func(args []any) (any, error)

// ToValue converts a host Go value into a context value. Numbers, strings,
// booleans and nil convert by value; slices and maps convert deeply; a
// HostFunc becomes a callable object.
func (ctx *Context) ToValue(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null, nil
	case Value:
		return x, nil
	case bool:
		return BoolValue(x), nil
	case int:
		return NumberValue(float64(x)), nil
	case int32:
		return NumberValue(float64(x)), nil
	case int64:
		return NumberValue(float64(x)), nil
	case float32:
		return NumberValue(float64(x)), nil
	case float64:
		return NumberValue(x), nil
	case string:
		return ctx.Heap.NewString(x), nil
	case []any:
		elems := make([]Value, len(x))
		for i, e := range x {
			ev, err := ctx.ToValue(e)
			if err != nil {
				return Undefined, err
			}
			elems[i] = ev
		}
		return ctx.Heap.NewArray(ctx.arrayProto, elems), nil
	case map[string]any:
		obj := ctx.Heap.NewObject(ctx.objectProto)
		o := ctx.Heap.Obj(obj)
		for k, e := range x {
			ev, err := ctx.ToValue(e)
			if err != nil {
				return Undefined, err
			}
			o.setOwn(ctx.Heap, k, ev)
		}
		return obj, nil
	case HostFunc:
		return ctx.Heap.NewNative(ctx.functionProto, "", 0,
			func(ctx *Context, this Value, args []Value) (Value, error) {
				hostArgs := make([]any, len(args))
				for i, a := range args {
					hostArgs[i] = ctx.Export(a)
				}
				res, err := x(hostArgs)
				if err != nil {
					return Undefined, ctx.throwError("Error", "%s", err.Error())
				}
				return ctx.ToValue(res)
			}), nil
	case func(args []any) (any, error):
		return ctx.ToValue(HostFunc(x))
	default:
		return Undefined, fmt.Errorf("vm: cannot convert %T to a sandbox value", v)
	}
}

// Export converts a context value to a host-native representation.
// Primitives pass through; arrays become []any; objects become
// map[string]any with insertion order lost (the map is for host
// convenience; use the Value API to observe order). Cycles are cut with a
// "[circular]" marker.
func (ctx *Context) Export(v Value) any {
	return ctx.export(v, make(map[Value]bool))
}

func (ctx *Context) export(v Value, seen map[Value]bool) any {
	switch {
	case v.IsUndefined(), v.IsNull():
		return nil
	case v.IsBool():
		return v.Bool()
	case v.IsNumber():
		return v.Number()
	case v.IsString():
		return ctx.Heap.Str(v)
	case v.IsObject():
		if seen[v] {
			return "[circular]"
		}
		seen[v] = true
		defer delete(seen, v)
		o := ctx.Heap.Obj(v)
		switch o.Class {
		case ClassArray, ClassArguments:
			out := make([]any, len(o.Elements))
			for i, e := range o.Elements {
				out[i] = ctx.export(e, seen)
			}
			return out
		case ClassFunction:
			return fmt.Sprintf("function %s", ctx.fnName(o))
		default:
			out := make(map[string]any, len(o.props))
			for _, k := range o.OwnKeys() {
				pv, err := ctx.GetProp(v, k)
				if err != nil {
					continue
				}
				out[k] = ctx.export(pv, seen)
			}
			return out
		}
	}
	return nil
}

// CallValue invokes a callable value from host code.
func (ctx *Context) CallValue(fn, this Value, args []Value) (Value, error) {
	res, err := ctx.call(fn, this, args)
	if err != nil {
		return Undefined, ctx.runtimeError(err)
	}
	return res, nil
}
