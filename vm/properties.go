package vm

import "strconv"

// ---------------------------------------------------------------------------
// Property access: prototype chains, accessors, specialised bodies
// ---------------------------------------------------------------------------

// lookup walks the prototype chain for a named property slot.
func (ctx *Context) lookup(o *Object, key string) *Property {
	for {
		if p := o.own(key); p != nil {
			return p
		}
		if !o.Proto.IsObject() {
			return nil
		}
		o = ctx.Heap.Obj(o.Proto)
	}
}

// protoFor returns the prototype used when a primitive receives a property
// access, or Null for null/undefined (the caller raises).
func (ctx *Context) protoFor(v Value) Value {
	switch {
	case v.IsString():
		return ctx.stringProto
	case v.IsNumber():
		return ctx.numberProto
	case v.IsBool():
		return ctx.booleanProto
	default:
		return Null
	}
}

// GetProp reads a property of any value, invoking getters.
func (ctx *Context) GetProp(v Value, key string) (Value, error) {
	if v.IsNullish() {
		return Undefined, ctx.throwTypeError("cannot read property %q of %s", key, v.TypeName())
	}

	// String primitives answer length and indices directly.
	if v.IsString() {
		s := ctx.Heap.Str(v)
		if key == "length" {
			return NumberValue(float64(lenCodeUnits(s))), nil
		}
		if i := arrayIndex(key); i >= 0 {
			units := codeUnits(s)
			if i < len(units) {
				return ctx.Heap.NewString(unitsToString(units[i : i+1])), nil
			}
			return Undefined, nil
		}
	}

	if !v.IsObject() {
		proto := ctx.protoFor(v)
		if !proto.IsObject() {
			return Undefined, nil
		}
		p := ctx.lookup(ctx.Heap.Obj(proto), key)
		return ctx.readSlot(p, v)
	}

	o := ctx.Heap.Obj(v)
	switch o.Class {
	case ClassArray, ClassArguments:
		if key == "length" {
			return NumberValue(float64(len(o.Elements))), nil
		}
		if i := arrayIndex(key); i >= 0 {
			if i < len(o.Elements) {
				return o.Elements[i], nil
			}
			return Undefined, nil
		}
	case ClassRegExp:
		if val, ok := ctx.regexpField(o, key); ok {
			return val, nil
		}
	case ClassFunction:
		switch key {
		case "length":
			if p := o.own("length"); p == nil {
				return NumberValue(float64(ctx.fnArity(o))), nil
			}
		case "name":
			if p := o.own("name"); p == nil {
				return ctx.Heap.NewString(ctx.fnName(o)), nil
			}
		case "prototype":
			// A constructible function materialises .prototype on first use.
			if p := o.own("prototype"); p == nil && o.Fn != nil && !o.Fn.Proto.IsArrow() {
				protoObj := ctx.Heap.NewObject(ctx.objectProto)
				ctx.Heap.Obj(protoObj).setOwn(ctx.Heap, "constructor", v)
				o.setOwn(ctx.Heap, "prototype", protoObj)
				return protoObj, nil
			}
		}
	}
	return ctx.readSlot(ctx.lookup(o, key), v)
}

// readSlot resolves a property slot against a receiver, calling getters.
func (ctx *Context) readSlot(p *Property, this Value) (Value, error) {
	if p == nil {
		return Undefined, nil
	}
	if !p.Accessor {
		return p.Value, nil
	}
	if p.Getter.IsUndefined() {
		return Undefined, nil
	}
	return ctx.call(p.Getter, this, nil)
}

// SetProp writes a property of any value, invoking setters.
func (ctx *Context) SetProp(v Value, key string, val Value) error {
	if v.IsNullish() {
		return ctx.throwTypeError("cannot set property %q of %s", key, v.TypeName())
	}
	if !v.IsObject() {
		// Writing to a primitive's property is silently useless in sloppy
		// code; the strict subset makes it an error.
		return ctx.throwTypeError("cannot create property %q on %s", key, v.TypeName())
	}

	o := ctx.Heap.Obj(v)
	if o.Frozen {
		return ctx.throwTypeError("cannot assign to property %q of a frozen object", key)
	}

	if o.Class == ClassRegExp && key == "lastIndex" {
		f, err := ctx.ToNumber(val)
		if err != nil {
			return err
		}
		o.Regexp.LastIndex = int(toIntegerOrInf(f))
		return nil
	}

	if o.Class == ClassArray || o.Class == ClassArguments {
		if key == "length" {
			return ctx.setArrayLength(o, val)
		}
		if i := arrayIndex(key); i >= 0 {
			return ctx.setArrayElement(o, i, val)
		}
	}

	// A setter anywhere on the chain intercepts the write.
	if p := ctx.lookup(o, key); p != nil && p.Accessor {
		if p.Setter.IsUndefined() {
			return ctx.throwTypeError("cannot set property %q which has only a getter", key)
		}
		_, err := ctx.call(p.Setter, v, []Value{val})
		return err
	}

	o.setOwn(ctx.Heap, key, val)
	return nil
}

// setArrayElement enforces the no-holes contract: writes land inside the
// array or append exactly at the end.
func (ctx *Context) setArrayElement(o *Object, i int, val Value) error {
	switch {
	case i < len(o.Elements):
		o.Elements[i] = val
	case i == len(o.Elements):
		ctx.Heap.charge(valueCost)
		o.Elements = append(o.Elements, val)
	default:
		return ctx.throwRangeError("out-of-bound write at index %d (length %d)", i, len(o.Elements))
	}
	return nil
}

// setArrayLength implements assignment to .length: truncation or extension
// with undefined elements.
func (ctx *Context) setArrayLength(o *Object, val Value) error {
	f, err := ctx.ToNumber(val)
	if err != nil {
		return err
	}
	n := int(f)
	if float64(n) != f || n < 0 {
		return ctx.throwRangeError("invalid array length")
	}
	if n <= len(o.Elements) {
		o.Elements = o.Elements[:n]
		return nil
	}
	ctx.Heap.charge(valueCost * (n - len(o.Elements)))
	for len(o.Elements) < n {
		o.Elements = append(o.Elements, Undefined)
	}
	return nil
}

// DeleteProp implements the delete operator. Returns true when the property
// is gone afterwards.
func (ctx *Context) DeleteProp(v Value, key string) (bool, error) {
	if !v.IsObject() {
		return true, nil
	}
	o := ctx.Heap.Obj(v)
	if o.Frozen {
		return false, ctx.throwTypeError("cannot delete property %q of a frozen object", key)
	}
	if (o.Class == ClassArray || o.Class == ClassArguments) && arrayIndex(key) >= 0 {
		// Deleting an element would create a hole, which the subset forbids.
		return false, ctx.throwTypeError("cannot delete array element %s", key)
	}
	o.deleteOwn(key)
	return true, nil
}

// HasProp implements the in operator (own or inherited).
func (ctx *Context) HasProp(v Value, key string) (bool, error) {
	if !v.IsObject() {
		return false, ctx.throwTypeError("cannot use 'in' operator on %s", v.TypeName())
	}
	o := ctx.Heap.Obj(v)
	if o.Class == ClassArray || o.Class == ClassArguments {
		if key == "length" {
			return true, nil
		}
		if i := arrayIndex(key); i >= 0 {
			return i < len(o.Elements), nil
		}
	}
	return ctx.lookup(o, key) != nil, nil
}

// instanceOf walks the prototype chain of v looking for fn's .prototype.
func (ctx *Context) instanceOf(v, fn Value) (bool, error) {
	if !fn.IsObject() || !ctx.Heap.Obj(fn).IsCallable() {
		return false, ctx.throwTypeError("right-hand side of 'instanceof' is not callable")
	}
	target, err := ctx.GetProp(fn, "prototype")
	if err != nil {
		return false, err
	}
	if !v.IsObject() {
		return false, nil
	}
	proto := ctx.Heap.Obj(v).Proto
	for proto.IsObject() {
		if proto == target {
			return true, nil
		}
		proto = ctx.Heap.Obj(proto).Proto
	}
	return false, nil
}

// propKey converts a computed key value to a property key string.
func (ctx *Context) propKey(v Value) (string, error) {
	if v.IsNumber() {
		f := v.Number()
		if i := int64(f); float64(i) == f && i >= 0 {
			return strconv.FormatInt(i, 10), nil
		}
	}
	return ctx.ToString(v)
}

func (ctx *Context) fnArity(o *Object) int {
	if o.Fn != nil {
		return o.Fn.Proto.NumParams
	}
	return o.Native.Arity
}

func (ctx *Context) fnName(o *Object) string {
	if o.Fn != nil {
		return o.Fn.Proto.Name
	}
	return o.Native.Name
}

func (ctx *Context) isCallable(v Value) bool {
	return v.IsObject() && ctx.Heap.Obj(v).IsCallable()
}
