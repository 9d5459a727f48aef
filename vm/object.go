package vm

import (
	"strconv"
)

// ---------------------------------------------------------------------------
// Object model: ordered property maps, prototype links, specialised bodies
// ---------------------------------------------------------------------------

// ObjectClass discriminates the specialised body an object carries.
type ObjectClass uint8

const (
	ClassPlain ObjectClass = iota
	ClassArray
	ClassFunction
	ClassError
	ClassRegExp
	ClassArguments
	ClassIterator // internal for-in / for-of state, never user-visible
)

// Property is one slot in an object's ordered property table. A slot is
// either a data property (Value) or an accessor pair.
type Property struct {
	Key      string
	Value    Value
	Getter   Value // callable or Undefined
	Setter   Value // callable or Undefined
	Accessor bool
	Hidden   bool // builtin plumbing: skipped by for-in and Object.keys
}

// Object is a heap record: an ordered property map, a prototype link, an
// optional callable slot and an optional specialised body.
type Object struct {
	Class ObjectClass
	Proto Value // object handle or Null

	props []Property
	index map[string]int

	self Value // this object's own handle, set by Heap.addObject

	// ClassArray: dense element storage (no holes).
	Elements []Value

	// ClassFunction: exactly one of Fn (bytecode closure) or Native is set.
	Fn     *Closure
	Native NativeFunc

	// ClassRegExp.
	Regexp *RegexpObject

	// ClassIterator.
	Iter *iterState

	// Frozen objects reject writes and defines.
	Frozen bool
}

// NativeFunc is the builtin protocol: a host function callable from the VM.
type NativeFunc struct {
	Name  string
	Arity int
	Fn    func(ctx *Context, this Value, args []Value) (Value, error)
}

// Closure pairs a compiled function with its captured environment.
type Closure struct {
	Proto *FunctionProto
	Cells []*Cell // captured cells, indexed by the proto's upvalue table
	This  Value   // lexical this for arrow functions, else Undefined
}

// IsCallable reports whether o carries a callable slot.
func (o *Object) IsCallable() bool {
	return o.Fn != nil || o.Native.Fn != nil
}

// Value returns the boxed handle of this object.
func (o *Object) Value() Value { return o.self }

// ---------------------------------------------------------------------------
// Property table
// ---------------------------------------------------------------------------

// findOwn returns the index of an own property, or -1.
func (o *Object) findOwn(key string) int {
	if o.index != nil {
		if i, ok := o.index[key]; ok {
			return i
		}
		return -1
	}
	for i := range o.props {
		if o.props[i].Key == key {
			return i
		}
	}
	return -1
}

// own returns a pointer to an own property slot, or nil.
func (o *Object) own(key string) *Property {
	if i := o.findOwn(key); i >= 0 {
		return &o.props[i]
	}
	return nil
}

// setOwn creates or overwrites an own data property, preserving insertion
// order for existing keys.
func (o *Object) setOwn(h *Heap, key string, v Value) {
	if i := o.findOwn(key); i >= 0 {
		p := &o.props[i]
		p.Value = v
		p.Getter = Undefined
		p.Setter = Undefined
		p.Accessor = false
		return
	}
	o.appendProp(h, Property{Key: key, Value: v, Getter: Undefined, Setter: Undefined})
}

// setAccessor installs a getter or setter, merging with an existing accessor
// slot for the same key.
func (o *Object) setAccessor(h *Heap, key string, getter, setter Value) {
	if i := o.findOwn(key); i >= 0 {
		p := &o.props[i]
		if !p.Accessor {
			p.Value = Undefined
			p.Getter = Undefined
			p.Setter = Undefined
			p.Accessor = true
		}
		if !getter.IsUndefined() {
			p.Getter = getter
		}
		if !setter.IsUndefined() {
			p.Setter = setter
		}
		return
	}
	o.appendProp(h, Property{Key: key, Getter: getter, Setter: setter, Accessor: true, Value: Undefined})
}

func (o *Object) appendProp(h *Heap, p Property) {
	h.charge(propertyCost + len(p.Key))
	o.props = append(o.props, p)
	// Build the lookup index once the table is big enough for linear scans
	// to hurt.
	if o.index == nil && len(o.props) > 8 {
		o.index = make(map[string]int, len(o.props)*2)
		for i := range o.props {
			o.index[o.props[i].Key] = i
		}
	} else if o.index != nil {
		o.index[p.Key] = len(o.props) - 1
	}
}

// deleteOwn removes an own property. Returns false if absent.
func (o *Object) deleteOwn(key string) bool {
	i := o.findOwn(key)
	if i < 0 {
		return false
	}
	o.props = append(o.props[:i], o.props[i+1:]...)
	if o.index != nil {
		// Rebuild: deletions are rare, insertion order must survive.
		o.index = make(map[string]int, len(o.props)*2)
		for j := range o.props {
			o.index[o.props[j].Key] = j
		}
	}
	return true
}

// setHidden creates a non-enumerated own data property, used for builtin
// methods on prototypes.
func (o *Object) setHidden(h *Heap, key string, v Value) {
	if i := o.findOwn(key); i >= 0 {
		o.props[i].Value = v
		o.props[i].Hidden = true
		return
	}
	o.appendProp(h, Property{Key: key, Value: v, Getter: Undefined, Setter: Undefined, Hidden: true})
}

// OwnKeys returns own enumerable keys in insertion order. For arrays the
// element indices come first, as every engine orders integer keys before
// string keys.
func (o *Object) OwnKeys() []string {
	keys := make([]string, 0, len(o.props)+len(o.Elements))
	if o.Class == ClassArray || o.Class == ClassArguments {
		for i := range o.Elements {
			keys = append(keys, strconv.Itoa(i))
		}
	}
	for i := range o.props {
		if o.props[i].Hidden {
			continue
		}
		keys = append(keys, o.props[i].Key)
	}
	return keys
}

// ---------------------------------------------------------------------------
// Heap object constructors
// ---------------------------------------------------------------------------

// NewObject allocates a plain object with the given prototype.
func (h *Heap) NewObject(proto Value) Value {
	return h.addObject(&Object{Class: ClassPlain, Proto: proto})
}

// NewArray allocates an array object taking ownership of elems.
func (h *Heap) NewArray(proto Value, elems []Value) Value {
	h.charge(valueCost * len(elems))
	return h.addObject(&Object{Class: ClassArray, Proto: proto, Elements: elems})
}

// NewNative allocates a builtin function object.
func (h *Heap) NewNative(proto Value, name string, arity int, fn func(ctx *Context, this Value, args []Value) (Value, error)) Value {
	return h.addObject(&Object{
		Class:  ClassFunction,
		Proto:  proto,
		Native: NativeFunc{Name: name, Arity: arity, Fn: fn},
	})
}

// NewClosure allocates a bytecode function object.
func (h *Heap) NewClosure(proto Value, c *Closure) Value {
	h.charge(cellCost * len(c.Cells))
	return h.addObject(&Object{Class: ClassFunction, Proto: proto, Fn: c})
}

// ---------------------------------------------------------------------------
// Array helpers
// ---------------------------------------------------------------------------

// arrayIndex parses a canonical array index from a key, or returns -1.
func arrayIndex(key string) int {
	if key == "" || len(key) > 10 {
		return -1
	}
	if key == "0" {
		return 0
	}
	if key[0] == '0' || key[0] < '0' || key[0] > '9' {
		return -1
	}
	n, err := strconv.Atoi(key)
	if err != nil || n < 0 {
		return -1
	}
	return n
}
