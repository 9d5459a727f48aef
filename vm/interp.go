package vm

import (
	"encoding/binary"
)

// ---------------------------------------------------------------------------
// Call frames
// ---------------------------------------------------------------------------

// maxCallDepth bounds VM recursion; exceeding it raises a catchable
// RangeError, the same contract scripts get from production engines.
const maxCallDepth = 512

type frame struct {
	closure *Closure
	proto   *FunctionProto
	pc      int
	this    Value
	fnVal   Value // the closure object, for this_func

	args   []Value // call arguments, padded to the parameter count
	locals []Value
	cells  []*Cell // own cells [0, NumCells) then captured upvalues

	stack []Value // per-frame operand stack

	newTarget Value
	argsObj   Value // lazily materialised arguments object
}

func (f *frame) push(v Value)  { f.stack = append(f.stack, v) }
func (f *frame) pop() Value    { v := f.stack[len(f.stack)-1]; f.stack = f.stack[:len(f.stack)-1]; return v }
func (f *frame) top() Value    { return f.stack[len(f.stack)-1] }
func (f *frame) at(n int) Value { return f.stack[len(f.stack)-1-n] }

// popN removes and returns the top n values in push order.
func (f *frame) popN(n int) []Value {
	vals := make([]Value, n)
	copy(vals, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return vals
}

// ---------------------------------------------------------------------------
// Calling
// ---------------------------------------------------------------------------

// call invokes any callable value. Bytecode closures get a fresh frame and
// run to completion; native builtins are invoked directly.
func (ctx *Context) call(fn, this Value, args []Value) (Value, error) {
	if !ctx.isCallable(fn) {
		return Undefined, ctx.throwTypeError("%s is not a function", ctx.errorString(fn))
	}
	o := ctx.Heap.Obj(fn)
	if o.Native.Fn != nil {
		ctx.checkBudget()
		return o.Native.Fn(ctx, this, args)
	}
	return ctx.callClosure(fn, o.Fn, this, args, Undefined)
}

// construct implements the new operator.
func (ctx *Context) construct(fn Value, args []Value) (Value, error) {
	if !ctx.isCallable(fn) {
		return Undefined, ctx.throwTypeError("%s is not a constructor", ctx.errorString(fn))
	}
	o := ctx.Heap.Obj(fn)
	if o.Native.Fn != nil {
		// Native constructors build their own instance.
		ctx.checkBudget()
		return o.Native.Fn(ctx, Undefined, args)
	}
	if o.Fn.Proto.IsArrow() {
		return Undefined, ctx.throwTypeError("%s is not a constructor", ctx.errorString(fn))
	}
	protoVal, err := ctx.GetProp(fn, "prototype")
	if err != nil {
		return Undefined, err
	}
	if !protoVal.IsObject() {
		protoVal = ctx.objectProto
	}
	instance := ctx.Heap.NewObject(protoVal)
	res, err := ctx.callClosure(fn, o.Fn, instance, args, fn)
	if err != nil {
		return Undefined, err
	}
	if res.IsObject() {
		return res, nil
	}
	return instance, nil
}

func (ctx *Context) callClosure(fnVal Value, cl *Closure, this Value, args []Value, newTarget Value) (Value, error) {
	if len(ctx.frames) >= maxCallDepth {
		return Undefined, ctx.throwRangeError("maximum call stack size exceeded")
	}
	p := cl.Proto

	padded := args
	if len(padded) < p.NumParams {
		padded = make([]Value, p.NumParams)
		n := copy(padded, args)
		for i := n; i < p.NumParams; i++ {
			padded[i] = Undefined
		}
	}

	locals := make([]Value, p.NumLocals)
	for i := range locals {
		locals[i] = Undefined
	}

	cells := make([]*Cell, p.NumCells+len(cl.Cells))
	for i := 0; i < p.NumCells; i++ {
		cells[i] = ctx.Heap.NewCell()
	}
	for _, cp := range p.CellParams {
		cells[cp.Cell].Value = padded[cp.Arg]
	}
	copy(cells[p.NumCells:], cl.Cells)

	if p.IsArrow() {
		this = cl.This
	}

	f := &frame{
		closure:   cl,
		proto:     p,
		this:      this,
		fnVal:     fnVal,
		args:      padded,
		locals:    locals,
		cells:     cells,
		newTarget: newTarget,
		argsObj:   Undefined,
	}
	ctx.frames = append(ctx.frames, f)
	res, err := ctx.runFrame(f)
	ctx.frames = ctx.frames[:len(ctx.frames)-1]
	return res, err
}

// ---------------------------------------------------------------------------
// The execution loop
// ---------------------------------------------------------------------------

func (ctx *Context) runFrame(f *frame) (Value, error) {
	code := f.proto.Code
	consts := f.proto.Constants

	name := func(idx uint16) string {
		return ctx.Heap.Str(consts[idx])
	}

	for {
		if f.pc >= len(code) {
			return Undefined, nil
		}
		ctx.checkBudget()

		opPC := f.pc
		op := Opcode(code[f.pc])
		f.pc++

		// Operand readers; each advances pc.
		readU8 := func() byte { b := code[f.pc]; f.pc++; return b }
		readU16 := func() uint16 { v := binary.LittleEndian.Uint16(code[f.pc:]); f.pc += 2; return v }
		readI32 := func() int32 { v := int32(binary.LittleEndian.Uint32(code[f.pc:])); f.pc += 4; return v }

		var err error

		switch op {
		// --- Stack shuffles ---
		case OpDrop:
			f.pop()
		case OpDup:
			f.push(f.top())
		case OpDup1:
			b := f.pop()
			a := f.top()
			f.push(a)
			f.push(b)
		case OpDup2:
			f.push(f.at(1))
			f.push(f.at(1))
		case OpSwap:
			n := len(f.stack)
			f.stack[n-1], f.stack[n-2] = f.stack[n-2], f.stack[n-1]
		case OpNip:
			b := f.pop()
			f.stack[len(f.stack)-1] = b
		case OpRot3L:
			n := len(f.stack)
			a := f.stack[n-3]
			f.stack[n-3], f.stack[n-2], f.stack[n-1] = f.stack[n-2], f.stack[n-1], a
		case OpPerm3: // a b c -> b a c
			n := len(f.stack)
			f.stack[n-3], f.stack[n-2] = f.stack[n-2], f.stack[n-3]
		case OpPerm4: // a b c d -> c a b d
			n := len(f.stack)
			a, b, c := f.stack[n-4], f.stack[n-3], f.stack[n-2]
			f.stack[n-4], f.stack[n-3], f.stack[n-2] = c, a, b
		case OpInsert2: // a b -> b a b
			n := len(f.stack)
			b := f.stack[n-1]
			f.stack[n-1] = f.stack[n-2]
			f.stack[n-2] = b
			f.push(b)
		case OpInsert3: // a b c -> c a b c
			n := len(f.stack)
			c := f.stack[n-1]
			f.stack[n-1] = f.stack[n-2]
			f.stack[n-2] = f.stack[n-3]
			f.stack[n-3] = c
			f.push(c)

		// --- Constants ---
		case OpPushConst:
			f.push(consts[readU16()])
		case OpPushI8:
			f.push(NumberValue(float64(int8(readU8()))))
		case OpPushTrue:
			f.push(True)
		case OpPushFalse:
			f.push(False)
		case OpPushNull:
			f.push(Null)
		case OpPushUndef:
			f.push(Undefined)

		// --- Frame access ---
		case OpGetLoc:
			f.push(f.locals[readU16()])
		case OpPutLoc:
			f.locals[readU16()] = f.pop()
		case OpGetLoc0:
			f.push(f.locals[0])
		case OpGetLoc1:
			f.push(f.locals[1])
		case OpGetLoc2:
			f.push(f.locals[2])
		case OpGetLoc3:
			f.push(f.locals[3])
		case OpPutLoc0:
			f.locals[0] = f.pop()
		case OpPutLoc1:
			f.locals[1] = f.pop()
		case OpPutLoc2:
			f.locals[2] = f.pop()
		case OpPutLoc3:
			f.locals[3] = f.pop()
		case OpGetArg:
			f.push(f.args[readU16()])
		case OpPutArg:
			f.args[readU16()] = f.pop()
		case OpGetVarRef:
			f.push(f.cells[readU16()].Value)
		case OpPutVarRef:
			f.cells[readU16()].Value = f.pop()

		// --- Globals ---
		case OpGetGlobal:
			n := name(readU16())
			g := ctx.Heap.Obj(ctx.Global)
			p := ctx.lookup(g, n)
			if p == nil {
				err = ctx.throwReferenceError("%s is not defined", n)
				break
			}
			var v Value
			v, err = ctx.readSlot(p, ctx.Global)
			if err == nil {
				f.push(v)
			}
		case OpGetGlobalSoft:
			n := name(readU16())
			g := ctx.Heap.Obj(ctx.Global)
			p := ctx.lookup(g, n)
			if p == nil {
				f.push(Undefined)
			} else {
				var v Value
				v, err = ctx.readSlot(p, ctx.Global)
				if err == nil {
					f.push(v)
				}
			}
		case OpPutGlobal:
			n := name(readU16())
			v := f.pop()
			g := ctx.Heap.Obj(ctx.Global)
			if ctx.lookup(g, n) == nil {
				err = ctx.throwReferenceError("%s is not defined", n)
				break
			}
			err = ctx.SetProp(ctx.Global, n, v)
		case OpDefineGlobal:
			n := name(readU16())
			v := f.pop()
			// A global that already exists keeps its value.
			if g := ctx.Heap.Obj(ctx.Global); g.own(n) == nil {
				g.setOwn(ctx.Heap, n, v)
			}

		// --- Properties ---
		case OpGetField:
			n := name(readU16())
			obj := f.pop()
			var v Value
			v, err = ctx.GetProp(obj, n)
			if err == nil {
				f.push(v)
			}
		case OpPutField:
			n := name(readU16())
			v := f.pop()
			obj := f.pop()
			err = ctx.SetProp(obj, n, v)
		case OpDefineField:
			n := name(readU16())
			v := f.pop()
			ctx.Heap.Obj(f.top()).setOwn(ctx.Heap, n, v)
		case OpDefineGetter:
			n := name(readU16())
			fn := f.pop()
			ctx.Heap.Obj(f.top()).setAccessor(ctx.Heap, n, fn, Undefined)
		case OpDefineSetter:
			n := name(readU16())
			fn := f.pop()
			ctx.Heap.Obj(f.top()).setAccessor(ctx.Heap, n, Undefined, fn)
		case OpGetArrayEl:
			key := f.pop()
			obj := f.pop()
			var v Value
			v, err = ctx.getElement(obj, key)
			if err == nil {
				f.push(v)
			}
		case OpPutArrayEl:
			v := f.pop()
			key := f.pop()
			obj := f.pop()
			err = ctx.setElement(obj, key, v)
		case OpGetLength:
			obj := f.pop()
			var v Value
			v, err = ctx.GetProp(obj, "length")
			if err == nil {
				f.push(v)
			}
		case OpDelete:
			key := f.pop()
			obj := f.pop()
			var k string
			k, err = ctx.propKey(key)
			if err == nil {
				var ok bool
				ok, err = ctx.DeleteProp(obj, k)
				if err == nil {
					f.push(BoolValue(ok))
				}
			}
		case OpSetProto:
			proto := f.pop()
			o := ctx.Heap.Obj(f.top())
			if proto.IsObject() || proto.IsNull() {
				o.Proto = proto
			}

		// --- Control flow ---
		case OpGoto:
			off := readI32()
			f.pc += int(off)
		case OpGoto8:
			off := int8(readU8())
			f.pc += int(off)
		case OpIfTrue:
			off := readI32()
			if ctx.ToBoolean(f.pop()) {
				f.pc += int(off)
			}
		case OpIfTrue8:
			off := int8(readU8())
			if ctx.ToBoolean(f.pop()) {
				f.pc += int(off)
			}
		case OpIfFalse:
			off := readI32()
			if !ctx.ToBoolean(f.pop()) {
				f.pc += int(off)
			}
		case OpIfFalse8:
			off := int8(readU8())
			if !ctx.ToBoolean(f.pop()) {
				f.pc += int(off)
			}
		case OpGosub:
			off := readI32()
			f.push(resumeValue(f.pc))
			f.pc += int(off)
		case OpRet:
			v := f.pop()
			switch {
			case v.isResume():
				f.pc = v.handle()
			case v == markerThrow:
				err = &Thrown{Value: f.pop()}
			default:
				panic("vm: ret without resume address or disposition")
			}

		case OpCall:
			argc := int(readU8())
			args := f.popN(argc)
			fn := f.pop()
			var v Value
			v, err = ctx.call(fn, Undefined, args)
			if err == nil {
				f.push(v)
			}
		case OpCallMethod:
			argc := int(readU8())
			args := f.popN(argc)
			fn := f.pop()
			this := f.pop()
			var v Value
			v, err = ctx.call(fn, this, args)
			if err == nil {
				f.push(v)
			}
		case OpCallConstructor:
			argc := int(readU8())
			args := f.popN(argc)
			fn := f.pop()
			var v Value
			v, err = ctx.construct(fn, args)
			if err == nil {
				f.push(v)
			}

		case OpReturn:
			return f.pop(), nil
		case OpReturnUndef:
			return Undefined, nil
		case OpThrow:
			err = &Thrown{Value: f.pop()}
		case OpCatch:
			// Catch-entry marker: the unwinder has already pushed the value.

		// --- Iteration ---
		case OpForInStart:
			obj := f.pop()
			f.push(ctx.newForInIterator(obj))
		case OpForOfStart:
			obj := f.pop()
			var it Value
			it, err = ctx.newForOfIterator(obj)
			if err == nil {
				f.push(it)
			}
		case OpForInNext, OpForOfNext:
			it := ctx.Heap.Obj(f.top()).Iter
			v, done := it.next(ctx)
			f.push(v)
			f.push(BoolValue(done))

		// --- Arithmetic ---
		case OpAdd:
			err = ctx.opAdd(f)
		case OpSub, OpMul, OpDiv, OpMod, OpPow:
			err = ctx.opNumeric(f, op)
		case OpNeg:
			var n float64
			n, err = ctx.ToNumber(f.pop())
			if err == nil {
				f.push(NumberValue(-n))
			}
		case OpPlus:
			var n float64
			n, err = ctx.ToNumber(f.pop())
			if err == nil {
				f.push(NumberValue(n))
			}
		case OpInc, OpDec:
			var n float64
			n, err = ctx.ToNumber(f.pop())
			if err == nil {
				if op == OpInc {
					n++
				} else {
					n--
				}
				f.push(NumberValue(n))
			}
		case OpPostInc, OpPostDec:
			var n float64
			n, err = ctx.ToNumber(f.pop())
			if err == nil {
				delta := 1.0
				if op == OpPostDec {
					delta = -1
				}
				f.push(NumberValue(n))
				f.push(NumberValue(n + delta))
			}

		// --- Bitwise ---
		case OpShl, OpSar, OpShr, OpBAnd, OpBOr, OpBXor:
			err = ctx.opBitwise(f, op)
		case OpBNot:
			var n int32
			n, err = ctx.ToInt32(f.pop())
			if err == nil {
				f.push(NumberValue(float64(^n)))
			}

		// --- Comparison ---
		case OpLt, OpLte, OpGt, OpGte:
			err = ctx.opCompare(f, op)
		case OpEq, OpNeq:
			b := f.pop()
			a := f.pop()
			var eq bool
			eq, err = ctx.LooseEquals(a, b)
			if err == nil {
				f.push(BoolValue(eq == (op == OpEq)))
			}
		case OpStrictEq:
			b := f.pop()
			a := f.pop()
			f.push(BoolValue(ctx.StrictEquals(a, b)))
		case OpStrictNeq:
			b := f.pop()
			a := f.pop()
			f.push(BoolValue(!ctx.StrictEquals(a, b)))
		case OpLNot:
			f.push(BoolValue(!ctx.ToBoolean(f.pop())))
		case OpTypeof:
			f.push(ctx.Heap.NewString(ctx.typeOf(f.pop())))
		case OpInstanceof:
			fn := f.pop()
			v := f.pop()
			var ok bool
			ok, err = ctx.instanceOf(v, fn)
			if err == nil {
				f.push(BoolValue(ok))
			}
		case OpIn:
			obj := f.pop()
			key := f.pop()
			var k string
			k, err = ctx.propKey(key)
			if err == nil {
				var ok bool
				ok, err = ctx.HasProp(obj, k)
				if err == nil {
					f.push(BoolValue(ok))
				}
			}

		// --- Construction ---
		case OpObject:
			f.push(ctx.Heap.NewObject(ctx.objectProto))
		case OpArrayFrom:
			n := int(readU16())
			f.push(ctx.Heap.NewArray(ctx.arrayProto, f.popN(n)))
		case OpFClosure, OpFClosure8:
			var idx int
			if op == OpFClosure {
				idx = int(readU16())
			} else {
				idx = int(readU8())
			}
			f.push(ctx.makeClosure(f, f.proto.Protos[idx]))
		case OpRegexp:
			idx := int(readU16())
			var v Value
			v, err = ctx.regexpFromLiteral(f.proto, idx)
			if err == nil {
				f.push(v)
			}
		case OpPushThis:
			f.push(f.this)
		case OpThisFunc:
			f.push(f.fnVal)
		case OpArguments:
			if f.argsObj.IsUndefined() {
				elems := make([]Value, len(f.args))
				copy(elems, f.args)
				f.argsObj = ctx.Heap.addObject(&Object{
					Class:    ClassArguments,
					Proto:    ctx.objectProto,
					Elements: elems,
				})
			}
			f.push(f.argsObj)
		case OpNewTarget:
			f.push(f.newTarget)

		default:
			panic("vm: unknown opcode " + op.String())
		}

		if err != nil {
			if !ctx.handleThrow(f, opPC, &err) {
				return Undefined, err
			}
		}
	}
}

// handleThrow dispatches a pending exception against the frame's exception
// table. It returns true when control transferred to a catch or finally
// target within this frame, false when the frame must unwind.
func (ctx *Context) handleThrow(f *frame, opPC int, errp *error) bool {
	t, ok := (*errp).(*Thrown)
	if !ok {
		return false
	}
	ctx.stampLocation(t.Value, f.proto, opPC)

	e := f.proto.findHandler(opPC)
	if e == nil {
		return false
	}
	// Unwinding truncates the operand stack to the depth at region entry.
	f.stack = f.stack[:e.StackDepth]
	switch {
	case e.CatchPC >= 0:
		f.push(t.Value)
		f.pc = e.CatchPC
	case e.FinallyPC >= 0:
		f.push(t.Value)
		f.push(markerThrow)
		f.pc = e.FinallyPC
	default:
		return false
	}
	*errp = nil
	return true
}

// stampLocation writes lineNumber/columnNumber onto an error-shaped thrown
// value the first time the VM sees it in flight.
func (ctx *Context) stampLocation(v Value, proto *FunctionProto, pc int) {
	if !v.IsObject() {
		return
	}
	o := ctx.Heap.Obj(v)
	if o.Class != ClassError || o.own("lineNumber") != nil {
		return
	}
	line, col := proto.Position(pc)
	if line == 0 {
		return
	}
	o.setOwn(ctx.Heap, "lineNumber", NumberValue(float64(line)))
	o.setOwn(ctx.Heap, "columnNumber", NumberValue(float64(col)))
}

// makeClosure builds a closure object, resolving the proto's upvalue table
// against the creating frame.
func (ctx *Context) makeClosure(f *frame, p *FunctionProto) Value {
	cells := make([]*Cell, len(p.Upvals))
	for i, u := range p.Upvals {
		if u.FromParent {
			cells[i] = f.cells[u.Index]
		} else {
			cells[i] = f.cells[f.proto.NumCells+int(u.Index)]
		}
	}
	cl := &Closure{Proto: p, Cells: cells}
	if p.IsArrow() {
		cl.This = f.this
	}
	return ctx.Heap.NewClosure(ctx.functionProto, cl)
}

// typeOf implements the typeof operator.
func (ctx *Context) typeOf(v Value) string {
	if v.IsObject() && ctx.Heap.Obj(v).IsCallable() {
		return "function"
	}
	return v.TypeName()
}

// ---------------------------------------------------------------------------
// Operator helpers
// ---------------------------------------------------------------------------

// opAdd implements the + duality: string concatenation when either primitive
// operand is a string, numeric addition otherwise.
func (ctx *Context) opAdd(f *frame) error {
	b := f.pop()
	a := f.pop()
	pa, err := ctx.ToPrimitive(a, "default")
	if err != nil {
		return err
	}
	pb, err := ctx.ToPrimitive(b, "default")
	if err != nil {
		return err
	}
	if pa.IsString() || pb.IsString() {
		sa, err := ctx.ToString(pa)
		if err != nil {
			return err
		}
		sb, err := ctx.ToString(pb)
		if err != nil {
			return err
		}
		f.push(ctx.Heap.NewString(sa + sb))
		return nil
	}
	na, err := ctx.ToNumber(pa)
	if err != nil {
		return err
	}
	nb, err := ctx.ToNumber(pb)
	if err != nil {
		return err
	}
	f.push(NumberValue(na + nb))
	return nil
}

func (ctx *Context) opNumeric(f *frame, op Opcode) error {
	b := f.pop()
	a := f.pop()
	na, err := ctx.ToNumber(a)
	if err != nil {
		return err
	}
	nb, err := ctx.ToNumber(b)
	if err != nil {
		return err
	}
	var r float64
	switch op {
	case OpSub:
		r = na - nb
	case OpMul:
		r = na * nb
	case OpDiv:
		r = na / nb
	case OpMod:
		r = jsMod(na, nb)
	case OpPow:
		r = jsPow(na, nb)
	}
	f.push(NumberValue(r))
	return nil
}

func (ctx *Context) opBitwise(f *frame, op Opcode) error {
	b := f.pop()
	a := f.pop()
	ia, err := ctx.ToInt32(a)
	if err != nil {
		return err
	}
	var r float64
	switch op {
	case OpShl, OpSar, OpShr:
		shift, err := ctx.ToUint32(b)
		if err != nil {
			return err
		}
		s := shift & 31
		switch op {
		case OpShl:
			r = float64(ia << s)
		case OpSar:
			r = float64(ia >> s)
		case OpShr:
			r = float64(uint32(ia) >> s)
		}
	default:
		ib, err := ctx.ToInt32(b)
		if err != nil {
			return err
		}
		switch op {
		case OpBAnd:
			r = float64(ia & ib)
		case OpBOr:
			r = float64(ia | ib)
		case OpBXor:
			r = float64(ia ^ ib)
		}
	}
	f.push(NumberValue(r))
	return nil
}

func (ctx *Context) opCompare(f *frame, op Opcode) error {
	b := f.pop()
	a := f.pop()
	c, err := ctx.compare(a, b)
	if err != nil {
		return err
	}
	var res bool
	switch op {
	case OpLt:
		res = c == -1
	case OpLte:
		res = c == -1 || c == 0
	case OpGt:
		res = c == 1
	case OpGte:
		res = c == 1 || c == 0
	}
	if c == 2 {
		res = false
	}
	f.push(BoolValue(res))
	return nil
}

// getElement is get_array_el with a fast path for integer indexing.
func (ctx *Context) getElement(obj, key Value) (Value, error) {
	if obj.IsObject() && key.IsNumber() {
		o := ctx.Heap.Obj(obj)
		if o.Class == ClassArray || o.Class == ClassArguments {
			fidx := key.Number()
			if i := int(fidx); float64(i) == fidx && i >= 0 {
				if i < len(o.Elements) {
					return o.Elements[i], nil
				}
				return Undefined, nil
			}
		}
	}
	k, err := ctx.propKey(key)
	if err != nil {
		return Undefined, err
	}
	return ctx.GetProp(obj, k)
}

func (ctx *Context) setElement(obj, key, val Value) error {
	if obj.IsObject() && key.IsNumber() {
		o := ctx.Heap.Obj(obj)
		if o.Class == ClassArray || o.Class == ClassArguments {
			fidx := key.Number()
			if i := int(fidx); float64(i) == fidx && i >= 0 {
				if o.Frozen {
					return ctx.throwTypeError("cannot assign to element of a frozen array")
				}
				return ctx.setArrayElement(o, i, val)
			}
		}
	}
	k, err := ctx.propKey(key)
	if err != nil {
		return err
	}
	return ctx.SetProp(obj, k, val)
}
