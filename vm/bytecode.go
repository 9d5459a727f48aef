package vm

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Stack shuffles. Effects are written bottom..top -> bottom..top.
const (
	OpDrop    Opcode = 0x01 // a ->
	OpDup     Opcode = 0x02 // a -> a a
	OpDup1    Opcode = 0x03 // a b -> a a b
	OpDup2    Opcode = 0x04 // a b -> a b a b
	OpSwap    Opcode = 0x05 // a b -> b a
	OpRot3L   Opcode = 0x06 // a b c -> b c a
	OpNip     Opcode = 0x07 // a b -> b
	OpPerm3   Opcode = 0x08 // a b c -> b a c
	OpPerm4   Opcode = 0x09 // a b c d -> c a b d
	OpInsert2 Opcode = 0x0A // a b -> b a b
	OpInsert3 Opcode = 0x0B // a b c -> c a b c
)

// Push constants.
const (
	OpPushConst Opcode = 0x10 // push constant (16-bit index)
	OpPushI8    Opcode = 0x11 // push 8-bit signed integer as a number
	OpPushTrue  Opcode = 0x12
	OpPushFalse Opcode = 0x13
	OpPushNull  Opcode = 0x14
	OpPushUndef Opcode = 0x15
)

// Frame access.
const (
	OpGetLoc    Opcode = 0x20 // push local (16-bit slot)
	OpPutLoc    Opcode = 0x21 // pop into local (16-bit slot)
	OpGetLoc0   Opcode = 0x22
	OpGetLoc1   Opcode = 0x23
	OpGetLoc2   Opcode = 0x24
	OpGetLoc3   Opcode = 0x25
	OpPutLoc0   Opcode = 0x26
	OpPutLoc1   Opcode = 0x27
	OpPutLoc2   Opcode = 0x28
	OpPutLoc3   Opcode = 0x29
	OpGetArg    Opcode = 0x2A // push argument (16-bit slot)
	OpPutArg    Opcode = 0x2B // pop into argument (16-bit slot)
	OpGetVarRef Opcode = 0x2C // push through closure cell (16-bit ref index)
	OpPutVarRef Opcode = 0x2D // pop through closure cell (16-bit ref index)
)

// Globals. Operand is a name-constant index.
const (
	OpGetGlobal     Opcode = 0x30 // ReferenceError when undeclared
	OpGetGlobalSoft Opcode = 0x31 // undefined when undeclared (typeof)
	OpPutGlobal     Opcode = 0x32 // ReferenceError when undeclared
	OpDefineGlobal  Opcode = 0x33 // declare: pop initial value, create property if absent
)

// Properties.
const (
	OpGetField     Opcode = 0x40 // obj -> value              (16-bit name)
	OpPutField     Opcode = 0x41 // obj value ->              (16-bit name)
	OpDefineField  Opcode = 0x42 // obj value -> obj          (16-bit name)
	OpDefineGetter Opcode = 0x43 // obj fn -> obj             (16-bit name)
	OpDefineSetter Opcode = 0x44 // obj fn -> obj             (16-bit name)
	OpGetArrayEl   Opcode = 0x45 // obj key -> value
	OpPutArrayEl   Opcode = 0x46 // obj key value ->
	OpGetLength    Opcode = 0x47 // obj -> length
	OpDelete       Opcode = 0x48 // obj key -> bool
	OpSetProto     Opcode = 0x49 // obj proto -> obj
)

// Control flow. Jump displacements are relative to the pc after the operand.
const (
	OpGoto            Opcode = 0x50 // 32-bit signed displacement
	OpGoto8           Opcode = 0x51 // 8-bit signed displacement
	OpIfTrue          Opcode = 0x52 // pop, branch when truthy (32-bit)
	OpIfTrue8         Opcode = 0x53
	OpIfFalse         Opcode = 0x54 // pop, branch when falsy (32-bit)
	OpIfFalse8        Opcode = 0x55
	OpGosub           Opcode = 0x56 // push resume address, jump (32-bit)
	OpRet             Opcode = 0x57 // pop resume address or disposition
	OpCall            Opcode = 0x58 // fn a1..an -> result     (8-bit argc)
	OpCallMethod      Opcode = 0x59 // this fn a1..an -> result (8-bit argc)
	OpCallConstructor Opcode = 0x5A // fn a1..an -> result     (8-bit argc)
	OpReturn          Opcode = 0x5B
	OpReturnUndef     Opcode = 0x5C
	OpThrow           Opcode = 0x5D
	OpCatch           Opcode = 0x5E // catch-entry marker; thrown value already pushed
)

// Iteration.
const (
	OpForInStart Opcode = 0x60 // obj -> iter
	OpForOfStart Opcode = 0x61 // obj -> iter
	OpForInNext  Opcode = 0x62 // iter -> iter key done
	OpForOfNext  Opcode = 0x63 // iter -> iter value done
)

// Arithmetic.
const (
	OpAdd     Opcode = 0x70
	OpSub     Opcode = 0x71
	OpMul     Opcode = 0x72
	OpDiv     Opcode = 0x73
	OpMod     Opcode = 0x74
	OpPow     Opcode = 0x75
	OpNeg     Opcode = 0x76
	OpPlus    Opcode = 0x77
	OpInc     Opcode = 0x78
	OpDec     Opcode = 0x79
	OpPostInc Opcode = 0x7A // x -> old new
	OpPostDec Opcode = 0x7B // x -> old new
)

// Bitwise (32-bit two's-complement semantics).
const (
	OpShl  Opcode = 0x80
	OpSar  Opcode = 0x81 // sign-propagating >>
	OpShr  Opcode = 0x82 // zero-fill >>>
	OpBAnd Opcode = 0x83
	OpBOr  Opcode = 0x84
	OpBXor Opcode = 0x85
	OpBNot Opcode = 0x86
)

// Comparison and type operators.
const (
	OpLt         Opcode = 0x90
	OpLte        Opcode = 0x91
	OpGt         Opcode = 0x92
	OpGte        Opcode = 0x93
	OpEq         Opcode = 0x94
	OpNeq        Opcode = 0x95
	OpStrictEq   Opcode = 0x96
	OpStrictNeq  Opcode = 0x97
	OpLNot       Opcode = 0x98
	OpTypeof     Opcode = 0x99
	OpInstanceof Opcode = 0x9A
	OpIn         Opcode = 0x9B
)

// Value construction.
const (
	OpObject    Opcode = 0xA0 // -> {}
	OpArrayFrom Opcode = 0xA1 // a1..an -> array          (16-bit count)
	OpFClosure  Opcode = 0xA2 // -> closure               (16-bit proto index)
	OpFClosure8 Opcode = 0xA3 // -> closure               (8-bit proto index)
	OpRegexp    Opcode = 0xA4 // -> regexp                (16-bit literal index)
	OpPushThis  Opcode = 0xA5
	OpThisFunc  Opcode = 0xA6 // push the running closure
	OpArguments Opcode = 0xA7 // materialise the arguments object
	OpNewTarget Opcode = 0xA8
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string
	OperandBytes int
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpDrop: {"drop", 0}, OpDup: {"dup", 0}, OpDup1: {"dup1", 0}, OpDup2: {"dup2", 0},
	OpSwap: {"swap", 0}, OpRot3L: {"rot3l", 0}, OpNip: {"nip", 0},
	OpPerm3: {"perm3", 0}, OpPerm4: {"perm4", 0}, OpInsert2: {"insert2", 0}, OpInsert3: {"insert3", 0},

	OpPushConst: {"push_const", 2}, OpPushI8: {"push_i8", 1},
	OpPushTrue: {"push_true", 0}, OpPushFalse: {"push_false", 0},
	OpPushNull: {"push_null", 0}, OpPushUndef: {"push_undef", 0},

	OpGetLoc: {"get_loc", 2}, OpPutLoc: {"put_loc", 2},
	OpGetLoc0: {"get_loc0", 0}, OpGetLoc1: {"get_loc1", 0}, OpGetLoc2: {"get_loc2", 0}, OpGetLoc3: {"get_loc3", 0},
	OpPutLoc0: {"put_loc0", 0}, OpPutLoc1: {"put_loc1", 0}, OpPutLoc2: {"put_loc2", 0}, OpPutLoc3: {"put_loc3", 0},
	OpGetArg: {"get_arg", 2}, OpPutArg: {"put_arg", 2},
	OpGetVarRef: {"get_var_ref", 2}, OpPutVarRef: {"put_var_ref", 2},

	OpGetGlobal: {"get_global", 2}, OpGetGlobalSoft: {"get_global_soft", 2},
	OpPutGlobal: {"put_global", 2}, OpDefineGlobal: {"define_global", 2},

	OpGetField: {"get_field", 2}, OpPutField: {"put_field", 2}, OpDefineField: {"define_field", 2},
	OpDefineGetter: {"define_getter", 2}, OpDefineSetter: {"define_setter", 2},
	OpGetArrayEl: {"get_array_el", 0}, OpPutArrayEl: {"put_array_el", 0},
	OpGetLength: {"get_length", 0}, OpDelete: {"delete", 0}, OpSetProto: {"set_proto", 0},

	OpGoto: {"goto", 4}, OpGoto8: {"goto8", 1},
	OpIfTrue: {"if_true", 4}, OpIfTrue8: {"if_true8", 1},
	OpIfFalse: {"if_false", 4}, OpIfFalse8: {"if_false8", 1},
	OpGosub: {"gosub", 4}, OpRet: {"ret", 0},
	OpCall: {"call", 1}, OpCallMethod: {"call_method", 1}, OpCallConstructor: {"call_constructor", 1},
	OpReturn: {"return", 0}, OpReturnUndef: {"return_undef", 0},
	OpThrow: {"throw", 0}, OpCatch: {"catch", 0},

	OpForInStart: {"for_in_start", 0}, OpForOfStart: {"for_of_start", 0},
	OpForInNext: {"for_in_next", 0}, OpForOfNext: {"for_of_next", 0},

	OpAdd: {"add", 0}, OpSub: {"sub", 0}, OpMul: {"mul", 0}, OpDiv: {"div", 0},
	OpMod: {"mod", 0}, OpPow: {"pow", 0}, OpNeg: {"neg", 0}, OpPlus: {"plus", 0},
	OpInc: {"inc", 0}, OpDec: {"dec", 0}, OpPostInc: {"post_inc", 0}, OpPostDec: {"post_dec", 0},

	OpShl: {"shl", 0}, OpSar: {"sar", 0}, OpShr: {"shr", 0},
	OpBAnd: {"and", 0}, OpBOr: {"or", 0}, OpBXor: {"xor", 0}, OpBNot: {"not", 0},

	OpLt: {"lt", 0}, OpLte: {"lte", 0}, OpGt: {"gt", 0}, OpGte: {"gte", 0},
	OpEq: {"eq", 0}, OpNeq: {"neq", 0}, OpStrictEq: {"strict_eq", 0}, OpStrictNeq: {"strict_neq", 0},
	OpLNot: {"lnot", 0}, OpTypeof: {"typeof", 0}, OpInstanceof: {"instanceof", 0}, OpIn: {"in", 0},

	OpObject: {"object", 0}, OpArrayFrom: {"array_from", 2},
	OpFClosure: {"fclosure", 2}, OpFClosure8: {"fclosure8", 1}, OpRegexp: {"regexp", 2},
	OpPushThis: {"push_this", 0}, OpThisFunc: {"this_func", 0},
	OpArguments: {"arguments", 0}, OpNewTarget: {"new_target", 0},
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("unknown_%02x", byte(op))}
}

// String implements the Stringer interface.
func (op Opcode) String() string { return op.Info().Name }

// ---------------------------------------------------------------------------
// Compiled function module
// ---------------------------------------------------------------------------

// UpvalDesc records where one captured cell comes from when a closure is
// built: either the parent's own cell table or the parent's upvalue table.
type UpvalDesc struct {
	Index      uint16
	FromParent bool // true: parent own cell; false: parent upvalue
}

// CellParam tells the frame setup to copy a call argument into an own cell,
// for parameters captured by inner functions.
type CellParam struct {
	Cell uint16
	Arg  uint16
}

// ExceptionEntry is one guarded pc range. On throw the innermost entry whose
// range contains the failing pc is selected; StackDepth is the operand-stack
// depth at region entry and unwinding truncates to it.
type ExceptionEntry struct {
	StartPC    int
	EndPC      int
	CatchPC    int // -1 when the region has no catch
	FinallyPC  int // -1 when the region has no finally
	StackDepth int
}

// SourceMapEntry maps an opcode offset to its source position. Entries are
// sorted by PC; a lookup takes the last entry at or before the pc.
type SourceMapEntry struct {
	PC   int
	Line int
	Col  int
}

// RegexpLiteral preserves a regex literal's source and flags verbatim.
type RegexpLiteral struct {
	Source string
	Flags  string
}

// Function flags.
const (
	FlagArrow       uint8 = 1 << 0 // no own this / arguments, not constructible
	FlagConstructor uint8 = 1 << 1
)

// FunctionProto is a compiled function module: immutable bytecode plus the
// tables the VM needs to execute it.
type FunctionProto struct {
	Name       string
	SourceName string
	Code       []byte
	Constants  []Value
	NumParams  int
	NumLocals  int
	NumCells   int
	CellParams []CellParam
	Upvals     []UpvalDesc
	Flags      uint8
	Protos     []*FunctionProto
	Regexps    []RegexpLiteral
	ExcTable   []ExceptionEntry
	SourceMap  []SourceMapEntry
}

// IsArrow reports whether this function is an arrow function.
func (p *FunctionProto) IsArrow() bool { return p.Flags&FlagArrow != 0 }

// Position returns the source position for a pc, or (0, 0) when unmapped.
func (p *FunctionProto) Position(pc int) (line, col int) {
	i := sort.Search(len(p.SourceMap), func(i int) bool {
		return p.SourceMap[i].PC > pc
	})
	if i == 0 {
		return 0, 0
	}
	e := p.SourceMap[i-1]
	return e.Line, e.Col
}

// findHandler selects the innermost exception entry covering pc. A try with
// both catch and finally registers two entries: the catch entry covers the
// try block only, the finally entry covers try plus catch, so range
// containment alone picks the right handler at every stage of an unwind.
func (p *FunctionProto) findHandler(pc int) *ExceptionEntry {
	var best *ExceptionEntry
	for i := range p.ExcTable {
		e := &p.ExcTable[i]
		if pc < e.StartPC || pc >= e.EndPC {
			continue
		}
		if best == nil || e.EndPC-e.StartPC <= best.EndPC-best.StartPC {
			best = e
		}
	}
	return best
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct bytecode sequences.
type BytecodeBuilder struct {
	bytes []byte
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte { return b.bytes }

// Len returns the current length.
func (b *BytecodeBuilder) Len() int { return len(b.bytes) }

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitU8 appends an opcode with one byte operand.
func (b *BytecodeBuilder) EmitU8(op Opcode, operand byte) {
	b.bytes = append(b.bytes, byte(op), operand)
}

// EmitU16 appends an opcode with a 16-bit operand (little-endian).
func (b *BytecodeBuilder) EmitU16(op Opcode, operand uint16) {
	b.bytes = append(b.bytes, byte(op), byte(operand), byte(operand>>8))
}

// EmitI32 appends an opcode with a 32-bit signed operand (little-endian).
func (b *BytecodeBuilder) EmitI32(op Opcode, operand int32) {
	b.bytes = append(b.bytes, byte(op))
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(operand))
	b.bytes = append(b.bytes, buf[:]...)
}

// PatchI32 overwrites the 32-bit operand at the given operand offset.
func (b *BytecodeBuilder) PatchI32(at int, operand int32) {
	binary.LittleEndian.PutUint32(b.bytes[at:], uint32(operand))
}

// ---------------------------------------------------------------------------
// Disassembler
// ---------------------------------------------------------------------------

// Disassemble renders bytecode for debugging and tests.
func Disassemble(p *FunctionProto) string {
	out := ""
	pc := 0
	for pc < len(p.Code) {
		op := Opcode(p.Code[pc])
		info := op.Info()
		out += fmt.Sprintf("%4d: %s", pc, info.Name)
		switch info.OperandBytes {
		case 1:
			out += fmt.Sprintf(" %d", int8(p.Code[pc+1]))
		case 2:
			out += fmt.Sprintf(" %d", binary.LittleEndian.Uint16(p.Code[pc+1:]))
		case 4:
			out += fmt.Sprintf(" %d", int32(binary.LittleEndian.Uint32(p.Code[pc+1:])))
		}
		out += "\n"
		pc += 1 + info.OperandBytes
	}
	return out
}
