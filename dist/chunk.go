// Package dist serialises compiled function modules to a canonical CBOR
// wire format, so hosts can compile once and execute later (or elsewhere)
// without shipping source text.
package dist

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/microjs/vm"
)

var log = commonlog.GetLogger("microjs.dist")

// ChunkMagic identifies a serialised module.
const ChunkMagic = "MJSC"

// ChunkVersion is bumped on every incompatible format change.
const ChunkVersion = 1

// Chunk is the wire form of a compiled top-level function and every
// function nested inside it, flattened into one proto table.
type Chunk struct {
	Magic      string       `cbor:"magic"`
	Version    int          `cbor:"version"`
	SourceName string       `cbor:"source"`
	Main       int          `cbor:"main"` // index of the entry proto
	Protos     []ProtoChunk `cbor:"protos"`
}

// ProtoChunk is one function module. Nested functions and constants are
// referenced by index so the object graph stays acyclic for CBOR.
type ProtoChunk struct {
	Name       string           `cbor:"name"`
	Code       []byte           `cbor:"code"`
	Consts     []Const          `cbor:"consts"`
	NumParams  int              `cbor:"params"`
	NumLocals  int              `cbor:"locals"`
	NumCells   int              `cbor:"cells"`
	CellParams []CellParam      `cbor:"cellparams,omitempty"`
	Upvals     []Upval          `cbor:"upvals,omitempty"`
	Flags      uint8            `cbor:"flags"`
	Protos     []int            `cbor:"protos,omitempty"`
	Regexps    []Regexp         `cbor:"regexps,omitempty"`
	ExcTable   []ExceptionEntry `cbor:"exc,omitempty"`
	SourceMap  []SourceMapEntry `cbor:"map,omitempty"`
}

// Const kinds.
const (
	ConstUndefined = iota
	ConstNull
	ConstFalse
	ConstTrue
	ConstNumber
	ConstString
)

// Const is one constants-pool entry in tagged form.
type Const struct {
	Kind int     `cbor:"k"`
	Num  float64 `cbor:"n,omitempty"`
	Str  string  `cbor:"s,omitempty"`
}

// CellParam mirrors vm.CellParam.
type CellParam struct {
	Cell uint16 `cbor:"c"`
	Arg  uint16 `cbor:"a"`
}

// Upval mirrors vm.UpvalDesc.
type Upval struct {
	Index      uint16 `cbor:"i"`
	FromParent bool   `cbor:"p"`
}

// Regexp preserves a regex literal verbatim.
type Regexp struct {
	Source string `cbor:"src"`
	Flags  string `cbor:"flags"`
}

// ExceptionEntry mirrors vm.ExceptionEntry.
type ExceptionEntry struct {
	StartPC    int `cbor:"s"`
	EndPC      int `cbor:"e"`
	CatchPC    int `cbor:"c"`
	FinallyPC  int `cbor:"f"`
	StackDepth int `cbor:"d"`
}

// SourceMapEntry mirrors vm.SourceMapEntry.
type SourceMapEntry struct {
	PC   int `cbor:"p"`
	Line int `cbor:"l"`
	Col  int `cbor:"c"`
}

// ---------------------------------------------------------------------------
// Building chunks from compiled modules
// ---------------------------------------------------------------------------

// Build flattens a compiled module into a chunk. Constants must come from
// the heap that compiled the module.
func Build(main *vm.FunctionProto, heap *vm.Heap) *Chunk {
	c := &Chunk{Magic: ChunkMagic, Version: ChunkVersion, SourceName: main.SourceName}
	index := make(map[*vm.FunctionProto]int)

	var walk func(p *vm.FunctionProto) int
	walk = func(p *vm.FunctionProto) int {
		if i, ok := index[p]; ok {
			return i
		}
		i := len(c.Protos)
		index[p] = i
		c.Protos = append(c.Protos, ProtoChunk{})

		pc := ProtoChunk{
			Name:      p.Name,
			Code:      p.Code,
			NumParams: p.NumParams,
			NumLocals: p.NumLocals,
			NumCells:  p.NumCells,
			Flags:     p.Flags,
		}
		for _, cp := range p.CellParams {
			pc.CellParams = append(pc.CellParams, CellParam{Cell: cp.Cell, Arg: cp.Arg})
		}
		for _, u := range p.Upvals {
			pc.Upvals = append(pc.Upvals, Upval{Index: u.Index, FromParent: u.FromParent})
		}
		for _, k := range p.Constants {
			pc.Consts = append(pc.Consts, constFromValue(k, heap))
		}
		for _, r := range p.Regexps {
			pc.Regexps = append(pc.Regexps, Regexp{Source: r.Source, Flags: r.Flags})
		}
		for _, e := range p.ExcTable {
			pc.ExcTable = append(pc.ExcTable, ExceptionEntry{
				StartPC: e.StartPC, EndPC: e.EndPC, CatchPC: e.CatchPC,
				FinallyPC: e.FinallyPC, StackDepth: e.StackDepth,
			})
		}
		for _, m := range p.SourceMap {
			pc.SourceMap = append(pc.SourceMap, SourceMapEntry{PC: m.PC, Line: m.Line, Col: m.Col})
		}
		for _, nested := range p.Protos {
			pc.Protos = append(pc.Protos, walk(nested))
		}
		c.Protos[i] = pc
		return i
	}
	c.Main = walk(main)
	return c
}

func constFromValue(v vm.Value, heap *vm.Heap) Const {
	switch {
	case v.IsNull():
		return Const{Kind: ConstNull}
	case v == vm.True:
		return Const{Kind: ConstTrue}
	case v == vm.False:
		return Const{Kind: ConstFalse}
	case v.IsNumber():
		return Const{Kind: ConstNumber, Num: v.Number()}
	case v.IsString():
		return Const{Kind: ConstString, Str: heap.Str(v)}
	default:
		return Const{Kind: ConstUndefined}
	}
}

// ---------------------------------------------------------------------------
// Loading chunks
// ---------------------------------------------------------------------------

// Load validates a chunk and reconstructs the entry function module against
// a fresh heap. Code operands, jump targets, cell parameters, nested-proto
// indices and exception-table pc ranges are bounds-checked, and a violation
// returns an error. Upvalue descriptors and exception-table stack depths are
// copied without a check.
func (c *Chunk) Load(heap *vm.Heap) (*vm.FunctionProto, error) {
	if c.Magic != ChunkMagic {
		return nil, fmt.Errorf("dist: bad magic %q", c.Magic)
	}
	if c.Version != ChunkVersion {
		return nil, fmt.Errorf("dist: unsupported version %d", c.Version)
	}
	if c.Main < 0 || c.Main >= len(c.Protos) {
		return nil, fmt.Errorf("dist: main index %d out of range", c.Main)
	}
	log.Debugf("loading chunk %q: %d protos", c.SourceName, len(c.Protos))

	protos := make([]*vm.FunctionProto, len(c.Protos))
	for i := range protos {
		protos[i] = &vm.FunctionProto{}
	}
	for i, pc := range c.Protos {
		p := protos[i]
		p.Name = pc.Name
		p.SourceName = c.SourceName
		p.Code = pc.Code
		p.NumParams = pc.NumParams
		p.NumLocals = pc.NumLocals
		p.NumCells = pc.NumCells
		p.Flags = pc.Flags
		if pc.NumParams < 0 || pc.NumLocals < 0 || pc.NumCells < 0 ||
			pc.NumParams > 0xFFFF || pc.NumLocals > 0xFFFF || pc.NumCells > 0xFFFF {
			return nil, fmt.Errorf("dist: proto %d: implausible frame sizes", i)
		}
		for _, cp := range pc.CellParams {
			if int(cp.Arg) >= pc.NumParams || int(cp.Cell) >= pc.NumCells {
				return nil, fmt.Errorf("dist: proto %d: cell parameter out of range", i)
			}
			p.CellParams = append(p.CellParams, vm.CellParam{Cell: cp.Cell, Arg: cp.Arg})
		}
		for _, u := range pc.Upvals {
			p.Upvals = append(p.Upvals, vm.UpvalDesc{Index: u.Index, FromParent: u.FromParent})
		}
		for _, k := range pc.Consts {
			v, err := k.value(heap)
			if err != nil {
				return nil, fmt.Errorf("dist: proto %d: %w", i, err)
			}
			p.Constants = append(p.Constants, v)
		}
		for _, r := range pc.Regexps {
			p.Regexps = append(p.Regexps, vm.RegexpLiteral{Source: r.Source, Flags: r.Flags})
		}
		for _, e := range pc.ExcTable {
			p.ExcTable = append(p.ExcTable, vm.ExceptionEntry{
				StartPC: e.StartPC, EndPC: e.EndPC, CatchPC: e.CatchPC,
				FinallyPC: e.FinallyPC, StackDepth: e.StackDepth,
			})
		}
		for _, m := range pc.SourceMap {
			p.SourceMap = append(p.SourceMap, vm.SourceMapEntry{PC: m.PC, Line: m.Line, Col: m.Col})
		}
		for _, ni := range pc.Protos {
			if ni < 0 || ni >= len(protos) {
				return nil, fmt.Errorf("dist: proto %d references proto %d out of range", i, ni)
			}
			p.Protos = append(p.Protos, protos[ni])
		}
	}
	for i, p := range protos {
		if err := verifyCode(p); err != nil {
			return nil, fmt.Errorf("dist: proto %d: %w", i, err)
		}
	}
	return protos[c.Main], nil
}

// verifyCode walks a proto's bytecode checking opcode validity, operand
// bounds and jump targets, so a hostile chunk fails at load rather than
// crashing the interpreter.
func verifyCode(p *vm.FunctionProto) error {
	n := len(p.Code)
	pc := 0
	for pc < n {
		op := vm.Opcode(p.Code[pc])
		if !op.Valid() {
			return fmt.Errorf("invalid opcode 0x%02x at %d", byte(op), pc)
		}
		width := op.Info().OperandBytes
		if pc+1+width > n {
			return fmt.Errorf("truncated operand at %d", pc)
		}
		next := pc + 1 + width

		u16 := func() int {
			return int(p.Code[pc+1]) | int(p.Code[pc+2])<<8
		}
		switch op {
		case vm.OpPushConst:
			if u16() >= len(p.Constants) {
				return fmt.Errorf("constant index out of range at %d", pc)
			}
		case vm.OpGetGlobal, vm.OpGetGlobalSoft, vm.OpPutGlobal, vm.OpDefineGlobal,
			vm.OpGetField, vm.OpPutField, vm.OpDefineField, vm.OpDefineGetter, vm.OpDefineSetter:
			idx := u16()
			if idx >= len(p.Constants) || !p.Constants[idx].IsString() {
				return fmt.Errorf("name constant out of range at %d", pc)
			}
		case vm.OpGetLoc, vm.OpPutLoc:
			if u16() >= p.NumLocals {
				return fmt.Errorf("local slot out of range at %d", pc)
			}
		case vm.OpGetLoc0, vm.OpGetLoc1, vm.OpGetLoc2, vm.OpGetLoc3,
			vm.OpPutLoc0, vm.OpPutLoc1, vm.OpPutLoc2, vm.OpPutLoc3:
			slot := 0
			switch op {
			case vm.OpGetLoc1, vm.OpPutLoc1:
				slot = 1
			case vm.OpGetLoc2, vm.OpPutLoc2:
				slot = 2
			case vm.OpGetLoc3, vm.OpPutLoc3:
				slot = 3
			}
			if slot >= p.NumLocals {
				return fmt.Errorf("local slot out of range at %d", pc)
			}
		case vm.OpGetArg, vm.OpPutArg:
			if u16() >= p.NumParams {
				return fmt.Errorf("argument slot out of range at %d", pc)
			}
		case vm.OpGetVarRef, vm.OpPutVarRef:
			if u16() >= p.NumCells+len(p.Upvals) {
				return fmt.Errorf("var ref out of range at %d", pc)
			}
		case vm.OpFClosure:
			if u16() >= len(p.Protos) {
				return fmt.Errorf("proto index out of range at %d", pc)
			}
		case vm.OpFClosure8:
			if int(p.Code[pc+1]) >= len(p.Protos) {
				return fmt.Errorf("proto index out of range at %d", pc)
			}
		case vm.OpRegexp:
			if u16() >= len(p.Regexps) {
				return fmt.Errorf("regexp index out of range at %d", pc)
			}
		case vm.OpGoto, vm.OpIfTrue, vm.OpIfFalse, vm.OpGosub:
			disp := int(int32(uint32(p.Code[pc+1]) | uint32(p.Code[pc+2])<<8 |
				uint32(p.Code[pc+3])<<16 | uint32(p.Code[pc+4])<<24))
			if t := next + disp; t < 0 || t > n {
				return fmt.Errorf("jump target out of range at %d", pc)
			}
		case vm.OpGoto8, vm.OpIfTrue8, vm.OpIfFalse8:
			disp := int(int8(p.Code[pc+1]))
			if t := next + disp; t < 0 || t > n {
				return fmt.Errorf("jump target out of range at %d", pc)
			}
		}
		pc = next
	}
	for _, e := range p.ExcTable {
		if e.StartPC < 0 || e.EndPC < e.StartPC || e.EndPC > n ||
			e.CatchPC > n || e.FinallyPC > n || e.StackDepth < 0 {
			return fmt.Errorf("invalid exception table entry %+v", e)
		}
	}
	return nil
}

func (k Const) value(heap *vm.Heap) (vm.Value, error) {
	switch k.Kind {
	case ConstUndefined:
		return vm.Undefined, nil
	case ConstNull:
		return vm.Null, nil
	case ConstFalse:
		return vm.False, nil
	case ConstTrue:
		return vm.True, nil
	case ConstNumber:
		return vm.NumberValue(k.Num), nil
	case ConstString:
		return heap.NewString(k.Str), nil
	default:
		return vm.Undefined, fmt.Errorf("unknown constant kind %d", k.Kind)
	}
}
