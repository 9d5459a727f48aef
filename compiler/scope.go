package compiler

import (
	"math"
	"strconv"

	"github.com/chazu/microjs/vm"
)

// ---------------------------------------------------------------------------
// Function state: scope analysis and bytecode emission
// ---------------------------------------------------------------------------

type varKind uint8

const (
	varLocal varKind = iota // plain local slot (get_loc/put_loc)
	varArg                  // parameter slot (get_arg/put_arg)
	varCell                 // closure cell (get_var_ref/put_var_ref)
	varGlobal               // property of the global object
)

type varInfo struct {
	kind varKind
	idx  int
}

// loopCtx tracks one breakable construct.
type loopCtx struct {
	label        string
	isLoop       bool // false for switch and bare labeled blocks: no continue
	breaks       []int
	continues    []int
	baseIter     int // fs.iterDepth outside the loop
	iterOnStack  bool
	finallyDepth int // len(fs.finallies) at entry
}

// finallyCtx collects the forward gosub sites that must land on the finally
// body once it is emitted.
type finallyCtx struct {
	gosubs []int
}

// funcState carries everything needed to compile one function. Scopes form
// a stack through parent links; identifier resolution walks outward.
type funcState struct {
	parent *funcState
	proto  *vm.FunctionProto
	b      vm.BytecodeBuilder

	isGlobal bool
	// hasCells: the function contains nested functions, so every local and
	// parameter lives in a closure cell. Functions without inner functions
	// keep plain slots and the short get_loc forms.
	hasCells bool

	vars     map[string]varInfo
	consts   map[string]uint16
	upvals   map[string]int // name -> index into proto.Upvals
	selfName string         // function expressions can call themselves by name

	loops     []*loopCtx
	finallies []*finallyCtx
	// finallyFloors records len(loops) at each finally-body entry; a break
	// or continue may not target a loop opened outside the innermost
	// finally body, which would abandon the gosub return state.
	finallyFloors []int
	iterDepth     int

	lastMapPC int
}

func newFuncState(parent *funcState, name string, isGlobal bool) *funcState {
	return &funcState{
		parent:   parent,
		isGlobal: isGlobal,
		proto:    &vm.FunctionProto{Name: name},
		vars:     make(map[string]varInfo),
		consts:   make(map[string]uint16),
		upvals:   make(map[string]int),
		lastMapPC: -1,
	}
}

// declare installs parameters and pre-scanned vars. Order matters: params
// first, then vars in declaration order.
func (fs *funcState) declare(params, vars []string) {
	if fs.isGlobal {
		for _, v := range vars {
			if _, ok := fs.vars[v]; !ok {
				fs.vars[v] = varInfo{kind: varGlobal}
			}
		}
		// Slot 0 of the top-level frame holds the completion value.
		fs.proto.NumLocals = 1
		return
	}
	fs.proto.NumParams = len(params)
	if fs.hasCells {
		for i, p := range params {
			if _, ok := fs.vars[p]; ok {
				continue
			}
			cell := fs.proto.NumCells
			fs.proto.NumCells++
			fs.vars[p] = varInfo{kind: varCell, idx: cell}
			fs.proto.CellParams = append(fs.proto.CellParams, vm.CellParam{Cell: uint16(cell), Arg: uint16(i)})
		}
		for _, v := range vars {
			if _, ok := fs.vars[v]; ok {
				continue
			}
			cell := fs.proto.NumCells
			fs.proto.NumCells++
			fs.vars[v] = varInfo{kind: varCell, idx: cell}
		}
		return
	}
	for i, p := range params {
		if _, ok := fs.vars[p]; !ok {
			fs.vars[p] = varInfo{kind: varArg, idx: i}
		}
	}
	for _, v := range vars {
		if _, ok := fs.vars[v]; !ok {
			fs.vars[v] = varInfo{kind: varLocal, idx: fs.proto.NumLocals}
			fs.proto.NumLocals++
		}
	}
}

// resolve finds a name in this function, as an upvalue, or as a global.
func (fs *funcState) resolve(name string) varInfo {
	if vi, ok := fs.vars[name]; ok {
		return vi
	}
	if idx, ok := fs.resolveUpval(name); ok {
		return varInfo{kind: varCell, idx: fs.proto.NumCells + idx}
	}
	return varInfo{kind: varGlobal}
}

// resolveUpval allocates an upvalue entry for a name found in an enclosing
// function, creating entries recursively through intermediate functions.
// Returns the index into proto.Upvals.
func (fs *funcState) resolveUpval(name string) (int, bool) {
	if idx, ok := fs.upvals[name]; ok {
		return idx, true
	}
	parent := fs.parent
	if parent == nil || parent.isGlobal {
		return 0, false
	}
	var desc vm.UpvalDesc
	if vi, ok := parent.vars[name]; ok {
		if vi.kind != varCell {
			// The parent has nested functions (us), so its locals are cells.
			return 0, false
		}
		desc = vm.UpvalDesc{Index: uint16(vi.idx), FromParent: true}
	} else if pidx, ok := parent.resolveUpval(name); ok {
		desc = vm.UpvalDesc{Index: uint16(pidx), FromParent: false}
	} else {
		return 0, false
	}
	idx := len(fs.proto.Upvals)
	fs.proto.Upvals = append(fs.proto.Upvals, desc)
	fs.upvals[name] = idx
	return idx, true
}

// ---------------------------------------------------------------------------
// Constant pool
// ---------------------------------------------------------------------------

func (fs *funcState) constIndex(key string, make func() vm.Value) uint16 {
	if idx, ok := fs.consts[key]; ok {
		return idx
	}
	idx := uint16(len(fs.proto.Constants))
	fs.proto.Constants = append(fs.proto.Constants, make())
	fs.consts[key] = idx
	return idx
}

func (fs *funcState) constString(heap *vm.Heap, s string) uint16 {
	return fs.constIndex("s:"+s, func() vm.Value { return heap.NewString(s) })
}

func (fs *funcState) constNumber(f float64) uint16 {
	key := "n:" + strconv.FormatUint(math.Float64bits(f), 16)
	return fs.constIndex(key, func() vm.Value { return vm.NumberValue(f) })
}

// ---------------------------------------------------------------------------
// Emission helpers
// ---------------------------------------------------------------------------

func (fs *funcState) here() int { return fs.b.Len() }

// markPos appends a source-map entry for the current pc.
func (fs *funcState) markPos(line, col int) {
	pc := fs.b.Len()
	if pc == fs.lastMapPC {
		return
	}
	fs.lastMapPC = pc
	fs.proto.SourceMap = append(fs.proto.SourceMap, vm.SourceMapEntry{PC: pc, Line: line, Col: col})
}

// emitJump emits a long-form jump with a zero displacement and returns the
// operand offset for patching.
func (fs *funcState) emitJump(op vm.Opcode) int {
	fs.b.EmitI32(op, 0)
	return fs.b.Len() - 4
}

// patchJump points a previously emitted jump at the current position.
func (fs *funcState) patchJump(at int) {
	fs.b.PatchI32(at, int32(fs.b.Len()-(at+4)))
}

// patchJumpTo points a previously emitted jump at an arbitrary target.
func (fs *funcState) patchJumpTo(at, target int) {
	fs.b.PatchI32(at, int32(target-(at+4)))
}

// emitJumpTo emits a backward jump, using the short form when the
// displacement fits in a signed byte.
func (fs *funcState) emitJumpTo(op vm.Opcode, target int) {
	var short vm.Opcode
	switch op {
	case vm.OpGoto:
		short = vm.OpGoto8
	case vm.OpIfTrue:
		short = vm.OpIfTrue8
	case vm.OpIfFalse:
		short = vm.OpIfFalse8
	}
	disp8 := target - (fs.b.Len() + 2)
	if short != 0 && disp8 >= -128 && disp8 < 0 {
		fs.b.EmitU8(short, byte(int8(disp8)))
		return
	}
	fs.b.EmitI32(op, int32(target-(fs.b.Len()+5)))
}

// emitGetVar emits the load for a resolved variable.
func (fs *funcState) emitGetVar(vi varInfo) {
	switch vi.kind {
	case varLocal:
		switch vi.idx {
		case 0:
			fs.b.Emit(vm.OpGetLoc0)
		case 1:
			fs.b.Emit(vm.OpGetLoc1)
		case 2:
			fs.b.Emit(vm.OpGetLoc2)
		case 3:
			fs.b.Emit(vm.OpGetLoc3)
		default:
			fs.b.EmitU16(vm.OpGetLoc, uint16(vi.idx))
		}
	case varArg:
		fs.b.EmitU16(vm.OpGetArg, uint16(vi.idx))
	case varCell:
		fs.b.EmitU16(vm.OpGetVarRef, uint16(vi.idx))
	}
}

// emitPutVar emits the store for a resolved variable.
func (fs *funcState) emitPutVar(vi varInfo) {
	switch vi.kind {
	case varLocal:
		switch vi.idx {
		case 0:
			fs.b.Emit(vm.OpPutLoc0)
		case 1:
			fs.b.Emit(vm.OpPutLoc1)
		case 2:
			fs.b.Emit(vm.OpPutLoc2)
		case 3:
			fs.b.Emit(vm.OpPutLoc3)
		default:
			fs.b.EmitU16(vm.OpPutLoc, uint16(vi.idx))
		}
	case varArg:
		fs.b.EmitU16(vm.OpPutArg, uint16(vi.idx))
	case varCell:
		fs.b.EmitU16(vm.OpPutVarRef, uint16(vi.idx))
	}
}

// ---------------------------------------------------------------------------
// Declaration pre-scan
// ---------------------------------------------------------------------------

// prescan walks a function body's token span collecting hoisted names:
// var declarators, function declarations and catch bindings, skipping
// nested function bodies. It also reports whether the body contains nested
// functions, which decides cell allocation for every local.
//
// The scan starts at index i (just after the body's opening brace, or 0 for
// top-level code) and stops at the matching close brace.
func prescan(toks []Token, i int, topLevel bool) (vars []string, hasFn bool) {
	depth := 0
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			vars = append(vars, name)
		}
	}

	for ; i < len(toks); i++ {
		switch toks[i].Type {
		case TokenEOF:
			return
		case TokenLBrace:
			depth++
		case TokenRBrace:
			depth--
			if depth < 0 && !topLevel {
				return
			}
		case TokenVar:
			collectDeclarators(toks, i+1, add)
		case TokenCatch:
			// catch (e): the binding is a function-scoped var.
			if i+2 < len(toks) && toks[i+1].Type == TokenLParen && toks[i+2].Type == TokenIdentifier {
				add(toks[i+2].Literal)
			}
		case TokenFunction:
			hasFn = true
			if isDeclPosition(toks, i) && i+1 < len(toks) && toks[i+1].Type == TokenIdentifier {
				add(toks[i+1].Literal)
			}
			i = skipFunctionBody(toks, i)
		case TokenArrow:
			hasFn = true
			if i+1 < len(toks) && toks[i+1].Type == TokenLBrace {
				i = skipBraces(toks, i+1)
			}
		}
	}
	return
}

// collectDeclarators records the names of `var a = ..., b = ...`. Commas at
// the declaration's own nesting level always separate declarators, because
// comma expressions need parentheses in an initializer.
func collectDeclarators(toks []Token, i int, add func(string)) {
	if i >= len(toks) || toks[i].Type != TokenIdentifier {
		return
	}
	add(toks[i].Literal)
	depth := 0
	for i++; i < len(toks); i++ {
		switch toks[i].Type {
		case TokenLParen, TokenLBracket, TokenLBrace:
			depth++
		case TokenRParen, TokenRBracket:
			depth--
		case TokenRBrace:
			depth--
			if depth < 0 {
				return
			}
		case TokenComma:
			if depth == 0 {
				if i+1 < len(toks) && toks[i+1].Type == TokenIdentifier {
					add(toks[i+1].Literal)
					i++
				}
			}
		case TokenSemi:
			if depth == 0 {
				return
			}
		case TokenVar, TokenEOF, TokenFunction:
			if depth == 0 {
				return
			}
			if toks[i].Type == TokenFunction {
				i = skipFunctionBody(toks, i)
			}
		}
	}
}

// isDeclPosition reports whether the function keyword at i sits in statement
// position (a declaration) rather than expression position.
func isDeclPosition(toks []Token, i int) bool {
	if i == 0 {
		return true
	}
	switch toks[i-1].Type {
	case TokenSemi, TokenLBrace, TokenRBrace, TokenColon, TokenElse, TokenDo:
		return true
	}
	return false
}

// skipFunctionBody advances past `function name? (params) { ... }`,
// returning the index of the closing brace.
func skipFunctionBody(toks []Token, i int) int {
	for i < len(toks) && toks[i].Type != TokenLBrace {
		if toks[i].Type == TokenEOF {
			return i
		}
		i++
	}
	return skipBraces(toks, i)
}

// skipBraces advances from an opening brace to its match.
func skipBraces(toks []Token, i int) int {
	depth := 0
	for ; i < len(toks); i++ {
		switch toks[i].Type {
		case TokenLBrace:
			depth++
		case TokenRBrace:
			depth--
			if depth == 0 {
				return i
			}
		case TokenEOF:
			return i
		}
	}
	return i
}
