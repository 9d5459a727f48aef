package compiler

import (
	"math"

	"github.com/chazu/microjs/vm"
)

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// A ref describes a pending assignable reference whose load has not been
// emitted yet. For refField the object sits on the stack; for refElem the
// object and key do. refNone means a plain value was already emitted.
type refKind uint8

const (
	refNone refKind = iota
	refName
	refField
	refElem
)

type ref struct {
	kind refKind
	name string
}

var valueRef = ref{kind: refNone}

// load materialises a pending reference as a value.
func (p *parser) load(r ref) {
	switch r.kind {
	case refName:
		p.loadName(r.name)
	case refField:
		if r.name == "length" {
			p.fs.b.Emit(vm.OpGetLength)
		} else {
			p.fs.b.EmitU16(vm.OpGetField, p.fs.constString(p.heap, r.name))
		}
	case refElem:
		p.fs.b.Emit(vm.OpGetArrayEl)
	}
}

func (p *parser) loadName(name string) {
	fs := p.fs
	if vi, ok := fs.vars[name]; ok {
		if vi.kind == varGlobal {
			fs.b.EmitU16(vm.OpGetGlobal, fs.constString(p.heap, name))
		} else {
			fs.emitGetVar(vi)
		}
		return
	}
	if idx, ok := fs.resolveUpval(name); ok {
		fs.emitGetVar(varInfo{kind: varCell, idx: fs.proto.NumCells + idx})
		return
	}
	if name == fs.selfName && name != "" {
		// A function expression can call itself by name.
		fs.b.Emit(vm.OpThisFunc)
		return
	}
	fs.b.EmitU16(vm.OpGetGlobal, fs.constString(p.heap, name))
}

// expression compiles a full expression including the comma operator.
func (p *parser) expression() error {
	if err := p.assignExpr(); err != nil {
		return err
	}
	for p.accept(TokenComma) {
		p.fs.b.Emit(vm.OpDrop)
		if err := p.assignExpr(); err != nil {
			return err
		}
	}
	return nil
}

func isUnaryStart(t TokenType) bool {
	switch t {
	case TokenNot, TokenTilde, TokenPlus, TokenMinus, TokenTypeof,
		TokenVoid, TokenDelete, TokenPlusPlus, TokenMinusMinus:
		return true
	}
	return false
}

// assignExpr compiles one assignment-level expression, leaving its value on
// the stack.
func (p *parser) assignExpr() error {
	if p.isArrowStart() {
		return p.arrowFunction()
	}
	if isUnaryStart(p.tok().Type) {
		if err := p.unary(); err != nil {
			return err
		}
		if err := p.binaryCont(1); err != nil {
			return err
		}
		return p.condCont()
	}

	r, err := p.postfixRef()
	if err != nil {
		return err
	}

	t := p.tok().Type
	switch {
	case t == TokenAssign:
		if r.kind == refNone {
			return p.errorf("invalid assignment target")
		}
		p.next()
		return p.assignTo(r)
	case compoundOp(t) != 0:
		if r.kind == refNone {
			return p.errorf("invalid assignment target")
		}
		p.next()
		return p.compoundAssign(r, compoundOp(t))
	case t == TokenAndAndAssign || t == TokenOrOrAssign || t == TokenNullishAssign:
		if r.kind != refName {
			return p.errorf("unsupported target for logical assignment")
		}
		p.next()
		return p.logicalAssign(r, t)
	case (t == TokenPlusPlus || t == TokenMinusMinus) && !p.tok().NewlineBefore:
		p.next()
		p.postIncDec(r, t == TokenPlusPlus)
	default:
		p.load(r)
	}

	if err := p.binaryCont(1); err != nil {
		return err
	}
	return p.condCont()
}

// assignTo compiles `ref = rhs`, leaving the assigned value.
func (p *parser) assignTo(r ref) error {
	if err := p.assignExpr(); err != nil {
		return err
	}
	switch r.kind {
	case refName:
		p.fs.b.Emit(vm.OpDup)
		p.storeName(r.name)
	case refField:
		p.fs.b.Emit(vm.OpInsert2)
		p.fs.b.EmitU16(vm.OpPutField, p.fs.constString(p.heap, r.name))
	case refElem:
		p.fs.b.Emit(vm.OpInsert3)
		p.fs.b.Emit(vm.OpPutArrayEl)
	}
	return nil
}

func compoundOp(t TokenType) vm.Opcode {
	switch t {
	case TokenPlusAssign:
		return vm.OpAdd
	case TokenMinusAssign:
		return vm.OpSub
	case TokenStarAssign:
		return vm.OpMul
	case TokenSlashAssign:
		return vm.OpDiv
	case TokenPercentAssign:
		return vm.OpMod
	case TokenStarStarAssign:
		return vm.OpPow
	case TokenAmpAssign:
		return vm.OpBAnd
	case TokenPipeAssign:
		return vm.OpBOr
	case TokenCaretAssign:
		return vm.OpBXor
	case TokenShlAssign:
		return vm.OpShl
	case TokenSarAssign:
		return vm.OpSar
	case TokenShrAssign:
		return vm.OpShr
	}
	return 0
}

// compoundAssign compiles `ref op= rhs`.
func (p *parser) compoundAssign(r ref, op vm.Opcode) error {
	switch r.kind {
	case refName:
		p.load(r)
		if err := p.assignExpr(); err != nil {
			return err
		}
		p.fs.b.Emit(op)
		p.fs.b.Emit(vm.OpDup)
		p.storeName(r.name)
	case refField:
		p.fs.b.Emit(vm.OpDup)
		p.load(r)
		if err := p.assignExpr(); err != nil {
			return err
		}
		p.fs.b.Emit(op)
		p.fs.b.Emit(vm.OpInsert2)
		p.fs.b.EmitU16(vm.OpPutField, p.fs.constString(p.heap, r.name))
	case refElem:
		p.fs.b.Emit(vm.OpDup2)
		p.fs.b.Emit(vm.OpGetArrayEl)
		if err := p.assignExpr(); err != nil {
			return err
		}
		p.fs.b.Emit(op)
		p.fs.b.Emit(vm.OpInsert3)
		p.fs.b.Emit(vm.OpPutArrayEl)
	}
	return nil
}

// logicalAssign compiles `name &&= / ||= / ??= rhs`.
func (p *parser) logicalAssign(r ref, t TokenType) error {
	p.load(r)
	var skips []int
	switch t {
	case TokenAndAndAssign:
		p.fs.b.Emit(vm.OpDup)
		skips = append(skips, p.fs.emitJump(vm.OpIfFalse))
	case TokenOrOrAssign:
		p.fs.b.Emit(vm.OpDup)
		skips = append(skips, p.fs.emitJump(vm.OpIfTrue))
	case TokenNullishAssign:
		// Assign only when the current value is undefined or null.
		p.fs.b.Emit(vm.OpDup)
		p.fs.b.Emit(vm.OpPushNull)
		p.fs.b.Emit(vm.OpEq)
		toAssign := p.fs.emitJump(vm.OpIfTrue)
		end := p.fs.emitJump(vm.OpGoto)
		p.fs.patchJump(toAssign)
		p.fs.b.Emit(vm.OpDrop)
		if err := p.assignExpr(); err != nil {
			return err
		}
		p.fs.b.Emit(vm.OpDup)
		p.storeName(r.name)
		p.fs.patchJump(end)
		return nil
	}
	p.fs.b.Emit(vm.OpDrop)
	if err := p.assignExpr(); err != nil {
		return err
	}
	p.fs.b.Emit(vm.OpDup)
	p.storeName(r.name)
	for _, at := range skips {
		p.fs.patchJump(at)
	}
	return nil
}

// postIncDec compiles `ref++` / `ref--`, leaving the old value.
func (p *parser) postIncDec(r ref, inc bool) {
	op := vm.OpPostInc
	if !inc {
		op = vm.OpPostDec
	}
	switch r.kind {
	case refName:
		p.load(r)
		p.fs.b.Emit(op)
		p.storeName(r.name)
	case refField:
		p.fs.b.Emit(vm.OpDup)
		p.load(r)
		p.fs.b.Emit(op)
		p.fs.b.Emit(vm.OpPerm3)
		p.fs.b.EmitU16(vm.OpPutField, p.fs.constString(p.heap, r.name))
	case refElem:
		p.fs.b.Emit(vm.OpDup2)
		p.fs.b.Emit(vm.OpGetArrayEl)
		p.fs.b.Emit(op)
		p.fs.b.Emit(vm.OpPerm4)
		p.fs.b.Emit(vm.OpPutArrayEl)
	}
}

// preIncDec compiles `++ref` / `--ref`, leaving the new value.
func (p *parser) preIncDec(r ref, inc bool) error {
	op := vm.OpInc
	if !inc {
		op = vm.OpDec
	}
	switch r.kind {
	case refNone:
		return p.errorf("invalid increment target")
	case refName:
		p.load(r)
		p.fs.b.Emit(op)
		p.fs.b.Emit(vm.OpDup)
		p.storeName(r.name)
	case refField:
		p.fs.b.Emit(vm.OpDup)
		p.load(r)
		p.fs.b.Emit(op)
		p.fs.b.Emit(vm.OpInsert2)
		p.fs.b.EmitU16(vm.OpPutField, p.fs.constString(p.heap, r.name))
	case refElem:
		p.fs.b.Emit(vm.OpDup2)
		p.fs.b.Emit(vm.OpGetArrayEl)
		p.fs.b.Emit(op)
		p.fs.b.Emit(vm.OpInsert3)
		p.fs.b.Emit(vm.OpPutArrayEl)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Unary operators
// ---------------------------------------------------------------------------

func (p *parser) unary() error {
	t := p.tok()
	switch t.Type {
	case TokenNot:
		p.next()
		if err := p.unary(); err != nil {
			return err
		}
		p.fs.b.Emit(vm.OpLNot)
	case TokenTilde:
		p.next()
		if err := p.unary(); err != nil {
			return err
		}
		p.fs.b.Emit(vm.OpBNot)
	case TokenPlus:
		p.next()
		if err := p.unary(); err != nil {
			return err
		}
		p.fs.b.Emit(vm.OpPlus)
	case TokenMinus:
		p.next()
		if err := p.unary(); err != nil {
			return err
		}
		p.fs.b.Emit(vm.OpNeg)
	case TokenVoid:
		p.next()
		if err := p.unary(); err != nil {
			return err
		}
		p.fs.b.Emit(vm.OpDrop)
		p.fs.b.Emit(vm.OpPushUndef)
	case TokenTypeof:
		p.next()
		if isUnaryStart(p.tok().Type) {
			if err := p.unary(); err != nil {
				return err
			}
			p.fs.b.Emit(vm.OpTypeof)
			return nil
		}
		r, err := p.postfixRef()
		if err != nil {
			return err
		}
		if r.kind == refName && p.isGlobalName(r.name) {
			// typeof of an undeclared name must not throw.
			p.fs.b.EmitU16(vm.OpGetGlobalSoft, p.fs.constString(p.heap, r.name))
		} else {
			p.load(r)
		}
		p.fs.b.Emit(vm.OpTypeof)
	case TokenDelete:
		p.next()
		r, err := p.postfixRef()
		if err != nil {
			return err
		}
		switch r.kind {
		case refName:
			return p.errorf("cannot delete an unqualified name")
		case refField:
			p.fs.b.EmitU16(vm.OpPushConst, p.fs.constString(p.heap, r.name))
			p.fs.b.Emit(vm.OpDelete)
		case refElem:
			p.fs.b.Emit(vm.OpDelete)
		default:
			p.fs.b.Emit(vm.OpDrop)
			p.fs.b.Emit(vm.OpPushTrue)
		}
	case TokenPlusPlus, TokenMinusMinus:
		p.next()
		r, err := p.postfixRef()
		if err != nil {
			return err
		}
		return p.preIncDec(r, t.Type == TokenPlusPlus)
	default:
		r, err := p.postfixRef()
		if err != nil {
			return err
		}
		tt := p.tok()
		if (tt.Type == TokenPlusPlus || tt.Type == TokenMinusMinus) && !tt.NewlineBefore && r.kind != refNone {
			p.next()
			p.postIncDec(r, tt.Type == TokenPlusPlus)
			return nil
		}
		p.load(r)
	}
	return nil
}

func (p *parser) isGlobalName(name string) bool {
	fs := p.fs
	if _, ok := fs.vars[name]; ok {
		return false
	}
	if _, ok := fs.resolveUpval(name); ok {
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Binary operators and the conditional
// ---------------------------------------------------------------------------

// binary precedence levels; 0 = not a binary operator.
func binaryPrec(t TokenType) int {
	switch t {
	case TokenNullish:
		return 1
	case TokenOrOr:
		return 2
	case TokenAndAnd:
		return 3
	case TokenPipe:
		return 4
	case TokenCaret:
		return 5
	case TokenAmp:
		return 6
	case TokenEq, TokenNe, TokenSEq, TokenSNe:
		return 7
	case TokenLt, TokenGt, TokenLe, TokenGe, TokenInstanceof, TokenIn:
		return 8
	case TokenShl, TokenSar, TokenShr:
		return 9
	case TokenPlus, TokenMinus:
		return 10
	case TokenStar, TokenSlash, TokenPercent:
		return 11
	case TokenStarStar:
		return 12
	}
	return 0
}

func binaryOpcode(t TokenType) vm.Opcode {
	switch t {
	case TokenPipe:
		return vm.OpBOr
	case TokenCaret:
		return vm.OpBXor
	case TokenAmp:
		return vm.OpBAnd
	case TokenEq:
		return vm.OpEq
	case TokenNe:
		return vm.OpNeq
	case TokenSEq:
		return vm.OpStrictEq
	case TokenSNe:
		return vm.OpStrictNeq
	case TokenLt:
		return vm.OpLt
	case TokenGt:
		return vm.OpGt
	case TokenLe:
		return vm.OpLte
	case TokenGe:
		return vm.OpGte
	case TokenInstanceof:
		return vm.OpInstanceof
	case TokenIn:
		return vm.OpIn
	case TokenShl:
		return vm.OpShl
	case TokenSar:
		return vm.OpSar
	case TokenShr:
		return vm.OpShr
	case TokenPlus:
		return vm.OpAdd
	case TokenMinus:
		return vm.OpSub
	case TokenStar:
		return vm.OpMul
	case TokenSlash:
		return vm.OpDiv
	case TokenPercent:
		return vm.OpMod
	case TokenStarStar:
		return vm.OpPow
	}
	return 0
}

// binaryCont continues a binary expression whose left operand is on the
// stack, by precedence climbing.
func (p *parser) binaryCont(minPrec int) error {
	for {
		t := p.tok().Type
		prec := binaryPrec(t)
		if prec == 0 || prec < minPrec {
			return nil
		}
		p.next()

		switch t {
		case TokenAndAnd, TokenOrOr:
			p.fs.b.Emit(vm.OpDup)
			var at int
			if t == TokenAndAnd {
				at = p.fs.emitJump(vm.OpIfFalse)
			} else {
				at = p.fs.emitJump(vm.OpIfTrue)
			}
			p.fs.b.Emit(vm.OpDrop)
			if err := p.binaryOperand(prec + 1); err != nil {
				return err
			}
			p.fs.patchJump(at)
		case TokenNullish:
			// Take the right operand only when the left is undefined/null.
			p.fs.b.Emit(vm.OpDup)
			p.fs.b.Emit(vm.OpPushNull)
			p.fs.b.Emit(vm.OpEq)
			take := p.fs.emitJump(vm.OpIfTrue)
			end := p.fs.emitJump(vm.OpGoto)
			p.fs.patchJump(take)
			p.fs.b.Emit(vm.OpDrop)
			if err := p.binaryOperand(prec + 1); err != nil {
				return err
			}
			p.fs.patchJump(end)
		default:
			next := prec + 1
			if t == TokenStarStar {
				next = prec // right-associative
			}
			if err := p.binaryOperand(next); err != nil {
				return err
			}
			p.fs.b.Emit(binaryOpcode(t))
		}
	}
}

// binaryOperand parses one operand at the given precedence floor.
func (p *parser) binaryOperand(minPrec int) error {
	if err := p.unary(); err != nil {
		return err
	}
	return p.binaryCont(minPrec)
}

// condCont compiles the `?:` continuation of the value on the stack.
func (p *parser) condCont() error {
	if !p.accept(TokenQuestion) {
		return nil
	}
	elseAt := p.fs.emitJump(vm.OpIfFalse)
	if err := p.assignExpr(); err != nil {
		return err
	}
	endAt := p.fs.emitJump(vm.OpGoto)
	p.fs.patchJump(elseAt)
	if err := p.expect(TokenColon); err != nil {
		return err
	}
	if err := p.assignExpr(); err != nil {
		return err
	}
	p.fs.patchJump(endAt)
	return nil
}

// ---------------------------------------------------------------------------
// Postfix chains: member access, indexing, calls, optional chaining
// ---------------------------------------------------------------------------

// postfixRef parses a primary expression and folds member accesses and
// calls over it iteratively, per step emitting get_field / get_array_el.
func (p *parser) postfixRef() (ref, error) {
	r, err := p.primaryRef()
	if err != nil {
		return valueRef, err
	}
	return p.postfixLoop(r)
}

func (p *parser) postfixLoop(r ref) (ref, error) {
	var optJumps []int

	for {
		switch p.tok().Type {
		case TokenDot:
			p.load(r)
			p.next()
			name, err := p.propertyName()
			if err != nil {
				return valueRef, err
			}
			if p.tok().Type == TokenLParen {
				p.fs.b.Emit(vm.OpDup)
				p.fs.b.EmitU16(vm.OpGetField, p.fs.constString(p.heap, name))
				n, err := p.arguments()
				if err != nil {
					return valueRef, err
				}
				p.fs.b.EmitU8(vm.OpCallMethod, byte(n))
				r = valueRef
			} else {
				r = ref{kind: refField, name: name}
			}

		case TokenLBracket:
			p.load(r)
			p.next()
			if err := p.expression(); err != nil {
				return valueRef, err
			}
			if err := p.expect(TokenRBracket); err != nil {
				return valueRef, err
			}
			if p.tok().Type == TokenLParen {
				// obj key -> obj fn for a computed method call.
				p.fs.b.Emit(vm.OpDup2)
				p.fs.b.Emit(vm.OpGetArrayEl)
				p.fs.b.Emit(vm.OpRot3L)
				p.fs.b.Emit(vm.OpRot3L)
				p.fs.b.Emit(vm.OpDrop)
				p.fs.b.Emit(vm.OpSwap)
				n, err := p.arguments()
				if err != nil {
					return valueRef, err
				}
				p.fs.b.EmitU8(vm.OpCallMethod, byte(n))
				r = valueRef
			} else {
				r = ref{kind: refElem}
			}

		case TokenLParen:
			p.load(r)
			n, err := p.arguments()
			if err != nil {
				return valueRef, err
			}
			p.fs.b.EmitU8(vm.OpCall, byte(n))
			r = valueRef

		case TokenOptChain:
			p.load(r)
			p.next()
			// A nullish base short-circuits the whole chain to undefined.
			p.fs.b.Emit(vm.OpDup)
			p.fs.b.Emit(vm.OpPushNull)
			p.fs.b.Emit(vm.OpEq)
			optJumps = append(optJumps, p.fs.emitJump(vm.OpIfTrue))

			switch p.tok().Type {
			case TokenLBracket:
				p.next()
				if err := p.expression(); err != nil {
					return valueRef, err
				}
				if err := p.expect(TokenRBracket); err != nil {
					return valueRef, err
				}
				p.fs.b.Emit(vm.OpGetArrayEl)
			case TokenLParen:
				n, err := p.arguments()
				if err != nil {
					return valueRef, err
				}
				p.fs.b.EmitU8(vm.OpCall, byte(n))
			default:
				name, err := p.propertyName()
				if err != nil {
					return valueRef, err
				}
				if p.tok().Type == TokenLParen {
					p.fs.b.Emit(vm.OpDup)
					p.fs.b.EmitU16(vm.OpGetField, p.fs.constString(p.heap, name))
					n, err := p.arguments()
					if err != nil {
						return valueRef, err
					}
					p.fs.b.EmitU8(vm.OpCallMethod, byte(n))
				} else {
					p.fs.b.EmitU16(vm.OpGetField, p.fs.constString(p.heap, name))
				}
			}
			r = valueRef

		default:
			if len(optJumps) > 0 {
				p.load(r)
				r = valueRef
				end := p.fs.emitJump(vm.OpGoto)
				for _, at := range optJumps {
					p.fs.patchJump(at)
				}
				p.fs.b.Emit(vm.OpDrop)
				p.fs.b.Emit(vm.OpPushUndef)
				p.fs.patchJump(end)
			}
			return r, nil
		}
	}
}

// propertyName accepts identifiers and keywords after a dot.
func (p *parser) propertyName() (string, error) {
	t := p.tok()
	if t.Type == TokenIdentifier || isKeywordToken(t.Type) {
		p.next()
		return t.Literal, nil
	}
	return "", p.errorf("expected property name")
}

func isKeywordToken(t TokenType) bool {
	switch t {
	case TokenVar, TokenFunction, TokenReturn, TokenIf, TokenElse, TokenWhile,
		TokenDo, TokenFor, TokenIn, TokenOf, TokenBreak, TokenContinue,
		TokenSwitch, TokenCase, TokenDefault, TokenTry, TokenCatch,
		TokenFinally, TokenThrow, TokenNew, TokenDelete, TokenTypeof,
		TokenInstanceof, TokenThis, TokenTrue, TokenFalse, TokenNull,
		TokenUndefined, TokenVoid:
		return true
	}
	return false
}

// arguments parses a call argument list, leaving the values on the stack.
func (p *parser) arguments() (int, error) {
	if err := p.expect(TokenLParen); err != nil {
		return 0, err
	}
	n := 0
	for p.tok().Type != TokenRParen {
		if err := p.assignExpr(); err != nil {
			return 0, err
		}
		n++
		if n > 255 {
			return 0, p.errorf("too many arguments")
		}
		if !p.accept(TokenComma) {
			break
		}
	}
	if err := p.expect(TokenRParen); err != nil {
		return 0, err
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Primary expressions
// ---------------------------------------------------------------------------

func (p *parser) primaryRef() (ref, error) {
	t := p.tok()
	switch t.Type {
	case TokenNumber:
		p.next()
		if n := t.Num; n == math.Trunc(n) && n >= -128 && n <= 127 {
			p.fs.b.EmitU8(vm.OpPushI8, byte(int8(n)))
		} else {
			p.fs.b.EmitU16(vm.OpPushConst, p.fs.constNumber(t.Num))
		}
		return valueRef, nil
	case TokenString:
		p.next()
		p.fs.b.EmitU16(vm.OpPushConst, p.fs.constString(p.heap, t.Str))
		return valueRef, nil
	case TokenRegex:
		p.next()
		idx := len(p.fs.proto.Regexps)
		p.fs.proto.Regexps = append(p.fs.proto.Regexps, vm.RegexpLiteral{Source: t.Str, Flags: t.Flags})
		p.fs.b.EmitU16(vm.OpRegexp, uint16(idx))
		return valueRef, nil
	case TokenTrue:
		p.next()
		p.fs.b.Emit(vm.OpPushTrue)
		return valueRef, nil
	case TokenFalse:
		p.next()
		p.fs.b.Emit(vm.OpPushFalse)
		return valueRef, nil
	case TokenNull:
		p.next()
		p.fs.b.Emit(vm.OpPushNull)
		return valueRef, nil
	case TokenUndefined:
		p.next()
		p.fs.b.Emit(vm.OpPushUndef)
		return valueRef, nil
	case TokenThis:
		p.next()
		p.fs.b.Emit(vm.OpPushThis)
		return valueRef, nil
	case TokenIdentifier:
		p.next()
		if t.Literal == "arguments" && !p.fs.isGlobal {
			if _, declared := p.fs.vars["arguments"]; !declared {
				p.fs.b.Emit(vm.OpArguments)
				return valueRef, nil
			}
		}
		return ref{kind: refName, name: t.Literal}, nil
	case TokenLParen:
		return valueRef, p.parenChain()
	case TokenLBracket:
		return valueRef, p.arrayLiteral()
	case TokenLBrace:
		return valueRef, p.objectLiteral()
	case TokenFunction:
		return valueRef, p.functionExpr()
	case TokenNew:
		return valueRef, p.newExpr()
	}
	return valueRef, p.errorf("unexpected token %q", t.String())
}

// parenChain compiles `(((...expr...)))` iteratively: consecutive opening
// parentheses are counted, the inner expression is parsed once, and each
// close consumes any trailing operators at its level.
func (p *parser) parenChain() error {
	n := 0
	for p.tok().Type == TokenLParen && !p.arrowAfterParen() {
		n++
		p.next()
	}
	if n == 0 {
		// `(` that opens an arrow parameter list.
		return p.arrowFunction()
	}
	if err := p.expression(); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := p.expect(TokenRParen); err != nil {
			return err
		}
		// Trailing operators between closes. After the outermost close the
		// caller's own postfix/binary/conditional continuations take over.
		if i < n-1 {
			if err := p.valueCont(); err != nil {
				return err
			}
		}
	}
	return nil
}

// valueCont applies every continuation valid after a parenthesised value:
// member accesses, calls, binary operators, the conditional and sequence
// commas. Only used between the closes of a paren chain, where a comma is
// always the sequence operator.
func (p *parser) valueCont() error {
	if _, err := p.postfixLoop(valueRef); err != nil {
		return err
	}
	if err := p.binaryCont(1); err != nil {
		return err
	}
	if err := p.condCont(); err != nil {
		return err
	}
	for p.tok().Type == TokenComma {
		p.next()
		p.fs.b.Emit(vm.OpDrop)
		if err := p.assignExpr(); err != nil {
			return err
		}
	}
	return nil
}

// elemCont applies continuations valid after an array-literal element value:
// like valueCont but without the comma, which separates elements.
func (p *parser) elemCont() error {
	if _, err := p.postfixLoop(valueRef); err != nil {
		return err
	}
	if err := p.binaryCont(1); err != nil {
		return err
	}
	return p.condCont()
}

// arrayLiteral compiles `[ ... ]` with an explicit work stack of in-progress
// element counts, so `[[[[...]]]]` nests without Go recursion.
func (p *parser) arrayLiteral() error {
	counts := []int{0}
	p.next() // '['
	needSep := false

	for {
		t := p.tok()
		if needSep && t.Type != TokenRBracket {
			if t.Type != TokenComma {
				return p.errorf("expected ',' in array literal")
			}
			p.next()
			needSep = false
			continue
		}

		switch p.tok().Type {
		case TokenRBracket:
			p.next()
			n := counts[len(counts)-1]
			counts = counts[:len(counts)-1]
			p.fs.b.EmitU16(vm.OpArrayFrom, uint16(n))
			if len(counts) == 0 {
				return nil
			}
			if err := p.elemCont(); err != nil {
				return err
			}
			counts[len(counts)-1]++
			needSep = true
		case TokenLBracket:
			p.next()
			counts = append(counts, 0)
		case TokenComma:
			return p.errorf("array holes are not allowed")
		case TokenEOF:
			return p.errorf("unterminated array literal")
		default:
			if err := p.assignExpr(); err != nil {
				return err
			}
			counts[len(counts)-1]++
			needSep = true
		}
	}
}

// objectLiteral compiles `{ ... }` in expression position.
func (p *parser) objectLiteral() error {
	p.next() // '{'
	p.fs.b.Emit(vm.OpObject)
	for {
		if p.accept(TokenRBrace) {
			return nil
		}
		t := p.tok()

		// Accessor properties: get name() {...} / set name(v) {...}
		if t.Type == TokenIdentifier && (t.Literal == "get" || t.Literal == "set") {
			nt := p.peek().Type
			if nt != TokenColon && nt != TokenComma && nt != TokenRBrace && nt != TokenLParen {
				isGetter := t.Literal == "get"
				p.next()
				name, err := p.objectKey()
				if err != nil {
					return err
				}
				if err := p.methodFunction(name); err != nil {
					return err
				}
				if isGetter {
					p.fs.b.EmitU16(vm.OpDefineGetter, p.fs.constString(p.heap, name))
				} else {
					p.fs.b.EmitU16(vm.OpDefineSetter, p.fs.constString(p.heap, name))
				}
				if !p.accept(TokenComma) {
					return p.expect(TokenRBrace)
				}
				continue
			}
		}

		// Computed key: [expr]: value
		if t.Type == TokenLBracket {
			p.next()
			p.fs.b.Emit(vm.OpDup)
			if err := p.assignExpr(); err != nil {
				return err
			}
			if err := p.expect(TokenRBracket); err != nil {
				return err
			}
			if err := p.expect(TokenColon); err != nil {
				return err
			}
			if err := p.assignExpr(); err != nil {
				return err
			}
			p.fs.b.Emit(vm.OpPutArrayEl)
			if !p.accept(TokenComma) {
				return p.expect(TokenRBrace)
			}
			continue
		}

		name, err := p.objectKey()
		if err != nil {
			return err
		}
		switch {
		case p.accept(TokenColon):
			if err := p.assignExpr(); err != nil {
				return err
			}
			if name == "__proto__" {
				p.fs.b.Emit(vm.OpSetProto)
			} else {
				p.fs.b.EmitU16(vm.OpDefineField, p.fs.constString(p.heap, name))
			}
		case p.tok().Type == TokenLParen:
			// Method shorthand.
			if err := p.methodFunction(name); err != nil {
				return err
			}
			p.fs.b.EmitU16(vm.OpDefineField, p.fs.constString(p.heap, name))
		default:
			// Shorthand property {a}.
			p.loadName(name)
			p.fs.b.EmitU16(vm.OpDefineField, p.fs.constString(p.heap, name))
		}
		if !p.accept(TokenComma) {
			return p.expect(TokenRBrace)
		}
	}
}

// objectKey accepts identifier, keyword, string and number keys.
func (p *parser) objectKey() (string, error) {
	t := p.tok()
	switch {
	case t.Type == TokenIdentifier || isKeywordToken(t.Type):
		p.next()
		return t.Literal, nil
	case t.Type == TokenString:
		p.next()
		return t.Str, nil
	case t.Type == TokenNumber:
		p.next()
		return vm.FormatNumber(t.Num), nil
	}
	return "", p.errorf("expected property key")
}

// newExpr compiles `new Ctor(args)` and `new.target`.
func (p *parser) newExpr() error {
	p.next() // new
	if p.accept(TokenDot) {
		t := p.tok()
		if t.Type != TokenIdentifier || t.Literal != "target" {
			return p.errorf("expected 'target' after 'new.'")
		}
		p.next()
		p.fs.b.Emit(vm.OpNewTarget)
		return nil
	}

	// Constructor expression: a primary with member accesses, but no calls.
	r, err := p.primaryRef()
	if err != nil {
		return err
	}
	for {
		switch p.tok().Type {
		case TokenDot:
			p.load(r)
			p.next()
			name, err := p.propertyName()
			if err != nil {
				return err
			}
			r = ref{kind: refField, name: name}
		case TokenLBracket:
			p.load(r)
			p.next()
			if err := p.expression(); err != nil {
				return err
			}
			if err := p.expect(TokenRBracket); err != nil {
				return err
			}
			r = ref{kind: refElem}
		default:
			p.load(r)
			n := 0
			if p.tok().Type == TokenLParen {
				n, err = p.arguments()
				if err != nil {
					return err
				}
			}
			p.fs.b.EmitU8(vm.OpCallConstructor, byte(n))
			return nil
		}
	}
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

// functionExpr compiles `function name?(params) { body }`, leaving the
// closure on the stack.
func (p *parser) functionExpr() error {
	p.next() // function
	name := ""
	if p.tok().Type == TokenIdentifier {
		name = p.tok().Literal
		p.next()
	}
	params, err := p.parameterList()
	if err != nil {
		return err
	}
	return p.functionBody(name, params, false, true)
}

// methodFunction compiles `(params) { body }` for method shorthand and
// accessors.
func (p *parser) methodFunction(name string) error {
	params, err := p.parameterList()
	if err != nil {
		return err
	}
	return p.functionBody(name, params, false, false)
}

func (p *parser) parameterList() ([]string, error) {
	if err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	var params []string
	for p.tok().Type != TokenRParen {
		if p.tok().Type != TokenIdentifier {
			return nil, p.errorf("expected parameter name")
		}
		params = append(params, p.tok().Literal)
		p.next()
		if !p.accept(TokenComma) {
			break
		}
	}
	if err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return params, nil
}

// functionBody compiles `{ stmt* }` into a child function state and emits
// the closure-building opcode in the parent.
func (p *parser) functionBody(name string, params []string, isArrow, selfBind bool) error {
	if err := p.expect(TokenLBrace); err != nil {
		return err
	}
	vars, hasFn := prescan(p.toks, p.pos, false)

	child := newFuncState(p.fs, name, false)
	child.proto.SourceName = p.sourceName
	child.hasCells = hasFn
	if isArrow {
		child.proto.Flags |= vm.FlagArrow
	}
	if selfBind {
		child.selfName = name
	}
	child.declare(params, vars)

	p.fs = child
	for p.tok().Type != TokenRBrace {
		if p.tok().Type == TokenEOF {
			p.fs = child.parent
			return p.errorf("unexpected end of input in function body")
		}
		if err := p.statement(false); err != nil {
			p.fs = child.parent
			return err
		}
	}
	p.next() // '}'
	child.b.Emit(vm.OpReturnUndef)
	child.proto.Code = child.b.Bytes()
	p.fs = child.parent

	p.emitClosure(child.proto)
	return nil
}

func (p *parser) emitClosure(proto *vm.FunctionProto) {
	idx := len(p.fs.proto.Protos)
	p.fs.proto.Protos = append(p.fs.proto.Protos, proto)
	if idx < 256 {
		p.fs.b.EmitU8(vm.OpFClosure8, byte(idx))
	} else {
		p.fs.b.EmitU16(vm.OpFClosure, uint16(idx))
	}
}

// --- arrow functions ---

// isArrowStart detects `x =>` and `(params) =>`.
func (p *parser) isArrowStart() bool {
	if p.tok().Type == TokenIdentifier && p.peek().Type == TokenArrow {
		return true
	}
	if p.tok().Type == TokenLParen {
		return p.arrowAhead(p.pos)
	}
	return false
}

// arrowAfterParen reports whether the parenthesis at the current position
// opens an arrow parameter list.
func (p *parser) arrowAfterParen() bool {
	return p.arrowAhead(p.pos)
}

// arrowAhead scans from an opening parenthesis to its match and checks for
// a following '=>'.
func (p *parser) arrowAhead(at int) bool {
	if p.toks[at].Type != TokenLParen {
		return false
	}
	depth := 0
	for i := at; i < len(p.toks); i++ {
		switch p.toks[i].Type {
		case TokenLParen:
			depth++
		case TokenRParen:
			depth--
			if depth == 0 {
				return i+1 < len(p.toks) && p.toks[i+1].Type == TokenArrow
			}
		case TokenEOF:
			return false
		}
	}
	return false
}

func (p *parser) arrowFunction() error {
	var params []string
	if p.tok().Type == TokenIdentifier {
		params = []string{p.tok().Literal}
		p.next()
	} else {
		var err error
		params, err = p.parameterList()
		if err != nil {
			return err
		}
	}
	if err := p.expect(TokenArrow); err != nil {
		return err
	}

	if p.tok().Type == TokenLBrace {
		return p.functionBody("", params, true, false)
	}

	// Expression body: compile `expr` as `return expr`. The body can itself
	// contain functions, so parameters live in cells.
	child := newFuncState(p.fs, "", false)
	child.proto.SourceName = p.sourceName
	child.proto.Flags |= vm.FlagArrow
	child.hasCells = true
	child.declare(params, nil)

	p.fs = child
	err := p.assignExpr()
	p.fs = child.parent
	if err != nil {
		return err
	}
	child.b.Emit(vm.OpReturn)
	child.proto.Code = child.b.Bytes()
	p.emitClosure(child.proto)
	return nil
}
