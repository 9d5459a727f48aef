package compiler

import (
	"github.com/chazu/microjs/vm"
)

// ---------------------------------------------------------------------------
// Parser: predictive recursive descent, emitting bytecode directly
// ---------------------------------------------------------------------------

// The parser works over the full token slice. No syntax tree is built: each
// production emits into the current function builder as it parses. The four
// unbounded-nesting forms (paren chains, block chains, array literals,
// member chains) are handled with loops over explicit state so nesting depth
// never grows the Go call stack; see parenChain, block, arrayLiteral and
// postfixLoop.
type parser struct {
	toks       []Token
	pos        int
	heap       *vm.Heap
	fs         *funcState
	sourceName string
}

// Compile compiles top-level source to a function module.
func Compile(source, sourceName string, heap *vm.Heap) (*vm.FunctionProto, error) {
	toks, err := Tokenize(source)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, heap: heap, sourceName: sourceName}

	fs := newFuncState(nil, "<main>", true)
	fs.proto.SourceName = sourceName
	vars, _ := prescan(toks, 0, true)
	fs.declare(nil, vars)
	p.fs = fs

	// Hoist top-level declarations: create each as a global property,
	// keeping any value a previous evaluation left behind.
	for _, v := range vars {
		fs.b.Emit(vm.OpPushUndef)
		fs.b.EmitU16(vm.OpDefineGlobal, fs.constString(heap, v))
	}

	for p.tok().Type != TokenEOF {
		if err := p.statement(true); err != nil {
			return nil, err
		}
	}
	fs.b.Emit(vm.OpGetLoc0)
	fs.b.Emit(vm.OpReturn)
	fs.proto.Code = fs.b.Bytes()
	return fs.proto, nil
}

// --- token plumbing ---

func (p *parser) tok() Token  { return p.toks[p.pos] }
func (p *parser) peek() Token {
	if p.pos+1 < len(p.toks) {
		return p.toks[p.pos+1]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() {
	if p.toks[p.pos].Type != TokenEOF {
		p.pos++
	}
}

func (p *parser) accept(t TokenType) bool {
	if p.tok().Type == t {
		p.next()
		return true
	}
	return false
}

func (p *parser) expect(t TokenType) error {
	if p.tok().Type != t {
		return p.errorf("expected %q but found %q", t.String(), p.tok().String())
	}
	p.next()
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	t := p.tok()
	return syntaxErrorf(t.Line, t.Col, format, args...)
}

// expectSemi consumes a statement terminator: an explicit semicolon, or an
// inserted one before '}', EOF or a newline.
func (p *parser) expectSemi() error {
	t := p.tok()
	switch {
	case t.Type == TokenSemi:
		p.next()
		return nil
	case t.Type == TokenRBrace, t.Type == TokenEOF, t.NewlineBefore:
		return nil
	}
	return p.errorf("expected ';' but found %q", t.String())
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *parser) statement(topLevel bool) error {
	t := p.tok()
	p.fs.markPos(t.Line, t.Col)

	switch t.Type {
	case TokenLBrace:
		return p.block(topLevel)
	case TokenSemi:
		p.next()
		return nil
	case TokenVar:
		return p.varStatement()
	case TokenFunction:
		return p.functionDeclaration()
	case TokenIf:
		return p.ifStatement(topLevel)
	case TokenWhile:
		return p.whileStatement(topLevel, "")
	case TokenDo:
		return p.doWhileStatement(topLevel, "")
	case TokenFor:
		return p.forStatement(topLevel, "")
	case TokenReturn:
		return p.returnStatement()
	case TokenThrow:
		return p.throwStatement()
	case TokenBreak, TokenContinue:
		return p.breakContinue()
	case TokenTry:
		return p.tryStatement(topLevel)
	case TokenSwitch:
		return p.switchStatement(topLevel)
	case TokenIdentifier:
		if p.peek().Type == TokenColon {
			return p.labeledStatement(topLevel)
		}
	}
	return p.expressionStatement(topLevel)
}

// block compiles `{ stmt* }`. Directly nested blocks are consumed by the
// depth counter, so `{ { { ... } } }` never recurses.
func (p *parser) block(topLevel bool) error {
	depth := 0
	for {
		switch p.tok().Type {
		case TokenLBrace:
			depth++
			p.next()
		case TokenRBrace:
			depth--
			p.next()
			if depth == 0 {
				return nil
			}
		case TokenEOF:
			return p.errorf("unexpected end of input in block")
		default:
			if err := p.statement(topLevel); err != nil {
				return err
			}
		}
	}
}

func (p *parser) expressionStatement(topLevel bool) error {
	if err := p.expression(); err != nil {
		return err
	}
	if topLevel {
		// The completion value of the program is the value of its last
		// expression statement.
		p.fs.b.Emit(vm.OpPutLoc0)
	} else {
		p.fs.b.Emit(vm.OpDrop)
	}
	return p.expectSemi()
}

func (p *parser) varStatement() error {
	p.next() // var
	for {
		if p.tok().Type != TokenIdentifier {
			return p.errorf("expected variable name")
		}
		name := p.tok().Literal
		p.next()
		if p.accept(TokenAssign) {
			if err := p.assignExpr(); err != nil {
				return err
			}
			p.storeName(name)
		}
		if !p.accept(TokenComma) {
			break
		}
	}
	return p.expectSemi()
}

// storeName pops a value into a variable or global.
func (p *parser) storeName(name string) {
	vi := p.fs.resolve(name)
	if vi.kind == varGlobal {
		p.fs.b.EmitU16(vm.OpPutGlobal, p.fs.constString(p.heap, name))
		return
	}
	p.fs.emitPutVar(vi)
}

func (p *parser) functionDeclaration() error {
	name := ""
	if p.peek().Type == TokenIdentifier {
		name = p.peek().Literal
	}
	if name == "" {
		return p.errorf("function declarations require a name")
	}
	if err := p.functionExpr(); err != nil {
		return err
	}
	p.storeName(name)
	return nil
}

func (p *parser) ifStatement(topLevel bool) error {
	p.next() // if
	if err := p.expect(TokenLParen); err != nil {
		return err
	}
	if err := p.expression(); err != nil {
		return err
	}
	if err := p.expect(TokenRParen); err != nil {
		return err
	}
	elseJump := p.fs.emitJump(vm.OpIfFalse)
	if err := p.statement(topLevel); err != nil {
		return err
	}
	if p.accept(TokenElse) {
		endJump := p.fs.emitJump(vm.OpGoto)
		p.fs.patchJump(elseJump)
		if err := p.statement(topLevel); err != nil {
			return err
		}
		p.fs.patchJump(endJump)
	} else {
		p.fs.patchJump(elseJump)
	}
	return nil
}

// pushLoop opens a breakable context.
func (p *parser) pushLoop(label string, isLoop, iterOnStack bool) *loopCtx {
	l := &loopCtx{
		label:        label,
		isLoop:       isLoop,
		baseIter:     p.fs.iterDepth,
		iterOnStack:  iterOnStack,
		finallyDepth: len(p.fs.finallies),
	}
	p.fs.loops = append(p.fs.loops, l)
	return l
}

func (p *parser) popLoop(l *loopCtx, breakTarget int, contTarget int) {
	for _, at := range l.breaks {
		p.fs.patchJumpTo(at, breakTarget)
	}
	for _, at := range l.continues {
		p.fs.patchJumpTo(at, contTarget)
	}
	p.fs.loops = p.fs.loops[:len(p.fs.loops)-1]
}

func (p *parser) whileStatement(topLevel bool, label string) error {
	p.next() // while
	cond := p.fs.here()
	if err := p.expect(TokenLParen); err != nil {
		return err
	}
	if err := p.expression(); err != nil {
		return err
	}
	if err := p.expect(TokenRParen); err != nil {
		return err
	}
	exit := p.fs.emitJump(vm.OpIfFalse)
	l := p.pushLoop(label, true, false)
	if err := p.statement(topLevel); err != nil {
		return err
	}
	p.fs.emitJumpTo(vm.OpGoto, cond)
	p.fs.patchJump(exit)
	p.popLoop(l, p.fs.here(), cond)
	return nil
}

func (p *parser) doWhileStatement(topLevel bool, label string) error {
	p.next() // do
	body := p.fs.here()
	l := p.pushLoop(label, true, false)
	if err := p.statement(topLevel); err != nil {
		return err
	}
	cond := p.fs.here()
	if err := p.expect(TokenWhile); err != nil {
		return err
	}
	if err := p.expect(TokenLParen); err != nil {
		return err
	}
	if err := p.expression(); err != nil {
		return err
	}
	if err := p.expect(TokenRParen); err != nil {
		return err
	}
	p.fs.emitJumpTo(vm.OpIfTrue, body)
	p.popLoop(l, p.fs.here(), cond)
	return p.expectSemi()
}

func (p *parser) forStatement(topLevel bool, label string) error {
	p.next() // for
	if err := p.expect(TokenLParen); err != nil {
		return err
	}

	// for (var x in e) / for (var x of e)
	if p.tok().Type == TokenVar {
		if p.peek().Type == TokenIdentifier {
			after := p.toks[p.pos+2]
			if after.Type == TokenIn || after.Type == TokenOf {
				name := p.peek().Literal
				p.next() // var
				p.next() // name
				return p.forInOf(topLevel, label, name, p.tok().Type == TokenOf)
			}
		}
		// Classic for with var init.
		if err := p.varStatementNoSemi(); err != nil {
			return err
		}
		return p.classicFor(topLevel, label)
	}

	// for (x in e) / for (x of e)
	if p.tok().Type == TokenIdentifier {
		after := p.peek()
		if after.Type == TokenIn || after.Type == TokenOf {
			name := p.tok().Literal
			p.next()
			return p.forInOf(topLevel, label, name, p.tok().Type == TokenOf)
		}
	}

	if p.tok().Type != TokenSemi {
		if err := p.expression(); err != nil {
			return err
		}
		p.fs.b.Emit(vm.OpDrop)
	}
	return p.classicFor(topLevel, label)
}

// varStatementNoSemi is the for-init form of a var declaration.
func (p *parser) varStatementNoSemi() error {
	p.next() // var
	for {
		if p.tok().Type != TokenIdentifier {
			return p.errorf("expected variable name")
		}
		name := p.tok().Literal
		p.next()
		if p.accept(TokenAssign) {
			if err := p.assignExpr(); err != nil {
				return err
			}
			p.storeName(name)
		}
		if !p.accept(TokenComma) {
			return nil
		}
	}
}

// classicFor compiles the `; cond ; update ) body` tail of a for statement.
func (p *parser) classicFor(topLevel bool, label string) error {
	if err := p.expect(TokenSemi); err != nil {
		return err
	}
	cond := p.fs.here()
	var exit int = -1
	if p.tok().Type != TokenSemi {
		if err := p.expression(); err != nil {
			return err
		}
		exit = p.fs.emitJump(vm.OpIfFalse)
	}
	if err := p.expect(TokenSemi); err != nil {
		return err
	}

	// The update clause precedes the body in source but follows it in
	// execution: remember its tokens and compile them after the body.
	updateStart := p.pos
	if p.tok().Type != TokenRParen {
		if err := p.skipExpressionTokens(); err != nil {
			return err
		}
	}
	updateEnd := p.pos
	if err := p.expect(TokenRParen); err != nil {
		return err
	}

	l := p.pushLoop(label, true, false)
	if err := p.statement(topLevel); err != nil {
		return err
	}
	contTarget := p.fs.here()
	if updateEnd > updateStart {
		savedPos := p.pos
		p.pos = updateStart
		if err := p.expression(); err != nil {
			return err
		}
		p.fs.b.Emit(vm.OpDrop)
		p.pos = savedPos
	}
	p.fs.emitJumpTo(vm.OpGoto, cond)
	if exit >= 0 {
		p.fs.patchJump(exit)
	}
	p.popLoop(l, p.fs.here(), contTarget)
	return nil
}

// skipExpressionTokens advances past an expression without compiling it,
// balancing brackets. Used to defer the for-update clause.
func (p *parser) skipExpressionTokens() error {
	depth := 0
	for {
		switch p.tok().Type {
		case TokenLParen, TokenLBracket, TokenLBrace:
			depth++
		case TokenRParen, TokenRBracket, TokenRBrace:
			if depth == 0 {
				return nil
			}
			depth--
		case TokenEOF:
			return p.errorf("unexpected end of input")
		}
		p.next()
	}
}

// forInOf compiles `in e) body` / `of e) body` with `name` as the loop
// variable.
func (p *parser) forInOf(topLevel bool, label string, name string, isOf bool) error {
	p.next() // in / of
	if err := p.assignExpr(); err != nil {
		return err
	}
	if err := p.expect(TokenRParen); err != nil {
		return err
	}
	if isOf {
		p.fs.b.Emit(vm.OpForOfStart)
	} else {
		p.fs.b.Emit(vm.OpForInStart)
	}
	p.fs.iterDepth++
	loop := p.fs.here()
	if isOf {
		p.fs.b.Emit(vm.OpForOfNext)
	} else {
		p.fs.b.Emit(vm.OpForInNext)
	}
	post := p.fs.emitJump(vm.OpIfTrue)
	p.storeName(name)

	l := p.pushLoop(label, true, true)
	if err := p.statement(topLevel); err != nil {
		return err
	}
	p.fs.emitJumpTo(vm.OpGoto, loop)
	p.fs.patchJump(post)
	p.fs.b.Emit(vm.OpDrop) // the undefined value produced at exhaustion
	p.fs.b.Emit(vm.OpDrop) // the iterator
	p.fs.iterDepth--
	p.popLoop(l, p.fs.here(), loop)
	return nil
}

func (p *parser) returnStatement() error {
	if p.fs.isGlobal {
		return p.errorf("return outside of function")
	}
	p.next() // return
	hasValue := false
	t := p.tok()
	if t.Type != TokenSemi && t.Type != TokenRBrace && t.Type != TokenEOF && !t.NewlineBefore {
		if err := p.expression(); err != nil {
			return err
		}
		hasValue = true
	}
	// A return inside try regions runs every pending finally first.
	for i := len(p.fs.finallies) - 1; i >= 0; i-- {
		f := p.fs.finallies[i]
		f.gosubs = append(f.gosubs, p.fs.emitJump(vm.OpGosub))
	}
	if hasValue {
		p.fs.b.Emit(vm.OpReturn)
	} else {
		p.fs.b.Emit(vm.OpReturnUndef)
	}
	return p.expectSemi()
}

func (p *parser) throwStatement() error {
	t := p.tok()
	p.next() // throw
	if p.tok().NewlineBefore {
		return p.errorf("newline not allowed after throw")
	}
	if err := p.expression(); err != nil {
		return err
	}
	p.fs.markPos(t.Line, t.Col)
	p.fs.b.Emit(vm.OpThrow)
	return p.expectSemi()
}

func (p *parser) breakContinue() error {
	isBreak := p.tok().Type == TokenBreak
	p.next()
	label := ""
	if p.tok().Type == TokenIdentifier && !p.tok().NewlineBefore {
		label = p.tok().Literal
		p.next()
	}

	var target *loopCtx
	targetIdx := -1
	for i := len(p.fs.loops) - 1; i >= 0; i-- {
		l := p.fs.loops[i]
		if label != "" {
			if l.label == label {
				target, targetIdx = l, i
				break
			}
			continue
		}
		if isBreak || l.isLoop {
			target, targetIdx = l, i
			break
		}
	}
	if target == nil {
		if label != "" {
			return p.errorf("undefined label %q", label)
		}
		if isBreak {
			return p.errorf("break outside of loop or switch")
		}
		return p.errorf("continue outside of loop")
	}
	if !isBreak && !target.isLoop {
		return p.errorf("continue target is not a loop")
	}
	if n := len(p.fs.finallyFloors); n > 0 && targetIdx < p.fs.finallyFloors[n-1] {
		return p.errorf("cannot jump out of a finally block")
	}

	// Run finallys entered since the target, then discard iterators of the
	// for-in/of loops being exited, then jump.
	for i := len(p.fs.finallies) - 1; i >= target.finallyDepth; i-- {
		f := p.fs.finallies[i]
		f.gosubs = append(f.gosubs, p.fs.emitJump(vm.OpGosub))
	}
	inside := target.baseIter
	if !isBreak && target.iterOnStack {
		inside++
	}
	for i := p.fs.iterDepth; i > inside; i-- {
		p.fs.b.Emit(vm.OpDrop)
	}
	at := p.fs.emitJump(vm.OpGoto)
	if isBreak {
		target.breaks = append(target.breaks, at)
	} else {
		target.continues = append(target.continues, at)
	}
	return p.expectSemi()
}

func (p *parser) labeledStatement(topLevel bool) error {
	label := p.tok().Literal
	p.next() // label
	p.next() // ':'
	switch p.tok().Type {
	case TokenWhile:
		return p.whileStatement(topLevel, label)
	case TokenDo:
		return p.doWhileStatement(topLevel, label)
	case TokenFor:
		return p.forStatement(topLevel, label)
	default:
		l := p.pushLoop(label, false, false)
		if err := p.statement(topLevel); err != nil {
			return err
		}
		p.popLoop(l, p.fs.here(), p.fs.here())
		return nil
	}
}

// peekTryShape looks ahead from a try statement to see which clauses follow.
func (p *parser) peekTryShape() (hasCatch, hasFinally bool) {
	i := p.pos // at '{' of the try block
	i = skipBraces(p.toks, i)
	i++
	if i < len(p.toks) && p.toks[i].Type == TokenCatch {
		hasCatch = true
		i++
		if i < len(p.toks) && p.toks[i].Type == TokenLParen {
			for i < len(p.toks) && p.toks[i].Type != TokenRParen {
				i++
			}
			i++
		}
		i = skipBraces(p.toks, i)
		i++
	}
	if i < len(p.toks) && p.toks[i].Type == TokenFinally {
		hasFinally = true
	}
	return
}

func (p *parser) tryStatement(topLevel bool) error {
	p.next() // try
	if p.tok().Type != TokenLBrace {
		return p.errorf("expected '{' after try")
	}
	hasCatch, hasFinally := p.peekTryShape()
	if !hasCatch && !hasFinally {
		return p.errorf("missing catch or finally after try")
	}

	var fctx *finallyCtx
	if hasFinally {
		fctx = &finallyCtx{}
		p.fs.finallies = append(p.fs.finallies, fctx)
	}
	entryDepth := p.fs.iterDepth

	tryStart := p.fs.here()
	if err := p.block(topLevel); err != nil {
		return err
	}
	tryEnd := p.fs.here()

	var afterPatches []int
	if hasFinally {
		fctx.gosubs = append(fctx.gosubs, p.fs.emitJump(vm.OpGosub))
	}
	afterPatches = append(afterPatches, p.fs.emitJump(vm.OpGoto))

	catchEnd := tryEnd
	if hasCatch {
		if err := p.expect(TokenCatch); err != nil {
			return err
		}
		catchPC := p.fs.here()
		p.fs.b.Emit(vm.OpCatch)
		if p.accept(TokenLParen) {
			if p.tok().Type != TokenIdentifier {
				return p.errorf("expected catch parameter name")
			}
			name := p.tok().Literal
			p.next()
			if err := p.expect(TokenRParen); err != nil {
				return err
			}
			p.storeName(name)
		} else {
			p.fs.b.Emit(vm.OpDrop)
		}
		if p.tok().Type != TokenLBrace {
			return p.errorf("expected '{' after catch")
		}
		if err := p.block(topLevel); err != nil {
			return err
		}
		catchEnd = p.fs.here()
		if hasFinally {
			fctx.gosubs = append(fctx.gosubs, p.fs.emitJump(vm.OpGosub))
		}
		afterPatches = append(afterPatches, p.fs.emitJump(vm.OpGoto))

		p.fs.proto.ExcTable = append(p.fs.proto.ExcTable, vm.ExceptionEntry{
			StartPC: tryStart, EndPC: tryEnd, CatchPC: catchPC, FinallyPC: -1,
			StackDepth: entryDepth,
		})
	}

	if hasFinally {
		p.fs.finallies = p.fs.finallies[:len(p.fs.finallies)-1]
		finallyPC := p.fs.here()
		for _, g := range fctx.gosubs {
			p.fs.patchJump(g)
		}
		if err := p.expect(TokenFinally); err != nil {
			return err
		}
		if p.tok().Type != TokenLBrace {
			return p.errorf("expected '{' after finally")
		}
		p.fs.finallyFloors = append(p.fs.finallyFloors, len(p.fs.loops))
		if err := p.block(false); err != nil {
			return err
		}
		p.fs.finallyFloors = p.fs.finallyFloors[:len(p.fs.finallyFloors)-1]
		p.fs.b.Emit(vm.OpRet)
		p.fs.proto.ExcTable = append(p.fs.proto.ExcTable, vm.ExceptionEntry{
			StartPC: tryStart, EndPC: catchEnd, CatchPC: -1, FinallyPC: finallyPC,
			StackDepth: entryDepth,
		})
	}

	for _, a := range afterPatches {
		p.fs.patchJump(a)
	}
	return nil
}

func (p *parser) switchStatement(topLevel bool) error {
	p.next() // switch
	if err := p.expect(TokenLParen); err != nil {
		return err
	}
	if err := p.expression(); err != nil {
		return err
	}
	if err := p.expect(TokenRParen); err != nil {
		return err
	}
	if err := p.expect(TokenLBrace); err != nil {
		return err
	}

	l := p.pushLoop("", false, false)
	testFail := -1      // pending if_false from the previous case test
	bodyEnd := -1       // pending goto from the previous body into the next
	firstSkip := -1     // skips a leading default body on the dispatch path
	defaultStart := -1
	seenAny := false

	for p.tok().Type != TokenRBrace {
		switch p.tok().Type {
		case TokenCase:
			p.next()
			seenAny = true
			if testFail >= 0 {
				p.fs.patchJump(testFail)
			}
			if firstSkip >= 0 {
				p.fs.patchJump(firstSkip)
				firstSkip = -1
			}
			p.fs.b.Emit(vm.OpDup)
			if err := p.assignExpr(); err != nil {
				return err
			}
			if err := p.expect(TokenColon); err != nil {
				return err
			}
			p.fs.b.Emit(vm.OpStrictEq)
			testFail = p.fs.emitJump(vm.OpIfFalse)
			p.fs.b.Emit(vm.OpDrop)
			if bodyEnd >= 0 {
				p.fs.patchJump(bodyEnd)
				bodyEnd = -1
			}
		case TokenDefault:
			p.next()
			if err := p.expect(TokenColon); err != nil {
				return err
			}
			if bodyEnd >= 0 {
				p.fs.patchJump(bodyEnd)
				bodyEnd = -1
			}
			// A default before any case sits on the dispatch path while the
			// discriminant is still on the stack; route around its body.
			if !seenAny {
				firstSkip = p.fs.emitJump(vm.OpGoto)
			}
			seenAny = true
			defaultStart = p.fs.here()
		case TokenEOF:
			return p.errorf("unexpected end of input in switch")
		default:
			if defaultStart < 0 && testFail < 0 {
				return p.errorf("statement before first case in switch")
			}
			if err := p.statement(topLevel); err != nil {
				return err
			}
			// A body that runs off into the next case's test must skip it.
			if p.tok().Type == TokenCase {
				bodyEnd = p.fs.emitJump(vm.OpGoto)
			}
		}
	}
	p.next() // '}'

	// Falling off the last body skips the no-match dispatch below.
	endJump := p.fs.emitJump(vm.OpGoto)
	if testFail >= 0 {
		p.fs.patchJump(testFail)
	}
	if firstSkip >= 0 {
		p.fs.patchJump(firstSkip)
	}
	p.fs.b.Emit(vm.OpDrop)
	if defaultStart >= 0 {
		p.fs.emitJumpTo(vm.OpGoto, defaultStart)
	}
	p.fs.patchJump(endJump)
	if bodyEnd >= 0 {
		p.fs.patchJump(bodyEnd)
	}
	p.popLoop(l, p.fs.here(), p.fs.here())
	return nil
}
