package regex

import (
	"encoding/binary"
)

// ---------------------------------------------------------------------------
// Matcher: explicit-stack NFA interpreter
// ---------------------------------------------------------------------------

// ExecOptions configure one matcher run.
type ExecOptions struct {
	// Poll is invoked every PollInterval steps; a true return aborts the
	// match with TimeoutError.
	Poll func() bool
	// PollInterval defaults to 100 steps.
	PollInterval int
	// StackLimit bounds the backtrack stack. Defaults to 10000.
	StackLimit int
}

const (
	defaultPollInterval = 100
	defaultStackLimit   = 10000
)

type btEntry struct {
	pc   int
	pos  int
	caps []int
	regs []int
}

type machine struct {
	prog  *Program
	input []uint16
	opts  ExecOptions

	caps  []int // 2 per group; -1 = unmatched
	regs  []int // zero-advance position registers
	stack []btEntry
	steps int
}

// Exec runs the program against input starting at the given code-unit
// offset. When the program is sticky the match is anchored at start;
// otherwise every later start position is tried in turn. Returns nil when
// there is no match.
func (p *Program) Exec(input []uint16, start int, opts ExecOptions) (*Match, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.StackLimit <= 0 {
		opts.StackLimit = defaultStackLimit
	}
	if start < 0 || start > len(input) {
		return nil, nil
	}
	m := &machine{prog: p, input: input, opts: opts}
	anchored := p.Flags&FlagSticky != 0
	for at := start; at <= len(input); at++ {
		m.caps = make([]int, 2*p.NumCaptures)
		for i := range m.caps {
			m.caps[i] = -1
		}
		m.regs = make([]int, p.numRegs)
		m.stack = m.stack[:0]

		end, ok, err := m.run(0, at, opMatch, -1)
		if err != nil {
			return nil, err
		}
		if ok {
			m.caps[0] = at
			m.caps[1] = end
			match := &Match{Input: input, Index: at, End: end, Captures: make([][2]int, p.NumCaptures), GroupNames: p.GroupNames}
			for i := 0; i < p.NumCaptures; i++ {
				match.Captures[i] = [2]int{m.caps[2*i], m.caps[2*i+1]}
			}
			return match, nil
		}
		if anchored {
			break
		}
	}
	return nil, nil
}

// poll counts a matcher step and consults the host callback.
func (m *machine) poll() error {
	m.steps++
	if m.steps%m.opts.PollInterval == 0 && m.opts.Poll != nil && m.opts.Poll() {
		return &TimeoutError{}
	}
	return nil
}

func (m *machine) pushBacktrack(pc, pos int) error {
	if len(m.stack) >= m.opts.StackLimit {
		return &StackOverflowError{Limit: m.opts.StackLimit}
	}
	caps := make([]int, len(m.caps))
	copy(caps, m.caps)
	var regs []int
	if len(m.regs) > 0 {
		regs = make([]int, len(m.regs))
		copy(regs, m.regs)
	}
	m.stack = append(m.stack, btEntry{pc: pc, pos: pos, caps: caps, regs: regs})
	return nil
}

// run executes bytecode from pc at input position pos until acceptOp.
// requiredEnd, when >= 0, demands the accept fire exactly there (lookbehind).
// The backtrack stack is used from its current high-water mark so nested
// sub-programs unwind only their own entries.
func (m *machine) run(pc, pos int, acceptOp byte, requiredEnd int) (int, bool, error) {
	base := len(m.stack)
	code := m.prog.code

	backtrack := func() (int, int, bool) {
		if len(m.stack) == base {
			return 0, 0, false
		}
		e := m.stack[len(m.stack)-1]
		m.stack = m.stack[:len(m.stack)-1]
		copy(m.caps, e.caps)
		copy(m.regs, e.regs)
		return e.pc, e.pos, true
	}

	for {
		if err := m.poll(); err != nil {
			return 0, false, err
		}

		op := code[pc]
		if op == acceptOp {
			if requiredEnd >= 0 && pos != requiredEnd {
				var ok bool
				if pc, pos, ok = backtrack(); !ok {
					return 0, false, nil
				}
				continue
			}
			m.stack = m.stack[:base]
			return pos, true, nil
		}

		fail := false
		switch op {
		case opChar, opCharCI:
			want := rune(binary.LittleEndian.Uint32(code[pc+1:]))
			r, width := m.readChar(pos)
			if width == 0 {
				fail = true
				break
			}
			if op == opCharCI {
				r = asciiFold(r)
			}
			if r != want {
				fail = true
				break
			}
			pos += width
			pc += 5

		case opAny:
			_, width := m.readChar(pos)
			if width == 0 {
				fail = true
				break
			}
			pos += width
			pc++

		case opDot:
			r, width := m.readChar(pos)
			if width == 0 || isLineTerminator(r) {
				fail = true
				break
			}
			pos += width
			pc++

		case opClass:
			idx := binary.LittleEndian.Uint16(code[pc+1:])
			r, width := m.readChar(pos)
			if width == 0 || !m.prog.classes[idx].match(r) {
				fail = true
				break
			}
			pos += width
			pc += 3

		case opBOL:
			if pos != 0 {
				if m.prog.Flags&FlagMultiline == 0 || !isLineTerminator(rune(m.input[pos-1])) {
					fail = true
					break
				}
			}
			pc++

		case opEOL:
			if pos != len(m.input) {
				if m.prog.Flags&FlagMultiline == 0 || !isLineTerminator(rune(m.input[pos])) {
					fail = true
					break
				}
			}
			pc++

		case opWordB, opNotWordB:
			before := pos > 0 && isWordUnit(m.input[pos-1])
			after := pos < len(m.input) && isWordUnit(m.input[pos])
			boundary := before != after
			if boundary != (op == opWordB) {
				fail = true
				break
			}
			pc++

		case opJump:
			disp := int(int32(binary.LittleEndian.Uint32(code[pc+1:])))
			pc += 5 + disp

		case opSplitFirst:
			disp := int(int32(binary.LittleEndian.Uint32(code[pc+1:])))
			if err := m.pushBacktrack(pc+5+disp, pos); err != nil {
				return 0, false, err
			}
			pc += 5

		case opSplitNext:
			disp := int(int32(binary.LittleEndian.Uint32(code[pc+1:])))
			if err := m.pushBacktrack(pc+5, pos); err != nil {
				return 0, false, err
			}
			pc += 5 + disp

		case opSaveStart:
			idx := binary.LittleEndian.Uint16(code[pc+1:])
			m.caps[2*idx] = pos
			m.caps[2*idx+1] = -1
			pc += 3

		case opSaveEnd:
			idx := binary.LittleEndian.Uint16(code[pc+1:])
			m.caps[2*idx+1] = pos
			pc += 3

		case opSaveReset:
			from := binary.LittleEndian.Uint16(code[pc+1:])
			to := binary.LittleEndian.Uint16(code[pc+3:])
			for g := int(from); g <= int(to); g++ {
				m.caps[2*g] = -1
				m.caps[2*g+1] = -1
			}
			pc += 5

		case opBackref, opBackrefCI:
			idx := binary.LittleEndian.Uint16(code[pc+1:])
			s, e := m.caps[2*idx], m.caps[2*idx+1]
			if s < 0 || e < 0 {
				pc += 3 // unmatched group matches the empty string
				break
			}
			n := e - s
			if pos+n > len(m.input) {
				fail = true
				break
			}
			match := true
			for i := 0; i < n; i++ {
				a, b := m.input[s+i], m.input[pos+i]
				if op == opBackrefCI {
					a = foldUnit(a)
					b = foldUnit(b)
				}
				if a != b {
					match = false
					break
				}
			}
			if !match {
				fail = true
				break
			}
			pos += n
			pc += 3

		case opLook:
			kind := code[pc+1]
			disp := int(int32(binary.LittleEndian.Uint32(code[pc+2:])))
			subStart := pc + 6
			after := pc + 6 + disp

			saved := make([]int, len(m.caps))
			copy(saved, m.caps)

			var matched bool
			var err error
			switch kind {
			case lookAhead, lookAheadNeg:
				_, matched, err = m.run(subStart, pos, opLookEnd, -1)
			case lookBehind, lookBehindNeg:
				for s := pos; s >= 0 && !matched; s-- {
					_, matched, err = m.run(subStart, s, opLookEnd, pos)
					if err != nil {
						break
					}
				}
			}
			if err != nil {
				return 0, false, err
			}
			negative := kind == lookAheadNeg || kind == lookBehindNeg
			if matched == negative {
				copy(m.caps, saved)
				fail = true
				break
			}
			if negative {
				// Failed negative lookarounds never contribute captures.
				copy(m.caps, saved)
			}
			pc = after

		case opSetPos:
			reg := binary.LittleEndian.Uint16(code[pc+1:])
			m.regs[reg] = pos
			pc += 3

		case opProgress:
			reg := binary.LittleEndian.Uint16(code[pc+1:])
			disp := int(int32(binary.LittleEndian.Uint32(code[pc+3:])))
			if pos != m.regs[reg] {
				pc += 7 + disp // advanced: loop again
			} else {
				pc += 7 // zero-advance: break the loop
			}

		default:
			panic("regex: unknown opcode")
		}

		if fail {
			var ok bool
			if pc, pos, ok = backtrack(); !ok {
				return 0, false, nil
			}
		}
	}
}

// readChar reads the character at pos: one code unit, or a full surrogate
// pair in u-mode. width 0 means end of input.
func (m *machine) readChar(pos int) (rune, int) {
	if pos >= len(m.input) {
		return 0, 0
	}
	c := m.input[pos]
	if m.prog.Flags&FlagUnicode != 0 && c >= 0xD800 && c < 0xDC00 && pos+1 < len(m.input) {
		c2 := m.input[pos+1]
		if c2 >= 0xDC00 && c2 < 0xE000 {
			return 0x10000 + (rune(c-0xD800) << 10) + rune(c2-0xDC00), 2
		}
	}
	return rune(c), 1
}

func (cl *charClass) match(r rune) bool {
	in := false
	for _, rg := range cl.Ranges {
		if r >= rg.Lo && r <= rg.Hi {
			in = true
			break
		}
	}
	return in != cl.Negated
}

func isLineTerminator(r rune) bool {
	return r == '\n' || r == '\r' || r == 0x2028 || r == 0x2029
}

func isWordUnit(c uint16) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func foldUnit(c uint16) uint16 {
	if c >= 'A' && c <= 'Z' {
		return c + 32
	}
	return c
}
