package vm

import (
	"strings"

	"github.com/chazu/microjs/regex"
)

// ---------------------------------------------------------------------------
// RegExp objects
// ---------------------------------------------------------------------------

// RegexpObject is the specialised body of a ClassRegExp object.
type RegexpObject struct {
	Prog      *regex.Program
	LastIndex int
}

func (ctx *Context) newRegexp(prog *regex.Program) Value {
	ctx.Heap.charge(stringOverhead + len(prog.Source))
	return ctx.Heap.addObject(&Object{
		Class:  ClassRegExp,
		Proto:  ctx.regexpProto,
		Regexp: &RegexpObject{Prog: prog},
	})
}

// compileRegexp compiles a pattern, mapping compile errors to the
// embedder-facing RegexError contract (a SyntaxError-shaped throw).
func (ctx *Context) compileRegexp(source, flags string) (*regex.Program, error) {
	prog, err := regex.Compile(source, flags)
	if err != nil {
		return nil, ctx.throwSyntaxError("%s", err.Error())
	}
	return prog, nil
}

// regexpFromLiteral materialises a regex literal, caching the compiled
// program per function module and literal index.
func (ctx *Context) regexpFromLiteral(proto *FunctionProto, idx int) (Value, error) {
	cache := ctx.regexCache[proto]
	if cache == nil {
		cache = make([]*regex.Program, len(proto.Regexps))
		ctx.regexCache[proto] = cache
	}
	if cache[idx] == nil {
		lit := proto.Regexps[idx]
		prog, err := ctx.compileRegexp(lit.Source, lit.Flags)
		if err != nil {
			return Undefined, err
		}
		cache[idx] = prog
	}
	return ctx.newRegexp(cache[idx]), nil
}

// regexpField answers the reflective fields of a regexp object.
func (ctx *Context) regexpField(o *Object, key string) (Value, bool) {
	r := o.Regexp
	switch key {
	case "source":
		return ctx.Heap.NewString(r.Prog.Source), true
	case "flags":
		return ctx.Heap.NewString(r.Prog.FlagText), true
	case "lastIndex":
		return NumberValue(float64(r.LastIndex)), true
	case "global":
		return BoolValue(r.Prog.Flags&regex.FlagGlobal != 0), true
	case "ignoreCase":
		return BoolValue(r.Prog.Flags&regex.FlagIgnoreCase != 0), true
	case "multiline":
		return BoolValue(r.Prog.Flags&regex.FlagMultiline != 0), true
	case "dotAll":
		return BoolValue(r.Prog.Flags&regex.FlagDotAll != 0), true
	case "unicode":
		return BoolValue(r.Prog.Flags&regex.FlagUnicode != 0), true
	case "sticky":
		return BoolValue(r.Prog.Flags&regex.FlagSticky != 0), true
	}
	return Undefined, false
}

// execRegexp runs a program with the context's poll contract. Matcher
// aborts (timeout, backtrack overflow) are uncatchable.
func (ctx *Context) execRegexp(prog *regex.Program, input []uint16, start int) *regex.Match {
	m, err := prog.Exec(input, start, regex.ExecOptions{
		Poll:         ctx.regexPoll,
		PollInterval: ctx.pollInterval,
		StackLimit:   ctx.regexStack,
	})
	if err != nil {
		panic(regexAbortPanic{err: err})
	}
	return m
}

// regexpExec implements RegExp.prototype.exec against a receiver object.
func (ctx *Context) regexpExec(o *Object, s string) (Value, error) {
	r := o.Regexp
	input := regex.Units(s)
	start := 0
	tracking := r.Prog.Flags&(regex.FlagGlobal|regex.FlagSticky) != 0
	if tracking {
		start = r.LastIndex
	}
	if start > len(input) {
		r.LastIndex = 0
		return Null, nil
	}
	m := ctx.execRegexp(r.Prog, input, start)
	if m == nil {
		if tracking {
			r.LastIndex = 0
		}
		return Null, nil
	}
	if tracking {
		r.LastIndex = m.End
	}
	return ctx.matchToArray(m, s), nil
}

// matchToArray converts a match into the result array with index, input
// and named captures.
func (ctx *Context) matchToArray(m *regex.Match, input string) Value {
	h := ctx.Heap
	elems := make([]Value, len(m.Captures))
	for i := range m.Captures {
		if text, ok := m.Group(i); ok {
			elems[i] = h.NewString(text)
		} else {
			elems[i] = Undefined
		}
	}
	res := h.NewArray(ctx.arrayProto, elems)
	ro := h.Obj(res)
	ro.setHidden(h, "index", NumberValue(float64(m.Index)))
	ro.setHidden(h, "input", h.NewString(input))
	// Named groups live on a separate object, undefined when the pattern
	// has none.
	names := regexGroupNames(m)
	if len(names) == 0 {
		ro.setHidden(h, "groups", Undefined)
	} else {
		groups := h.NewObject(ctx.objectProto)
		gobj := h.Obj(groups)
		for name, idx := range names {
			if text, ok := m.Group(idx); ok {
				gobj.setOwn(h, name, h.NewString(text))
			} else {
				gobj.setOwn(h, name, Undefined)
			}
		}
		ro.setHidden(h, "groups", groups)
	}
	return res
}

func regexGroupNames(m *regex.Match) map[string]int {
	return m.GroupNames
}

func (ctx *Context) installRegExpConstructor() {
	h := ctx.Heap
	ctor := h.NewNative(ctx.functionProto, "RegExp", 2, func(ctx *Context, this Value, args []Value) (Value, error) {
		pat := arg(args, 0)
		if pat.IsObject() && ctx.Heap.Obj(pat).Class == ClassRegExp {
			if arg(args, 1).IsUndefined() {
				return ctx.newRegexp(ctx.Heap.Obj(pat).Regexp.Prog), nil
			}
			src := ctx.Heap.Obj(pat).Regexp.Prog.Source
			flags, err := ctx.ToString(arg(args, 1))
			if err != nil {
				return Undefined, err
			}
			prog, err := ctx.compileRegexp(src, flags)
			if err != nil {
				return Undefined, err
			}
			return ctx.newRegexp(prog), nil
		}
		source := ""
		if !pat.IsUndefined() {
			s, err := ctx.ToString(pat)
			if err != nil {
				return Undefined, err
			}
			source = s
		}
		flags := ""
		if f := arg(args, 1); !f.IsUndefined() {
			s, err := ctx.ToString(f)
			if err != nil {
				return Undefined, err
			}
			flags = s
		}
		if source == "" {
			source = "(?:)"
		}
		prog, err := ctx.compileRegexp(source, flags)
		if err != nil {
			return Undefined, err
		}
		return ctx.newRegexp(prog), nil
	})
	ctx.hidden(ctor, "prototype", ctx.regexpProto)
	ctx.hidden(ctx.regexpProto, "constructor", ctor)
	ctx.hidden(ctx.Global, "RegExp", ctor)
}

func (ctx *Context) thisRegexp(this Value, who string) (*Object, error) {
	if this.IsObject() {
		o := ctx.Heap.Obj(this)
		if o.Class == ClassRegExp {
			return o, nil
		}
	}
	return nil, ctx.throwTypeError("%s called on a non-RegExp receiver", who)
}

func (ctx *Context) initRegexpProto() {
	h := ctx.Heap
	p := ctx.regexpProto

	ctx.method(p, "exec", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.thisRegexp(this, "RegExp.prototype.exec")
		if err != nil {
			return Undefined, err
		}
		s, err := ctx.ToString(arg(args, 0))
		if err != nil {
			return Undefined, err
		}
		return ctx.regexpExec(o, s)
	})
	ctx.method(p, "test", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.thisRegexp(this, "RegExp.prototype.test")
		if err != nil {
			return Undefined, err
		}
		s, err := ctx.ToString(arg(args, 0))
		if err != nil {
			return Undefined, err
		}
		res, err := ctx.regexpExec(o, s)
		if err != nil {
			return Undefined, err
		}
		return BoolValue(!res.IsNull()), nil
	})
	ctx.method(p, "toString", 0, func(ctx *Context, this Value, args []Value) (Value, error) {
		o, err := ctx.thisRegexp(this, "RegExp.prototype.toString")
		if err != nil {
			return Undefined, err
		}
		return h.NewString("/" + o.Regexp.Prog.Source + "/" + o.Regexp.Prog.FlagText), nil
	})
}

// ---------------------------------------------------------------------------
// String methods taking pattern arguments
// ---------------------------------------------------------------------------

// patternArg resolves a string method's pattern argument: an existing
// regexp object or a pattern compiled from a string.
func (ctx *Context) patternArg(v Value) (*regex.Program, error) {
	if v.IsObject() && ctx.Heap.Obj(v).Class == ClassRegExp {
		return ctx.Heap.Obj(v).Regexp.Prog, nil
	}
	s, err := ctx.ToString(v)
	if err != nil {
		return nil, err
	}
	return ctx.compileRegexp(s, "")
}

func (ctx *Context) stringSearch(s string, args []Value) (Value, error) {
	prog, err := ctx.patternArg(arg(args, 0))
	if err != nil {
		return Undefined, err
	}
	m := ctx.execRegexp(prog, regex.Units(s), 0)
	if m == nil {
		return NumberValue(-1), nil
	}
	return NumberValue(float64(m.Index)), nil
}

func (ctx *Context) stringMatch(s string, args []Value) (Value, error) {
	prog, err := ctx.patternArg(arg(args, 0))
	if err != nil {
		return Undefined, err
	}
	input := regex.Units(s)
	if prog.Flags&regex.FlagGlobal == 0 {
		m := ctx.execRegexp(prog, input, 0)
		if m == nil {
			return Null, nil
		}
		return ctx.matchToArray(m, s), nil
	}
	var elems []Value
	at := 0
	for at <= len(input) {
		m := ctx.execRegexp(prog, input, at)
		if m == nil {
			break
		}
		text, _ := m.Group(0)
		elems = append(elems, ctx.Heap.NewString(text))
		if m.End == m.Index {
			at = m.End + 1
		} else {
			at = m.End
		}
	}
	if len(elems) == 0 {
		return Null, nil
	}
	return ctx.Heap.NewArray(ctx.arrayProto, elems), nil
}

func (ctx *Context) stringSplit(s string, args []Value) (Value, error) {
	h := ctx.Heap
	sep := arg(args, 0)
	limit := -1
	if v := arg(args, 1); !v.IsUndefined() {
		f, err := ctx.ToNumber(v)
		if err != nil {
			return Undefined, err
		}
		limit = int(toIntegerOrInf(f))
	}
	if sep.IsUndefined() {
		return h.NewArray(ctx.arrayProto, []Value{h.NewString(s)}), nil
	}

	push := func(elems []Value, part string) ([]Value, bool) {
		if limit >= 0 && len(elems) >= limit {
			return elems, false
		}
		return append(elems, h.NewString(part)), true
	}

	// Regexp separator: split on matches, including captures.
	if sep.IsObject() && h.Obj(sep).Class == ClassRegExp {
		prog := h.Obj(sep).Regexp.Prog
		input := regex.Units(s)
		var elems []Value
		last, at := 0, 0
		for at <= len(input) {
			m := ctx.execRegexp(prog, input, at)
			if m == nil {
				break
			}
			if m.End == m.Index && m.Index == last {
				at = m.Index + 1
				continue
			}
			var ok bool
			if elems, ok = push(elems, unitsSlice(input, last, m.Index)); !ok {
				return h.NewArray(ctx.arrayProto, elems), nil
			}
			for gi := 1; gi < len(m.Captures); gi++ {
				if text, matched := m.Group(gi); matched {
					if elems, ok = push(elems, text); !ok {
						return h.NewArray(ctx.arrayProto, elems), nil
					}
				} else if limit < 0 || len(elems) < limit {
					elems = append(elems, Undefined)
				}
			}
			last = m.End
			if m.End == m.Index {
				at = m.End + 1
			} else {
				at = m.End
			}
		}
		elems, _ = push(elems, unitsSlice(input, last, len(input)))
		return h.NewArray(ctx.arrayProto, elems), nil
	}

	sepStr, err := ctx.ToString(sep)
	if err != nil {
		return Undefined, err
	}
	var elems []Value
	if sepStr == "" {
		units := codeUnits(s)
		for i := range units {
			var ok bool
			if elems, ok = push(elems, unitsToString(units[i:i+1])); !ok {
				break
			}
		}
		return h.NewArray(ctx.arrayProto, elems), nil
	}
	for _, part := range strings.Split(s, sepStr) {
		var ok bool
		if elems, ok = push(elems, part); !ok {
			break
		}
	}
	return h.NewArray(ctx.arrayProto, elems), nil
}

func unitsSlice(input []uint16, from, to int) string {
	u := make([]uint16, to-from)
	copy(u, input[from:to])
	return unitsToString(u)
}

func (ctx *Context) stringReplace(s string, args []Value) (Value, error) {
	h := ctx.Heap
	pat := arg(args, 0)
	repl := arg(args, 1)

	// String pattern: replace the first literal occurrence.
	if !pat.IsObject() || h.Obj(pat).Class != ClassRegExp {
		patStr, err := ctx.ToString(pat)
		if err != nil {
			return Undefined, err
		}
		idx := strings.Index(s, patStr)
		if idx < 0 {
			return h.NewString(s), nil
		}
		var rep string
		if ctx.isCallable(repl) {
			r, err := ctx.call(repl, Undefined, []Value{
				h.NewString(patStr),
				NumberValue(float64(lenCodeUnits(s[:idx]))),
				h.NewString(s),
			})
			if err != nil {
				return Undefined, err
			}
			rep, err = ctx.ToString(r)
			if err != nil {
				return Undefined, err
			}
		} else {
			rs, err := ctx.ToString(repl)
			if err != nil {
				return Undefined, err
			}
			rep = expandDollarSimple(rs, patStr, s, idx)
		}
		return h.NewString(s[:idx] + rep + s[idx+len(patStr):]), nil
	}

	prog := h.Obj(pat).Regexp.Prog
	global := prog.Flags&regex.FlagGlobal != 0
	input := regex.Units(s)
	var b strings.Builder
	last, at := 0, 0
	for at <= len(input) {
		m := ctx.execRegexp(prog, input, at)
		if m == nil {
			break
		}
		b.WriteString(unitsSlice(input, last, m.Index))
		rep, err := ctx.replacementFor(m, s, repl)
		if err != nil {
			return Undefined, err
		}
		b.WriteString(rep)
		last = m.End
		if m.End == m.Index {
			if m.End < len(input) {
				b.WriteString(unitsSlice(input, m.End, m.End+1))
			}
			last = m.End + 1
			at = m.End + 1
		} else {
			at = m.End
		}
		if !global {
			break
		}
	}
	if last < len(input) {
		b.WriteString(unitsSlice(input, last, len(input)))
	}
	return h.NewString(b.String()), nil
}

// replacementFor computes one replacement: a function call or a $-pattern
// substitution.
func (ctx *Context) replacementFor(m *regex.Match, input string, repl Value) (string, error) {
	if ctx.isCallable(repl) {
		callArgs := make([]Value, 0, len(m.Captures)+2)
		for i := range m.Captures {
			if text, ok := m.Group(i); ok {
				callArgs = append(callArgs, ctx.Heap.NewString(text))
			} else {
				callArgs = append(callArgs, Undefined)
			}
		}
		callArgs = append(callArgs, NumberValue(float64(m.Index)), ctx.Heap.NewString(input))
		r, err := ctx.call(repl, Undefined, callArgs)
		if err != nil {
			return "", err
		}
		return ctx.ToString(r)
	}
	rs, err := ctx.ToString(repl)
	if err != nil {
		return "", err
	}
	return expandDollars(rs, m), nil
}

// expandDollars substitutes $&, $`, $', $n, $nn and $<name> in a
// replacement string.
func expandDollars(rs string, m *regex.Match) string {
	var b strings.Builder
	whole, _ := m.Group(0)
	for i := 0; i < len(rs); i++ {
		c := rs[i]
		if c != '$' || i+1 >= len(rs) {
			b.WriteByte(c)
			continue
		}
		n := rs[i+1]
		switch {
		case n == '$':
			b.WriteByte('$')
			i++
		case n == '&':
			b.WriteString(whole)
			i++
		case n == '`':
			b.WriteString(unitsSlice(m.Input, 0, m.Index))
			i++
		case n == '\'':
			b.WriteString(unitsSlice(m.Input, m.End, len(m.Input)))
			i++
		case n == '<':
			end := strings.IndexByte(rs[i+2:], '>')
			if end < 0 {
				b.WriteByte(c)
				continue
			}
			name := rs[i+2 : i+2+end]
			if idx, ok := m.GroupNames[name]; ok {
				if text, matched := m.Group(idx); matched {
					b.WriteString(text)
				}
			}
			i += 2 + end
		case n >= '0' && n <= '9':
			num := int(n - '0')
			width := 1
			if i+2 < len(rs) && rs[i+2] >= '0' && rs[i+2] <= '9' {
				if two := num*10 + int(rs[i+2]-'0'); two < len(m.Captures) {
					num = two
					width = 2
				}
			}
			if num >= 1 && num < len(m.Captures) {
				if text, ok := m.Group(num); ok {
					b.WriteString(text)
				}
				i += width
			} else {
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// expandDollarSimple handles $-patterns for string-pattern replace, where
// only $$, $& ,$` and $' apply.
func expandDollarSimple(rs, matched, input string, idx int) string {
	var b strings.Builder
	for i := 0; i < len(rs); i++ {
		c := rs[i]
		if c != '$' || i+1 >= len(rs) {
			b.WriteByte(c)
			continue
		}
		switch rs[i+1] {
		case '$':
			b.WriteByte('$')
			i++
		case '&':
			b.WriteString(matched)
			i++
		case '`':
			b.WriteString(input[:idx])
			i++
		case '\'':
			b.WriteString(input[idx+len(matched):])
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
