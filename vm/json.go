package vm

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// JSON.parse / JSON.stringify
// ---------------------------------------------------------------------------

func (ctx *Context) installJSON() {
	h := ctx.Heap
	j := h.NewObject(ctx.objectProto)
	ctx.hidden(ctx.Global, "JSON", j)

	ctx.method(j, "parse", 1, func(ctx *Context, this Value, args []Value) (Value, error) {
		s, err := ctx.ToString(arg(args, 0))
		if err != nil {
			return Undefined, err
		}
		p := &jsonParser{ctx: ctx, src: s}
		v, err := p.parse()
		if err != nil {
			return Undefined, err
		}
		p.skipSpace()
		if p.pos < len(p.src) {
			return Undefined, p.errorf("unexpected trailing characters")
		}
		return v, nil
	})

	ctx.method(j, "stringify", 3, func(ctx *Context, this Value, args []Value) (Value, error) {
		indent := ""
		if v := arg(args, 2); !v.IsUndefined() {
			switch {
			case v.IsNumber():
				n := int(toIntegerOrInf(v.Number()))
				if n > 10 {
					n = 10
				}
				if n > 0 {
					indent = strings.Repeat(" ", n)
				}
			case v.IsString():
				indent = ctx.Heap.Str(v)
				if len(indent) > 10 {
					indent = indent[:10]
				}
			}
		}
		w := &jsonWriter{ctx: ctx, indent: indent, seen: make(map[Value]bool)}
		ok, err := w.value(arg(args, 0), "")
		if err != nil {
			return Undefined, err
		}
		if !ok {
			return Undefined, nil
		}
		return ctx.Heap.NewString(w.b.String()), nil
	})
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

type jsonParser struct {
	ctx   *Context
	src   string
	pos   int
	depth int
}

const jsonMaxDepth = 512

func (p *jsonParser) errorf(format string, args ...any) error {
	return p.ctx.throwSyntaxError("JSON.parse: %s at position %d", fmt.Sprintf(format, args...), p.pos)
}

func (p *jsonParser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *jsonParser) parse() (Value, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > jsonMaxDepth {
		return Undefined, p.errorf("input nested too deeply")
	}

	p.skipSpace()
	if p.pos >= len(p.src) {
		return Undefined, p.errorf("unexpected end of input")
	}
	switch c := p.src[p.pos]; {
	case c == '{':
		return p.object()
	case c == '[':
		return p.array()
	case c == '"':
		s, err := p.string()
		if err != nil {
			return Undefined, err
		}
		return p.ctx.Heap.NewString(s), nil
	case c == 't':
		return p.literal("true", True)
	case c == 'f':
		return p.literal("false", False)
	case c == 'n':
		return p.literal("null", Null)
	case c == '-' || (c >= '0' && c <= '9'):
		return p.number()
	default:
		return Undefined, p.errorf("unexpected character %q", c)
	}
}

func (p *jsonParser) literal(word string, v Value) (Value, error) {
	if !strings.HasPrefix(p.src[p.pos:], word) {
		return Undefined, p.errorf("invalid literal")
	}
	p.pos += len(word)
	return v, nil
}

func (p *jsonParser) number() (Value, error) {
	start := p.pos
	if p.src[p.pos] == '-' {
		p.pos++
	}
	digits := func() bool {
		s := p.pos
		for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
			p.pos++
		}
		return p.pos > s
	}
	if p.pos < len(p.src) && p.src[p.pos] == '0' {
		p.pos++
	} else if !digits() {
		return Undefined, p.errorf("invalid number")
	}
	if p.pos < len(p.src) && p.src[p.pos] == '.' {
		p.pos++
		if !digits() {
			return Undefined, p.errorf("invalid number")
		}
	}
	if p.pos < len(p.src) && (p.src[p.pos] == 'e' || p.src[p.pos] == 'E') {
		p.pos++
		if p.pos < len(p.src) && (p.src[p.pos] == '+' || p.src[p.pos] == '-') {
			p.pos++
		}
		if !digits() {
			return Undefined, p.errorf("invalid number")
		}
	}
	f, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return Undefined, p.errorf("invalid number")
	}
	return NumberValue(f), nil
}

func (p *jsonParser) string() (string, error) {
	p.pos++ // opening quote
	var b strings.Builder
	for {
		if p.pos >= len(p.src) {
			return "", p.errorf("unterminated string")
		}
		c := p.src[p.pos]
		switch {
		case c == '"':
			p.pos++
			return b.String(), nil
		case c == '\\':
			p.pos++
			if p.pos >= len(p.src) {
				return "", p.errorf("unterminated string")
			}
			switch e := p.src[p.pos]; e {
			case '"', '\\', '/':
				b.WriteByte(e)
			case 'b':
				b.WriteByte('\b')
			case 'f':
				b.WriteByte('\f')
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'u':
				if p.pos+4 >= len(p.src) {
					return "", p.errorf("invalid unicode escape")
				}
				n, err := strconv.ParseUint(p.src[p.pos+1:p.pos+5], 16, 32)
				if err != nil {
					return "", p.errorf("invalid unicode escape")
				}
				p.pos += 4
				r := rune(n)
				// Combine surrogate pairs.
				if utf16.IsSurrogate(r) && p.pos+6 < len(p.src) && p.src[p.pos+1] == '\\' && p.src[p.pos+2] == 'u' {
					if n2, err := strconv.ParseUint(p.src[p.pos+3:p.pos+7], 16, 32); err == nil {
						if combined := utf16.DecodeRune(r, rune(n2)); combined != utf8.RuneError {
							r = combined
							p.pos += 6
						}
					}
				}
				b.WriteRune(r)
			default:
				return "", p.errorf("invalid escape character %q", e)
			}
			p.pos++
		case c < 0x20:
			return "", p.errorf("control character in string")
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
}

func (p *jsonParser) object() (Value, error) {
	p.pos++ // '{'
	obj := p.ctx.Heap.NewObject(p.ctx.objectProto)
	o := p.ctx.Heap.Obj(obj)
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == '}' {
		p.pos++
		return obj, nil
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != '"' {
			return Undefined, p.errorf("expected string key")
		}
		key, err := p.string()
		if err != nil {
			return Undefined, err
		}
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != ':' {
			return Undefined, p.errorf("expected ':'")
		}
		p.pos++
		v, err := p.parse()
		if err != nil {
			return Undefined, err
		}
		o.setOwn(p.ctx.Heap, key, v)
		p.skipSpace()
		if p.pos >= len(p.src) {
			return Undefined, p.errorf("unterminated object")
		}
		switch p.src[p.pos] {
		case ',':
			p.pos++
		case '}':
			p.pos++
			return obj, nil
		default:
			return Undefined, p.errorf("expected ',' or '}'")
		}
	}
}

func (p *jsonParser) array() (Value, error) {
	p.pos++ // '['
	var elems []Value
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == ']' {
		p.pos++
		return p.ctx.Heap.NewArray(p.ctx.arrayProto, elems), nil
	}
	for {
		v, err := p.parse()
		if err != nil {
			return Undefined, err
		}
		elems = append(elems, v)
		p.skipSpace()
		if p.pos >= len(p.src) {
			return Undefined, p.errorf("unterminated array")
		}
		switch p.src[p.pos] {
		case ',':
			p.pos++
		case ']':
			p.pos++
			return p.ctx.Heap.NewArray(p.ctx.arrayProto, elems), nil
		default:
			return Undefined, p.errorf("expected ',' or ']'")
		}
	}
}

// ---------------------------------------------------------------------------
// Writer
// ---------------------------------------------------------------------------

type jsonWriter struct {
	ctx    *Context
	b      strings.Builder
	indent string
	seen   map[Value]bool
}

// value writes v; ok=false means the value is not serialisable (undefined,
// functions) and the caller must skip it.
func (w *jsonWriter) value(v Value, prefix string) (bool, error) {
	// toJSON hooks let objects replace themselves.
	if v.IsObject() {
		toJSON, err := w.ctx.GetProp(v, "toJSON")
		if err != nil {
			return false, err
		}
		if w.ctx.isCallable(toJSON) {
			v, err = w.ctx.call(toJSON, v, nil)
			if err != nil {
				return false, err
			}
		}
	}

	switch {
	case v.IsNull():
		w.b.WriteString("null")
	case v.IsBool():
		if v.Bool() {
			w.b.WriteString("true")
		} else {
			w.b.WriteString("false")
		}
	case v.IsNumber():
		f := v.Number()
		if f != f || f > 1.7976931348623157e308 || f < -1.7976931348623157e308 {
			w.b.WriteString("null")
		} else {
			w.b.WriteString(FormatNumber(f))
		}
	case v.IsString():
		w.writeString(w.ctx.Heap.Str(v))
	case v.IsObject():
		o := w.ctx.Heap.Obj(v)
		if o.IsCallable() {
			return false, nil
		}
		if w.seen[v] {
			return false, w.ctx.throwTypeError("converting circular structure to JSON")
		}
		w.seen[v] = true
		defer delete(w.seen, v)
		if o.Class == ClassArray || o.Class == ClassArguments {
			return true, w.array(o, prefix)
		}
		return true, w.object(v, o, prefix)
	default:
		return false, nil
	}
	return true, nil
}

func (w *jsonWriter) nl(prefix string) {
	if w.indent != "" {
		w.b.WriteByte('\n')
		w.b.WriteString(prefix)
	}
}

func (w *jsonWriter) array(o *Object, prefix string) error {
	if len(o.Elements) == 0 {
		w.b.WriteString("[]")
		return nil
	}
	inner := prefix + w.indent
	w.b.WriteByte('[')
	for i, e := range o.Elements {
		if i > 0 {
			w.b.WriteByte(',')
		}
		w.nl(inner)
		ok, err := w.value(e, inner)
		if err != nil {
			return err
		}
		if !ok {
			w.b.WriteString("null")
		}
	}
	w.nl(prefix)
	w.b.WriteByte(']')
	return nil
}

func (w *jsonWriter) object(v Value, o *Object, prefix string) error {
	keys := o.OwnKeys()
	inner := prefix + w.indent
	w.b.WriteByte('{')
	wrote := false
	for _, k := range keys {
		pv, err := w.ctx.GetProp(v, k)
		if err != nil {
			return err
		}
		mark := w.b.Len()
		if wrote {
			w.b.WriteByte(',')
		}
		w.nl(inner)
		w.writeString(k)
		w.b.WriteByte(':')
		if w.indent != "" {
			w.b.WriteByte(' ')
		}
		ok, err := w.value(pv, inner)
		if err != nil {
			return err
		}
		if !ok {
			// Roll back the key for unserialisable values.
			trimmed := w.b.String()[:mark]
			w.b.Reset()
			w.b.WriteString(trimmed)
			continue
		}
		wrote = true
	}
	if wrote {
		w.nl(prefix)
	}
	w.b.WriteByte('}')
	return nil
}

func (w *jsonWriter) writeString(s string) {
	w.b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			w.b.WriteString(`\"`)
		case '\\':
			w.b.WriteString(`\\`)
		case '\n':
			w.b.WriteString(`\n`)
		case '\r':
			w.b.WriteString(`\r`)
		case '\t':
			w.b.WriteString(`\t`)
		case '\b':
			w.b.WriteString(`\b`)
		case '\f':
			w.b.WriteString(`\f`)
		default:
			if r < 0x20 || r == 0x2028 || r == 0x2029 {
				fmt.Fprintf(&w.b, `\u%04x`, r)
			} else {
				w.b.WriteRune(r)
			}
		}
	}
	w.b.WriteByte('"')
}
