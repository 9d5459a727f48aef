package compiler

import (
	"testing"

	"github.com/chazu/microjs/vm"
)

func TestLexerTokens(t *testing.T) {
	input := `var x = 42; // comment
function f(a) { return a !== 0x1F && a >= 1.5e2; }
s = "he\tllo" + 'woArld';
r = /a[/]b/gi;
o?.p ?? q ** 2;`

	expected := []struct {
		typ TokenType
		lit string
	}{
		{TokenVar, "var"}, {TokenIdentifier, "x"}, {TokenAssign, "="},
		{TokenNumber, "42"}, {TokenSemi, ";"},
		{TokenFunction, "function"}, {TokenIdentifier, "f"},
		{TokenLParen, "("}, {TokenIdentifier, "a"}, {TokenRParen, ")"},
		{TokenLBrace, "{"}, {TokenReturn, "return"}, {TokenIdentifier, "a"},
		{TokenSNe, "!=="}, {TokenNumber, "0x1F"}, {TokenAndAnd, "&&"},
		{TokenIdentifier, "a"}, {TokenGe, ">="}, {TokenNumber, "1.5e2"},
		{TokenSemi, ";"}, {TokenRBrace, "}"},
		{TokenIdentifier, "s"}, {TokenAssign, "="}, {TokenString, "he\tllo"},
		{TokenPlus, "+"}, {TokenString, "woArld"}, {TokenSemi, ";"},
		{TokenIdentifier, "r"}, {TokenAssign, "="}, {TokenRegex, "/a[/]b/gi"},
		{TokenSemi, ";"},
		{TokenIdentifier, "o"}, {TokenOptChain, "?."}, {TokenIdentifier, "p"},
		{TokenNullish, "??"}, {TokenIdentifier, "q"}, {TokenStarStar, "**"},
		{TokenNumber, "2"}, {TokenSemi, ";"},
		{TokenEOF, ""},
	}

	toks, err := Tokenize(input)
	if err != nil {
		t.Fatalf("Tokenize failed: %v", err)
	}
	if len(toks) != len(expected) {
		t.Fatalf("token count = %d, want %d", len(toks), len(expected))
	}
	for i, exp := range expected {
		if toks[i].Type != exp.typ {
			t.Errorf("token[%d] type = %v, want %v", i, toks[i].Type, exp.typ)
		}
		if exp.lit != "" && toks[i].Literal != exp.lit {
			t.Errorf("token[%d] literal = %q, want %q", i, toks[i].Literal, exp.lit)
		}
	}
}

func TestLexerNumbers(t *testing.T) {
	tests := []struct {
		src  string
		want float64
	}{
		{"0", 0}, {"42", 42}, {"3.25", 3.25}, {"0.5", 0.5}, {".5", 0.5},
		{"1e3", 1000}, {"1.5e-2", 0.015}, {"2E2", 200},
		{"0xff", 255}, {"0XFF", 255}, {"0o17", 15}, {"0b1010", 10},
	}
	for _, tt := range tests {
		toks, err := Tokenize(tt.src)
		if err != nil {
			t.Errorf("Tokenize(%q) failed: %v", tt.src, err)
			continue
		}
		if toks[0].Type != TokenNumber {
			t.Errorf("Tokenize(%q): not a number token", tt.src)
			continue
		}
		if toks[0].Num != tt.want {
			t.Errorf("Tokenize(%q) = %v, want %v", tt.src, toks[0].Num, tt.want)
		}
	}
}

func TestLexerPositions(t *testing.T) {
	toks, err := Tokenize("a\n  bb\r\nccc")
	if err != nil {
		t.Fatal(err)
	}
	wantPos := []struct{ line, col int }{{1, 1}, {2, 3}, {3, 1}}
	for i, w := range wantPos {
		if toks[i].Line != w.line || toks[i].Col != w.col {
			t.Errorf("token[%d] at %d:%d, want %d:%d", i, toks[i].Line, toks[i].Col, w.line, w.col)
		}
	}
	if toks[0].NewlineBefore {
		t.Error("first token should not carry the newline flag")
	}
	if !toks[1].NewlineBefore || !toks[2].NewlineBefore {
		t.Error("newline flag missing after line terminators")
	}
}

func TestLexerErrors(t *testing.T) {
	sources := []string{
		"'abc",
		"\"abc\nd\"",
		"/* never closed",
		"/abc",
		"1.5e",
		"0x",
		"077",
		"`tpl ${x}`",
		"class",
		"a @ b",
	}
	for _, src := range sources {
		_, err := Tokenize(src)
		if err == nil {
			t.Errorf("Tokenize(%q) succeeded, want error", src)
			continue
		}
		if _, ok := err.(*vm.SyntaxError); !ok {
			t.Errorf("Tokenize(%q): error type %T, want *vm.SyntaxError", src, err)
		}
	}
}

func TestRegexDivisionDisambiguation(t *testing.T) {
	toks, err := Tokenize("a / b; /c/; 1 / 2")
	if err != nil {
		t.Fatal(err)
	}
	var kinds []TokenType
	for _, tok := range toks {
		if tok.Type == TokenSlash || tok.Type == TokenRegex {
			kinds = append(kinds, tok.Type)
		}
	}
	want := []TokenType{TokenSlash, TokenRegex, TokenSlash}
	if len(kinds) != len(want) {
		t.Fatalf("slash-ish tokens = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("slash token %d = %v, want %v", i, kinds[i], want[i])
		}
	}
}
