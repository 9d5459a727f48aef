package compiler

import (
	"testing"

	"github.com/chazu/microjs/vm"
)

// FuzzCompile checks the lexer and one-pass compiler never panic: any input
// either compiles or reports a SyntaxError.
func FuzzCompile(f *testing.F) {
	for _, seed := range []string{
		"var x = 1;",
		"function f(a) { return a + 1; }",
		"for (var i = 0; i < 3; i++) {}",
		"try { x(); } catch (e) {} finally {}",
		"(((((((1)))))))",
		"[[1], [2, [3]]]",
		"a?.b ?? c ** 2",
		"switch (x) { case 1: break; }",
		"var r = /a[b-c]+/g;",
		"x => ({y: 1})",
		"'str' + `tpl`",
		"0x1f + 0b10 + 0o7",
		"a[0][0][0](1)(2).b.c",
		"o = {get x() { return 1; }, set x(v) {}};",
		"{{{{}}}}",
		"do ; while (0);",
		"l: for (;;) break l;",
	} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, source string) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("compiler panicked on %q: %v", source, r)
			}
		}()
		heap := vm.NewHeap(0)
		proto, err := Compile(source, "fuzz.js", heap)
		if err != nil {
			if _, ok := err.(*vm.SyntaxError); !ok {
				t.Fatalf("non-syntax error from Compile(%q): %v", source, err)
			}
			return
		}
		if proto == nil || len(proto.Code) == 0 {
			t.Fatalf("Compile(%q) returned an empty module without error", source)
		}
	})
}
