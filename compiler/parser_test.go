package compiler

import (
	"strings"
	"testing"

	"github.com/chazu/microjs/vm"
)

func compileSrc(t *testing.T, src string) *vm.FunctionProto {
	t.Helper()
	heap := vm.NewHeap(0)
	proto, err := Compile(src, "test.js", heap)
	if err != nil {
		t.Fatalf("Compile(%q) failed: %v", src, err)
	}
	return proto
}

func TestCompileSmoke(t *testing.T) {
	sources := []string{
		"1 + 2;",
		"var x = {a: [1, 2], b: 'c'};",
		"function f(a, b) { return a + b; } f(1, 2);",
		"for (var i = 0; i < 10; i++) { if (i % 2) continue; }",
		"for (var k in {a: 1}) k;",
		"for (var v of [1, 2]) v;",
		"try { f(); } catch (e) { g(); } finally { h(); }",
		"switch (x) { case 1: break; default: y(); }",
		"var f = (a) => a * 2;",
		"a = b ? c : d;",
		"do { x--; } while (x);",
		"label: for (;;) { break label; }",
		"var r = /ab+/gi;",
		"o['k'] = o.k ? o.k + 1 : 1;",
		"new Foo(1, 2).bar;",
		"x = a?.b?.c ?? 'dflt';",
		"obj.m(1)(2)[3];",
	}
	for _, src := range sources {
		compileSrc(t, src)
	}
}

// Every self-similar grammar form must parse at 1000 levels of nesting via
// the explicit work stacks, not the Go call stack.
func TestDeepNestingParses(t *testing.T) {
	const n = 1000
	forms := map[string]string{
		"parens": strings.Repeat("(", n) + "1" + strings.Repeat(")", n),
		"arrays": strings.Repeat("[", n) + "1" + strings.Repeat("]", n),
		"blocks": strings.Repeat("{", n) + "1;" + strings.Repeat("}", n),
		"member": "a" + strings.Repeat("[0]", n),
	}
	for name, src := range forms {
		t.Run(name, func(t *testing.T) {
			compileSrc(t, src)
		})
	}
}

func TestDeepNestingWithTrailingOperators(t *testing.T) {
	const n = 600
	src := strings.Repeat("(", n) + "1" + strings.Repeat(")+1", n)
	compileSrc(t, src)
}

func TestShortJumpSelection(t *testing.T) {
	// A tight loop gets the one-byte backward jump; a loop with a large
	// body needs the long form.
	small := compileSrc(t, "while (x) y();")
	if !strings.Contains(vm.Disassemble(small), "goto8") {
		t.Error("small loop did not use the short jump form")
	}

	var b strings.Builder
	b.WriteString("while (x) { ")
	for i := 0; i < 100; i++ {
		b.WriteString("y(1234567); ")
	}
	b.WriteString("}")
	large := compileSrc(t, b.String())
	dis := vm.Disassemble(large)
	if !strings.Contains(dis, "goto ") {
		t.Error("large loop did not use the long jump form")
	}
}

func TestExceptionTable(t *testing.T) {
	proto := compileSrc(t, "try { a(); } catch (e) { b(); } finally { c(); }")
	if len(proto.ExcTable) != 2 {
		t.Fatalf("exception table has %d entries, want 2 (catch + finally)", len(proto.ExcTable))
	}
	catch, finally := proto.ExcTable[0], proto.ExcTable[1]
	if catch.CatchPC < 0 || catch.FinallyPC >= 0 {
		t.Errorf("first entry should be the catch entry: %+v", catch)
	}
	if finally.FinallyPC < 0 || finally.CatchPC >= 0 {
		t.Errorf("second entry should be the finally entry: %+v", finally)
	}
	if finally.EndPC <= catch.EndPC {
		t.Errorf("finally range must cover the catch body: %+v vs %+v", finally, catch)
	}
}

func TestUpvalueResolution(t *testing.T) {
	proto := compileSrc(t, `
		function outer() {
			var captured = 1;
			function middle() {
				function inner() { return captured; }
				return inner;
			}
			return middle()();
		}
	`)
	outer := proto.Protos[0]
	middle := outer.Protos[0]
	inner := middle.Protos[0]
	if outer.NumCells == 0 {
		t.Fatal("outer function allocated no cells for its captured local")
	}
	if len(middle.Upvals) != 1 || !middle.Upvals[0].FromParent {
		t.Errorf("middle upvals = %+v, want one parent-cell capture", middle.Upvals)
	}
	if len(inner.Upvals) != 1 || inner.Upvals[0].FromParent {
		t.Errorf("inner upvals = %+v, want one transitive capture", inner.Upvals)
	}
}

func TestSourceMap(t *testing.T) {
	proto := compileSrc(t, "var a = 1;\nvar b = 2;\nthrow b;")
	line, _ := proto.Position(len(proto.Code) - 1)
	if line == 0 {
		t.Fatal("no source map entry near the end of the module")
	}
	if line != 3 {
		t.Errorf("throw statement maps to line %d, want 3", line)
	}
}

func TestCompileErrors(t *testing.T) {
	sources := []string{
		"var 1;",
		"if (x;",
		"function f(,) {}",
		"x = ;",
		"for (var of y) {}",
		"a => => b",
		"({get: })",
		"switch (x) { y(); }",
		"x?.b = 1;",
		"[1, , 2];",
	}
	for _, src := range sources {
		heap := vm.NewHeap(0)
		if _, err := Compile(src, "bad.js", heap); err == nil {
			t.Errorf("Compile(%q) succeeded, want syntax error", src)
		}
	}
}

func TestPrescan(t *testing.T) {
	toks, err := Tokenize(`
		var a = 1, b = f(x, y), c;
		function decl() { var hidden; }
		var d = function expr() { var alsoHidden; };
		try {} catch (err) {}
		if (x) { var nested; }
	`)
	if err != nil {
		t.Fatal(err)
	}
	vars, hasFn := prescan(toks, 0, true)
	want := []string{"a", "b", "c", "decl", "d", "err", "nested"}
	if len(vars) != len(want) {
		t.Fatalf("prescan vars = %v, want %v", vars, want)
	}
	for i := range want {
		if vars[i] != want[i] {
			t.Errorf("vars[%d] = %q, want %q", i, vars[i], want[i])
		}
	}
	if !hasFn {
		t.Error("prescan missed the nested functions")
	}
}
