package microjs

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chazu/microjs/vm"
)

func evalOne(t *testing.T, source string) any {
	t.Helper()
	ctx := New(Options{})
	v, err := ctx.Eval(source)
	if err != nil {
		t.Fatalf("Eval(%q) failed: %v", source, err)
	}
	return v
}

func TestEvalBasics(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{"1 + 2", 3.0},
		{"10 - 4 * 2", 2.0},
		{"(10 - 4) * 2", 12.0},
		{"7 % 3", 1.0},
		{"2 ** 10", 1024.0},
		{"10 / 4", 2.5},
		{"'a' + 'b'", "ab"},
		{"'x' + 1", "x1"},
		{"1 + '2'", "12"},
		{"true && false", false},
		{"true || false", true},
		{"null ?? 'fallback'", "fallback"},
		{"0 ?? 'fallback'", 0.0},
		{"undefined ?? 1", 1.0},
		{"!0", true},
		{"~5", -6.0},
		{"-'3'", -3.0},
		{"+'3.5'", 3.5},
		{"void 42", nil},
		{"typeof 1", "number"},
		{"typeof 'a'", "string"},
		{"typeof true", "boolean"},
		{"typeof undefined", "undefined"},
		{"typeof null", "object"},
		{"typeof {}", "object"},
		{"typeof function(){}", "function"},
		{"typeof undeclaredName", "undefined"},
		{"1 < 2", true},
		{"2 <= 2", true},
		{"'a' < 'b'", true},
		{"1 == '1'", true},
		{"1 === '1'", false},
		{"null == undefined", true},
		{"null === undefined", false},
		{"NaN === NaN", false},
		{"+0 === -0", true},
		{"1 != 2", true},
		{"1 !== 1", false},
		{"5 & 3", 1.0},
		{"5 | 3", 7.0},
		{"5 ^ 3", 6.0},
		{"1 << 4", 16.0},
		{"-8 >> 1", -4.0},
		{"-8 >>> 28", 15.0},
		{"true ? 'y' : 'n'", "y"},
		{"1, 2, 3", 3.0},
		{"'length' in [1]", true},
		{"0 in [1]", true},
		{"[] instanceof Array", true},
		{"({}) instanceof Array", false},
	}
	for _, tt := range tests {
		got := evalOne(t, tt.src)
		if got != tt.want {
			t.Errorf("Eval(%q) = %#v, want %#v", tt.src, got, tt.want)
		}
	}
}

func TestVariablesAndControlFlow(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{"var x = 1; x + 1", 2.0},
		{"var x = 1, y = 2; x + y", 3.0},
		{"var x = 5; x += 2; x", 7.0},
		{"var x = 5; x -= 2; x *= 3; x", 9.0},
		{"var x = 1; x <<= 3; x", 8.0},
		{"var x = 0; ++x", 1.0},
		{"var x = 0; x++; x", 1.0},
		{"var x = 5; x++", 5.0},
		{"var x = 5; --x; x", 4.0},
		{"var s = ''; if (1 < 2) s = 'then'; else s = 'else'; s", "then"},
		{"var s = ''; if (1 > 2) s = 'then'; else s = 'else'; s", "else"},
		{"var n = 0; while (n < 10) n++; n", 10.0},
		{"var n = 0; do { n++; } while (n < 5); n", 5.0},
		{"var t = 0; for (var i = 0; i < 5; i++) t += i; t", 10.0},
		{"var t = 0; for (var i = 0; i < 10; i++) { if (i === 3) continue; if (i === 6) break; t += i; } t", 12.0},
		{"var t = 0; outer: for (var i = 0; i < 3; i++) { for (var j = 0; j < 3; j++) { if (j === 1) continue outer; t++; } } t", 3.0},
		{"var t = 0; outer: for (var i = 0; i < 3; i++) { for (var j = 0; j < 3; j++) { if (i === 1) break outer; t++; } } t", 3.0},
		{"var x = 2; var r; switch (x) { case 1: r = 'one'; break; case 2: r = 'two'; break; default: r = 'many'; } r", "two"},
		{"var x = 9; var r; switch (x) { case 1: r = 'one'; break; default: r = 'many'; } r", "many"},
		{"var r = ''; switch (1) { case 1: r += 'a'; case 2: r += 'b'; break; case 3: r += 'c'; } r", "ab"},
		{"var r = ''; switch (5) { case 1: r += 'a'; } r", ""},
		{"var r = ''; switch (9) { default: r += 'd'; case 1: r += 'a'; break; } r", "da"},
		{"var r = ''; switch (1) { default: r += 'd'; case 1: r += 'a'; break; } r", "a"},
	}
	for _, tt := range tests {
		got := evalOne(t, tt.src)
		if got != tt.want {
			t.Errorf("Eval(%q) = %#v, want %#v", tt.src, got, tt.want)
		}
	}
}

func TestFunctionsAndClosures(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{"function add(a, b) { return a + b; } add(2, 3)", 5.0},
		{"function mk(){var c=0; return function(){return ++c;}} var f=mk(); f(); f(); f();", 3.0},
		{"var f = function(x) { return x * 2; }; f(21)", 42.0},
		{"var f = function fact(n) { return n <= 1 ? 1 : n * fact(n - 1); }; f(5)", 120.0},
		{"var f = x => x + 1; f(41)", 42.0},
		{"var f = (a, b) => a * b; f(6, 7)", 42.0},
		{"var f = () => { return 'block'; }; f()", "block"},
		{"function outer() { var self = this; var get = () => this; return get() === self; } outer.call({})", true},
		{"function f() { return arguments.length; } f(1, 2, 3)", 3.0},
		{"function f(a) { return a; } f()", nil},
		{"function mk() { var fns = []; for (var i = 0; i < 3; i++) fns.push(function(){ return i; }); return fns; } mk()[0]()", 3.0},
		{"function counter() { var n = 0; return { inc: function(){ return ++n; }, get: function(){ return n; } }; } var c = counter(); c.inc(); c.inc(); c.get()", 2.0},
		{"function f(a, b) { return a + b; } f.call(null, 1, 2)", 3.0},
		{"function f(a, b) { return a + b; } f.apply(null, [3, 4])", 7.0},
		{"function f(a, b) { return a + b; } var g = f.bind(null, 10); g(5)", 15.0},
		{"function Point(x, y) { this.x = x; this.y = y; } var p = new Point(3, 4); p.x + p.y", 7.0},
		{"function T() {} T.prototype.greet = function() { return 'hi'; }; new T().greet()", "hi"},
		{"function T() { return { override: true }; } new T().override", true},
		{"var o = { n: 41, next: function() { return this.n + 1; } }; o.next()", 42.0},
	}
	for _, tt := range tests {
		got := evalOne(t, tt.src)
		if got != tt.want {
			t.Errorf("Eval(%q) = %#v, want %#v", tt.src, got, tt.want)
		}
	}
}

// Two closures returned from the same call share their cell; closures from
// distinct calls do not.
func TestClosureCellIdentity(t *testing.T) {
	src := `
		function makeCounter() {
			var n = 0;
			return {
				inc: function() { return ++n; },
				read: function() { return n; }
			};
		}
		var a = makeCounter();
		var b = makeCounter();
		a.inc(); a.inc(); a.inc();
		b.inc();
		[a.read(), b.read()]
	`
	got := evalOne(t, src).([]any)
	if got[0] != 3.0 || got[1] != 1.0 {
		t.Errorf("counter cells = %v, want [3 1]", got)
	}
}

func TestObjectsAndArrays(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{"var o = {a: 1, b: 2}; o.a + o.b", 3.0},
		{"var o = {}; o.x = 10; o['y'] = 20; o.x + o.y", 30.0},
		{"var o = {a: {b: {c: 42}}}; o.a.b.c", 42.0},
		{"var o = {a: 1}; delete o.a; o.a", nil},
		{"var o = {a: 1}; 'a' in o", true},
		{"var o = {a: 1}; delete o.a; 'a' in o", false},
		{"({abc: 7})['ab' + 'c']", 7.0},
		{"var a = [1, 2, 3]; a.length", 3.0},
		{"var a = [1, 2, 3]; a[1] = 9; a[0] + a[1]", 10.0},
		{"var a = []; a[0] = 'x'; a.length", 1.0},
		{"var a = [1, 2, 3]; a.length = 1; a.length", 1.0},
		{"[[1, 2], [3, 4]][1][0]", 3.0},
		{"var o = {}; o.f = function() { return this === o; }; o.f()", true},
		{"var key = 'k'; var o = {[key]: 5}; o.k", 5.0},
		{"var o = {get x() { return 42; }}; o.x", 42.0},
		{"var o = {v: 0, set x(n) { this.v = n; }}; o.x = 7; o.v", 7.0},
		{"var o = {m() { return 3; }}; o.m()", 3.0},
		{"var n = 1; var o = {n}; o.n", 1.0},
		{"var proto = {kind: 'base'}; var o = {__proto__: proto}; o.kind", "base"},
		{"Object.keys({b: 1, a: 2}).join(',')", "b,a"},
		{"Object.values({a: 1, b: 2}).join(',')", "1,2"},
		{"Object.entries({a: 1})[0].join(':')", "a:1"},
		{"var t = {}; Object.assign(t, {x: 1}, {y: 2}); t.x + t.y", 3.0},
		{"var o = Object.create(null); Object.getPrototypeOf(o) === null", true},
		{"({a: 1}).hasOwnProperty('a')", true},
		{"({a: 1}).hasOwnProperty('toString')", false},
		{"Array.isArray([])", true},
		{"Array.isArray({})", false},
		{"new Array(3).length", 3.0},
	}
	for _, tt := range tests {
		got := evalOne(t, tt.src)
		if got != tt.want {
			t.Errorf("Eval(%q) = %#v, want %#v", tt.src, got, tt.want)
		}
	}
}

func TestFrozenObjects(t *testing.T) {
	ctx := New(Options{})
	_, err := ctx.Eval("var o = Object.freeze({a: 1}); o.a = 2;")
	var re *vm.RuntimeError
	if !errors.As(err, &re) {
		t.Fatalf("write to frozen object: got %v, want RuntimeError", err)
	}
	if !strings.Contains(re.Message, "frozen") {
		t.Errorf("message = %q, want mention of frozen", re.Message)
	}
}

func TestArrayMethods(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{"[1,2,3,4].filter(function(x){return x%2===0;}).reduce(function(a,b){return a+b;},0)", 6.0},
		{"[1, 2, 3].map(function(x) { return x * 2; }).join(',')", "2,4,6"},
		{"[1, 2, 3].indexOf(2)", 1.0},
		{"[1, 2, 3].indexOf(9)", -1.0},
		{"[1, 2, 1].lastIndexOf(1)", 2.0},
		{"[1, 2, 3].includes(3)", true},
		{"[NaN].includes(NaN)", true},
		{"[NaN].indexOf(NaN)", -1.0},
		{"[3, 1, 2].sort().join(',')", "1,2,3"},
		{"[3, 1, 10].sort().join(',')", "1,10,3"},
		{"[3, 1, 10].sort(function(a, b) { return a - b; }).join(',')", "1,3,10"},
		{"[1, 2, 3].reverse().join(',')", "3,2,1"},
		{"[1, 2, 3, 4].slice(1, 3).join(',')", "2,3"},
		{"[1, 2, 3].slice(-2).join(',')", "2,3"},
		{"[1, 2].concat([3, 4], 5).join(',')", "1,2,3,4,5"},
		{"var a = [1, 2]; a.push(3, 4); a.join(',')", "1,2,3,4"},
		{"var a = [1, 2]; [a.pop(), a.length].join(',')", "2,1"},
		{"var a = [1, 2]; [a.shift(), a.join('')].join(',')", "1,2"},
		{"var a = [2, 3]; a.unshift(0, 1); a.join(',')", "0,1,2,3"},
		{"var a = [1, 2, 3, 4]; a.splice(1, 2).join(',') + '|' + a.join(',')", "2,3|1,4"},
		{"var a = [1, 4]; a.splice(1, 0, 2, 3); a.join(',')", "1,2,3,4"},
		{"[1, 2, 3].find(function(x) { return x > 1; })", 2.0},
		{"[1, 2, 3].findIndex(function(x) { return x > 1; })", 1.0},
		{"[1, 2, 3].some(function(x) { return x > 2; })", true},
		{"[1, 2, 3].every(function(x) { return x > 0; })", true},
		{"[1, 2, 3].every(function(x) { return x > 1; })", false},
		{"[[1, 2], [3, [4]]].flat().length", 4.0},
		{"[[1, [2]]].flat(2).join(',')", "1,2"},
		{"[1, 2, 3].reduceRight(function(a, b) { return a + '' + b; }, '')", "321"},
		{"var s = 0; [10, 20].forEach(function(x, i) { s += x * i; }); s", 20.0},
		{"[0, 0].fill(9).join(',')", "9,9"},
		{"[1, 2, 3].at(-1)", 3.0},
		{"['a','b'].toString()", "a,b"},
	}
	for _, tt := range tests {
		got := evalOne(t, tt.src)
		if got != tt.want {
			t.Errorf("Eval(%q) = %#v, want %#v", tt.src, got, tt.want)
		}
	}
}

func TestStringMethods(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{"'hello'.length", 5.0},
		{"'hello'[1]", "e"},
		{"'hello'.charAt(0)", "h"},
		{"'hello'.charCodeAt(0)", 104.0},
		{"'hello'.indexOf('ll')", 2.0},
		{"'hello'.lastIndexOf('l')", 3.0},
		{"'hello'.includes('ell')", true},
		{"'hello'.startsWith('he')", true},
		{"'hello'.endsWith('lo')", true},
		{"'hello'.substring(1, 3)", "el"},
		{"'hello'.substring(3, 1)", "el"},
		{"'hello'.slice(1, 3)", "el"},
		{"'hello'.slice(-3)", "llo"},
		{"'HeLLo'.toLowerCase()", "hello"},
		{"'hello'.toUpperCase()", "HELLO"},
		{"'  hi  '.trim()", "hi"},
		{"'  hi  '.trimStart()", "hi  "},
		{"'  hi  '.trimEnd()", "  hi"},
		{"'ab'.concat('cd', 'ef')", "abcdef"},
		{"'ab'.repeat(3)", "ababab"},
		{"'5'.padStart(3, '0')", "005"},
		{"'5'.padEnd(3, '*')", "5**"},
		{"'a,b,c'.split(',').length", 3.0},
		{"'abc'.split('').join('-')", "a-b-c"},
		{"'a,b,c'.split(',', 2).join('|')", "a|b"},
		{"'hello world'.replace('world', 'there')", "hello there"},
		{"'aaa'.replace('a', 'b')", "baa"},
		{"'hi'.at(-1)", "i"},
		{"String.fromCharCode(104, 105)", "hi"},
		{"String(42)", "42"},
		{"(255).toString(16)", "ff"},
		{"(3.5).toFixed(2)", "3.50"},
		{"'abc'.codePointAt(0)", 97.0},
	}
	for _, tt := range tests {
		got := evalOne(t, tt.src)
		if got != tt.want {
			t.Errorf("Eval(%q) = %#v, want %#v", tt.src, got, tt.want)
		}
	}
}

func TestNumberConversions(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{"parseInt('42')", 42.0},
		{"parseInt('42abc')", 42.0},
		{"parseInt('0x1f')", 31.0},
		{"parseInt('ff', 16)", 255.0},
		{"parseInt('-10')", -10.0},
		{"parseFloat('3.25rest')", 3.25},
		{"parseFloat('1e3')", 1000.0},
		{"Number('12.5')", 12.5},
		{"Number('')", 0.0},
		{"Number.isNaN(NaN)", true},
		{"Number.isNaN('x')", false},
		{"Number.isInteger(4)", true},
		{"Number.isInteger(4.5)", false},
		{"Number.isFinite(Infinity)", false},
		{"Math.max(1, 9, 3)", 9.0},
		{"Math.min(4, 2, 8)", 2.0},
		{"Math.floor(2.9)", 2.0},
		{"Math.ceil(2.1)", 3.0},
		{"Math.round(2.5)", 3.0},
		{"Math.round(-2.5)", -2.0},
		{"Math.abs(-7)", 7.0},
		{"Math.pow(2, 8)", 256.0},
		{"Math.sqrt(81)", 9.0},
		{"Math.trunc(-2.7)", -2.0},
		{"Math.sign(-3)", -1.0},
		{"(1 / 0) === Infinity", true},
		{"(-1 / 0) === -Infinity", true},
		{"String(1 / 0)", "Infinity"},
		{"String(0 / 0)", "NaN"},
		{"String(1e21)", "1e+21"},
		{"String(0.000001)", "0.000001"},
		{"String(1e-7)", "1e-7"},
		{"String(-0)", "0"},
	}
	for _, tt := range tests {
		got := evalOne(t, tt.src)
		if got != tt.want {
			t.Errorf("Eval(%q) = %#v, want %#v", tt.src, got, tt.want)
		}
	}
}

func TestForInOrder(t *testing.T) {
	src := `
		var o = {};
		o.z = 1; o.a = 2; o.m = 3;
		var keys = [];
		for (var k in o) keys.push(k);
		keys.join(',')
	`
	if got := evalOne(t, src); got != "z,a,m" {
		t.Errorf("for-in order = %v, want z,a,m", got)
	}
}

func TestForInShadowing(t *testing.T) {
	src := `
		var proto = {a: 1, b: 2};
		var o = {__proto__: proto, b: 3, c: 4};
		var keys = [];
		for (var k in o) keys.push(k);
		keys.join(',')
	`
	if got := evalOne(t, src); got != "b,c,a" {
		t.Errorf("for-in with shadowing = %v, want b,c,a", got)
	}
}

func TestForOf(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{"var t = 0; for (var x of [1, 2, 3]) t += x; t", 6.0},
		{"var s = ''; for (var c of 'abc') s = c + s; s", "cba"},
		{"var t = ''; for (var x of [1, 2]) { for (var y of ['a', 'b']) t += x + y; } t", "1a1b2a2b"},
		{"var t = 0; for (var x of [1, 2, 3, 4]) { if (x === 3) break; t += x; } t", 3.0},
		{"var t = 0; for (var x of [1, 2, 3]) { if (x === 2) continue; t += x; } t", 4.0},
	}
	for _, tt := range tests {
		got := evalOne(t, tt.src)
		if got != tt.want {
			t.Errorf("Eval(%q) = %#v, want %#v", tt.src, got, tt.want)
		}
	}
}

func TestTryCatchFinally(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		// The four paths: normal, thrown-and-caught, return inside try,
		// break inside try. finally must run exactly once for each.
		{"var s=''; try{s+='t'; throw 'c';}catch(e){s+=e;}finally{s+='f';} s;", "tcf"},
		{"var s=''; try{s+='t';}catch(e){s+='c';}finally{s+='f';} s;", "tf"},
		{"var s=''; try{s+='a';}finally{s+='b';} s;", "ab"},
		{"var s=''; function f(){ try { return 'r'; } finally { s += 'f'; } } f() + s", "rf"},
		{"var s=''; for (var i=0;i<2;i++){ try { if (i===1) break; s+='t'; } finally { s+='f'; } } s", "tff"},
		{"var s=''; try { try { throw 'x'; } finally { s+='inner'; } } catch(e) { s+='|'+e; } s", "inner|x"},
		{"var s=''; try { throw 'a'; } catch(e) { try { throw 'b'; } catch(e2) { s=e+e2; } } s", "ab"},
		{"function f(){ try { throw 'x'; } catch(e) { return 'caught:' + e; } } f()", "caught:x"},
		{"function f(){ try { return 1; } finally { return 2; } } f()", 2.0},
		{"var r; try { r = 'no throw'; } catch (e) { r = 'caught'; } r", "no throw"},
		{"try { null.x; } catch (e) { e instanceof TypeError }", true},
		{"try { undeclared123; } catch (e) { e instanceof ReferenceError }", true},
		{"try { throw new RangeError('r'); } catch (e) { e.message }", "r"},
		{"try { throw {code: 7}; } catch (e) { e.code }", 7.0},
		{"var e = new Error('msg'); e.toString()", "Error: msg"},
		{"new TypeError('t').name", "TypeError"},
	}
	for _, tt := range tests {
		got := evalOne(t, tt.src)
		if got != tt.want {
			t.Errorf("Eval(%q) = %#v, want %#v", tt.src, got, tt.want)
		}
	}
}

func TestUncaughtErrorLocation(t *testing.T) {
	ctx := New(Options{})
	_, err := ctx.Eval("var a = 1;\nvar b = 2;\nthrow new Error('boom');")
	var re *vm.RuntimeError
	if !errors.As(err, &re) {
		t.Fatalf("got %v, want RuntimeError", err)
	}
	if !strings.Contains(re.Message, "boom") {
		t.Errorf("message %q does not mention boom", re.Message)
	}
	if re.Line != 3 {
		t.Errorf("line = %d, want 3", re.Line)
	}
}

func TestSyntaxErrors(t *testing.T) {
	sources := []string{
		"var",
		"1 +",
		"function (",
		"'unterminated",
		"/* unterminated",
		"/unterminated",
		"var x = [1, , 2];",
		"delete x;",
		"break;",
		"continue;",
		"return 1;",
		"012",
		"({a: 1,)",
		"a b c",
		"try { }",
	}
	for _, src := range sources {
		ctx := New(Options{})
		_, err := ctx.Eval(src)
		var se *vm.SyntaxError
		if !errors.As(err, &se) {
			t.Errorf("Eval(%q): got %v, want SyntaxError", src, err)
			continue
		}
		if se.Line <= 0 || se.Column <= 0 {
			t.Errorf("Eval(%q): error carries no position: %v", src, se)
		}
	}
}

func TestJSONRoundTrip(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{"JSON.stringify({a:1,b:[2,3]})", `{"a":1,"b":[2,3]}`},
		{"JSON.stringify([1, 'two', true, null])", `[1,"two",true,null]`},
		{"JSON.stringify('he\"llo')", `"he\"llo"`},
		{"JSON.stringify({f: function(){}, x: 1})", `{"x":1}`},
		{"JSON.stringify(undefined)", nil},
		{"JSON.stringify({u: undefined})", `{}`},
		{"JSON.parse('{\"a\": [1, 2.5, null, true, \"s\"]}').a[1]", 2.5},
		{"JSON.parse('\"\\u0041\"')", "A"},
		{"JSON.parse('-12e2')", -1200.0},
		{"JSON.stringify(JSON.parse('{\"z\":1,\"a\":{\"n\":[]}}'))", `{"z":1,"a":{"n":[]}}`},
		{"JSON.stringify({a:1}, null, 2)", "{\n  \"a\": 1\n}"},
	}
	for _, tt := range tests {
		got := evalOne(t, tt.src)
		if got != tt.want {
			t.Errorf("Eval(%q) = %#v, want %#v", tt.src, got, tt.want)
		}
	}

	// Structural round-trip over a composite value.
	src := `
		var v = {nums: [1, 2.5, -3], s: 'txt', flag: false, inner: {empty: []}, nil: null};
		JSON.stringify(JSON.parse(JSON.stringify(v))) === JSON.stringify(v)
	`
	if got := evalOne(t, src); got != true {
		t.Error("JSON round-trip is not structurally stable")
	}

	ctx := New(Options{})
	if _, err := ctx.Eval("var a = []; a.push(a); JSON.stringify(a)"); err == nil {
		t.Error("stringify of a circular structure did not fail")
	}
}

func TestRegexEndToEnd(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{"/(\\w+)@(\\w+)/.exec('user@host')[0]", "user@host"},
		{"/(\\w+)@(\\w+)/.exec('user@host')[1]", "user"},
		{"/(\\w+)@(\\w+)/.exec('user@host')[2]", "host"},
		{"/(\\w+)@(\\w+)/.exec('user@host').index", 0.0},
		{"/(\\w+)@(\\w+)/.exec('user@host').input", "user@host"},
		{"/x/.exec('abc')", nil},
		{"/ab+c/.test('abbbc')", true},
		{"/^abc$/.test('abc')", true},
		{"/^b/m.test('a\\nb')", true},
		{"/A/i.test('a')", true},
		{"/a.c/.test('axc')", true},
		{"/a.c/.test('a\\nc')", false},
		{"/a.c/s.test('a\\nc')", true},
		{"/(?<user>\\w+)@/.exec('bob@x').groups.user", "bob"},
		{"/(a)(b)?/.exec('a')[2]", nil},
		{"/\\d{2,3}/.exec('x1234')[0]", "123"},
		{"var r = /a/g; r.exec('aa'); r.lastIndex", 1.0},
		{"var r = /a/g; r.exec('aa'); r.exec('aa'); r.lastIndex", 2.0},
		{"var r = /a/y; r.lastIndex = 1; r.test('ba')", true},
		{"var r = /a/y; r.test('ba')", false},
		{"/b/.source", "b"},
		{"/b/gi.flags", "gi"},
		{"/b/g.global && !/b/g.sticky", true},
		{"'a1b2'.replace(/\\d/g, '#')", "a#b#"},
		{"'a1b2'.replace(/\\d/, '#')", "a#b2"},
		{"'john smith'.replace(/(\\w+) (\\w+)/, '$2 $1')", "smith john"},
		{"'abc'.replace(/b/, function(m) { return m.toUpperCase(); })", "aBc"},
		{"'a,b;c'.split(/[,;]/).join('|')", "a|b|c"},
		{"'x1y22z'.match(/\\d+/g).join(',')", "1,22"},
		{"'xyz'.match(/\\d/)", nil},
		{"'abc'.search(/b/)", 1.0},
		{"'abc'.search(/q/)", -1.0},
		{"new RegExp('a+').test('caat')", true},
		{"new RegExp('(\\\\d+)', 'g').exec('n42')[1]", "42"},
		{"/(a|b)+c/.exec('abac')[0]", "abac"},
		{"/\\bword\\b/.test('a word here')", true},
		{"/\\bword\\b/.test('wordy')", false},
		{"/(.)\\1/.exec('abba')[0]", "bb"},
		{"/(?=ab)a/.exec('ab')[0]", "a"},
		{"/a(?!b)/.test('ac')", true},
		{"/a(?!b)/.test('ab')", false},
		{"/(?<=a)b/.exec('ab')[0]", "b"},
	}
	for _, tt := range tests {
		got := evalOne(t, tt.src)
		if got != tt.want {
			t.Errorf("Eval(%q) = %#v, want %#v", tt.src, got, tt.want)
		}
	}
}

func TestRegexInvalidPattern(t *testing.T) {
	ctx := New(Options{})
	for _, src := range []string{"new RegExp('(')", "new RegExp('a', 'gg')", "new RegExp('a', 'q')"} {
		_, err := ctx.Eval(src)
		var re *vm.RuntimeError
		if !errors.As(err, &re) {
			t.Errorf("Eval(%q): got %v, want thrown SyntaxError", src, err)
		}
	}
}

// The catastrophic pattern must be stopped by the time budget rather than
// hanging.
func TestRegexCatastrophicTimeout(t *testing.T) {
	ctx := New(Options{TimeLimit: 500 * time.Millisecond})
	start := time.Now()
	_, err := ctx.Eval("new RegExp('(a+)+b').test('aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa' + 'c')")
	elapsed := time.Since(start)
	var abort *vm.RegexAbortError
	if !errors.As(err, &abort) {
		t.Fatalf("got %v, want RegexAbortError", err)
	}
	if elapsed > 3*time.Second {
		t.Errorf("timeout took %s, want about 0.5s", elapsed)
	}
}

// Zero-advance quantifiers terminate in linear time.
func TestRegexZeroAdvance(t *testing.T) {
	ctx := New(Options{TimeLimit: 2 * time.Second})
	v, err := ctx.Eval("/(a?)*$/.test('" + strings.Repeat("a", 2000) + "')")
	if err != nil {
		t.Fatalf("zero-advance pattern failed: %v", err)
	}
	if v != true {
		t.Errorf("got %v, want true", v)
	}
}

func TestTimeLimit(t *testing.T) {
	ctx := New(Options{TimeLimit: 100 * time.Millisecond})
	start := time.Now()
	_, err := ctx.Eval("while (true) {}")
	var tl *vm.TimeLimitError
	if !errors.As(err, &tl) {
		t.Fatalf("got %v, want TimeLimitError", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("time limit enforcement took far too long")
	}
}

// The time-limit error must not be catchable by user code.
func TestTimeLimitUncatchable(t *testing.T) {
	ctx := New(Options{TimeLimit: 100 * time.Millisecond})
	_, err := ctx.Eval("try { while (true) {} } catch (e) { 'caught' }")
	var tl *vm.TimeLimitError
	if !errors.As(err, &tl) {
		t.Fatalf("got %v, want uncatchable TimeLimitError", err)
	}
}

func TestPollCallbackAborts(t *testing.T) {
	calls := 0
	ctx := New(Options{Poll: func() bool {
		calls++
		return calls > 3
	}})
	_, err := ctx.Eval("while (true) {}")
	var tl *vm.TimeLimitError
	if !errors.As(err, &tl) {
		t.Fatalf("got %v, want TimeLimitError from poll", err)
	}
	if calls < 4 {
		t.Errorf("poll called %d times, want at least 4", calls)
	}
}

func TestMemoryLimit(t *testing.T) {
	ctx := New(Options{MemoryLimit: 256 << 10})
	_, err := ctx.Eval("var a = []; while (true) { a.push('xxxxxxxxxxxxxxxx'); }")
	var ml *vm.MemoryLimitError
	if !errors.As(err, &ml) {
		t.Fatalf("got %v, want MemoryLimitError", err)
	}

	// Not catchable either.
	ctx = New(Options{MemoryLimit: 256 << 10})
	_, err = ctx.Eval("try { var a = []; while (true) { a.push('xxxxxxxxxxxxxxxx'); } } catch (e) {}")
	if !errors.As(err, &ml) {
		t.Fatalf("got %v, want uncatchable MemoryLimitError", err)
	}
}

func TestCallStackOverflowIsCatchable(t *testing.T) {
	v := evalOne(t, "function f() { return f(); } var r; try { f(); r = 'no'; } catch (e) { r = e instanceof RangeError; } r")
	if v != true {
		t.Errorf("got %v, want RangeError caught", v)
	}
}

// Parser totality: 1000 levels of each self-similar form.
func TestDeepNesting(t *testing.T) {
	const n = 1000

	parens := strings.Repeat("(", n) + "1" + strings.Repeat(")", n)
	if got := evalOne(t, parens); got != 1.0 {
		t.Errorf("deep parens = %v, want 1", got)
	}

	arrays := strings.Repeat("[", n) + "1" + strings.Repeat("]", n)
	v := evalOne(t, "var a = "+arrays+"; var i = 0; while (a.length !== undefined && typeof a !== 'number') { a = a[0]; i++; } a")
	if v != 1.0 {
		t.Errorf("deep arrays innermost = %v, want 1", v)
	}

	blocks := strings.Repeat("{", n) + "1;" + strings.Repeat("}", n)
	if got := evalOne(t, blocks); got != 1.0 {
		t.Errorf("deep blocks = %v, want 1", got)
	}

	chain := "var a = []; a.push(a); a" + strings.Repeat("[0]", n) + " === a"
	if got := evalOne(t, chain); got != true {
		t.Errorf("deep member chain = %v, want true", got)
	}
}

func TestHostInterop(t *testing.T) {
	ctx := New(Options{})
	if err := ctx.Set("answer", 42); err != nil {
		t.Fatal(err)
	}
	if err := ctx.Set("greet", Func(func(args []any) (any, error) {
		return "hi " + args[0].(string), nil
	})); err != nil {
		t.Fatal(err)
	}
	v, err := ctx.Eval("greet('bob') + ' ' + answer")
	if err != nil {
		t.Fatal(err)
	}
	if v != "hi bob 42" {
		t.Errorf("got %v", v)
	}

	if _, err := ctx.Eval("var state = {count: 9}"); err != nil {
		t.Fatal(err)
	}
	got := ctx.Get("state")
	m, ok := got.(map[string]any)
	if !ok || m["count"] != 9.0 {
		t.Errorf("Get(state) = %#v", got)
	}
}

// Globals persist across evaluations in one context.
func TestEvalStatePersists(t *testing.T) {
	ctx := New(Options{})
	if _, err := ctx.Eval("var total = 1;"); err != nil {
		t.Fatal(err)
	}
	if _, err := ctx.Eval("total += 10;"); err != nil {
		t.Fatal(err)
	}
	v, err := ctx.Eval("total")
	if err != nil {
		t.Fatal(err)
	}
	if v != 11.0 {
		t.Errorf("total = %v, want 11", v)
	}
}

func TestContextIsolation(t *testing.T) {
	a := New(Options{})
	b := New(Options{})
	if _, err := a.Eval("var secret = 1;"); err != nil {
		t.Fatal(err)
	}
	_, err := b.Eval("secret")
	var re *vm.RuntimeError
	if !errors.As(err, &re) {
		t.Fatalf("context b sees context a's globals: %v", err)
	}
	if a.ID() == b.ID() {
		t.Error("contexts share an ID")
	}
}

func BenchmarkFib(b *testing.B) {
	ctx := New(Options{})
	src := "function fib(n) { return n < 2 ? n : fib(n-1) + fib(n-2); } fib(15)"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ctx.Eval(src); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkLoop(b *testing.B) {
	ctx := New(Options{})
	src := "var t = 0; for (var i = 0; i < 10000; i++) t += i; t"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ctx.Eval(src); err != nil {
			b.Fatal(err)
		}
	}
}
