package regex

import (
	"strings"
	"testing"
)

func mustCompile(t *testing.T, pattern, flags string) *Program {
	t.Helper()
	p, err := Compile(pattern, flags)
	if err != nil {
		t.Fatalf("Compile(%q, %q) failed: %v", pattern, flags, err)
	}
	return p
}

func exec(t *testing.T, pattern, flags, input string) *Match {
	t.Helper()
	p := mustCompile(t, pattern, flags)
	m, err := p.Exec(Units(input), 0, ExecOptions{})
	if err != nil {
		t.Fatalf("Exec(%q on %q) failed: %v", pattern, input, err)
	}
	return m
}

func TestBasicMatching(t *testing.T) {
	tests := []struct {
		pattern string
		flags   string
		input   string
		match   bool
		whole   string
	}{
		{"abc", "", "xxabcxx", true, "abc"},
		{"abc", "", "ab", false, ""},
		{"a.c", "", "abc", true, "abc"},
		{"a.c", "", "a\nc", false, ""},
		{"a.c", "s", "a\nc", true, "a\nc"},
		{"^abc", "", "abc", true, "abc"},
		{"^abc", "", "xabc", false, ""},
		{"abc$", "", "xabc", true, "abc"},
		{"^b", "m", "a\nb", true, "b"},
		{"a$", "m", "a\nb", true, "a"},
		{"a+", "", "caaat", true, "aaa"},
		{"a*", "", "bbb", true, ""},
		{"ab?c", "", "ac", true, "ac"},
		{"ab?c", "", "abc", true, "abc"},
		{"a{2,3}", "", "aaaa", true, "aaa"},
		{"a{2}", "", "a", false, ""},
		{"a{2,}", "", "aaaaa", true, "aaaaa"},
		{"colou?r", "", "color", true, "color"},
		{"cat|dog", "", "hotdog", true, "dog"},
		{"[abc]+", "", "zzcabz", true, "cab"},
		{"[^abc]+", "", "abXYab", true, "XY"},
		{"[a-f]+", "", "xdeadx", true, "dead"},
		{"[0-9a-f]+", "i", "0xFF", true, "0"},
		{"\\d+", "", "ab123", true, "123"},
		{"\\D+", "", "12ab3", true, "ab"},
		{"\\w+", "", "!foo_9!", true, "foo_9"},
		{"\\s+", "", "a \t b", true, " \t "},
		{"\\bcat\\b", "", "a cat sat", true, "cat"},
		{"\\bcat\\b", "", "scatter", false, ""},
		{"\\Bcat", "", "scatter", true, "cat"},
		{"AB", "i", "xaby", true, "ab"},
		{"[A-Z]+", "i", "lower", true, "lower"},
		{"a\\.b", "", "a.b", true, "a.b"},
		{"a\\.b", "", "axb", false, ""},
		{"\\x41", "", "A", true, "A"},
		{"\\u0041", "", "A", true, "A"},
		{"\\n", "", "a\nb", true, "\n"},
	}
	for _, tt := range tests {
		m := exec(t, tt.pattern, tt.flags, tt.input)
		if (m != nil) != tt.match {
			t.Errorf("/%s/%s on %q: matched=%v, want %v", tt.pattern, tt.flags, tt.input, m != nil, tt.match)
			continue
		}
		if m != nil {
			whole, _ := m.Group(0)
			if whole != tt.whole {
				t.Errorf("/%s/%s on %q: match %q, want %q", tt.pattern, tt.flags, tt.input, whole, tt.whole)
			}
		}
	}
}

func TestCaptures(t *testing.T) {
	m := exec(t, `(\w+)@(\w+)`, "", "mail: user@host!")
	if m == nil {
		t.Fatal("no match")
	}
	if m.Index != 6 {
		t.Errorf("index = %d, want 6", m.Index)
	}
	for i, want := range []string{"user@host", "user", "host"} {
		got, ok := m.Group(i)
		if !ok || got != want {
			t.Errorf("group %d = %q (%v), want %q", i, got, ok, want)
		}
	}

	// Unmatched optional group.
	m = exec(t, "(a)(b)?", "", "a")
	if m == nil {
		t.Fatal("no match")
	}
	if _, ok := m.Group(2); ok {
		t.Error("group 2 should be unmatched")
	}

	// Captures reset between quantifier iterations.
	m = exec(t, "(?:(a)|(b))+", "", "ab")
	if m == nil {
		t.Fatal("no match")
	}
	if _, ok := m.Group(1); ok {
		t.Error("group 1 should be reset by the final iteration")
	}
	if g2, ok := m.Group(2); !ok || g2 != "b" {
		t.Errorf("group 2 = %q, want b", g2)
	}
}

func TestNamedGroups(t *testing.T) {
	p := mustCompile(t, `(?<year>\d{4})-(?<month>\d{2})`, "")
	if p.GroupNames["year"] != 1 || p.GroupNames["month"] != 2 {
		t.Fatalf("group names = %v", p.GroupNames)
	}
	m, err := p.Exec(Units("on 2024-06!"), 0, ExecOptions{})
	if err != nil || m == nil {
		t.Fatalf("exec: %v %v", m, err)
	}
	if y, _ := m.Group(1); y != "2024" {
		t.Errorf("year = %q", y)
	}
}

func TestBackrefs(t *testing.T) {
	tests := []struct {
		pattern, input, whole string
	}{
		{`(.)\1`, "abba", "bb"},
		{`(\w+) \1`, "go go gadget", "go go"},
		{`(a)(b)\2\1`, "xabba", "abba"},
	}
	for _, tt := range tests {
		m := exec(t, tt.pattern, "", tt.input)
		if m == nil {
			t.Errorf("/%s/ on %q: no match", tt.pattern, tt.input)
			continue
		}
		if whole, _ := m.Group(0); whole != tt.whole {
			t.Errorf("/%s/ on %q = %q, want %q", tt.pattern, tt.input, whole, tt.whole)
		}
	}
}

func TestLookaround(t *testing.T) {
	tests := []struct {
		pattern, input string
		match          bool
		whole          string
	}{
		{`a(?=b)`, "ab", true, "a"},
		{`a(?=b)`, "ac", false, ""},
		{`a(?!b)`, "ac", true, "a"},
		{`a(?!b)`, "ab", false, ""},
		{`(?<=a)b`, "ab", true, "b"},
		{`(?<=a)b`, "cb", false, ""},
		{`(?<!a)b`, "cb", true, "b"},
		{`(?<!a)b`, "ab", false, ""},
		{`\d+(?= dollars)`, "50 dollars", true, "50"},
	}
	for _, tt := range tests {
		m := exec(t, tt.pattern, "", tt.input)
		if (m != nil) != tt.match {
			t.Errorf("/%s/ on %q: matched=%v, want %v", tt.pattern, tt.input, m != nil, tt.match)
			continue
		}
		if m != nil {
			if whole, _ := m.Group(0); whole != tt.whole {
				t.Errorf("/%s/ on %q = %q, want %q", tt.pattern, tt.input, whole, tt.whole)
			}
		}
	}
}

// A lookahead capture inside an optional group that "did not contribute":
// a strict reading of the standard resets the inner capture. This engine
// keeps it, matching the documented divergence.
func TestOptionalLookaheadCaptureDivergence(t *testing.T) {
	t.Skip("documented divergence: capture in skipped optional group is not reset")
}

func TestStickyAndStart(t *testing.T) {
	p := mustCompile(t, "b", "y")
	if m, _ := p.Exec(Units("abc"), 0, ExecOptions{}); m != nil {
		t.Error("sticky match at wrong offset should fail")
	}
	if m, _ := p.Exec(Units("abc"), 1, ExecOptions{}); m == nil {
		t.Error("sticky match at the right offset failed")
	}
}

func TestCompileErrors(t *testing.T) {
	bad := []struct{ pattern, flags string }{
		{"(", ""},
		{"a)", ""},
		{"[abc", ""},
		{"a{3,1}", ""},
		{"*a", ""},
		{"a", "gg"},
		{"a", "z"},
		{"(?<dup>a)(?<dup>b)", ""},
		{`\k<missing>`, ""},
		{"a{70000}", ""},
	}
	for _, tt := range bad {
		if _, err := Compile(tt.pattern, tt.flags); err == nil {
			t.Errorf("Compile(%q, %q) succeeded, want error", tt.pattern, tt.flags)
		}
	}
}

// Zero-advance detection terminates quantifiers whose body matches empty.
func TestZeroAdvanceTermination(t *testing.T) {
	input := strings.Repeat("a", 5000)
	for _, pattern := range []string{`(a?)*$`, `(?:)*a*$`, `(a*)*`} {
		steps := 0
		p := mustCompile(t, pattern, "")
		m, err := p.Exec(Units(input), 0, ExecOptions{
			Poll:         func() bool { steps++; return steps > 100000 },
			PollInterval: 10,
		})
		if err != nil {
			t.Errorf("/%s/: did not terminate on its own: %v", pattern, err)
			continue
		}
		if m == nil {
			t.Errorf("/%s/: expected a match", pattern)
		}
	}
}

func TestBacktrackStackLimit(t *testing.T) {
	p := mustCompile(t, "(a+)+$", "")
	_, err := p.Exec(Units(strings.Repeat("a", 5000)+"b"), 0, ExecOptions{StackLimit: 500})
	if _, ok := err.(*StackOverflowError); !ok {
		t.Fatalf("got %v, want StackOverflowError", err)
	}
}

func TestPollAborts(t *testing.T) {
	calls := 0
	p := mustCompile(t, "(a+)+b", "")
	_, err := p.Exec(Units(strings.Repeat("a", 40)+"c"), 0, ExecOptions{
		Poll: func() bool { calls++; return calls > 50 },
	})
	if _, ok := err.(*TimeoutError); !ok {
		t.Fatalf("got %v, want TimeoutError", err)
	}
}

func TestFlagParsing(t *testing.T) {
	f, err := ParseFlags("gimsuy")
	if err != nil {
		t.Fatal(err)
	}
	for _, bit := range []Flags{FlagGlobal, FlagIgnoreCase, FlagMultiline, FlagDotAll, FlagUnicode, FlagSticky} {
		if f&bit == 0 {
			t.Errorf("flag bit %b not set", bit)
		}
	}
	p := mustCompile(t, "a(b)c", "gi")
	if p.Source != "a(b)c" || p.FlagText != "gi" {
		t.Errorf("reflection lost: %q %q", p.Source, p.FlagText)
	}
	if p.NumCaptures != 2 {
		t.Errorf("NumCaptures = %d, want 2", p.NumCaptures)
	}
}

func TestUnicodeMode(t *testing.T) {
	// In u-mode a dot consumes a full surrogate pair.
	m := exec(t, "^.$", "u", "\U0001F600")
	if m == nil {
		t.Fatal("dot did not match an astral code point in u-mode")
	}
	if m.End != 2 {
		t.Errorf("end = %d code units, want 2", m.End)
	}
}

func FuzzCompile(f *testing.F) {
	for _, seed := range []string{
		"a+b*c?", "(a|b){2,3}", "[^x-z]\\d\\w", "(?=a)(?!b)", "a{1,", "\\",
		"(?<n>x)\\k<n>", "[]", "a**", "(((((", "a|", "^$",
	} {
		f.Add(seed, "gi")
	}
	f.Fuzz(func(t *testing.T, pattern, flags string) {
		p, err := Compile(pattern, flags)
		if err != nil || p == nil {
			return
		}
		// A successfully compiled pattern must execute without panicking.
		_, _ = p.Exec(Units("aabbccddee"), 0, ExecOptions{StackLimit: 200})
	})
}
