package vm

import (
	"math"
	"testing"
)

func TestValueTagging(t *testing.T) {
	if !NumberValue(3.5).IsNumber() || NumberValue(3.5).Number() != 3.5 {
		t.Error("number round-trip failed")
	}
	nan := NumberValue(math.NaN())
	if !nan.IsNumber() || nan.Number() == nan.Number() {
		t.Error("NaN canonicalisation failed")
	}
	inf := NumberValue(math.Inf(1))
	if !inf.IsNumber() || !math.IsInf(inf.Number(), 1) {
		t.Error("infinity round-trip failed")
	}
	negZero := NumberValue(math.Copysign(0, -1))
	if !math.Signbit(negZero.Number()) {
		t.Error("negative zero lost its sign")
	}

	for _, v := range []Value{Undefined, Null, True, False} {
		if v.IsNumber() {
			t.Errorf("special %v misreads as number", v)
		}
	}
	if Undefined == Null || True == False {
		t.Error("specials collide")
	}

	h := NewHeap(0)
	s := h.NewString("hi")
	if !s.IsString() || h.Str(s) != "hi" {
		t.Error("string handle round-trip failed")
	}
	o := h.NewObject(Null)
	if !o.IsObject() || s.IsObject() || o.IsString() {
		t.Error("handle tags confused")
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{math.Copysign(0, -1), "0"},
		{1, "1"},
		{-1, "-1"},
		{3.5, "3.5"},
		{100, "100"},
		{0.1, "0.1"},
		{1e21, "1e+21"},
		{1e20, "100000000000000000000"},
		{1e-6, "0.000001"},
		{1e-7, "1e-7"},
		{-2.5e-8, "-2.5e-8"},
		{123456789, "123456789"},
		{math.NaN(), "NaN"},
		{math.Inf(1), "Infinity"},
		{math.Inf(-1), "-Infinity"},
		{0.30000000000000004, "0.30000000000000004"},
	}
	for _, tt := range tests {
		if got := FormatNumber(tt.in); got != tt.want {
			t.Errorf("FormatNumber(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStringToNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"", 0}, {"  ", 0}, {"42", 42}, {" 42 ", 42}, {"-1.5", -1.5},
		{"0x10", 16}, {"0b101", 5}, {"0o17", 15},
		{"Infinity", math.Inf(1)}, {"-Infinity", math.Inf(-1)},
		{"1e3", 1000},
	}
	for _, tt := range tests {
		got := stringToNumber(tt.in)
		if got != tt.want {
			t.Errorf("stringToNumber(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	for _, bad := range []string{"abc", "1x", "- 1", "+0x10", "0xzz"} {
		if got := stringToNumber(bad); got == got {
			t.Errorf("stringToNumber(%q) = %v, want NaN", bad, got)
		}
	}
}

func TestToInt32(t *testing.T) {
	tests := []struct {
		in   float64
		want int32
	}{
		{0, 0}, {1, 1}, {-1, -1}, {1.9, 1}, {-1.9, -1},
		{math.Pow(2, 31), -2147483648},
		{math.Pow(2, 32), 0},
		{math.Pow(2, 32) + 5, 5},
		{math.NaN(), 0}, {math.Inf(1), 0},
	}
	for _, tt := range tests {
		if got := toInt32(tt.in); got != tt.want {
			t.Errorf("toInt32(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// runProto executes a hand-assembled function module, which keeps the stack
// shuffle opcodes covered without going through the compiler.
func runProto(t *testing.T, proto *FunctionProto) Value {
	t.Helper()
	ctx := NewContext(Options{})
	v, err := ctx.Run(proto)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return v
}

func TestStackShuffleOpcodes(t *testing.T) {
	build := func(emit func(b *BytecodeBuilder)) *FunctionProto {
		var b BytecodeBuilder
		emit(&b)
		return &FunctionProto{Code: b.Bytes()}
	}
	pushABC := func(b *BytecodeBuilder) {
		b.EmitU8(OpPushI8, 1)
		b.EmitU8(OpPushI8, 2)
		b.EmitU8(OpPushI8, 3)
	}

	tests := []struct {
		name string
		emit func(b *BytecodeBuilder)
		want float64
	}{
		{"dup", func(b *BytecodeBuilder) {
			b.EmitU8(OpPushI8, 7)
			b.Emit(OpDup)
			b.Emit(OpAdd)
			b.Emit(OpReturn)
		}, 14},
		{"dup1", func(b *BytecodeBuilder) {
			// 1 2 -> 1 1 2 ; add twice -> 4
			b.EmitU8(OpPushI8, 1)
			b.EmitU8(OpPushI8, 2)
			b.Emit(OpDup1)
			b.Emit(OpAdd)
			b.Emit(OpAdd)
			b.Emit(OpReturn)
		}, 4},
		{"dup2", func(b *BytecodeBuilder) {
			// 1 2 -> 1 2 1 2 ; three adds -> 6
			b.EmitU8(OpPushI8, 1)
			b.EmitU8(OpPushI8, 2)
			b.Emit(OpDup2)
			b.Emit(OpAdd)
			b.Emit(OpAdd)
			b.Emit(OpAdd)
			b.Emit(OpReturn)
		}, 6},
		{"swap", func(b *BytecodeBuilder) {
			b.EmitU8(OpPushI8, 10)
			b.EmitU8(OpPushI8, 3)
			b.Emit(OpSwap)
			b.Emit(OpSub) // 3 - 10
			b.Emit(OpReturn)
		}, -7},
		{"nip", func(b *BytecodeBuilder) {
			b.EmitU8(OpPushI8, 10)
			b.EmitU8(OpPushI8, 3)
			b.Emit(OpNip)
			b.Emit(OpReturn)
		}, 3},
		{"rot3l", func(b *BytecodeBuilder) {
			// 1 2 3 -> 2 3 1 ; sub: 3-1=2 ; sub: 2-2=0
			pushABC(b)
			b.Emit(OpRot3L)
			b.Emit(OpSub)
			b.Emit(OpSub)
			b.Emit(OpReturn)
		}, 0},
		{"perm3", func(b *BytecodeBuilder) {
			// 1 2 3 -> 2 1 3 ; sub: 1-3=-2 ; sub: 2-(-2)=4
			pushABC(b)
			b.Emit(OpPerm3)
			b.Emit(OpSub)
			b.Emit(OpSub)
			b.Emit(OpReturn)
		}, 4},
		{"perm4", func(b *BytecodeBuilder) {
			// 1 2 3 4 -> 3 1 2 4
			pushABC(b)
			b.EmitU8(OpPushI8, 4)
			b.Emit(OpPerm4)
			b.Emit(OpDrop) // 3 1 2
			b.Emit(OpDrop) // 3 1
			b.Emit(OpSub)  // 3-1
			b.Emit(OpReturn)
		}, 2},
		{"insert2", func(b *BytecodeBuilder) {
			// 1 2 -> 2 1 2
			b.EmitU8(OpPushI8, 1)
			b.EmitU8(OpPushI8, 2)
			b.Emit(OpInsert2)
			b.Emit(OpDrop) // 2 1
			b.Emit(OpSub)  // 2-1
			b.Emit(OpReturn)
		}, 1},
		{"insert3", func(b *BytecodeBuilder) {
			// 1 2 3 -> 3 1 2 3
			pushABC(b)
			b.Emit(OpInsert3)
			b.Emit(OpDrop) // 3 1 2
			b.Emit(OpDrop) // 3 1
			b.Emit(OpSub)  // 3-1
			b.Emit(OpReturn)
		}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := runProto(t, build(tt.emit))
			if !v.IsNumber() || v.Number() != tt.want {
				t.Errorf("%s: got %v, want %v", tt.name, v, tt.want)
			}
		})
	}
}

func TestPropertyInsertionOrder(t *testing.T) {
	h := NewHeap(0)
	o := h.Obj(h.NewObject(Null))
	for _, k := range []string{"z", "m", "a", "q", "b", "c", "d", "e", "f", "g", "h2", "i"} {
		o.setOwn(h, k, True)
	}
	// Past 8 properties the index map kicks in; order must survive.
	keys := o.OwnKeys()
	want := []string{"z", "m", "a", "q", "b", "c", "d", "e", "f", "g", "h2", "i"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys[%d] = %q, want %q (full: %v)", i, keys[i], want[i], keys)
		}
	}
	o.setOwn(h, "a", False) // overwrite keeps position
	if o.OwnKeys()[2] != "a" {
		t.Error("overwrite moved a key")
	}
	o.deleteOwn("q")
	keys = o.OwnKeys()
	if keys[2] != "a" || keys[3] != "b" {
		t.Errorf("delete broke ordering: %v", keys)
	}
}

func TestMemoryAccounting(t *testing.T) {
	h := NewHeap(1 << 10)
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(memoryLimitPanic); !ok {
				panic(r)
			}
		} else {
			t.Error("allocation past the limit did not trip the budget")
		}
	}()
	for i := 0; i < 1000; i++ {
		h.NewString("0123456789abcdef")
	}
}
