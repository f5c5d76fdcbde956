package isa

import (
	"strings"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	tests := []Instr{
		{Op: ENTER, A: 12, B: 2},
		{Op: MOVI, A: 3, Imm64: 0xdeadbeefcafe},
		{Op: ADD, A: 1, B: 2, C: 3, Imm32: 32},
		{Op: BRNZ, A: 7, Imm32: -5},
		{Op: LOAD, A: 4, B: 0, C: uint8(MemF64), Imm64: 8},
		{Op: CALL, A: 0, B: 9, C: 2, Imm64: 1 << 40},
	}
	for _, in := range tests {
		var buf [InstrSize]byte
		in.Encode(buf[:])
		if got := Decode(buf[:]); got != in {
			t.Errorf("Decode(Encode(%v)) = %v", in, got)
		}
	}
}

func TestWriterResolvesForwardBranches(t *testing.T) {
	var w Writer
	done := w.ReserveLabel()
	loop := w.ReserveLabel()
	w.Emit(Instr{Op: ENTER, A: 2, B: 1})
	w.MarkLabel(loop)
	w.BranchIf(done, 0) // index 1
	w.Emit(Instr{Op: ADDI, A: 0, B: 0, Imm64: ^uint64(0)})
	w.Branch(loop) // index 3
	w.MarkLabel(done)
	w.Emit(Instr{Op: RETV, A: 1})

	code, refs, err := w.ResolveFixups()
	if err != nil {
		t.Fatalf("ResolveFixups: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("unexpected refs %v", refs)
	}
	if got := Decode(code[1*InstrSize:]).Imm32; got != 2 {
		t.Fatalf("forward displacement = %d, want 2", got)
	}
	if got := Decode(code[3*InstrSize:]).Imm32; got != -3 {
		t.Fatalf("backward displacement = %d, want -3", got)
	}
}

func TestWriterUnboundLabel(t *testing.T) {
	var w Writer
	w.Branch(w.ReserveLabel())
	if _, _, err := w.ResolveFixups(); err == nil {
		t.Fatalf("expected an error for an unbound label")
	}
}

func TestEmitRefOffsets(t *testing.T) {
	var w Writer
	w.Emit(Instr{Op: ENTER})
	w.EmitRef(Instr{Op: CALL}, "callee", 0)
	w.EmitRef(Instr{Op: MOVI, A: 1}, "table", 16)
	_, refs, err := w.ResolveFixups()
	if err != nil {
		t.Fatal(err)
	}
	want := []Ref{{Offset: 24, Symbol: "callee"}, {Offset: 40, Symbol: "table", Addend: 16}}
	for i := range want {
		if refs[i] != want[i] {
			t.Fatalf("refs[%d] = %+v, want %+v", i, refs[i], want[i])
		}
	}
}

func TestDisassemble(t *testing.T) {
	var w Writer
	w.Emit(Instr{Op: ENTER, A: 1})
	w.Emit(Instr{Op: CALL, Imm64: 0x2000})
	w.Emit(Instr{Op: RET})
	code, _, _ := w.ResolveFixups()
	out := Disassemble(append(code, 1, 2), 0x1000, func(addr uint64) string {
		switch addr {
		case 0x1000:
			return "f"
		case 0x2000:
			return "g"
		}
		return ""
	})
	for _, want := range []string{"f:\n", "enter 1, 0", "; g", "ret", "2 trailing bytes"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing lacks %q:\n%s", want, out)
		}
	}
}
