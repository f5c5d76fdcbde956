package isa

import (
	"fmt"

	"fortio.org/safecast"
)

// Label names a code position that may be bound after it is referenced.
type Label int

// Ref is an imm64 field that must receive the absolute address of Symbol
// plus Addend once the code is placed in memory.
type Ref struct {
	Offset int
	Symbol string
	Addend int64
}

type fixup struct {
	at    int // instruction index
	label Label
}

// Writer assembles instructions, resolving forward branches on Finish.
type Writer struct {
	code   []byte
	labels []int // instruction index, -1 while unbound
	fixups []fixup
	refs   []Ref
}

// Len returns the number of emitted instructions.
func (w *Writer) Len() int { return len(w.code) / InstrSize }

// Emit appends one instruction and returns its index.
func (w *Writer) Emit(in Instr) int {
	idx := w.Len()
	w.code = in.Append(w.code)
	return idx
}

// ReserveLabel allocates a label for later placement via MarkLabel.
func (w *Writer) ReserveLabel() Label {
	w.labels = append(w.labels, -1)
	return Label(len(w.labels) - 1)
}

// MarkLabel binds l to the next emitted instruction.
func (w *Writer) MarkLabel(l Label) {
	w.labels[l] = w.Len()
}

// Branch emits an unconditional branch to l.
func (w *Writer) Branch(l Label) {
	w.fixups = append(w.fixups, fixup{at: w.Emit(Instr{Op: BR}), label: l})
}

// BranchIf emits a branch to l taken when register cond is non-zero.
func (w *Writer) BranchIf(l Label, cond uint8) {
	w.fixups = append(w.fixups, fixup{at: w.Emit(Instr{Op: BRNZ, A: cond}), label: l})
}

// EmitRef emits in and records its imm64 as an absolute reference to sym.
func (w *Writer) EmitRef(in Instr, sym string, addend int64) int {
	idx := w.Emit(in)
	w.refs = append(w.refs, Ref{Offset: idx*InstrSize + Imm64Offset, Symbol: sym, Addend: addend})
	return idx
}

// ResolveFixups patches branch displacements and returns the code and its
// absolute references.
func (w *Writer) ResolveFixups() ([]byte, []Ref, error) {
	for _, f := range w.fixups {
		target := w.labels[f.label]
		if target < 0 {
			return nil, nil, fmt.Errorf("isa: unbound label %d", f.label)
		}
		rel, err := safecast.Conv[int32](target - (f.at + 1))
		if err != nil {
			return nil, nil, fmt.Errorf("isa: branch out of range: %w", err)
		}
		in := Decode(w.code[f.at*InstrSize:])
		in.Imm32 = rel
		in.Encode(w.code[f.at*InstrSize:])
	}
	return w.code, w.refs, nil
}
