package codegen

import (
	"fmt"

	"fortio.org/safecast"

	"nanojit/internal/ir"
	"nanojit/internal/isa"
)

var intOps = [...]isa.Op{
	ir.OpAdd:  isa.ADD,
	ir.OpSub:  isa.SUB,
	ir.OpMul:  isa.MUL,
	ir.OpSDiv: isa.SDIV,
	ir.OpSRem: isa.SREM,
	ir.OpAnd:  isa.AND,
	ir.OpOr:   isa.OR,
	ir.OpXor:  isa.XOR,
	ir.OpShl:  isa.SHL,
	ir.OpAShr: isa.ASHR,
}

var floatOps = [...]isa.Op{
	ir.OpFAdd: isa.FADD,
	ir.OpFSub: isa.FSUB,
	ir.OpFMul: isa.FMUL,
	ir.OpFDiv: isa.FDIV,
}

var preds = [...]int32{
	ir.PredEQ:  isa.CmpEQ,
	ir.PredNE:  isa.CmpNE,
	ir.PredSLT: isa.CmpSLT,
	ir.PredSLE: isa.CmpSLE,
	ir.PredSGT: isa.CmpSGT,
	ir.PredSGE: isa.CmpSGE,
	ir.PredULT: isa.CmpULT,
	ir.PredUGT: isa.CmpUGT,
	ir.PredOEQ: isa.CmpOEQ,
	ir.PredONE: isa.CmpONE,
	ir.PredOLT: isa.CmpOLT,
	ir.PredOLE: isa.CmpOLE,
	ir.PredOGT: isa.CmpOGT,
	ir.PredOGE: isa.CmpOGE,
	ir.PredUNE: isa.CmpUNE,
}

func memKind(t *ir.Type) (isa.MemKind, bool) {
	switch {
	case t.IsFloat():
		return isa.MemF64, true
	case t.IsPtr():
		return isa.MemI64, true
	case t.IsInt():
		switch t.Width {
		case 1:
			return isa.MemI1, true
		case 8:
			return isa.MemI8, true
		case 32:
			return isa.MemI32, true
		case 64:
			return isa.MemI64, true
		}
	}
	return 0, false
}

func width(t *ir.Type) int32 {
	if t.IsInt() {
		return int32(t.Width) //nolint:gosec // widths are 1, 8, 32 or 64
	}
	return 64
}

func (fe *funcEmitter) emitInstr(in *ir.Instr) error {
	var dst uint8
	if in.HasResult() {
		dst = fe.regs[in]
	}
	switch {
	case in.Op.IsIntBinary():
		fe.w.Emit(isa.Instr{Op: intOps[in.Op], A: dst, B: fe.reg(in.Args[0]), C: fe.reg(in.Args[1]), Imm32: width(in.Type())})
		return nil
	case in.Op.IsFloatBinary():
		fe.w.Emit(isa.Instr{Op: floatOps[in.Op], A: dst, B: fe.reg(in.Args[0]), C: fe.reg(in.Args[1])})
		return nil
	}

	switch in.Op {
	case ir.OpICmp, ir.OpFCmp:
		op := isa.ICMP
		if in.Op == ir.OpFCmp {
			op = isa.FCMP
		}
		fe.w.Emit(isa.Instr{Op: op, A: dst, B: fe.reg(in.Args[0]), C: fe.reg(in.Args[1]), Imm32: preds[in.Pred]})
	case ir.OpSelect:
		fe.w.Emit(isa.Instr{Op: isa.SELECT, A: dst, B: fe.reg(in.Args[0]), C: fe.reg(in.Args[1]), Imm32: int32(fe.reg(in.Args[2]))})
	case ir.OpZExt:
		fe.w.Emit(isa.Instr{Op: isa.ZEXT, A: dst, B: fe.reg(in.Args[0]), Imm32: width(in.Args[0].Type())})
	case ir.OpSExt:
		fe.w.Emit(isa.Instr{Op: isa.SEXT, A: dst, B: fe.reg(in.Args[0]), Imm32: width(in.Args[0].Type())})
	case ir.OpTrunc:
		fe.w.Emit(isa.Instr{Op: isa.TRUNC, A: dst, B: fe.reg(in.Args[0]), Imm32: width(in.Type())})
	case ir.OpSIToFP:
		fe.w.Emit(isa.Instr{Op: isa.SITOFP, A: dst, B: fe.reg(in.Args[0])})
	case ir.OpFPToSI:
		fe.w.Emit(isa.Instr{Op: isa.FPTOSI, A: dst, B: fe.reg(in.Args[0]), Imm32: width(in.Type())})
	case ir.OpLoad:
		kind, ok := memKind(in.Elem)
		if !ok {
			return fe.e.errorf(fe.f.Name(), "cannot load a value of type %s", in.Elem)
		}
		fe.w.Emit(isa.Instr{Op: isa.LOAD, A: dst, B: fe.reg(in.Args[0]), C: uint8(kind)})
	case ir.OpStore:
		kind, ok := memKind(in.Args[0].Type())
		if !ok {
			return fe.e.errorf(fe.f.Name(), "cannot store a value of type %s", in.Args[0].Type())
		}
		fe.w.Emit(isa.Instr{Op: isa.STORE, A: fe.reg(in.Args[0]), B: fe.reg(in.Args[1]), C: uint8(kind)})
	case ir.OpGEP:
		return fe.emitGEP(in, dst)
	case ir.OpStructGEP:
		off, err := fe.e.layout.FieldOffset(in.Elem, in.Field)
		if err != nil {
			return fe.e.errorf(fe.f.Name(), "%v", err)
		}
		fe.w.Emit(isa.Instr{Op: isa.ADDI, A: dst, B: fe.reg(in.Args[0]), Imm64: uint64(off)}) //nolint:gosec // offsets are non-negative
	case ir.OpCall:
		fe.emitCall(in, dst)
	case ir.OpPhi:
		// materialised by edgeCopies
	default:
		return fe.e.errorf(fe.f.Name(), "no selection for %s", in.Op)
	}
	return nil
}

// emitGEP folds constant indexes into a single addi.
func (fe *funcEmitter) emitGEP(in *ir.Instr, dst uint8) error {
	stride, err := fe.e.layout.SizeOf(in.Elem)
	if err != nil {
		return fe.e.errorf(fe.f.Name(), "%v", err)
	}
	base := fe.reg(in.Args[0])
	if c, ok := gepConst(in); ok {
		fe.w.Emit(isa.Instr{Op: isa.ADDI, A: dst, B: base, Imm64: uint64(c.Int() * int64(stride))}) //nolint:gosec // wraps like pointer arithmetic
		return nil
	}
	s, err := safecast.Conv[uint64](stride)
	if err != nil {
		return fe.e.errorf(fe.f.Name(), "%v", fmt.Errorf("gep stride: %w", err))
	}
	fe.w.Emit(isa.Instr{Op: isa.ADDS, A: dst, B: base, C: fe.reg(in.Args[1]), Imm64: s})
	return nil
}

// emitCall moves the arguments into the outgoing area and calls either the
// relocated symbol or a register.
func (fe *funcEmitter) emitCall(in *ir.Instr, dst uint8) {
	args := in.CallArgs()
	for i, a := range args {
		fe.w.Emit(isa.Instr{Op: isa.MOV, A: fe.outArgs + uint8(i), B: fe.reg(a)}) //nolint:gosec // bounded by the register budget
	}
	if !in.HasResult() {
		dst = fe.outArgs
	}
	call := isa.Instr{Op: isa.CALL, A: dst, B: fe.outArgs, C: uint8(len(args))} //nolint:gosec // bounded by the register budget
	if callee, ok := in.Callee().(*ir.Func); ok {
		fe.w.EmitRef(call, fe.e.mangle(callee.Name()), 0)
		return
	}
	call.Op = isa.CALLR
	call.Imm32 = int32(fe.reg(in.Callee()))
	fe.w.Emit(call)
}

// gepConst returns the constant index of a gep.
func gepConst(in *ir.Instr) (*ir.Const, bool) {
	if in.Op != ir.OpGEP || len(in.Args) != 2 {
		return nil, false
	}
	c, ok := in.Args[1].(*ir.Const)
	return c, ok
}
