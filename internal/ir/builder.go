package ir

// Builder appends instructions at the end of a block.
type Builder struct {
	ctx   *Context
	block *Block
}

// NewBuilder returns a builder creating types in ctx.
func NewBuilder(ctx *Context) *Builder {
	return &Builder{ctx: ctx}
}

// SetInsertPoint makes subsequent Create calls append to b.
func (b *Builder) SetInsertPoint(block *Block) { b.block = block }

// InsertBlock returns the current block.
func (b *Builder) InsertBlock() *Block { return b.block }

func (b *Builder) insert(in *Instr, name string) *Instr {
	in.name = name
	b.block.append(in)
	return in
}

func (b *Builder) binary(op Op, x, y Value, name string) *Instr {
	return b.insert(&Instr{Op: op, Args: []Value{x, y}, typ: x.Type()}, name)
}

func (b *Builder) CreateAdd(x, y Value, name string) *Instr  { return b.binary(OpAdd, x, y, name) }
func (b *Builder) CreateSub(x, y Value, name string) *Instr  { return b.binary(OpSub, x, y, name) }
func (b *Builder) CreateMul(x, y Value, name string) *Instr  { return b.binary(OpMul, x, y, name) }
func (b *Builder) CreateSDiv(x, y Value, name string) *Instr { return b.binary(OpSDiv, x, y, name) }
func (b *Builder) CreateSRem(x, y Value, name string) *Instr { return b.binary(OpSRem, x, y, name) }
func (b *Builder) CreateAnd(x, y Value, name string) *Instr  { return b.binary(OpAnd, x, y, name) }
func (b *Builder) CreateOr(x, y Value, name string) *Instr   { return b.binary(OpOr, x, y, name) }
func (b *Builder) CreateXor(x, y Value, name string) *Instr  { return b.binary(OpXor, x, y, name) }
func (b *Builder) CreateShl(x, y Value, name string) *Instr  { return b.binary(OpShl, x, y, name) }
func (b *Builder) CreateAShr(x, y Value, name string) *Instr { return b.binary(OpAShr, x, y, name) }
func (b *Builder) CreateFAdd(x, y Value, name string) *Instr { return b.binary(OpFAdd, x, y, name) }
func (b *Builder) CreateFSub(x, y Value, name string) *Instr { return b.binary(OpFSub, x, y, name) }
func (b *Builder) CreateFMul(x, y Value, name string) *Instr { return b.binary(OpFMul, x, y, name) }
func (b *Builder) CreateFDiv(x, y Value, name string) *Instr { return b.binary(OpFDiv, x, y, name) }

// CreateBinary creates any integer or float binary op.
func (b *Builder) CreateBinary(op Op, x, y Value, name string) *Instr {
	return b.binary(op, x, y, name)
}

func (b *Builder) CreateICmp(p Pred, x, y Value, name string) *Instr {
	return b.insert(&Instr{Op: OpICmp, Pred: p, Args: []Value{x, y}, typ: b.ctx.Int1()}, name)
}

func (b *Builder) CreateFCmp(p Pred, x, y Value, name string) *Instr {
	return b.insert(&Instr{Op: OpFCmp, Pred: p, Args: []Value{x, y}, typ: b.ctx.Int1()}, name)
}

func (b *Builder) CreateSelect(cond, t, f Value, name string) *Instr {
	return b.insert(&Instr{Op: OpSelect, Args: []Value{cond, t, f}, typ: t.Type()}, name)
}

// CreateCast creates a conversion of v to type to.
func (b *Builder) CreateCast(op Op, v Value, to *Type, name string) *Instr {
	return b.insert(&Instr{Op: op, Args: []Value{v}, typ: to}, name)
}

func (b *Builder) CreateZExt(v Value, to *Type, name string) *Instr {
	return b.CreateCast(OpZExt, v, to, name)
}

func (b *Builder) CreateSExt(v Value, to *Type, name string) *Instr {
	return b.CreateCast(OpSExt, v, to, name)
}

func (b *Builder) CreateTrunc(v Value, to *Type, name string) *Instr {
	return b.CreateCast(OpTrunc, v, to, name)
}

func (b *Builder) CreateSIToFP(v Value, to *Type, name string) *Instr {
	return b.CreateCast(OpSIToFP, v, to, name)
}

func (b *Builder) CreateFPToSI(v Value, to *Type, name string) *Instr {
	return b.CreateCast(OpFPToSI, v, to, name)
}

func (b *Builder) CreateLoad(t *Type, ptr Value, name string) *Instr {
	return b.insert(&Instr{Op: OpLoad, Args: []Value{ptr}, Elem: t, typ: t}, name)
}

func (b *Builder) CreateStore(v, ptr Value) *Instr {
	return b.insert(&Instr{Op: OpStore, Args: []Value{v, ptr}, typ: b.ctx.Void()}, "")
}

// CreateGEP computes ptr + index*sizeof(elem).
func (b *Builder) CreateGEP(elem *Type, ptr, index Value, name string) *Instr {
	return b.insert(&Instr{Op: OpGEP, Args: []Value{ptr, index}, Elem: elem, typ: b.ctx.Ptr()}, name)
}

// CreateStructGEP computes the address of field of the struct at ptr.
func (b *Builder) CreateStructGEP(st *Type, ptr Value, field int, name string) *Instr {
	return b.insert(&Instr{Op: OpStructGEP, Args: []Value{ptr}, Elem: st, Field: field, typ: b.ctx.Ptr()}, name)
}

// CreatePhi inserts a phi after the existing phis of the current block.
func (b *Builder) CreatePhi(t *Type, name string) *Instr {
	in := &Instr{Op: OpPhi, typ: t, name: name, block: b.block}
	n := len(b.block.Phis())
	b.block.Instrs = append(b.block.Instrs, nil)
	copy(b.block.Instrs[n+1:], b.block.Instrs[n:])
	b.block.Instrs[n] = in
	return in
}

// CreateCall calls a function of the same module.
func (b *Builder) CreateCall(callee *Func, args []Value, name string) *Instr {
	return b.CreateIndirectCall(callee.Sig(), callee, args, name)
}

// CreateIndirectCall calls through a pointer value with signature sig.
func (b *Builder) CreateIndirectCall(sig *Type, callee Value, args []Value, name string) *Instr {
	ops := make([]Value, 0, len(args)+1)
	ops = append(ops, callee)
	ops = append(ops, args...)
	return b.insert(&Instr{Op: OpCall, Args: ops, Elem: sig, typ: sig.Ret}, name)
}

func (b *Builder) CreateBr(dst *Block) *Instr {
	return b.insert(&Instr{Op: OpBr, Targets: []*Block{dst}, typ: b.ctx.Void()}, "")
}

func (b *Builder) CreateCondBr(cond Value, then, els *Block) *Instr {
	return b.insert(&Instr{Op: OpCondBr, Args: []Value{cond}, Targets: []*Block{then, els}, typ: b.ctx.Void()}, "")
}

func (b *Builder) CreateRet(v Value) *Instr {
	return b.insert(&Instr{Op: OpRet, Args: []Value{v}, typ: b.ctx.Void()}, "")
}

func (b *Builder) CreateRetVoid() *Instr {
	return b.insert(&Instr{Op: OpRet, typ: b.ctx.Void()}, "")
}

func (b *Builder) CreateUnreachable() *Instr {
	return b.insert(&Instr{Op: OpUnreachable, typ: b.ctx.Void()}, "")
}

// Int32 returns an i32 constant.
func (b *Builder) Int32(v int32) *Const { return ConstInt(b.ctx.Int32(), int64(v)) }

// Int64 returns an i64 constant.
func (b *Builder) Int64(v int64) *Const { return ConstInt(b.ctx.Int64(), v) }

// Double returns a double constant.
func (b *Builder) Double(v float64) *Const { return ConstFloat(b.ctx.Double(), v) }

// Bool returns an i1 constant.
func (b *Builder) Bool(v bool) *Const { return ConstBool(b.ctx, v) }
