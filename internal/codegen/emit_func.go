package codegen

import (
	"fortio.org/safecast"

	"nanojit/internal/ir"
	"nanojit/internal/isa"
)

// maxRegs is the register budget of one function.
const maxRegs = 255

type constKey struct {
	typ  string
	bits uint64
}

type funcEmitter struct {
	e *emitter
	f *ir.Func
	w isa.Writer

	regs    map[ir.Value]uint8
	consts  map[constKey]uint8
	symbols map[string]uint8
	phiTmp  map[*ir.Instr]uint8
	labels  map[*ir.Block]isa.Label
	outArgs uint8

	next     int
	overflow bool
}

func newFuncEmitter(e *emitter, f *ir.Func) *funcEmitter {
	return &funcEmitter{
		e:       e,
		f:       f,
		regs:    make(map[ir.Value]uint8, 32),
		consts:  make(map[constKey]uint8),
		symbols: make(map[string]uint8),
		phiTmp:  make(map[*ir.Instr]uint8),
		labels:  make(map[*ir.Block]isa.Label, len(f.Blocks)),
	}
}

func (fe *funcEmitter) alloc() uint8 {
	r, err := safecast.Conv[uint8](fe.next)
	fe.next++
	if err != nil || fe.next > maxRegs {
		fe.overflow = true
		return 0
	}
	return r
}

// hoisted is a constant or symbol address materialised in the entry block.
type hoisted struct {
	reg   uint8
	value ir.Value
}

func (fe *funcEmitter) emit() ([]byte, []isa.Ref, error) {
	hoist := fe.allocate()
	if fe.overflow {
		return nil, nil, fe.e.errorf(fe.f.Name(), "needs %d registers, at most %d are available", fe.next, maxRegs)
	}

	nregs, err := safecast.Conv[uint8](fe.next)
	if err != nil {
		return nil, nil, fe.e.errorf(fe.f.Name(), "%v", err)
	}
	nparams, err := safecast.Conv[uint8](len(fe.f.Params))
	if err != nil {
		return nil, nil, fe.e.errorf(fe.f.Name(), "%v", err)
	}
	fe.w.Emit(isa.Instr{Op: isa.ENTER, A: nregs, B: nparams})
	for _, h := range hoist {
		switch v := h.value.(type) {
		case *ir.Const:
			fe.w.Emit(isa.Instr{Op: isa.MOVI, A: h.reg, Imm64: v.Bits()})
		case *ir.Func:
			fe.w.EmitRef(isa.Instr{Op: isa.MOVI, A: h.reg}, fe.e.mangle(v.Name()), 0)
		case *ir.Global:
			fe.w.EmitRef(isa.Instr{Op: isa.MOVI, A: h.reg}, fe.e.mangle(v.Name()), 0)
		}
	}

	for _, b := range fe.f.Blocks {
		fe.labels[b] = fe.w.ReserveLabel()
	}
	for i, b := range fe.f.Blocks {
		var next *ir.Block
		if i+1 < len(fe.f.Blocks) {
			next = fe.f.Blocks[i+1]
		}
		fe.w.MarkLabel(fe.labels[b])
		for _, in := range b.Instrs {
			if in.Op.IsTerminator() {
				fe.emitTerminator(b, in, next)
				continue
			}
			if err := fe.emitInstr(in); err != nil {
				return nil, nil, err
			}
		}
	}
	code, refs, err := fe.w.ResolveFixups()
	if err != nil {
		return nil, nil, fe.e.errorf(fe.f.Name(), "%v", err)
	}
	return code, refs, nil
}

// allocate assigns registers: parameters first, then instruction results,
// phi temporaries, hoisted operands and finally the outgoing argument area.
func (fe *funcEmitter) allocate() []hoisted {
	for _, p := range fe.f.Params {
		fe.regs[p] = fe.alloc()
	}
	maxArgs := 1
	for _, b := range fe.f.Blocks {
		for _, in := range b.Instrs {
			if in.HasResult() {
				fe.regs[in] = fe.alloc()
			}
			if in.Op == ir.OpPhi {
				fe.phiTmp[in] = fe.alloc()
			}
			if in.Op == ir.OpCall {
				maxArgs = max(maxArgs, len(in.CallArgs()))
			}
		}
	}
	var hoist []hoisted
	use := func(v ir.Value) {
		switch v := v.(type) {
		case *ir.Const:
			k := constKey{typ: v.Type().String(), bits: v.Bits()}
			if _, ok := fe.consts[k]; !ok {
				r := fe.alloc()
				fe.consts[k] = r
				hoist = append(hoist, hoisted{reg: r, value: v})
			}
		case *ir.Func, *ir.Global:
			name := v.Ref()
			if _, ok := fe.symbols[name]; !ok {
				r := fe.alloc()
				fe.symbols[name] = r
				hoist = append(hoist, hoisted{reg: r, value: v})
			}
		}
	}
	for _, b := range fe.f.Blocks {
		for _, in := range b.Instrs {
			args := in.Args
			if _, direct := in.Callee().(*ir.Func); direct {
				args = in.CallArgs()
			}
			if _, folded := gepConst(in); folded {
				args = in.Args[:1]
			}
			for _, a := range args {
				use(a)
			}
			for _, inc := range in.Incoming {
				use(inc.Value)
			}
		}
	}
	fe.outArgs = fe.alloc()
	for range maxArgs - 1 {
		fe.alloc()
	}
	return hoist
}

// reg returns the register holding v.
func (fe *funcEmitter) reg(v ir.Value) uint8 {
	switch v := v.(type) {
	case *ir.Const:
		return fe.consts[constKey{typ: v.Type().String(), bits: v.Bits()}]
	case *ir.Func, *ir.Global:
		return fe.symbols[v.Ref()]
	}
	return fe.regs[v]
}

func (fe *funcEmitter) emitTerminator(b *ir.Block, in *ir.Instr, next *ir.Block) {
	switch in.Op {
	case ir.OpBr:
		dst := in.Targets[0]
		fe.edgeCopies(b, dst)
		if dst != next {
			fe.w.Branch(fe.labels[dst])
		}
	case ir.OpCondBr:
		then, els := in.Targets[0], in.Targets[1]
		cond := fe.reg(in.Args[0])
		thenCopies := len(then.Phis()) > 0
		edge := fe.labels[then]
		if thenCopies {
			edge = fe.w.ReserveLabel()
		}
		fe.w.BranchIf(edge, cond)
		fe.edgeCopies(b, els)
		if els != next || thenCopies {
			fe.w.Branch(fe.labels[els])
		}
		if thenCopies {
			fe.w.MarkLabel(edge)
			fe.edgeCopies(b, then)
			fe.w.Branch(fe.labels[then])
		}
	case ir.OpRet:
		if len(in.Args) == 0 {
			fe.w.Emit(isa.Instr{Op: isa.RET})
			return
		}
		fe.w.Emit(isa.Instr{Op: isa.RETV, A: fe.reg(in.Args[0])})
	case ir.OpUnreachable:
		fe.w.Emit(isa.Instr{Op: isa.UNREACHABLE})
	}
}

// edgeCopies moves the incoming values of to's phis along the edge from.
// Values go through per-phi temporaries so phis reading each other see the
// values from before the edge.
func (fe *funcEmitter) edgeCopies(from, to *ir.Block) {
	phis := to.Phis()
	for _, phi := range phis {
		for _, inc := range phi.Incoming {
			if inc.Block == from {
				fe.w.Emit(isa.Instr{Op: isa.MOV, A: fe.phiTmp[phi], B: fe.reg(inc.Value)})
				break
			}
		}
	}
	for _, phi := range phis {
		fe.w.Emit(isa.Instr{Op: isa.MOV, A: fe.regs[phi], B: fe.phiTmp[phi]})
	}
}
