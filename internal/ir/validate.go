package ir

import (
	"errors"
	"fmt"
)

// Validate checks structural invariants of m: terminators, phi placement,
// operand types, type ownership, unique symbol names and call signatures.
// Dominance of SSA definitions is not checked.
func Validate(m *Module) error {
	if m == nil {
		return errors.New("nil module")
	}
	var errs []error
	seen := make(map[string]struct{}, len(m.Funcs)+len(m.Globals))
	for _, g := range m.Globals {
		if g.module != m {
			errs = append(errs, fmt.Errorf("global @%s: belongs to another module", g.name))
			continue
		}
		if _, dup := seen[g.name]; dup {
			errs = append(errs, fmt.Errorf("global @%s: duplicate symbol", g.name))
		}
		seen[g.name] = struct{}{}
		if err := validateGlobal(m, g); err != nil {
			errs = append(errs, fmt.Errorf("global @%s: %w", g.name, err))
		}
	}
	for _, f := range m.Funcs {
		if f.module != m {
			errs = append(errs, fmt.Errorf("function @%s: belongs to another module", f.name))
			continue
		}
		if _, dup := seen[f.name]; dup {
			errs = append(errs, fmt.Errorf("function @%s: duplicate symbol", f.name))
		}
		seen[f.name] = struct{}{}
		if err := validateFunc(m, f); err != nil {
			errs = append(errs, fmt.Errorf("function @%s: %w", f.name, err))
		}
	}
	return errors.Join(errs...)
}

func validateGlobal(m *Module, g *Global) error {
	if g.name == "" {
		return errors.New("empty name")
	}
	if !m.ctx.Owns(g.valueType) {
		return errors.New("value type from a foreign context")
	}
	if !g.valueType.IsFirstClass() && g.valueType.Kind != TypeStruct {
		return fmt.Errorf("unsupported value type %s", g.valueType)
	}
	if g.Init != nil {
		if !m.ctx.Owns(g.Init.typ) {
			return errors.New("initializer from a foreign context")
		}
		if g.valueType.Kind == TypeStruct {
			if !g.Init.IsZero() {
				return errors.New("struct globals only accept a zero initializer")
			}
		} else if g.Init.typ != g.valueType {
			return fmt.Errorf("initializer type %s, want %s", g.Init.typ, g.valueType)
		}
	} else if g.Linkage == Internal {
		return errors.New("internal global without initializer")
	}
	return nil
}

func validateFunc(m *Module, f *Func) error {
	if f.name == "" {
		return errors.New("empty name")
	}
	if f.sig == nil || f.sig.Kind != TypeFunc {
		return errors.New("missing signature")
	}
	if !m.ctx.Owns(f.sig) {
		return errors.New("signature from a foreign context")
	}
	if !f.sig.Ret.IsVoid() && !f.sig.Ret.IsFirstClass() {
		return fmt.Errorf("unsupported return type %s", f.sig.Ret)
	}
	for i, p := range f.sig.Params {
		if !p.IsFirstClass() {
			return fmt.Errorf("parameter %d: unsupported type %s", i, p)
		}
	}
	if f.IsDeclaration() {
		if f.Linkage == Internal {
			return errors.New("internal function without body")
		}
		return nil
	}

	var errs []error
	preds := f.Predecessors()
	names := make(map[string]struct{}, len(f.Blocks))
	for i, b := range f.Blocks {
		if b.fn != f {
			errs = append(errs, fmt.Errorf("block %d: belongs to another function", i))
			continue
		}
		if _, dup := names[b.name]; dup && b.name != "" {
			errs = append(errs, fmt.Errorf("block %%%s: duplicate label", b.name))
		}
		names[b.name] = struct{}{}
		if err := validateBlock(m, f, b, preds[b]); err != nil {
			errs = append(errs, fmt.Errorf("block %%%s: %w", b.name, err))
		}
	}
	if len(preds[f.Blocks[0]]) != 0 {
		errs = append(errs, errors.New("entry block has predecessors"))
	}
	return errors.Join(errs...)
}

func validateBlock(m *Module, f *Func, b *Block, preds []*Block) error {
	if len(b.Instrs) == 0 {
		return errors.New("empty block")
	}
	var errs []error
	inPhis := true
	for i, in := range b.Instrs {
		last := i == len(b.Instrs)-1
		switch {
		case in.Op.IsTerminator() && !last:
			errs = append(errs, fmt.Errorf("%s: terminator in the middle of the block", in.Op))
		case last && !in.Op.IsTerminator():
			errs = append(errs, errors.New("unterminated block"))
		}
		if in.Op == OpPhi {
			if !inPhis {
				errs = append(errs, errors.New("phi after non-phi instruction"))
			}
			if err := validatePhi(m, f, in, preds); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		inPhis = false
		if err := validateInstr(m, f, in); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", in.Ref(), in.Op, err))
		}
	}
	return errors.Join(errs...)
}

func validatePhi(m *Module, f *Func, in *Instr, preds []*Block) error {
	if !in.typ.IsFirstClass() || !m.ctx.Owns(in.typ) {
		return fmt.Errorf("phi %s: bad type %s", in.Ref(), in.typ)
	}
	if len(in.Incoming) != len(preds) {
		return fmt.Errorf("phi %s: %d incoming values for %d predecessors", in.Ref(), len(in.Incoming), len(preds))
	}
	for _, inc := range in.Incoming {
		if !containsBlock(preds, inc.Block) {
			return fmt.Errorf("phi %s: %%%s is not a predecessor", in.Ref(), inc.Block.Name())
		}
		if err := checkOperand(m, f, inc.Value, in.typ); err != nil {
			return fmt.Errorf("phi %s: %w", in.Ref(), err)
		}
	}
	return nil
}

// checkOperand verifies that v may be used inside f; want may be nil.
func checkOperand(m *Module, f *Func, v Value, want *Type) error {
	if v == nil {
		return errors.New("nil operand")
	}
	switch v := v.(type) {
	case *Param:
		if v.fn != f {
			return fmt.Errorf("parameter %s of another function", v.Ref())
		}
	case *Instr:
		if v.block == nil || v.block.fn != f {
			return fmt.Errorf("value %s of another function", v.Ref())
		}
		if !v.HasResult() {
			return fmt.Errorf("%s has no result", v.Ref())
		}
	case *Func:
		if v.module != m {
			return fmt.Errorf("function %s of another module", v.Ref())
		}
	case *Global:
		if v.module != m {
			return fmt.Errorf("global %s of another module", v.Ref())
		}
	case *Const:
	default:
		return fmt.Errorf("unsupported operand %T", v)
	}
	if !m.ctx.Owns(v.Type()) {
		return fmt.Errorf("operand %s: type from a foreign context", v.Ref())
	}
	if want != nil && v.Type() != want {
		return fmt.Errorf("operand %s has type %s, want %s", v.Ref(), v.Type(), want)
	}
	return nil
}

func checkArgs(in *Instr, n int) error {
	if len(in.Args) != n {
		return fmt.Errorf("%d operands, want %d", len(in.Args), n)
	}
	return nil
}

func validateInstr(m *Module, f *Func, in *Instr) error {
	if in.block != nil && in.block.fn != f {
		return errors.New("instruction attached to another function")
	}
	for _, t := range in.Targets {
		if t == nil || t.fn != f {
			return errors.New("branch to a block of another function")
		}
	}
	op := in.Op
	switch {
	case op.IsIntBinary(), op.IsFloatBinary():
		if err := checkArgs(in, 2); err != nil {
			return err
		}
		t := in.Args[0].Type()
		if op.IsIntBinary() && !t.IsInt() {
			return fmt.Errorf("integer op on %s", t)
		}
		if op.IsFloatBinary() && !t.IsFloat() {
			return fmt.Errorf("float op on %s", t)
		}
		if in.typ != t {
			return fmt.Errorf("result type %s, want %s", in.typ, t)
		}
		return checkOperands(m, f, in.Args, t, t)
	case op == OpICmp || op == OpFCmp:
		if err := checkArgs(in, 2); err != nil {
			return err
		}
		t := in.Args[0].Type()
		if op == OpICmp && (!in.Pred.IsIntPred() || !(t.IsInt() || t.IsPtr())) {
			return fmt.Errorf("icmp %s on %s", in.Pred, t)
		}
		if op == OpFCmp && (!in.Pred.IsFloatPred() || !t.IsFloat()) {
			return fmt.Errorf("fcmp %s on %s", in.Pred, t)
		}
		if !in.typ.IsBool() {
			return errors.New("comparison must produce i1")
		}
		return checkOperands(m, f, in.Args, t, t)
	case op == OpSelect:
		if err := checkArgs(in, 3); err != nil {
			return err
		}
		t := in.Args[1].Type()
		if !t.IsFirstClass() || in.typ != t {
			return fmt.Errorf("select of %s", t)
		}
		return checkOperands(m, f, in.Args, m.ctx.Int1(), t, t)
	case op.IsCast():
		if err := checkArgs(in, 1); err != nil {
			return err
		}
		if err := validateCast(op, in.Args[0].Type(), in.typ); err != nil {
			return err
		}
		return checkOperand(m, f, in.Args[0], nil)
	case op == OpLoad:
		if err := checkArgs(in, 1); err != nil {
			return err
		}
		if !in.typ.IsFirstClass() || in.Elem != in.typ {
			return fmt.Errorf("load of %s", in.typ)
		}
		return checkOperand(m, f, in.Args[0], m.ctx.Ptr())
	case op == OpStore:
		if err := checkArgs(in, 2); err != nil {
			return err
		}
		if !in.Args[0].Type().IsFirstClass() {
			return fmt.Errorf("store of %s", in.Args[0].Type())
		}
		return checkOperands(m, f, in.Args, nil, m.ctx.Ptr())
	case op == OpGEP:
		if err := checkArgs(in, 2); err != nil {
			return err
		}
		if in.Elem == nil || !m.ctx.Owns(in.Elem) || in.Elem.Kind == TypeVoid || in.Elem.Kind == TypeFunc {
			return fmt.Errorf("gep over %s", in.Elem)
		}
		if !in.Args[1].Type().IsInt() {
			return errors.New("gep index must be an integer")
		}
		return checkOperands(m, f, in.Args, m.ctx.Ptr(), nil)
	case op == OpStructGEP:
		if err := checkArgs(in, 1); err != nil {
			return err
		}
		if in.Elem == nil || in.Elem.Kind != TypeStruct || !m.ctx.Owns(in.Elem) {
			return fmt.Errorf("structgep over %s", in.Elem)
		}
		if in.Field < 0 || in.Field >= len(in.Elem.Fields) {
			return fmt.Errorf("field %d out of range", in.Field)
		}
		return checkOperand(m, f, in.Args[0], m.ctx.Ptr())
	case op == OpCall:
		return validateCall(m, f, in)
	case op == OpBr:
		if len(in.Targets) != 1 || len(in.Args) != 0 {
			return errors.New("malformed branch")
		}
		return nil
	case op == OpCondBr:
		if len(in.Targets) != 2 {
			return errors.New("conditional branch needs two targets")
		}
		if err := checkArgs(in, 1); err != nil {
			return err
		}
		return checkOperand(m, f, in.Args[0], m.ctx.Int1())
	case op == OpRet:
		ret := f.sig.Ret
		if ret.IsVoid() {
			return checkArgs(in, 0)
		}
		if err := checkArgs(in, 1); err != nil {
			return err
		}
		return checkOperand(m, f, in.Args[0], ret)
	case op == OpUnreachable:
		return checkArgs(in, 0)
	}
	return fmt.Errorf("unknown opcode %d", in.Op)
}

func checkOperands(m *Module, f *Func, args []Value, want ...*Type) error {
	for i, a := range args {
		if err := checkOperand(m, f, a, want[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateCast(op Op, from, to *Type) error {
	ok := false
	switch op {
	case OpZExt, OpSExt:
		ok = from.IsInt() && to.IsInt() && from.Width < to.Width
	case OpTrunc:
		ok = from.IsInt() && to.IsInt() && from.Width > to.Width
	case OpSIToFP:
		ok = from.IsInt() && to.IsFloat()
	case OpFPToSI:
		ok = from.IsFloat() && to.IsInt()
	}
	if !ok {
		return fmt.Errorf("cannot %s %s to %s", op, from, to)
	}
	return nil
}

func validateCall(m *Module, f *Func, in *Instr) error {
	if len(in.Args) == 0 {
		return errors.New("call without callee")
	}
	sig := in.Elem
	if sig == nil || sig.Kind != TypeFunc || !m.ctx.Owns(sig) {
		return errors.New("call without signature")
	}
	if err := checkOperand(m, f, in.Args[0], m.ctx.Ptr()); err != nil {
		return err
	}
	if callee, ok := in.Args[0].(*Func); ok && callee.sig != sig {
		return fmt.Errorf("call signature %s, callee %s has %s", sig, callee.Ref(), callee.sig)
	}
	args := in.CallArgs()
	if len(args) != len(sig.Params) {
		return fmt.Errorf("%d arguments, want %d", len(args), len(sig.Params))
	}
	if in.typ != sig.Ret {
		return fmt.Errorf("result type %s, want %s", in.typ, sig.Ret)
	}
	return checkOperands(m, f, args, sig.Params...)
}
