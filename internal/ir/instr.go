package ir

import "strconv"

// Op enumerates instruction opcodes.
type Op uint8

const (
	OpInvalid Op = iota

	OpAdd
	OpSub
	OpMul
	OpSDiv
	OpSRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpAShr

	OpFAdd
	OpFSub
	OpFMul
	OpFDiv

	OpICmp
	OpFCmp
	OpSelect

	OpZExt
	OpSExt
	OpTrunc
	OpSIToFP
	OpFPToSI

	OpLoad
	OpStore
	OpGEP
	OpStructGEP

	OpPhi
	OpCall

	OpBr
	OpCondBr
	OpRet
	OpUnreachable
)

var opNames = [...]string{
	OpInvalid:     "invalid",
	OpAdd:         "add",
	OpSub:         "sub",
	OpMul:         "mul",
	OpSDiv:        "sdiv",
	OpSRem:        "srem",
	OpAnd:         "and",
	OpOr:          "or",
	OpXor:         "xor",
	OpShl:         "shl",
	OpAShr:        "ashr",
	OpFAdd:        "fadd",
	OpFSub:        "fsub",
	OpFMul:        "fmul",
	OpFDiv:        "fdiv",
	OpICmp:        "icmp",
	OpFCmp:        "fcmp",
	OpSelect:      "select",
	OpZExt:        "zext",
	OpSExt:        "sext",
	OpTrunc:       "trunc",
	OpSIToFP:      "sitofp",
	OpFPToSI:      "fptosi",
	OpLoad:        "load",
	OpStore:       "store",
	OpGEP:         "gep",
	OpStructGEP:   "structgep",
	OpPhi:         "phi",
	OpCall:        "call",
	OpBr:          "br",
	OpCondBr:      "br",
	OpRet:         "ret",
	OpUnreachable: "unreachable",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return "op(" + strconv.Itoa(int(op)) + ")"
}

// IsIntBinary reports integer arithmetic opcodes.
func (op Op) IsIntBinary() bool { return op >= OpAdd && op <= OpAShr }

// IsFloatBinary reports float arithmetic opcodes.
func (op Op) IsFloatBinary() bool { return op >= OpFAdd && op <= OpFDiv }

// IsCast reports conversion opcodes.
func (op Op) IsCast() bool { return op >= OpZExt && op <= OpFPToSI }

// IsTerminator reports block terminators.
func (op Op) IsTerminator() bool { return op >= OpBr }

// Pred is a comparison predicate of icmp/fcmp.
type Pred uint8

const (
	PredNone Pred = iota
	// integer predicates
	PredEQ
	PredNE
	PredSLT
	PredSLE
	PredSGT
	PredSGE
	PredULT
	PredUGT
	// ordered float predicates: false whenever an operand is NaN
	PredOEQ
	PredONE
	PredOLT
	PredOLE
	PredOGT
	PredOGE
	// unordered not-equal: true whenever an operand is NaN
	PredUNE
)

var predNames = [...]string{
	PredNone: "none",
	PredEQ:   "eq",
	PredNE:   "ne",
	PredSLT:  "slt",
	PredSLE:  "sle",
	PredSGT:  "sgt",
	PredSGE:  "sge",
	PredULT:  "ult",
	PredUGT:  "ugt",
	PredOEQ:  "oeq",
	PredONE:  "one",
	PredOLT:  "olt",
	PredOLE:  "ole",
	PredOGT:  "ogt",
	PredOGE:  "oge",
	PredUNE:  "une",
}

func (p Pred) String() string {
	if int(p) < len(predNames) {
		return predNames[p]
	}
	return "pred(" + strconv.Itoa(int(p)) + ")"
}

// IsIntPred reports predicates valid for icmp.
func (p Pred) IsIntPred() bool { return p >= PredEQ && p <= PredUGT }

// IsFloatPred reports predicates valid for fcmp.
func (p Pred) IsFloatPred() bool { return p >= PredOEQ && p <= PredUNE }

func parsePred(s string) (Pred, bool) {
	for i, n := range predNames {
		if i != 0 && n == s {
			return Pred(i), true
		}
	}
	return PredNone, false
}

// Incoming is one (predecessor, value) pair of a phi.
type Incoming struct {
	Block *Block
	Value Value
}

// Instr is an SSA instruction. Value-producing instructions are Values
// themselves.
//
// Operand conventions:
//   - binary/cmp: Args = [x, y]
//   - select: Args = [cond, t, f]
//   - casts: Args = [v]; result type is the target type
//   - load: Args = [ptr]; Elem = loaded type
//   - store: Args = [value, ptr]
//   - gep: Args = [ptr, index]; Elem = element type (stride)
//   - structgep: Args = [ptr]; Elem = struct type; Field = index
//   - call: Args = [callee, args...]; Elem = signature
//   - br: Targets = [dst]; condbr: Args = [cond], Targets = [then, else]
//   - ret: Args = [] or [v]
type Instr struct {
	Op       Op
	Args     []Value
	Pred     Pred
	Elem     *Type
	Field    int
	Targets  []*Block
	Incoming []Incoming

	name  string
	typ   *Type
	block *Block
}

func (in *Instr) Type() *Type { return in.typ }

func (in *Instr) Ref() string {
	if in.name == "" {
		return "%<unnamed>"
	}
	return "%" + in.name
}

// Name returns the SSA name ("" until named or printed).
func (in *Instr) Name() string { return in.name }

// SetName names the instruction's result.
func (in *Instr) SetName(name string) *Instr {
	in.name = name
	return in
}

// Block returns the containing block.
func (in *Instr) Block() *Block { return in.block }

// HasResult reports whether the instruction defines a value.
func (in *Instr) HasResult() bool { return in.typ != nil && !in.typ.IsVoid() }

// AddIncoming appends a phi edge.
func (in *Instr) AddIncoming(v Value, from *Block) *Instr {
	in.Incoming = append(in.Incoming, Incoming{Block: from, Value: v})
	return in
}

// Callee returns the called value of a call.
func (in *Instr) Callee() Value {
	if in.Op != OpCall || len(in.Args) == 0 {
		return nil
	}
	return in.Args[0]
}

// CallArgs returns the arguments of a call.
func (in *Instr) CallArgs() []Value {
	if in.Op != OpCall || len(in.Args) == 0 {
		return nil
	}
	return in.Args[1:]
}
