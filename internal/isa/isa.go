// Package isa defines nj64, the fixed-width register instruction set the
// code generator emits and internal/machine executes.
//
// Every instruction is InstrSize bytes, little endian:
//
//	[0] op  [1] a  [2] b  [3] c  [4:8] imm32  [8:16] imm64
//
// Integer registers hold values in canonical form: sign-extended from the
// operation width, i1 as 0 or 1. Floats are held as IEEE-754 bits.
package isa

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// InstrSize is the encoded size of every instruction.
const InstrSize = 16

// MaxRegs is the number of addressable registers per frame.
const MaxRegs = 256

// Op is an nj64 opcode.
type Op uint8

const (
	NOP Op = iota
	// ENTER a=registers b=parameters. First instruction of every body.
	ENTER
	MOVI // a = imm64
	MOV  // a = b

	// integer ops: a = b op c at width imm32
	ADD
	SUB
	MUL
	SDIV
	SREM
	AND
	OR
	XOR
	SHL
	ASHR

	ADDI // a = b + imm64
	ADDS // a = b + c*imm64

	FADD
	FSUB
	FMUL
	FDIV

	ICMP   // a = b pred(imm32) c
	FCMP   // a = b pred(imm32) c
	SELECT // a = b ? c : reg(imm32)

	SEXT   // a = sext(b) from width imm32
	ZEXT   // a = zext(b) from width imm32
	TRUNC  // a = trunc(b) to width imm32
	SITOFP // a = float(b)
	FPTOSI // a = int(b) at width imm32

	LOAD  // a = mem[b + imm64] of kind c
	STORE // mem[b + imm64] = a of kind c

	BR   // pc += imm32
	BRNZ // if a != 0: pc += imm32

	CALL  // a = call imm64(regs b .. b+c)
	CALLR // a = call reg(imm32)(regs b .. b+c)
	RET   // return
	RETV  // return a

	JMPI // jump to the address stored at imm64
	TRAP // lazy call-through: resolve trampoline imm32, then continue
	HOST // host primitive imm32

	UNREACHABLE

	opCount
)

var opNames = [...]string{
	NOP: "nop", ENTER: "enter", MOVI: "movi", MOV: "mov",
	ADD: "add", SUB: "sub", MUL: "mul", SDIV: "sdiv", SREM: "srem",
	AND: "and", OR: "or", XOR: "xor", SHL: "shl", ASHR: "ashr",
	ADDI: "addi", ADDS: "adds",
	FADD: "fadd", FSUB: "fsub", FMUL: "fmul", FDIV: "fdiv",
	ICMP: "icmp", FCMP: "fcmp", SELECT: "select",
	SEXT: "sext", ZEXT: "zext", TRUNC: "trunc", SITOFP: "sitofp", FPTOSI: "fptosi",
	LOAD: "load", STORE: "store",
	BR: "br", BRNZ: "brnz",
	CALL: "call", CALLR: "callr", RET: "ret", RETV: "retv",
	JMPI: "jmpi", TRAP: "trap", HOST: "host",
	UNREACHABLE: "unreachable",
}

func (op Op) String() string {
	if op < opCount {
		return opNames[op]
	}
	return "op" + strconv.Itoa(int(op))
}

// Valid reports a known opcode.
func (op Op) Valid() bool { return op < opCount }

// MemKind selects the width of LOAD and STORE.
type MemKind uint8

const (
	MemI64 MemKind = iota
	MemI32
	MemI8
	MemI1
	MemF64
)

var memNames = [...]string{MemI64: "i64", MemI32: "i32", MemI8: "i8", MemI1: "i1", MemF64: "f64"}

func (k MemKind) String() string {
	if int(k) < len(memNames) {
		return memNames[k]
	}
	return "mem" + strconv.Itoa(int(k))
}

// Size returns the number of bytes accessed.
func (k MemKind) Size() int {
	switch k {
	case MemI32:
		return 4
	case MemI8, MemI1:
		return 1
	}
	return 8
}

// Comparison predicates carried in imm32 of ICMP/FCMP.
const (
	CmpEQ int32 = iota + 1
	CmpNE
	CmpSLT
	CmpSLE
	CmpSGT
	CmpSGE
	CmpULT
	CmpUGT
	CmpOEQ
	CmpONE
	CmpOLT
	CmpOLE
	CmpOGT
	CmpOGE
	CmpUNE
)

var cmpNames = map[int32]string{
	CmpEQ: "eq", CmpNE: "ne", CmpSLT: "slt", CmpSLE: "sle", CmpSGT: "sgt", CmpSGE: "sge",
	CmpULT: "ult", CmpUGT: "ugt", CmpOEQ: "oeq", CmpONE: "one", CmpOLT: "olt", CmpOLE: "ole",
	CmpOGT: "ogt", CmpOGE: "oge", CmpUNE: "une",
}

// CmpName returns the mnemonic of a predicate.
func CmpName(p int32) string {
	if n, ok := cmpNames[p]; ok {
		return n
	}
	return "pred" + strconv.Itoa(int(p))
}

// Instr is one decoded instruction.
type Instr struct {
	Op    Op
	A     uint8
	B     uint8
	C     uint8
	Imm32 int32
	Imm64 uint64
}

// Encode writes the instruction into dst[:InstrSize].
func (in Instr) Encode(dst []byte) {
	_ = dst[InstrSize-1]
	dst[0] = byte(in.Op)
	dst[1] = in.A
	dst[2] = in.B
	dst[3] = in.C
	binary.LittleEndian.PutUint32(dst[4:8], uint32(in.Imm32))
	binary.LittleEndian.PutUint64(dst[8:16], in.Imm64)
}

// Append encodes the instruction at the end of dst.
func (in Instr) Append(dst []byte) []byte {
	var buf [InstrSize]byte
	in.Encode(buf[:])
	return append(dst, buf[:]...)
}

// Decode reads one instruction from src[:InstrSize].
func Decode(src []byte) Instr {
	_ = src[InstrSize-1]
	return Instr{
		Op:    Op(src[0]),
		A:     src[1],
		B:     src[2],
		C:     src[3],
		Imm32: int32(binary.LittleEndian.Uint32(src[4:8])),
		Imm64: binary.LittleEndian.Uint64(src[8:16]),
	}
}

// Imm64Offset is the byte offset of imm64 inside an instruction; absolute
// relocations patch this field.
const Imm64Offset = 8

func (in Instr) String() string {
	r := func(n uint8) string { return "r" + strconv.Itoa(int(n)) }
	switch in.Op {
	case NOP, RET, UNREACHABLE:
		return in.Op.String()
	case ENTER:
		return fmt.Sprintf("enter %d, %d", in.A, in.B)
	case MOVI:
		return fmt.Sprintf("movi %s, %#x", r(in.A), in.Imm64)
	case MOV, SITOFP:
		return fmt.Sprintf("%s %s, %s", in.Op, r(in.A), r(in.B))
	case ADD, SUB, MUL, SDIV, SREM, AND, OR, XOR, SHL, ASHR:
		return fmt.Sprintf("%s.i%d %s, %s, %s", in.Op, in.Imm32, r(in.A), r(in.B), r(in.C))
	case ADDI:
		return fmt.Sprintf("addi %s, %s, %d", r(in.A), r(in.B), int64(in.Imm64))
	case ADDS:
		return fmt.Sprintf("adds %s, %s, %s*%d", r(in.A), r(in.B), r(in.C), int64(in.Imm64))
	case FADD, FSUB, FMUL, FDIV:
		return fmt.Sprintf("%s %s, %s, %s", in.Op, r(in.A), r(in.B), r(in.C))
	case ICMP, FCMP:
		return fmt.Sprintf("%s.%s %s, %s, %s", in.Op, CmpName(in.Imm32), r(in.A), r(in.B), r(in.C))
	case SELECT:
		return fmt.Sprintf("select %s, %s, %s, r%d", r(in.A), r(in.B), r(in.C), in.Imm32)
	case SEXT, ZEXT, TRUNC, FPTOSI:
		return fmt.Sprintf("%s.i%d %s, %s", in.Op, in.Imm32, r(in.A), r(in.B))
	case LOAD:
		return fmt.Sprintf("load.%s %s, [%s%+d]", MemKind(in.C), r(in.A), r(in.B), int64(in.Imm64))
	case STORE:
		return fmt.Sprintf("store.%s [%s%+d], %s", MemKind(in.C), r(in.B), int64(in.Imm64), r(in.A))
	case BR:
		return fmt.Sprintf("br %+d", in.Imm32)
	case BRNZ:
		return fmt.Sprintf("brnz %s, %+d", r(in.A), in.Imm32)
	case CALL:
		return fmt.Sprintf("call %s, %#x(%s..+%d)", r(in.A), in.Imm64, r(in.B), in.C)
	case CALLR:
		return fmt.Sprintf("callr %s, r%d(%s..+%d)", r(in.A), in.Imm32, r(in.B), in.C)
	case RETV:
		return "retv " + r(in.A)
	case JMPI:
		return fmt.Sprintf("jmpi [%#x]", in.Imm64)
	case TRAP, HOST:
		return fmt.Sprintf("%s %d", in.Op, in.Imm32)
	}
	return fmt.Sprintf("%s %d, %d, %d, %d, %#x", in.Op, in.A, in.B, in.C, in.Imm32, in.Imm64)
}
