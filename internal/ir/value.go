package ir

import (
	"math"
	"strconv"
	"strings"
)

// Value is anything an instruction can use as an operand.
type Value interface {
	Type() *Type
	// Ref is the textual reference used by the printer (%x, @f, 42).
	Ref() string
}

// Param is a function parameter.
type Param struct {
	name  string
	typ   *Type
	index int
	fn    *Func
}

func (p *Param) Type() *Type  { return p.typ }
func (p *Param) Ref() string  { return "%" + p.name }
func (p *Param) Name() string { return p.name }
func (p *Param) Index() int   { return p.index }
func (p *Param) Func() *Func  { return p.fn }

// Const is an integer, float or null pointer constant. Integers are stored
// sign-extended to 64 bits, floats as their IEEE bits.
type Const struct {
	typ  *Type
	bits uint64
}

// ConstInt creates an integer constant of type t (or a pointer constant).
func ConstInt(t *Type, v int64) *Const {
	if t.IsInt() {
		v = SignExtend(uint64(v), t.Width)
	}
	return &Const{typ: t, bits: uint64(v)}
}

// ConstFloat creates a double constant.
func ConstFloat(t *Type, f float64) *Const {
	return &Const{typ: t, bits: math.Float64bits(f)}
}

// ConstNull creates the null pointer of ctx.
func ConstNull(ctx *Context) *Const {
	return &Const{typ: ctx.Ptr()}
}

// ConstBool creates an i1 constant.
func ConstBool(ctx *Context, b bool) *Const {
	if b {
		return &Const{typ: ctx.Int1(), bits: 1}
	}
	return &Const{typ: ctx.Int1()}
}

func (c *Const) Type() *Type             { return c.typ }
func (c *Const) Bits() uint64            { return c.bits }
func (c *Const) Int() int64              { return int64(c.bits) }
func (c *Const) Float() float64          { return math.Float64frombits(c.bits) }
func (c *Const) IsZero() bool            { return c.bits == 0 }
func (c *Const) String() string          { return c.Ref() }
func (c *Const) withType(t *Type) *Const { return &Const{typ: t, bits: c.bits} }

func (c *Const) Ref() string {
	switch {
	case c.typ.IsFloat():
		return formatFloat(c.Float())
	case c.typ.IsPtr():
		if c.bits == 0 {
			return "null"
		}
		return strconv.FormatUint(c.bits, 10)
	case c.typ.IsBool():
		if c.bits&1 == 1 {
			return "true"
		}
		return "false"
	default:
		return strconv.FormatInt(int64(c.bits), 10)
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// SignExtend interprets the low width bits of v as signed and extends them
// to 64 bits. i1 values are kept as 0/1.
func SignExtend(v uint64, width int) int64 {
	switch width {
	case 1:
		return int64(v & 1)
	case 8:
		return int64(int8(v))
	case 32:
		return int64(int32(v))
	}
	return int64(v)
}

// ConstZero creates the all-zero constant of t; struct globals use it as
// their only supported initializer.
func ConstZero(t *Type) *Const {
	return &Const{typ: t}
}
