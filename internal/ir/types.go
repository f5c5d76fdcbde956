package ir

import (
	"strconv"
	"strings"
)

// TypeKind enumerates IR type kinds.
type TypeKind uint8

const (
	// TypeVoid is the absence of a value.
	TypeVoid TypeKind = iota
	// TypeInt is a two's complement integer of Width bits.
	TypeInt
	// TypeFloat is an IEEE-754 binary64.
	TypeFloat
	// TypePtr is an opaque pointer.
	TypePtr
	// TypeStruct is a sequence of fields laid out by the target.
	TypeStruct
	// TypeFunc is a function signature.
	TypeFunc
)

// Type is an IR type. Types are interned by their Context and compared by
// pointer; a type is only meaningful inside the context that created it.
type Type struct {
	Kind   TypeKind
	Width  int
	Fields []*Type
	Ret    *Type
	Params []*Type

	ctx *Context
	key string
}

// Context returns the owning context.
func (t *Type) Context() *Context { return t.ctx }

func (t *Type) IsVoid() bool  { return t != nil && t.Kind == TypeVoid }
func (t *Type) IsInt() bool   { return t != nil && t.Kind == TypeInt }
func (t *Type) IsFloat() bool { return t != nil && t.Kind == TypeFloat }
func (t *Type) IsPtr() bool   { return t != nil && t.Kind == TypePtr }

// IsBool reports whether t is i1.
func (t *Type) IsBool() bool { return t.IsInt() && t.Width == 1 }

// IsFirstClass reports whether values of t can live in a register.
func (t *Type) IsFirstClass() bool {
	return t.IsInt() || t.IsFloat() || t.IsPtr()
}

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	return t.key
}

func typeKey(kind TypeKind, width int, fields []*Type, ret *Type, params []*Type) string {
	switch kind {
	case TypeVoid:
		return "void"
	case TypeInt:
		return "i" + strconv.Itoa(width)
	case TypeFloat:
		return "double"
	case TypePtr:
		return "ptr"
	case TypeStruct:
		parts := make([]string, len(fields))
		for i, f := range fields {
			parts[i] = f.key
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case TypeFunc:
		parts := make([]string, len(params))
		for i, p := range params {
			parts[i] = p.key
		}
		return ret.key + " (" + strings.Join(parts, ", ") + ")"
	}
	return "?"
}

// Context owns the types of one or more functions. A Context is not safe for
// concurrent mutation; modules handed to the engine transfer their context
// with them.
type Context struct {
	types map[string]*Type

	void, i1, i8, i32, i64, f64, ptr *Type
}

// NewContext creates a context with the scalar types pre-interned.
func NewContext() *Context {
	c := &Context{types: make(map[string]*Type, 16)}
	c.void = c.intern(&Type{Kind: TypeVoid})
	c.i1 = c.intern(&Type{Kind: TypeInt, Width: 1})
	c.i8 = c.intern(&Type{Kind: TypeInt, Width: 8})
	c.i32 = c.intern(&Type{Kind: TypeInt, Width: 32})
	c.i64 = c.intern(&Type{Kind: TypeInt, Width: 64})
	c.f64 = c.intern(&Type{Kind: TypeFloat, Width: 64})
	c.ptr = c.intern(&Type{Kind: TypePtr})
	return c
}

func (c *Context) intern(t *Type) *Type {
	t.key = typeKey(t.Kind, t.Width, t.Fields, t.Ret, t.Params)
	if existing, ok := c.types[t.key]; ok {
		return existing
	}
	t.ctx = c
	c.types[t.key] = t
	return t
}

func (c *Context) Void() *Type   { return c.void }
func (c *Context) Int1() *Type   { return c.i1 }
func (c *Context) Int8() *Type   { return c.i8 }
func (c *Context) Int32() *Type  { return c.i32 }
func (c *Context) Int64() *Type  { return c.i64 }
func (c *Context) Double() *Type { return c.f64 }
func (c *Context) Ptr() *Type    { return c.ptr }

// Int returns the integer type of the given width. Only 1, 8, 32 and 64 are
// supported by the code generator; other widths return nil.
func (c *Context) Int(width int) *Type {
	switch width {
	case 1:
		return c.i1
	case 8:
		return c.i8
	case 32:
		return c.i32
	case 64:
		return c.i64
	}
	return nil
}

// Struct interns a literal struct type.
func (c *Context) Struct(fields ...*Type) *Type {
	return c.intern(&Type{Kind: TypeStruct, Fields: append([]*Type(nil), fields...)})
}

// Func interns a function signature.
func (c *Context) Func(ret *Type, params ...*Type) *Type {
	return c.intern(&Type{Kind: TypeFunc, Ret: ret, Params: append([]*Type(nil), params...)})
}

// Import returns the type structurally equal to t inside c.
func (c *Context) Import(t *Type) *Type {
	if t == nil {
		return nil
	}
	if t.ctx == c {
		return t
	}
	switch t.Kind {
	case TypeVoid:
		return c.void
	case TypeInt:
		return c.Int(t.Width)
	case TypeFloat:
		return c.f64
	case TypePtr:
		return c.ptr
	case TypeStruct:
		fields := make([]*Type, len(t.Fields))
		for i, f := range t.Fields {
			fields[i] = c.Import(f)
		}
		return c.Struct(fields...)
	case TypeFunc:
		params := make([]*Type, len(t.Params))
		for i, p := range t.Params {
			params[i] = c.Import(p)
		}
		return c.Func(c.Import(t.Ret), params...)
	}
	return nil
}

// Owns reports whether t was interned by c.
func (c *Context) Owns(t *Type) bool {
	return t != nil && t.ctx == c
}
