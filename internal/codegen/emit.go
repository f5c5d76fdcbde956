package codegen

import (
	"encoding/binary"
	"fmt"

	"fortio.org/safecast"

	"nanojit/internal/ir"
	"nanojit/internal/obj"
	"nanojit/internal/target"
)

type emitter struct {
	mod    *ir.Module
	desc   target.Description
	layout *target.Layout
	mangle func(string) string
	out    obj.Object
}

func (e *emitter) emitModule() (*obj.Object, error) {
	layout := e.mod.DataLayout
	if layout == "" {
		layout = e.desc.DataLayout
	}
	e.out = obj.Object{Name: e.mod.Name, Triple: e.desc.Triple, DataLayout: layout}
	if err := e.emitGlobals(); err != nil {
		return nil, err
	}
	for _, f := range e.mod.Funcs {
		if f.IsDeclaration() {
			continue
		}
		if err := e.emitFunction(f); err != nil {
			return nil, err
		}
	}
	return &e.out, nil
}

func binding(l ir.Linkage) obj.Binding {
	if l == ir.Internal {
		return obj.Local
	}
	return obj.Global
}

func (e *emitter) errorf(fn string, format string, args ...any) error {
	return &CompileError{Module: e.mod.Name, Func: fn, Err: fmt.Errorf(format, args...)}
}

func (e *emitter) emitGlobals() error {
	for _, g := range e.mod.Globals {
		if g.IsDeclaration() {
			continue
		}
		tl, err := e.layout.Of(g.ValueType())
		if err != nil {
			return &CompileError{Module: e.mod.Name, Err: fmt.Errorf("@%s: %w", g.Name(), err)}
		}
		off := alignTo(len(e.out.Data), tl.Align)
		buf := make([]byte, off+tl.Size)
		copy(buf, e.out.Data)
		if err := putConst(buf[off:], g.ValueType(), g.Init); err != nil {
			return &CompileError{Module: e.mod.Name, Err: fmt.Errorf("@%s: %w", g.Name(), err)}
		}
		e.out.Data = buf
		o, err := safecast.Conv[uint64](off)
		if err != nil {
			return &CompileError{Module: e.mod.Name, Err: err}
		}
		size, err := safecast.Conv[uint64](tl.Size)
		if err != nil {
			return &CompileError{Module: e.mod.Name, Err: err}
		}
		e.out.Symbols = append(e.out.Symbols, obj.Symbol{
			Name:    e.mangle(g.Name()),
			Section: obj.Data,
			Offset:  o,
			Size:    size,
			Binding: binding(g.Linkage),
		})
	}
	return nil
}

// putConst writes the initializer bytes of c into dst.
func putConst(dst []byte, t *ir.Type, c *ir.Const) error {
	switch {
	case t.Kind == ir.TypeStruct:
		if !c.IsZero() {
			return fmt.Errorf("struct initializer must be zeroinitializer")
		}
	case t.IsFloat(), t.IsPtr(), t.IsInt() && t.Width == 64:
		binary.LittleEndian.PutUint64(dst, c.Bits())
	case t.IsInt() && t.Width == 32:
		binary.LittleEndian.PutUint32(dst, uint32(c.Bits()))
	case t.IsInt():
		dst[0] = byte(c.Bits())
	default:
		return fmt.Errorf("no initializer encoding for %s", t)
	}
	return nil
}

func (e *emitter) emitFunction(f *ir.Func) error {
	fe := newFuncEmitter(e, f)
	code, refs, err := fe.emit()
	if err != nil {
		return err
	}
	base := len(e.out.Text)
	e.out.Text = append(e.out.Text, code...)
	off, err := safecast.Conv[uint64](base)
	if err != nil {
		return e.errorf(f.Name(), "%v", err)
	}
	size, err := safecast.Conv[uint64](len(code))
	if err != nil {
		return e.errorf(f.Name(), "%v", err)
	}
	e.out.Symbols = append(e.out.Symbols, obj.Symbol{
		Name:    e.mangle(f.Name()),
		Section: obj.Text,
		Offset:  off,
		Size:    size,
		Binding: binding(f.Linkage),
		Func:    true,
	})
	for _, r := range refs {
		at, err := safecast.Conv[uint64](base + r.Offset)
		if err != nil {
			return e.errorf(f.Name(), "%v", err)
		}
		e.out.Relocs = append(e.out.Relocs, obj.Reloc{
			Section: obj.Text,
			Offset:  at,
			Symbol:  r.Symbol,
			Addend:  r.Addend,
		})
	}
	return nil
}

func alignTo(n, align int) int {
	if align <= 1 {
		return n
	}
	if r := n % align; r != 0 {
		return n + align - r
	}
	return n
}
