package host

import (
	"context"
	"errors"

	"fortio.org/safecast"

	"nanojit/internal/execmem"
	"nanojit/internal/isa"
	"nanojit/internal/machine"
	"nanojit/internal/session"
	"nanojit/internal/symtab"
)

// Generator answers lookup misses with host primitives. Entry points for
// every registered primitive are written into one read+exec page when the
// generator is created; a lookup only binds the name.
type Generator struct {
	mem     execmem.Provider
	code    *machine.CodeMap
	mangler *symtab.Mangler
	block   *execmem.Block
	entries map[string]uintptr
}

// NewGenerator registers every primitive of reg with cpu and writes their
// entry points.
func NewGenerator(reg *Registry, cpu *machine.CPU, mem execmem.Provider, mangler *symtab.Mangler) (*Generator, error) {
	names := reg.Names()
	g := &Generator{mem: mem, code: cpu.CodeMap(), mangler: mangler, entries: make(map[string]uintptr, len(names))}
	if len(names) == 0 {
		return g, nil
	}
	code := make([]byte, 0, len(names)*isa.InstrSize)
	for _, name := range names {
		fn, _ := reg.Get(name)
		idx := cpu.RegisterHost(name, fn)
		code = isa.Instr{Op: isa.HOST, Imm32: idx}.Append(code)
	}
	b, err := mem.Allocate(len(code))
	if err != nil {
		return nil, err
	}
	if err := b.Write(0, code); err != nil {
		return nil, errors.Join(err, mem.Release(b))
	}
	if err := mem.Protect(b, execmem.RX); err != nil {
		return nil, errors.Join(err, mem.Release(b))
	}
	g.block = b
	g.code.Map(b, "host")
	for i, name := range names {
		off, err := safecast.Conv[uintptr](i * isa.InstrSize)
		if err != nil {
			return nil, errors.Join(err, g.Release())
		}
		g.entries[name] = b.Addr() + off
		g.code.AddSymbol(b.Addr()+off, "host:"+name)
	}
	return g, nil
}

// Entry returns the entry point of the primitive called name.
func (g *Generator) Entry(name string) (uintptr, bool) {
	a, ok := g.entries[name]
	return a, ok
}

// Generate implements session.Generator.
func (g *Generator) Generate(_ context.Context, lib *session.Library, name symtab.Name) (bool, error) {
	addr, ok := g.entries[g.mangler.Demangle(name)]
	if !ok {
		return false, nil
	}
	err := lib.DefineAbsolute(name, addr, true)
	var dup *session.DuplicateDefinitionError
	if errors.As(err, &dup) {
		// a concurrent lookup bound it first
		return true, nil
	}
	return err == nil, err
}

// Release unmaps and frees the entry page.
func (g *Generator) Release() error {
	if g.block == nil {
		return nil
	}
	g.code.Unmap(g.block)
	err := g.mem.Release(g.block)
	g.block = nil
	return err
}
