package lazy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"nanojit/internal/ir"
	"nanojit/internal/session"
	"nanojit/internal/symtab"
	"nanojit/internal/target"
	"nanojit/internal/trace"
)

// AddModuleErrorKind classifies a rejected module.
type AddModuleErrorKind uint8

const (
	Malformed AddModuleErrorKind = iota + 1
	Duplicate
	TargetMismatch
	// Registration covers failures after validation: stub memory, a
	// closed session.
	Registration
)

func (k AddModuleErrorKind) String() string {
	switch k {
	case Malformed:
		return "malformed module"
	case Duplicate:
		return "duplicate symbol"
	case TargetMismatch:
		return "target mismatch"
	case Registration:
		return "registration failed"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// AddModuleError reports a module the gatekeeper refused. Nothing of a
// refused module is registered.
type AddModuleError struct {
	Kind   AddModuleErrorKind
	Module string
	Symbol string
	Err    error
}

func (e *AddModuleError) Error() string {
	msg := fmt.Sprintf("add module %s: %s", e.Module, e.Kind)
	if e.Symbol != "" {
		msg += " " + e.Symbol
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AddModuleError) Unwrap() error { return e.Err }

// Emitter materializes a partition into a library.
type Emitter interface {
	Emit(ctx context.Context, lib *session.Library, part *ir.Partition) (map[symtab.Name]uintptr, error)
}

// Gatekeeper registers modules without translating them. Each externally
// visible function gets a stub; the first call through the stub translates
// and loads the function's partition.
type Gatekeeper struct {
	s     *session.Session
	desc  target.Description
	emit  Emitter
	stubs *Stubs
	ct    *CallThrough

	mu sync.Mutex // serialises duplicate checks with registration
}

// NewGatekeeper wires a gatekeeper.
func NewGatekeeper(s *session.Session, desc target.Description, emit Emitter, stubs *Stubs, ct *CallThrough) *Gatekeeper {
	return &Gatekeeper{s: s, desc: desc, emit: emit, stubs: stubs, ct: ct}
}

// Stubs returns the stub manager.
func (g *Gatekeeper) Stubs() *Stubs { return g.stubs }

// AddModule validates m and registers its symbols in lib. It compiles
// nothing. The gatekeeper takes ownership of m.
func (g *Gatekeeper) AddModule(ctx context.Context, lib *session.Library, m *ir.Module) error {
	span := trace.Begin(trace.FromContext(ctx), trace.ScopeModule, "add_module", trace.CurrentSpan(ctx)).
		WithExtra("module", m.Name).
		WithExtra("library", lib.Name())
	err := g.addModule(lib, m)
	detail := "ok"
	if err != nil {
		detail = err.Error()
	}
	span.End(detail)
	return err
}

func (g *Gatekeeper) addModule(lib *session.Library, m *ir.Module) error {
	if err := ir.Validate(m); err != nil {
		return &AddModuleError{Kind: Malformed, Module: m.Name, Err: err}
	}
	if err := g.desc.CheckDataLayout(m.DataLayout); err != nil {
		return &AddModuleError{Kind: TargetMismatch, Module: m.Name, Err: err}
	}
	parts := ir.Split(m)

	g.mu.Lock()
	defer g.mu.Unlock()
	libs := g.s.Libraries()
	for _, p := range parts {
		for _, sym := range p.Symbols {
			name := g.s.Intern(sym)
			for _, l := range libs {
				if l.Contains(name) {
					return &AddModuleError{Kind: Duplicate, Module: m.Name, Symbol: sym,
						Err: fmt.Errorf("already defined in %s", l.Name())}
				}
			}
		}
	}

	var (
		code     []*ir.Partition
		landings []Landing
	)
	for _, p := range parts {
		if p.Kind != ir.CodePartition {
			continue
		}
		name := g.s.Intern(p.Symbols[0])
		code = append(code, p)
		landings = append(landings, func(ctx context.Context) (uintptr, error) {
			return g.s.LookupName(ctx, []*session.Library{lib}, name)
		})
	}
	refuse := func(err error) error {
		var de *session.DuplicateDefinitionError
		if errors.As(err, &de) {
			return &AddModuleError{Kind: Duplicate, Module: m.Name, Symbol: de.Name, Err: err}
		}
		return &AddModuleError{Kind: Registration, Module: m.Name, Err: err}
	}
	tramps, err := g.ct.Create(landings)
	if err != nil {
		return refuse(fmt.Errorf("trampolines: %w", err))
	}
	inits := make([]StubInit, len(code))
	for i, p := range code {
		inits[i] = StubInit{Name: g.s.Intern(p.Symbols[0]), Target: tramps[i]}
	}
	stubs, err := g.stubs.Create(inits)
	if err != nil {
		return refuse(errors.Join(fmt.Errorf("stubs: %w", err), g.ct.Discard(tramps)))
	}

	units := make([]session.MaterializationUnit, 0, len(parts))
	for i, p := range code {
		units = append(units, &partitionUnit{g: g, lib: lib, part: p, stub: stubs[i]})
	}
	for _, p := range parts {
		if p.Kind == ir.DataPartition {
			units = append(units, &partitionUnit{g: g, lib: lib, part: p})
		}
	}
	if err := lib.DefineAll(units...); err != nil {
		return refuse(errors.Join(err, g.stubs.Discard(stubs), g.ct.Discard(tramps)))
	}
	return nil
}

// partitionUnit materializes one partition on first demand.
type partitionUnit struct {
	g    *Gatekeeper
	lib  *session.Library
	part *ir.Partition
	stub *Stub
}

func (u *partitionUnit) Name() string { return u.part.Module.Name }

func (u *partitionUnit) Symbols() map[symtab.Name]session.Def {
	defs := make(map[symtab.Name]session.Def, len(u.part.Symbols))
	for _, s := range u.part.Symbols {
		d := session.Def{Callable: u.part.Kind == ir.CodePartition}
		if u.stub != nil {
			d.Link = u.stub.Addr
		}
		defs[u.g.s.Intern(s)] = d
	}
	return defs
}

// Materialize translates and loads the partition, then redirects the stub
// before any waiter sees the address.
func (u *partitionUnit) Materialize(ctx context.Context) (map[symtab.Name]uintptr, error) {
	addrs, err := u.g.emit.Emit(ctx, u.lib, u.part)
	if err != nil {
		return nil, err
	}
	if u.stub != nil {
		body, ok := addrs[u.stub.Name]
		if !ok {
			return nil, fmt.Errorf("partition did not export %s", u.stub.Name)
		}
		if err := u.g.stubs.Update(u.stub.Name, body); err != nil {
			return nil, err
		}
	}
	return addrs, nil
}
