package session

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"

	"nanojit/internal/symtab"
)

// Generator defines symbols on demand when a lookup misses a library.
type Generator interface {
	// Generate defines name in lib if it can; it reports whether it did.
	Generate(ctx context.Context, lib *Library, name symtab.Name) (bool, error)
}

// Resource is released when the session ends.
type Resource interface {
	Release() error
}

type symbol struct {
	def  Def
	addr uintptr    // absolute definitions
	unit *unitState // lazy definitions
}

// Library is a named symbol scope.
type Library struct {
	name    string
	id      uuid.UUID
	session *Session

	mu         sync.Mutex
	symbols    map[symtab.Name]*symbol
	units      []*unitState
	generators []Generator
	resources  []Resource
	linkOrder  []*Library
}

func (l *Library) Name() string      { return l.name }
func (l *Library) ID() uuid.UUID     { return l.id }
func (l *Library) Session() *Session { return l.session }
func (l *Library) String() string    { return l.name }

// Define registers a lazy unit. Its symbols become visible at once; the
// unit itself only runs on first lookup.
func (l *Library) Define(u MaterializationUnit) error {
	return l.DefineAll(u)
}

// DefineAll registers every unit or, on a conflict, none of them.
func (l *Library) DefineAll(units ...MaterializationUnit) error {
	if l.session.Closed() {
		return ErrSessionClosed
	}
	defs := make([]map[symtab.Name]Def, len(units))
	for i, u := range units {
		defs[i] = u.Symbols()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[symtab.Name]struct{})
	for _, d := range defs {
		for name := range d {
			_, dup := l.symbols[name]
			if _, again := seen[name]; dup || again {
				return &DuplicateDefinitionError{Name: name.String(), Library: l.name}
			}
			seen[name] = struct{}{}
		}
	}
	for i, u := range units {
		us := &unitState{unit: u, lib: l, done: make(chan struct{})}
		l.units = append(l.units, us)
		for name, def := range defs[i] {
			l.symbols[name] = &symbol{def: def, unit: us}
		}
	}
	return nil
}

// DefineAbsolute binds name to a fixed address.
func (l *Library) DefineAbsolute(name symtab.Name, addr uintptr, callable bool) error {
	if l.session.Closed() {
		return ErrSessionClosed
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.symbols[name]; dup {
		return &DuplicateDefinitionError{Name: name.String(), Library: l.name}
	}
	l.symbols[name] = &symbol{def: Def{Callable: callable}, addr: addr}
	return nil
}

// AddGenerator appends a fallback consulted when a lookup misses.
func (l *Library) AddGenerator(g Generator) {
	l.mu.Lock()
	l.generators = append(l.generators, g)
	l.mu.Unlock()
}

// AddResource ties r to the library's lifetime.
func (l *Library) AddResource(r Resource) {
	l.mu.Lock()
	l.resources = append(l.resources, r)
	l.mu.Unlock()
}

// Contains reports whether name is defined, without running generators.
func (l *Library) Contains(name symtab.Name) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.symbols[name]
	return ok
}

// SymbolState returns the state of the unit defining name. Absolute
// symbols report StateDone.
func (l *Library) SymbolState(name symtab.Name) (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.symbols[name]
	if !ok {
		return 0, false
	}
	if s.unit == nil {
		return StateDone, true
	}
	return s.unit.state, true
}

// SetLinkOrder sets the scopes used to resolve external references of code
// loaded into the library. The library itself is always searched first.
func (l *Library) SetLinkOrder(scopes ...*Library) {
	order := []*Library{l}
	for _, s := range scopes {
		if s != l && !slices.Contains(order, s) {
			order = append(order, s)
		}
	}
	l.mu.Lock()
	l.linkOrder = order
	l.mu.Unlock()
}

// LinkOrder returns the scopes external references resolve against.
func (l *Library) LinkOrder() []*Library {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.linkOrder) == 0 {
		return []*Library{l}
	}
	return slices.Clone(l.linkOrder)
}

// find returns the symbol for name, consulting generators on a miss.
func (l *Library) find(ctx context.Context, name symtab.Name) (*symbol, error) {
	l.mu.Lock()
	s, ok := l.symbols[name]
	gens := slices.Clone(l.generators)
	l.mu.Unlock()
	if ok {
		return s, nil
	}
	for _, g := range gens {
		defined, err := g.Generate(ctx, l, name)
		if err != nil {
			return nil, err
		}
		if defined {
			l.mu.Lock()
			s, ok = l.symbols[name]
			l.mu.Unlock()
			if ok {
				return s, nil
			}
		}
	}
	return nil, nil
}

// release frees the library's resources in reverse order.
func (l *Library) release() error {
	l.mu.Lock()
	res := l.resources
	l.resources = nil
	l.mu.Unlock()
	var errs []error
	for i := len(res) - 1; i >= 0; i-- {
		if err := res[i].Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
