// Package session owns symbol scopes and drives on-demand materialization.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"nanojit/internal/symtab"
	"nanojit/internal/trace"
)

// Session owns the symbol pool and every library. It is safe for
// concurrent use.
type Session struct {
	pool    *symtab.Pool
	mangler *symtab.Mangler
	tracer  trace.Tracer

	mu       sync.Mutex
	libs     []*Library
	closed   bool
	inflight sync.WaitGroup
}

// New creates a session whose names carry globalPrefix.
func New(globalPrefix string, tracer trace.Tracer) *Session {
	if tracer == nil {
		tracer = trace.Nop
	}
	pool := symtab.NewPool()
	return &Session{pool: pool, mangler: symtab.NewMangler(pool, globalPrefix), tracer: tracer}
}

func (s *Session) Pool() *symtab.Pool             { return s.pool }
func (s *Session) Mangler() *symtab.Mangler       { return s.mangler }
func (s *Session) Tracer() trace.Tracer           { return s.tracer }
func (s *Session) Intern(name string) symtab.Name { return s.mangler.Mangle(name) }

// Closed reports whether EndSession was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CreateLibrary adds an empty scope. Library names are unique.
func (s *Session) CreateLibrary(name string) (*Library, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	for _, l := range s.libs {
		if l.name == name {
			return nil, fmt.Errorf("session: library %q already exists", name)
		}
	}
	l := &Library{name: name, id: uuid.New(), session: s, symbols: make(map[symtab.Name]*symbol)}
	s.libs = append(s.libs, l)
	trace.Point(s.tracer, trace.ScopeModule, "create_library", name)
	return l, nil
}

// Library returns the scope called name.
func (s *Session) Library(name string) (*Library, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.libs {
		if l.name == name {
			return l, true
		}
	}
	return nil, false
}

// Libraries returns every scope in creation order.
func (s *Session) Libraries() []*Library {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.libs)
}

// Lookup mangles name and resolves it.
func (s *Session) Lookup(ctx context.Context, scopes []*Library, name string) (uintptr, error) {
	return s.LookupName(ctx, scopes, s.Intern(name))
}

// LookupName searches scopes in order and returns the final address of
// name, materializing its unit if needed. It blocks until the address is
// available and never returns a stub.
func (s *Session) LookupName(ctx context.Context, scopes []*Library, name symtab.Name) (uintptr, error) {
	lib, sym, err := s.find(ctx, scopes, name)
	if err != nil {
		return 0, err
	}
	return s.resolve(ctx, lib, sym, name)
}

// LinkAddress returns the address code should link against: the stub of a
// lazy symbol without materializing it, otherwise the final address.
func (s *Session) LinkAddress(ctx context.Context, scopes []*Library, name symtab.Name) (uintptr, error) {
	lib, sym, err := s.find(ctx, scopes, name)
	if err != nil {
		return 0, err
	}
	if sym.def.Link != 0 {
		return sym.def.Link, nil
	}
	return s.resolve(ctx, lib, sym, name)
}

func (s *Session) find(ctx context.Context, scopes []*Library, name symtab.Name) (*Library, *symbol, error) {
	if s.Closed() {
		return nil, nil, ErrSessionClosed
	}
	for _, l := range scopes {
		sym, err := l.find(ctx, name)
		if err != nil {
			return nil, nil, fmt.Errorf("generate %s in %s: %w", name, l.name, err)
		}
		if sym != nil {
			return l, sym, nil
		}
	}
	names := make([]string, len(scopes))
	for i, l := range scopes {
		names[i] = l.name
	}
	return nil, nil, &SymbolNotFoundError{Name: name.String(), Scopes: names}
}

// resolve waits for, or performs, the materialization behind sym.
func (s *Session) resolve(ctx context.Context, lib *Library, sym *symbol, name symtab.Name) (uintptr, error) {
	u := sym.unit
	if u == nil {
		return sym.addr, nil
	}
	lib.mu.Lock()
	switch u.state {
	case StateDone:
		addr := u.addrs[name]
		lib.mu.Unlock()
		return addr, nil
	case StateFailed:
		err := u.err
		lib.mu.Unlock()
		return 0, &MaterializationError{Unit: u.unit.Name(), Symbol: name.String(), Err: err}
	case StatePending:
		u.state = StateMaterializing
		lib.mu.Unlock()
		if err := s.begin(); err != nil {
			lib.mu.Lock()
			u.state, u.err = StateFailed, err
			lib.mu.Unlock()
			close(u.done)
			return 0, err
		}
		s.materialize(ctx, u, name)
	default:
		lib.mu.Unlock()
	}

	select {
	case <-u.done:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	lib.mu.Lock()
	defer lib.mu.Unlock()
	if u.state == StateFailed {
		return 0, &MaterializationError{Unit: u.unit.Name(), Symbol: name.String(), Err: u.err}
	}
	return u.addrs[name], nil
}

// begin registers in-flight work unless the session is ending.
func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.inflight.Add(1)
	return nil
}

// materialize runs u on the calling goroutine. Cancellation of the
// triggering caller does not abort the unit: other callers may be waiting
// for the same symbols and units are never retried.
func (s *Session) materialize(ctx context.Context, u *unitState, trigger symtab.Name) {
	defer s.inflight.Done()
	ctx = context.WithoutCancel(ctx)
	span := trace.Begin(s.tracer, trace.ScopeSymbol, "materialize", trace.CurrentSpan(ctx)).
		WithExtra("unit", u.unit.Name()).
		WithExtra("symbol", trigger.String())
	u.run(trace.WithSpan(ctx, span))
	detail := "ok"
	if err := u.errValue(); err != nil {
		detail = err.Error()
	}
	span.End(detail)
}

// EndSession refuses new work, waits for in-flight materializations and
// releases every library's resources. Later calls return nil.
func (s *Session) EndSession() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	libs := slices.Clone(s.libs)
	s.mu.Unlock()

	span := trace.Begin(s.tracer, trace.ScopeEngine, "end_session", 0)
	s.inflight.Wait()
	var errs []error
	for i := len(libs) - 1; i >= 0; i-- {
		if err := libs[i].release(); err != nil {
			errs = append(errs, fmt.Errorf("library %s: %w", libs[i].name, err))
		}
	}
	err := errors.Join(errs...)
	detail := "ok"
	if err != nil {
		detail = err.Error()
	}
	span.End(detail)
	return err
}
