// Package lazy defers translation of functions until they are first called.
package lazy

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"fortio.org/safecast"

	"nanojit/internal/execmem"
	"nanojit/internal/isa"
	"nanojit/internal/machine"
	"nanojit/internal/symtab"
)

// ErrStubUpdated is returned when a stub is redirected a second time.
var ErrStubUpdated = errors.New("lazy: stub already updated")

// Stub is an indirect jump through a pointer slot. Code that links against
// a lazy function calls the stub; the slot first holds a call-through
// trampoline and later the compiled body.
type Stub struct {
	Name symtab.Name
	Addr uintptr
	Slot uintptr

	updated atomic.Bool
}

type stubPage struct {
	code  *execmem.Block
	slots *execmem.Block
}

// Stubs allocates stubs in batches: code in read+exec pages, slots in
// read+write pages.
type Stubs struct {
	mem execmem.Provider
	cpu *machine.CPU

	mu      sync.Mutex
	pages   []stubPage
	stubs   map[symtab.Name]*Stub
	perPage int
}

// NewStubs creates a stub manager.
func NewStubs(mem execmem.Provider, cpu *machine.CPU) *Stubs {
	return &Stubs{mem: mem, cpu: cpu, stubs: make(map[symtab.Name]*Stub)}
}

// StubInit names a stub and its initial target.
type StubInit struct {
	Name   symtab.Name
	Target uintptr
}

// SetPageStubs caps how many stubs share one code page; n <= 0 puts each
// Create batch on its own pages.
func (s *Stubs) SetPageStubs(n int) {
	s.mu.Lock()
	s.perPage = n
	s.mu.Unlock()
}

// Create writes one stub per entry. Either every stub is created or none.
func (s *Stubs) Create(defs []StubInit) ([]*Stub, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[symtab.Name]struct{}, len(defs))
	for _, d := range defs {
		_, dup := s.stubs[d.Name]
		if _, again := seen[d.Name]; dup || again {
			return nil, fmt.Errorf("lazy: stub for %s exists", d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	chunk := s.perPage
	if chunk <= 0 {
		chunk = len(defs)
	}
	out := make([]*Stub, 0, len(defs))
	created := len(s.pages)
	for start := 0; start < len(defs); start += chunk {
		batch, err := s.createPage(defs[start:min(start+chunk, len(defs))])
		if err != nil {
			for _, st := range out {
				delete(s.stubs, st.Name)
			}
			var errs []error
			for _, p := range s.pages[created:] {
				errs = append(errs, s.releasePage(p))
			}
			s.pages = s.pages[:created]
			return nil, errors.Join(append([]error{err}, errs...)...)
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (s *Stubs) createPage(defs []StubInit) (_ []*Stub, err error) {
	code, err := s.mem.Allocate(len(defs) * isa.InstrSize)
	if err != nil {
		return nil, err
	}
	slots, err := s.mem.Allocate(len(defs) * 8)
	if err != nil {
		return nil, errors.Join(err, s.mem.Release(code))
	}
	page := stubPage{code: code, slots: slots}
	defer func() {
		if err != nil {
			err = errors.Join(err, s.releasePage(page))
		}
	}()

	cm := s.cpu.CodeMap()
	cm.Map(slots, "stub-slots")
	buf := make([]byte, 0, len(defs)*isa.InstrSize)
	out := make([]*Stub, len(defs))
	for i, d := range defs {
		off, err := safecast.Conv[uintptr](i)
		if err != nil {
			return nil, err
		}
		st := &Stub{Name: d.Name, Addr: code.Addr() + off*isa.InstrSize, Slot: slots.Addr() + off*8}
		if err := s.cpu.StoreSlot(st.Slot, d.Target); err != nil {
			return nil, err
		}
		buf = isa.Instr{Op: isa.JMPI, Imm64: uint64(st.Slot)}.Append(buf)
		out[i] = st
	}
	if err := code.Write(0, buf); err != nil {
		return nil, err
	}
	if err := s.mem.Protect(code, execmem.RX); err != nil {
		return nil, err
	}
	cm.Map(code, "stubs")
	for _, st := range out {
		cm.AddSymbol(st.Addr, "stub:"+st.Name.String())
		s.stubs[st.Name] = st
	}
	s.pages = append(s.pages, page)
	return out, nil
}

// Get returns the stub of name.
func (s *Stubs) Get(name symtab.Name) (*Stub, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stubs[name]
	return st, ok
}

// Update points the stub of name at addr with one atomic store. A stub is
// updated at most once.
func (s *Stubs) Update(name symtab.Name, addr uintptr) error {
	st, ok := s.Get(name)
	if !ok {
		return fmt.Errorf("lazy: no stub for %s", name)
	}
	if !st.updated.CompareAndSwap(false, true) {
		return ErrStubUpdated
	}
	return s.cpu.StoreSlot(st.Slot, addr)
}

// Target returns the current slot value of name's stub.
func (s *Stubs) Target(name symtab.Name) (uintptr, error) {
	st, ok := s.Get(name)
	if !ok {
		return 0, fmt.Errorf("lazy: no stub for %s", name)
	}
	return s.cpu.LoadSlot(st.Slot)
}

// Discard removes a batch returned by one Create call and frees its pages.
func (s *Stubs) Discard(batch []*Stub) error {
	if len(batch) == 0 {
		return nil
	}
	s.mu.Lock()
	owned := make(map[*execmem.Block]bool)
	for _, st := range batch {
		delete(s.stubs, st.Name)
		for _, p := range s.pages {
			if p.code.Contains(st.Addr) {
				owned[p.code] = true
			}
		}
	}
	var drop []stubPage
	s.pages = slices.DeleteFunc(s.pages, func(p stubPage) bool {
		if owned[p.code] {
			drop = append(drop, p)
			return true
		}
		return false
	})
	s.mu.Unlock()
	var errs []error
	for _, p := range drop {
		errs = append(errs, s.releasePage(p))
	}
	return errors.Join(errs...)
}

// Release frees every stub page.
func (s *Stubs) Release() error {
	s.mu.Lock()
	pages := s.pages
	s.pages = nil
	s.stubs = make(map[symtab.Name]*Stub)
	s.mu.Unlock()
	var errs []error
	for _, p := range pages {
		if err := s.releasePage(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Stubs) releasePage(p stubPage) error {
	cm := s.cpu.CodeMap()
	cm.Unmap(p.code)
	cm.Unmap(p.slots)
	return errors.Join(s.mem.Release(p.code), s.mem.Release(p.slots))
}
