package machine

import (
	"fmt"
	"sync"

	"github.com/google/btree"

	"nanojit/internal/execmem"
)

// Region is a mapped block known to the machine.
type Region struct {
	Base  uintptr
	End   uintptr
	Block *execmem.Block
	Name  string
}

// Exec reports whether instructions may be fetched from the region.
func (r *Region) Exec() bool { return r.Block.Prot()&execmem.ProtExec != 0 }

type symbolEntry struct {
	addr uintptr
	name string
}

// CodeMap indexes every block holding generated code or data by address.
// Instruction fetches outside an executable region fault.
type CodeMap struct {
	mu      sync.RWMutex
	regions *btree.BTreeG[*Region]
	symbols *btree.BTreeG[symbolEntry]
}

// NewCodeMap creates an empty map.
func NewCodeMap() *CodeMap {
	return &CodeMap{
		regions: btree.NewG[*Region](8, func(a, b *Region) bool { return a.Base < b.Base }),
		symbols: btree.NewG[symbolEntry](8, func(a, b symbolEntry) bool { return a.addr < b.addr }),
	}
}

// Map registers b under name.
func (m *CodeMap) Map(b *execmem.Block, name string) *Region {
	r := &Region{Base: b.Addr(), End: b.Addr() + uintptr(b.Size()), Block: b, Name: name}
	m.mu.Lock()
	m.regions.ReplaceOrInsert(r)
	m.mu.Unlock()
	return r
}

// Unmap forgets b and the symbols inside it.
func (m *CodeMap) Unmap(b *execmem.Block) {
	base, end := b.Addr(), b.Addr()+uintptr(b.Size())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regions.Delete(&Region{Base: base})
	var drop []symbolEntry
	m.symbols.AscendRange(symbolEntry{addr: base}, symbolEntry{addr: end}, func(s symbolEntry) bool {
		drop = append(drop, s)
		return true
	})
	for _, s := range drop {
		m.symbols.Delete(s)
	}
}

// Find returns the region containing addr.
func (m *CodeMap) Find(addr uintptr) (*Region, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *Region
	m.regions.DescendLessOrEqual(&Region{Base: addr}, func(r *Region) bool {
		found = r
		return false
	})
	if found == nil || addr >= found.End {
		return nil, false
	}
	return found, true
}

// Len returns the number of mapped regions.
func (m *CodeMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.regions.Len()
}

// AddSymbol names addr for listings and fault messages.
func (m *CodeMap) AddSymbol(addr uintptr, name string) {
	m.mu.Lock()
	m.symbols.ReplaceOrInsert(symbolEntry{addr: addr, name: name})
	m.mu.Unlock()
}

// SymbolAt returns the symbol defined exactly at addr.
func (m *CodeMap) SymbolAt(addr uintptr) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.symbols.Get(symbolEntry{addr: addr})
	if !ok {
		return ""
	}
	return s.name
}

// Symbolize renders addr as "name+off" using the closest preceding symbol
// of the same region.
func (m *CodeMap) Symbolize(addr uintptr) string {
	r, ok := m.Find(addr)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sym symbolEntry
	found := false
	m.symbols.DescendLessOrEqual(symbolEntry{addr: addr}, func(s symbolEntry) bool {
		sym, found = s, true
		return false
	})
	switch {
	case found && ok && sym.addr >= r.Base:
		if sym.addr == addr {
			return sym.name
		}
		return fmt.Sprintf("%s+%#x", sym.name, addr-sym.addr)
	case ok:
		return fmt.Sprintf("%s+%#x", r.Name, addr-r.Base)
	}
	return fmt.Sprintf("%#x", addr)
}
