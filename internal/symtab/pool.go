package symtab

import (
	"slices"
	"sync"

	"fortio.org/safecast"
)

// Name is an interned symbol string. Two Names from the same Pool are equal
// iff their strings are equal, so Names can be compared and used as map keys
// directly.
type Name struct {
	entry *entry
}

type entry struct {
	s  string
	id uint32
}

// NoName is the zero Name; it never comes out of a Pool.
var NoName Name

// String returns the interned text.
func (n Name) String() string {
	if n.entry == nil {
		return ""
	}
	return n.entry.s
}

// IsZero reports whether n is NoName.
func (n Name) IsZero() bool { return n.entry == nil }

// ID returns the dense index of the name inside its pool.
func (n Name) ID() uint32 {
	if n.entry == nil {
		return 0
	}
	return n.entry.id
}

// Pool interns strings into Names. Safe for concurrent use.
type Pool struct {
	mu    sync.RWMutex
	byID  []*entry          // индекс -> запись (byID[0] зарезервирован под NoName)
	index map[string]*entry // строка -> запись
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{
		byID:  []*entry{nil},
		index: make(map[string]*entry, 64),
	}
}

// Intern возвращает Name для строки, создавая запись при первом обращении.
func (p *Pool) Intern(s string) Name {
	p.mu.RLock()
	e, ok := p.index[s]
	p.mu.RUnlock()
	if ok {
		return Name{entry: e}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.index[s]; ok {
		return Name{entry: e}
	}
	// Собственная копия строки, чтобы не держать исходный буфер.
	cpy := string([]byte(s))
	id, err := safecast.Conv[uint32](len(p.byID))
	if err != nil {
		panic("symtab: pool overflow")
	}
	e = &entry{s: cpy, id: id}
	p.byID = append(p.byID, e)
	p.index[cpy] = e
	return Name{entry: e}
}

// Find returns the Name for s without interning it.
func (p *Pool) Find(s string) (Name, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.index[s]
	if !ok {
		return NoName, false
	}
	return Name{entry: e}, true
}

// Len returns the number of interned names (NoName excluded).
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byID) - 1
}

// Snapshot returns all interned strings in interning order.
func (p *Pool) Snapshot() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.byID)-1)
	for _, e := range p.byID[1:] {
		out = append(out, e.s)
	}
	return slices.Clip(out)
}
