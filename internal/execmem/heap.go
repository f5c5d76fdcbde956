package execmem

import (
	"sync"
	"unsafe"
)

// Heap allocates page-aligned Go memory and tracks protection in software.
// It works everywhere, including hosts that forbid executable mappings.
type Heap struct {
	page int

	mu   sync.Mutex
	live map[*Block][]byte // keeps the backing arrays reachable
}

// NewHeap creates a heap provider with the given page size.
func NewHeap(pageSize int) *Heap {
	if pageSize <= 0 {
		pageSize = 4096
	}
	return &Heap{page: pageSize, live: make(map[*Block][]byte)}
}

func (h *Heap) Allocate(size int) (*Block, error) {
	n := roundPages(size, h.page)
	raw := make([]byte, n+h.page)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(raw)))
	skip := int((uintptr(h.page) - base%uintptr(h.page)) % uintptr(h.page))
	b := newBlock(raw[skip : skip+n : skip+n])
	h.mu.Lock()
	h.live[b] = raw
	h.mu.Unlock()
	return b, nil
}

func (h *Heap) Protect(b *Block, p Prot) error {
	if err := checkProt(b, p); err != nil {
		return err
	}
	b.prot.Store(uint32(p))
	return nil
}

func (h *Heap) Release(b *Block) error {
	if !b.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	b.prot.Store(0)
	h.mu.Lock()
	delete(h.live, b)
	h.mu.Unlock()
	return nil
}

func (h *Heap) PageSize() int { return h.page }
func (h *Heap) Name() string  { return "heap" }
