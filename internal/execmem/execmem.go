// Package execmem hands out page-aligned memory for generated code and
// controls its protection. Memory is never writable and executable at the
// same time.
package execmem

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/docker/go-units"
)

// Prot is a set of page permissions.
type Prot uint8

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec

	RW = ProtRead | ProtWrite
	RX = ProtRead | ProtExec
)

func (p Prot) String() string {
	b := []byte("---")
	if p&ProtRead != 0 {
		b[0] = 'r'
	}
	if p&ProtWrite != 0 {
		b[1] = 'w'
	}
	if p&ProtExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

var (
	// ErrWriteExec rejects a writable and executable protection.
	ErrWriteExec = errors.New("execmem: write and exec requested together")
	// ErrReadOnly is returned when writing a block that is not writable.
	ErrReadOnly = errors.New("execmem: block is not writable")
	// ErrReleased is returned for operations on a released block.
	ErrReleased = errors.New("execmem: block released")
	// ErrLimit is returned when an allocation exceeds the configured limit.
	ErrLimit = errors.New("execmem: allocation limit exceeded")
)

// Block is a page-aligned allocation.
type Block struct {
	mem      []byte
	prot     atomic.Uint32
	released atomic.Bool
}

func newBlock(mem []byte) *Block {
	b := &Block{mem: mem}
	b.prot.Store(uint32(RW))
	return b
}

// Addr returns the address of the first byte.
func (b *Block) Addr() uintptr { return uintptr(unsafe.Pointer(unsafe.SliceData(b.mem))) }

// Size returns the block size in bytes (a multiple of the page size).
func (b *Block) Size() int { return len(b.mem) }

// Prot returns the current protection.
func (b *Block) Prot() Prot { return Prot(b.prot.Load()) }

// Bytes returns a read view of the block. Writing through it bypasses the
// protection checks and faults on read-only mmap pages.
func (b *Block) Bytes() []byte { return b.mem }

// Contains reports whether addr lies inside the block.
func (b *Block) Contains(addr uintptr) bool {
	base := b.Addr()
	return addr >= base && addr < base+uintptr(len(b.mem))
}

// Write copies p to offset off.
func (b *Block) Write(off int, p []byte) error {
	if b.released.Load() {
		return ErrReleased
	}
	if b.Prot()&ProtWrite == 0 {
		return ErrReadOnly
	}
	if off < 0 || off+len(p) > len(b.mem) {
		return fmt.Errorf("execmem: write [%d,+%d) outside block of %d bytes", off, len(p), len(b.mem))
	}
	copy(b.mem[off:], p)
	return nil
}

// Provider allocates and protects blocks.
type Provider interface {
	// Allocate returns a zeroed read+write block of at least size bytes.
	Allocate(size int) (*Block, error)
	Protect(b *Block, p Prot) error
	Release(b *Block) error
	PageSize() int
	Name() string
}

func checkProt(b *Block, p Prot) error {
	if b.released.Load() {
		return ErrReleased
	}
	if p&ProtWrite != 0 && p&ProtExec != 0 {
		return ErrWriteExec
	}
	return nil
}

func roundPages(size, page int) int {
	if size <= 0 {
		size = 1
	}
	return (size + page - 1) &^ (page - 1)
}

// New returns the provider called kind ("mmap" or "heap").
func New(kind string, pageSize int) (Provider, error) {
	switch strings.ToLower(kind) {
	case "", "mmap":
		return newMmap(pageSize)
	case "heap":
		return NewHeap(pageSize), nil
	}
	return nil, fmt.Errorf("execmem: unknown provider %q (expected: mmap|heap)", kind)
}

// Limited caps the bytes a provider may have outstanding.
type Limited struct {
	Provider
	limit int64

	mu    sync.Mutex
	inUse int64
	sizes map[*Block]int64
}

// NewLimited wraps p; limit <= 0 means unlimited.
func NewLimited(p Provider, limit int64) *Limited {
	return &Limited{Provider: p, limit: limit, sizes: make(map[*Block]int64)}
}

func (l *Limited) Allocate(size int) (*Block, error) {
	need := int64(roundPages(size, l.PageSize()))
	l.mu.Lock()
	if l.limit > 0 && l.inUse+need > l.limit {
		inUse := l.inUse
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s in use, %s requested, limit %s", ErrLimit,
			units.BytesSize(float64(inUse)), units.BytesSize(float64(need)), units.BytesSize(float64(l.limit)))
	}
	l.inUse += need
	l.mu.Unlock()

	b, err := l.Provider.Allocate(size)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.inUse -= need
		return nil, err
	}
	l.sizes[b] = need
	return b, nil
}

func (l *Limited) Release(b *Block) error {
	err := l.Provider.Release(b)
	l.mu.Lock()
	if n, ok := l.sizes[b]; ok {
		l.inUse -= n
		delete(l.sizes, b)
	}
	l.mu.Unlock()
	return err
}

// InUse returns the bytes currently allocated.
func (l *Limited) InUse() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inUse
}
