//go:build unix

package execmem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Mmap maps anonymous private pages and changes their protection with
// mprotect.
type Mmap struct {
	page int
}

func newMmap(pageSize int) (Provider, error) {
	if pageSize <= 0 {
		pageSize = unix.Getpagesize()
	}
	return &Mmap{page: pageSize}, nil
}

func (m *Mmap) Allocate(size int) (*Block, error) {
	n := roundPages(size, m.page)
	mem, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("execmem: mmap %d bytes: %w", n, err)
	}
	return newBlock(mem), nil
}

func (m *Mmap) Protect(b *Block, p Prot) error {
	if err := checkProt(b, p); err != nil {
		return err
	}
	flags := 0
	if p&ProtRead != 0 {
		flags |= unix.PROT_READ
	}
	if p&ProtWrite != 0 {
		flags |= unix.PROT_WRITE
	}
	if p&ProtExec != 0 {
		flags |= unix.PROT_EXEC
	}
	if err := unix.Mprotect(b.mem, flags); err != nil {
		return fmt.Errorf("execmem: mprotect %s: %w", p, err)
	}
	b.prot.Store(uint32(p))
	return nil
}

func (m *Mmap) Release(b *Block) error {
	if !b.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	b.prot.Store(0)
	if err := unix.Munmap(b.mem); err != nil {
		return fmt.Errorf("execmem: munmap: %w", err)
	}
	return nil
}

func (m *Mmap) PageSize() int { return m.page }
func (m *Mmap) Name() string  { return "mmap" }
