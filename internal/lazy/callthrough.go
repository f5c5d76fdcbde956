package lazy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"fortio.org/safecast"

	"nanojit/internal/execmem"
	"nanojit/internal/isa"
	"nanojit/internal/machine"
)

// Landing resolves the address a trampoline continues at.
type Landing func(ctx context.Context) (uintptr, error)

// CallThrough owns the trampoline pool. A trampoline is a single trap
// instruction; the CPU hands its id to the landing registered for it.
type CallThrough struct {
	mem execmem.Provider
	cpu *machine.CPU

	mu       sync.RWMutex
	landings []Landing
	blocks   []trampBlock
}

// trampBlock holds the trampolines of ids [first, first+n).
type trampBlock struct {
	b        *execmem.Block
	first, n int
}

// NewCallThrough creates the pool and installs it as cpu's trap handler.
func NewCallThrough(mem execmem.Provider, cpu *machine.CPU) *CallThrough {
	ct := &CallThrough{mem: mem, cpu: cpu}
	cpu.SetTrapHandler(ct.land)
	return ct
}

// Create writes one trampoline per landing and returns their addresses.
func (ct *CallThrough) Create(landings []Landing) ([]uintptr, error) {
	if len(landings) == 0 {
		return nil, nil
	}
	ct.mu.Lock()
	defer ct.mu.Unlock()
	first := len(ct.landings)
	buf := make([]byte, 0, len(landings)*isa.InstrSize)
	for i := range landings {
		id, err := safecast.Conv[int32](first + i)
		if err != nil {
			return nil, err
		}
		buf = isa.Instr{Op: isa.TRAP, Imm32: id}.Append(buf)
	}
	b, err := ct.mem.Allocate(len(buf))
	if err != nil {
		return nil, err
	}
	if err := b.Write(0, buf); err != nil {
		return nil, errors.Join(err, ct.mem.Release(b))
	}
	if err := ct.mem.Protect(b, execmem.RX); err != nil {
		return nil, errors.Join(err, ct.mem.Release(b))
	}
	ct.cpu.CodeMap().Map(b, "trampolines")
	ct.landings = append(ct.landings, landings...)
	ct.blocks = append(ct.blocks, trampBlock{b: b, first: first, n: len(landings)})
	out := make([]uintptr, len(landings))
	for i := range landings {
		out[i] = b.Addr() + uintptr(i*isa.InstrSize) //nolint:gosec // i is a slice index
	}
	return out, nil
}

func (ct *CallThrough) land(ctx context.Context, id int32) (uintptr, error) {
	ct.mu.RLock()
	var l Landing
	if id >= 0 && int(id) < len(ct.landings) {
		l = ct.landings[id]
	}
	ct.mu.RUnlock()
	if l == nil {
		return 0, fmt.Errorf("lazy: unknown trampoline %d", id)
	}
	return l(ctx)
}

// Discard frees the trampolines one Create call returned. Their ids stay
// reserved and trap as unknown.
func (ct *CallThrough) Discard(addrs []uintptr) error {
	if len(addrs) == 0 {
		return nil
	}
	ct.mu.Lock()
	var found *trampBlock
	ct.blocks = slices.DeleteFunc(ct.blocks, func(tb trampBlock) bool {
		if tb.b.Contains(addrs[0]) {
			found = &tb
			return true
		}
		return false
	})
	if found != nil {
		clear(ct.landings[found.first : found.first+found.n])
	}
	ct.mu.Unlock()
	if found == nil {
		return fmt.Errorf("lazy: no trampolines at %#x", addrs[0])
	}
	ct.cpu.CodeMap().Unmap(found.b)
	return ct.mem.Release(found.b)
}

// Release frees every trampoline page.
func (ct *CallThrough) Release() error {
	ct.mu.Lock()
	blocks := ct.blocks
	ct.blocks = nil
	ct.landings = nil
	ct.mu.Unlock()
	var errs []error
	for _, tb := range blocks {
		ct.cpu.CodeMap().Unmap(tb.b)
		if err := ct.mem.Release(tb.b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
