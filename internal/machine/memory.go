package machine

import (
	"encoding/binary"
	"math"
	"sync/atomic"
	"unsafe"

	"nanojit/internal/execmem"
	"nanojit/internal/isa"
)

// minAddr is the lowest address generated code may touch; lower addresses
// are treated as null dereferences.
const minAddr = 4096

// bytesAt returns a view of n bytes at addr. Addresses inside mapped
// regions go through the block; anything else is caller memory passed in
// as a pointer argument, and a wild address faults through the runtime's
// panic-on-fault mode.
//
//go:nocheckptr
func (c *CPU) bytesAt(addr uintptr, n int, write bool) ([]byte, *Fault) {
	if addr < minAddr || addr+uintptr(n) < addr {
		return nil, &Fault{Kind: FaultBadAddress, Addr: addr}
	}
	if r, ok := c.code.Find(addr); ok {
		if addr+uintptr(n) > r.End {
			return nil, &Fault{Kind: FaultBadAddress, Addr: addr}
		}
		if write && r.Block.Prot()&execmem.ProtWrite == 0 {
			return nil, &Fault{Kind: FaultBadAddress, Addr: addr, Err: execmem.ErrReadOnly}
		}
		off := addr - r.Base
		return r.Block.Bytes()[off : off+uintptr(n)], nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n), nil //nolint:govet // addresses come from generated code
}

func (c *CPU) load(addr uintptr, kind isa.MemKind) (uint64, *Fault) {
	b, f := c.bytesAt(addr, kind.Size(), false)
	if f != nil {
		return 0, f
	}
	switch kind {
	case isa.MemI8:
		return uint64(int64(int8(b[0]))), nil
	case isa.MemI1:
		return uint64(b[0] & 1), nil
	case isa.MemI32:
		return uint64(int64(int32(binary.LittleEndian.Uint32(b)))), nil
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *CPU) store(addr uintptr, kind isa.MemKind, v uint64) *Fault {
	b, f := c.bytesAt(addr, kind.Size(), true)
	if f != nil {
		return f
	}
	switch kind {
	case isa.MemI8, isa.MemI1:
		b[0] = byte(v)
	case isa.MemI32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
	return nil
}

// LoadSlot atomically reads the pointer slot at addr. Slots live in mapped
// read+write regions and are 8-byte aligned.
func (c *CPU) LoadSlot(addr uintptr) (uintptr, error) {
	p, f := c.slot(addr)
	if f != nil {
		return 0, f
	}
	return uintptr(atomic.LoadUint64(p)), nil
}

// StoreSlot atomically publishes v into the slot at addr.
func (c *CPU) StoreSlot(addr, v uintptr) error {
	p, f := c.slot(addr)
	if f != nil {
		return f
	}
	atomic.StoreUint64(p, uint64(v))
	return nil
}

//go:nocheckptr
func (c *CPU) slot(addr uintptr) (*uint64, *Fault) {
	r, ok := c.code.Find(addr)
	if !ok || addr%8 != 0 || addr+8 > r.End {
		return nil, &Fault{Kind: FaultBadAddress, Addr: addr}
	}
	return (*uint64)(unsafe.Pointer(&r.Block.Bytes()[addr-r.Base])), nil
}

// canon brings v into canonical form for an integer of the given width.
func canon(v uint64, width int32) uint64 {
	switch width {
	case 1:
		return v & 1
	case 8:
		return uint64(int64(int8(v)))
	case 32:
		return uint64(int64(int32(v)))
	}
	return v
}

func f64(v uint64) float64 { return math.Float64frombits(v) }

func bits(f float64) uint64 { return math.Float64bits(f) }

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
