// Package host exposes process primitives to generated code.
package host

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"unsafe"

	"fortio.org/safecast"

	"nanojit/internal/machine"
)

// ErrAbort is returned by the abort primitive.
var ErrAbort = errors.New("abort called")

// Registry maps names to host primitives.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]machine.HostFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]machine.HostFunc)}
}

// Defaults returns a registry with the math and memory primitives.
func Defaults() *Registry {
	r := NewRegistry()
	f1 := func(fn func(float64) float64) machine.HostFunc {
		return func(args []uint64) (uint64, error) {
			return math.Float64bits(fn(math.Float64frombits(arg(args, 0)))), nil
		}
	}
	f2 := func(fn func(float64, float64) float64) machine.HostFunc {
		return func(args []uint64) (uint64, error) {
			return math.Float64bits(fn(math.Float64frombits(arg(args, 0)), math.Float64frombits(arg(args, 1)))), nil
		}
	}
	r.Register("sqrt", f1(math.Sqrt))
	r.Register("fabs", f1(math.Abs))
	r.Register("floor", f1(math.Floor))
	r.Register("ceil", f1(math.Ceil))
	r.Register("pow", f2(math.Pow))
	r.Register("fmin", f2(math.Min))
	r.Register("fmax", f2(math.Max))
	r.Register("labs", func(args []uint64) (uint64, error) {
		v := int64(arg(args, 0))
		if v < 0 {
			v = -v
		}
		return uint64(v), nil
	})
	r.Register("memcpy", memmove)
	r.Register("memmove", memmove)
	r.Register("memset", func(args []uint64) (uint64, error) {
		dst, err := span(arg(args, 0), arg(args, 2))
		if err != nil {
			return 0, err
		}
		for i := range dst {
			dst[i] = byte(arg(args, 1))
		}
		return arg(args, 0), nil
	})
	r.Register("memcmp", func(args []uint64) (uint64, error) {
		a, err := span(arg(args, 0), arg(args, 2))
		if err != nil {
			return 0, err
		}
		b, err := span(arg(args, 1), arg(args, 2))
		if err != nil {
			return 0, err
		}
		return uint64(int64(bytes.Compare(a, b))), nil
	})
	r.Register("abort", func([]uint64) (uint64, error) { return 0, ErrAbort })
	return r
}

// Register adds or replaces a primitive.
func (r *Registry) Register(name string, fn machine.HostFunc) {
	r.mu.Lock()
	r.funcs[name] = fn
	r.mu.Unlock()
}

// Get returns the primitive called name.
func (r *Registry) Get(name string) (machine.HostFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func arg(args []uint64, i int) uint64 {
	if i < len(args) {
		return args[i]
	}
	return 0
}

// span views n bytes of process memory at addr.
//
//go:nocheckptr
func span(addr, n uint64) ([]byte, error) {
	size, err := safecast.Conv[int](n)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	if addr < 4096 {
		return nil, fmt.Errorf("null pointer %#x", addr)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), size), nil //nolint:govet // addresses come from generated code
}

func memmove(args []uint64) (uint64, error) {
	dst, err := span(arg(args, 0), arg(args, 2))
	if err != nil {
		return 0, err
	}
	src, err := span(arg(args, 1), arg(args, 2))
	if err != nil {
		return 0, err
	}
	copy(dst, src)
	return arg(args, 0), nil
}
