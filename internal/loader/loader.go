// Package loader places translated objects into executable memory.
package loader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"fortio.org/safecast"

	"nanojit/internal/execmem"
	"nanojit/internal/isa"
	"nanojit/internal/machine"
	"nanojit/internal/obj"
)

// LoadError reports an artifact that could not be placed.
type LoadError struct {
	Object string
	Symbol string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("load %s: symbol %s: %v", e.Object, e.Symbol, e.Err)
	}
	return fmt.Sprintf("load %s: %v", e.Object, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ErrUnresolved is wrapped by LoadError when a relocation names a symbol
// neither the object nor the resolver defines.
var ErrUnresolved = errors.New("unresolved symbol")

// Resolver returns the address of a symbol defined outside the object.
type Resolver func(name string) (uintptr, error)

// Loader copies objects into provider memory and registers their code.
type Loader struct {
	mem  execmem.Provider
	code *machine.CodeMap
}

// New creates a loader allocating from mem and mapping into code.
func New(mem execmem.Provider, code *machine.CodeMap) *Loader {
	return &Loader{mem: mem, code: code}
}

// Object is a loaded artifact.
type Object struct {
	Name string
	// Symbols holds the addresses of the exported symbols.
	Symbols map[string]uintptr
	// Funcs marks which exported symbols are functions.
	Funcs map[string]bool

	loader   *Loader
	text     *execmem.Block
	data     *execmem.Block
	released atomic.Bool
}

// Load decodes an encoded artifact and loads it.
func (l *Loader) Load(artifact []byte, resolve Resolver) (*Object, error) {
	o, err := obj.Unmarshal(artifact)
	if err != nil {
		return nil, &LoadError{Object: "<artifact>", Err: err}
	}
	return l.LoadObject(o, resolve)
}

// LoadObject allocates the sections of o, applies its relocations and
// maps the text read+exec. On failure everything allocated is released.
func (l *Loader) LoadObject(o *obj.Object, resolve Resolver) (_ *Object, err error) {
	if err := o.Check(); err != nil {
		return nil, &LoadError{Object: o.Name, Err: err}
	}
	lo := &Object{Name: o.Name, Symbols: make(map[string]uintptr), Funcs: make(map[string]bool), loader: l}
	defer func() {
		if err != nil {
			_ = lo.release()
		}
	}()

	if len(o.Text) > 0 {
		if lo.text, err = l.place(o.Name, o.Text); err != nil {
			return nil, err
		}
	}
	if len(o.Data) > 0 {
		if lo.data, err = l.place(o.Name, o.Data); err != nil {
			return nil, err
		}
	}

	local := make(map[string]uintptr, len(o.Symbols))
	for _, s := range o.Symbols {
		addr, err := lo.addr(s.Section, s.Offset)
		if err != nil {
			return nil, &LoadError{Object: o.Name, Symbol: s.Name, Err: err}
		}
		local[s.Name] = addr
		if s.Binding == obj.Global {
			lo.Symbols[s.Name] = addr
			lo.Funcs[s.Name] = s.Func
		}
	}

	for _, r := range o.Relocs {
		addr, ok := local[r.Symbol]
		if !ok {
			if resolve == nil {
				return nil, &LoadError{Object: o.Name, Symbol: r.Symbol, Err: ErrUnresolved}
			}
			addr, err = resolve(r.Symbol)
			if err != nil {
				return nil, &LoadError{Object: o.Name, Symbol: r.Symbol, Err: err}
			}
		}
		var word [8]byte
		binary.LittleEndian.PutUint64(word[:], uint64(addr)+uint64(r.Addend)) //nolint:gosec // two's complement addend
		off, err := safecast.Conv[int](r.Offset)
		if err != nil {
			return nil, &LoadError{Object: o.Name, Symbol: r.Symbol, Err: err}
		}
		if err := lo.block(r.Section).Write(off, word[:]); err != nil {
			return nil, &LoadError{Object: o.Name, Symbol: r.Symbol, Err: err}
		}
	}

	if lo.text != nil {
		if err := l.mem.Protect(lo.text, execmem.RX); err != nil {
			return nil, &LoadError{Object: o.Name, Err: err}
		}
		l.code.Map(lo.text, o.Name+".text")
	}
	if lo.data != nil {
		l.code.Map(lo.data, o.Name+".data")
	}
	for _, s := range o.Symbols {
		l.code.AddSymbol(local[s.Name], s.Name)
	}
	return lo, nil
}

func (l *Loader) place(name string, section []byte) (*execmem.Block, error) {
	b, err := l.mem.Allocate(len(section))
	if err != nil {
		return nil, &LoadError{Object: name, Err: err}
	}
	if err := b.Write(0, section); err != nil {
		_ = l.mem.Release(b)
		return nil, &LoadError{Object: name, Err: err}
	}
	return b, nil
}

func (lo *Object) block(s obj.Section) *execmem.Block {
	if s == obj.Data {
		return lo.data
	}
	return lo.text
}

func (lo *Object) addr(s obj.Section, off uint64) (uintptr, error) {
	b := lo.block(s)
	if b == nil {
		return 0, fmt.Errorf("empty %s section", s)
	}
	o, err := safecast.Conv[uintptr](off)
	if err != nil {
		return 0, err
	}
	return b.Addr() + o, nil
}

// Lookup returns the address of an exported symbol.
func (lo *Object) Lookup(name string) (uintptr, bool) {
	a, ok := lo.Symbols[name]
	return a, ok
}

// Text returns the loaded code bytes and their base address.
func (lo *Object) Text() ([]byte, uintptr) {
	if lo.text == nil {
		return nil, 0
	}
	return lo.text.Bytes(), lo.text.Addr()
}

// Disassemble lists the loaded code with symbolized addresses.
func (lo *Object) Disassemble() string {
	code, base := lo.Text()
	cm := lo.loader.code
	return isa.Disassemble(code, uint64(base), func(a uint64) string {
		return cm.SymbolAt(uintptr(a))
	})
}

// Release unmaps the object and returns its memory to the provider.
// Release is idempotent.
func (lo *Object) Release() error {
	if !lo.released.CompareAndSwap(false, true) {
		return nil
	}
	return lo.release()
}

func (lo *Object) release() error {
	var errs []error
	for _, b := range []*execmem.Block{lo.text, lo.data} {
		if b == nil {
			continue
		}
		lo.loader.code.Unmap(b)
		if err := lo.loader.mem.Release(b); err != nil {
			errs = append(errs, err)
		}
	}
	lo.text, lo.data = nil, nil
	return errors.Join(errs...)
}
