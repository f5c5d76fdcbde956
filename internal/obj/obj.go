// Package obj defines the linkable artifact the translator produces and the
// loader consumes.
package obj

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Version of the artifact encoding; bump when Object changes shape.
const Version uint16 = 1

// Section identifies where a symbol or relocation lives.
type Section uint8

const (
	Text Section = iota // code, mapped read+exec
	Data                // globals, mapped read+write
)

func (s Section) String() string {
	if s == Data {
		return "data"
	}
	return "text"
}

// Binding is the visibility of a symbol.
type Binding uint8

const (
	Local  Binding = iota // resolvable only inside the artifact
	Global                // exported to the session
)

// Symbol is a named offset into a section.
type Symbol struct {
	Name    string  `msgpack:"n"`
	Section Section `msgpack:"s"`
	Offset  uint64  `msgpack:"o"`
	Size    uint64  `msgpack:"z"`
	Binding Binding `msgpack:"b"`
	Func    bool    `msgpack:"f"`
}

// Reloc asks the loader to store the absolute address of Symbol+Addend as
// 8 little-endian bytes at Offset of Section.
type Reloc struct {
	Section Section `msgpack:"s"`
	Offset  uint64  `msgpack:"o"`
	Symbol  string  `msgpack:"n"`
	Addend  int64   `msgpack:"a"`
}

// Object is one translated partition.
type Object struct {
	Version    uint16   `msgpack:"v"`
	Name       string   `msgpack:"name"`
	Triple     string   `msgpack:"triple"`
	DataLayout string   `msgpack:"layout"`
	Text       []byte   `msgpack:"text"`
	Data       []byte   `msgpack:"data"`
	Symbols    []Symbol `msgpack:"syms"`
	Relocs     []Reloc  `msgpack:"relocs"`
}

// Lookup returns the symbol named name.
func (o *Object) Lookup(name string) (Symbol, bool) {
	for _, s := range o.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

// Exported returns the global symbols.
func (o *Object) Exported() []Symbol {
	var out []Symbol
	for _, s := range o.Symbols {
		if s.Binding == Global {
			out = append(out, s)
		}
	}
	return out
}

func (o *Object) section(s Section) []byte {
	if s == Data {
		return o.Data
	}
	return o.Text
}

// Check verifies that symbols and relocations stay inside their sections.
func (o *Object) Check() error {
	var errs []error
	seen := make(map[string]struct{}, len(o.Symbols))
	for _, s := range o.Symbols {
		if _, dup := seen[s.Name]; dup {
			errs = append(errs, fmt.Errorf("symbol %q defined twice", s.Name))
		}
		seen[s.Name] = struct{}{}
		if s.Offset+s.Size > uint64(len(o.section(s.Section))) {
			errs = append(errs, fmt.Errorf("symbol %q [%d,+%d) outside %s", s.Name, s.Offset, s.Size, s.Section))
		}
	}
	for _, r := range o.Relocs {
		if r.Offset+8 > uint64(len(o.section(r.Section))) {
			errs = append(errs, fmt.Errorf("relocation against %q at %s+%d out of range", r.Symbol, r.Section, r.Offset))
		}
	}
	return errors.Join(errs...)
}

// Marshal encodes o.
func Marshal(o *Object) ([]byte, error) {
	o.Version = Version
	return msgpack.Marshal(o)
}

// Unmarshal decodes an artifact and checks its version and bounds.
func Unmarshal(b []byte) (*Object, error) {
	var o Object
	if err := msgpack.Unmarshal(b, &o); err != nil {
		return nil, fmt.Errorf("obj: decode: %w", err)
	}
	if o.Version != Version {
		return nil, fmt.Errorf("obj: artifact version %d, want %d", o.Version, Version)
	}
	if err := o.Check(); err != nil {
		return nil, fmt.Errorf("obj: %w", err)
	}
	return &o, nil
}
