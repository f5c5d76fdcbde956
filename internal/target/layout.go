package target

import (
	"fmt"
	"sync"

	"nanojit/internal/ir"
)

// TypeLayout is the memory layout of an IR type on a target.
type TypeLayout struct {
	Size  int
	Align int

	// Struct-only:
	FieldOffsets []int
}

// LayoutError reports a type without a memory layout.
type LayoutError struct {
	Type string
}

func (e *LayoutError) Error() string {
	return fmt.Sprintf("type %s has no memory layout", e.Type)
}

// Layout computes and caches type layouts. Types are keyed by their
// structural spelling, so layouts are shared across contexts.
type Layout struct {
	desc Description

	mu    sync.RWMutex
	cache map[string]TypeLayout
}

// NewLayout creates a layout engine for d.
func NewLayout(d Description) *Layout {
	return &Layout{desc: d, cache: make(map[string]TypeLayout, 32)}
}

// Of returns the layout of t.
func (l *Layout) Of(t *ir.Type) (TypeLayout, error) {
	if t == nil {
		return TypeLayout{}, &LayoutError{Type: "<nil>"}
	}
	key := t.String()
	l.mu.RLock()
	cached, ok := l.cache[key]
	l.mu.RUnlock()
	if ok {
		return cached, nil
	}
	tl, err := l.compute(t)
	if err != nil {
		return tl, err
	}
	l.mu.Lock()
	l.cache[key] = tl
	l.mu.Unlock()
	return tl, nil
}

// SizeOf returns the size of t in bytes.
func (l *Layout) SizeOf(t *ir.Type) (int, error) {
	tl, err := l.Of(t)
	return tl.Size, err
}

// AlignOf returns the alignment of t in bytes.
func (l *Layout) AlignOf(t *ir.Type) (int, error) {
	tl, err := l.Of(t)
	return tl.Align, err
}

// FieldOffset returns the byte offset of a struct field.
func (l *Layout) FieldOffset(st *ir.Type, field int) (int, error) {
	tl, err := l.Of(st)
	if err != nil {
		return 0, err
	}
	if field < 0 || field >= len(tl.FieldOffsets) {
		return 0, fmt.Errorf("field %d out of range for %s", field, st)
	}
	return tl.FieldOffsets[field], nil
}

func (l *Layout) compute(t *ir.Type) (TypeLayout, error) {
	switch t.Kind {
	case ir.TypeInt:
		if t.Width == 1 {
			return TypeLayout{Size: 1, Align: 1}, nil
		}
		return scalarLayoutBytes(t.Width / 8), nil
	case ir.TypeFloat:
		return scalarLayoutBytes(8), nil
	case ir.TypePtr:
		return TypeLayout{Size: l.desc.PtrSize, Align: l.desc.PtrAlign}, nil
	case ir.TypeStruct:
		return l.structLayout(t)
	}
	return TypeLayout{}, &LayoutError{Type: t.String()}
}

func (l *Layout) structLayout(t *ir.Type) (TypeLayout, error) {
	offsets := make([]int, len(t.Fields))
	size := 0
	align := 1
	for i, f := range t.Fields {
		fl, err := l.Of(f)
		if err != nil {
			return TypeLayout{}, err
		}
		fAlign := max(fl.Align, 1)
		size = roundUp(size, fAlign)
		offsets[i] = size
		size += fl.Size
		align = max(align, fAlign)
	}
	size = roundUp(size, align)
	return TypeLayout{Size: size, Align: align, FieldOffsets: offsets}, nil
}

func scalarLayoutBytes(size int) TypeLayout {
	if size <= 0 {
		return TypeLayout{Size: 0, Align: 1}
	}
	return TypeLayout{Size: size, Align: size}
}

func roundUp(n, align int) int {
	if align <= 1 {
		return n
	}
	r := n % align
	if r == 0 {
		return n
	}
	return n + (align - r)
}
