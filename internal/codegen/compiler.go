// Package codegen translates IR modules into nj64 objects.
package codegen

import (
	"errors"
	"fmt"
	"sync/atomic"

	"nanojit/internal/ir"
	"nanojit/internal/obj"
	"nanojit/internal/target"
)

// ErrClosed is returned by a compiler after Close.
var ErrClosed = errors.New("codegen: compiler closed")

// CompileError reports a module the translator rejected.
type CompileError struct {
	Module string
	Func   string
	Err    error
}

func (e *CompileError) Error() string {
	if e.Func != "" {
		return fmt.Sprintf("compile %s: @%s: %v", e.Module, e.Func, e.Err)
	}
	return fmt.Sprintf("compile %s: %v", e.Module, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Compiler is the fixed, non-optimising translator for one target. It keeps
// no state between calls besides its target reference, so one Compiler may
// serve concurrent Compile calls.
type Compiler struct {
	ref    *target.Ref
	mangle func(string) string
	closed atomic.Bool
}

// New creates a compiler borrowing ref. mangle maps IR names to object
// symbol names; nil applies the target's global prefix.
func New(ref *target.Ref, mangle func(string) string) *Compiler {
	if mangle == nil {
		prefix := ref.Description().GlobalPrefix
		mangle = func(s string) string { return prefix + s }
	}
	return &Compiler{ref: ref, mangle: mangle}
}

// Target returns the description the compiler emits for.
func (c *Compiler) Target() target.Description { return c.ref.Description() }

// Compile translates m into an encoded object.
func (c *Compiler) Compile(m *ir.Module) ([]byte, error) {
	o, err := c.CompileObject(m)
	if err != nil {
		return nil, err
	}
	b, err := obj.Marshal(o)
	if err != nil {
		return nil, &CompileError{Module: m.Name, Err: err}
	}
	return b, nil
}

// CompileObject translates m without encoding the result.
func (c *Compiler) CompileObject(m *ir.Module) (*obj.Object, error) {
	if c.closed.Load() {
		return nil, &CompileError{Module: m.Name, Err: ErrClosed}
	}
	if err := ir.Validate(m); err != nil {
		return nil, &CompileError{Module: m.Name, Err: err}
	}
	desc := c.ref.Description()
	if err := desc.CheckDataLayout(m.DataLayout); err != nil {
		return nil, &CompileError{Module: m.Name, Err: err}
	}
	e := &emitter{
		mod:    m,
		desc:   desc,
		layout: c.ref.Layout(),
		mangle: c.mangle,
	}
	return e.emitModule()
}

// Close releases the target reference. The compiler rejects further work.
func (c *Compiler) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.ref.Release()
	}
}
