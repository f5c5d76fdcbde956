package target

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDisposed is returned when retaining a disposed machine.
var ErrDisposed = errors.New("target: machine disposed")

// Machine owns the target description. Consumers hold a Ref; the machine
// cannot be disposed while any Ref is outstanding.
type Machine struct {
	desc   Description
	layout *Layout

	mu       sync.Mutex
	refs     int
	disposed bool
}

// NewMachine creates the owner of d.
func NewMachine(d Description) *Machine {
	return &Machine{desc: d, layout: NewLayout(d)}
}

// Retain hands out a new reference.
func (m *Machine) Retain() (*Ref, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return nil, ErrDisposed
	}
	m.refs++
	return &Ref{m: m}, nil
}

// Refs returns the number of outstanding references.
func (m *Machine) Refs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs
}

// Dispose retires the machine. It fails while references are outstanding.
func (m *Machine) Dispose() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return nil
	}
	if m.refs > 0 {
		return fmt.Errorf("target: dispose with %d outstanding references", m.refs)
	}
	m.disposed = true
	return nil
}

func (m *Machine) release() {
	m.mu.Lock()
	m.refs--
	m.mu.Unlock()
}

// Ref is a counted borrow of a Machine.
type Ref struct {
	m    *Machine
	once sync.Once
}

// Description returns the target description.
func (r *Ref) Description() Description { return r.m.desc }

// Layout returns the shared layout engine of the target.
func (r *Ref) Layout() *Layout { return r.m.layout }

// Release drops the reference; later calls are no-ops.
func (r *Ref) Release() {
	r.once.Do(r.m.release)
}
