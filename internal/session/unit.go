package session

import (
	"context"
	"fmt"

	"nanojit/internal/symtab"
)

// State is the lifecycle position of a materialization unit. A unit only
// moves forward: pending, materializing, then done or failed.
type State uint8

const (
	StatePending State = iota
	StateMaterializing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateMaterializing:
		return "materializing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Def describes one symbol a unit promises to define.
type Def struct {
	// Link is the address other code links against before the symbol is
	// materialized (a stub); zero when the symbol has none.
	Link     uintptr
	Callable bool
}

// MaterializationUnit produces the final addresses of its symbols on
// first demand.
type MaterializationUnit interface {
	Name() string
	Symbols() map[symtab.Name]Def
	// Materialize produces every symbol of the unit. It runs at most once.
	Materialize(ctx context.Context) (map[symtab.Name]uintptr, error)
}

// unitState tracks one unit inside a library.
type unitState struct {
	unit MaterializationUnit
	lib  *Library
	done chan struct{}

	// guarded by lib.mu until done is closed
	state State
	addrs map[symtab.Name]uintptr
	err   error
}

// run materializes the unit and publishes the outcome. The caller moved
// the unit to StateMaterializing.
func (u *unitState) run(ctx context.Context) {
	addrs, err := u.materialize(ctx)
	if err == nil {
		for name := range u.unit.Symbols() {
			if _, ok := addrs[name]; !ok {
				err = fmt.Errorf("unit did not define %s", name)
				break
			}
		}
	}
	u.lib.mu.Lock()
	if err != nil {
		u.state, u.err = StateFailed, err
	} else {
		u.state, u.addrs = StateDone, addrs
	}
	u.lib.mu.Unlock()
	close(u.done)
}

func (u *unitState) materialize(ctx context.Context) (addrs map[symtab.Name]uintptr, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return u.unit.Materialize(ctx)
}

func (u *unitState) errValue() error {
	u.lib.mu.Lock()
	defer u.lib.mu.Unlock()
	return u.err
}
