package machine

import (
	"fmt"

	"nanojit/internal/isa"
)

// FaultKind classifies execution failures.
type FaultKind uint8

const (
	FaultBadAddress FaultKind = iota + 1
	FaultIllegal
	FaultUnreachable
	FaultDivide
	FaultDepth
	FaultResolve
	FaultHost
	FaultCanceled
)

func (k FaultKind) String() string {
	switch k {
	case FaultBadAddress:
		return "bad address"
	case FaultIllegal:
		return "illegal instruction"
	case FaultUnreachable:
		return "unreachable executed"
	case FaultDivide:
		return "integer division by zero"
	case FaultDepth:
		return "call depth exceeded"
	case FaultResolve:
		return "lazy resolution failed"
	case FaultHost:
		return "host function failed"
	case FaultCanceled:
		return "canceled"
	}
	return "fault"
}

// Fault is an execution error. Faults never corrupt the machine; other
// calls keep running.
type Fault struct {
	Kind  FaultKind
	PC    uintptr // address of the faulting instruction, 0 if unknown
	Op    isa.Op
	Addr  uintptr // memory operand, for FaultBadAddress
	Where string  // symbolized PC
	Err   error
}

func (f *Fault) Error() string {
	msg := "machine: " + f.Kind.String()
	if f.Where != "" {
		msg += " at " + f.Where
	}
	if f.Kind == FaultBadAddress {
		msg += fmt.Sprintf(" (address %#x)", f.Addr)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Fault) Unwrap() error { return f.Err }
