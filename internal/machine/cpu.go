// Package machine executes nj64 code straight from the pages the loader
// placed it in.
package machine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	"fortio.org/safecast"

	"nanojit/internal/isa"
)

// DefaultMaxDepth bounds nested calls per Call.
const DefaultMaxDepth = 4096

// maxHops bounds the stub and trampoline chain in front of a body.
const maxHops = 16

// TrapHandler resolves lazy call-through trampoline id to the address
// execution continues at. It runs on the calling goroutine and may block.
type TrapHandler func(ctx context.Context, id int32) (uintptr, error)

// HostFunc is a primitive implemented by the host process.
type HostFunc func(args []uint64) (uint64, error)

type hostEntry struct {
	name string
	fn   HostFunc
}

// CPU executes code registered in its CodeMap. It is safe for concurrent
// use; every Call runs on the caller's goroutine with private frames.
type CPU struct {
	code     *CodeMap
	maxDepth int

	mu    sync.RWMutex
	trap  TrapHandler
	hosts []hostEntry
}

// NewCPU creates a CPU over code. maxDepth <= 0 selects DefaultMaxDepth.
func NewCPU(code *CodeMap, maxDepth int) *CPU {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &CPU{code: code, maxDepth: maxDepth}
}

// CodeMap returns the region index the CPU fetches from.
func (c *CPU) CodeMap() *CodeMap { return c.code }

// SetTrapHandler installs the resolver for TRAP instructions.
func (c *CPU) SetTrapHandler(h TrapHandler) {
	c.mu.Lock()
	c.trap = h
	c.mu.Unlock()
}

// RegisterHost adds a host primitive and returns its HOST index.
func (c *CPU) RegisterHost(name string, fn HostFunc) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hosts = append(c.hosts, hostEntry{name: name, fn: fn})
	idx, err := safecast.Conv[int32](len(c.hosts) - 1)
	if err != nil {
		panic(err)
	}
	return idx
}

// Call runs the function at addr with integer-register arguments and
// returns its result register (0 for void functions). Execution errors are
// returned as *Fault.
func (c *CPU) Call(ctx context.Context, addr uintptr, args ...uint64) (ret uint64, err error) {
	prev := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(prev)
		if r := recover(); r != nil {
			err = c.recovered(r)
		}
	}()
	return c.invoke(ctx, addr, args, 0)
}

func (c *CPU) recovered(r any) error {
	switch v := r.(type) {
	case *Fault:
		return v
	case runtime.Error:
		if fa, ok := v.(interface{ Addr() uintptr }); ok {
			return &Fault{Kind: FaultBadAddress, Addr: fa.Addr(), Err: v}
		}
		return &Fault{Kind: FaultIllegal, Err: v}
	case error:
		return &Fault{Kind: FaultIllegal, Err: v}
	}
	return &Fault{Kind: FaultIllegal, Err: fmt.Errorf("%v", r)}
}

// fetch decodes the instruction at pc from an executable region.
func (c *CPU) fetch(pc uintptr) (isa.Instr, *Region, *Fault) {
	r, ok := c.code.Find(pc)
	if !ok || !r.Exec() || pc+isa.InstrSize > r.End || (pc-r.Base)%isa.InstrSize != 0 {
		return isa.Instr{}, nil, &Fault{Kind: FaultBadAddress, PC: pc, Addr: pc, Where: c.code.Symbolize(pc)}
	}
	off := pc - r.Base
	return isa.Decode(r.Block.Bytes()[off : off+isa.InstrSize]), r, nil
}

// invoke follows stubs, trampolines and host entries until it reaches a
// body, then runs it.
func (c *CPU) invoke(ctx context.Context, addr uintptr, args []uint64, depth int) (uint64, error) {
	if depth >= c.maxDepth {
		return 0, &Fault{Kind: FaultDepth, PC: addr, Where: c.code.Symbolize(addr)}
	}
	for range maxHops {
		in, r, f := c.fetch(addr)
		if f != nil {
			return 0, f
		}
		switch in.Op {
		case isa.ENTER:
			return c.run(ctx, r, addr, in, args, depth)
		case isa.JMPI:
			next, err := c.LoadSlot(uintptr(in.Imm64))
			if err != nil {
				return 0, err
			}
			addr = next
		case isa.TRAP:
			c.mu.RLock()
			h := c.trap
			c.mu.RUnlock()
			if h == nil {
				return 0, &Fault{Kind: FaultResolve, PC: addr, Where: c.code.Symbolize(addr), Err: errors.New("no trap handler")}
			}
			next, err := h(ctx, in.Imm32)
			if err != nil {
				return 0, &Fault{Kind: FaultResolve, PC: addr, Where: c.code.Symbolize(addr), Err: err}
			}
			addr = next
		case isa.HOST:
			return c.host(addr, in.Imm32, args)
		default:
			return 0, &Fault{Kind: FaultIllegal, PC: addr, Op: in.Op, Where: c.code.Symbolize(addr),
				Err: fmt.Errorf("%s is not a function entry", in.Op)}
		}
	}
	return 0, &Fault{Kind: FaultIllegal, PC: addr, Where: c.code.Symbolize(addr), Err: errors.New("stub chain too long")}
}

func (c *CPU) host(pc uintptr, idx int32, args []uint64) (uint64, error) {
	c.mu.RLock()
	if idx < 0 || int(idx) >= len(c.hosts) {
		c.mu.RUnlock()
		return 0, &Fault{Kind: FaultIllegal, PC: pc, Op: isa.HOST, Err: fmt.Errorf("unknown host function %d", idx)}
	}
	h := c.hosts[idx]
	c.mu.RUnlock()
	v, err := h.fn(args)
	if err != nil {
		return 0, &Fault{Kind: FaultHost, PC: pc, Op: isa.HOST, Where: h.name, Err: err}
	}
	return v, nil
}

// run executes one body. r is the region holding it; branches may not
// leave the region.
func (c *CPU) run(ctx context.Context, r *Region, entry uintptr, enter isa.Instr, args []uint64, depth int) (uint64, error) {
	nregs := max(int(enter.A), int(enter.B), len(args))
	regs := make([]uint64, nregs)
	copy(regs, args)
	code := r.Block.Bytes()
	pc := entry - r.Base + isa.InstrSize
	backEdges := 0

	fault := func(kind FaultKind, op isa.Op, err error) *Fault {
		at := r.Base + pc
		return &Fault{Kind: kind, PC: at, Op: op, Where: c.code.Symbolize(at), Err: err}
	}

	for {
		if pc+isa.InstrSize > uintptr(len(code)) {
			return 0, fault(FaultBadAddress, isa.NOP, errors.New("fell off the end of the code region"))
		}
		in := isa.Decode(code[pc : pc+isa.InstrSize])
		next := pc + isa.InstrSize
		w := in.Imm32
		switch in.Op {
		case isa.NOP:
		case isa.MOVI:
			regs[in.A] = in.Imm64
		case isa.MOV:
			regs[in.A] = regs[in.B]
		case isa.ADD:
			regs[in.A] = canon(regs[in.B]+regs[in.C], w)
		case isa.SUB:
			regs[in.A] = canon(regs[in.B]-regs[in.C], w)
		case isa.MUL:
			regs[in.A] = canon(regs[in.B]*regs[in.C], w)
		case isa.SDIV, isa.SREM:
			y := int64(regs[in.C])
			if y == 0 {
				return 0, fault(FaultDivide, in.Op, nil)
			}
			x := int64(regs[in.B])
			if in.Op == isa.SDIV {
				regs[in.A] = canon(uint64(x/y), w)
			} else {
				regs[in.A] = canon(uint64(x%y), w)
			}
		case isa.AND:
			regs[in.A] = regs[in.B] & regs[in.C]
		case isa.OR:
			regs[in.A] = regs[in.B] | regs[in.C]
		case isa.XOR:
			regs[in.A] = canon(regs[in.B]^regs[in.C], w)
		case isa.SHL:
			regs[in.A] = canon(regs[in.B]<<(regs[in.C]&uint64(w-1)), w)
		case isa.ASHR:
			regs[in.A] = canon(uint64(int64(regs[in.B])>>(regs[in.C]&uint64(w-1))), w)
		case isa.ADDI:
			regs[in.A] = regs[in.B] + in.Imm64
		case isa.ADDS:
			regs[in.A] = regs[in.B] + regs[in.C]*in.Imm64
		case isa.FADD:
			regs[in.A] = bits(f64(regs[in.B]) + f64(regs[in.C]))
		case isa.FSUB:
			regs[in.A] = bits(f64(regs[in.B]) - f64(regs[in.C]))
		case isa.FMUL:
			regs[in.A] = bits(f64(regs[in.B]) * f64(regs[in.C]))
		case isa.FDIV:
			regs[in.A] = bits(f64(regs[in.B]) / f64(regs[in.C]))
		case isa.ICMP:
			v, ok := icmp(in.Imm32, regs[in.B], regs[in.C])
			if !ok {
				return 0, fault(FaultIllegal, in.Op, fmt.Errorf("bad predicate %d", in.Imm32))
			}
			regs[in.A] = v
		case isa.FCMP:
			v, ok := fcmp(in.Imm32, f64(regs[in.B]), f64(regs[in.C]))
			if !ok {
				return 0, fault(FaultIllegal, in.Op, fmt.Errorf("bad predicate %d", in.Imm32))
			}
			regs[in.A] = v
		case isa.SELECT:
			if regs[in.B] != 0 {
				regs[in.A] = regs[in.C]
			} else {
				regs[in.A] = regs[in.Imm32]
			}
		case isa.SEXT:
			v := regs[in.B]
			if w == 1 {
				v = -(v & 1)
			}
			regs[in.A] = v
		case isa.ZEXT:
			v := regs[in.B]
			if w < 64 {
				v &= 1<<uint(w) - 1
			}
			regs[in.A] = v
		case isa.TRUNC:
			regs[in.A] = canon(regs[in.B], w)
		case isa.SITOFP:
			regs[in.A] = bits(float64(int64(regs[in.B])))
		case isa.FPTOSI:
			regs[in.A] = canon(uint64(int64(f64(regs[in.B]))), w)
		case isa.LOAD:
			v, f := c.load(uintptr(regs[in.B]+in.Imm64), isa.MemKind(in.C))
			if f != nil {
				f.PC, f.Op, f.Where = r.Base+pc, in.Op, c.code.Symbolize(r.Base+pc)
				return 0, f
			}
			regs[in.A] = v
		case isa.STORE:
			if f := c.store(uintptr(regs[in.B]+in.Imm64), isa.MemKind(in.C), regs[in.A]); f != nil {
				f.PC, f.Op, f.Where = r.Base+pc, in.Op, c.code.Symbolize(r.Base+pc)
				return 0, f
			}
		case isa.BR, isa.BRNZ:
			if in.Op == isa.BRNZ && regs[in.A] == 0 {
				break
			}
			target := int64(next) + int64(in.Imm32)*isa.InstrSize
			if target < 0 || target+isa.InstrSize > int64(len(code)) {
				return 0, fault(FaultBadAddress, in.Op, errors.New("branch leaves the code region"))
			}
			if in.Imm32 < 0 {
				backEdges++
				if backEdges&1023 == 0 && ctx.Err() != nil {
					return 0, fault(FaultCanceled, in.Op, ctx.Err())
				}
			}
			next = uintptr(target)
		case isa.CALL, isa.CALLR:
			target := uintptr(in.Imm64)
			if in.Op == isa.CALLR {
				target = uintptr(regs[in.Imm32])
			}
			callArgs := make([]uint64, in.C)
			copy(callArgs, regs[in.B:int(in.B)+int(in.C)])
			v, err := c.invoke(ctx, target, callArgs, depth+1)
			if err != nil {
				return 0, err
			}
			regs[in.A] = v
		case isa.RET:
			return 0, nil
		case isa.RETV:
			return regs[in.A], nil
		case isa.UNREACHABLE:
			return 0, fault(FaultUnreachable, in.Op, nil)
		default:
			return 0, fault(FaultIllegal, in.Op, fmt.Errorf("%s inside a body", in.Op))
		}
		pc = next
	}
}

func icmp(pred int32, x, y uint64) (uint64, bool) {
	sx, sy := int64(x), int64(y)
	switch pred {
	case isa.CmpEQ:
		return b2u(x == y), true
	case isa.CmpNE:
		return b2u(x != y), true
	case isa.CmpSLT:
		return b2u(sx < sy), true
	case isa.CmpSLE:
		return b2u(sx <= sy), true
	case isa.CmpSGT:
		return b2u(sx > sy), true
	case isa.CmpSGE:
		return b2u(sx >= sy), true
	case isa.CmpULT:
		return b2u(x < y), true
	case isa.CmpUGT:
		return b2u(x > y), true
	}
	return 0, false
}

// fcmp evaluates ordered predicates (false on NaN) and une (true on NaN).
func fcmp(pred int32, x, y float64) (uint64, bool) {
	switch pred {
	case isa.CmpOEQ:
		return b2u(x == y), true
	case isa.CmpONE:
		return b2u(x < y || x > y), true
	case isa.CmpOLT:
		return b2u(x < y), true
	case isa.CmpOLE:
		return b2u(x <= y), true
	case isa.CmpOGT:
		return b2u(x > y), true
	case isa.CmpOGE:
		return b2u(x >= y), true
	case isa.CmpUNE:
		return b2u(x != y), true
	}
	return 0, false
}
