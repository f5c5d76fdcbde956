package host

import (
	"context"
	"errors"
	"math"
	"testing"
	"unsafe"

	"nanojit/internal/execmem"
	"nanojit/internal/machine"
	"nanojit/internal/session"
)

func newGenerator(t *testing.T) (*Generator, *machine.CPU, *session.Session, *session.Library) {
	t.Helper()
	cpu := machine.NewCPU(machine.NewCodeMap(), 0)
	s := session.New("", nil)
	g, err := NewGenerator(Defaults(), cpu, execmem.NewHeap(4096), s.Mangler())
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	t.Cleanup(func() { _ = g.Release() })
	lib, err := s.CreateLibrary("host")
	if err != nil {
		t.Fatal(err)
	}
	lib.AddGenerator(g)
	return g, cpu, s, lib
}

func TestGeneratorBindsOnLookup(t *testing.T) {
	g, cpu, s, lib := newGenerator(t)
	ctx := context.Background()
	if lib.Contains(s.Intern("sqrt")) {
		t.Fatalf("sqrt bound before the first lookup")
	}
	addr, err := s.Lookup(ctx, []*session.Library{lib}, "sqrt")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if entry, _ := g.Entry("sqrt"); entry != addr {
		t.Fatalf("lookup = %#x, entry = %#x", addr, entry)
	}
	got, err := cpu.Call(ctx, addr, math.Float64bits(16))
	if err != nil || math.Float64frombits(got) != 4 {
		t.Fatalf("sqrt(16) = %v, %v", math.Float64frombits(got), err)
	}
	if _, err := s.Lookup(ctx, []*session.Library{lib}, "no_such_primitive"); err == nil {
		t.Fatalf("unknown primitive resolved")
	}
	if name := cpu.CodeMap().SymbolAt(addr); name != "host:sqrt" {
		t.Fatalf("entry symbol = %q", name)
	}
}

func TestDefaultPrimitives(t *testing.T) {
	reg := Defaults()
	call := func(name string, args ...uint64) (uint64, error) {
		fn, ok := reg.Get(name)
		if !ok {
			t.Fatalf("%s not registered", name)
		}
		return fn(args)
	}
	f := math.Float64bits
	tests := []struct {
		name string
		args []uint64
		want float64
	}{
		{"fabs", []uint64{f(-2.5)}, 2.5},
		{"floor", []uint64{f(2.7)}, 2},
		{"ceil", []uint64{f(2.1)}, 3},
		{"pow", []uint64{f(2), f(10)}, 1024},
		{"fmin", []uint64{f(1), f(-1)}, -1},
		{"fmax", []uint64{f(1), f(-1)}, 1},
	}
	for _, tt := range tests {
		got, err := call(tt.name, tt.args...)
		if err != nil || math.Float64frombits(got) != tt.want {
			t.Errorf("%s = %v, %v; want %v", tt.name, math.Float64frombits(got), err, tt.want)
		}
	}
	if got, _ := call("labs", uint64(math.MaxUint64)); got != 1 {
		t.Errorf("labs(-1) = %d", got)
	}

	a := []byte("hello")
	b := []byte("world")
	pa := uint64(uintptr(unsafe.Pointer(&a[0])))
	pb := uint64(uintptr(unsafe.Pointer(&b[0])))
	if got, _ := call("memcmp", pa, pb, 5); int64(got) >= 0 {
		t.Errorf("memcmp(hello, world) = %d, want negative", int64(got))
	}
	if _, err := call("memcpy", pa, pb, 5); err != nil || string(a) != "world" {
		t.Errorf("memcpy left %q, %v", a, err)
	}
	if _, err := call("memset", pa, 'x', 3); err != nil || string(a) != "xxxld" {
		t.Errorf("memset left %q, %v", a, err)
	}
	if _, err := call("memset", 0, 0, 8); err == nil {
		t.Errorf("memset on null succeeded")
	}
	if _, err := call("abort"); !errors.Is(err, ErrAbort) {
		t.Errorf("abort = %v", err)
	}
}

func TestAbortFaultsThroughCPU(t *testing.T) {
	_, cpu, s, lib := newGenerator(t)
	addr, err := s.Lookup(context.Background(), []*session.Library{lib}, "abort")
	if err != nil {
		t.Fatal(err)
	}
	_, err = cpu.Call(context.Background(), addr)
	var f *machine.Fault
	if !errors.As(err, &f) || f.Kind != machine.FaultHost || !errors.Is(err, ErrAbort) {
		t.Fatalf("err = %v, want host fault wrapping ErrAbort", err)
	}
}
