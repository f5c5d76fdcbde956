package lazy

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/sync/errgroup"

	"nanojit/internal/codegen"
	"nanojit/internal/execmem"
	"nanojit/internal/ir"
	"nanojit/internal/layer"
	"nanojit/internal/loader"
	"nanojit/internal/machine"
	"nanojit/internal/session"
	"nanojit/internal/target"
)

type rig struct {
	s       *session.Session
	lib     *session.Library
	cpu     *machine.CPU
	compile *layer.CompileLayer
	gk      *Gatekeeper
}

func newRig(t *testing.T) *rig {
	t.Helper()
	desc, err := target.Detect()
	if err != nil {
		t.Skipf("unsupported host: %v", err)
	}
	ref, err := target.NewMachine(desc).Retain()
	if err != nil {
		t.Fatal(err)
	}
	s := session.New(desc.GlobalPrefix, nil)
	comp := codegen.New(ref, s.Mangler().Canonical)
	mem := execmem.NewHeap(desc.PageSize)
	cpu := machine.NewCPU(machine.NewCodeMap(), 0)
	compile := layer.NewCompileLayer(comp, layer.NewObjectLayer(s, loader.New(mem, cpu.CodeMap())), nil)
	stubs := NewStubs(mem, cpu)
	ct := NewCallThrough(mem, cpu)
	t.Cleanup(func() {
		_ = s.EndSession()
		_ = stubs.Release()
		_ = ct.Release()
		comp.Close()
	})
	lib, err := s.CreateLibrary("main")
	if err != nil {
		t.Fatal(err)
	}
	return &rig{s: s, lib: lib, cpu: cpu, compile: compile, gk: NewGatekeeper(s, desc, compile, stubs, ct)}
}

func (r *rig) add(t *testing.T, src string) {
	t.Helper()
	m, err := ir.Parse("mod", src)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.gk.AddModule(context.Background(), r.lib, m); err != nil {
		t.Fatalf("AddModule: %v", err)
	}
}

func (r *rig) stub(t *testing.T, name string) uintptr {
	t.Helper()
	a, err := r.s.LinkAddress(context.Background(), []*session.Library{r.lib}, r.s.Intern(name))
	if err != nil {
		t.Fatalf("LinkAddress(%s): %v", name, err)
	}
	return a
}

const chain = `
define i32 @leaf(i32 %x) {
entry:
  %r = add i32 %x, 1
  ret i32 %r
}

define i32 @root(i32 %x) {
entry:
  %a = call i32 (i32) @leaf(i32 %x)
  %b = call i32 (i32) @leaf(i32 %a)
  ret i32 %b
}
`

func TestAddModuleCompilesNothing(t *testing.T) {
	r := newRig(t)
	r.add(t, chain)
	if n := len(r.compile.Translations()); n != 0 {
		t.Fatalf("AddModule translated %d symbols", n)
	}
	if st, _ := r.lib.SymbolState(r.s.Intern("root")); st != session.StatePending {
		t.Fatalf("root state = %s, want pending", st)
	}
}

func TestCallThroughStubCompilesOnDemand(t *testing.T) {
	r := newRig(t)
	r.add(t, chain)
	ctx := context.Background()
	root := r.stub(t, "root")

	got, err := r.cpu.Call(ctx, root, 40)
	if err != nil || got != 42 {
		t.Fatalf("root(40) via stub = %d, %v", got, err)
	}
	counts := r.compile.Translations()
	if counts["root"] != 1 || counts["leaf"] != 1 {
		t.Fatalf("translations after first call = %v", counts)
	}

	body, err := r.s.Lookup(ctx, []*session.Library{r.lib}, "root")
	if err != nil {
		t.Fatal(err)
	}
	if body == root {
		t.Fatalf("Lookup returned the stub")
	}
	if target, _ := r.gk.Stubs().Target(r.s.Intern("root")); target != body {
		t.Fatalf("stub slot = %#x, body = %#x", target, body)
	}
	if got, err := r.cpu.Call(ctx, root, 0); err != nil || got != 2 {
		t.Fatalf("root(0) = %d, %v", got, err)
	}
	if n := r.compile.Translations()["root"]; n != 1 {
		t.Fatalf("root translated %d times", n)
	}
}

func TestLookupCompilesOnlyWhatIsReached(t *testing.T) {
	r := newRig(t)
	r.add(t, chain)
	ctx := context.Background()
	root, err := r.s.Lookup(ctx, []*session.Library{r.lib}, "root")
	if err != nil {
		t.Fatal(err)
	}
	if counts := r.compile.Translations(); counts["leaf"] != 0 {
		t.Fatalf("leaf translated before root ran: %v", counts)
	}
	if got, err := r.cpu.Call(ctx, root, 1); err != nil || got != 3 {
		t.Fatalf("root(1) = %d, %v", got, err)
	}
	if n := r.compile.Translations()["leaf"]; n != 1 {
		t.Fatalf("leaf translated %d times", n)
	}
}

// run with -race
func TestConcurrentFirstCalls(t *testing.T) {
	r := newRig(t)
	r.add(t, chain)
	root := r.stub(t, "root")
	var g errgroup.Group
	for i := range 16 {
		g.Go(func() error {
			got, err := r.cpu.Call(context.Background(), root, uint64(i))
			if err != nil {
				return err
			}
			if got != uint64(i+2) {
				return errors.New("wrong result")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	counts := r.compile.Translations()
	if counts["root"] != 1 || counts["leaf"] != 1 {
		t.Fatalf("translations = %v, want one each", counts)
	}
}

func TestAddModuleRejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind AddModuleErrorKind
	}{
		{
			name: "malformed",
			src:  "define i32 @f() {\nentry:\n  %x = add i32 1, 2\n}\n",
			kind: Malformed,
		},
		{
			name: "duplicate",
			src:  "define i32 @leaf(i32 %x) {\nentry:\n  ret i32 %x\n}\n",
			kind: Duplicate,
		},
		{
			name: "target mismatch",
			src:  "target datalayout = \"e-p:32:32\"\ndefine void @g() {\nentry:\n  ret void\n}\n",
			kind: TargetMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t)
			r.add(t, chain)
			other, err := r.s.CreateLibrary("other")
			if err != nil {
				t.Fatal(err)
			}
			m, err := ir.Parse(tt.name, tt.src)
			if err != nil {
				t.Fatal(err)
			}
			err = r.gk.AddModule(context.Background(), other, m)
			var ae *AddModuleError
			if !errors.As(err, &ae) || ae.Kind != tt.kind {
				t.Fatalf("err = %v, want %s", err, tt.kind)
			}
		})
	}
}

func TestFailedPartitionIsIsolated(t *testing.T) {
	r := newRig(t)
	ctx := ir.NewContext()
	m := ir.NewModule("mixed", ctx)
	b := ir.NewBuilder(ctx)
	wide := m.NewFunc("wide", ctx.Func(ctx.Int64(), ctx.Int64()), ir.External)
	b.SetInsertPoint(wide.NewBlock("entry"))
	var acc ir.Value = wide.Param(0)
	for range 300 {
		acc = b.CreateAdd(acc, wide.Param(0), "")
	}
	b.CreateRet(acc)
	fine := m.NewFunc("fine", ctx.Func(ctx.Int64(), ctx.Int64()), ir.External)
	b.SetInsertPoint(fine.NewBlock("entry"))
	b.CreateRet(b.CreateMul(fine.Param(0), b.Int64(3), "r"))
	if err := r.gk.AddModule(context.Background(), r.lib, m); err != nil {
		t.Fatal(err)
	}

	bg := context.Background()
	for range 2 {
		_, err := r.cpu.Call(bg, r.stub(t, "wide"), 1)
		var f *machine.Fault
		var me *session.MaterializationError
		var ce *codegen.CompileError
		if !errors.As(err, &f) || f.Kind != machine.FaultResolve || !errors.As(err, &me) || !errors.As(err, &ce) {
			t.Fatalf("err = %v, want resolve fault wrapping the compile error", err)
		}
	}
	if n := r.compile.Translations()["wide"]; n != 0 {
		t.Fatalf("failed symbol counted as translated %d times", n)
	}
	if got, err := r.cpu.Call(bg, r.stub(t, "fine"), 5); err != nil || got != 15 {
		t.Fatalf("fine(5) = %d, %v", got, err)
	}
}

func TestRefusedRegistrationRollsBack(t *testing.T) {
	desc, err := target.Detect()
	if err != nil {
		t.Skipf("unsupported host: %v", err)
	}
	tests := []struct {
		name  string
		pages int64 // code memory limit
		close bool
	}{
		// trampolines fit, the stub slots do not
		{name: "stub memory", pages: 2},
		{name: "closed session", pages: 16, close: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := session.New(desc.GlobalPrefix, nil)
			mem := execmem.NewLimited(execmem.NewHeap(desc.PageSize), tt.pages*int64(desc.PageSize))
			cpu := machine.NewCPU(machine.NewCodeMap(), 0)
			stubs := NewStubs(mem, cpu)
			ct := NewCallThrough(mem, cpu)
			gk := NewGatekeeper(s, desc, nil, stubs, ct)
			lib, err := s.CreateLibrary("main")
			if err != nil {
				t.Fatal(err)
			}
			if tt.close {
				if err := s.EndSession(); err != nil {
					t.Fatal(err)
				}
			}
			m, err := ir.Parse("mod", chain)
			if err != nil {
				t.Fatal(err)
			}

			err = gk.AddModule(context.Background(), lib, m)
			var ae *AddModuleError
			if !errors.As(err, &ae) || ae.Kind != Registration {
				t.Fatalf("err = %v, want %s", err, Registration)
			}
			if n := mem.InUse(); n != 0 {
				t.Fatalf("%d bytes of code memory left behind", n)
			}
			for _, name := range []string{"leaf", "root"} {
				if _, ok := stubs.Get(s.Intern(name)); ok {
					t.Errorf("stub for %s survived", name)
				}
				if lib.Contains(s.Intern(name)) {
					t.Errorf("%s registered", name)
				}
			}
		})
	}
}
