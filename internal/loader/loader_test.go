package loader

import (
	"context"
	"errors"
	"strings"
	"testing"

	"nanojit/internal/codegen"
	"nanojit/internal/execmem"
	"nanojit/internal/ir"
	"nanojit/internal/machine"
	"nanojit/internal/obj"
	"nanojit/internal/target"
)

type env struct {
	t    *testing.T
	comp *codegen.Compiler
	mem  *execmem.Limited
	cpu  *machine.CPU
	ld   *Loader
}

func newEnv(t *testing.T) *env {
	t.Helper()
	desc, err := target.Detect()
	if err != nil {
		t.Skipf("unsupported host: %v", err)
	}
	ref, err := target.NewMachine(desc).Retain()
	if err != nil {
		t.Fatal(err)
	}
	comp := codegen.New(ref, func(s string) string { return s })
	t.Cleanup(comp.Close)
	mem := execmem.NewLimited(execmem.NewHeap(4096), 0)
	cm := machine.NewCodeMap()
	return &env{t: t, comp: comp, mem: mem, cpu: machine.NewCPU(cm, 0), ld: New(mem, cm)}
}

func (e *env) load(src string, resolve Resolver) (*Object, error) {
	e.t.Helper()
	m, err := ir.Parse("test", src)
	if err != nil {
		e.t.Fatalf("Parse: %v", err)
	}
	art, err := e.comp.Compile(m)
	if err != nil {
		e.t.Fatalf("Compile: %v", err)
	}
	return e.ld.Load(art, resolve)
}

func (e *env) call(o *Object, name string, args ...uint64) uint64 {
	e.t.Helper()
	addr, ok := o.Lookup(name)
	if !ok {
		e.t.Fatalf("%s not exported", name)
	}
	v, err := e.cpu.Call(context.Background(), addr, args...)
	if err != nil {
		e.t.Fatalf("%s: %v", name, err)
	}
	return v
}

const fib = `
define internal i64 @fib_rec(i64 %n) {
entry:
  %small = icmp slt i64 %n, 2
  br i1 %small, label %base, label %rec
base:
  ret i64 %n
rec:
  %a = sub i64 %n, 1
  %b = sub i64 %n, 2
  %fa = call i64 (i64) @fib_rec(i64 %a)
  %fb = call i64 (i64) @fib_rec(i64 %b)
  %r = add i64 %fa, %fb
  ret i64 %r
}

define i64 @fib(i64 %n) {
entry:
  %r = call i64 (i64) @fib_rec(i64 %n)
  ret i64 %r
}
`

func TestLoadAndRun(t *testing.T) {
	e := newEnv(t)
	o, err := e.load(fib, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer o.Release()
	if _, ok := o.Lookup("fib_rec"); ok {
		t.Errorf("internal function exported")
	}
	if !o.Funcs["fib"] {
		t.Errorf("fib not marked as a function")
	}
	if got := e.call(o, "fib", 15); got != 610 {
		t.Fatalf("fib(15) = %d, want 610", got)
	}
	if listing := o.Disassemble(); !strings.Contains(listing, "fib_rec:") || !strings.Contains(listing, "; fib_rec") {
		t.Errorf("listing lacks symbol names:\n%s", listing)
	}
}

func TestLoadGlobalsStayWritable(t *testing.T) {
	e := newEnv(t)
	src := `
@hits = global i32 40

define i32 @bump() {
entry:
  %old = load i32, ptr @hits
  %new = add i32 %old, 1
  store i32 %new, ptr @hits
  ret i32 %new
}
`
	o, err := e.load(src, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer o.Release()
	e.call(o, "bump")
	if got := e.call(o, "bump"); got != 42 {
		t.Fatalf("bump twice = %d, want 42", got)
	}
	hits, _ := o.Lookup("hits")
	region, ok := e.cpu.CodeMap().Find(hits)
	if !ok || region.Exec() || region.Block.Prot()&execmem.ProtWrite == 0 {
		t.Fatalf("data region %+v must be mapped read+write without exec", region)
	}
	fn, _ := o.Lookup("bump")
	if region, _ := e.cpu.CodeMap().Find(fn); region.Block.Prot() != execmem.RX {
		t.Fatalf("text protection = %s, want %s", region.Block.Prot(), execmem.RX)
	}
}

func TestLoadResolvesExternals(t *testing.T) {
	e := newEnv(t)
	lib, err := e.load(`
define i32 @triple(i32 %x) {
entry:
  %r = mul i32 %x, 3
  ret i32 %r
}
`, nil)
	if err != nil {
		t.Fatalf("Load lib: %v", err)
	}
	defer lib.Release()

	var asked []string
	user, err := e.load(`
declare i32 @triple(i32)

define i32 @nine(i32 %x) {
entry:
  %a = call i32 (i32) @triple(i32 %x)
  %b = call i32 (i32) @triple(i32 %a)
  ret i32 %b
}
`, func(name string) (uintptr, error) {
		asked = append(asked, name)
		addr, ok := lib.Lookup(name)
		if !ok {
			return 0, ErrUnresolved
		}
		return addr, nil
	})
	if err != nil {
		t.Fatalf("Load user: %v", err)
	}
	defer user.Release()
	if got := e.call(user, "nine", 5); got != 45 {
		t.Fatalf("nine(5) = %d", got)
	}
	if len(asked) != 2 || asked[0] != "triple" {
		t.Fatalf("resolver asked %v, want triple per relocation", asked)
	}
}

func TestLoadFailureReleasesMemory(t *testing.T) {
	e := newEnv(t)
	src := `
declare void @missing()

define void @f() {
entry:
  call void () @missing()
  ret void
}
`
	_, err := e.load(src, nil)
	var le *LoadError
	if !errors.As(err, &le) || le.Symbol != "missing" || !errors.Is(err, ErrUnresolved) {
		t.Fatalf("err = %v, want unresolved LoadError for missing", err)
	}
	if n := e.mem.InUse(); n != 0 {
		t.Fatalf("%d bytes still allocated after a failed load", n)
	}
	if n := e.cpu.CodeMap().Len(); n != 0 {
		t.Fatalf("%d regions still mapped after a failed load", n)
	}
}

func TestLoadRejectsBadArtifacts(t *testing.T) {
	e := newEnv(t)
	if _, err := e.ld.Load([]byte("not an artifact"), nil); err == nil {
		t.Fatalf("garbage loaded")
	}
	bad := &obj.Object{Name: "bad", Text: make([]byte, 16), Symbols: []obj.Symbol{{Name: "f", Offset: 64, Size: 16}}}
	var le *LoadError
	if _, err := e.ld.LoadObject(bad, nil); !errors.As(err, &le) {
		t.Fatalf("out of range symbol: %v", err)
	}
}

func TestReleaseUnmaps(t *testing.T) {
	e := newEnv(t)
	o, err := e.load(fib, nil)
	if err != nil {
		t.Fatal(err)
	}
	addr, _ := o.Lookup("fib")
	if err := o.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := o.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if e.mem.InUse() != 0 || e.cpu.CodeMap().Len() != 0 {
		t.Fatalf("memory or mappings left after Release")
	}
	var f *machine.Fault
	if _, err := e.cpu.Call(context.Background(), addr, 3); !errors.As(err, &f) || f.Kind != machine.FaultBadAddress {
		t.Fatalf("call into released code: %v", err)
	}
}
