package main

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nanojit/internal/ir"
)

const counterSrc = `
@calls = global i64 0

define i64 @bump(i64 %by) {
entry:
  %c = load i64, ptr @calls
  %n = add i64 %c, %by
  store i64 %n, ptr @calls
  ret i64 %n
}

define double @half(double %x) {
entry:
  %r = fmul double %x, 0.5
  ret double %r
}
`

func writeSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "counter.nir")
	if err := os.WriteFile(path, []byte(counterSrc), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func TestEncodeArg(t *testing.T) {
	ctx := ir.NewContext()
	cases := []struct {
		typ     *ir.Type
		in      string
		want    uint64
		wantErr bool
	}{
		{ctx.Int32(), "42", 42, false},
		{ctx.Int32(), "-1", math.MaxUint64, false},
		{ctx.Int32(), "0x10", 16, false},
		{ctx.Int8(), "300", 0, true},
		{ctx.Int1(), "true", 1, false},
		{ctx.Int64(), "x", 0, true},
		{ctx.Double(), "1.5", math.Float64bits(1.5), false},
		{ctx.Ptr(), "0x1000", 0x1000, false},
		{ctx.Struct(ctx.Int32()), "1", 0, true},
	}
	for _, tc := range cases {
		got, err := encodeArg(tc.typ, tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("encodeArg(%s, %q): expected error", tc.typ, tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("encodeArg(%s, %q): %v", tc.typ, tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("encodeArg(%s, %q) = %#x, want %#x", tc.typ, tc.in, got, tc.want)
		}
	}
}

func TestFormatResult(t *testing.T) {
	ctx := ir.NewContext()
	cases := []struct {
		typ  *ir.Type
		r    uint64
		want string
	}{
		{ctx.Int32(), 0xffffffff, "-1"},
		{ctx.Int64(), 7, "7"},
		{ctx.Int1(), 1, "true"},
		{ctx.Double(), math.Float64bits(2.25), "2.25"},
		{ctx.Ptr(), 0x20, "0x20"},
	}
	for _, tc := range cases {
		if got := formatResult(tc.typ, tc.r); got != tc.want {
			t.Fatalf("formatResult(%s, %#x) = %q, want %q", tc.typ, tc.r, got, tc.want)
		}
	}
}

func TestEncodeArgsCount(t *testing.T) {
	ctx := ir.NewContext()
	sig := ctx.Func(ctx.Int32(), ctx.Int32(), ctx.Int32())
	if _, err := encodeArgs(sig, []string{"1"}); err == nil {
		t.Fatalf("expected argument count error")
	}
	regs, err := encodeArgs(sig, []string{"1", "2"})
	if err != nil {
		t.Fatalf("encodeArgs: %v", err)
	}
	if len(regs) != 2 || regs[0] != 1 || regs[1] != 2 {
		t.Fatalf("encodeArgs = %v", regs)
	}
}

func TestCompileThenDisassemble(t *testing.T) {
	src := writeSource(t)
	m, err := parseModuleFile(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Name != "counter" {
		t.Fatalf("module name = %q, want counter", m.Name)
	}
	objects, err := translate(m)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	// bump, half and the data partition
	if len(objects) != 3 {
		t.Fatalf("got %d objects, want 3", len(objects))
	}

	out := filepath.Join(t.TempDir(), "out", "counter.nobj")
	compileOutput = out
	defer func() { compileOutput = "" }()
	if err := compileCmd.RunE(compileCmd, []string{src}); err != nil {
		t.Fatalf("compile: %v", err)
	}
	loaded, err := loadObjects(out)
	if err != nil {
		t.Fatalf("load artifacts: %v", err)
	}
	if len(loaded) != len(objects) {
		t.Fatalf("read %d artifacts, want %d", len(loaded), len(objects))
	}

	var buf bytes.Buffer
	for _, o := range loaded {
		disassembleObject(&buf, o)
	}
	text := buf.String()
	for _, want := range []string{"bump:", "half:", "enter", "(no code)", "reloc"} {
		if !strings.Contains(text, want) {
			t.Fatalf("disassembly lacks %q:\n%s", want, text)
		}
	}
}

func TestRunCommand(t *testing.T) {
	src := writeSource(t)
	fib := filepath.Join("..", "..", "testdata", "fib.nir")
	cases := []struct {
		args []string
		want string
	}{
		{[]string{src, "half", "9"}, "4.5"},
		{[]string{src, "bump", "-3"}, "-3"},
		{[]string{fib, "fib", "1"}, "1"},
		{[]string{fib, "fib", "30"}, "832040"},
	}
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	}()
	for _, tc := range cases {
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs(append([]string{"run", "--color", "off", "--"}, tc.args...))
		if err := rootCmd.Execute(); err != nil {
			t.Fatalf("run %v: %v", tc.args, err)
		}
		if got := strings.TrimSpace(out.String()); got != tc.want {
			t.Fatalf("run %v printed %q, want %q", tc.args, got, tc.want)
		}
	}
}
