package ir

import (
	"strings"
	"testing"
)

// buildCounter builds a module with an internal helper, an internal global
// and two exported functions.
func buildCounter(t *testing.T) *Module {
	t.Helper()
	ctx := NewContext()
	m := NewModule("counter", ctx)
	i32 := ctx.Int32()
	g := m.NewGlobal("hits", i32, ConstInt(i32, 0), Internal)
	b := NewBuilder(ctx)

	helper := m.NewFunc("twice", ctx.Func(i32, i32), Internal)
	b.SetInsertPoint(helper.NewBlock("entry"))
	b.CreateRet(b.CreateAdd(helper.Param(0), helper.Param(0), "r"))

	bump := m.NewFunc("bump", ctx.Func(i32, i32), External)
	b.SetInsertPoint(bump.NewBlock("entry"))
	old := b.CreateLoad(i32, g, "old")
	inc := b.CreateCall(helper, []Value{bump.Param(0)}, "inc")
	sum := b.CreateAdd(old, inc, "sum")
	b.CreateStore(sum, g)
	b.CreateRet(sum)

	loop := m.NewFunc("count", ctx.Func(i32, i32), External)
	entry := loop.NewBlock("entry")
	head := loop.NewBlock("head")
	body := loop.NewBlock("body")
	exit := loop.NewBlock("exit")
	b.SetInsertPoint(entry)
	b.CreateBr(head)
	b.SetInsertPoint(head)
	i := b.CreatePhi(i32, "i")
	done := b.CreateICmp(PredSGE, i, loop.Param(0), "done")
	b.CreateCondBr(done, exit, body)
	b.SetInsertPoint(body)
	next := b.CreateAdd(i, b.Int32(1), "next")
	b.CreateBr(head)
	i.AddIncoming(b.Int32(0), entry).AddIncoming(next, body)
	b.SetInsertPoint(exit)
	b.CreateRet(i)
	return m
}

func TestValidateAcceptsBuiltModule(t *testing.T) {
	if err := Validate(buildCounter(t)); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		build func(m *Module, b *Builder)
		want  string
	}{
		{
			name: "unterminated",
			build: func(m *Module, b *Builder) {
				f := m.NewFunc("f", m.ctx.Func(m.ctx.Int32()), External)
				b.SetInsertPoint(f.NewBlock("entry"))
				b.CreateAdd(b.Int32(1), b.Int32(2), "x")
			},
			want: "unterminated block",
		},
		{
			name: "terminator in the middle",
			build: func(m *Module, b *Builder) {
				f := m.NewFunc("f", m.ctx.Func(m.ctx.Void()), External)
				b.SetInsertPoint(f.NewBlock("entry"))
				b.CreateRetVoid()
				b.CreateRetVoid()
			},
			want: "terminator in the middle",
		},
		{
			name: "duplicate symbol",
			build: func(m *Module, b *Builder) {
				for range 2 {
					f := m.NewFunc("dup", m.ctx.Func(m.ctx.Void()), External)
					b.SetInsertPoint(f.NewBlock("entry"))
					b.CreateRetVoid()
				}
			},
			want: "duplicate symbol",
		},
		{
			name: "foreign context",
			build: func(m *Module, b *Builder) {
				other := NewContext()
				f := m.NewFunc("f", m.ctx.Func(m.ctx.Int32()), External)
				b.SetInsertPoint(f.NewBlock("entry"))
				b.CreateRet(ConstInt(other.Int32(), 1))
			},
			want: "foreign context",
		},
		{
			name: "phi without all predecessors",
			build: func(m *Module, b *Builder) {
				f := m.NewFunc("f", m.ctx.Func(m.ctx.Int32(), m.ctx.Int1()), External)
				entry, a, join := f.NewBlock("entry"), f.NewBlock("a"), f.NewBlock("join")
				b.SetInsertPoint(entry)
				b.CreateCondBr(f.Param(0), a, join)
				b.SetInsertPoint(a)
				b.CreateBr(join)
				b.SetInsertPoint(join)
				p := b.CreatePhi(m.ctx.Int32(), "p")
				p.AddIncoming(b.Int32(1), a)
				b.CreateRet(p)
			},
			want: "1 incoming values for 2 predecessors",
		},
		{
			name: "call signature mismatch",
			build: func(m *Module, b *Builder) {
				ext := m.Declare("ext", m.ctx.Func(m.ctx.Int32(), m.ctx.Int32()))
				f := m.NewFunc("f", m.ctx.Func(m.ctx.Int32()), External)
				b.SetInsertPoint(f.NewBlock("entry"))
				r := b.CreateIndirectCall(m.ctx.Func(m.ctx.Int32()), ext, nil, "r")
				b.CreateRet(r)
			},
			want: "call signature",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := NewContext()
			m := NewModule("bad", ctx)
			tt.build(m, NewBuilder(ctx))
			err := Validate(m)
			if err == nil {
				t.Fatalf("Validate accepted the module")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestPrintParseRoundTrip(t *testing.T) {
	m := buildCounter(t)
	m.DataLayout = "e-p:64:64"
	text := Print(m)
	parsed, err := Parse("counter", text)
	if err != nil {
		t.Fatalf("Parse: %v\n%s", err, text)
	}
	if err := Validate(parsed); err != nil {
		t.Fatalf("Validate(parsed): %v", err)
	}
	if again := Print(parsed); again != text {
		t.Fatalf("round trip mismatch:\n--- first\n%s\n--- second\n%s", text, again)
	}
}

func TestParseForwardReferences(t *testing.T) {
	const src = `
target datalayout = "e"

@k = global double 2.5
@zero = internal global {i32, double} zeroinitializer

define i32 @main(i32 %n) {
entry:
  %r = call i32 (i32) @later(i32 %n)
  br label %out
out:
  ret i32 %r
}

define i32 @later(i32 %x) {
entry:
  %c = icmp slt i32 %x, 0
  %v = select i1 %c, i32 -1, i32 %x
  ret i32 %v
}
`
	m, err := Parse("fwd", src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := Validate(m); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	call := m.Func("main").Blocks[0].Instrs[0]
	if call.Callee() != m.Func("later") {
		t.Fatalf("callee = %v, want @later", call.Callee())
	}
	if got := m.Global("k").Init.Float(); got != 2.5 {
		t.Fatalf("@k = %v, want 2.5", got)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
	}{
		{"unknown opcode", "define void @f() {\nentry:\n  frob\n}\n", 3},
		{"undefined local", "define i32 @f() {\nentry:\n  ret i32 %nope\n}\n", 3},
		{"undefined global", "define i32 @f() {\nentry:\n  %x = load i32, ptr @g\n  ret i32 %x\n}\n", 3},
		{"unclosed function", "define void @f() {\nentry:\n  ret void\n", 1},
		{"bad type", "@g = global i7 1\n", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("t", tt.src)
			pe, ok := err.(*ParseError)
			if !ok {
				t.Fatalf("err = %v (%T), want *ParseError", err, err)
			}
			if pe.Line != tt.line {
				t.Fatalf("line = %d, want %d (%v)", pe.Line, tt.line, pe)
			}
		})
	}
}

func TestSplit(t *testing.T) {
	m := buildCounter(t)
	parts := Split(m)
	if len(parts) != 3 {
		t.Fatalf("got %d partitions, want 3", len(parts))
	}
	byName := map[string]*Partition{}
	for _, p := range parts {
		if p.Module.Context() == m.Context() {
			t.Fatalf("partition %v shares the source context", p.Symbols)
		}
		if err := Validate(p.Module); err != nil {
			t.Fatalf("partition %v: %v", p.Symbols, err)
		}
		byName[p.Symbols[0]] = p
	}

	bump := byName["bump"]
	if bump == nil || bump.Kind != CodePartition {
		t.Fatalf("missing code partition for bump")
	}
	helper := bump.Module.Func("twice")
	if helper == nil || helper.IsDeclaration() || helper.Linkage != Internal {
		t.Fatalf("internal helper not cloned into bump's partition")
	}
	if len(bump.Module.Globals) != 1 || !bump.Module.Globals[0].IsDeclaration() {
		t.Fatalf("bump should declare exactly the promoted global")
	}
	promoted := bump.Module.Globals[0].Name()
	if !strings.HasPrefix(promoted, "hits.priv.") {
		t.Fatalf("promoted name = %q", promoted)
	}
	if byName["count"].Module.Func("twice") != nil {
		t.Fatalf("count does not reach twice and must not carry it")
	}

	var data *Partition
	for _, p := range parts {
		if p.Kind == DataPartition {
			data = p
		}
	}
	if data == nil || len(data.Symbols) != 1 || data.Symbols[0] != promoted {
		t.Fatalf("data partition symbols = %v, want [%s]", data, promoted)
	}
	if len(Split(m)[2].Symbols) != 1 || Split(m)[2].Symbols[0] == promoted {
		t.Fatalf("a second split must use a new instance id")
	}
}
