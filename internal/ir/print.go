package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Print renders m in its textual form. Unnamed values and blocks receive
// numbered names; Parse(Print(m)) yields an equivalent module.
func Print(m *Module) string {
	var sb strings.Builder
	if m.Name != "" {
		fmt.Fprintf(&sb, "; module %s\n", m.Name)
	}
	if m.DataLayout != "" {
		fmt.Fprintf(&sb, "target datalayout = %q\n", m.DataLayout)
	}
	for _, g := range m.Globals {
		sb.WriteByte('\n')
		printGlobal(&sb, g)
	}
	for _, f := range m.Funcs {
		sb.WriteByte('\n')
		printFunc(&sb, f)
	}
	return sb.String()
}

func printGlobal(sb *strings.Builder, g *Global) {
	fmt.Fprintf(sb, "@%s = ", g.name)
	switch {
	case g.Init == nil:
		fmt.Fprintf(sb, "external global %s\n", g.valueType)
		return
	case g.Linkage == Internal:
		sb.WriteString("internal ")
	}
	init := g.Init.Ref()
	if g.valueType.Kind == TypeStruct {
		init = "zeroinitializer"
	}
	fmt.Fprintf(sb, "global %s %s\n", g.valueType, init)
}

// namer hands out unique local names for one function.
type namer struct {
	values map[Value]string
	blocks map[*Block]string
	used   map[string]struct{}
	next   int
}

func (n *namer) claim(want string) string {
	if want != "" {
		if _, taken := n.used[want]; !taken {
			n.used[want] = struct{}{}
			return want
		}
	}
	for {
		name := strconv.Itoa(n.next)
		if want != "" {
			name = want + "." + name
		}
		n.next++
		if _, taken := n.used[name]; !taken {
			n.used[name] = struct{}{}
			return name
		}
	}
}

func newNamer(f *Func) *namer {
	n := &namer{
		values: make(map[Value]string),
		blocks: make(map[*Block]string, len(f.Blocks)),
		used:   make(map[string]struct{}),
	}
	for _, p := range f.Params {
		n.values[p] = n.claim(p.name)
	}
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if in.HasResult() {
				n.values[in] = n.claim(in.name)
			}
		}
	}
	labels := make(map[string]struct{}, len(f.Blocks))
	for i, b := range f.Blocks {
		name := b.name
		if _, dup := labels[name]; dup || name == "" {
			name = "bb" + strconv.Itoa(i)
			for {
				if _, clash := labels[name]; !clash {
					break
				}
				name += "_"
			}
		}
		labels[name] = struct{}{}
		n.blocks[b] = name
	}
	return n
}

func (n *namer) ref(v Value) string {
	switch v.(type) {
	case *Param, *Instr:
		if name, ok := n.values[v]; ok {
			return "%" + name
		}
	}
	return v.Ref()
}

func (n *namer) typed(v Value) string {
	return v.Type().String() + " " + n.ref(v)
}

func (n *namer) label(b *Block) string {
	return "%" + n.blocks[b]
}

func printFunc(sb *strings.Builder, f *Func) {
	if f.IsDeclaration() {
		params := make([]string, len(f.sig.Params))
		for i, p := range f.sig.Params {
			params[i] = p.String()
		}
		fmt.Fprintf(sb, "declare %s @%s(%s)\n", f.sig.Ret, f.name, strings.Join(params, ", "))
		return
	}
	n := newNamer(f)
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = n.typed(p)
	}
	linkage := ""
	if f.Linkage == Internal {
		linkage = "internal "
	}
	fmt.Fprintf(sb, "define %s%s @%s(%s) {\n", linkage, f.sig.Ret, f.name, strings.Join(params, ", "))
	for _, b := range f.Blocks {
		fmt.Fprintf(sb, "%s:\n", n.blocks[b])
		for _, in := range b.Instrs {
			sb.WriteString("  ")
			if in.HasResult() {
				sb.WriteString(n.ref(in))
				sb.WriteString(" = ")
			}
			sb.WriteString(formatInstr(n, in))
			sb.WriteByte('\n')
		}
	}
	sb.WriteString("}\n")
}

func formatInstr(n *namer, in *Instr) string {
	op := in.Op
	switch {
	case op.IsIntBinary(), op.IsFloatBinary():
		return fmt.Sprintf("%s %s %s, %s", op, in.typ, n.ref(in.Args[0]), n.ref(in.Args[1]))
	case op == OpICmp, op == OpFCmp:
		return fmt.Sprintf("%s %s %s %s, %s", op, in.Pred, in.Args[0].Type(), n.ref(in.Args[0]), n.ref(in.Args[1]))
	case op == OpSelect:
		return fmt.Sprintf("select %s, %s, %s", n.typed(in.Args[0]), n.typed(in.Args[1]), n.typed(in.Args[2]))
	case op.IsCast():
		return fmt.Sprintf("%s %s to %s", op, n.typed(in.Args[0]), in.typ)
	case op == OpLoad:
		return fmt.Sprintf("load %s, %s", in.typ, n.typed(in.Args[0]))
	case op == OpStore:
		return fmt.Sprintf("store %s, %s", n.typed(in.Args[0]), n.typed(in.Args[1]))
	case op == OpGEP:
		return fmt.Sprintf("gep %s, %s, %s", in.Elem, n.typed(in.Args[0]), n.typed(in.Args[1]))
	case op == OpStructGEP:
		return fmt.Sprintf("structgep %s, %s, %d", in.Elem, n.typed(in.Args[0]), in.Field)
	case op == OpPhi:
		parts := make([]string, len(in.Incoming))
		for i, inc := range in.Incoming {
			parts[i] = fmt.Sprintf("[ %s, %s ]", n.ref(inc.Value), n.label(inc.Block))
		}
		return fmt.Sprintf("phi %s %s", in.typ, strings.Join(parts, ", "))
	case op == OpCall:
		args := in.CallArgs()
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = n.typed(a)
		}
		return fmt.Sprintf("call %s %s(%s)", in.Elem, n.ref(in.Args[0]), strings.Join(parts, ", "))
	case op == OpBr:
		return "br label " + n.label(in.Targets[0])
	case op == OpCondBr:
		return fmt.Sprintf("br %s, label %s, label %s", n.typed(in.Args[0]), n.label(in.Targets[0]), n.label(in.Targets[1]))
	case op == OpRet:
		if len(in.Args) == 0 {
			return "ret void"
		}
		return "ret " + n.typed(in.Args[0])
	case op == OpUnreachable:
		return "unreachable"
	}
	return op.String()
}
