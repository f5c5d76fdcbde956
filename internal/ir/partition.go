package ir

import (
	"strings"

	"github.com/google/uuid"
)

// PartitionKind distinguishes code partitions from the data partition.
type PartitionKind uint8

const (
	// CodePartition holds one externally visible function and the private
	// helpers it reaches.
	CodePartition PartitionKind = iota
	// DataPartition holds the module's defined globals.
	DataPartition
)

func (k PartitionKind) String() string {
	if k == DataPartition {
		return "data"
	}
	return "code"
}

// Partition is an independently compilable slice of a module.
type Partition struct {
	Kind   PartitionKind
	Module *Module
	// Symbols lists the externally visible names the partition defines.
	Symbols []string
}

// Split partitions a validated module: one code partition per externally
// visible function, plus one data partition when the module defines
// globals. Every partition owns a fresh Context. Internal globals are
// renamed with the module instance id so that separately loaded
// partitions can still link against them.
func Split(m *Module) []*Partition {
	instance := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	renamed := make(map[*Global]string, len(m.Globals))
	for _, g := range m.Globals {
		name := g.name
		if g.Linkage == Internal {
			name = g.name + ".priv." + instance
		}
		renamed[g] = name
	}

	var parts []*Partition
	for _, f := range m.Funcs {
		if f.IsDeclaration() || f.Linkage == Internal {
			continue
		}
		ctx := NewContext()
		pm := NewModule(m.Name+"."+f.name, ctx)
		pm.DataLayout = m.DataLayout
		c := &cloner{src: m, dst: pm, globals: renamed, values: make(map[Value]Value)}
		c.cloneFunc(f, External)
		for len(c.queue) > 0 {
			next := c.queue[0]
			c.queue = c.queue[1:]
			c.fillFunc(next)
		}
		parts = append(parts, &Partition{Kind: CodePartition, Module: pm, Symbols: []string{f.name}})
	}

	var defined []*Global
	for _, g := range m.Globals {
		if !g.IsDeclaration() {
			defined = append(defined, g)
		}
	}
	if len(defined) > 0 {
		ctx := NewContext()
		dm := NewModule(m.Name+".data", ctx)
		dm.DataLayout = m.DataLayout
		syms := make([]string, 0, len(defined))
		for _, g := range defined {
			t := ctx.Import(g.valueType)
			dm.NewGlobal(renamed[g], t, g.Init.withType(ctx.Import(g.Init.typ)), External)
			syms = append(syms, renamed[g])
		}
		parts = append(parts, &Partition{Kind: DataPartition, Module: dm, Symbols: syms})
	}
	return parts
}

type cloner struct {
	src     *Module
	dst     *Module
	globals map[*Global]string
	values  map[Value]Value
	queue   []*Func
}

// cloneFunc creates the destination function for src; its body is filled
// later so that mutually recursive helpers resolve.
func (c *cloner) cloneFunc(src *Func, linkage Linkage) *Func {
	ctx := c.dst.ctx
	f := c.dst.NewFunc(src.name, ctx.Import(src.sig), linkage)
	for i, p := range src.Params {
		f.Params[i].name = p.name
		c.values[p] = f.Params[i]
	}
	c.values[src] = f
	c.queue = append(c.queue, src)
	return f
}

func (c *cloner) fillFunc(src *Func) {
	f := c.values[src].(*Func)
	ctx := c.dst.ctx
	blocks := make(map[*Block]*Block, len(src.Blocks))
	for _, b := range src.Blocks {
		blocks[b] = f.NewBlock(b.name)
	}
	var clones []*Instr
	for _, b := range src.Blocks {
		nb := blocks[b]
		for _, in := range b.Instrs {
			ni := &Instr{
				Op:    in.Op,
				Pred:  in.Pred,
				Elem:  ctx.Import(in.Elem),
				Field: in.Field,
				name:  in.name,
				typ:   ctx.Import(in.typ),
			}
			for _, t := range in.Targets {
				ni.Targets = append(ni.Targets, blocks[t])
			}
			nb.append(ni)
			c.values[in] = ni
			clones = append(clones, ni)
		}
	}
	i := 0
	for _, b := range src.Blocks {
		for _, in := range b.Instrs {
			ni := clones[i]
			i++
			ni.Args = make([]Value, len(in.Args))
			for j, a := range in.Args {
				ni.Args[j] = c.value(a)
			}
			for _, inc := range in.Incoming {
				ni.Incoming = append(ni.Incoming, Incoming{Block: blocks[inc.Block], Value: c.value(inc.Value)})
			}
		}
	}
}

func (c *cloner) value(v Value) Value {
	if nv, ok := c.values[v]; ok {
		return nv
	}
	ctx := c.dst.ctx
	switch v := v.(type) {
	case *Const:
		return v.withType(ctx.Import(v.typ))
	case *Func:
		if v.Linkage == Internal && !v.IsDeclaration() {
			return c.cloneFunc(v, Internal)
		}
		nf := c.dst.Declare(v.name, ctx.Import(v.sig))
		c.values[v] = nf
		return nf
	case *Global:
		ng := c.dst.NewGlobal(c.globals[v], ctx.Import(v.valueType), nil, External)
		c.values[v] = ng
		return ng
	}
	return v
}
