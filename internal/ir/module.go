package ir

import "strconv"

// Linkage controls symbol visibility outside the module.
type Linkage uint8

const (
	// External symbols are visible to other modules and to lookups.
	External Linkage = iota
	// Internal symbols are private to the module.
	Internal
)

func (l Linkage) String() string {
	if l == Internal {
		return "internal"
	}
	return "external"
}

// Module is a unit of compilation: functions and globals over one Context.
// Once handed to the engine the module and its context belong to it and
// must not be mutated by the caller.
type Module struct {
	Name       string
	DataLayout string
	Funcs      []*Func
	Globals    []*Global

	ctx *Context
}

// NewModule creates an empty module owning ctx.
func NewModule(name string, ctx *Context) *Module {
	if ctx == nil {
		ctx = NewContext()
	}
	return &Module{Name: name, ctx: ctx}
}

// Context returns the context owning the module's types.
func (m *Module) Context() *Context { return m.ctx }

// Func returns the function named name, or nil.
func (m *Module) Func(name string) *Func {
	for _, f := range m.Funcs {
		if f.name == name {
			return f
		}
	}
	return nil
}

// Global returns the global named name, or nil.
func (m *Module) Global(name string) *Global {
	for _, g := range m.Globals {
		if g.name == name {
			return g
		}
	}
	return nil
}

// NewFunc adds a function definition (blocks are added by the caller).
func (m *Module) NewFunc(name string, sig *Type, linkage Linkage) *Func {
	f := &Func{name: name, sig: sig, Linkage: linkage, module: m}
	if sig != nil && sig.Kind == TypeFunc {
		f.Params = make([]*Param, len(sig.Params))
		for i, pt := range sig.Params {
			f.Params[i] = &Param{name: "arg" + strconv.Itoa(i), typ: pt, index: i, fn: f}
		}
	}
	m.Funcs = append(m.Funcs, f)
	return f
}

// Declare adds an external function declaration, or returns the existing
// function of that name.
func (m *Module) Declare(name string, sig *Type) *Func {
	if f := m.Func(name); f != nil {
		return f
	}
	return m.NewFunc(name, sig, External)
}

// NewGlobal adds a global variable. A nil init declares an external global
// defined by another module.
func (m *Module) NewGlobal(name string, typ *Type, init *Const, linkage Linkage) *Global {
	g := &Global{name: name, valueType: typ, Init: init, Linkage: linkage, module: m}
	m.Globals = append(m.Globals, g)
	return g
}

// Func is a function definition or declaration.
type Func struct {
	Linkage Linkage
	Params  []*Param
	Blocks  []*Block

	name   string
	sig    *Type
	module *Module
}

// Type of a function used as a value is ptr.
func (f *Func) Type() *Type     { return f.module.ctx.Ptr() }
func (f *Func) Ref() string     { return "@" + f.name }
func (f *Func) Name() string    { return f.name }
func (f *Func) Sig() *Type      { return f.sig }
func (f *Func) Module() *Module { return f.module }

// IsDeclaration reports a body-less function.
func (f *Func) IsDeclaration() bool { return len(f.Blocks) == 0 }

// Param returns parameter i.
func (f *Func) Param(i int) *Param { return f.Params[i] }

// NewBlock appends a basic block.
func (f *Func) NewBlock(name string) *Block {
	b := &Block{name: name, fn: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

// Entry returns the first block.
func (f *Func) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// Predecessors maps every block to the blocks branching to it, in block order.
func (f *Func) Predecessors() map[*Block][]*Block {
	preds := make(map[*Block][]*Block, len(f.Blocks))
	for _, b := range f.Blocks {
		term := b.Terminator()
		if term == nil {
			continue
		}
		for _, t := range term.Targets {
			if !containsBlock(preds[t], b) {
				preds[t] = append(preds[t], b)
			}
		}
	}
	return preds
}

func containsBlock(list []*Block, b *Block) bool {
	for _, x := range list {
		if x == b {
			return true
		}
	}
	return false
}

// Block is a basic block: phis, then ordinary instructions, then exactly one
// terminator.
type Block struct {
	Instrs []*Instr

	name string
	fn   *Func
}

func (b *Block) Name() string { return b.name }
func (b *Block) Func() *Func  { return b.fn }

// Terminator returns the last instruction if it is a terminator.
func (b *Block) Terminator() *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	last := b.Instrs[len(b.Instrs)-1]
	if !last.Op.IsTerminator() {
		return nil
	}
	return last
}

// Terminated reports whether the block ends with a terminator.
func (b *Block) Terminated() bool { return b.Terminator() != nil }

// Phis returns the leading phi instructions.
func (b *Block) Phis() []*Instr {
	n := 0
	for n < len(b.Instrs) && b.Instrs[n].Op == OpPhi {
		n++
	}
	return b.Instrs[:n]
}

func (b *Block) append(in *Instr) {
	in.block = b
	b.Instrs = append(b.Instrs, in)
}

// Global is a module-level variable. Used as a value it is its address.
type Global struct {
	Init    *Const
	Linkage Linkage

	name      string
	valueType *Type
	module    *Module
}

func (g *Global) Type() *Type      { return g.module.ctx.Ptr() }
func (g *Global) Ref() string      { return "@" + g.name }
func (g *Global) Name() string     { return g.name }
func (g *Global) ValueType() *Type { return g.valueType }
func (g *Global) Module() *Module  { return g.module }

// IsDeclaration reports an external global without initializer.
func (g *Global) IsDeclaration() bool { return g.Init == nil }
