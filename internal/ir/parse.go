package ir

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseError reports a syntax or reference error in module text.
type ParseError struct {
	Name string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Name, e.Line, e.Msg)
}

type tokKind uint8

const (
	tokWord tokKind = iota
	tokLocal
	tokGlobal
	tokString
	tokPunct
)

type token struct {
	kind tokKind
	text string
}

type srcLine struct {
	no   int
	toks []token
}

func isPunct(r rune) bool {
	return strings.ContainsRune(",()[]{}=:", r)
}

func lexLine(s string) ([]token, error) {
	var toks []token
	rs := []rune(s)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case r == ';':
			return toks, nil
		case r == ' ' || r == '\t' || r == '\r':
			i++
		case r == '"':
			j := i + 1
			for j < len(rs) && rs[j] != '"' {
				if rs[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("unterminated string")
			}
			text, err := strconv.Unquote(string(rs[i : j+1]))
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{tokString, text})
			i = j + 1
		case isPunct(r):
			toks = append(toks, token{tokPunct, string(r)})
			i++
		default:
			j := i
			for j < len(rs) && !isPunct(rs[j]) && rs[j] != ' ' && rs[j] != '\t' && rs[j] != ';' && rs[j] != '"' {
				j++
			}
			word := string(rs[i:j])
			switch {
			case word[0] == '%' && len(word) > 1:
				toks = append(toks, token{tokLocal, word[1:]})
			case word[0] == '@' && len(word) > 1:
				toks = append(toks, token{tokGlobal, word[1:]})
			default:
				toks = append(toks, token{tokWord, word})
			}
			i = j
		}
	}
	return toks, nil
}

// forwardRef stands for a value used before its definition.
type forwardRef struct {
	name   string
	typ    *Type
	global bool
	line   int
}

func (r *forwardRef) Type() *Type { return r.typ }

func (r *forwardRef) Ref() string {
	if r.global {
		return "@" + r.name
	}
	return "%" + r.name
}

type parseBailout struct{ err *ParseError }

type parser struct {
	name  string
	m     *Module
	ctx   *Context
	b     *Builder
	lines []srcLine
	cur   srcLine
	i     int

	lineIdx int

	fn     *Func
	locals map[string]Value
	blocks map[string]*Block
}

// Parse reads a module from its textual form. The module gets a fresh
// Context.
func Parse(name, text string) (m *Module, err error) {
	p := &parser{name: name, ctx: NewContext()}
	p.m = NewModule(name, p.ctx)
	p.b = NewBuilder(p.ctx)
	for i, raw := range strings.Split(text, "\n") {
		toks, lexErr := lexLine(raw)
		if lexErr != nil {
			return nil, &ParseError{Name: name, Line: i + 1, Msg: lexErr.Error()}
		}
		if strings.HasPrefix(strings.TrimSpace(raw), "; module ") && p.m.Name == "" {
			p.m.Name = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "; module "))
		}
		if len(toks) > 0 {
			p.lines = append(p.lines, srcLine{no: i + 1, toks: toks})
		}
	}
	defer func() {
		if r := recover(); r != nil {
			bail, ok := r.(parseBailout)
			if !ok {
				panic(r)
			}
			m, err = nil, bail.err
		}
	}()
	p.parseModule()
	return p.m, nil
}

func (p *parser) fail(format string, args ...any) {
	panic(parseBailout{&ParseError{Name: p.name, Line: p.cur.no, Msg: fmt.Sprintf(format, args...)}})
}

func (p *parser) peek() token {
	if p.i >= len(p.cur.toks) {
		return token{kind: tokPunct, text: "<eol>"}
	}
	return p.cur.toks[p.i]
}

func (p *parser) next() token {
	t := p.peek()
	p.i++
	return t
}

func (p *parser) atEOL() bool { return p.i >= len(p.cur.toks) }

func (p *parser) accept(text string) bool {
	if t := p.peek(); t.kind != tokString && t.text == text {
		p.i++
		return true
	}
	return false
}

func (p *parser) expect(text string) {
	if !p.accept(text) {
		p.fail("expected %q, found %q", text, p.peek().text)
	}
}

func (p *parser) expectKind(kind tokKind, what string) string {
	t := p.next()
	if t.kind != kind {
		p.fail("expected %s, found %q", what, t.text)
	}
	return t.text
}

func (p *parser) expectEOL() {
	if !p.atEOL() {
		p.fail("unexpected %q", p.peek().text)
	}
}

func (p *parser) setLine(l srcLine) {
	p.cur = l
	p.i = 0
}

func (p *parser) parseModule() {
	for p.pos() < len(p.lines) {
		p.setLine(p.lines[p.pos()])
		p.advance()
		t := p.peek()
		switch {
		case t.kind == tokWord && t.text == "target":
			p.next()
			p.expect("datalayout")
			p.expect("=")
			p.m.DataLayout = p.expectKind(tokString, "layout string")
			p.expectEOL()
		case t.kind == tokGlobal:
			p.parseGlobal()
		case t.kind == tokWord && t.text == "declare":
			p.parseDeclare()
		case t.kind == tokWord && t.text == "define":
			p.parseDefine()
		default:
			p.fail("unexpected %q at top level", t.text)
		}
	}
	p.resolveGlobals()
}

func (p *parser) pos() int { return p.lineIdx }

func (p *parser) advance() { p.lineIdx++ }

func (p *parser) parseType() *Type {
	t := p.next()
	if t.kind == tokPunct && t.text == "{" {
		var fields []*Type
		if !p.accept("}") {
			for {
				fields = append(fields, p.parseType())
				if p.accept("}") {
					break
				}
				p.expect(",")
			}
		}
		return p.ctx.Struct(fields...)
	}
	if t.kind != tokWord {
		p.fail("expected type, found %q", t.text)
	}
	switch t.text {
	case "void":
		return p.ctx.Void()
	case "double":
		return p.ctx.Double()
	case "ptr":
		return p.ctx.Ptr()
	}
	if strings.HasPrefix(t.text, "i") {
		if w, err := strconv.Atoi(t.text[1:]); err == nil {
			if it := p.ctx.Int(w); it != nil {
				return it
			}
		}
	}
	p.fail("unknown type %q", t.text)
	return nil
}

func (p *parser) parseConst(t *Type) *Const {
	tok := p.next()
	if tok.kind != tokWord {
		p.fail("expected constant, found %q", tok.text)
	}
	s := tok.text
	switch {
	case t.IsFloat():
		var f float64
		switch s {
		case "nan":
			f = math.NaN()
		case "inf":
			f = math.Inf(1)
		case "-inf":
			f = math.Inf(-1)
		default:
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				p.fail("bad double constant %q", s)
			}
			f = v
		}
		return ConstFloat(t, f)
	case t.IsPtr():
		if s == "null" {
			return ConstNull(p.ctx)
		}
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			p.fail("bad pointer constant %q", s)
		}
		return &Const{typ: t, bits: v}
	case t.IsInt():
		switch s {
		case "true":
			return ConstInt(t, 1)
		case "false":
			return ConstInt(t, 0)
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			u, uerr := strconv.ParseUint(s, 10, 64)
			if uerr != nil {
				p.fail("bad integer constant %q", s)
			}
			v = int64(u)
		}
		return ConstInt(t, v)
	}
	p.fail("no constants of type %s", t)
	return nil
}

func (p *parser) parseValue(t *Type) Value {
	tok := p.peek()
	switch tok.kind {
	case tokLocal:
		p.next()
		if p.locals != nil {
			if v, ok := p.locals[tok.text]; ok {
				return v
			}
		}
		return &forwardRef{name: tok.text, typ: t, line: p.cur.no}
	case tokGlobal:
		p.next()
		if f := p.m.Func(tok.text); f != nil {
			return f
		}
		if g := p.m.Global(tok.text); g != nil {
			return g
		}
		return &forwardRef{name: tok.text, typ: t, global: true, line: p.cur.no}
	}
	return p.parseConst(t)
}

func (p *parser) parseTyped() Value {
	t := p.parseType()
	return p.parseValue(t)
}

func (p *parser) parseGlobal() {
	name := p.expectKind(tokGlobal, "global name")
	p.expect("=")
	linkage := External
	external := false
	switch {
	case p.accept("internal"):
		linkage = Internal
	case p.accept("external"):
		external = true
	}
	p.expect("global")
	t := p.parseType()
	if p.m.Func(name) != nil || p.m.Global(name) != nil {
		p.fail("redefinition of @%s", name)
	}
	var init *Const
	switch {
	case external:
	case p.accept("zeroinitializer"):
		init = ConstZero(t)
	default:
		init = p.parseConst(t)
	}
	p.expectEOL()
	p.m.NewGlobal(name, t, init, linkage)
}

func (p *parser) parseDeclare() {
	p.expect("declare")
	ret := p.parseType()
	name := p.expectKind(tokGlobal, "function name")
	p.expect("(")
	var params []*Type
	if !p.accept(")") {
		for {
			params = append(params, p.parseType())
			if p.accept(")") {
				break
			}
			p.expect(",")
		}
	}
	p.expectEOL()
	if p.m.Func(name) != nil || p.m.Global(name) != nil {
		p.fail("redefinition of @%s", name)
	}
	p.m.NewFunc(name, p.ctx.Func(ret, params...), External)
}

func (p *parser) parseDefine() {
	p.expect("define")
	linkage := External
	if p.accept("internal") {
		linkage = Internal
	}
	ret := p.parseType()
	name := p.expectKind(tokGlobal, "function name")
	if p.m.Func(name) != nil || p.m.Global(name) != nil {
		p.fail("redefinition of @%s", name)
	}
	p.expect("(")
	var (
		paramTypes []*Type
		paramNames []string
	)
	if !p.accept(")") {
		for {
			paramTypes = append(paramTypes, p.parseType())
			paramNames = append(paramNames, p.expectKind(tokLocal, "parameter name"))
			if p.accept(")") {
				break
			}
			p.expect(",")
		}
	}
	p.expect("{")
	p.expectEOL()

	f := p.m.NewFunc(name, p.ctx.Func(ret, paramTypes...), linkage)
	p.fn = f
	p.locals = make(map[string]Value)
	p.blocks = make(map[string]*Block)
	for i, pn := range paramNames {
		f.Params[i].name = pn
		p.define(pn, f.Params[i])
	}

	// Labels first so branches may refer to later blocks.
	end := -1
	for j := p.pos(); j < len(p.lines); j++ {
		toks := p.lines[j].toks
		if len(toks) == 1 && toks[0].text == "}" {
			end = j
			break
		}
		if len(toks) == 2 && toks[0].kind == tokWord && toks[1].text == ":" {
			if _, dup := p.blocks[toks[0].text]; dup {
				p.setLine(p.lines[j])
				p.fail("duplicate label %q", toks[0].text)
			}
			p.blocks[toks[0].text] = f.NewBlock(toks[0].text)
		}
	}
	if end < 0 {
		p.fail("function @%s is not closed", name)
	}
	if len(f.Blocks) == 0 {
		p.fail("function @%s has no blocks", name)
	}
	for p.pos() < end {
		p.setLine(p.lines[p.pos()])
		p.advance()
		toks := p.cur.toks
		if len(toks) == 2 && toks[1].text == ":" {
			p.b.SetInsertPoint(p.blocks[toks[0].text])
			continue
		}
		if p.b.InsertBlock() == nil || p.b.InsertBlock().fn != f {
			p.fail("instruction outside of a block")
		}
		p.parseInstr()
	}
	p.setLine(p.lines[end])
	p.advance()
	p.resolveLocals(f)
	p.fn, p.locals, p.blocks = nil, nil, nil
	p.b.SetInsertPoint(nil)
}

func (p *parser) define(name string, v Value) {
	if _, dup := p.locals[name]; dup {
		p.fail("redefinition of %%%s", name)
	}
	p.locals[name] = v
}

func (p *parser) label() *Block {
	p.expect("label")
	name := p.expectKind(tokLocal, "label")
	b, ok := p.blocks[name]
	if !ok {
		p.fail("unknown label %%%s", name)
	}
	return b
}

var binaryOps = map[string]Op{}

var castOps = map[string]Op{}

func init() {
	for op := OpAdd; op <= OpFDiv; op++ {
		binaryOps[op.String()] = op
	}
	for op := OpZExt; op <= OpFPToSI; op++ {
		castOps[op.String()] = op
	}
}

func (p *parser) parseInstr() {
	result := ""
	if p.peek().kind == tokLocal {
		result = p.next().text
		p.expect("=")
	}
	opTok := p.expectKind(tokWord, "opcode")
	b := p.b
	var in *Instr
	switch word := opTok; {
	case binaryOps[word] != OpInvalid:
		t := p.parseType()
		x := p.parseValue(t)
		p.expect(",")
		y := p.parseValue(t)
		in = b.CreateBinary(binaryOps[word], x, y, result)
	case word == "icmp" || word == "fcmp":
		pred, ok := parsePred(p.expectKind(tokWord, "predicate"))
		if !ok {
			p.fail("unknown predicate")
		}
		t := p.parseType()
		x := p.parseValue(t)
		p.expect(",")
		y := p.parseValue(t)
		if word == "icmp" {
			in = b.CreateICmp(pred, x, y, result)
		} else {
			in = b.CreateFCmp(pred, x, y, result)
		}
	case word == "select":
		c := p.parseTyped()
		p.expect(",")
		x := p.parseTyped()
		p.expect(",")
		y := p.parseTyped()
		in = b.CreateSelect(c, x, y, result)
	case castOps[word] != OpInvalid:
		v := p.parseTyped()
		p.expect("to")
		in = b.CreateCast(castOps[word], v, p.parseType(), result)
	case word == "load":
		t := p.parseType()
		p.expect(",")
		in = b.CreateLoad(t, p.parseTyped(), result)
	case word == "store":
		v := p.parseTyped()
		p.expect(",")
		in = b.CreateStore(v, p.parseTyped())
	case word == "gep":
		t := p.parseType()
		p.expect(",")
		ptr := p.parseTyped()
		p.expect(",")
		in = b.CreateGEP(t, ptr, p.parseTyped(), result)
	case word == "structgep":
		t := p.parseType()
		p.expect(",")
		ptr := p.parseTyped()
		p.expect(",")
		field, err := strconv.Atoi(p.expectKind(tokWord, "field index"))
		if err != nil {
			p.fail("bad field index")
		}
		in = b.CreateStructGEP(t, ptr, field, result)
	case word == "phi":
		t := p.parseType()
		in = b.CreatePhi(t, result)
		for {
			p.expect("[")
			v := p.parseValue(t)
			p.expect(",")
			name := p.expectKind(tokLocal, "label")
			from, ok := p.blocks[name]
			if !ok {
				p.fail("unknown label %%%s", name)
			}
			p.expect("]")
			in.AddIncoming(v, from)
			if !p.accept(",") {
				break
			}
		}
	case word == "call":
		ret := p.parseType()
		p.expect("(")
		var params []*Type
		if !p.accept(")") {
			for {
				params = append(params, p.parseType())
				if p.accept(")") {
					break
				}
				p.expect(",")
			}
		}
		sig := p.ctx.Func(ret, params...)
		callee := p.parseValue(p.ctx.Ptr())
		p.expect("(")
		var args []Value
		if !p.accept(")") {
			for {
				args = append(args, p.parseTyped())
				if p.accept(")") {
					break
				}
				p.expect(",")
			}
		}
		in = b.CreateIndirectCall(sig, callee, args, result)
	case word == "br":
		if p.peek().text == "label" {
			in = b.CreateBr(p.label())
		} else {
			c := p.parseTyped()
			p.expect(",")
			then := p.label()
			p.expect(",")
			in = b.CreateCondBr(c, then, p.label())
		}
	case word == "ret":
		if p.accept("void") {
			in = b.CreateRetVoid()
		} else {
			in = b.CreateRet(p.parseTyped())
		}
	case word == "unreachable":
		in = b.CreateUnreachable()
	default:
		p.fail("unknown opcode %q", word)
	}
	p.expectEOL()
	if result != "" {
		if !in.HasResult() {
			p.fail("%s produces no value", in.Op)
		}
		p.define(result, in)
	}
}

func (p *parser) resolve(v Value, global bool) Value {
	ref, ok := v.(*forwardRef)
	if !ok || ref.global != global {
		return v
	}
	var found Value
	if global {
		if f := p.m.Func(ref.name); f != nil {
			found = f
		} else if g := p.m.Global(ref.name); g != nil {
			found = g
		}
	} else {
		found = p.locals[ref.name]
	}
	if found == nil {
		p.cur = srcLine{no: ref.line}
		p.fail("undefined value %s", ref.Ref())
	}
	if found.Type() != ref.typ {
		p.cur = srcLine{no: ref.line}
		p.fail("%s has type %s, used as %s", ref.Ref(), found.Type(), ref.typ)
	}
	return found
}

func (p *parser) resolveIn(f *Func, global bool) {
	for _, blk := range f.Blocks {
		for _, in := range blk.Instrs {
			for i, a := range in.Args {
				in.Args[i] = p.resolve(a, global)
			}
			for i := range in.Incoming {
				in.Incoming[i].Value = p.resolve(in.Incoming[i].Value, global)
			}
		}
	}
}

func (p *parser) resolveLocals(f *Func) { p.resolveIn(f, false) }

func (p *parser) resolveGlobals() {
	for _, f := range p.m.Funcs {
		p.resolveIn(f, true)
	}
}
