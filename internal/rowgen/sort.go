package rowgen

import (
	"fmt"

	"fortio.org/safecast"

	"nanojit/internal/ir"
)

// loop is the bubble sort skeleton shared by GenerateSort and
// RowSortModule: two counted loops over i and j with j+1 compared against
// j. The body callback emits the comparison in the inner body block and
// must branch to swap or skip; swap is then filled by the caller of body.
type loop struct {
	b        *ir.Builder
	f        *ir.Func
	base, n  ir.Value
	i, j     *ir.Instr
	swap     *ir.Block
	noswap   *ir.Block
	innerEnd *ir.Block
}

func newLoop(ctx *ir.Context, m *ir.Module, name string) *loop {
	f := m.NewFunc(name, ctx.Func(ctx.Void(), ctx.Ptr(), ctx.Int32()), ir.External)
	b := ir.NewBuilder(ctx)
	l := &loop{b: b, f: f, base: f.Param(0), n: f.Param(1)}

	entry := f.NewBlock("entry")
	outerCond := f.NewBlock("loop_outer_cond")
	outerBody := f.NewBlock("loop_outer_body")
	innerCond := f.NewBlock("loop_inner_cond")
	innerBody := f.NewBlock("loop_inner_body")
	l.innerEnd = f.NewBlock("loop_outer_end")
	exit := f.NewBlock("exit")
	l.swap = f.NewBlock("swap")
	l.noswap = f.NewBlock("noswap")

	b.SetInsertPoint(entry)
	b.CreateCondBr(b.CreateICmp(ir.PredSGT, l.n, b.Int32(1), "many"), outerCond, exit)

	b.SetInsertPoint(outerCond)
	l.i = b.CreatePhi(ctx.Int32(), "i")
	l.i.AddIncoming(b.Int32(0), entry)
	last := b.CreateSub(l.n, b.Int32(1), "last")
	b.CreateCondBr(b.CreateICmp(ir.PredSLT, l.i, last, "outer"), outerBody, exit)

	b.SetInsertPoint(outerBody)
	b.CreateBr(innerCond)

	b.SetInsertPoint(innerCond)
	l.j = b.CreatePhi(ctx.Int32(), "j")
	l.j.AddIncoming(b.Int32(0), outerBody)
	limit := b.CreateSub(last, l.i, "limit")
	b.CreateCondBr(b.CreateICmp(ir.PredSLT, l.j, limit, "inner"), innerBody, l.innerEnd)

	b.SetInsertPoint(l.noswap)
	nextJ := b.CreateAdd(l.j, b.Int32(1), "next_j")
	l.j.AddIncoming(nextJ, l.noswap)
	b.CreateBr(innerCond)

	b.SetInsertPoint(l.innerEnd)
	nextI := b.CreateAdd(l.i, b.Int32(1), "next_i")
	l.i.AddIncoming(nextI, l.innerEnd)
	b.CreateBr(outerCond)

	b.SetInsertPoint(exit)
	b.CreateRetVoid()

	b.SetInsertPoint(innerBody)
	return l
}

// GenerateSort returns a module defining void (ptr rows, i32 n) that sorts
// n records of s.RowSize bytes in place so that no record precedes its
// predecessor under keys. Records are exchanged column by column; bytes
// outside the declared columns stay where they are.
func GenerateSort(s Schema, keys []SortKey) (string, *ir.Module, error) {
	if err := s.checkKeys(keys); err != nil {
		return "", nil, err
	}
	rowSize, err := safecast.Conv[int32](s.RowSize)
	if err != nil {
		return "", nil, fmt.Errorf("rowgen: row size %d: %w", s.RowSize, err)
	}
	name := symbolName("sort", s, keys)
	ctx := ir.NewContext()
	m := ir.NewModule(name, ctx)
	l := newLoop(ctx, m, name)
	b := l.b

	// offsets are computed in i64 so n*RowSize may exceed the i32 range
	stride := b.Int64(int64(rowSize))
	j := b.CreateSExt(l.j, ctx.Int64(), "j64")
	pj := b.CreateGEP(ctx.Int8(), l.base, b.CreateMul(j, stride, "off"), "pj")
	j1 := b.CreateAdd(j, b.Int64(1), "j1")
	pj1 := b.CreateGEP(ctx.Int8(), l.base, b.CreateMul(j1, stride, "off1"), "pj1")
	cascade(b, l.f, s, keys, pj1, pj, l.swap, l.noswap, l.noswap)

	b.SetInsertPoint(l.swap)
	for _, c := range s.Columns {
		t := c.Type.irType(ctx)
		off := ir.ConstInt(ctx.Int64(), int64(c.Offset))
		a := b.CreateGEP(ctx.Int8(), pj, off, "")
		z := b.CreateGEP(ctx.Int8(), pj1, off, "")
		av := b.CreateLoad(t, a, "")
		zv := b.CreateLoad(t, z, "")
		b.CreateStore(zv, a)
		b.CreateStore(av, z)
	}
	b.CreateBr(l.noswap)
	return name, m, nil
}

// RowSortModule returns the {i32 id, double score} bubble sort "my_sort":
// ascending id, then ascending score for equal ids.
func RowSortModule() *ir.Module {
	ctx := ir.NewContext()
	m := ir.NewModule("SortModule", ctx)
	row := ctx.Struct(ctx.Int32(), ctx.Double())
	l := newLoop(ctx, m, "my_sort")
	b := l.b

	pj := b.CreateGEP(row, l.base, l.j, "pj")
	j1 := b.CreateAdd(l.j, b.Int32(1), "j1")
	pj1 := b.CreateGEP(row, l.base, j1, "pj1")

	idL := b.CreateLoad(ctx.Int32(), b.CreateStructGEP(row, pj1, 0, ""), "id_l")
	idR := b.CreateLoad(ctx.Int32(), b.CreateStructGEP(row, pj, 0, ""), "id_r")
	idEq := b.CreateICmp(ir.PredEQ, idL, idR, "id_eq")
	idLess := b.CreateICmp(ir.PredSLT, idL, idR, "id_less")
	scL := b.CreateLoad(ctx.Double(), b.CreateStructGEP(row, pj1, 1, ""), "score_l")
	scR := b.CreateLoad(ctx.Double(), b.CreateStructGEP(row, pj, 1, ""), "score_r")
	scLess := b.CreateFCmp(ir.PredOLT, scL, scR, "score_less")
	b.CreateCondBr(b.CreateSelect(idEq, scLess, idLess, "swap_needed"), l.swap, l.noswap)

	b.SetInsertPoint(l.swap)
	for field, t := range row.Fields {
		a := b.CreateStructGEP(row, pj, field, "")
		z := b.CreateStructGEP(row, pj1, field, "")
		av := b.CreateLoad(t, a, "")
		zv := b.CreateLoad(t, z, "")
		b.CreateStore(zv, a)
		b.CreateStore(av, z)
	}
	b.CreateBr(l.noswap)
	return m
}
