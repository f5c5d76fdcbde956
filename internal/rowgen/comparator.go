package rowgen

import (
	"strconv"

	"nanojit/internal/ir"
)

// keyCompare emits the loads of one key column from both rows and returns
// the "left strictly precedes right" and "left strictly follows right"
// predicates. Float columns use ordered predicates, so a NaN on either side
// neither precedes nor follows.
func keyCompare(b *ir.Builder, col Column, asc bool, left, right ir.Value, tag string) (precedes, follows ir.Value) {
	ctx := left.Type().Context()
	t := col.Type.irType(ctx)
	off := ir.ConstInt(ctx.Int64(), int64(col.Offset))
	lp := b.CreateGEP(ctx.Int8(), left, off, tag+"_lp")
	rp := b.CreateGEP(ctx.Int8(), right, off, tag+"_rp")
	lv := b.CreateLoad(t, lp, tag+"_l")
	rv := b.CreateLoad(t, rp, tag+"_r")

	less, greater := ir.PredSLT, ir.PredSGT
	if col.Type == Float64 {
		less, greater = ir.PredOLT, ir.PredOGT
	}
	if !asc {
		less, greater = greater, less
	}
	if col.Type == Float64 {
		return b.CreateFCmp(less, lv, rv, tag+"_pre"), b.CreateFCmp(greater, lv, rv, tag+"_fol")
	}
	return b.CreateICmp(less, lv, rv, tag+"_pre"), b.CreateICmp(greater, lv, rv, tag+"_fol")
}

// cascade emits the unrolled multi-key comparison of left against right
// starting in the current block. Control reaches yes when left strictly
// precedes right, no when it strictly follows, and tie when every key is
// equal.
func cascade(b *ir.Builder, f *ir.Func, s Schema, keys []SortKey, left, right ir.Value, yes, no, tie *ir.Block) {
	for i, k := range keys {
		tag := "k" + strconv.Itoa(i)
		pre, fol := keyCompare(b, s.Columns[k.Column], k.Ascending, left, right, tag)
		follows := f.NewBlock(tag + "_follows")
		b.CreateCondBr(pre, yes, follows)
		b.SetInsertPoint(follows)
		next := tie
		if i+1 < len(keys) {
			next = f.NewBlock("k" + strconv.Itoa(i+1))
		}
		b.CreateCondBr(fol, no, next)
		b.SetInsertPoint(next)
	}
}

// GenerateComparator returns a module defining one function
// i1 (ptr left, ptr right) that reports whether left strictly precedes
// right under keys. The name depends only on keys and the layout of s, so
// equal requests produce the same symbol.
func GenerateComparator(s Schema, keys []SortKey) (string, *ir.Module, error) {
	if err := s.checkKeys(keys); err != nil {
		return "", nil, err
	}
	name := symbolName("cmp", s, keys)
	ctx := ir.NewContext()
	m := ir.NewModule(name, ctx)
	f := m.NewFunc(name, ctx.Func(ctx.Int1(), ctx.Ptr(), ctx.Ptr()), ir.External)
	b := ir.NewBuilder(ctx)

	entry := f.NewBlock("entry")
	yes := f.NewBlock("precedes")
	no := f.NewBlock("follows")
	tie := f.NewBlock("equal")
	b.SetInsertPoint(entry)
	cascade(b, f, s, keys, f.Param(0), f.Param(1), yes, no, tie)

	b.SetInsertPoint(yes)
	b.CreateRet(b.Bool(true))
	b.SetInsertPoint(no)
	b.CreateRet(b.Bool(false))
	b.SetInsertPoint(tie)
	b.CreateRet(b.Bool(false))
	return name, m, nil
}
