package rowgen

import "nanojit/internal/ir"

// SumIntModule defines i32 sum_int(i32, i32).
func SumIntModule() *ir.Module {
	ctx := ir.NewContext()
	m := ir.NewModule("SumIntMod", ctx)
	f := m.NewFunc("sum_int", ctx.Func(ctx.Int32(), ctx.Int32(), ctx.Int32()), ir.External)
	b := ir.NewBuilder(ctx)
	b.SetInsertPoint(f.NewBlock("entry"))
	b.CreateRet(b.CreateAdd(f.Param(0), f.Param(1), "sum"))
	return m
}

// SumDoubleModule defines double sum_double(double, double).
func SumDoubleModule() *ir.Module {
	ctx := ir.NewContext()
	m := ir.NewModule("SumDoubleMod", ctx)
	f := m.NewFunc("sum_double", ctx.Func(ctx.Double(), ctx.Double(), ctx.Double()), ir.External)
	b := ir.NewBuilder(ctx)
	b.SetInsertPoint(f.NewBlock("entry"))
	b.CreateRet(b.CreateFAdd(f.Param(0), f.Param(1), "sum"))
	return m
}

// SumStructModule defines void sum_struct(ptr out, ptr a, ptr b) over
// {i32, double}, adding both fields.
func SumStructModule() *ir.Module {
	ctx := ir.NewContext()
	m := ir.NewModule("SumStructMod", ctx)
	st := ctx.Struct(ctx.Int32(), ctx.Double())
	f := m.NewFunc("sum_struct", ctx.Func(ctx.Void(), ctx.Ptr(), ctx.Ptr(), ctx.Ptr()), ir.External)
	b := ir.NewBuilder(ctx)
	b.SetInsertPoint(f.NewBlock("entry"))
	out, x, y := f.Param(0), f.Param(1), f.Param(2)

	xa := b.CreateLoad(ctx.Int32(), b.CreateStructGEP(st, x, 0, ""), "xa")
	ya := b.CreateLoad(ctx.Int32(), b.CreateStructGEP(st, y, 0, ""), "ya")
	b.CreateStore(b.CreateAdd(xa, ya, "a"), b.CreateStructGEP(st, out, 0, ""))

	xb := b.CreateLoad(ctx.Double(), b.CreateStructGEP(st, x, 1, ""), "xb")
	yb := b.CreateLoad(ctx.Double(), b.CreateStructGEP(st, y, 1, ""), "yb")
	b.CreateStore(b.CreateFAdd(xb, yb, "b"), b.CreateStructGEP(st, out, 1, ""))
	b.CreateRetVoid()
	return m
}
