package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unsafe"

	"github.com/spf13/cobra"

	"nanojit/internal/ir"
	"nanojit/internal/jit"
	"nanojit/internal/rowgen"
)

var demoCmd = &cobra.Command{
	Use:       "demo sum|sort|cmp",
	Short:     "Run a built-in demo",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"sum", "sort", "cmp"},
	RunE: func(cmd *cobra.Command, args []string) error {
		e, closeEngine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		out := cmd.OutOrStdout()
		switch args[0] {
		case "sum":
			err = demoSum(ctx, out, e)
		case "sort":
			err = demoSort(ctx, out, e)
		case "cmp":
			err = demoCmp(ctx, out, e)
		}
		if cerr := closeEngine(); err == nil {
			err = cerr
		}
		return err
	},
}

type complexStruct struct {
	a int32
	b float64
}

func demoSum(ctx context.Context, out io.Writer, e *jit.Engine) error {
	fmt.Fprintln(out, "=== Expression Sum JIT Demo ===")
	for _, m := range []func() *ir.Module{rowgen.SumIntModule, rowgen.SumDoubleModule, rowgen.SumStructModule} {
		if err := e.AddModule(ctx, m()); err != nil {
			return err
		}
	}
	sumInt, err := jit.Func[func(context.Context, int32, int32) (int32, error)](ctx, e, "sum_int")
	if err != nil {
		return err
	}
	r, err := sumInt(ctx, 10, 32)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "[INT] 10 + 32 = %s\n", resultColor.Sprint(r))

	sumDouble, err := jit.Func[func(context.Context, float64, float64) (float64, error)](ctx, e, "sum_double")
	if err != nil {
		return err
	}
	d, err := sumDouble(ctx, 3.14, 2.71)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "[DOUBLE] 3.14 + 2.71 = %s\n", resultColor.Sprint(d))

	sumStruct, err := jit.Func[func(context.Context, *complexStruct, *complexStruct, *complexStruct) error](ctx, e, "sum_struct")
	if err != nil {
		return err
	}
	s1, s2 := complexStruct{100, 1.5}, complexStruct{200, 2.5}
	var res complexStruct
	if err := sumStruct(ctx, &res, &s1, &s2); err != nil {
		return err
	}
	fmt.Fprintf(out, "[STRUCT] {100, 1.5} + {200, 2.5} = %s\n", resultColor.Sprintf("{%d, %g}", res.a, res.b))
	return nil
}

type row struct {
	id    int32
	score float64
}

func formatRows(rows []row) string {
	parts := make([]string, len(rows))
	for i, r := range rows {
		parts[i] = fmt.Sprintf("{%d, %g}", r.id, r.score)
	}
	return strings.Join(parts, " ")
}

func demoSort(ctx context.Context, out io.Writer, e *jit.Engine) error {
	data := []row{{2, 5.5}, {1, 9.0}, {2, 3.3}, {1, 8.0}, {3, 1.0}}
	fmt.Fprintln(out, "=== Bubble Sort JIT Demo ===")
	fmt.Fprintln(out, "Before sort:")
	fmt.Fprintln(out, formatRows(data))
	if err := e.AddModule(ctx, rowgen.RowSortModule()); err != nil {
		return err
	}
	sort, err := jit.Func[func(context.Context, *row, int32) error](ctx, e, "my_sort")
	if err != nil {
		return err
	}
	if err := sort(ctx, &data[0], int32(len(data))); err != nil { //nolint:gosec // five rows
		return err
	}
	fmt.Fprintln(out, "After sort:")
	fmt.Fprintln(out, resultColor.Sprint(formatRows(data)))
	return nil
}

var rowSchema = rowgen.Schema{
	Columns: []rowgen.Column{
		{Type: rowgen.Int32, Offset: int(unsafe.Offsetof(row{}.id)), Name: "id"},
		{Type: rowgen.Float64, Offset: int(unsafe.Offsetof(row{}.score)), Name: "score"},
	},
	RowSize: int(unsafe.Sizeof(row{})),
}

func demoCmp(ctx context.Context, out io.Writer, e *jit.Engine) error {
	keys := []rowgen.SortKey{{Column: 0, Ascending: true}, {Column: 1, Ascending: false}}
	fmt.Fprintln(out, "=== Schema-Driven Comparator Demo ===")
	cmpSym, err := e.Comparator(ctx, rowSchema, keys)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "comparator %s at %#x\n", labelColor.Sprint(cmpSym.Name), cmpSym.Addr)

	a, b := row{1, 10.0}, row{1, 20.0}
	less := func(x, y *row) (bool, error) {
		r, err := e.CallAddress(ctx, cmpSym.Addr, uint64(uintptr(unsafe.Pointer(x))), uint64(uintptr(unsafe.Pointer(y))))
		return r == 1, err
	}
	for _, p := range [][2]*row{{&a, &b}, {&b, &a}} {
		r, err := less(p[0], p[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "precedes(%s, %s) = %s\n", formatRows([]row{*p[0]}), formatRows([]row{*p[1]}), resultColor.Sprint(r))
	}

	sortSym, err := e.Sorter(ctx, rowSchema, keys)
	if err != nil {
		return err
	}
	data := []row{{2, 5.5}, {1, 9.0}, {2, 3.3}, {1, 8.0}, {3, 1.0}}
	if _, err := e.CallAddress(ctx, sortSym.Addr, uint64(uintptr(unsafe.Pointer(&data[0]))), uint64(len(data))); err != nil {
		return err
	}
	fmt.Fprintf(out, "sorted by id asc, score desc: %s\n", resultColor.Sprint(formatRows(data)))
	return nil
}
