package rowgen

import (
	"context"
	"encoding/binary"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"
	"strings"
	"testing"
	"unsafe"

	"nanojit/internal/codegen"
	"nanojit/internal/execmem"
	"nanojit/internal/ir"
	"nanojit/internal/loader"
	"nanojit/internal/machine"
	"nanojit/internal/target"
)

type runner struct {
	t    *testing.T
	comp *codegen.Compiler
	cpu  *machine.CPU
	ld   *loader.Loader
}

func newRunner(t *testing.T) *runner {
	t.Helper()
	desc, err := target.Detect()
	if err != nil {
		t.Skipf("unsupported host: %v", err)
	}
	ref, err := target.NewMachine(desc).Retain()
	if err != nil {
		t.Fatal(err)
	}
	comp := codegen.New(ref, func(s string) string { return s })
	t.Cleanup(comp.Close)
	cm := machine.NewCodeMap()
	return &runner{t: t, comp: comp, cpu: machine.NewCPU(cm, 0), ld: loader.New(execmem.NewHeap(desc.PageSize), cm)}
}

// load compiles m and returns the address of name.
func (r *runner) load(m *ir.Module, name string) uintptr {
	r.t.Helper()
	if err := ir.Validate(m); err != nil {
		r.t.Fatalf("Validate:\n%s\n%v", ir.Print(m), err)
	}
	o, err := r.comp.CompileObject(m)
	if err != nil {
		r.t.Fatalf("Compile: %v", err)
	}
	lo, err := r.ld.LoadObject(o, nil)
	if err != nil {
		r.t.Fatalf("Load: %v", err)
	}
	r.t.Cleanup(func() { _ = lo.Release() })
	addr, ok := lo.Lookup(name)
	if !ok {
		r.t.Fatalf("%s not exported", name)
	}
	return addr
}

func (r *runner) call(addr uintptr, args ...uint64) uint64 {
	r.t.Helper()
	got, err := r.cpu.Call(context.Background(), addr, args...)
	if err != nil {
		r.t.Fatalf("call: %v", err)
	}
	return got
}

func ptr[T any](p *T) uint64 { return uint64(uintptr(unsafe.Pointer(p))) }

// table is a packed row buffer for a schema.
type table struct {
	s   Schema
	buf []byte
}

func newTable(s Schema, rows int) *table {
	return &table{s: s, buf: make([]byte, s.RowSize*rows)}
}

func (tb *table) row(i int) []byte { return tb.buf[i*tb.s.RowSize : (i+1)*tb.s.RowSize] }

func (tb *table) set(i, col int, v float64) {
	c := tb.s.Columns[col]
	b := tb.row(i)[c.Offset:]
	switch c.Type {
	case Int32:
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
	case Int64:
		binary.LittleEndian.PutUint64(b, uint64(int64(v)))
	case Float64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}
}

func value(s Schema, row []byte, col int) float64 {
	c := s.Columns[col]
	b := row[c.Offset:]
	switch c.Type {
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case Int64:
		return float64(int64(binary.LittleEndian.Uint64(b)))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// precedes is the reference ordering.
func precedes(s Schema, keys []SortKey, l, r []byte) bool {
	for _, k := range keys {
		a, b := value(s, l, k.Column), value(s, r, k.Column)
		if !k.Ascending {
			a, b = b, a
		}
		if a < b {
			return true
		}
		if a > b {
			return false
		}
	}
	return false
}

var scoreSchema = Schema{
	Columns: []Column{{Type: Int32, Offset: 0, Name: "id"}, {Type: Float64, Offset: 4, Name: "score"}},
	RowSize: 12,
}

func TestComparatorIDAscScoreDesc(t *testing.T) {
	r := newRunner(t)
	keys := []SortKey{{Column: 0, Ascending: true}, {Column: 1, Ascending: false}}
	name, m, err := GenerateComparator(scoreSchema, keys)
	if err != nil {
		t.Fatal(err)
	}
	cmp := r.load(m, name)

	tb := newTable(scoreSchema, 2)
	tb.set(0, 0, 1)
	tb.set(0, 1, 10)
	tb.set(1, 0, 1)
	tb.set(1, 1, 20)
	lo, hi := ptr(&tb.row(0)[0]), ptr(&tb.row(1)[0])
	if got := r.call(cmp, lo, hi); got != 0 {
		t.Fatalf("compare((1,10),(1,20)) = %d, want false", got)
	}
	if got := r.call(cmp, hi, lo); got != 1 {
		t.Fatalf("compare((1,20),(1,10)) = %d, want true", got)
	}
	if got := r.call(cmp, lo, lo); got != 0 {
		t.Fatalf("compare(x, x) = %d, want false", got)
	}

	tb.set(1, 0, 0)
	if got := r.call(cmp, hi, lo); got != 1 {
		t.Fatalf("smaller id does not precede: %d", got)
	}
	if got := r.call(cmp, lo, hi); got != 0 {
		t.Fatalf("larger id precedes: %d", got)
	}
	runtime.KeepAlive(tb)
}

func TestComparatorNaN(t *testing.T) {
	r := newRunner(t)
	keys := []SortKey{{Column: 1, Ascending: true}}
	name, m, err := GenerateComparator(scoreSchema, keys)
	if err != nil {
		t.Fatal(err)
	}
	cmp := r.load(m, name)
	tb := newTable(scoreSchema, 2)
	tb.set(0, 1, math.NaN())
	tb.set(1, 1, 1.5)
	a, b := ptr(&tb.row(0)[0]), ptr(&tb.row(1)[0])
	if r.call(cmp, a, b) != 0 || r.call(cmp, b, a) != 0 {
		t.Fatalf("NaN compared as ordered")
	}
	runtime.KeepAlive(tb)
}

func randomSchema(rng *rand.Rand) Schema {
	var s Schema
	off := 0
	for i := range 1 + rng.IntN(4) {
		typ := ColumnType(1 + rng.IntN(3))
		s.Columns = append(s.Columns, Column{Type: typ, Offset: off, Name: "c" + string(rune('a'+i))})
		off += typ.Size()
	}
	s.RowSize = off + rng.IntN(4)
	return s
}

func randomKeys(rng *rand.Rand, s Schema) []SortKey {
	keys := make([]SortKey, 1+rng.IntN(len(s.Columns)))
	for i := range keys {
		keys[i] = SortKey{Column: rng.IntN(len(s.Columns)), Ascending: rng.IntN(2) == 0}
	}
	return keys
}

func fill(rng *rand.Rand, tb *table, rows int) {
	for i := range rows {
		for c := range tb.s.Columns {
			// few distinct values so later keys get exercised
			tb.set(i, c, float64(rng.IntN(5)-2))
		}
	}
}

func TestComparatorMatchesReference(t *testing.T) {
	r := newRunner(t)
	rng := rand.New(rand.NewPCG(7, 11))
	for range 20 {
		s := randomSchema(rng)
		keys := randomKeys(rng, s)
		name, m, err := GenerateComparator(s, keys)
		if err != nil {
			t.Fatal(err)
		}
		cmp := r.load(m, name)
		const rows = 12
		tb := newTable(s, rows)
		fill(rng, tb, rows)
		for i := range rows {
			for j := range rows {
				got := r.call(cmp, ptr(&tb.row(i)[0]), ptr(&tb.row(j)[0])) == 1
				want := precedes(s, keys, tb.row(i), tb.row(j))
				if got != want {
					t.Fatalf("%s: rows %d,%d: got %v, want %v", name, i, j, got, want)
				}
				if got && r.call(cmp, ptr(&tb.row(j)[0]), ptr(&tb.row(i)[0])) == 1 {
					t.Fatalf("%s: rows %d,%d precede each other", name, i, j)
				}
			}
		}
		runtime.KeepAlive(tb)
	}
}

func TestComparatorIsStrictWeakOrder(t *testing.T) {
	r := newRunner(t)
	rng := rand.New(rand.NewPCG(13, 17))
	for range 8 {
		s := randomSchema(rng)
		keys := randomKeys(rng, s)
		name, m, err := GenerateComparator(s, keys)
		if err != nil {
			t.Fatal(err)
		}
		cmp := r.load(m, name)
		const rows = 14
		tb := newTable(s, rows)
		fill(rng, tb, rows)
		var less [rows][rows]bool
		for i := range rows {
			for j := range rows {
				less[i][j] = r.call(cmp, ptr(&tb.row(i)[0]), ptr(&tb.row(j)[0])) == 1
			}
		}
		runtime.KeepAlive(tb)
		equiv := func(i, j int) bool { return !less[i][j] && !less[j][i] }
		for i := range rows {
			if less[i][i] {
				t.Fatalf("%s: row %d precedes itself", name, i)
			}
			for j := range rows {
				for k := range rows {
					if less[i][j] && less[j][k] && !less[i][k] {
						t.Fatalf("%s: %d<%d<%d but not %d<%d", name, i, j, k, i, k)
					}
					if equiv(i, j) && equiv(j, k) && !equiv(i, k) {
						t.Fatalf("%s: equivalence of %d,%d,%d is not transitive", name, i, j, k)
					}
				}
			}
		}
	}
}

func TestGeneratedSort(t *testing.T) {
	r := newRunner(t)
	rng := rand.New(rand.NewPCG(3, 5))
	for range 10 {
		s := randomSchema(rng)
		keys := randomKeys(rng, s)
		name, m, err := GenerateSort(s, keys)
		if err != nil {
			t.Fatal(err)
		}
		sorter := r.load(m, name)
		rows := rng.IntN(20)
		tb := newTable(s, max(rows, 1))
		fill(rng, tb, rows)
		before := make([]string, rows)
		for i := range rows {
			before[i] = string(tb.row(i))
		}

		r.call(sorter, ptr(&tb.buf[0]), uint64(rows))

		after := make([]string, rows)
		for i := range rows {
			after[i] = string(tb.row(i))
			if i > 0 && precedes(s, keys, tb.row(i), tb.row(i-1)) {
				t.Fatalf("%s: row %d precedes row %d after sort", name, i, i-1)
			}
		}
		slices.Sort(before)
		slices.Sort(after)
		if !slices.Equal(before, after) {
			t.Fatalf("%s: sort changed the set of rows", name)
		}
		runtime.KeepAlive(tb)
	}
}

type scoreRow struct {
	id    int32
	score float64
}

func TestRowSortModule(t *testing.T) {
	r := newRunner(t)
	sorter := r.load(RowSortModule(), "my_sort")
	data := []scoreRow{{2, 5.5}, {1, 9.0}, {2, 3.3}, {1, 8.0}, {3, 1.0}}
	r.call(sorter, ptr(&data[0]), uint64(len(data)))
	want := []scoreRow{{1, 8.0}, {1, 9.0}, {2, 3.3}, {2, 5.5}, {3, 1.0}}
	if !slices.Equal(data, want) {
		t.Fatalf("sorted = %v, want %v", data, want)
	}

	one := []scoreRow{{4, 0}}
	r.call(sorter, ptr(&one[0]), 1)
	if one[0] != (scoreRow{4, 0}) {
		t.Fatalf("single row changed: %v", one)
	}
}

func TestSumModules(t *testing.T) {
	r := newRunner(t)
	if got := int32(r.call(r.load(SumIntModule(), "sum_int"), 10, 32)); got != 42 {
		t.Fatalf("sum_int(10, 32) = %d", got)
	}
	neg := uint64(math.MaxUint64) // -1 as i32 argument
	if got := int32(r.call(r.load(SumIntModule(), "sum_int"), neg, 1)); got != 0 {
		t.Fatalf("sum_int(-1, 1) = %d", got)
	}
	sd := r.load(SumDoubleModule(), "sum_double")
	if got := math.Float64frombits(r.call(sd, math.Float64bits(1.5), math.Float64bits(2.25))); got != 3.75 {
		t.Fatalf("sum_double = %v", got)
	}
	ss := r.load(SumStructModule(), "sum_struct")
	a, b := scoreRow{10, 1.5}, scoreRow{20, 2.5}
	var out scoreRow
	r.call(ss, ptr(&out), ptr(&a), ptr(&b))
	if out != (scoreRow{30, 4.0}) {
		t.Fatalf("sum_struct = %v", out)
	}
}

func TestNamesAndErrors(t *testing.T) {
	keys := []SortKey{{Column: 0, Ascending: true}, {Column: 1, Ascending: false}}
	n1, _, err := GenerateComparator(scoreSchema, keys)
	if err != nil {
		t.Fatal(err)
	}
	n2, _, _ := GenerateComparator(scoreSchema, slices.Clone(keys))
	if n1 != n2 || !strings.HasPrefix(n1, "cmp_0a1d_") {
		t.Fatalf("names %q, %q", n1, n2)
	}
	moved := Schema{Columns: []Column{{Type: Int32, Offset: 8}, {Type: Float64, Offset: 0}}, RowSize: 12}
	if n3, _, _ := GenerateComparator(moved, keys); n3 == n1 {
		t.Fatalf("different layouts share name %q", n3)
	}
	if sn, _, _ := GenerateSort(scoreSchema, keys); sn == n1 || !strings.HasPrefix(sn, "sort_0a1d_") {
		t.Fatalf("sort name %q", sn)
	}

	tests := []struct {
		name string
		s    Schema
		keys []SortKey
	}{
		{"no keys", scoreSchema, nil},
		{"column out of range", scoreSchema, []SortKey{{Column: 2}}},
		{"negative column", scoreSchema, []SortKey{{Column: -1}}},
		{"column past row", Schema{Columns: []Column{{Type: Int64, Offset: 8}}, RowSize: 12}, []SortKey{{Column: 0}}},
		{"zero row size", Schema{Columns: []Column{{Type: Int32}}}, []SortKey{{Column: 0}}},
		{"row size past i32", Schema{Columns: []Column{{Type: Int32}}, RowSize: math.MaxInt32 + 1}, []SortKey{{Column: 0}}},
		{"offset overflows", Schema{Columns: []Column{{Type: Int64, Offset: math.MaxInt}}, RowSize: 16}, []SortKey{{Column: 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := GenerateComparator(tt.s, tt.keys); err == nil {
				t.Fatalf("GenerateComparator succeeded")
			}
			if _, _, err := GenerateSort(tt.s, tt.keys); err == nil {
				t.Fatalf("GenerateSort succeeded")
			}
		})
	}
}
