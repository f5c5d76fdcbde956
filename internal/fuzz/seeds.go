package fuzztests

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"nanojit/internal/ir"
	"nanojit/internal/rowgen"
)

const maxSeedBytes = 64 << 10

func addCorpusSeeds(f *testing.F) {
	addTestdataSeeds(f)
	addGeneratedSeeds(f)
}

func addTestdataSeeds(f *testing.F) {
	root := filepath.Join("..", "..", "testdata")
	if _, err := os.Stat(root); err != nil {
		return
	}
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() || filepath.Ext(path) != ".nir" {
			return nil
		}
		// #nosec G304 -- path comes from repository testdata walk
		src, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		f.Add(clampSeed(src))
		return nil
	})
	f.Add([]byte{})
	f.Add([]byte("define void @f() {\nentry:\n  ret void\n}\n"))
}

// addGeneratedSeeds prints the modules the engine builds itself, so the
// corpus covers phis, struct GEPs and selects.
func addGeneratedSeeds(f *testing.F) {
	mods := []*ir.Module{
		rowgen.SumIntModule(),
		rowgen.SumDoubleModule(),
		rowgen.SumStructModule(),
		rowgen.RowSortModule(),
	}
	s := rowgen.Schema{
		Columns: []rowgen.Column{
			{Type: rowgen.Int32, Offset: 0, Name: "id"},
			{Type: rowgen.Float64, Offset: 8, Name: "score"},
			{Type: rowgen.Int64, Offset: 16, Name: "ts"},
		},
		RowSize: 24,
	}
	keys := []rowgen.SortKey{{Column: 0, Ascending: true}, {Column: 1}, {Column: 2, Ascending: true}}
	if _, m, err := rowgen.GenerateComparator(s, keys); err == nil {
		mods = append(mods, m)
	}
	if _, m, err := rowgen.GenerateSort(s, keys); err == nil {
		mods = append(mods, m)
	}
	for _, m := range mods {
		f.Add(clampSeed([]byte(ir.Print(m))))
	}
}

func clampSeed(src []byte) []byte {
	if len(src) <= maxSeedBytes {
		return append([]byte(nil), src...)
	}
	return append([]byte(nil), src[:maxSeedBytes]...)
}

func clampInput(input []byte) string {
	if len(input) > maxSeedBytes {
		input = input[:maxSeedBytes]
	}
	return string(input)
}
