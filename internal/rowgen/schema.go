// Package rowgen generates specialised comparison and sort functions for
// fixed-size records. Every decision about column types, offsets and sort
// direction is made while building the IR; the generated code does not
// branch on them.
package rowgen

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"fortio.org/safecast"

	"nanojit/internal/ir"
)

// ColumnType is the storage type of a column.
type ColumnType uint8

const (
	Int32 ColumnType = iota + 1
	Int64
	Float64
)

func (t ColumnType) String() string {
	switch t {
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	}
	return "column(" + strconv.Itoa(int(t)) + ")"
}

// Size returns the column width in bytes.
func (t ColumnType) Size() int {
	if t == Int32 {
		return 4
	}
	return 8
}

func (t ColumnType) irType(ctx *ir.Context) *ir.Type {
	switch t {
	case Int32:
		return ctx.Int32()
	case Int64:
		return ctx.Int64()
	}
	return ctx.Double()
}

// Column describes one field of a record.
type Column struct {
	Type   ColumnType
	Offset int
	Name   string
}

// Schema is the layout of a record. RowSize is the distance between
// consecutive records in an array.
type Schema struct {
	Columns []Column
	RowSize int
}

// SortKey orders by one column.
type SortKey struct {
	Column    int
	Ascending bool
}

// Validate checks that every column fits inside a row and that the row
// size fits the generated code's i32 arithmetic.
func (s Schema) Validate() error {
	if s.RowSize <= 0 {
		return fmt.Errorf("rowgen: row size %d", s.RowSize)
	}
	if _, err := safecast.Conv[int32](s.RowSize); err != nil {
		return fmt.Errorf("rowgen: row size %d: %w", s.RowSize, err)
	}
	for i, c := range s.Columns {
		if c.Type < Int32 || c.Type > Float64 {
			return fmt.Errorf("rowgen: column %d: unknown type %s", i, c.Type)
		}
		if c.Offset < 0 || c.Offset > s.RowSize-c.Type.Size() {
			return fmt.Errorf("rowgen: column %d (%s) at offset %d does not fit a %d byte row", i, c.Name, c.Offset, s.RowSize)
		}
	}
	return nil
}

func (s Schema) checkKeys(keys []SortKey) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("rowgen: no sort keys")
	}
	for _, k := range keys {
		if k.Column < 0 || k.Column >= len(s.Columns) {
			return fmt.Errorf("rowgen: sort key column %d out of range [0,%d)", k.Column, len(s.Columns))
		}
	}
	return nil
}

// digest identifies the physical layout so two schemas ordering the same
// column indexes at different offsets never share a symbol.
func (s Schema) digest() string {
	h := sha256.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], safecast.MustConv[uint64](s.RowSize))
	_, _ = h.Write(buf[:])
	for _, c := range s.Columns {
		binary.LittleEndian.PutUint64(buf[:], safecast.MustConv[uint64](c.Offset))
		_, _ = h.Write([]byte{byte(c.Type)})
		_, _ = h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil)[:4])
}

// symbolName derives the function name from the keys and the layout.
func symbolName(prefix string, s Schema, keys []SortKey) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte('_')
	for _, k := range keys {
		b.WriteString(strconv.Itoa(k.Column))
		if k.Ascending {
			b.WriteByte('a')
		} else {
			b.WriteByte('d')
		}
	}
	b.WriteByte('_')
	b.WriteString(s.digest())
	return b.String()
}
