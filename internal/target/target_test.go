package target

import (
	"testing"

	"nanojit/internal/ir"
)

func testDescription(t *testing.T) Description {
	t.Helper()
	d, err := Detect()
	if err != nil {
		t.Skipf("host not supported: %v", err)
	}
	return d
}

func TestDetect(t *testing.T) {
	d := testDescription(t)
	if d.PtrSize != 8 || !d.LittleEndian {
		t.Fatalf("unexpected description %+v", d)
	}
	if d.DataLayout != "e-p:64:64-i1:8-i8:8-i32:32-i64:64-f64:64" {
		t.Fatalf("DataLayout = %q", d.DataLayout)
	}
	if d.PageSize <= 0 {
		t.Fatalf("PageSize = %d", d.PageSize)
	}
}

func TestCheckDataLayout(t *testing.T) {
	d := testDescription(t)
	tests := []struct {
		layout string
		ok     bool
	}{
		{"", true},
		{d.DataLayout, true},
		{"e-p:64:64", true},
		{"e", true},
		{"E-p:64:64", false},
		{"e-p:32:32", false},
		{"e-i64:32", false},
		{"e-x:1", false},
	}
	for _, tt := range tests {
		err := d.CheckDataLayout(tt.layout)
		if (err == nil) != tt.ok {
			t.Errorf("CheckDataLayout(%q) = %v, want ok=%v", tt.layout, err, tt.ok)
		}
	}
}

func TestStructLayout(t *testing.T) {
	d := testDescription(t)
	l := NewLayout(d)
	ctx := ir.NewContext()
	tests := []struct {
		typ     *ir.Type
		size    int
		align   int
		offsets []int
	}{
		{ctx.Struct(ctx.Int32(), ctx.Double()), 16, 8, []int{0, 8}},
		{ctx.Struct(ctx.Int8(), ctx.Int32(), ctx.Int8()), 12, 4, []int{0, 4, 8}},
		{ctx.Struct(ctx.Int64(), ctx.Int1()), 16, 8, []int{0, 8}},
		{ctx.Struct(ctx.Ptr(), ctx.Struct(ctx.Int32(), ctx.Int32())), 16, 8, []int{0, 8}},
	}
	for _, tt := range tests {
		got, err := l.Of(tt.typ)
		if err != nil {
			t.Fatalf("Of(%s): %v", tt.typ, err)
		}
		if got.Size != tt.size || got.Align != tt.align {
			t.Errorf("%s: size/align = %d/%d, want %d/%d", tt.typ, got.Size, got.Align, tt.size, tt.align)
		}
		for i, off := range tt.offsets {
			if got.FieldOffsets[i] != off {
				t.Errorf("%s: field %d at %d, want %d", tt.typ, i, got.FieldOffsets[i], off)
			}
		}
	}
	if _, err := l.Of(ctx.Void()); err == nil {
		t.Fatalf("void must not have a layout")
	}
}

func TestMachineRefcount(t *testing.T) {
	m := NewMachine(testDescription(t))
	r1, err := m.Retain()
	if err != nil {
		t.Fatalf("Retain: %v", err)
	}
	r2, _ := m.Retain()
	if err := m.Dispose(); err == nil {
		t.Fatalf("Dispose succeeded with outstanding references")
	}
	r1.Release()
	r1.Release()
	if m.Refs() != 1 {
		t.Fatalf("Refs = %d after double release, want 1", m.Refs())
	}
	r2.Release()
	if err := m.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if _, err := m.Retain(); err != ErrDisposed {
		t.Fatalf("Retain after dispose = %v, want ErrDisposed", err)
	}
}
