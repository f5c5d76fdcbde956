package nanojit

import (
	"context"
	"errors"
	"testing"
)

const square = `
define i64 @square(i64 %x) {
entry:
  %r = mul i64 %x, %x
  ret i64 %r
}
`

func TestEmbedding(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Memory.Provider = "heap"
	e, err := New(Options{Config: cfg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	m, err := ParseModule("square", square)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if err := e.AddModule(ctx, m); err != nil {
		t.Fatalf("AddModule: %v", err)
	}
	sq, err := Func[func(int64) int64](ctx, e, "square")
	if err != nil {
		t.Fatalf("Func: %v", err)
	}
	if got := sq(12); got != 144 {
		t.Fatalf("square(12) = %d, want 144", got)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := e.Lookup(ctx, "square"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Lookup after Close: %v, want ErrClosed", err)
	}
}
