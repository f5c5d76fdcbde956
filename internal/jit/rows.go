package jit

import (
	"context"
	"errors"

	"nanojit/internal/ir"
	"nanojit/internal/lazy"
	"nanojit/internal/rowgen"
)

// Comparator returns the compiled i1 (ptr, ptr) comparator for keys over
// schema, generating it on the first request. Requests that derive the
// same name share one function.
func (e *Engine) Comparator(ctx context.Context, schema rowgen.Schema, keys []rowgen.SortKey) (Symbol, error) {
	return e.generated(ctx, func() (string, *ir.Module, error) {
		return rowgen.GenerateComparator(schema, keys)
	})
}

// Sorter returns the compiled void (ptr, i32) in-place sort for keys over
// schema.
func (e *Engine) Sorter(ctx context.Context, schema rowgen.Schema, keys []rowgen.SortKey) (Symbol, error) {
	return e.generated(ctx, func() (string, *ir.Module, error) {
		return rowgen.GenerateSort(schema, keys)
	})
}

func (e *Engine) generated(ctx context.Context, gen func() (string, *ir.Module, error)) (Symbol, error) {
	ctx, done, err := e.enter(ctx)
	if err != nil {
		return Symbol{}, err
	}
	defer done()
	name, m, err := gen()
	if err != nil {
		return Symbol{}, err
	}
	_, err, _ = e.rows.Do(name, func() (any, error) {
		if e.main.Contains(e.session.Intern(name)) {
			return nil, nil
		}
		err := e.gate.AddModule(ctx, e.main, m)
		var ae *lazy.AddModuleError
		if errors.As(err, &ae) && ae.Kind == lazy.Duplicate {
			return nil, nil
		}
		return nil, err
	})
	if err != nil {
		return Symbol{}, err
	}
	return e.lookup(ctx, e.main, name)
}
