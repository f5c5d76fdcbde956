package jit

import (
	"context"

	"golang.org/x/sync/errgroup"

	"nanojit/internal/session"
)

// Prefetch compiles names of the main library ahead of their first call,
// up to prefetch.jobs at a time, and returns once all are ready. It is the
// asynchronous counterpart of Lookup: run it in a goroutine to overlap
// compilation with other work.
func (e *Engine) Prefetch(ctx context.Context, names ...string) error {
	return e.PrefetchIn(ctx, e.main, names...)
}

// PrefetchIn is Prefetch for lib.
func (e *Engine) PrefetchIn(ctx context.Context, lib *session.Library, names ...string) error {
	ctx, done, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer done()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.jobs)
	for _, name := range names {
		g.Go(func() error {
			_, err := e.lookup(gctx, lib, name)
			return err
		})
	}
	return g.Wait()
}
