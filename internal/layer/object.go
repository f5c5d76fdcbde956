// Package layer stacks translation and loading on top of the session.
package layer

import (
	"context"

	"nanojit/internal/loader"
	"nanojit/internal/obj"
	"nanojit/internal/session"
	"nanojit/internal/symtab"
	"nanojit/internal/trace"
)

// ObjectLayer loads artifacts into a library.
type ObjectLayer struct {
	s  *session.Session
	ld *loader.Loader
}

// NewObjectLayer creates an object layer loading through ld.
func NewObjectLayer(s *session.Session, ld *loader.Loader) *ObjectLayer {
	return &ObjectLayer{s: s, ld: ld}
}

// Add loads an encoded artifact into lib and returns its exported symbols.
func (l *ObjectLayer) Add(ctx context.Context, lib *session.Library, artifact []byte) (map[symtab.Name]uintptr, error) {
	o, err := obj.Unmarshal(artifact)
	if err != nil {
		return nil, &loader.LoadError{Object: "<artifact>", Err: err}
	}
	return l.AddObject(ctx, lib, o)
}

// AddObject loads o into lib. External references resolve against the
// library's link order; lazy functions resolve to their stubs. The loaded
// object is released when the session ends.
func (l *ObjectLayer) AddObject(ctx context.Context, lib *session.Library, o *obj.Object) (map[symtab.Name]uintptr, error) {
	span := trace.Begin(trace.FromContext(ctx), trace.ScopeCode, "load", trace.CurrentSpan(ctx)).
		WithExtra("object", o.Name)
	scopes := lib.LinkOrder()
	loaded, err := l.ld.LoadObject(o, func(name string) (uintptr, error) {
		return l.s.LinkAddress(ctx, scopes, l.s.Pool().Intern(name))
	})
	if err != nil {
		span.End(err.Error())
		return nil, err
	}
	lib.AddResource(loaded)
	out := make(map[symtab.Name]uintptr, len(loaded.Symbols))
	for name, addr := range loaded.Symbols {
		out[l.s.Pool().Intern(name)] = addr
	}
	span.End("ok")
	return out, nil
}
