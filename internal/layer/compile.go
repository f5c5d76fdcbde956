package layer

import (
	"context"
	"maps"
	"strings"
	"sync"

	"nanojit/internal/codegen"
	"nanojit/internal/ir"
	"nanojit/internal/observ"
	"nanojit/internal/session"
	"nanojit/internal/symtab"
	"nanojit/internal/trace"
)

// CompileLayer translates partitions and hands the artifacts to the object
// layer.
type CompileLayer struct {
	comp    *codegen.Compiler
	objects *ObjectLayer
	rec     *observ.Recorder

	mu     sync.Mutex
	counts map[string]int
}

// NewCompileLayer creates a compile layer. rec may be nil.
func NewCompileLayer(comp *codegen.Compiler, objects *ObjectLayer, rec *observ.Recorder) *CompileLayer {
	return &CompileLayer{comp: comp, objects: objects, rec: rec, counts: make(map[string]int)}
}

// Emit translates part, loads it into lib and returns the addresses of the
// symbols it defines.
func (l *CompileLayer) Emit(ctx context.Context, lib *session.Library, part *ir.Partition) (map[symtab.Name]uintptr, error) {
	tracer := trace.FromContext(ctx)
	timer := observ.NewTimer()
	defer l.rec.Add(timer)

	span := trace.Begin(tracer, trace.ScopeCode, "translate", trace.CurrentSpan(ctx)).
		WithExtra("partition", part.Module.Name).
		WithExtra("kind", part.Kind.String())
	idx := timer.Begin("translate")
	art, err := l.comp.Compile(part.Module)
	timer.End(idx, part.Module.Name)
	if err != nil {
		span.End(err.Error())
		return nil, err
	}
	span.End("ok")
	l.mu.Lock()
	for _, s := range part.Symbols {
		l.counts[s]++
	}
	l.mu.Unlock()

	idx = timer.Begin("load")
	addrs, err := l.objects.Add(ctx, lib, art)
	timer.End(idx, strings.Join(part.Symbols, ","))
	return addrs, err
}

// Translations returns how many times each symbol was translated.
func (l *CompileLayer) Translations() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return maps.Clone(l.counts)
}

// Timings returns the accumulated phase timings.
func (l *CompileLayer) Timings() observ.Report {
	if l.rec == nil {
		return observ.Report{}
	}
	return l.rec.Report()
}
