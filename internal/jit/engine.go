// Package jit is the engine: it owns the target, the session, executable
// memory and the layers, and exposes module registration, lookup and calls.
package jit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sync/singleflight"

	"nanojit/internal/codegen"
	"nanojit/internal/config"
	"nanojit/internal/execmem"
	"nanojit/internal/host"
	"nanojit/internal/ir"
	"nanojit/internal/layer"
	"nanojit/internal/lazy"
	"nanojit/internal/loader"
	"nanojit/internal/machine"
	"nanojit/internal/observ"
	"nanojit/internal/session"
	"nanojit/internal/target"
	"nanojit/internal/trace"
)

// MainLibrary is the name of the library AddModule registers into.
const MainLibrary = "main"

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("jit: engine closed")

// Options configures New. The zero value runs with config.Default().
type Options struct {
	Config config.Config
	// Tracer overrides the tracer built from Config.Trace.
	Tracer trace.Tracer
	// Fatal replaces the process-exiting fatal hook.
	Fatal FatalFunc
	// Hosts lists the primitives generated code may call; nil selects
	// host.Defaults().
	Hosts *host.Registry
}

// Symbol is a resolved function or global.
type Symbol struct {
	Name    string
	Library string
	Addr    uintptr
}

// Engine is a JIT instance. It is safe for concurrent use.
type Engine struct {
	tracer    trace.Tracer
	ownTracer bool
	fatal     FatalFunc
	jobs      int

	machine *target.Machine
	desc    target.Description
	session *session.Session
	mem     *execmem.Limited
	cpu     *machine.CPU
	hosts   *host.Generator
	objects *layer.ObjectLayer
	comp    *codegen.Compiler
	compile *layer.CompileLayer
	timings *observ.Recorder
	stubs   *lazy.Stubs
	ct      *lazy.CallThrough
	gate    *lazy.Gatekeeper
	main    *session.Library

	rows singleflight.Group

	mu     sync.RWMutex // held shared by operations, exclusively by Close
	closed bool
}

// New builds an engine. Components are created in dependency order and
// torn down in reverse by Close.
func New(opts Options) (_ *Engine, err error) {
	cfg := opts.Config
	if cfg == (config.Config{}) {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{tracer: opts.Tracer, jobs: cfg.Prefetch.Jobs}
	if e.tracer == nil {
		tc, err := cfg.TraceSettings()
		if err != nil {
			return nil, err
		}
		if e.tracer, err = trace.New(tc); err != nil {
			return nil, err
		}
		e.ownTracer = true
	}
	fatal := opts.Fatal
	if fatal == nil {
		fatal = Fatal
	}
	e.fatal = withFlush(e.tracer, os.Stderr, fatal)
	if e.jobs <= 0 {
		e.jobs = runtime.GOMAXPROCS(0)
	}

	span := trace.Begin(e.tracer, trace.ScopeEngine, "bootstrap", 0)
	defer func() {
		if err != nil {
			span.End(err.Error())
			e.abandon()
			return
		}
		span.WithExtra("target", e.desc.String()).End("ok")
	}()

	if e.desc, err = initializeNative(e.fatal); err != nil {
		return nil, err
	}
	e.machine = target.NewMachine(e.desc)
	ref, err := e.machine.Retain()
	if err != nil {
		return nil, err
	}

	e.session = session.New(e.desc.GlobalPrefix, e.tracer)

	provider, err := execmem.New(cfg.Memory.Provider, e.desc.PageSize)
	if err != nil {
		ref.Release()
		return nil, err
	}
	limit, _ := cfg.MemoryLimit()
	e.mem = execmem.NewLimited(provider, limit)

	e.cpu = machine.NewCPU(machine.NewCodeMap(), cfg.Machine.MaxDepth)

	hosts := opts.Hosts
	if hosts == nil {
		hosts = host.Defaults()
	}
	if e.hosts, err = host.NewGenerator(hosts, e.cpu, e.mem, e.session.Mangler()); err != nil {
		ref.Release()
		return nil, fmt.Errorf("host entries: %w", err)
	}

	e.objects = layer.NewObjectLayer(e.session, loader.New(e.mem, e.cpu.CodeMap()))
	e.comp = codegen.New(ref, e.session.Mangler().Canonical)
	e.timings = observ.NewRecorder()
	e.compile = layer.NewCompileLayer(e.comp, e.objects, e.timings)

	e.stubs = lazy.NewStubs(e.mem, e.cpu)
	e.stubs.SetPageStubs(cfg.Lazy.StubPage)
	e.ct = lazy.NewCallThrough(e.mem, e.cpu)
	e.gate = lazy.NewGatekeeper(e.session, e.desc, e.compile, e.stubs, e.ct)

	if e.main, err = e.session.CreateLibrary(MainLibrary); err != nil {
		return nil, err
	}
	e.main.AddGenerator(e.hosts)
	return e, nil
}

// abandon releases whatever a failed New managed to build.
func (e *Engine) abandon() {
	if e.session != nil {
		_ = e.session.EndSession()
	}
	if e.stubs != nil {
		_ = e.stubs.Release()
	}
	if e.ct != nil {
		_ = e.ct.Release()
	}
	if e.hosts != nil {
		_ = e.hosts.Release()
	}
	if e.comp != nil {
		e.comp.Close()
	}
	if e.ownTracer {
		_ = e.tracer.Close()
	}
}

// enter admits an operation; the returned func must be called when it
// finishes. Operations never nest enter.
func (e *Engine) enter(ctx context.Context) (context.Context, func(), error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return ctx, nil, ErrClosed
	}
	if trace.FromContext(ctx) == trace.Nop {
		ctx = trace.WithTracer(ctx, e.tracer)
	}
	return ctx, e.mu.RUnlock, nil
}

// Target returns the host description the engine compiles for.
func (e *Engine) Target() target.Description { return e.desc }

// Tracer returns the engine tracer.
func (e *Engine) Tracer() trace.Tracer { return e.tracer }

// Main returns the default library.
func (e *Engine) Main() *session.Library { return e.main }

// CreateLibrary adds a library that resolves its own symbols first and then
// those of the main library.
func (e *Engine) CreateLibrary(name string) (*session.Library, error) {
	_, done, err := e.enter(context.Background())
	if err != nil {
		return nil, err
	}
	defer done()
	lib, err := e.session.CreateLibrary(name)
	if err != nil {
		return nil, err
	}
	lib.SetLinkOrder(lib, e.main)
	return lib, nil
}

// Library returns the library called name.
func (e *Engine) Library(name string) (*session.Library, bool) {
	return e.session.Library(name)
}

// AddModule registers m in the main library. Nothing is compiled until a
// symbol of m is looked up or called. The engine takes ownership of m.
func (e *Engine) AddModule(ctx context.Context, m *ir.Module) error {
	return e.AddModuleTo(ctx, e.main, m)
}

// AddModuleTo registers m in lib.
func (e *Engine) AddModuleTo(ctx context.Context, lib *session.Library, m *ir.Module) error {
	ctx, done, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer done()
	return e.gate.AddModule(ctx, lib, m)
}

// Lookup resolves name in the main library, compiling it on first use.
func (e *Engine) Lookup(ctx context.Context, name string) (Symbol, error) {
	return e.LookupIn(ctx, e.main, name)
}

// LookupIn resolves name through lib's link order.
func (e *Engine) LookupIn(ctx context.Context, lib *session.Library, name string) (Symbol, error) {
	ctx, done, err := e.enter(ctx)
	if err != nil {
		return Symbol{}, err
	}
	defer done()
	return e.lookup(ctx, lib, name)
}

func (e *Engine) lookup(ctx context.Context, lib *session.Library, name string) (Symbol, error) {
	addr, err := e.session.Lookup(ctx, lib.LinkOrder(), name)
	if err != nil {
		return Symbol{}, err
	}
	return Symbol{Name: name, Library: lib.Name(), Addr: addr}, nil
}

// Call looks name up in the main library and runs it. Arguments and the
// result are raw register values: integers sign-extended, doubles as IEEE
// bits, pointers as addresses.
func (e *Engine) Call(ctx context.Context, name string, args ...uint64) (uint64, error) {
	ctx, done, err := e.enter(ctx)
	if err != nil {
		return 0, err
	}
	defer done()
	sym, err := e.lookup(ctx, e.main, name)
	if err != nil {
		return 0, err
	}
	return e.cpu.Call(ctx, sym.Addr, args...)
}

// CallAddress runs the function at addr.
func (e *Engine) CallAddress(ctx context.Context, addr uintptr, args ...uint64) (uint64, error) {
	ctx, done, err := e.enter(ctx)
	if err != nil {
		return 0, err
	}
	defer done()
	return e.cpu.Call(ctx, addr, args...)
}

// Symbolize names the code at addr, for fault reports.
func (e *Engine) Symbolize(addr uintptr) string {
	return e.cpu.CodeMap().Symbolize(addr)
}

// Stats is a snapshot of engine counters.
type Stats struct {
	// Compiled is the number of distinct symbols translated so far.
	Compiled int
	// Translations counts translations per symbol; every value is 1.
	Translations map[string]int
	Timings      observ.Report
	MemoryInUse  int64
	Libraries    int
}

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	tr := e.compile.Translations()
	return Stats{
		Compiled:     len(tr),
		Translations: tr,
		Timings:      e.compile.Timings(),
		MemoryInUse:  e.mem.InUse(),
		Libraries:    len(e.session.Libraries()),
	}
}

// Close waits for running operations and compilations, then releases
// everything in reverse construction order. Any teardown failure goes to
// the fatal hook. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	span := trace.Begin(e.tracer, trace.ScopeEngine, "teardown", 0)
	var errs []error
	if err := e.session.EndSession(); err != nil {
		errs = append(errs, fmt.Errorf("end session: %w", err))
	}
	if err := e.stubs.Release(); err != nil {
		errs = append(errs, fmt.Errorf("stubs: %w", err))
	}
	if err := e.ct.Release(); err != nil {
		errs = append(errs, fmt.Errorf("trampolines: %w", err))
	}
	if err := e.hosts.Release(); err != nil {
		errs = append(errs, fmt.Errorf("host entries: %w", err))
	}
	e.comp.Close()
	if err := e.machine.Dispose(); err != nil {
		errs = append(errs, err)
	}
	if n := e.mem.InUse(); n != 0 {
		errs = append(errs, fmt.Errorf("%d bytes of code memory leaked", n))
	}
	err := errors.Join(errs...)
	if err != nil {
		span.End(err.Error())
		e.fatal("engine teardown failed", err)
	} else {
		span.End("ok")
	}
	if e.ownTracer {
		err = errors.Join(err, e.tracer.Close())
	} else {
		_ = e.tracer.Flush()
	}
	return err
}
