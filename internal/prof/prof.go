// Package prof runs the Go profilers around a CLI invocation, so the cost of
// translation and execution can be inspected with go tool pprof.
package prof

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"sync"
)

// Paths names the output files; empty paths disable that profiler.
type Paths struct {
	CPU   string
	Heap  string
	Trace string
}

// Profiler owns the running profilers.
type Profiler struct {
	heap  string
	cpu   *os.File
	trace *os.File

	once sync.Once
	err  error
}

// Start enables the profilers named by p. On error nothing is left running.
func Start(p Paths) (_ *Profiler, err error) {
	pr := &Profiler{heap: p.Heap}
	defer func() {
		if err != nil {
			_ = pr.Stop()
		}
	}()
	if p.CPU != "" {
		if pr.cpu, err = os.Create(p.CPU); err != nil {
			return nil, err
		}
		if err = pprof.StartCPUProfile(pr.cpu); err != nil {
			return nil, fmt.Errorf("cpu profile: %w", err)
		}
	}
	if p.Trace != "" {
		if pr.trace, err = os.Create(p.Trace); err != nil {
			return nil, err
		}
		if err = trace.Start(pr.trace); err != nil {
			return nil, fmt.Errorf("runtime trace: %w", err)
		}
	}
	return pr, nil
}

// Stop ends the profilers and writes the heap profile. Only the first call
// does any work; later calls return its result.
func (p *Profiler) Stop() error {
	p.once.Do(func() {
		var errs []error
		if p.trace != nil {
			trace.Stop()
			errs = append(errs, p.trace.Close())
		}
		if p.cpu != nil {
			pprof.StopCPUProfile()
			errs = append(errs, p.cpu.Close())
		}
		if p.heap != "" {
			errs = append(errs, writeHeap(p.heap))
		}
		p.err = errors.Join(errs...)
	})
	return p.err
}

func writeHeap(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	runtime.GC()
	return pprof.WriteHeapProfile(f)
}
