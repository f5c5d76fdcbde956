package jit

import (
	"fmt"
	"io"
	"os"
	"sync"

	"nanojit/internal/target"
	"nanojit/internal/trace"
)

// ExitFatal is the process exit code of a fatal engine failure.
const ExitFatal = 70

// FatalFunc handles failures the engine cannot recover from: a host the
// backend does not support, or a teardown that leaks code memory.
type FatalFunc func(msg string, err error)

// Fatal reports msg and err on stderr and exits with ExitFatal.
func Fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "nanojit: fatal: %s: %v\n", msg, err)
	os.Exit(ExitFatal)
}

// withFlush records the failure, flushes t and writes any in-memory trace
// window to w before handing over to fatal.
func withFlush(t trace.Tracer, w io.Writer, fatal FatalFunc) FatalFunc {
	return func(msg string, err error) {
		trace.Point(t, trace.ScopeEngine, "fatal", msg+": "+err.Error())
		_ = t.Flush()
		_ = trace.DumpRecent(t, w)
		fatal(msg, err)
	}
}

var native struct {
	once sync.Once
	desc target.Description
	err  error
}

// InitializeNative detects the host target once per process. Later calls
// return the first result. A host the backend cannot serve is fatal.
func InitializeNative() target.Description {
	d, err := initializeNative(Fatal)
	if err != nil {
		panic(err) // unreachable with the default hook
	}
	return d
}

func initializeNative(fatal FatalFunc) (target.Description, error) {
	native.once.Do(func() {
		native.desc, native.err = target.Detect()
	})
	if native.err != nil {
		fatal("native target initialization failed", native.err)
		return target.Description{}, native.err
	}
	return native.desc, nil
}
