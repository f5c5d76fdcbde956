package main

import (
	"os"
	"sync/atomic"

	"github.com/dc0d/onexit"
)

var (
	exiting   atomic.Bool
	forceExit = onexit.ForceExit
	osExit    = os.Exit
)

// exitProcess runs the onexit hooks and terminates with code. A second
// call made from inside a hook (a fatal teardown while closing the engine)
// exits immediately instead of waiting on the hooks it is part of.
func exitProcess(code int) {
	if exiting.CompareAndSwap(false, true) {
		forceExit(code)
		return
	}
	osExit(code)
}
