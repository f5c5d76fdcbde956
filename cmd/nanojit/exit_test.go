package main

import (
	"errors"
	"testing"

	"nanojit/internal/jit"
)

var errTest = errors.New("24 bytes of code memory leaked")

func TestExitFromHookDoesNotWait(t *testing.T) {
	prevForce, prevExit := forceExit, osExit
	t.Cleanup(func() {
		forceExit, osExit = prevForce, prevExit
		exiting.Store(false)
	})

	var forced, exited []int
	osExit = func(code int) { exited = append(exited, code) }
	forceExit = func(code int) {
		forced = append(forced, code)
		// a hook failing fatally while the hooks run
		fatalHook("engine teardown failed", errTest)
	}

	exitProcess(0)

	if len(forced) != 1 || forced[0] != 0 {
		t.Fatalf("forced exits = %v, want [0]", forced)
	}
	if len(exited) != 1 || exited[0] != jit.ExitFatal {
		t.Fatalf("direct exits = %v, want [%d]", exited, jit.ExitFatal)
	}
}
