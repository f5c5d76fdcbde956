// Package nanojit is the embedding API of the lazy JIT engine: register IR
// modules, look symbols up and call them. Code is compiled per function the
// first time it is reached.
package nanojit

import (
	"context"

	"nanojit/internal/config"
	"nanojit/internal/ir"
	"nanojit/internal/jit"
	"nanojit/internal/machine"
	"nanojit/internal/rowgen"
)

type (
	Engine  = jit.Engine
	Options = jit.Options
	Symbol  = jit.Symbol
	Stats   = jit.Stats
	Config  = config.Config

	Module = ir.Module

	Schema     = rowgen.Schema
	Column     = rowgen.Column
	ColumnType = rowgen.ColumnType
	SortKey    = rowgen.SortKey

	// Fault is the error returned when generated code stops abnormally.
	Fault = machine.Fault
)

const (
	Int32   = rowgen.Int32
	Int64   = rowgen.Int64
	Float64 = rowgen.Float64
)

// ErrClosed is returned by every operation on a closed engine.
var ErrClosed = jit.ErrClosed

// New builds an engine. The zero Options use the default configuration.
func New(opts Options) (*Engine, error) { return jit.New(opts) }

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config { return config.Default() }

// LoadConfig reads a TOML configuration file.
func LoadConfig(path string) (Config, error) { return config.LoadFile(path) }

// ParseModule parses the textual IR form.
func ParseModule(name, text string) (*Module, error) { return ir.Parse(name, text) }

// Func returns name as a typed Go function; see jit.Func for the supported
// signatures.
func Func[F any](ctx context.Context, e *Engine, name string) (F, error) {
	return jit.Func[F](ctx, e, name)
}
