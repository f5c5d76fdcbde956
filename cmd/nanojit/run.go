package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"nanojit/internal/ir"
)

var runCmd = &cobra.Command{
	Use:   "run FILE.nir FUNC [ARGS...]",
	Short: "Add an IR module to the engine and call one of its functions",
	Long: `Arguments are converted using the parameter types of FUNC: integers accept
0x/0o/0b prefixes, i1 accepts true/false, ptr accepts an address.
Put negative numbers after -- so they are not read as flags.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := parseModuleFile(args[0])
		if err != nil {
			return err
		}
		fn := m.Func(args[1])
		if fn == nil || fn.IsDeclaration() {
			return fmt.Errorf("%s: no function %q defined", args[0], args[1])
		}
		sig := fn.Sig()
		regs, err := encodeArgs(sig, args[2:])
		if err != nil {
			return fmt.Errorf("%s: %w", args[1], err)
		}

		e, closeEngine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		var r uint64
		if err = e.AddModule(ctx, m); err == nil {
			r, err = e.Call(ctx, args[1], regs...)
		}
		if cerr := closeEngine(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		if !sig.Ret.IsVoid() {
			fmt.Fprintln(cmd.OutOrStdout(), resultColor.Sprint(formatResult(sig.Ret, r)))
		}
		return nil
	},
}

func parseModuleFile(path string) (*ir.Module, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ir.Parse(name, string(src))
}

// encodeArgs converts command line arguments to register values following
// the parameter types of sig.
func encodeArgs(sig *ir.Type, args []string) ([]uint64, error) {
	if len(args) != len(sig.Params) {
		return nil, fmt.Errorf("expected %d arguments for %s, got %d", len(sig.Params), sig, len(args))
	}
	regs := make([]uint64, len(args))
	for i, a := range args {
		r, err := encodeArg(sig.Params[i], a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		regs[i] = r
	}
	return regs, nil
}

func encodeArg(t *ir.Type, s string) (uint64, error) {
	switch {
	case t.IsBool():
		b, err := strconv.ParseBool(s)
		if err != nil {
			return 0, err
		}
		if b {
			return 1, nil
		}
		return 0, nil
	case t.IsInt():
		v, err := strconv.ParseInt(s, 0, t.Width)
		if err != nil {
			return 0, err
		}
		return uint64(v), nil //nolint:gosec // registers hold sign-extended integers
	case t.IsFloat():
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, err
		}
		return math.Float64bits(f), nil
	case t.IsPtr():
		return strconv.ParseUint(s, 0, 64)
	}
	return 0, fmt.Errorf("unsupported parameter type %s", t)
}

func formatResult(t *ir.Type, r uint64) string {
	switch {
	case t.IsBool():
		return strconv.FormatBool(r&1 == 1)
	case t.IsInt():
		return strconv.FormatInt(ir.SignExtend(r, t.Width), 10)
	case t.IsFloat():
		return strconv.FormatFloat(math.Float64frombits(r), 'g', -1, 64)
	case t.IsPtr():
		return fmt.Sprintf("%#x", r)
	}
	return fmt.Sprintf("%#x", r)
}
