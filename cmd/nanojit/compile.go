package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nanojit/internal/codegen"
	"nanojit/internal/ir"
	"nanojit/internal/jit"
	"nanojit/internal/obj"
	"nanojit/internal/symtab"
	"nanojit/internal/target"
)

var compileOutput string

func init() {
	compileCmd.Flags().StringVarP(&compileOutput, "output", "o", "", "artifact file (default: FILE.nobj)")
}

var compileCmd = &cobra.Command{
	Use:   "compile FILE.nir",
	Short: "Translate every partition of an IR module into an artifact file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := parseModuleFile(args[0])
		if err != nil {
			return err
		}
		objects, err := translate(m)
		if err != nil {
			return err
		}
		artifacts := make([][]byte, len(objects))
		rows := make([][2]string, 0, len(objects))
		for i, o := range objects {
			if artifacts[i], err = obj.Marshal(o); err != nil {
				return fmt.Errorf("encode %s: %w", o.Name, err)
			}
			names := make([]string, 0, len(o.Symbols))
			for _, s := range o.Exported() {
				names = append(names, s.Name)
			}
			rows = append(rows, [2]string{o.Name, fmt.Sprintf("%d bytes text, %d bytes data, exports %s",
				len(o.Text), len(o.Data), strings.Join(names, " "))})
		}

		out := compileOutput
		if out == "" {
			out = strings.TrimSuffix(args[0], ".nir") + ".nobj"
		}
		if err := obj.WriteFile(out, artifacts); err != nil {
			return err
		}
		printTable(cmd.OutOrStdout(), rows)
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", resultColor.Sprint(out))
		return nil
	},
}

// translate compiles each partition of m for the host target, the same
// split the engine applies before materializing lazily.
func translate(m *ir.Module) ([]*obj.Object, error) {
	if err := ir.Validate(m); err != nil {
		return nil, err
	}
	desc := jit.InitializeNative()
	machine := target.NewMachine(desc)
	ref, err := machine.Retain()
	if err != nil {
		return nil, err
	}
	mangler := symtab.NewMangler(symtab.NewPool(), desc.GlobalPrefix)
	comp := codegen.New(ref, mangler.Canonical)
	defer func() {
		comp.Close()
		_ = machine.Dispose()
	}()

	parts := ir.Split(m)
	objects := make([]*obj.Object, 0, len(parts))
	for _, p := range parts {
		o, err := comp.CompileObject(p.Module)
		if err != nil {
			return nil, err
		}
		objects = append(objects, o)
	}
	return objects, nil
}
