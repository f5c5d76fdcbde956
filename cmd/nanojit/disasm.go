package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"nanojit/internal/isa"
	"nanojit/internal/obj"
)

var disasmCmd = &cobra.Command{
	Use:   "disasm FILE.nir|FILE.nobj",
	Short: "List the nj64 code of a module or artifact file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		objects, err := loadObjects(args[0])
		if err != nil {
			return err
		}
		for _, o := range objects {
			disassembleObject(cmd.OutOrStdout(), o)
		}
		return nil
	},
}

func loadObjects(path string) ([]*obj.Object, error) {
	if filepath.Ext(path) == ".nir" {
		m, err := parseModuleFile(path)
		if err != nil {
			return nil, err
		}
		return translate(m)
	}
	artifacts, err := obj.ReadFile(path)
	if err != nil {
		return nil, err
	}
	objects := make([]*obj.Object, 0, len(artifacts))
	for i, a := range artifacts {
		o, err := obj.Unmarshal(a)
		if err != nil {
			return nil, fmt.Errorf("%s: artifact %d: %w", path, i, err)
		}
		objects = append(objects, o)
	}
	return objects, nil
}

// disassembleObject lists unrelocated text at offset zero, naming the text
// symbols and the targets of relocated operands.
func disassembleObject(w io.Writer, o *obj.Object) {
	fmt.Fprintf(w, "%s %s\n", labelColor.Sprint("object"), o.Name)
	if len(o.Text) == 0 {
		fmt.Fprintln(w, dimColor.Sprint("  (no code)"))
		return
	}
	names := make(map[uint64]string, len(o.Symbols))
	for _, s := range o.Symbols {
		if s.Section == obj.Text {
			names[s.Offset] = s.Name
		}
	}
	fmt.Fprint(w, isa.Disassemble(o.Text, 0, func(addr uint64) string { return names[addr] }))
	for _, r := range o.Relocs {
		fmt.Fprintf(w, "  %s %s+%#x -> %s%+d\n", dimColor.Sprint("reloc"), r.Section, r.Offset, r.Symbol, r.Addend)
	}
}
