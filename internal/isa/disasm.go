package isa

import (
	"fmt"
	"strings"
)

// Symbolizer names an absolute address, or returns "".
type Symbolizer func(addr uint64) string

// Disassemble lists code placed at base. Trailing bytes that do not form a
// whole instruction are reported.
func Disassemble(code []byte, base uint64, sym Symbolizer) string {
	var sb strings.Builder
	n := len(code) / InstrSize
	for i := range n {
		addr := base + uint64(i*InstrSize)
		in := Decode(code[i*InstrSize:])
		if sym != nil {
			if name := sym(addr); name != "" {
				fmt.Fprintf(&sb, "%s:\n", name)
			}
		}
		fmt.Fprintf(&sb, "  %#08x  %s", addr, in)
		switch in.Op {
		case BR, BRNZ:
			target := addr + uint64(int64(in.Imm32)+1)*InstrSize
			fmt.Fprintf(&sb, "  ; -> %#x", target)
		case CALL, JMPI:
			if sym != nil {
				if name := sym(in.Imm64); name != "" {
					fmt.Fprintf(&sb, "  ; %s", name)
				}
			}
		}
		sb.WriteByte('\n')
	}
	if rest := len(code) % InstrSize; rest != 0 {
		fmt.Fprintf(&sb, "  ; %d trailing bytes\n", rest)
	}
	return sb.String()
}
