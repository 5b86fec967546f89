package codegen

import (
	"fmt"
	"strings"
)

// Assembly renders the lowered module as a readable instruction
// listing, one block per function with slot-indexed mnemonics.
func (r *Result) Assembly() string {
	var b strings.Builder
	for _, s := range r.Code {
		fmt.Fprintf(&b, "section %s\n", s.Name)
		for _, fn := range s.Funcs {
			fmt.Fprintf(&b, "\n%s:\n", fn.Name)
			base := fn.Off / InsnSize
			for i := 0; i < len(fn.Insns); i++ {
				insn := fn.Insns[i]
				fmt.Fprintf(&b, "%5d:\t%s\n", base+uint32(i), insn)
				if insn.IsWide() {
					i++
				}
			}
		}
		b.WriteString("\n")
	}
	for _, d := range r.Data {
		kind := "data"
		if d.NoBits {
			kind = "bss"
		}
		fmt.Fprintf(&b, "section %s (%s, %d bytes)\n", d.Name, kind, len(d.Data))
		for _, sym := range d.Syms {
			fmt.Fprintf(&b, "\t%s: off %d, size %d\n", sym.Name, sym.Off, sym.Size)
		}
	}
	return b.String()
}
