package passes

import (
	llir "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/value"
)

// DeadGlobals removes internalized functions and global variables that
// are unreachable from any externally visible symbol. Returns the
// number of symbols removed.
func DeadGlobals(m *llir.Module) int {
	live := make(map[value.Value]bool)

	var mark func(v value.Value)
	mark = func(v value.Value) {
		if v == nil || live[v] {
			return
		}
		switch sym := v.(type) {
		case *llir.Func:
			live[sym] = true
			for _, block := range sym.Blocks {
				for _, inst := range block.Insts {
					for _, op := range operands(inst) {
						WalkSymbols(*op, mark)
					}
				}
				for _, op := range operands(block.Term) {
					WalkSymbols(*op, mark)
				}
			}
		case *llir.Global:
			live[sym] = true
			if sym.Init != nil {
				WalkSymbols(sym.Init, mark)
			}
		}
	}

	for _, f := range m.Funcs {
		if !internalized(f.Linkage) {
			mark(f)
		}
	}
	for _, g := range m.Globals {
		if !internalized(g.Linkage) {
			mark(g)
		}
	}

	removed := 0
	funcs := m.Funcs[:0]
	for _, f := range m.Funcs {
		if live[f] || !internalized(f.Linkage) {
			funcs = append(funcs, f)
		} else {
			removed++
		}
	}
	m.Funcs = funcs

	globals := m.Globals[:0]
	for _, g := range m.Globals {
		if live[g] || !internalized(g.Linkage) {
			globals = append(globals, g)
		} else {
			removed++
		}
	}
	m.Globals = globals
	return removed
}

func internalized(l enum.Linkage) bool {
	return l == enum.LinkageInternal || l == enum.LinkagePrivate
}

