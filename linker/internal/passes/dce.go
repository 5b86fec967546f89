package passes

import (
	llir "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"
)

// DCE removes instructions whose results are unused and whose execution
// has no observable effect. Runs to fixpoint within the function.
// Returns the number of instructions removed.
func DCE(f *llir.Func) int {
	removed := 0
	for {
		n := dceOnce(f)
		if n == 0 {
			return removed
		}
		removed += n
	}
}

func dceOnce(f *llir.Func) int {
	uses := countUses(f)
	n := 0
	for _, block := range f.Blocks {
		insts := block.Insts[:0]
		for _, inst := range block.Insts {
			if removableInst(inst, uses) {
				n++
				continue
			}
			insts = append(insts, inst)
		}
		block.Insts = insts
	}
	return n
}

func removableInst(inst llir.Instruction, uses map[value.Value]int) bool {
	switch i := inst.(type) {
	case *llir.InstStore, *llir.InstCall, *llir.InstFence,
		*llir.InstAtomicRMW, *llir.InstCmpXchg:
		return false
	case *llir.InstLoad:
		if i.Volatile {
			return false
		}
	}
	v, ok := inst.(value.Value)
	if !ok {
		return false
	}
	return uses[v] == 0
}
