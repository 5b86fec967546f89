package passes

import (
	llir "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
)

// SimplifyCFG cleans up the control-flow graph: constant conditional
// branches become unconditional, unreachable blocks are dropped with
// their phi edges, single-incoming phis collapse to their value, and
// straight-line block pairs merge. Runs to fixpoint. Returns the number
// of simplifications applied.
func SimplifyCFG(f *llir.Func) int {
	changed := 0
	for {
		n := foldConstBranches(f)
		n += removeUnreachable(f)
		n += collapsePhis(f)
		n += mergeStraightLine(f)
		if n == 0 {
			return changed
		}
		changed += n
	}
}

func foldConstBranches(f *llir.Func) int {
	n := 0
	for _, block := range f.Blocks {
		br, ok := block.Term.(*llir.TermCondBr)
		if !ok {
			continue
		}
		cond, ok := br.Cond.(*constant.Int)
		if !ok {
			continue
		}
		taken, dropped := br.TargetTrue, br.TargetFalse
		if cond.X.Sign() == 0 {
			taken, dropped = dropped, taken
		}
		target, ok := taken.(*llir.Block)
		if !ok {
			continue
		}
		if db, ok := dropped.(*llir.Block); ok && db != target {
			removePhiEdge(db, block)
		}
		block.Term = llir.NewBr(target)
		n++
	}
	return n
}

// predecessors maps each block to its distinct predecessor blocks.
func predecessors(f *llir.Func) map[*llir.Block][]*llir.Block {
	preds := make(map[*llir.Block][]*llir.Block, len(f.Blocks))
	for _, block := range f.Blocks {
		seen := make(map[*llir.Block]bool)
		for _, op := range operands(block.Term) {
			succ, ok := (*op).(*llir.Block)
			if !ok || seen[succ] {
				continue
			}
			seen[succ] = true
			preds[succ] = append(preds[succ], block)
		}
	}
	return preds
}

func removeUnreachable(f *llir.Func) int {
	if len(f.Blocks) == 0 {
		return 0
	}
	preds := predecessors(f)
	n := 0
	blocks := f.Blocks[:0]
	for i, block := range f.Blocks {
		if i == 0 || len(preds[block]) > 0 {
			blocks = append(blocks, block)
			continue
		}
		// drop this block's phi edges from its successors
		for _, op := range operands(block.Term) {
			if succ, ok := (*op).(*llir.Block); ok {
				removePhiEdge(succ, block)
			}
		}
		n++
	}
	f.Blocks = blocks
	return n
}

// removePhiEdge deletes the incoming edge from pred in every phi of
// block.
func removePhiEdge(block, pred *llir.Block) {
	for _, inst := range block.Insts {
		phi, ok := inst.(*llir.InstPhi)
		if !ok {
			continue
		}
		incs := phi.Incs[:0]
		for _, inc := range phi.Incs {
			if p, ok := inc.Pred.(*llir.Block); ok && p == pred {
				continue
			}
			incs = append(incs, inc)
		}
		phi.Incs = incs
	}
}

func collapsePhis(f *llir.Func) int {
	n := 0
	for _, block := range f.Blocks {
		insts := block.Insts[:0]
		for _, inst := range block.Insts {
			phi, ok := inst.(*llir.InstPhi)
			if !ok || len(phi.Incs) != 1 {
				insts = append(insts, inst)
				continue
			}
			replaceUses(f, phi, phi.Incs[0].X)
			n++
		}
		block.Insts = insts
	}
	return n
}

// mergeStraightLine folds a block into its sole predecessor when that
// predecessor ends in an unconditional branch to it and the block has
// no phis.
func mergeStraightLine(f *llir.Func) int {
	preds := predecessors(f)
	for i, block := range f.Blocks {
		if i == 0 {
			continue
		}
		ps := preds[block]
		if len(ps) != 1 {
			continue
		}
		pred := ps[0]
		if pred == block {
			continue
		}
		br, ok := pred.Term.(*llir.TermBr)
		if !ok {
			continue
		}
		if t, ok := br.Target.(*llir.Block); !ok || t != block {
			continue
		}
		if hasPhi(block) {
			continue
		}

		pred.Insts = append(pred.Insts, block.Insts...)
		pred.Term = block.Term
		// successors' phis now come in through pred
		replaceUses(f, block, pred)
		f.Blocks = append(f.Blocks[:i], f.Blocks[i+1:]...)
		return 1
	}
	return 0
}

func hasPhi(block *llir.Block) bool {
	for _, inst := range block.Insts {
		if _, ok := inst.(*llir.InstPhi); ok {
			return true
		}
	}
	return false
}
