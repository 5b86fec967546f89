package passes

import (
	llir "github.com/llir/llvm/ir"
)

// Options selects how hard the pipeline works.
type Options struct {
	// OptLevel 0 runs only inlining and dead-global elimination, the
	// minimum for verifiable BPF output. Levels 1 and above enable the
	// full pipeline.
	OptLevel int
	// UnrollLoops raises the fixpoint round budget so branch folding
	// can finish unrolling work the front end started.
	UnrollLoops bool
	// IgnoreInlineNever strips noinline attributes before inlining.
	IgnoreInlineNever bool
}

// Stats counts what the pipeline changed.
type Stats struct {
	Stripped    int
	Inlined     int
	Folded      int
	Simplified  int
	DeadInsts   int
	DeadSymbols int
}

// Run applies the pass pipeline to the module in place.
func Run(m *llir.Module, opts Options) Stats {
	var st Stats
	if opts.IgnoreInlineNever {
		st.Stripped = StripNoInline(m)
	}
	st.Inlined = Inline(m)
	st.DeadSymbols += DeadGlobals(m)

	if opts.OptLevel < 1 {
		return st
	}

	rounds := 4
	if opts.UnrollLoops {
		rounds = 16
	}
	for i := 0; i < rounds; i++ {
		n := 0
		for _, f := range m.Funcs {
			if len(f.Blocks) == 0 {
				continue
			}
			folded := ConstProp(f)
			simplified := SimplifyCFG(f)
			dead := DCE(f)
			st.Folded += folded
			st.Simplified += simplified
			st.DeadInsts += dead
			n += folded + simplified + dead
		}
		removed := DeadGlobals(m)
		st.DeadSymbols += removed
		n += removed
		if n == 0 {
			break
		}
	}
	return st
}
