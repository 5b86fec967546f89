package passes

import (
	"fmt"
	"reflect"

	llir "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/value"
)

// inlineBudget is the instruction count below which a defined function
// is considered small enough to inline without an attribute asking
// for it.
const inlineBudget = 16

// StripNoInline removes the noinline attribute from every defined
// function, letting the inliner consider functions the front end pinned
// down. Returns the number of functions changed.
func StripNoInline(m *llir.Module) int {
	n := 0
	for _, f := range m.Funcs {
		attrs := f.FuncAttrs[:0]
		stripped := false
		for _, attr := range f.FuncAttrs {
			if fa, ok := attr.(enum.FuncAttr); ok && fa == enum.FuncAttrNoInline {
				stripped = true
				continue
			}
			attrs = append(attrs, attr)
		}
		f.FuncAttrs = attrs
		if stripped {
			n++
		}
	}
	return n
}

// Inline expands calls to small single-block functions at their call
// sites. Functions marked alwaysinline are expanded regardless of size;
// noinline suppresses expansion. Functions on call-graph cycles are
// never expanded, so mutual recursion keeps its shape for the recursion
// check downstream. Returns the number of calls expanded.
func Inline(m *llir.Module) int {
	recursive := onCycle(m)
	inlined := 0
	seq := 0
	for {
		n := 0
		for _, f := range m.Funcs {
			n += inlineInFunc(f, recursive, &seq)
		}
		if n == 0 {
			return inlined
		}
		inlined += n
	}
}

// onCycle returns the functions participating in call-graph cycles.
// Expanding one would grow its partners round after round and replace
// the mutual cycle with a direct one.
func onCycle(m *llir.Module) map[*llir.Func]bool {
	callees := make(map[*llir.Func][]*llir.Func)
	for _, f := range m.Funcs {
		for _, block := range f.Blocks {
			for _, inst := range block.Insts {
				if call, ok := inst.(*llir.InstCall); ok {
					if c, ok := call.Callee.(*llir.Func); ok {
						callees[f] = append(callees[f], c)
					}
				}
			}
		}
	}

	const (
		unseen = iota
		open
		done
	)
	state := make(map[*llir.Func]int)
	out := make(map[*llir.Func]bool)
	var stack []*llir.Func
	var visit func(f *llir.Func)
	visit = func(f *llir.Func) {
		state[f] = open
		stack = append(stack, f)
		for _, c := range callees[f] {
			switch state[c] {
			case unseen:
				visit(c)
			case open:
				// back edge: everything from c down the stack is cyclic
				for i := len(stack) - 1; i >= 0; i-- {
					out[stack[i]] = true
					if stack[i] == c {
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[f] = done
	}
	for _, f := range m.Funcs {
		if state[f] == unseen {
			visit(f)
		}
	}
	return out
}

func inlineInFunc(caller *llir.Func, recursive map[*llir.Func]bool, seq *int) int {
	n := 0
	for _, block := range caller.Blocks {
		for idx := 0; idx < len(block.Insts); idx++ {
			call, ok := block.Insts[idx].(*llir.InstCall)
			if !ok {
				continue
			}
			callee, ok := call.Callee.(*llir.Func)
			if !ok || callee == caller || recursive[callee] || !inlinable(callee) {
				continue
			}
			if len(call.Args) != len(callee.Params) {
				continue
			}

			clones, ret := cloneBody(callee, call, *seq)
			*seq = *seq + 1
			if clones == nil {
				continue
			}
			if ret != nil {
				replaceUses(caller, call, ret)
			}

			// splice the body in place of the call
			rest := append([]llir.Instruction{}, block.Insts[idx+1:]...)
			block.Insts = append(block.Insts[:idx], clones...)
			block.Insts = append(block.Insts, rest...)
			idx += len(clones) - 1
			n++
		}
	}
	return n
}

// inlinable reports whether f is a defined single-block function the
// inliner handles: no phis, no recursion into itself, and either small
// or explicitly marked alwaysinline.
func inlinable(f *llir.Func) bool {
	if len(f.Blocks) != 1 {
		return false
	}
	if f.Sig != nil && f.Sig.Variadic {
		return false
	}
	block := f.Blocks[0]
	if _, ok := block.Term.(*llir.TermRet); !ok {
		return false
	}

	always := false
	for _, attr := range f.FuncAttrs {
		fa, ok := attr.(enum.FuncAttr)
		if !ok {
			continue
		}
		switch fa {
		case enum.FuncAttrNoInline:
			return false
		case enum.FuncAttrAlwaysInline:
			always = true
		}
	}

	for _, inst := range block.Insts {
		if call, ok := inst.(*llir.InstCall); ok {
			if c, ok := call.Callee.(*llir.Func); ok && c == f {
				return false
			}
		}
		if _, ok := inst.(*llir.InstPhi); ok {
			return false
		}
	}
	return always || len(block.Insts) <= inlineBudget
}

// cloneBody copies the single block of callee, substituting parameters
// with the call's arguments, and returns the cloned instructions plus
// the value standing in for the call's result (nil for void).
func cloneBody(callee *llir.Func, call *llir.InstCall, seq int) ([]llir.Instruction, value.Value) {
	subst := make(map[value.Value]value.Value, len(callee.Params))
	for i, p := range callee.Params {
		subst[p] = call.Args[i]
	}

	block := callee.Blocks[0]
	clones := make([]llir.Instruction, 0, len(block.Insts))
	for i, inst := range block.Insts {
		clone := cloneInst(inst)
		if clone == nil {
			return nil, nil
		}
		for _, op := range operands(clone) {
			if repl, ok := subst[*op]; ok {
				*op = repl
			}
		}
		if v, ok := inst.(value.Value); ok {
			cv := clone.(value.Value)
			subst[v] = cv
			renameClone(cv, callee.Name(), seq, i)
		}
		clones = append(clones, clone)
	}

	ret := block.Term.(*llir.TermRet)
	if ret.X == nil {
		return clones, nil
	}
	retVal := ret.X
	if repl, ok := subst[retVal]; ok {
		retVal = repl
	}
	return clones, retVal
}

// cloneInst makes a shallow struct copy of an instruction with its
// operand slices reallocated, so substitution on the clone never writes
// through to the original body.
func cloneInst(inst llir.Instruction) llir.Instruction {
	rv := reflect.ValueOf(inst)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return nil
	}
	c := reflect.New(rv.Elem().Type())
	c.Elem().Set(rv.Elem())

	for i := 0; i < c.Elem().NumField(); i++ {
		f := c.Elem().Field(i)
		if f.Kind() != reflect.Slice || f.IsNil() || !f.CanSet() {
			continue
		}
		fresh := reflect.MakeSlice(f.Type(), f.Len(), f.Len())
		reflect.Copy(fresh, f)
		f.Set(fresh)
	}
	return c.Interface().(llir.Instruction)
}

func renameClone(v value.Value, callee string, seq, idx int) {
	named, ok := v.(interface{ SetName(name string) })
	if !ok {
		return
	}
	named.SetName(fmt.Sprintf("%s.inl%d.%d", callee, seq, idx))
}
