// Package graph builds the call graph of a merged module.
//
// The linker uses it for one check: BPF programs may not recurse, so any
// cycle in the graph, direct or mutual, aborts the link before code
// generation. Only direct calls contribute edges; a call through a
// function pointer has no static callee and is rejected earlier, during
// lowering.
package graph

import (
	llir "github.com/llir/llvm/ir"
)

// Graph is the static call graph of a module. Nodes are function names,
// edges are direct call sites. Safe for concurrent reads after Build.
type Graph struct {
	// edges maps caller name to the ordered list of distinct callees.
	edges map[string][]string

	// order preserves module function order so traversal output is
	// deterministic.
	order []string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		edges: make(map[string][]string),
	}
}

// Build constructs the call graph from a module. Declarations become
// nodes without outgoing edges; calls to declarations still produce
// edges so extern-to-extern cycles are impossible by construction.
func Build(m *llir.Module) *Graph {
	g := New()
	if m == nil {
		return g
	}

	for _, f := range m.Funcs {
		g.addNode(f.Name())
		seen := make(map[string]bool)
		for _, block := range f.Blocks {
			for _, inst := range block.Insts {
				call, ok := inst.(*llir.InstCall)
				if !ok {
					continue
				}
				callee, ok := call.Callee.(*llir.Func)
				if !ok {
					// indirect call; no static edge
					continue
				}
				if seen[callee.Name()] {
					continue
				}
				seen[callee.Name()] = true
				g.edges[f.Name()] = append(g.edges[f.Name()], callee.Name())
			}
		}
	}
	return g
}

func (g *Graph) addNode(name string) {
	if _, ok := g.edges[name]; !ok {
		g.edges[name] = nil
		g.order = append(g.order, name)
	}
}

// Callees returns the distinct direct callees of name in call-site order.
func (g *Graph) Callees(name string) []string {
	out := make([]string, len(g.edges[name]))
	copy(out, g.edges[name])
	return out
}

// Functions returns all graph nodes in module order.
func (g *Graph) Functions() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// FindCycle returns one call cycle as the ordered list of functions on
// it, or nil when the graph is acyclic. A self call yields a single
// element list. When several cycles exist the one reached first in
// module order is reported.
func (g *Graph) FindCycle() []string {
	const (
		unvisited = 0
		onStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(g.order))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		state[name] = onStack
		stack = append(stack, name)

		for _, callee := range g.edges[name] {
			switch state[callee] {
			case onStack:
				// unwind the stack back to the cycle entry
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == callee {
						cycle := make([]string, len(stack)-i)
						copy(cycle, stack[i:])
						return cycle
					}
				}
			case unvisited:
				if cycle := visit(callee); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[name] = done
		return nil
	}

	for _, name := range g.order {
		if state[name] != unvisited {
			continue
		}
		if cycle := visit(name); cycle != nil {
			return cycle
		}
	}
	return nil
}
