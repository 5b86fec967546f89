package linker

import (
	"github.com/llir/llvm/ir/enum"
	"go.uber.org/zap"

	"github.com/vadorovsky/bpf-linker/errors"
	"github.com/vadorovsky/bpf-linker/ir"
)

// sectionRoot is the default entry-point convention: frontends place
// programs in named sections to mark them for the loader.
func sectionRoot(name, section string) bool {
	return section != ""
}

// internalize narrows symbol visibility to the export set. Exported
// symbols become external; everything else becomes internal, which is
// what lets the dead-symbol pass sweep the unused parts of merged
// archives. When no explicit export set is given, root decides which
// functions count as entry points and stay exported.
func internalize(mod *ir.Module, export []string, root func(name, section string) bool, keepBuiltins bool) error {
	exports := make(map[string]bool, len(export))
	for _, name := range export {
		exports[name] = true
	}
	if keepBuiltins {
		for _, name := range memoryBuiltins {
			exports[name] = true
		}
	}
	if root == nil {
		root = sectionRoot
	}

	conventionRoots := len(export) == 0

	// explicit exports must exist; a typo in --export otherwise
	// silently strips the program it was meant to keep
	present := make(map[string]bool)
	for _, f := range mod.M.Funcs {
		present[f.Name()] = true
	}
	for _, g := range mod.M.Globals {
		present[g.Name()] = true
	}
	for _, name := range export {
		if !present[name] {
			return errors.UnknownExportSymbol(name)
		}
	}

	exported := 0
	for _, f := range mod.M.Funcs {
		if len(f.Blocks) == 0 {
			continue
		}
		switch {
		case exports[f.Name()], conventionRoots && root(f.Name(), f.Section):
			f.Linkage = enum.LinkageExternal
			exported++
		default:
			f.Linkage = enum.LinkageInternal
		}
	}
	for _, g := range mod.M.Globals {
		if g.Init == nil {
			continue
		}
		if exports[g.Name()] {
			g.Linkage = enum.LinkageExternal
			exported++
			continue
		}
		// globals in named sections hold maps and loader metadata
		// and must stay visible for relocation
		if g.Section != "" {
			g.Linkage = enum.LinkageExternal
			exported++
			continue
		}
		g.Linkage = enum.LinkageInternal
	}

	Logger().Debug("symbols internalized",
		zap.Int("exported", exported),
		zap.Bool("convention_roots", conventionRoots))
	return nil
}
