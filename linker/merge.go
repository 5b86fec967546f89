package linker

import (
	"fmt"
	"reflect"
	"strings"

	llir "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"go.uber.org/zap"

	"github.com/vadorovsky/bpf-linker/errors"
	"github.com/vadorovsky/bpf-linker/ir"
	"github.com/vadorovsky/bpf-linker/linker/internal/passes"
)

// symStrength orders definitions for symbol resolution. A declaration
// loses to any definition, a weak definition loses to a strong one, and
// two strong definitions of the same name are an error.
type symStrength int

const (
	strengthDecl symStrength = iota
	strengthWeak
	strengthStrong
)

func linkageStrength(l enum.Linkage, hasDef bool) symStrength {
	if !hasDef || l == enum.LinkageExternWeak {
		return strengthDecl
	}
	switch l {
	case enum.LinkageWeak, enum.LinkageWeakODR,
		enum.LinkageLinkOnce, enum.LinkageLinkOnceODR,
		enum.LinkageAvailableExternally, enum.LinkageCommon:
		return strengthWeak
	default:
		return strengthStrong
	}
}

func localLinkage(l enum.Linkage) bool {
	return l == enum.LinkageInternal || l == enum.LinkagePrivate
}

// symbol is one resolution slot. Exactly one of fn and gv is set.
type symbol struct {
	name     string
	file     string
	fn       *llir.Func
	gv       *llir.Global
	strength symStrength
}

// merger combines parsed units into a single module. Symbols with
// external visibility are resolved by name across all inputs; local
// symbols are kept as is and renamed only when their name collides
// with something else in the combined module.
type merger struct {
	byName map[string]*symbol
	order  []string
	taken  map[string]bool
	locals []*symbol

	structs   map[string]*types.StructType
	typeOrder []types.Type

	arena *ir.DebugArena
}

// mergeModules links mods into one unit, in input order. Inputs are
// consumed; their functions and globals move into the result.
func mergeModules(mods []*ir.Module) (*ir.Module, error) {
	mg := &merger{
		byName:  make(map[string]*symbol),
		taken:   make(map[string]bool),
		structs: make(map[string]*types.StructType),
		arena:   ir.NewDebugArena(),
	}

	for _, mod := range mods {
		if err := mg.addTypes(mod); err != nil {
			return nil, err
		}
		if err := mg.addExternals(mod); err != nil {
			return nil, err
		}
		mg.arena.Merge(mod.Debug)
	}
	// locals go in after every external name is known so renames are
	// stable regardless of which module defines the clashing external
	for _, mod := range mods {
		mg.addLocals(mod)
	}

	dest := mg.build(mods)
	mg.rewriteReferences(dest)
	stripDebugIntrinsics(dest)
	if err := mg.checkUndefined(dest); err != nil {
		return nil, err
	}

	Logger().Debug("modules merged",
		zap.Int("inputs", len(mods)),
		zap.Int("functions", len(dest.Funcs)),
		zap.Int("globals", len(dest.Globals)))

	return &ir.Module{Path: "<linked>", M: dest, Debug: mg.arena}, nil
}

func (mg *merger) addTypes(mod *ir.Module) error {
	for _, td := range mod.M.TypeDefs {
		st, ok := td.(*types.StructType)
		if !ok || st.TypeName == "" {
			mg.typeOrder = append(mg.typeOrder, td)
			continue
		}
		prev, seen := mg.structs[st.TypeName]
		if !seen {
			mg.structs[st.TypeName] = st
			mg.typeOrder = append(mg.typeOrder, st)
			continue
		}
		if !structsCompatible(prev, st) {
			return errors.TypeConflict(st.TypeName,
				fmt.Sprintf("conflicting layouts between inputs (redefined in %s)", mod.Path))
		}
	}
	return nil
}

// structsCompatible reports whether two identified structs of the same
// name can stand for one type. A body-less struct unifies with any
// definition; two bodies must agree field for field.
func structsCompatible(a, b *types.StructType) bool {
	if len(a.Fields) == 0 || len(b.Fields) == 0 {
		return true
	}
	if a.Packed != b.Packed || len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		if !a.Fields[i].Equal(b.Fields[i]) {
			return false
		}
	}
	return true
}

func (mg *merger) addExternals(mod *ir.Module) error {
	for _, f := range mod.M.Funcs {
		if localLinkage(f.Linkage) {
			continue
		}
		s := &symbol{
			name:     f.Name(),
			file:     mod.Path,
			fn:       f,
			strength: linkageStrength(f.Linkage, len(f.Blocks) > 0),
		}
		if err := mg.resolve(s); err != nil {
			return err
		}
	}
	for _, g := range mod.M.Globals {
		if localLinkage(g.Linkage) {
			continue
		}
		s := &symbol{
			name:     g.Name(),
			file:     mod.Path,
			gv:       g,
			strength: linkageStrength(g.Linkage, g.Init != nil),
		}
		if err := mg.resolve(s); err != nil {
			return err
		}
	}
	return nil
}

func (mg *merger) resolve(s *symbol) error {
	prev, ok := mg.byName[s.name]
	if !ok {
		mg.byName[s.name] = s
		mg.order = append(mg.order, s.name)
		mg.taken[s.name] = true
		return nil
	}
	if (prev.fn != nil) != (s.fn != nil) {
		return errors.TypeConflict(s.name,
			fmt.Sprintf("defined as both a function and a global variable (%s, %s)", prev.file, s.file))
	}
	if prev.gv != nil && (prev.gv.Linkage == enum.LinkageAppending || s.gv.Linkage == enum.LinkageAppending) {
		return appendGlobal(prev, s)
	}

	switch {
	case s.strength == strengthDecl:
		// nothing to add
	case prev.strength == strengthDecl:
		*prev = *s
	case s.strength == strengthWeak:
		// existing weak or strong definition wins
	case prev.strength == strengthWeak:
		*prev = *s
	default:
		return errors.DuplicateSymbol(s.name, prev.file, s.file)
	}
	return nil
}

// appendGlobal concatenates two appending-linkage arrays in place. The
// combined initializer lives on the first definition seen.
func appendGlobal(prev, s *symbol) error {
	pg, sg := prev.gv, s.gv
	if pg.Linkage != enum.LinkageAppending || sg.Linkage != enum.LinkageAppending {
		return errors.TypeConflict(s.name,
			fmt.Sprintf("appending linkage on one definition but not the other (%s, %s)", prev.file, s.file))
	}
	pa, okP := pg.ContentType.(*types.ArrayType)
	sa, okS := sg.ContentType.(*types.ArrayType)
	if !okP || !okS || !pa.ElemType.Equal(sa.ElemType) {
		return errors.TypeConflict(s.name, "appending globals must be arrays of one element type")
	}

	var elems []constant.Constant
	if arr, ok := pg.Init.(*constant.Array); ok {
		elems = append(elems, arr.Elems...)
	}
	if arr, ok := sg.Init.(*constant.Array); ok {
		elems = append(elems, arr.Elems...)
	}
	merged := types.NewArray(pa.Len+sa.Len, pa.ElemType)
	pg.ContentType = merged
	pg.Typ = types.NewPointer(merged)
	pg.Init = &constant.Array{Typ: merged, Elems: elems}
	return nil
}

func (mg *merger) addLocals(mod *ir.Module) {
	for _, f := range mod.M.Funcs {
		if localLinkage(f.Linkage) {
			mg.addLocal(&symbol{name: f.Name(), file: mod.Path, fn: f})
		}
	}
	for _, g := range mod.M.Globals {
		if localLinkage(g.Linkage) {
			mg.addLocal(&symbol{name: g.Name(), file: mod.Path, gv: g})
		}
	}
}

func (mg *merger) addLocal(s *symbol) {
	if mg.taken[s.name] {
		base := s.name
		for i := 1; ; i++ {
			cand := fmt.Sprintf("%s.%d", base, i)
			if !mg.taken[cand] {
				s.name = cand
				break
			}
		}
		if s.fn != nil {
			s.fn.SetName(s.name)
		} else {
			s.gv.SetName(s.name)
		}
	}
	mg.taken[s.name] = true
	mg.locals = append(mg.locals, s)
}

func (mg *merger) build(mods []*ir.Module) *llir.Module {
	dest := &llir.Module{TypeDefs: mg.typeOrder}
	if len(mods) > 0 {
		dest.SourceFilename = mods[0].M.SourceFilename
	}
	for _, name := range mg.order {
		s := mg.byName[name]
		if s.fn != nil {
			dest.Funcs = append(dest.Funcs, s.fn)
		} else {
			dest.Globals = append(dest.Globals, s.gv)
		}
	}
	for _, s := range mg.locals {
		if s.fn != nil {
			dest.Funcs = append(dest.Funcs, s.fn)
		} else {
			dest.Globals = append(dest.Globals, s.gv)
		}
	}
	return dest
}

// canon maps a symbol reference to the definition chosen for its name,
// or nil when the reference already points at the chosen object. Bodies
// carried over from a losing module still point at that module's own
// declarations, so every operand slot gets this treatment.
func (mg *merger) canon(v value.Value) value.Value {
	switch sym := v.(type) {
	case *llir.Func:
		if s, ok := mg.byName[sym.Name()]; ok && s.fn != nil && s.fn != sym {
			return s.fn
		}
	case *llir.Global:
		if s, ok := mg.byName[sym.Name()]; ok && s.gv != nil && s.gv != sym {
			return s.gv
		}
	}
	return nil
}

func (mg *merger) rewriteReferences(dest *llir.Module) {
	for _, f := range dest.Funcs {
		for _, block := range f.Blocks {
			for _, inst := range block.Insts {
				rewriteSlots(inst, mg.canon)
			}
			rewriteSlots(block.Term, mg.canon)
		}
	}
	for _, g := range dest.Globals {
		if g.Init == nil {
			continue
		}
		if repl := mg.canon(g.Init); repl != nil {
			g.Init = repl.(constant.Constant)
			continue
		}
		rewriteSlots(g.Init, mg.canon)
	}
}

var valueIface = reflect.TypeOf((*value.Value)(nil)).Elem()

// rewriteSlots substitutes symbol references inside one instruction,
// terminator, or constant expression, writing through every settable
// operand slot. Constant-typed slots are handled alongside plain value
// slots since functions and globals are constants themselves.
func rewriteSlots(root any, canon func(value.Value) value.Value) {
	switch root.(type) {
	case nil, *llir.Func, *llir.Global:
		return
	}
	rv := reflect.ValueOf(root)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return
	}
	rewriteFields(rv.Elem(), canon)
}

func rewriteFields(rv reflect.Value, canon func(value.Value) value.Value) {
	switch rv.Kind() {
	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			rewriteSlot(rv.Field(i), canon)
		}
	case reflect.Slice:
		for i := 0; i < rv.Len(); i++ {
			rewriteSlot(rv.Index(i), canon)
		}
	}
}

func rewriteSlot(f reflect.Value, canon func(value.Value) value.Value) {
	t := f.Type()
	switch {
	case t.Kind() == reflect.Interface && t.Implements(valueIface):
		if f.IsNil() || !f.CanInterface() {
			return
		}
		cur := f.Interface().(value.Value)
		if repl := canon(cur); repl != nil {
			if f.CanSet() {
				f.Set(reflect.ValueOf(repl))
			}
			return
		}
		switch cur.(type) {
		case *llir.Func, *llir.Global:
			return
		}
		// only constants can embed symbol references; blocks and
		// local values reached here need no rewrite
		if _, ok := cur.(constant.Constant); ok {
			rewriteSlots(cur, canon)
		}
	case t.Kind() == reflect.Slice:
		rewriteFields(f, canon)
	case t.Kind() == reflect.Ptr && t.Elem().Kind() == reflect.Struct && hasOperandField(t.Elem()):
		if !f.IsNil() {
			rewriteFields(f.Elem(), canon)
		}
	}
}

func hasOperandField(t reflect.Type) bool {
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Type == valueIface {
			return true
		}
	}
	return false
}

// stripDebugIntrinsics drops calls to llvm.dbg.* and llvm.lifetime.*
// intrinsics. They carry no runtime semantics and the target has no
// encoding for them; debug info itself survives in the arena.
func stripDebugIntrinsics(m *llir.Module) {
	for _, f := range m.Funcs {
		for _, block := range f.Blocks {
			insts := block.Insts[:0]
			for _, inst := range block.Insts {
				if call, ok := inst.(*llir.InstCall); ok {
					if callee, ok := call.Callee.(*llir.Func); ok && isDebugIntrinsic(callee.Name()) {
						continue
					}
				}
				insts = append(insts, inst)
			}
			block.Insts = insts
		}
	}
}

func isDebugIntrinsic(name string) bool {
	return strings.HasPrefix(name, "llvm.dbg.") || strings.HasPrefix(name, "llvm.lifetime.")
}

// checkUndefined prunes declarations nothing references and reports the
// first referenced symbol that has no definition in any input. Weak
// external declarations resolve to null instead of failing, and
// intrinsic declarations are left for later stages to reject if a call
// actually reaches codegen.
func (mg *merger) checkUndefined(dest *llir.Module) error {
	referenced := make(map[string]bool)
	visit := func(v value.Value) {
		switch sym := v.(type) {
		case *llir.Func:
			referenced[sym.Name()] = true
		case *llir.Global:
			referenced[sym.Name()] = true
		}
	}
	for _, f := range dest.Funcs {
		for _, block := range f.Blocks {
			for _, inst := range block.Insts {
				passes.WalkSymbols(inst, visit)
			}
			passes.WalkSymbols(block.Term, visit)
		}
	}
	for _, g := range dest.Globals {
		if g.Init != nil {
			passes.WalkSymbols(g.Init, visit)
		}
	}

	var undefined []string
	funcs := dest.Funcs[:0]
	for _, f := range dest.Funcs {
		if len(f.Blocks) > 0 {
			funcs = append(funcs, f)
			continue
		}
		if !referenced[f.Name()] {
			continue
		}
		if !strings.HasPrefix(f.Name(), "llvm.") && f.Linkage != enum.LinkageExternWeak {
			undefined = append(undefined, f.Name())
		}
		funcs = append(funcs, f)
	}
	dest.Funcs = funcs

	globals := dest.Globals[:0]
	for _, g := range dest.Globals {
		if g.Init != nil {
			globals = append(globals, g)
			continue
		}
		if !referenced[g.Name()] {
			continue
		}
		if g.Linkage != enum.LinkageExternWeak {
			undefined = append(undefined, g.Name())
		}
		globals = append(globals, g)
	}
	dest.Globals = globals

	if len(undefined) > 0 {
		name := undefined[0]
		err := errors.UndefinedSymbol(name)
		if pretty := demangle(name); pretty != name {
			err.Detail = fmt.Sprintf("referenced but never defined (%s)", pretty)
		}
		return err
	}
	return nil
}
