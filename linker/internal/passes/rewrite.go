package passes

import (
	"reflect"

	llir "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/value"
)

var valueType = reflect.TypeOf((*value.Value)(nil)).Elem()

// operands returns pointers to every value.Value slot of an instruction
// or terminator: direct fields, slice elements, and the fields of
// incoming edges. llir gives each instruction concrete operand fields
// with no common accessor, hence reflection.
func operands(inst any) []*value.Value {
	rv := reflect.ValueOf(inst)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return nil
	}
	var out []*value.Value
	collectOperands(rv.Elem(), &out)
	return out
}

func collectOperands(rv reflect.Value, out *[]*value.Value) {
	switch rv.Kind() {
	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			f := rv.Field(i)
			if f.Type() == valueType {
				if f.CanAddr() && f.Addr().CanInterface() {
					*out = append(*out, f.Addr().Interface().(*value.Value))
				}
				continue
			}
			collectOperands(f, out)
		}
	case reflect.Slice:
		// walk slices of operands and slices of structs holding
		// operands (phi incomings, switch cases)
		elem := rv.Type().Elem()
		if elem == valueType {
			for i := 0; i < rv.Len(); i++ {
				e := rv.Index(i)
				if e.CanAddr() && e.Addr().CanInterface() {
					*out = append(*out, e.Addr().Interface().(*value.Value))
				}
			}
			return
		}
		if elem.Kind() == reflect.Ptr && elem.Elem().Kind() == reflect.Struct && hasValueField(elem.Elem()) {
			for i := 0; i < rv.Len(); i++ {
				p := rv.Index(i)
				if !p.IsNil() {
					collectOperands(p.Elem(), out)
				}
			}
		}
	}
}

func hasValueField(t reflect.Type) bool {
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Type == valueType {
			return true
		}
	}
	return false
}

// WalkSymbols invokes visit for every module-level symbol the given
// instruction, terminator, or constant references, descending through
// constant expressions and aggregate initializers. Slots typed as
// constants rather than plain values are covered too, which is what
// global initializers use.
func WalkSymbols(v any, visit func(value.Value)) {
	switch v.(type) {
	case nil:
		return
	case *llir.Func, *llir.Global:
		visit(v.(value.Value))
		return
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return
	}
	walkSymbolFields(rv.Elem(), visit)
}

func walkSymbolFields(rv reflect.Value, visit func(value.Value)) {
	switch rv.Kind() {
	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			walkSymbolSlot(rv.Field(i), visit)
		}
	case reflect.Slice:
		for i := 0; i < rv.Len(); i++ {
			walkSymbolSlot(rv.Index(i), visit)
		}
	}
}

func walkSymbolSlot(f reflect.Value, visit func(value.Value)) {
	t := f.Type()
	switch {
	case t.Kind() == reflect.Interface && t.Implements(valueType):
		if f.IsNil() || !f.CanInterface() {
			return
		}
		cur := f.Interface().(value.Value)
		switch cur.(type) {
		case *llir.Func, *llir.Global:
			visit(cur)
			return
		}
		// descend into constant expressions; blocks and local
		// values never reference module symbols by themselves
		if _, ok := cur.(constant.Constant); ok {
			WalkSymbols(cur, visit)
		}
	case t.Kind() == reflect.Slice:
		walkSymbolFields(f, visit)
	case t.Kind() == reflect.Ptr && t.Elem().Kind() == reflect.Struct && hasValueField(t.Elem()):
		if !f.IsNil() {
			walkSymbolFields(f.Elem(), visit)
		}
	}
}

// replaceUses substitutes every operand use of old with new across the
// whole function, terminators included.
func replaceUses(f *llir.Func, old, new value.Value) {
	for _, block := range f.Blocks {
		for _, inst := range block.Insts {
			for _, op := range operands(inst) {
				if *op == old {
					*op = new
				}
			}
		}
		for _, op := range operands(block.Term) {
			if *op == old {
				*op = new
			}
		}
	}
}

// countUses returns the number of operand slots in f referencing each
// value. Values with no entry are unused.
func countUses(f *llir.Func) map[value.Value]int {
	uses := make(map[value.Value]int)
	for _, block := range f.Blocks {
		for _, inst := range block.Insts {
			for _, op := range operands(inst) {
				uses[*op]++
			}
		}
		for _, op := range operands(block.Term) {
			uses[*op]++
		}
	}
	return uses
}
