package btf

import (
	stderrors "errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/vadorovsky/bpf-linker/errors"
	"github.com/vadorovsky/bpf-linker/ir"
)

// Options configures the transformation.
type Options struct {
	// Strict promotes unsupported debug-info kinds from recorded
	// partial failures to a fatal error. Malformed metadata is fatal
	// in either mode.
	Strict bool
}

// FuncSeed is one function surviving internalization, with its machine
// placement for func_info/line_info emission.
type FuncSeed struct {
	Name    string
	Section string
	// InsnOff is the byte offset of the function's first instruction
	// within its section.
	InsnOff uint32
	// Static marks internalized functions; exported ones are global.
	Static bool
	// Lines are the source rows recorded during lowering, in
	// instruction order.
	Lines []LineMark
}

// LineMark maps one machine instruction offset to a source row.
type LineMark struct {
	InsnOff uint32
	File    string
	Line    uint32
	Col     uint32
}

// GlobalSeed is one surviving global variable with its data placement.
type GlobalSeed struct {
	Name    string
	Section string
	Offset  uint32
	Size    uint32
	Static  bool
}

// PartialFailure records one function whose debug info was skipped in
// best-effort mode.
type PartialFailure struct {
	Symbol string
	Err    error
}

// FuncInfo is one emitted func_info record.
type FuncInfo struct {
	Section string
	InsnOff uint32
	Type    TypeID
}

// LineInfo is one emitted line_info record.
type LineInfo struct {
	Section string
	InsnOff uint32
	File    string
	Line    uint32
	Col     uint32
}

// Result is the transformation output: the finalized type table plus
// the auxiliary records and any per-function partial failures.
type Result struct {
	Table   *Table
	Funcs   []FuncInfo
	Lines   []LineInfo
	Partial []PartialFailure
}

// Transform converts the reachable part of the debug arena into a BTF
// table. Seeds must already reflect internalization: only surviving
// symbols are passed in, so types reachable solely from eliminated code
// are never emitted. Conversion is dependency-first with identity
// memoization; final indices are assigned after the whole reachable
// graph is visited and deduplicated.
func Transform(arena *ir.DebugArena, funcs []FuncSeed, globals []GlobalSeed, opts Options) (*Result, error) {
	tr := &transformer{
		arena: arena,
		table: NewTable(),
		memo:  make(map[ir.DebugRef]TypeID),
	}
	res := &Result{Table: tr.table}

	for _, seed := range funcs {
		if arena == nil {
			break
		}
		spRef, ok := arena.Subprograms[seed.Name]
		if !ok {
			// compiled without debug info; nothing to emit
			continue
		}
		funcType, err := tr.convertRoot(spRef, seed.Name)
		if err != nil {
			if !recoverable(err, opts) {
				return nil, err
			}
			Logger().Warn("skipping debug info for function",
				zap.String("function", seed.Name),
				zap.Error(err),
			)
			res.Partial = append(res.Partial, PartialFailure{Symbol: seed.Name, Err: err})
			continue
		}

		linkage := LinkageGlobal
		if seed.Static {
			linkage = LinkageStatic
		}
		id := tr.table.Add(&Type{
			Kind:    KindFunc,
			Name:    seed.Name,
			Ref:     funcType,
			Linkage: linkage,
		})
		res.Funcs = append(res.Funcs, FuncInfo{
			Section: seed.Section,
			InsnOff: seed.InsnOff,
			Type:    id,
		})
		for _, mark := range seed.Lines {
			res.Lines = append(res.Lines, LineInfo{
				Section: seed.Section,
				InsnOff: mark.InsnOff,
				File:    mark.File,
				Line:    mark.Line,
				Col:     mark.Col,
			})
		}
	}

	datasec := make(map[string][]VarSec)
	for _, seed := range globals {
		if arena == nil {
			break
		}
		varRef, ok := arena.Globals[seed.Name]
		if !ok {
			continue
		}
		id, err := tr.convertGlobal(varRef, seed)
		if err != nil {
			if !recoverable(err, opts) {
				return nil, err
			}
			Logger().Warn("skipping debug info for global",
				zap.String("global", seed.Name),
				zap.Error(err),
			)
			res.Partial = append(res.Partial, PartialFailure{Symbol: seed.Name, Err: err})
			continue
		}
		datasec[seed.Section] = append(datasec[seed.Section], VarSec{
			Type:   id,
			Offset: seed.Offset,
			Size:   seed.Size,
		})
	}

	// one DATASEC per populated section, in name order for determinism
	sections := make([]string, 0, len(datasec))
	for name := range datasec {
		sections = append(sections, name)
	}
	sort.Strings(sections)
	for _, name := range sections {
		vars := datasec[name]
		var size uint32
		for _, v := range vars {
			if end := v.Offset + v.Size; end > size {
				size = end
			}
		}
		tr.table.Add(&Type{
			Kind: KindDataSec,
			Name: name,
			Size: size,
			Vars: vars,
		})
	}

	remap := tr.table.Dedup()
	for i := range res.Funcs {
		res.Funcs[i].Type = remap(res.Funcs[i].Type)
	}
	if from, to, ok := tr.table.Validate(); !ok {
		return nil, errors.MalformedDebugInfo("", fmt.Sprintf("record %d references id %d past table end %d", from, to, tr.table.Len()))
	}

	Logger().Debug("debug info transformed",
		zap.Int("types", tr.table.Len()),
		zap.Int("funcs", len(res.Funcs)),
		zap.Int("partial", len(res.Partial)),
	)
	return res, nil
}

// recoverable reports whether a per-symbol failure may degrade to a
// partial result. Only unsupported kinds qualify: the format simply
// cannot express them. Malformed metadata means the input is broken
// and is fatal regardless of mode.
func recoverable(err error, opts Options) bool {
	if opts.Strict {
		return false
	}
	return stderrors.Is(err, &errors.Error{Phase: errors.PhaseBTF, Kind: errors.KindUnsupportedDebugInfo})
}

type transformer struct {
	arena *ir.DebugArena
	table *Table
	memo  map[ir.DebugRef]TypeID
}

// convertRoot converts one subprogram transactionally: on failure the
// table and memo roll back so a skipped function leaves no orphaned
// records behind.
func (t *transformer) convertRoot(spRef ir.DebugRef, symbol string) (TypeID, error) {
	mark := t.table.Len()
	var added []ir.DebugRef

	id, err := t.convertTracked(t.arena.Entry(spRef).Base, symbol, &added)
	if err != nil {
		t.table.truncate(mark)
		for _, ref := range added {
			delete(t.memo, ref)
		}
		return Void, err
	}
	return id, nil
}

func (t *transformer) convertGlobal(varRef ir.DebugRef, seed GlobalSeed) (TypeID, error) {
	mark := t.table.Len()
	var added []ir.DebugRef

	typ, err := t.convertTracked(t.arena.Entry(varRef).Base, seed.Name, &added)
	if err != nil {
		t.table.truncate(mark)
		for _, ref := range added {
			delete(t.memo, ref)
		}
		return Void, err
	}

	linkage := LinkageGlobal
	if seed.Static {
		linkage = LinkageStatic
	}
	return t.table.Add(&Type{
		Kind:    KindVar,
		Name:    seed.Name,
		Ref:     typ,
		Linkage: linkage,
	}), nil
}

// convertTracked converts ref and its dependencies, recording every
// memo entry it creates so the caller can roll back.
func (t *transformer) convertTracked(ref ir.DebugRef, symbol string, added *[]ir.DebugRef) (TypeID, error) {
	if ref == ir.DebugNone {
		return Void, nil
	}
	if id, ok := t.memo[ref]; ok {
		return id, nil
	}

	entry := t.arena.Entry(ref)

	// reserve the slot before descending; cyclic references resolve to
	// this provisional index and are patched in place below
	id := t.table.Add(&Type{})
	t.memo[ref] = id
	*added = append(*added, ref)

	typ, err := t.convertEntry(entry, symbol, added)
	if err != nil {
		return Void, err
	}
	*t.table.ByID(id) = *typ
	return id, nil
}

func (t *transformer) convertEntry(entry *ir.DebugEntry, symbol string, added *[]ir.DebugRef) (*Type, error) {
	switch entry.Kind {
	case ir.DebugBase:
		return t.convertBase(entry)

	case ir.DebugPointer:
		base, err := t.convertTracked(entry.Base, symbol, added)
		if err != nil {
			return nil, err
		}
		return &Type{Kind: KindPtr, Ref: base}, nil

	case ir.DebugTypedef:
		base, err := t.convertTracked(entry.Base, symbol, added)
		if err != nil {
			return nil, err
		}
		return &Type{Kind: KindTypedef, Name: entry.Name, Ref: base}, nil

	case ir.DebugConst:
		base, err := t.convertTracked(entry.Base, symbol, added)
		if err != nil {
			return nil, err
		}
		return &Type{Kind: KindConst, Ref: base}, nil

	case ir.DebugVolatile:
		base, err := t.convertTracked(entry.Base, symbol, added)
		if err != nil {
			return nil, err
		}
		return &Type{Kind: KindVolatile, Ref: base}, nil

	case ir.DebugRestrict:
		base, err := t.convertTracked(entry.Base, symbol, added)
		if err != nil {
			return nil, err
		}
		return &Type{Kind: KindRestrict, Ref: base}, nil

	case ir.DebugStruct, ir.DebugUnion:
		return t.convertComposite(entry, symbol, added)

	case ir.DebugEnum:
		return t.convertEnum(entry)

	case ir.DebugArray:
		return t.convertArray(entry, symbol, added)

	case ir.DebugFuncProto:
		return t.convertProto(entry, symbol, added)

	case ir.DebugSubprogram:
		// a function referenced as a value; describe it by prototype
		return t.convertProto(t.arena.Entry(entry.Base), symbol, added)

	case ir.DebugVariable:
		base, err := t.convertTracked(entry.Base, symbol, added)
		if err != nil {
			return nil, err
		}
		return &Type{Kind: KindVar, Name: entry.Name, Ref: base, Linkage: LinkageGlobal}, nil

	default:
		return nil, errors.UnsupportedDebugInfo(symbol, entry.Detail)
	}
}

func (t *transformer) convertBase(entry *ir.DebugEntry) (*Type, error) {
	if !entry.HasSize {
		return nil, errors.MalformedDebugInfo(entry.Name, "base type without size")
	}
	size := uint32(entry.SizeBits / 8)
	if entry.SizeBits%8 != 0 {
		size++
	}

	if entry.Encoding == ir.EncodingFloat {
		return &Type{Kind: KindFloat, Name: entry.Name, Size: size}, nil
	}

	var enc uint8
	switch entry.Encoding {
	case ir.EncodingSigned:
		enc = IntSigned
	case ir.EncodingSignedChar:
		enc = IntSigned | IntChar
	case ir.EncodingUnsignedChar:
		enc = IntChar
	case ir.EncodingBool:
		enc = IntBool
	case ir.EncodingUnsigned, ir.EncodingNone:
		enc = 0
	}
	return &Type{
		Kind:        KindInt,
		Name:        entry.Name,
		Size:        size,
		IntBits:     uint8(entry.SizeBits),
		IntEncoding: enc,
	}, nil
}

func (t *transformer) convertComposite(entry *ir.DebugEntry, symbol string, added *[]ir.DebugRef) (*Type, error) {
	if !entry.HasSize {
		return nil, errors.MalformedDebugInfo(entry.Name, "composite type without size")
	}
	if entry.SizeBits%8 != 0 {
		return nil, errors.MalformedDebugInfo(entry.Name, fmt.Sprintf("composite size %d bits is not byte aligned", entry.SizeBits))
	}

	kind := KindStruct
	if entry.Kind == ir.DebugUnion {
		kind = KindUnion
	}
	typ := &Type{
		Kind: kind,
		Name: entry.Name,
		Size: uint32(entry.SizeBits / 8),
	}
	for _, m := range entry.Members {
		id, err := t.convertTracked(m.Type, symbol, added)
		if err != nil {
			return nil, err
		}
		typ.Members = append(typ.Members, Member{
			Name:       m.Name,
			Type:       id,
			OffsetBits: uint32(m.OffsetBits),
		})
	}
	return typ, nil
}

func (t *transformer) convertEnum(entry *ir.DebugEntry) (*Type, error) {
	if !entry.HasSize || entry.SizeBits == 0 {
		return nil, errors.MalformedDebugInfo(entry.Name, "enum type without size")
	}
	if entry.SizeBits%8 != 0 {
		return nil, errors.MalformedDebugInfo(entry.Name, fmt.Sprintf("enum size %d bits is not byte aligned", entry.SizeBits))
	}
	typ := &Type{Kind: KindEnum, Name: entry.Name, Size: uint32(entry.SizeBits / 8)}
	for _, m := range entry.Members {
		typ.Enums = append(typ.Enums, Enumerator{Name: m.Name, Value: int32(m.Value)})
	}
	return typ, nil
}

func (t *transformer) convertArray(entry *ir.DebugEntry, symbol string, added *[]ir.DebugRef) (*Type, error) {
	elem, err := t.convertTracked(entry.Base, symbol, added)
	if err != nil {
		return nil, err
	}
	nelems := uint32(0)
	if entry.Count > 0 {
		nelems = uint32(entry.Count)
	}
	return &Type{
		Kind:   KindArray,
		Elem:   elem,
		Index:  t.arrayIndexType(),
		NElems: nelems,
	}, nil
}

// arrayIndexType returns the synthetic u32 index type every ARRAY
// record references, creating it on first use. Deduplication keeps it
// singular even if a module's own debug info defines an identical int.
func (t *transformer) arrayIndexType() TypeID {
	name := "__ARRAY_SIZE_TYPE__"
	for i, typ := range t.table.Types() {
		if typ.Kind == KindInt && typ.Name == name {
			return TypeID(i + 1)
		}
	}
	return t.table.Add(&Type{
		Kind:    KindInt,
		Name:    name,
		Size:    4,
		IntBits: 32,
	})
}

func (t *transformer) convertProto(entry *ir.DebugEntry, symbol string, added *[]ir.DebugRef) (*Type, error) {
	ret, err := t.convertTracked(entry.Base, symbol, added)
	if err != nil {
		return nil, err
	}
	typ := &Type{Kind: KindProto, Ref: ret}
	for _, m := range entry.Members {
		id, err := t.convertTracked(m.Type, symbol, added)
		if err != nil {
			return nil, err
		}
		typ.Params = append(typ.Params, Param{Name: m.Name, Type: id})
	}
	return typ, nil
}
