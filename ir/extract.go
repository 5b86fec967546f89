package ir

import (
	"fmt"
	"reflect"

	llir "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/metadata"
)

// extractDebug flattens the module's debug metadata into an arena.
// Returns nil when the module has no function or global debug
// attachments at all.
func extractDebug(m *llir.Module) *DebugArena {
	x := &extractor{
		arena:   NewDebugArena(),
		visited: make(map[metadata.Field]DebugRef),
	}

	found := false
	for _, f := range m.Funcs {
		sp := findAttachment(f.Metadata, "dbg")
		if sp == nil {
			continue
		}
		if node, ok := sp.(*metadata.DISubprogram); ok {
			x.arena.Subprograms[f.Name()] = x.subprogram(node)
			found = true
		}
	}
	for _, g := range m.Globals {
		gve := findAttachment(g.Metadata, "dbg")
		if gve == nil {
			continue
		}
		if node, ok := gve.(*metadata.DIGlobalVariableExpression); ok && node.Var != nil {
			x.arena.Globals[g.Name()] = x.globalVariable(node.Var)
			found = true
		}
	}

	if !found {
		return nil
	}
	return x.arena
}

// findAttachment returns the node of the named metadata attachment.
func findAttachment(attachments []*metadata.Attachment, name string) metadata.MDNode {
	for _, a := range attachments {
		if a.Name == name {
			return a.Node
		}
	}
	return nil
}

// extractor converts metadata nodes into arena entries. The visited map
// is keyed by node identity, not value: it both memoizes shared nodes
// and breaks cycles, since an in-progress node already holds a reserved
// handle when its own members are converted.
type extractor struct {
	arena   *DebugArena
	visited map[metadata.Field]DebugRef
}

func (x *extractor) subprogram(n *metadata.DISubprogram) DebugRef {
	if ref, ok := x.visited[n]; ok {
		return ref
	}
	ref := x.arena.Add(DebugEntry{Kind: DebugSubprogram})
	x.visited[n] = ref

	e := DebugEntry{
		Kind:        DebugSubprogram,
		Name:        n.Name,
		LinkageName: n.LinkageName,
		Line:        int64(n.Line),
		Base:        x.convert(n.Type),
	}
	if n.File != nil {
		e.File = n.File.Filename
	}
	*x.arena.Entry(ref) = e
	return ref
}

func (x *extractor) globalVariable(n *metadata.DIGlobalVariable) DebugRef {
	if ref, ok := x.visited[n]; ok {
		return ref
	}
	ref := x.arena.Add(DebugEntry{Kind: DebugVariable})
	x.visited[n] = ref

	e := DebugEntry{
		Kind:        DebugVariable,
		Name:        n.Name,
		LinkageName: n.LinkageName,
		Line:        int64(n.Line),
		Base:        x.convert(n.Type),
	}
	if n.File != nil {
		e.File = n.File.Filename
	}
	*x.arena.Entry(ref) = e
	return ref
}

// convert translates one type node, reserving the handle before
// descending so self-referential composites terminate.
func (x *extractor) convert(field metadata.Field) DebugRef {
	if isNullMD(field) {
		return DebugNone
	}
	if ref, ok := x.visited[field]; ok {
		return ref
	}
	ref := x.arena.Add(DebugEntry{Kind: DebugUnsupported})
	x.visited[field] = ref

	var e DebugEntry
	switch n := field.(type) {
	case *metadata.DIBasicType:
		e = DebugEntry{
			Kind:     DebugBase,
			Name:     n.Name,
			SizeBits: uint64(n.Size),
			HasSize:  true,
			Encoding: mapEncoding(uint64(n.Encoding)),
		}
	case *metadata.DIDerivedType:
		e = x.derived(n)
	case *metadata.DICompositeType:
		e = x.composite(n)
	case *metadata.DISubroutineType:
		e = x.subroutine(n)
	case *metadata.DISubprogram:
		// a scope reference, not a type; resolve through the entry path
		x.arena.Entries = x.arena.Entries[:len(x.arena.Entries)-1]
		delete(x.visited, field)
		return x.subprogram(n)
	default:
		e = DebugEntry{
			Kind:   DebugUnsupported,
			Detail: fmt.Sprintf("metadata node %T", field),
		}
	}

	*x.arena.Entry(ref) = e
	return ref
}

func (x *extractor) derived(n *metadata.DIDerivedType) DebugEntry {
	base := x.convert(n.BaseType)
	e := DebugEntry{
		Name:     n.Name,
		Base:     base,
		SizeBits: uint64(n.Size),
		HasSize:  n.Size != 0,
	}
	switch uint64(n.Tag) {
	case dwTagPointerType, dwTagReferenceType:
		e.Kind = DebugPointer
		e.HasSize = true
	case dwTagTypedef:
		e.Kind = DebugTypedef
	case dwTagConstType:
		e.Kind = DebugConst
	case dwTagVolatileType:
		e.Kind = DebugVolatile
	case dwTagRestrictType:
		e.Kind = DebugRestrict
	case dwTagMember:
		// member nodes are consumed by composite(); reaching one here
		// means a member used as a standalone type reference
		e.Kind = DebugTypedef
	default:
		e.Kind = DebugUnsupported
		e.Detail = fmt.Sprintf("derived type tag %#x", uint64(n.Tag))
	}
	return e
}

func (x *extractor) composite(n *metadata.DICompositeType) DebugEntry {
	e := DebugEntry{
		Name:     n.Name,
		SizeBits: uint64(n.Size),
		HasSize:  true,
		Count:    -1,
	}

	switch uint64(n.Tag) {
	case dwTagStructureType, dwTagClassType:
		e.Kind = DebugStruct
	case dwTagUnionType:
		e.Kind = DebugUnion
	case dwTagEnumerationType:
		e.Kind = DebugEnum
	case dwTagArrayType:
		e.Kind = DebugArray
		e.Base = x.convert(n.BaseType)
	default:
		e.Kind = DebugUnsupported
		e.Detail = fmt.Sprintf("composite type tag %#x", uint64(n.Tag))
		return e
	}

	if n.Elements == nil {
		return e
	}
	for _, elem := range n.Elements.Fields {
		switch child := elem.(type) {
		case *metadata.DIDerivedType:
			// struct/union member
			e.Members = append(e.Members, DebugMember{
				Name:       child.Name,
				Type:       x.convert(child.BaseType),
				OffsetBits: uint64(child.Offset),
			})
		case *metadata.DIEnumerator:
			e.Members = append(e.Members, DebugMember{
				Name:  child.Name,
				Type:  DebugNone,
				Value: child.Value,
			})
		case *metadata.DISubrange:
			e.Count = subrangeCount(child)
		}
	}
	return e
}

func (x *extractor) subroutine(n *metadata.DISubroutineType) DebugEntry {
	e := DebugEntry{Kind: DebugFuncProto, Base: DebugNone}
	if n.Types == nil {
		return e
	}
	for i, field := range n.Types.Fields {
		if i == 0 {
			// return type; null means void
			e.Base = x.convert(field)
			continue
		}
		e.Members = append(e.Members, DebugMember{Type: x.convert(field)})
	}
	return e
}

// InstLocation returns the source position attached to an instruction
// through its !dbg metadata, if any. Codegen uses this to map machine
// instruction offsets back to source rows.
func InstLocation(inst any) (file string, line, col int64, ok bool) {
	loc := findAttachment(instAttachments(inst), "dbg")
	dl, isLoc := loc.(*metadata.DILocation)
	if !isLoc {
		return "", 0, 0, false
	}
	line = int64(dl.Line)
	col = int64(dl.Column)
	if scope, isScope := dl.Scope.(*metadata.DISubprogram); isScope && scope.File != nil {
		file = scope.File.Filename
	}
	return file, line, col, true
}

// subrangeCount extracts a constant array bound; -1 when the bound is
// symbolic or absent.
func subrangeCount(n *metadata.DISubrange) int64 {
	switch c := n.Count.(type) {
	case metadata.IntLit:
		return int64(c)
	case *metadata.IntLit:
		return int64(*c)
	default:
		return -1
	}
}

// instAttachments reads the Metadata field shared by every instruction
// type. The backend defines the field per concrete type without a
// common accessor, hence reflection.
func instAttachments(inst any) []*metadata.Attachment {
	rv := reflect.ValueOf(inst)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return nil
	}
	fv := rv.Elem().FieldByName("Metadata")
	if !fv.IsValid() {
		return nil
	}
	attachments, _ := fv.Interface().([]*metadata.Attachment)
	return attachments
}

// isNullMD reports whether field is absent or the metadata null literal.
func isNullMD(field metadata.Field) bool {
	if field == nil {
		return true
	}
	if s, ok := field.(fmt.Stringer); ok && s.String() == "null" {
		return true
	}
	return false
}

func mapEncoding(ate uint64) Encoding {
	switch ate {
	case dwAteBoolean:
		return EncodingBool
	case dwAteFloat:
		return EncodingFloat
	case dwAteSigned:
		return EncodingSigned
	case dwAteSignedChar:
		return EncodingSignedChar
	case dwAteUnsigned, dwAteAddress:
		return EncodingUnsigned
	case dwAteUnsignedChar:
		return EncodingUnsignedChar
	default:
		return EncodingNone
	}
}
