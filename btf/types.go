package btf

import (
	"fmt"
	"strings"
)

// TypeID is a 1-based index into the type table. ID 0 is the reserved
// void sentinel and never owns a record.
type TypeID uint32

// Void is the sentinel "no type" index.
const Void TypeID = 0

// Kind is the BTF record kind, numbered per the kernel format.
type Kind uint8

const (
	KindUnknown  Kind = 0
	KindInt      Kind = 1
	KindPtr      Kind = 2
	KindArray    Kind = 3
	KindStruct   Kind = 4
	KindUnion    Kind = 5
	KindEnum     Kind = 6
	KindFwd      Kind = 7
	KindTypedef  Kind = 8
	KindVolatile Kind = 9
	KindConst    Kind = 10
	KindRestrict Kind = 11
	KindFunc     Kind = 12
	KindProto    Kind = 13
	KindVar      Kind = 14
	KindDataSec  Kind = 15
	KindFloat    Kind = 16
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "INT"
	case KindPtr:
		return "PTR"
	case KindArray:
		return "ARRAY"
	case KindStruct:
		return "STRUCT"
	case KindUnion:
		return "UNION"
	case KindEnum:
		return "ENUM"
	case KindFwd:
		return "FWD"
	case KindTypedef:
		return "TYPEDEF"
	case KindVolatile:
		return "VOLATILE"
	case KindConst:
		return "CONST"
	case KindRestrict:
		return "RESTRICT"
	case KindFunc:
		return "FUNC"
	case KindProto:
		return "FUNC_PROTO"
	case KindVar:
		return "VAR"
	case KindDataSec:
		return "DATASEC"
	case KindFloat:
		return "FLOAT"
	default:
		return "UNKNOWN"
	}
}

// Int encoding flags, stored in the INT record's auxiliary word.
const (
	IntSigned uint8 = 1 << 0
	IntChar   uint8 = 1 << 1
	IntBool   uint8 = 1 << 2
)

// Linkage values for FUNC and VAR records.
const (
	LinkageStatic uint32 = 0
	LinkageGlobal uint32 = 1
	LinkageExtern uint32 = 2
)

// Member is one STRUCT or UNION member.
type Member struct {
	Name       string
	Type       TypeID
	OffsetBits uint32
}

// Param is one FUNC_PROTO parameter.
type Param struct {
	Name string
	Type TypeID
}

// Enumerator is one ENUM value.
type Enumerator struct {
	Name  string
	Value int32
}

// VarSec places one VAR inside a DATASEC.
type VarSec struct {
	Type   TypeID
	Offset uint32
	Size   uint32
}

// Type is one record of the type table. Which fields are meaningful
// depends on Kind; the zero values encode correctly for the rest.
type Type struct {
	Kind Kind
	Name string
	// Size is the byte size for INT, STRUCT, UNION, ENUM, FLOAT and
	// DATASEC records.
	Size uint32
	// Ref is the single referenced type: pointee, typedef target,
	// qualified type, FUNC prototype, FUNC_PROTO return type, VAR type.
	Ref TypeID

	// INT fields.
	IntBits     uint8
	IntOffset   uint8
	IntEncoding uint8

	// ARRAY fields.
	Elem   TypeID
	Index  TypeID
	NElems uint32

	Members []Member
	Params  []Param
	Enums   []Enumerator
	Vars    []VarSec

	// Linkage applies to FUNC and VAR records.
	Linkage uint32
	// FwdUnion marks a FWD record as a union forward declaration.
	FwdUnion bool
}

// signature returns the structural identity of a record: kind, name,
// size and the full member/reference signature. Two records with equal
// signatures collapse to one during deduplication.
func (t *Type) signature() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s|%d|%d", t.Kind, t.Name, t.Size, t.Ref)
	switch t.Kind {
	case KindInt:
		fmt.Fprintf(&b, "|i%d:%d:%d", t.IntBits, t.IntOffset, t.IntEncoding)
	case KindArray:
		fmt.Fprintf(&b, "|a%d:%d:%d", t.Elem, t.Index, t.NElems)
	case KindStruct, KindUnion:
		for _, m := range t.Members {
			fmt.Fprintf(&b, "|m%s:%d:%d", m.Name, m.Type, m.OffsetBits)
		}
	case KindEnum:
		for _, e := range t.Enums {
			fmt.Fprintf(&b, "|e%s:%d", e.Name, e.Value)
		}
	case KindProto:
		for _, p := range t.Params {
			fmt.Fprintf(&b, "|p%s:%d", p.Name, p.Type)
		}
	case KindFunc, KindVar:
		fmt.Fprintf(&b, "|l%d", t.Linkage)
	case KindDataSec:
		for _, v := range t.Vars {
			fmt.Fprintf(&b, "|v%d:%d:%d", v.Type, v.Offset, v.Size)
		}
	case KindFwd:
		fmt.Fprintf(&b, "|u%t", t.FwdUnion)
	}
	return b.String()
}

// remap rewrites every type reference through f.
func (t *Type) remap(f func(TypeID) TypeID) {
	t.Ref = f(t.Ref)
	t.Elem = f(t.Elem)
	t.Index = f(t.Index)
	for i := range t.Members {
		t.Members[i].Type = f(t.Members[i].Type)
	}
	for i := range t.Params {
		t.Params[i].Type = f(t.Params[i].Type)
	}
	for i := range t.Vars {
		t.Vars[i].Type = f(t.Vars[i].Type)
	}
}
