package ir

// DebugRef is an integer handle into a DebugArena. The arena replaces
// direct graph references so cyclic type graphs can be traversed and
// serialized without chasing pointers.
type DebugRef int32

// DebugNone is the absent reference: no type, void, or unknown.
const DebugNone DebugRef = -1

// DebugKind discriminates the debug-entry variants.
type DebugKind uint8

const (
	DebugBase DebugKind = iota
	DebugPointer
	DebugStruct
	DebugUnion
	DebugEnum
	DebugArray
	DebugFuncProto
	DebugTypedef
	DebugConst
	DebugVolatile
	DebugRestrict
	DebugSubprogram
	DebugVariable
	DebugUnsupported
)

func (k DebugKind) String() string {
	switch k {
	case DebugBase:
		return "base"
	case DebugPointer:
		return "pointer"
	case DebugStruct:
		return "struct"
	case DebugUnion:
		return "union"
	case DebugEnum:
		return "enum"
	case DebugArray:
		return "array"
	case DebugFuncProto:
		return "func_proto"
	case DebugTypedef:
		return "typedef"
	case DebugConst:
		return "const"
	case DebugVolatile:
		return "volatile"
	case DebugRestrict:
		return "restrict"
	case DebugSubprogram:
		return "subprogram"
	case DebugVariable:
		return "variable"
	default:
		return "unsupported"
	}
}

// Encoding is the base-type interpretation of a DebugBase entry.
type Encoding uint8

const (
	EncodingNone Encoding = iota
	EncodingSigned
	EncodingUnsigned
	EncodingBool
	EncodingSignedChar
	EncodingUnsignedChar
	EncodingFloat
)

// DebugMember is one ordered child of a composite entry: a struct or
// union field, an enumerator, or a function parameter.
type DebugMember struct {
	Name string
	// Type references the member's type entry. DebugNone for
	// enumerators and void returns.
	Type DebugRef
	// OffsetBits is the member offset inside its composite, copied
	// verbatim from the debug record.
	OffsetBits uint64
	// Value is the enumerator value; meaningful only for enum members.
	Value int64
}

// DebugEntry is one node of the flattened debug graph.
type DebugEntry struct {
	Kind        DebugKind
	Name        string
	LinkageName string
	// SizeBits is the entry's size copied verbatim from the debug
	// record; HasSize distinguishes a real zero from an absent value.
	SizeBits uint64
	HasSize  bool
	Encoding Encoding
	// Base is the single outgoing reference: pointee, typedef target,
	// array element, qualified type, or function return type.
	Base    DebugRef
	Members []DebugMember
	// Count is the array element count; -1 when the bound is unknown.
	Count int64
	File  string
	Line  int64
	// Detail explains why an entry is DebugUnsupported.
	Detail string
}

// DebugArena is the flattened debug-info graph of one module, or of the
// combined module after merging.
type DebugArena struct {
	Entries []DebugEntry
	// Subprograms maps function symbol names to their DebugSubprogram
	// entries.
	Subprograms map[string]DebugRef
	// Globals maps global variable symbol names to their DebugVariable
	// entries.
	Globals map[string]DebugRef
}

// NewDebugArena returns an empty arena.
func NewDebugArena() *DebugArena {
	return &DebugArena{
		Subprograms: make(map[string]DebugRef),
		Globals:     make(map[string]DebugRef),
	}
}

// Entry returns the entry behind ref. It panics on DebugNone; callers
// check first.
func (a *DebugArena) Entry(ref DebugRef) *DebugEntry {
	return &a.Entries[ref]
}

// Add appends an entry and returns its handle.
func (a *DebugArena) Add(e DebugEntry) DebugRef {
	a.Entries = append(a.Entries, e)
	return DebugRef(len(a.Entries) - 1)
}

// Merge relinks other's entries into a, offsetting every reference, and
// carries over its symbol tables. Symbols already present in a win;
// merge order is input order, so this implements first-seen-wins for
// debug records exactly like the symbol merger does for weak symbols.
func (a *DebugArena) Merge(other *DebugArena) {
	if other == nil {
		return
	}
	off := DebugRef(len(a.Entries))
	shift := func(r DebugRef) DebugRef {
		if r == DebugNone {
			return DebugNone
		}
		return r + off
	}

	for _, e := range other.Entries {
		e.Base = shift(e.Base)
		if len(e.Members) > 0 {
			members := make([]DebugMember, len(e.Members))
			for i, m := range e.Members {
				m.Type = shift(m.Type)
				members[i] = m
			}
			e.Members = members
		}
		a.Entries = append(a.Entries, e)
	}
	for name, ref := range other.Subprograms {
		if _, ok := a.Subprograms[name]; !ok {
			a.Subprograms[name] = shift(ref)
		}
	}
	for name, ref := range other.Globals {
		if _, ok := a.Globals[name]; !ok {
			a.Globals[name] = shift(ref)
		}
	}
}
