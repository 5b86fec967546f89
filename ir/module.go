package ir

import (
	llir "github.com/llir/llvm/ir"
)

// InputKind classifies raw input bytes by magic prefix.
type InputKind int

const (
	// KindUnknown means the bytes match no supported format.
	KindUnknown InputKind = iota
	// KindBitcode is the binary bitcode wrapper encoding.
	KindBitcode
	// KindAssembly is textual IR.
	KindAssembly
	// KindArchive is a static archive of IR members.
	KindArchive
)

func (k InputKind) String() string {
	switch k {
	case KindBitcode:
		return "bitcode"
	case KindAssembly:
		return "assembly"
	case KindArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// Module is one parsed IR unit. It owns its symbol definitions and the
// debug arena extracted from the unit's metadata. Modules never share
// mutable state; each is consumed exactly once by the merger.
type Module struct {
	// Path identifies the input file or archive member the unit came
	// from, for error context.
	Path string
	// M is the backend representation of the unit.
	M *llir.Module
	// Debug is the flattened debug-info graph of the unit. Nil when the
	// unit carries no debug metadata.
	Debug *DebugArena
}
