// Package ir loads compiler IR units into in-memory modules.
//
// # Formats
//
// The loader accepts both encodings of the backend IR transparently; the
// format is self-describing via a magic prefix:
//
//   - textual IR (.ll), parsed with the llir/llvm assembler
//   - the binary bitcode wrapper: "BC\xC0\xDE" magic, uncompressed
//     length, DEFLATE-compressed textual IR
//
// # Debug information
//
// Parsed modules carry the compiler's debug metadata graph. Because that
// graph is cyclic (a struct can reference itself through a pointer
// member), the loader flattens it into an arena of debug entries
// addressed by integer handles. Traversal memoizes on metadata node
// identity, never on value, so each node converts exactly once and
// cycles close onto already-reserved handles.
//
// # Main Types
//
//   - Module: a parsed IR unit plus its debug arena
//   - DebugArena, DebugEntry, DebugRef: the flattened debug graph
package ir
