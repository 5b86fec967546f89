// Package passes implements the fixed optimization pipeline run on the
// merged module before code generation.
//
// # Pipeline
//
// Run applies, in order: inlining, dead-global elimination, constant
// propagation, control-flow simplification, and dead-code elimination.
// The last three repeat until a full round changes nothing, since each
// exposes work for the others.
//
// # Scope
//
// Every pass is conservative: an instruction or global is only removed
// or rewritten when the transformation is provably behavior preserving
// on the instruction subset the code generator accepts. Anything the
// passes do not understand is left alone and either lowers fine or is
// rejected by the code generator with a named function.
package passes
