// Package linker links BPF bitcode modules into a loadable artifact.
//
// # Pipeline
//
// Link runs a fixed sequence: inputs load in parallel, modules merge in
// input order under the linkage resolution rules, the export set is
// internalized, the optimization pipeline runs, recursion is rejected,
// code generation lowers the module, and the BTF transform seeds its
// func and line records from the lowered layout before the artifact is
// assembled.
//
// # Inputs
//
// Each input is self-describing: a static archive, a bitcode file, or
// textual IR, detected by magic. Archive members that are not IR are
// skipped with a warning.
//
// # Outputs
//
// The default artifact is a relocatable ELF object carrying the
// programs, data, BTF and relocations. The emit options also cover the
// merged IR in textual and bitcode form and a BPF assembly listing.
package linker
