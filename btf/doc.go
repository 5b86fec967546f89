// Package btf transforms the combined module's debug graph into the
// compact BTF type format consumed by kernel loaders and introspection
// tools.
//
// # Pipeline
//
//  1. Transform walks every subprogram and global variable surviving
//     internalization and converts the debug entries they reference,
//     dependencies first. Conversion memoizes on entry handles, so
//     cyclic type graphs (a struct pointing at itself) terminate: the
//     in-progress record already owns a provisional index that the
//     cycle closes onto.
//  2. Structurally identical records are deduplicated and every
//     referrer remapped to the surviving index.
//  3. Final 1-based indices are assigned only after the whole reachable
//     graph is visited; index 0 is the reserved void sentinel.
//
// # Failure policy
//
// Sizes, offsets and array bounds are copied verbatim from the debug
// records; a missing size is malformed_debug_info, never defaulted. A
// debug entry the format cannot express skips that one function's info
// in best-effort mode (recorded on Result.Partial) and is fatal in
// strict mode.
//
// # Encoding
//
// Encode serializes the table into the versioned ".BTF" section bytes;
// EncodeExt produces ".BTF.ext" with per-section func_info and
// line_info records. Both share one deduplicated, null-terminated
// string table.
package btf
