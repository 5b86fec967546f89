// Package codegen lowers the optimized IR module to BPF machine code.
//
// # Model
//
// Lowering is stack based: every IR value gets an 8-byte frame slot
// below r10, instructions load their operands into the scratch
// registers r0..r2, compute, and store the result back. The layout step
// then places each function in its output section, resolves
// function-local branches, and turns cross-function calls and global
// references into relocations for the object writer.
//
// Values narrower than 64 bits are kept zero extended in their slots;
// signed operations sign extend on demand. BPF has no signed divide
// below ISA v4, so sdiv and srem are rejected.
//
// # Processor variants
//
// Features gates the instruction families that newer BPF processors
// added. Without extended jumps the unsigned and signed less-than
// family is synthesized by swapping operands.
package codegen
