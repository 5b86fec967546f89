// Package bpflinker is a static linker for BPF programs.
//
// It merges LLVM bitcode, textual IR and static archives produced by
// compilers targeting BPF into a single module, resolves and
// internalizes symbols, optimizes the result, and emits a relocatable
// ELF object the kernel loader tooling can consume, with optional BTF
// type information.
//
// # Architecture Overview
//
// The module is organized into several packages with distinct
// responsibilities:
//
//	bpf-linker/          Root package documentation
//	├── linker/          Link pipeline: merge, internalize, optimize, emit
//	├── ir/              Input loading, bitcode and assembly decoding, debug arena
//	├── archive/         Static archive (ar) reader
//	├── btf/             BTF type table construction, encoding and decoding
//	├── config/          Linker profiles loaded from TOML
//	├── errors/          Structured error types for diagnostics
//	└── cmd/             bpf-linker CLI and the inspect TUI
//
// # Quick Start
//
// Link inputs to an object:
//
//	art, err := linker.Link(ctx, linker.Options{
//		Inputs: []string{"prog.bc", "deps.a"},
//		Emit:   linker.OutputObject,
//		Btf:    true,
//	})
//	if err != nil {
//		return err
//	}
//	return art.WriteFile("prog.o")
//
// The CLI in cmd/bpf-linker wraps the same pipeline and adds profile
// handling, and cmd/inspect browses the emitted object interactively.
package bpflinker
