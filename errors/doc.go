// Package errors provides structured error types for the linker.
//
// Errors are categorized by Phase (where in the pipeline the error
// occurred) and Kind (error category). The Error type includes rich
// context: offending symbol, input file, source location, and cause
// chain, so a single terminal message identifies the root cause.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLink, errors.KindTypeConflict).
//		Symbol("struct ctx").
//		File("probe.o").
//		Detail("size 24 here, 32 in earlier module").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.DuplicateSymbol("handle_event", "a.bc", "b.bc")
//	err := errors.UnknownExportSymbol("missing_fn")
//
// All errors implement the standard error interface and support
// errors.Is/As. Two Errors match under errors.Is when their Phase and
// Kind agree, which is what the CLI layer uses to map failures onto
// exit codes.
package errors
