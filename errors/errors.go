package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the link pipeline the error occurred
type Phase string

const (
	PhaseLoad        Phase = "load"        // input file and archive ingestion
	PhaseParse       Phase = "parse"       // IR parsing
	PhaseLink        Phase = "link"        // module merging and symbol resolution
	PhaseInternalize Phase = "internalize" // export-set visibility resolution
	PhaseOptimize    Phase = "optimize"    // IR pass pipeline
	PhaseCodegen     Phase = "codegen"     // lowering to machine code
	PhaseBTF         Phase = "btf"         // debug-info transformation
	PhaseWrite       Phase = "write"       // artifact serialization
)

// Kind categorizes the error
type Kind string

const (
	KindMalformedArchive     Kind = "malformed_archive"
	KindEmptyArchive         Kind = "empty_archive"
	KindParseError           Kind = "parse_error"
	KindDuplicateSymbol      Kind = "duplicate_symbol"
	KindUndefinedSymbol      Kind = "undefined_symbol"
	KindTypeConflict         Kind = "type_conflict"
	KindUnknownExportSymbol  Kind = "unknown_export_symbol"
	KindUnsupportedRecursion Kind = "unsupported_recursion"
	KindCodegenError         Kind = "codegen_error"
	KindMalformedDebugInfo   Kind = "malformed_debug_info"
	KindUnsupportedDebugInfo Kind = "unsupported_debug_info"
	KindWriteError           Kind = "write_error"
	KindInvalidInput         Kind = "invalid_input"
	KindIO                   Kind = "io"
)

// Error is the structured error type used throughout the linker
type Error struct {
	Cause    error
	Phase    Phase
	Kind     Kind
	Symbol   string // offending symbol name, if any
	File     string // offending input path or archive member
	Location string // line:column or byte offset inside File
	Detail   string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.File != "" {
		b.WriteString(" in ")
		b.WriteString(e.File)
		if e.Location != "" {
			b.WriteByte(':')
			b.WriteString(e.Location)
		}
	}

	if e.Symbol != "" {
		b.WriteString(": symbol ")
		b.WriteString(strconvQuote(e.Symbol))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

func strconvQuote(s string) string {
	return fmt.Sprintf("%q", s)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Two Errors match when
// their Phase and Kind agree, which lets callers test categories with
// errors.Is without caring about symbol or file context.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Symbol sets the offending symbol name
func (b *Builder) Symbol(name string) *Builder {
	b.err.Symbol = name
	return b
}

// File sets the offending input path or archive member name
func (b *Builder) File(path string) *Builder {
	b.err.File = path
	return b
}

// Location sets the position inside File
func (b *Builder) Location(loc string) *Builder {
	b.err.Location = loc
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// MalformedArchive creates a malformed archive error
func MalformedArchive(path, detail string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindMalformedArchive,
		File:   path,
		Detail: detail,
	}
}

// EmptyArchive reports an archive with no linkable members
func EmptyArchive(path string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindEmptyArchive,
		File:   path,
		Detail: "archive contains no IR members",
	}
}

// Parse creates a parse error with source location context
func Parse(path, location string, cause error) *Error {
	return &Error{
		Phase:    PhaseParse,
		Kind:     KindParseError,
		File:     path,
		Location: location,
		Cause:    cause,
	}
}

// DuplicateSymbol reports two strong definitions of the same name
func DuplicateSymbol(name, firstFile, secondFile string) *Error {
	return &Error{
		Phase:  PhaseLink,
		Kind:   KindDuplicateSymbol,
		Symbol: name,
		File:   secondFile,
		Detail: fmt.Sprintf("already defined in %s", firstFile),
	}
}

// UndefinedSymbol reports a referenced symbol with no definition
func UndefinedSymbol(name string) *Error {
	return &Error{
		Phase:  PhaseLink,
		Kind:   KindUndefinedSymbol,
		Symbol: name,
		Detail: "referenced but never defined",
	}
}

// TypeConflict reports mismatched layouts for one named type
func TypeConflict(typeName, detail string) *Error {
	return &Error{
		Phase:  PhaseLink,
		Kind:   KindTypeConflict,
		Symbol: typeName,
		Detail: detail,
	}
}

// UnknownExportSymbol reports an export-set entry absent from the module
func UnknownExportSymbol(name string) *Error {
	return &Error{
		Phase:  PhaseInternalize,
		Kind:   KindUnknownExportSymbol,
		Symbol: name,
		Detail: "export set names a symbol not present in any input module",
	}
}

// Codegen creates a codegen error carrying the failing function name
func Codegen(function, detail string) *Error {
	return &Error{
		Phase:  PhaseCodegen,
		Kind:   KindCodegenError,
		Symbol: function,
		Detail: detail,
	}
}

// MalformedDebugInfo reports a debug entry with missing or inconsistent fields
func MalformedDebugInfo(typeName, detail string) *Error {
	return &Error{
		Phase:  PhaseBTF,
		Kind:   KindMalformedDebugInfo,
		Symbol: typeName,
		Detail: detail,
	}
}

// UnsupportedDebugInfo reports a debug entry kind the type format cannot express
func UnsupportedDebugInfo(function, detail string) *Error {
	return &Error{
		Phase:  PhaseBTF,
		Kind:   KindUnsupportedDebugInfo,
		Symbol: function,
		Detail: detail,
	}
}

// Write creates an artifact serialization error
func Write(path string, cause error) *Error {
	return &Error{
		Phase: PhaseWrite,
		Kind:  KindWriteError,
		File:  path,
		Cause: cause,
	}
}

// InvalidInput reports an input file that is neither IR nor an archive
func InvalidInput(path, detail string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidInput,
		File:   path,
		Detail: detail,
	}
}

// IO wraps a filesystem error with the path it concerns
func IO(phase Phase, path string, cause error) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindIO,
		File:  path,
		Cause: cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// UnsupportedRecursionError is returned when the call graph contains a cycle.
// The target rejects recursive programs, so the driver refuses them before
// codegen rather than letting the kernel verifier produce a worse diagnostic.
type UnsupportedRecursionError struct {
	// Symbols lists the functions forming the cycle, in call order,
	// starting from the first participant in module order so the
	// message is deterministic.
	Symbols []string
}

// NewUnsupportedRecursionError creates an error from the functions on the cycle
func NewUnsupportedRecursionError(symbols []string) *UnsupportedRecursionError {
	return &UnsupportedRecursionError{Symbols: symbols}
}

func (e *UnsupportedRecursionError) Error() string {
	if len(e.Symbols) == 0 {
		return "[optimize] unsupported_recursion: recursive call cycle"
	}

	var b strings.Builder
	b.WriteString("[optimize] unsupported_recursion: the target does not support recursion: ")
	for i, s := range e.Symbols {
		if i > 0 {
			b.WriteString(" -> ")
		}
		b.WriteString(s)
	}
	// close the cycle in the message
	b.WriteString(" -> ")
	b.WriteString(e.Symbols[0])
	return b.String()
}

// Is reports whether target matches this error type
func (e *UnsupportedRecursionError) Is(target error) bool {
	_, ok := target.(*UnsupportedRecursionError)
	return ok
}
