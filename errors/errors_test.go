package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:    PhaseParse,
				Kind:     KindParseError,
				File:     "probe.ll",
				Location: "12:4",
				Detail:   "unexpected token",
			},
			contains: []string{"[parse]", "parse_error", "probe.ll:12:4", "unexpected token"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseLoad,
				Kind:  KindEmptyArchive,
			},
			contains: []string{"[load]", "empty_archive"},
		},
		{
			name: "symbol context",
			err: &Error{
				Phase:  PhaseLink,
				Kind:   KindDuplicateSymbol,
				Symbol: "handle_event",
				File:   "b.bc",
				Detail: "already defined in a.bc",
			},
			contains: []string{"[link]", "duplicate_symbol", `"handle_event"`, "b.bc", "already defined in a.bc"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase: PhaseWrite,
				Kind:  KindWriteError,
				File:  "out.o",
				Cause: errors.New("disk full"),
			},
			contains: []string{"[write]", "write_error", "out.o", "caused by", "disk full"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseLoad,
		Kind:  KindIO,
		Cause: cause,
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find the wrapped cause")
	}
	if errors.Unwrap(err) != cause {
		t.Error("Unwrap did not return the cause")
	}
}

func TestError_Is_MatchesPhaseAndKind(t *testing.T) {
	err := DuplicateSymbol("f", "a.bc", "b.bc")
	if !errors.Is(err, &Error{Phase: PhaseLink, Kind: KindDuplicateSymbol}) {
		t.Error("category match failed")
	}
	if errors.Is(err, &Error{Phase: PhaseLink, Kind: KindUndefinedSymbol}) {
		t.Error("matched a different kind")
	}
	if errors.Is(err, &Error{Phase: PhaseCodegen, Kind: KindDuplicateSymbol}) {
		t.Error("matched a different phase")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("short read")
	err := New(PhaseLoad, KindMalformedArchive).
		File("lib.a").
		Location("offset 68").
		Detail("member size %d exceeds remaining %d bytes", 4096, 120).
		Cause(cause).
		Build()

	if err.Phase != PhaseLoad || err.Kind != KindMalformedArchive {
		t.Fatalf("wrong phase/kind: %s/%s", err.Phase, err.Kind)
	}
	if err.File != "lib.a" || err.Location != "offset 68" {
		t.Errorf("wrong file context: %s %s", err.File, err.Location)
	}
	if err.Detail != "member size 4096 exceeds remaining 120 bytes" {
		t.Errorf("wrong detail: %q", err.Detail)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not chained")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name  string
		err   *Error
		phase Phase
		kind  Kind
	}{
		{"malformed archive", MalformedArchive("lib.a", "bad magic"), PhaseLoad, KindMalformedArchive},
		{"empty archive", EmptyArchive("lib.a"), PhaseLoad, KindEmptyArchive},
		{"parse", Parse("m.ll", "1:1", errors.New("x")), PhaseParse, KindParseError},
		{"duplicate symbol", DuplicateSymbol("f", "a", "b"), PhaseLink, KindDuplicateSymbol},
		{"undefined symbol", UndefinedSymbol("g"), PhaseLink, KindUndefinedSymbol},
		{"type conflict", TypeConflict("ctx", "layout mismatch"), PhaseLink, KindTypeConflict},
		{"unknown export", UnknownExportSymbol("missing_fn"), PhaseInternalize, KindUnknownExportSymbol},
		{"codegen", Codegen("f", "unsupported instruction"), PhaseCodegen, KindCodegenError},
		{"malformed debug info", MalformedDebugInfo("ctx", "no size"), PhaseBTF, KindMalformedDebugInfo},
		{"unsupported debug info", UnsupportedDebugInfo("f", "vector type"), PhaseBTF, KindUnsupportedDebugInfo},
		{"write", Write("out.o", errors.New("x")), PhaseWrite, KindWriteError},
		{"invalid input", InvalidInput("a.txt", "unknown file type"), PhaseLoad, KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Phase != tt.phase {
				t.Errorf("phase = %s, want %s", tt.err.Phase, tt.phase)
			}
			if tt.err.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", tt.err.Kind, tt.kind)
			}
		})
	}
}

func TestUnsupportedRecursionError(t *testing.T) {
	err := NewUnsupportedRecursionError([]string{"f", "g"})
	msg := err.Error()
	if !strings.Contains(msg, "f -> g -> f") {
		t.Errorf("message %q does not show the cycle", msg)
	}
	if !errors.Is(err, &UnsupportedRecursionError{}) {
		t.Error("errors.Is failed for recursion error")
	}
}
