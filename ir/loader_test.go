package ir

import (
	"errors"
	"strings"
	"testing"

	linkerrors "github.com/vadorovsky/bpf-linker/errors"
)

const simpleModule = `
define i64 @add(i64 %x, i64 %y) {
entry:
	%r = add i64 %x, %y
	ret i64 %r
}
`

const debugModule = `
define i64 @inc(i64 %x) !dbg !4 {
entry:
	%r = add i64 %x, 1
	ret i64 %r
}

!llvm.module.flags = !{!0}
!llvm.dbg.cu = !{!1}

!0 = !{i32 2, !"Debug Info Version", i32 3}
!1 = distinct !DICompileUnit(language: DW_LANG_C99, file: !2, emissionKind: FullDebug)
!2 = !DIFile(filename: "probe.c", directory: "/src")
!4 = distinct !DISubprogram(name: "inc", scope: !2, file: !2, line: 3, type: !5, unit: !1)
!5 = !DISubroutineType(types: !6)
!6 = !{!7, !7}
!7 = !DIBasicType(name: "long", size: 64, encoding: DW_ATE_signed)
`

func TestLoad_Assembly(t *testing.T) {
	mod, err := Load("add.ll", []byte(simpleModule))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(mod.M.Funcs) != 1 || mod.M.Funcs[0].Name() != "add" {
		t.Fatalf("unexpected functions in parsed module")
	}
	if mod.Debug != nil {
		t.Error("module without debug metadata produced an arena")
	}
}

func TestLoad_Bitcode(t *testing.T) {
	bc, err := EncodeBitcode([]byte(simpleModule))
	if err != nil {
		t.Fatalf("EncodeBitcode: %v", err)
	}
	if Detect(bc) != KindBitcode {
		t.Fatalf("bitcode magic not detected")
	}

	mod, err := Load("add.bc", bc)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(mod.M.Funcs) != 1 {
		t.Fatalf("bitcode round trip lost functions")
	}
}

func TestLoad_ParseError(t *testing.T) {
	_, err := Load("bad.ll", []byte("define i64 @broken("))
	if !errors.Is(err, &linkerrors.Error{Phase: linkerrors.PhaseParse, Kind: linkerrors.KindParseError}) {
		t.Fatalf("err = %v, want parse_error", err)
	}
}

func TestLoad_UnknownFormat(t *testing.T) {
	_, err := Load("junk.bin", []byte{0x7f, 'E', 'L', 'F', 0, 0, 0, 0})
	if !errors.Is(err, &linkerrors.Error{Phase: linkerrors.PhaseLoad, Kind: linkerrors.KindInvalidInput}) {
		t.Fatalf("err = %v, want invalid_input", err)
	}
}

func TestLoad_DebugArena(t *testing.T) {
	mod, err := Load("probe.ll", []byte(debugModule))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if mod.Debug == nil {
		t.Fatal("no debug arena extracted")
	}

	ref, ok := mod.Debug.Subprograms["inc"]
	if !ok {
		t.Fatal("subprogram for inc not recorded")
	}
	sp := mod.Debug.Entry(ref)
	if sp.Kind != DebugSubprogram || sp.Name != "inc" {
		t.Fatalf("subprogram entry = %+v", sp)
	}
	if sp.File != "probe.c" || sp.Line != 3 {
		t.Errorf("subprogram location = %s:%d", sp.File, sp.Line)
	}

	proto := mod.Debug.Entry(sp.Base)
	if proto.Kind != DebugFuncProto {
		t.Fatalf("subprogram type kind = %s", proto.Kind)
	}
	if len(proto.Members) != 1 {
		t.Fatalf("prototype has %d params, want 1", len(proto.Members))
	}
	ret := mod.Debug.Entry(proto.Base)
	if ret.Kind != DebugBase || ret.Name != "long" || ret.SizeBits != 64 || ret.Encoding != EncodingSigned {
		t.Errorf("return type entry = %+v", ret)
	}
	// parameter and return share the same node; identity memoization
	// must collapse them to one handle
	if proto.Members[0].Type != proto.Base {
		t.Error("shared metadata node converted twice")
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		data string
		want InputKind
	}{
		{"assembly", simpleModule, KindAssembly},
		{"archive", "!<arch>\n", KindArchive},
		{"binary junk", "\x00\x01\x02\x03", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect([]byte(tt.data)); got != tt.want {
				t.Errorf("Detect = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBitcodeRoundTrip(t *testing.T) {
	text := []byte(strings.Repeat("define void @f() {\nentry:\n\tret void\n}\n", 1))
	bc, err := EncodeBitcode(text)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := DecodeBitcode(bc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(back) != string(text) {
		t.Error("round trip altered the text")
	}
}

func TestDecodeBitcode_Truncated(t *testing.T) {
	bc, err := EncodeBitcode([]byte(simpleModule))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeBitcode(bc[:6]); err == nil {
		t.Error("truncated bitcode decoded without error")
	}
}
