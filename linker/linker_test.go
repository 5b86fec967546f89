package linker

import (
	"bytes"
	"context"
	"debug/elf"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vadorovsky/bpf-linker/errors"
)

const progSrc = `
@counter = global i64 0

define i64 @prog() section "xdp" {
entry:
	%v = call i64 @compute(i64 40)
	ret i64 %v
}

define internal i64 @compute(i64 %x) {
entry:
	%r = add i64 %x, 2
	ret i64 %r
}
`

func writeInput(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLink_Object(t *testing.T) {
	art, err := Link(context.Background(), Options{
		Inputs:   []string{writeInput(t, "prog.ll", progSrc)},
		Emit:     OutputObject,
		Cpu:      CpuV2,
		OptLevel: 2,
	})
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if art.Kind != OutputObject {
		t.Errorf("artifact kind = %v, want object", art.Kind)
	}

	f, err := elf.NewFile(bytes.NewReader(art.Data))
	if err != nil {
		t.Fatalf("parsing object: %v", err)
	}
	defer f.Close()

	if f.Machine != elf.EM_BPF {
		t.Errorf("machine = %v, want EM_BPF", f.Machine)
	}
	sec := f.Section("xdp")
	if sec == nil {
		t.Fatal("missing xdp section")
	}
	code, err := sec.Data()
	if err != nil {
		t.Fatalf("xdp data: %v", err)
	}
	// the helper inlines and folds away, leaving mov r0, 42 and exit
	if len(code) != 2*8 {
		t.Fatalf("xdp holds %d instructions, want 2", len(code)/8)
	}
	if code[0] != 0xb7 || f.ByteOrder.Uint32(code[4:8]) != 42 {
		t.Errorf("first insn = % x, want mov r0, 42", code[:8])
	}
	if code[8] != 0x95 {
		t.Errorf("second insn opcode = %#x, want exit", code[8])
	}

	syms, err := f.Symbols()
	if err != nil {
		t.Fatalf("symbols: %v", err)
	}
	found := false
	for _, s := range syms {
		if s.Name == "prog" && elf.ST_BIND(s.Info) == elf.STB_GLOBAL {
			found = true
		}
	}
	if !found {
		t.Error("missing global prog symbol")
	}
}

func TestLink_ObjectWithBtf(t *testing.T) {
	art, err := Link(context.Background(), Options{
		Inputs:   []string{writeInput(t, "prog.ll", progSrc)},
		Emit:     OutputObject,
		OptLevel: 2,
		Btf:      true,
	})
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	// inputs without debug metadata still link, just without the
	// type sections
	f, err := elf.NewFile(bytes.NewReader(art.Data))
	if err != nil {
		t.Fatalf("parsing object: %v", err)
	}
	f.Close()
}

func TestLink_IR(t *testing.T) {
	art, err := Link(context.Background(), Options{
		Inputs:   []string{writeInput(t, "prog.ll", progSrc)},
		Emit:     OutputIR,
		OptLevel: 2,
	})
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	text := string(art.Data)
	if !strings.Contains(text, "ret i64 42") {
		t.Errorf("optimized IR does not fold the helper call:\n%s", text)
	}
	if strings.Contains(text, "@compute") {
		t.Errorf("inlined helper still present:\n%s", text)
	}
}

func TestLink_Assembly(t *testing.T) {
	art, err := Link(context.Background(), Options{
		Inputs:   []string{writeInput(t, "prog.ll", progSrc)},
		Emit:     OutputAssembly,
		OptLevel: 0,
	})
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	text := string(art.Data)
	if !strings.Contains(text, "section xdp") {
		t.Errorf("listing misses the program section:\n%s", text)
	}
	if !strings.Contains(text, "exit") {
		t.Errorf("listing misses the exit instruction:\n%s", text)
	}
}

func TestLink_RecursionRejected(t *testing.T) {
	src := `
define i64 @loop(i64 %n) section "xdp" {
entry:
	%v = call i64 @loop(i64 %n)
	ret i64 %v
}
`
	_, err := Link(context.Background(), Options{
		Inputs:   []string{writeInput(t, "loop.ll", src)},
		Emit:     OutputIR,
		OptLevel: 0,
	})
	var re *errors.UnsupportedRecursionError
	if !stderrors.As(err, &re) {
		t.Fatalf("err = %v, want recursion error", err)
	}
	if len(re.Symbols) != 1 || re.Symbols[0] != "loop" {
		t.Errorf("cycle = %v, want [loop]", re.Symbols)
	}
}

func TestLink_MutualRecursionRejected(t *testing.T) {
	src := `
define i64 @ping(i64 %n) section "xdp" {
entry:
	%v = call i64 @pong(i64 %n)
	ret i64 %v
}

define i64 @pong(i64 %n) {
entry:
	%v = call i64 @ping(i64 %n)
	ret i64 %v
}
`
	// the optimizer must leave the cycle intact and terminate, so the
	// recursion check can still name both participants
	_, err := Link(context.Background(), Options{
		Inputs:   []string{writeInput(t, "pingpong.ll", src)},
		Emit:     OutputIR,
		OptLevel: 2,
	})
	var re *errors.UnsupportedRecursionError
	if !stderrors.As(err, &re) {
		t.Fatalf("err = %v, want recursion error", err)
	}
	if len(re.Symbols) != 2 || re.Symbols[0] != "ping" || re.Symbols[1] != "pong" {
		t.Errorf("cycle = %v, want [ping pong]", re.Symbols)
	}
}

func TestLink_DumpModule(t *testing.T) {
	dump := t.TempDir()
	_, err := Link(context.Background(), Options{
		Inputs:     []string{writeInput(t, "prog.ll", progSrc)},
		Emit:       OutputIR,
		OptLevel:   2,
		DumpModule: dump,
	})
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	for _, name := range []string{"pre-opt.ll", "post-opt.ll"} {
		data, err := os.ReadFile(filepath.Join(dump, name))
		if err != nil {
			t.Fatalf("reading %s: %v", name, err)
		}
		if !strings.Contains(string(data), "define") {
			t.Errorf("%s does not look like IR", name)
		}
	}
	pre, _ := os.ReadFile(filepath.Join(dump, "pre-opt.ll"))
	post, _ := os.ReadFile(filepath.Join(dump, "post-opt.ll"))
	if bytes.Equal(pre, post) {
		t.Error("pre and post optimization dumps are identical")
	}
}

func TestLink_Archive(t *testing.T) {
	caller := `
declare i64 @shared()

define i64 @entry() section "xdp" {
start:
	%v = call i64 @shared()
	ret i64 %v
}
`
	callee := `
define i64 @shared() {
start:
	ret i64 9
}
`
	path := filepath.Join(t.TempDir(), "deps.a")
	if err := os.WriteFile(path, buildArchive(map[string]string{
		"caller.ll": caller,
		"callee.ll": callee,
	}, []string{"caller.ll", "callee.ll"}), 0o644); err != nil {
		t.Fatalf("writing archive: %v", err)
	}

	art, err := Link(context.Background(), Options{
		Inputs:   []string{path},
		Emit:     OutputIR,
		OptLevel: 2,
	})
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if !strings.Contains(string(art.Data), "ret i64 9") {
		t.Errorf("archive members did not link together:\n%s", art.Data)
	}
}

func TestLink_NoInputs(t *testing.T) {
	_, err := Link(context.Background(), Options{Emit: OutputIR})
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindInvalidInput}) {
		t.Fatalf("err = %v, want invalid input", err)
	}
}

func TestLink_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Link(ctx, Options{
		Inputs: []string{writeInput(t, "prog.ll", progSrc)},
		Emit:   OutputIR,
	})
	if err == nil {
		t.Fatal("link succeeded under a cancelled context")
	}
}

func TestArtifact_WriteFile(t *testing.T) {
	art := &Artifact{Kind: OutputIR, Data: []byte("define void @f()")}
	path := filepath.Join(t.TempDir(), "out.ll")
	if err := art.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading back: %v", err)
	}
	if !bytes.Equal(data, art.Data) {
		t.Error("written artifact differs from the in-memory one")
	}
}

// buildArchive produces a minimal GNU archive holding members in the
// given order.
func buildArchive(members map[string]string, order []string) []byte {
	var buf bytes.Buffer
	buf.WriteString("!<arch>\n")
	for _, name := range order {
		data := members[name]
		fmt.Fprintf(&buf, "%-16s%-12s%-6s%-6s%-8s%-10d`\n",
			name+"/", "0", "0", "0", "644", len(data))
		buf.WriteString(data)
		if len(data)%2 == 1 {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}
