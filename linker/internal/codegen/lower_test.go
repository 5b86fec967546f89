package codegen

import (
	stderrors "errors"
	"testing"

	"github.com/llir/llvm/asm"
	llir "github.com/llir/llvm/ir"

	"github.com/vadorovsky/bpf-linker/errors"
)

func parse(t *testing.T, src string) *llir.Module {
	t.Helper()
	m, err := asm.ParseString("test.ll", src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return m
}

func lowerModule(t *testing.T, src string, feats Features) *Result {
	t.Helper()
	res, err := Lower(parse(t, src), feats)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	return res
}

func findFunction(t *testing.T, res *Result, name string) *Function {
	t.Helper()
	for _, s := range res.Code {
		for _, fn := range s.Funcs {
			if fn.Name == name {
				return fn
			}
		}
	}
	t.Fatalf("function %q not lowered", name)
	return nil
}

// run interprets a lowered function the way the in-kernel interpreter
// would, with a private 512-byte stack. Calls are not supported.
func run(t *testing.T, insns []Insn, args ...uint64) uint64 {
	t.Helper()
	const stackSize = 512
	mem := make([]byte, stackSize)
	var regs [11]uint64
	regs[r10] = stackSize
	for i, a := range args {
		regs[r1+i] = a
	}

	load := func(addr uint64, n int) uint64 {
		if addr+uint64(n) > uint64(len(mem)) {
			t.Fatalf("load outside the test stack at %#x", addr)
		}
		v := uint64(0)
		for i := n - 1; i >= 0; i-- {
			v = v<<8 | uint64(mem[addr+uint64(i)])
		}
		return v
	}
	store := func(addr uint64, n int, v uint64) {
		if addr+uint64(n) > uint64(len(mem)) {
			t.Fatalf("store outside the test stack at %#x", addr)
		}
		for i := 0; i < n; i++ {
			mem[addr+uint64(i)] = byte(v >> (8 * i))
		}
	}
	memBytes := func(sz uint8) int {
		switch sz {
		case sizeB:
			return 1
		case sizeH:
			return 2
		case sizeW:
			return 4
		default:
			return 8
		}
	}

	for pc := 0; ; pc++ {
		if pc < 0 || pc >= len(insns) {
			t.Fatalf("pc %d out of range", pc)
		}
		in := insns[pc]
		class := in.Op & 0x07
		switch class {
		case classALU64, classALU:
			src := uint64(int64(in.Imm)) // sign extended
			if in.Op&srcX != 0 {
				src = regs[in.Src]
			}
			dst := regs[in.Dst]
			var out uint64
			switch in.Op & 0xf0 {
			case aluADD:
				out = dst + src
			case aluSUB:
				out = dst - src
			case aluMUL:
				out = dst * src
			case aluDIV:
				if src == 0 {
					t.Fatal("division by zero in interpreter")
				}
				out = dst / src
			case aluMOD:
				if src == 0 {
					t.Fatal("division by zero in interpreter")
				}
				out = dst % src
			case aluOR:
				out = dst | src
			case aluAND:
				out = dst & src
			case aluXOR:
				out = dst ^ src
			case aluLSH:
				out = dst << (src & 63)
			case aluRSH:
				out = dst >> (src & 63)
			case aluARSH:
				out = uint64(int64(dst) >> (src & 63))
			case aluNEG:
				out = uint64(-int64(dst))
			case aluMOV:
				out = src
			default:
				t.Fatalf("alu op %#x not interpreted", in.Op)
			}
			if class == classALU {
				out = uint64(uint32(out))
			}
			regs[in.Dst] = out

		case classLD:
			if !in.IsWide() {
				t.Fatalf("ld op %#x not interpreted", in.Op)
			}
			lo := uint64(uint32(in.Imm))
			hi := uint64(uint32(insns[pc+1].Imm))
			regs[in.Dst] = hi<<32 | lo
			pc++

		case classLDX:
			n := memBytes(in.Op & 0x18)
			regs[in.Dst] = load(regs[in.Src]+uint64(int64(in.Off)), n)

		case classSTX:
			n := memBytes(in.Op & 0x18)
			store(regs[in.Dst]+uint64(int64(in.Off)), n, regs[in.Src])

		case classST:
			n := memBytes(in.Op & 0x18)
			store(regs[in.Dst]+uint64(int64(in.Off)), n, uint64(uint32(in.Imm)))

		case classJMP:
			op := in.Op & 0xf0
			if op == jmpEXIT {
				return regs[r0]
			}
			if op == jmpCALL {
				t.Fatal("call not supported by the interpreter")
			}
			src := uint64(in.Imm)
			if in.Op&srcX != 0 {
				src = regs[in.Src]
			}
			dst := regs[in.Dst]
			taken := false
			switch op {
			case jmpJA:
				taken = true
			case jmpJEQ:
				taken = dst == src
			case jmpJNE:
				taken = dst != src
			case jmpJGT:
				taken = dst > src
			case jmpJGE:
				taken = dst >= src
			case jmpJLT:
				taken = dst < src
			case jmpJLE:
				taken = dst <= src
			case jmpJSGT:
				taken = int64(dst) > int64(src)
			case jmpJSGE:
				taken = int64(dst) >= int64(src)
			case jmpJSLT:
				taken = int64(dst) < int64(src)
			case jmpJSLE:
				taken = int64(dst) <= int64(src)
			case jmpJSET:
				taken = dst&src != 0
			default:
				t.Fatalf("jump op %#x not interpreted", in.Op)
			}
			if taken {
				pc += int(in.Off)
			}

		default:
			t.Fatalf("class %#x not interpreted", class)
		}
	}
}

func TestLower_Arithmetic(t *testing.T) {
	res := lowerModule(t, `
define i64 @calc(i64 %x, i64 %y) {
entry:
	%s = add i64 %x, %y
	%d = mul i64 %s, 3
	%r = sub i64 %d, 1
	ret i64 %r
}
`, Features{})
	fn := findFunction(t, res, "calc")
	if got := run(t, fn.Insns, 4, 6); got != 29 {
		t.Errorf("calc(4, 6) = %d, want 29", got)
	}
}

func TestLower_BranchAndPhi(t *testing.T) {
	// sum of 1..n with a phi-carried loop
	res := lowerModule(t, `
define i64 @sum(i64 %n) {
entry:
	br label %loop
loop:
	%i = phi i64 [ 0, %entry ], [ %inext, %loop ]
	%acc = phi i64 [ 0, %entry ], [ %accnext, %loop ]
	%inext = add i64 %i, 1
	%accnext = add i64 %acc, %inext
	%done = icmp uge i64 %inext, %n
	br i1 %done, label %out, label %loop
out:
	ret i64 %accnext
}
`, Features{ExtendedJumps: true})
	fn := findFunction(t, res, "sum")
	if got := run(t, fn.Insns, 5); got != 15 {
		t.Errorf("sum(5) = %d, want 15", got)
	}
}

func TestLower_PhiSwap(t *testing.T) {
	// two phis of one block exchange values each iteration; the copy-out
	// must read both old values before writing either slot
	res := lowerModule(t, `
define i64 @swap(i64 %n) {
entry:
	br label %loop
loop:
	%i = phi i64 [ 0, %entry ], [ %inext, %loop ]
	%a = phi i64 [ 1, %entry ], [ %b, %loop ]
	%b = phi i64 [ 2, %entry ], [ %a, %loop ]
	%inext = add i64 %i, 1
	%done = icmp uge i64 %inext, %n
	br i1 %done, label %out, label %loop
out:
	ret i64 %b
}
`, Features{ExtendedJumps: true})
	fn := findFunction(t, res, "swap")
	// one back edge: b takes a's old value, not the freshly written one
	if got := run(t, fn.Insns, 2); got != 1 {
		t.Errorf("swap(2) = %d, want 1", got)
	}
	// two back edges trade the pair back
	if got := run(t, fn.Insns, 3); got != 2 {
		t.Errorf("swap(3) = %d, want 2", got)
	}
}

func TestLower_UnsignedCompareWithoutExtendedJumps(t *testing.T) {
	src := `
define i64 @min(i64 %a, i64 %b) {
entry:
	%lt = icmp ult i64 %a, %b
	%r = select i1 %lt, i64 %a, i64 %b
	ret i64 %r
}
`
	for _, feats := range []Features{{}, {ExtendedJumps: true}} {
		fn := findFunction(t, lowerModule(t, src, feats), "min")
		if got := run(t, fn.Insns, 3, 9); got != 3 {
			t.Errorf("min(3, 9) = %d with feats %+v", got, feats)
		}
		if got := run(t, fn.Insns, 9, 3); got != 3 {
			t.Errorf("min(9, 3) = %d with feats %+v", got, feats)
		}
	}

	// v1 output must not contain the extended jump family
	fn := findFunction(t, lowerModule(t, src, Features{}), "min")
	for _, in := range fn.Insns {
		if in.Op&0x07 == classJMP {
			switch in.Op & 0xf0 {
			case jmpJLT, jmpJLE, jmpJSLT, jmpJSLE:
				t.Errorf("extended jump %#x emitted without the feature", in.Op)
			}
		}
	}
}

func TestLower_SignedCompare(t *testing.T) {
	res := lowerModule(t, `
define i64 @isneg(i32 %x) {
entry:
	%neg = icmp slt i32 %x, 0
	%r = zext i1 %neg to i64
	ret i64 %r
}
`, Features{ExtendedJumps: true})
	fn := findFunction(t, res, "isneg")
	if got := run(t, fn.Insns, uint64(0xffffffff)); got != 1 { // -1 as u32
		t.Errorf("isneg(-1) = %d, want 1", got)
	}
	if got := run(t, fn.Insns, 5); got != 0 {
		t.Errorf("isneg(5) = %d, want 0", got)
	}
}

func TestLower_AllocaLoadStore(t *testing.T) {
	res := lowerModule(t, `
%pair = type { i32, i64 }

define i64 @roundtrip(i64 %v) {
entry:
	%p = alloca %pair
	%f1 = getelementptr %pair, %pair* %p, i64 0, i32 1
	store i64 %v, i64* %f1
	%r = load i64, i64* %f1
	ret i64 %r
}
`, Features{})
	fn := findFunction(t, res, "roundtrip")
	if got := run(t, fn.Insns, 77); got != 77 {
		t.Errorf("roundtrip(77) = %d, want 77", got)
	}
}

func TestLower_HelperCall(t *testing.T) {
	res := lowerModule(t, `
define i64 @prog() {
entry:
	%f = inttoptr i64 5 to i64 (i64)*
	%r = call i64 %f(i64 0)
	ret i64 %r
}
`, Features{})
	fn := findFunction(t, res, "prog")
	found := false
	for _, in := range fn.Insns {
		if in.Op == classJMP|jmpCALL && in.Src == 0 {
			if in.Imm != 5 {
				t.Errorf("helper call imm = %d, want 5", in.Imm)
			}
			found = true
		}
	}
	if !found {
		t.Error("no helper call emitted")
	}
}

func TestLower_CrossSectionCall(t *testing.T) {
	res := lowerModule(t, `
define internal i64 @helper_fn(i64 %x) {
entry:
	%r = add i64 %x, 1
	ret i64 %r
}

define i64 @prog(i64 %ctx) section "xdp" {
entry:
	%r = call i64 @helper_fn(i64 %ctx)
	ret i64 %r
}
`, Features{})

	var call *Reloc
	for i := range res.Relocs {
		if res.Relocs[i].Call {
			call = &res.Relocs[i]
		}
	}
	if call == nil {
		t.Fatal("no call relocation for cross-section call")
	}
	if call.Section != "xdp" || call.Symbol != "helper_fn" {
		t.Errorf("relocation = %+v", call)
	}
}

func TestLower_SameSectionCallResolved(t *testing.T) {
	res := lowerModule(t, `
define internal i64 @callee(i64 %x) {
entry:
	ret i64 %x
}

define i64 @caller(i64 %v) {
entry:
	%r = call i64 @callee(i64 %v)
	ret i64 %r
}
`, Features{})
	for _, rel := range res.Relocs {
		if rel.Call {
			t.Fatalf("same-section call left a relocation: %+v", rel)
		}
	}

	fn := findFunction(t, res, "caller")
	callee := findFunction(t, res, "callee")
	base := int32(fn.Off / InsnSize)
	for idx, in := range fn.Insns {
		if in.Op == classJMP|jmpCALL && in.Src == pseudoCall {
			want := int32(callee.Off/InsnSize) - (base + int32(idx)) - 1
			if in.Imm != want {
				t.Errorf("pseudo call imm = %d, want %d", in.Imm, want)
			}
			return
		}
	}
	t.Fatal("no pseudo call emitted")
}

func TestLower_GlobalAddressReloc(t *testing.T) {
	res := lowerModule(t, `
@counter = global i64 0

define i64 @prog() {
entry:
	%v = load i64, i64* @counter
	ret i64 %v
}
`, Features{})
	found := false
	for _, rel := range res.Relocs {
		if !rel.Call && rel.Symbol == "counter" {
			found = true
		}
	}
	if !found {
		t.Fatal("no address relocation for global reference")
	}

	// zero-initialized global lands in .bss
	var bss *DataSection
	for _, d := range res.Data {
		if d.Name == ".bss" {
			bss = d
		}
	}
	if bss == nil || !bss.NoBits {
		t.Fatal(".bss section not emitted")
	}
	if len(bss.Syms) != 1 || bss.Syms[0].Name != "counter" || bss.Syms[0].Size != 8 {
		t.Errorf("bss symbols = %+v", bss.Syms)
	}
}

func TestLower_DataSections(t *testing.T) {
	res := lowerModule(t, `
@limit = constant i32 100
@table = global [4 x i16] [i16 1, i16 2, i16 3, i16 4]
`, Features{})

	byName := make(map[string]*DataSection)
	for _, d := range res.Data {
		byName[d.Name] = d
	}

	ro := byName[".rodata"]
	if ro == nil {
		t.Fatal(".rodata not emitted")
	}
	if len(ro.Data) != 4 || ro.Data[0] != 100 {
		t.Errorf(".rodata bytes = %v", ro.Data)
	}

	data := byName[".data"]
	if data == nil {
		t.Fatal(".data not emitted")
	}
	want := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	if len(data.Data) != len(want) {
		t.Fatalf(".data = %v, want %v", data.Data, want)
	}
	for i := range want {
		if data.Data[i] != want[i] {
			t.Fatalf(".data = %v, want %v", data.Data, want)
		}
	}
}

func TestLower_StackLimit(t *testing.T) {
	_, err := Lower(parse(t, `
define i64 @big() {
entry:
	%buf = alloca [600 x i8]
	%p = ptrtoint [600 x i8]* %buf to i64
	ret i64 %p
}
`), Features{})
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseCodegen, Kind: errors.KindCodegenError}) {
		t.Fatalf("err = %v, want codegen error", err)
	}
}

func TestLower_SignedDivisionRejected(t *testing.T) {
	_, err := Lower(parse(t, `
define i64 @f(i64 %x) {
entry:
	%r = sdiv i64 %x, 3
	ret i64 %r
}
`), Features{})
	if err == nil {
		t.Fatal("sdiv lowered without error")
	}
	var cerr *errors.Error
	if !stderrors.As(err, &cerr) || cerr.Symbol != "f" {
		t.Errorf("error does not name the function: %v", err)
	}
}

func TestInsn_Encode(t *testing.T) {
	in := Insn{Op: classALU64 | aluADD | srcX, Dst: r1, Src: r2, Off: -8, Imm: 7}
	b := in.Encode(nil)
	if len(b) != InsnSize {
		t.Fatalf("encoded length = %d", len(b))
	}
	if b[0] != classALU64|aluADD|srcX {
		t.Errorf("opcode byte = %#x", b[0])
	}
	if b[1] != r2<<4|r1 {
		t.Errorf("register byte = %#x", b[1])
	}
	if b[2] != 0xf8 || b[3] != 0xff {
		t.Errorf("offset bytes = %#x %#x", b[2], b[3])
	}
	if b[4] != 7 {
		t.Errorf("imm byte = %#x", b[4])
	}
}
