package linker

import (
	"fmt"

	"github.com/vadorovsky/bpf-linker/linker/internal/codegen"
)

// Cpu selects the BPF processor variant code is generated for.
type Cpu int

const (
	// CpuGeneric is the baseline instruction set, safe on any kernel.
	CpuGeneric Cpu = iota
	// CpuProbe assumes the newest instruction families and lets the
	// loader probe support at load time.
	CpuProbe
	CpuV1
	CpuV2
	CpuV3
)

func (c Cpu) String() string {
	switch c {
	case CpuGeneric:
		return "generic"
	case CpuProbe:
		return "probe"
	case CpuV1:
		return "v1"
	case CpuV2:
		return "v2"
	case CpuV3:
		return "v3"
	}
	return fmt.Sprintf("cpu(%d)", int(c))
}

// CpuFromString parses a processor name as accepted by the --cpu flag.
func CpuFromString(s string) (Cpu, error) {
	switch s {
	case "", "generic":
		return CpuGeneric, nil
	case "probe":
		return CpuProbe, nil
	case "v1":
		return CpuV1, nil
	case "v2":
		return CpuV2, nil
	case "v3":
		return CpuV3, nil
	}
	return CpuGeneric, fmt.Errorf("unknown cpu %q", s)
}

// features maps the processor variant onto instruction families.
func (c Cpu) features() codegen.Features {
	switch c {
	case CpuV2:
		return codegen.Features{ExtendedJumps: true}
	case CpuV3, CpuProbe:
		return codegen.Features{ExtendedJumps: true, Jmp32: true}
	}
	// generic and v1 stay on the baseline set
	return codegen.Features{}
}

// OutputType selects what Link emits.
type OutputType int

const (
	// OutputObject is the relocatable ELF object (default).
	OutputObject OutputType = iota
	// OutputIR is the merged module as textual IR.
	OutputIR
	// OutputBitcode is the merged module in bitcode form.
	OutputBitcode
	// OutputAssembly is a readable BPF instruction listing.
	OutputAssembly
)

func (o OutputType) String() string {
	switch o {
	case OutputObject:
		return "obj"
	case OutputIR:
		return "llvm-ir"
	case OutputBitcode:
		return "llvm-bc"
	case OutputAssembly:
		return "asm"
	}
	return fmt.Sprintf("output(%d)", int(o))
}

// OutputTypeFromString parses an --emit value.
func OutputTypeFromString(s string) (OutputType, error) {
	switch s {
	case "", "obj":
		return OutputObject, nil
	case "llvm-ir":
		return OutputIR, nil
	case "llvm-bc":
		return OutputBitcode, nil
	case "asm":
		return OutputAssembly, nil
	}
	return OutputObject, fmt.Errorf("unknown output type %q", s)
}

// Options configures one link.
type Options struct {
	// Inputs are the paths to link, in command-line order. Each may be
	// a bitcode file, textual IR, or a static archive of either.
	Inputs []string

	// Export lists the symbols kept externally visible. When empty,
	// ExportRoot decides which functions are export roots.
	Export []string

	// ExportRoot reports whether a defined function is an entry point
	// when no explicit export set is given. Nil means the default
	// convention: any function placed in a named section via its
	// section attribute.
	ExportRoot func(name, section string) bool

	// Cpu gates the emitted instruction families.
	Cpu Cpu

	// OptLevel is the optimization level, 0 through 3.
	OptLevel int

	// Emit selects the artifact kind.
	Emit OutputType

	// Btf enables BTF and BTF.ext generation for object output.
	Btf bool

	// StrictDI promotes per-function debug-info failures to errors
	// instead of skipping the function's BTF.
	StrictDI bool

	// UnrollLoops raises the optimizer's simplification budget.
	UnrollLoops bool

	// IgnoreInlineNever strips noinline attributes before inlining.
	IgnoreInlineNever bool

	// DisableMemoryBuiltins drops memcpy, memmove, memset, memcmp and
	// bcmp from the implicit export set.
	DisableMemoryBuiltins bool

	// DumpModule, when set, names a directory that receives pre-opt.ll
	// and post-opt.ll dumps of the merged module.
	DumpModule string
}

// memoryBuiltins are kept visible by default so the loader can satisfy
// compiler-emitted calls to them.
var memoryBuiltins = []string{"memcpy", "memmove", "memset", "memcmp", "bcmp"}
