package codegen

import (
	"encoding/binary"
	"fmt"
)

// Instruction classes.
const (
	classLD    = 0x00
	classLDX   = 0x01
	classST    = 0x02
	classSTX   = 0x03
	classALU   = 0x04
	classJMP   = 0x05
	classJMP32 = 0x06
	classALU64 = 0x07
)

// Operand sizes, or'ed into load/store opcodes.
const (
	sizeW  = 0x00
	sizeH  = 0x08
	sizeB  = 0x10
	sizeDW = 0x18
)

// Addressing modes.
const (
	modeIMM = 0x00
	modeMEM = 0x60
)

// ALU operations.
const (
	aluADD  = 0x00
	aluSUB  = 0x10
	aluMUL  = 0x20
	aluDIV  = 0x30
	aluOR   = 0x40
	aluAND  = 0x50
	aluLSH  = 0x60
	aluRSH  = 0x70
	aluNEG  = 0x80
	aluMOD  = 0x90
	aluXOR  = 0xa0
	aluMOV  = 0xb0
	aluARSH = 0xc0
)

// Jump operations.
const (
	jmpJA   = 0x00
	jmpJEQ  = 0x10
	jmpJGT  = 0x20
	jmpJGE  = 0x30
	jmpJSET = 0x40
	jmpJNE  = 0x50
	jmpJSGT = 0x60
	jmpJSGE = 0x70
	jmpCALL = 0x80
	jmpEXIT = 0x90
	jmpJLT  = 0xa0
	jmpJLE  = 0xb0
	jmpJSLT = 0xc0
	jmpJSLE = 0xd0
)

// Operand source flag.
const (
	srcK = 0x00 // immediate
	srcX = 0x08 // register
)

// pseudoCall marks the src register of a bpf-to-bpf call.
const pseudoCall = 1

// Registers. R10 is the read-only frame pointer.
const (
	r0 = iota
	r1
	r2
	r3
	r4
	r5
	r6
	r7
	r8
	r9
	r10
)

// InsnSize is the byte size of one encoded instruction slot.
const InsnSize = 8

// Insn is one BPF instruction. A 64-bit immediate load occupies two
// slots; the second slot carries the upper half in Imm with every other
// field zero.
type Insn struct {
	Op  uint8
	Dst uint8
	Src uint8
	Off int16
	Imm int32
}

// IsWide reports whether the instruction occupies two slots.
func (i Insn) IsWide() bool {
	return i.Op == classLD|modeIMM|sizeDW
}

// Encode appends the instruction's little-endian wire form to b.
func (i Insn) Encode(b []byte) []byte {
	var rec [InsnSize]byte
	rec[0] = i.Op
	rec[1] = i.Src<<4 | i.Dst&0x0f
	binary.LittleEndian.PutUint16(rec[2:4], uint16(i.Off))
	binary.LittleEndian.PutUint32(rec[4:8], uint32(i.Imm))
	return append(b, rec[:]...)
}

// ld64 builds the two-slot load of a 64-bit immediate into dst.
func ld64(dst uint8, v uint64) [2]Insn {
	return [2]Insn{
		{Op: classLD | modeIMM | sizeDW, Dst: dst, Imm: int32(uint32(v))},
		{Imm: int32(uint32(v >> 32))},
	}
}

func mov64Imm(dst uint8, v int32) Insn {
	return Insn{Op: classALU64 | aluMOV | srcK, Dst: dst, Imm: v}
}

func mov64Reg(dst, src uint8) Insn {
	return Insn{Op: classALU64 | aluMOV | srcX, Dst: dst, Src: src}
}

func alu64Imm(op uint8, dst uint8, v int32) Insn {
	return Insn{Op: classALU64 | op | srcK, Dst: dst, Imm: v}
}

func alu64Reg(op uint8, dst, src uint8) Insn {
	return Insn{Op: classALU64 | op | srcX, Dst: dst, Src: src}
}

func loadMem(sz uint8, dst, src uint8, off int16) Insn {
	return Insn{Op: classLDX | modeMEM | sz, Dst: dst, Src: src, Off: off}
}

func storeMem(sz uint8, dst uint8, off int16, src uint8) Insn {
	return Insn{Op: classSTX | modeMEM | sz, Dst: dst, Src: src, Off: off}
}

func jumpImm(op uint8, dst uint8, v int32, off int16) Insn {
	return Insn{Op: classJMP | op | srcK, Dst: dst, Imm: v, Off: off}
}

func jumpReg(op uint8, dst, src uint8, off int16) Insn {
	return Insn{Op: classJMP | op | srcX, Dst: dst, Src: src, Off: off}
}

func jumpAlways(off int16) Insn {
	return Insn{Op: classJMP | jmpJA, Off: off}
}

func exit() Insn {
	return Insn{Op: classJMP | jmpEXIT}
}

var aluNames = map[uint8]string{
	aluADD: "add", aluSUB: "sub", aluMUL: "mul", aluDIV: "div",
	aluOR: "or", aluAND: "and", aluLSH: "lsh", aluRSH: "rsh",
	aluNEG: "neg", aluMOD: "mod", aluXOR: "xor", aluMOV: "mov",
	aluARSH: "arsh",
}

var jmpNames = map[uint8]string{
	jmpJEQ: "jeq", jmpJGT: "jgt", jmpJGE: "jge", jmpJSET: "jset",
	jmpJNE: "jne", jmpJSGT: "jsgt", jmpJSGE: "jsge", jmpJLT: "jlt",
	jmpJLE: "jle", jmpJSLT: "jslt", jmpJSLE: "jsle",
}

var sizeNames = map[uint8]string{
	sizeW: "w", sizeH: "h", sizeB: "b", sizeDW: "dw",
}

// String renders the instruction in a verifier-log style mnemonic form,
// used by the assembly listing output.
func (i Insn) String() string {
	class := i.Op & 0x07
	switch class {
	case classALU64, classALU:
		suffix := ""
		if class == classALU {
			suffix = "32"
		}
		name := aluNames[i.Op&0xf0]
		if name == "" {
			return fmt.Sprintf("raw %#02x", i.Op)
		}
		if i.Op&0xf0 == aluNEG {
			return fmt.Sprintf("neg%s r%d", suffix, i.Dst)
		}
		if i.Op&srcX != 0 {
			return fmt.Sprintf("%s%s r%d, r%d", name, suffix, i.Dst, i.Src)
		}
		return fmt.Sprintf("%s%s r%d, %d", name, suffix, i.Dst, i.Imm)

	case classJMP:
		switch i.Op & 0xf0 {
		case jmpJA:
			return fmt.Sprintf("ja %+d", i.Off)
		case jmpCALL:
			if i.Src == pseudoCall {
				return fmt.Sprintf("call pc%+d", i.Imm)
			}
			return fmt.Sprintf("call %d", i.Imm)
		case jmpEXIT:
			return "exit"
		}
		name := jmpNames[i.Op&0xf0]
		if name == "" {
			return fmt.Sprintf("raw %#02x", i.Op)
		}
		if i.Op&srcX != 0 {
			return fmt.Sprintf("%s r%d, r%d, %+d", name, i.Dst, i.Src, i.Off)
		}
		return fmt.Sprintf("%s r%d, %d, %+d", name, i.Dst, i.Imm, i.Off)

	case classLDX:
		return fmt.Sprintf("ldx%s r%d, [r%d%+d]", sizeNames[i.Op&0x18], i.Dst, i.Src, i.Off)
	case classSTX:
		return fmt.Sprintf("stx%s [r%d%+d], r%d", sizeNames[i.Op&0x18], i.Dst, i.Off, i.Src)
	case classST:
		return fmt.Sprintf("st%s [r%d%+d], %d", sizeNames[i.Op&0x18], i.Dst, i.Off, i.Imm)
	case classLD:
		if i.IsWide() {
			return fmt.Sprintf("lddw r%d, %#x", i.Dst, uint32(i.Imm))
		}
	}
	return fmt.Sprintf("raw %#02x", i.Op)
}
