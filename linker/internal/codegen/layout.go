package codegen

import (
	"encoding/binary"
	"fmt"

	llir "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"

	"github.com/vadorovsky/bpf-linker/errors"
)

// Reloc is one relocation the object writer must record.
type Reloc struct {
	// Section is the code section holding the patched instruction.
	Section string
	// InsnIdx is the slot index of the instruction within the section.
	InsnIdx uint32
	Symbol  string
	// Call distinguishes a bpf-to-bpf call patch from a 64-bit address
	// load.
	Call bool
}

// CodeSection is one output section of lowered functions.
type CodeSection struct {
	Name  string
	Funcs []*Function
}

// Insns returns the section's instruction stream in function order.
func (s *CodeSection) Insns() []Insn {
	var out []Insn
	for _, f := range s.Funcs {
		out = append(out, f.Insns...)
	}
	return out
}

// DataSym is one variable placed in a data section.
type DataSym struct {
	Name   string
	Off    uint32
	Size   uint32
	Static bool
}

// DataSection is one output data section.
type DataSection struct {
	Name string
	Data []byte
	Syms []DataSym
	// NoBits marks zero-initialized storage that occupies no file
	// space (.bss).
	NoBits bool
}

// Result is the lowered module, ready for the object writer.
type Result struct {
	Code   []*CodeSection
	Data   []*DataSection
	Relocs []Reloc
}

// Lower compiles every defined function and lays out every defined
// global, resolving function-local calls and collecting relocations for
// everything that crosses a section boundary.
func Lower(m *llir.Module, feats Features) (*Result, error) {
	res := &Result{}
	sections := make(map[string]*CodeSection)
	slotOf := make(map[string]struct {
		section string
		slot    uint32
	})

	section := func(name string) *CodeSection {
		s, ok := sections[name]
		if !ok {
			s = &CodeSection{Name: name}
			sections[name] = s
			res.Code = append(res.Code, s)
		}
		return s
	}

	for _, f := range m.Funcs {
		if len(f.Blocks) == 0 {
			continue
		}
		fn, err := newFuncLowerer(f, feats).lower()
		if err != nil {
			return nil, err
		}
		if fn.Section == "" {
			fn.Section = ".text"
		}
		s := section(fn.Section)
		slot := uint32(0)
		for _, prev := range s.Funcs {
			slot += uint32(len(prev.Insns))
		}
		fn.Off = slot * InsnSize
		for i := range fn.Lines {
			fn.Lines[i].InsnOff += fn.Off
		}
		s.Funcs = append(s.Funcs, fn)
		slotOf[fn.Name] = struct {
			section string
			slot    uint32
		}{fn.Section, slot}
	}

	// resolve pseudo-call immediates and emit relocations
	for _, s := range res.Code {
		for _, fn := range s.Funcs {
			base := fn.Off / InsnSize
			for _, c := range fn.calls {
				at := base + uint32(c.insnIdx)
				target, ok := slotOf[c.callee]
				if !ok {
					return nil, errors.Codegen(fn.Name, fmt.Sprintf("call to unlowered function %s", c.callee))
				}
				if target.section == s.Name {
					fn.Insns[c.insnIdx].Imm = int32(target.slot) - int32(at) - 1
					continue
				}
				res.Relocs = append(res.Relocs, Reloc{
					Section: s.Name,
					InsnIdx: at,
					Symbol:  c.callee,
					Call:    true,
				})
			}
			for _, r := range fn.relocs {
				res.Relocs = append(res.Relocs, Reloc{
					Section: s.Name,
					InsnIdx: base + uint32(r.insnIdx),
					Symbol:  r.symbol,
				})
			}
		}
	}

	if err := layoutGlobals(m, res); err != nil {
		return nil, err
	}
	return res, nil
}

func layoutGlobals(m *llir.Module, res *Result) error {
	sections := make(map[string]*DataSection)
	section := func(name string, nobits bool) *DataSection {
		s, ok := sections[name]
		if !ok {
			s = &DataSection{Name: name, NoBits: nobits}
			sections[name] = s
			res.Data = append(res.Data, s)
		}
		if !nobits {
			s.NoBits = false
		}
		return s
	}

	for _, g := range m.Globals {
		if g.Init == nil {
			// declaration; the merger guarantees it is never defined
			// here, so there is nothing to place
			continue
		}
		size, err := sizeOf(g.ContentType)
		if err != nil {
			return errors.Codegen(g.Name(), fmt.Sprintf("global layout: %v", err))
		}
		align, err := alignOf(g.ContentType)
		if err != nil {
			return errors.Codegen(g.Name(), fmt.Sprintf("global layout: %v", err))
		}

		zero := isZeroInit(g.Init)
		name := g.Section
		if name == "" {
			switch {
			case zero:
				name = ".bss"
			case g.Immutable:
				name = ".rodata"
			default:
				name = ".data"
			}
		}
		s := section(name, zero)

		off := alignUp(uint64(len(s.Data)), align)
		data := make([]byte, off+size)
		copy(data, s.Data)
		if !zero {
			if err := encodeConst(g.Init, data[off:off+size]); err != nil {
				return errors.Codegen(g.Name(), fmt.Sprintf("global initializer: %v", err))
			}
		}
		s.Data = data
		s.Syms = append(s.Syms, DataSym{
			Name:   g.Name(),
			Off:    uint32(off),
			Size:   uint32(size),
			Static: g.Linkage == enum.LinkageInternal || g.Linkage == enum.LinkagePrivate,
		})
	}
	return nil
}

func isZeroInit(c constant.Constant) bool {
	switch c := c.(type) {
	case *constant.ZeroInitializer, *constant.Undef:
		return true
	case *constant.Int:
		return c.X.Sign() == 0
	}
	return false
}

// encodeConst writes the little-endian memory image of a constant into
// dst, which must already have the type's exact size.
func encodeConst(c constant.Constant, dst []byte) error {
	switch c := c.(type) {
	case *constant.Int:
		v := truncatedUint(bigToUint64(c.X), c.Typ.BitSize)
		switch len(dst) {
		case 1:
			dst[0] = byte(v)
		case 2:
			binary.LittleEndian.PutUint16(dst, uint16(v))
		case 4:
			binary.LittleEndian.PutUint32(dst, uint32(v))
		case 8:
			binary.LittleEndian.PutUint64(dst, v)
		default:
			return fmt.Errorf("integer of %d bytes", len(dst))
		}
		return nil

	case *constant.Null, *constant.ZeroInitializer, *constant.Undef:
		return nil

	case *constant.CharArray:
		if len(c.X) > len(dst) {
			return fmt.Errorf("string of %d bytes overflows %d byte field", len(c.X), len(dst))
		}
		copy(dst, c.X)
		return nil

	case *constant.Array:
		if len(c.Elems) == 0 {
			return nil
		}
		elemSize, err := sizeOf(c.Typ.ElemType)
		if err != nil {
			return err
		}
		for i, elem := range c.Elems {
			off := uint64(i) * elemSize
			if err := encodeConst(elem, dst[off:off+elemSize]); err != nil {
				return err
			}
		}
		return nil

	case *constant.Struct:
		for i, field := range c.Fields {
			off, err := fieldOffset(c.Typ, uint64(i))
			if err != nil {
				return err
			}
			fs, err := sizeOf(field.Type())
			if err != nil {
				return err
			}
			if err := encodeConst(field, dst[off:off+fs]); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported initializer %T", c)
}
