package obj

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/vadorovsky/bpf-linker/errors"
	"github.com/vadorovsky/bpf-linker/linker/internal/codegen"
)

// BPF relocation types. debug/elf carries the machine constant but not
// the relocations, so they are spelled out here.
const (
	// rBPF64_64 patches the 64-bit immediate of an lddw pair with a
	// symbol address.
	rBPF64_64 = 1
	// rBPF64_32 patches the 32-bit immediate of a call instruction
	// with a function's instruction offset.
	rBPF64_32 = 10
)

const (
	ehSize    = 64
	shEntSize = 64
	symSize   = 24
	relSize   = 16
)

type section struct {
	name    string
	typ     elf.SectionType
	flags   elf.SectionFlag
	data    []byte
	size    uint64
	link    uint32
	info    uint32
	align   uint64
	entsize uint64
}

type symbol struct {
	name  string
	info  uint8
	shndx uint16
	value uint64
	size  uint64
}

// Build serializes the lowered module, with optional type-info
// payloads, into a relocatable object.
func Build(res *codegen.Result, btfData, extData []byte) ([]byte, error) {
	b := &builder{
		secIdx: make(map[string]uint16),
		symIdx: make(map[string]uint32),
	}
	b.sections = append(b.sections, section{typ: elf.SHT_NULL})

	b.addCode(res)
	b.addData(res)
	if len(btfData) > 0 {
		b.addSection(section{name: ".BTF", typ: elf.SHT_PROGBITS, data: btfData, align: 4})
		if len(extData) > 0 {
			b.addSection(section{name: ".BTF.ext", typ: elf.SHT_PROGBITS, data: extData, align: 4})
		}
	}
	b.buildSymtab(res)
	if err := b.addRelocs(res); err != nil {
		return nil, err
	}
	b.finishSymtab()

	return b.serialize(), nil
}

type builder struct {
	sections []section
	secIdx   map[string]uint16

	syms      []symbol
	symIdx    map[string]uint32
	firstGlob uint32
}

func (b *builder) addSection(s section) uint16 {
	idx := uint16(len(b.sections))
	b.secIdx[s.name] = idx
	b.sections = append(b.sections, s)
	return idx
}

func (b *builder) addCode(res *codegen.Result) {
	for _, sec := range res.Code {
		var data []byte
		for _, in := range sec.Insns() {
			data = in.Encode(data)
		}
		b.addSection(section{
			name:  sec.Name,
			typ:   elf.SHT_PROGBITS,
			flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR,
			data:  data,
			align: 8,
		})
	}
}

func (b *builder) addData(res *codegen.Result) {
	for _, sec := range res.Data {
		flags := elf.SHF_ALLOC
		if sec.Name != ".rodata" {
			flags |= elf.SHF_WRITE
		}
		s := section{
			name:  sec.Name,
			typ:   elf.SHT_PROGBITS,
			flags: flags,
			data:  sec.Data,
			align: 8,
		}
		if sec.NoBits {
			s.typ = elf.SHT_NOBITS
			s.size = uint64(len(sec.Data))
			s.data = nil
		}
		b.addSection(s)
	}
}

// buildSymtab lays out the symbol table: the null entry, one section
// symbol per allocatable section, every static definition, then every
// global one. sh_info must point at the first non-local symbol, so the
// split is fixed before indices are handed to relocations.
func (b *builder) buildSymtab(res *codegen.Result) {
	b.syms = append(b.syms, symbol{})
	for i := 1; i < len(b.sections); i++ {
		s := &b.sections[i]
		if s.flags&elf.SHF_ALLOC == 0 {
			continue
		}
		b.syms = append(b.syms, symbol{
			name:  s.name,
			info:  symInfo(elf.STB_LOCAL, elf.STT_SECTION),
			shndx: uint16(i),
		})
	}

	type def struct {
		sym    symbol
		static bool
	}
	var defs []def
	for _, sec := range res.Code {
		shndx := b.secIdx[sec.Name]
		for _, f := range sec.Funcs {
			defs = append(defs, def{
				sym: symbol{
					name:  f.Name,
					shndx: shndx,
					value: uint64(f.Off),
					size:  uint64(len(f.Insns)) * codegen.InsnSize,
				},
				static: f.Static,
			})
		}
	}
	for _, sec := range res.Data {
		shndx := b.secIdx[sec.Name]
		for _, s := range sec.Syms {
			defs = append(defs, def{
				sym: symbol{
					name:  s.Name,
					shndx: shndx,
					value: uint64(s.Off),
					size:  uint64(s.Size),
				},
				static: s.Static,
			})
		}
	}

	add := func(d def) {
		bind := elf.STB_GLOBAL
		if d.static {
			bind = elf.STB_LOCAL
		}
		typ := elf.STT_FUNC
		if b.sections[d.sym.shndx].flags&elf.SHF_EXECINSTR == 0 {
			typ = elf.STT_OBJECT
		}
		d.sym.info = symInfo(bind, typ)
		b.symIdx[d.sym.name] = uint32(len(b.syms))
		b.syms = append(b.syms, d.sym)
	}
	for _, d := range defs {
		if d.static {
			add(d)
		}
	}
	b.firstGlob = uint32(len(b.syms))
	for _, d := range defs {
		if !d.static {
			add(d)
		}
	}
}

func (b *builder) addRelocs(res *codegen.Result) error {
	bySection := make(map[string][]codegen.Reloc)
	var order []string
	for _, r := range res.Relocs {
		if _, ok := bySection[r.Section]; !ok {
			order = append(order, r.Section)
		}
		bySection[r.Section] = append(bySection[r.Section], r)
	}

	for _, name := range order {
		target, ok := b.secIdx[name]
		if !ok {
			return errors.New(errors.PhaseWrite, errors.KindWriteError).
				Detail("relocation against unknown section %q", name).
				Build()
		}
		var data []byte
		for _, r := range bySection[name] {
			idx, ok := b.symIdx[r.Symbol]
			if !ok {
				// weak externals survive the merge undefined
				idx = uint32(len(b.syms))
				b.symIdx[r.Symbol] = idx
				b.syms = append(b.syms, symbol{
					name: r.Symbol,
					info: symInfo(elf.STB_GLOBAL, elf.STT_NOTYPE),
				})
			}
			typ := uint64(rBPF64_64)
			if r.Call {
				typ = rBPF64_32
			}
			var rec [relSize]byte
			binary.LittleEndian.PutUint64(rec[0:8], uint64(r.InsnIdx)*codegen.InsnSize)
			binary.LittleEndian.PutUint64(rec[8:16], uint64(idx)<<32|typ)
			data = append(data, rec[:]...)
		}
		b.sections = append(b.sections, section{
			name:    ".rel" + name,
			typ:     elf.SHT_REL,
			data:    data,
			info:    uint32(target),
			align:   8,
			entsize: relSize,
		})
	}
	return nil
}

// finishSymtab appends .symtab, .strtab and .shstrtab once every
// symbol exists, and backfills sh_link on the relocation sections.
func (b *builder) finishSymtab() {
	symtabIdx := uint32(len(b.sections))
	strtabIdx := symtabIdx + 1
	for i := range b.sections {
		if b.sections[i].typ == elf.SHT_REL {
			b.sections[i].link = symtabIdx
		}
	}

	strs := newStrtab()
	var symData []byte
	for _, s := range b.syms {
		var rec [symSize]byte
		binary.LittleEndian.PutUint32(rec[0:4], strs.add(s.name))
		rec[4] = s.info
		binary.LittleEndian.PutUint16(rec[6:8], uint16(s.shndx))
		binary.LittleEndian.PutUint64(rec[8:16], s.value)
		binary.LittleEndian.PutUint64(rec[16:24], s.size)
		symData = append(symData, rec[:]...)
	}

	b.sections = append(b.sections, section{
		name:    ".symtab",
		typ:     elf.SHT_SYMTAB,
		data:    symData,
		link:    strtabIdx,
		info:    b.firstGlob,
		align:   8,
		entsize: symSize,
	})
	b.sections = append(b.sections, section{
		name: ".strtab",
		typ:  elf.SHT_STRTAB,
		data: strs.bytes(),
	})
	b.sections = append(b.sections, section{
		name: ".shstrtab",
		typ:  elf.SHT_STRTAB,
	})
}

func (b *builder) serialize() []byte {
	shstr := newStrtab()
	nameOffs := make([]uint32, len(b.sections))
	for i := range b.sections {
		nameOffs[i] = shstr.add(b.sections[i].name)
	}
	b.sections[len(b.sections)-1].data = shstr.bytes()

	// place section bodies after the header, 8-aligned
	offs := make([]uint64, len(b.sections))
	off := uint64(ehSize)
	for i := range b.sections {
		s := &b.sections[i]
		if s.typ == elf.SHT_NULL || s.typ == elf.SHT_NOBITS || len(s.data) == 0 {
			offs[i] = off
			continue
		}
		off = align8(off)
		offs[i] = off
		off += uint64(len(s.data))
	}
	shoff := align8(off)

	var out bytes.Buffer
	writeHeader(&out, shoff, uint16(len(b.sections)), uint16(len(b.sections)-1))
	for i := range b.sections {
		s := &b.sections[i]
		if s.typ == elf.SHT_NULL || s.typ == elf.SHT_NOBITS || len(s.data) == 0 {
			continue
		}
		pad(&out, offs[i])
		out.Write(s.data)
	}
	pad(&out, shoff)

	for i := range b.sections {
		s := &b.sections[i]
		size := uint64(len(s.data))
		if s.typ == elf.SHT_NOBITS {
			size = s.size
		}
		var rec [shEntSize]byte
		binary.LittleEndian.PutUint32(rec[0:4], nameOffs[i])
		binary.LittleEndian.PutUint32(rec[4:8], uint32(s.typ))
		binary.LittleEndian.PutUint64(rec[8:16], uint64(s.flags))
		// sh_addr stays zero in a relocatable object
		binary.LittleEndian.PutUint64(rec[24:32], offs[i])
		binary.LittleEndian.PutUint64(rec[32:40], size)
		binary.LittleEndian.PutUint32(rec[40:44], s.link)
		binary.LittleEndian.PutUint32(rec[44:48], s.info)
		binary.LittleEndian.PutUint64(rec[48:56], s.align)
		binary.LittleEndian.PutUint64(rec[56:64], s.entsize)
		out.Write(rec[:])
	}
	return out.Bytes()
}

func writeHeader(out *bytes.Buffer, shoff uint64, shnum, shstrndx uint16) {
	var h [ehSize]byte
	copy(h[0:4], elf.ELFMAG)
	h[4] = byte(elf.ELFCLASS64)
	h[5] = byte(elf.ELFDATA2LSB)
	h[6] = byte(elf.EV_CURRENT)
	binary.LittleEndian.PutUint16(h[16:18], uint16(elf.ET_REL))
	binary.LittleEndian.PutUint16(h[18:20], uint16(elf.EM_BPF))
	binary.LittleEndian.PutUint32(h[20:24], uint32(elf.EV_CURRENT))
	binary.LittleEndian.PutUint64(h[40:48], shoff)
	binary.LittleEndian.PutUint16(h[52:54], ehSize)
	binary.LittleEndian.PutUint16(h[58:60], shEntSize)
	binary.LittleEndian.PutUint16(h[60:62], shnum)
	binary.LittleEndian.PutUint16(h[62:64], shstrndx)
	out.Write(h[:])
}

func symInfo(bind elf.SymBind, typ elf.SymType) uint8 {
	return uint8(bind)<<4 | uint8(typ)&0xf
}

func align8(off uint64) uint64 {
	return (off + 7) &^ 7
}

func pad(out *bytes.Buffer, to uint64) {
	for uint64(out.Len()) < to {
		out.WriteByte(0)
	}
}
