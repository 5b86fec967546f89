package btf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// Binary format constants, per the kernel's BTF encoding.
const (
	magic   uint16 = 0xeB9F
	version uint8  = 1

	headerLen    = 24
	extHeaderLen = 24

	funcInfoRecSize = 8
	lineInfoRecSize = 16
)

// Encode serializes the transformation result into ".BTF" and
// ".BTF.ext" section bytes. Both share one string table, embedded in
// the ".BTF" bytes, so the two must be produced together. Output is
// byte-identical for identical results.
func Encode(res *Result) (btfBytes, extBytes []byte, err error) {
	strs := NewStringTable()

	// intern every name first so the string table layout is fixed
	// before any record references it
	for _, typ := range res.Table.Types() {
		strs.Add(typ.Name)
		for _, m := range typ.Members {
			strs.Add(m.Name)
		}
		for _, p := range typ.Params {
			strs.Add(p.Name)
		}
		for _, en := range typ.Enums {
			strs.Add(en.Name)
		}
	}
	for _, fi := range res.Funcs {
		strs.Add(fi.Section)
	}
	for _, li := range res.Lines {
		strs.Add(li.Section)
		strs.Add(li.File)
	}

	typeBytes, err := encodeTypes(res.Table, strs)
	if err != nil {
		return nil, nil, err
	}

	var buf bytes.Buffer
	le := binary.LittleEndian

	var hdr [headerLen]byte
	le.PutUint16(hdr[0:2], magic)
	hdr[2] = version
	hdr[3] = 0 // flags
	le.PutUint32(hdr[4:8], headerLen)
	le.PutUint32(hdr[8:12], 0) // type_off
	le.PutUint32(hdr[12:16], uint32(len(typeBytes)))
	le.PutUint32(hdr[16:20], uint32(len(typeBytes))) // str_off
	le.PutUint32(hdr[20:24], uint32(strs.Len()))
	buf.Write(hdr[:])
	buf.Write(typeBytes)
	buf.Write(strs.Bytes())

	extBytes = encodeExt(res, strs)
	return buf.Bytes(), extBytes, nil
}

func encodeTypes(t *Table, strs *StringTable) ([]byte, error) {
	var buf bytes.Buffer
	le := binary.LittleEndian

	u32 := func(v uint32) {
		var b [4]byte
		le.PutUint32(b[:], v)
		buf.Write(b[:])
	}

	for i, typ := range t.Types() {
		nameOff, ok := strs.Lookup(typ.Name)
		if !ok {
			return nil, fmt.Errorf("type %d name %q not interned", i+1, typ.Name)
		}

		var vlen uint32
		var kindFlag uint32
		var sizeOrType uint32

		switch typ.Kind {
		case KindInt, KindFloat:
			sizeOrType = typ.Size
		case KindStruct, KindUnion:
			vlen = uint32(len(typ.Members))
			sizeOrType = typ.Size
		case KindEnum:
			vlen = uint32(len(typ.Enums))
			sizeOrType = typ.Size
		case KindDataSec:
			vlen = uint32(len(typ.Vars))
			sizeOrType = typ.Size
		case KindProto:
			vlen = uint32(len(typ.Params))
			sizeOrType = uint32(typ.Ref)
		case KindFunc:
			vlen = typ.Linkage
			sizeOrType = uint32(typ.Ref)
		case KindPtr, KindTypedef, KindVolatile, KindConst, KindRestrict, KindVar:
			sizeOrType = uint32(typ.Ref)
		case KindFwd:
			if typ.FwdUnion {
				kindFlag = 1
			}
		case KindArray:
			// size_or_type unused; the tail carries everything
		default:
			return nil, fmt.Errorf("type %d has unencodable kind %d", i+1, typ.Kind)
		}

		u32(nameOff)
		u32(kindFlag<<31 | uint32(typ.Kind)<<24 | vlen)
		u32(sizeOrType)

		switch typ.Kind {
		case KindInt:
			u32(uint32(typ.IntEncoding)<<24 | uint32(typ.IntOffset)<<16 | uint32(typ.IntBits))
		case KindArray:
			u32(uint32(typ.Elem))
			u32(uint32(typ.Index))
			u32(typ.NElems)
		case KindStruct, KindUnion:
			for _, m := range typ.Members {
				off, _ := strs.Lookup(m.Name)
				u32(off)
				u32(uint32(m.Type))
				u32(m.OffsetBits)
			}
		case KindEnum:
			for _, en := range typ.Enums {
				off, _ := strs.Lookup(en.Name)
				u32(off)
				u32(uint32(en.Value))
			}
		case KindProto:
			for _, p := range typ.Params {
				off, _ := strs.Lookup(p.Name)
				u32(off)
				u32(uint32(p.Type))
			}
		case KindVar:
			u32(typ.Linkage)
		case KindDataSec:
			for _, v := range typ.Vars {
				u32(uint32(v.Type))
				u32(v.Offset)
				u32(v.Size)
			}
		}
	}
	return buf.Bytes(), nil
}

// encodeExt produces the ".BTF.ext" bytes: func_info and line_info
// record blocks grouped by section, name offsets resolved against the
// shared string table.
func encodeExt(res *Result, strs *StringTable) []byte {
	le := binary.LittleEndian

	funcInfo := encodeExtBlock(funcInfoRecSize, groupFuncs(res.Funcs), strs, func(buf *bytes.Buffer, fi FuncInfo) {
		var b [funcInfoRecSize]byte
		le.PutUint32(b[0:4], fi.InsnOff)
		le.PutUint32(b[4:8], uint32(fi.Type))
		buf.Write(b[:])
	})
	lineInfo := encodeExtBlock(lineInfoRecSize, groupLines(res.Lines), strs, func(buf *bytes.Buffer, li LineInfo) {
		fileOff, _ := strs.Lookup(li.File)
		var b [lineInfoRecSize]byte
		le.PutUint32(b[0:4], li.InsnOff)
		le.PutUint32(b[4:8], fileOff)
		le.PutUint32(b[8:12], 0) // line_off: source text not carried
		le.PutUint32(b[12:16], li.Line<<10|li.Col&0x3ff)
		buf.Write(b[:])
	})

	var buf bytes.Buffer
	var hdr [extHeaderLen]byte
	le.PutUint16(hdr[0:2], magic)
	hdr[2] = version
	hdr[3] = 0
	le.PutUint32(hdr[4:8], extHeaderLen)
	le.PutUint32(hdr[8:12], 0)
	le.PutUint32(hdr[12:16], uint32(len(funcInfo)))
	le.PutUint32(hdr[16:20], uint32(len(funcInfo)))
	le.PutUint32(hdr[20:24], uint32(len(lineInfo)))
	buf.Write(hdr[:])
	buf.Write(funcInfo)
	buf.Write(lineInfo)
	return buf.Bytes()
}

type sectionGroup[T any] struct {
	section string
	recs    []T
}

func groupFuncs(funcs []FuncInfo) []sectionGroup[FuncInfo] {
	return groupBySection(funcs, func(fi FuncInfo) string { return fi.Section })
}

func groupLines(lines []LineInfo) []sectionGroup[LineInfo] {
	return groupBySection(lines, func(li LineInfo) string { return li.Section })
}

func groupBySection[T any](recs []T, section func(T) string) []sectionGroup[T] {
	byName := make(map[string][]T)
	for _, r := range recs {
		byName[section(r)] = append(byName[section(r)], r)
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	groups := make([]sectionGroup[T], 0, len(names))
	for _, name := range names {
		groups = append(groups, sectionGroup[T]{section: name, recs: byName[name]})
	}
	return groups
}

func encodeExtBlock[T any](recSize uint32, groups []sectionGroup[T], strs *StringTable, rec func(*bytes.Buffer, T)) []byte {
	if len(groups) == 0 {
		return nil
	}
	le := binary.LittleEndian
	var buf bytes.Buffer

	var sz [4]byte
	le.PutUint32(sz[:], recSize)
	buf.Write(sz[:])

	for _, g := range groups {
		nameOff, _ := strs.Lookup(g.section)
		var hdr [8]byte
		le.PutUint32(hdr[0:4], nameOff)
		le.PutUint32(hdr[4:8], uint32(len(g.recs)))
		buf.Write(hdr[:])
		for _, r := range g.recs {
			rec(&buf, r)
		}
	}
	return buf.Bytes()
}
