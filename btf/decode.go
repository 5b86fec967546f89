package btf

import (
	"encoding/binary"

	"github.com/vadorovsky/bpf-linker/errors"
)

// Decode parses ".BTF" section bytes back into type records, in table
// order. It accepts exactly what Encode produces plus any well-formed
// section a compiler emits; records of unknown kinds fail rather than
// being skipped, since skipping would shift every later TypeID.
func Decode(data []byte) ([]*Type, error) {
	le := binary.LittleEndian

	malformed := func(detail string, args ...any) error {
		return errors.New(errors.PhaseBTF, errors.KindMalformedDebugInfo).
			Detail(detail, args...).
			Build()
	}

	if len(data) < headerLen {
		return nil, malformed("truncated header: %d bytes", len(data))
	}
	if le.Uint16(data[0:2]) != magic {
		return nil, malformed("bad magic %#x", le.Uint16(data[0:2]))
	}
	if data[2] != version {
		return nil, malformed("unsupported version %d", data[2])
	}
	hdrLen := le.Uint32(data[4:8])
	typeOff := le.Uint32(data[8:12])
	typeLen := le.Uint32(data[12:16])
	strOff := le.Uint32(data[16:20])
	strLen := le.Uint32(data[20:24])

	// section offsets are relative to the end of the header
	base := uint64(hdrLen)
	typeEnd := base + uint64(typeOff) + uint64(typeLen)
	strEnd := base + uint64(strOff) + uint64(strLen)
	if typeEnd > uint64(len(data)) || strEnd > uint64(len(data)) {
		return nil, malformed("sections extend past %d bytes", len(data))
	}
	types := data[base+uint64(typeOff) : typeEnd]
	strs := data[base+uint64(strOff) : strEnd]

	name := func(off uint32) (string, error) {
		if uint64(off) >= uint64(len(strs)) {
			return "", malformed("string offset %d past table end %d", off, len(strs))
		}
		end := off
		for end < uint32(len(strs)) && strs[end] != 0 {
			end++
		}
		return string(strs[off:end]), nil
	}

	var out []*Type
	pos := 0
	for pos < len(types) {
		if len(types)-pos < 12 {
			return nil, malformed("truncated record at offset %d", pos)
		}
		nameOff := le.Uint32(types[pos : pos+4])
		info := le.Uint32(types[pos+4 : pos+8])
		sizeOrType := le.Uint32(types[pos+8 : pos+12])
		pos += 12

		t := &Type{Kind: Kind(info >> 24 & 0x1f)}
		vlen := info & 0xffff
		kindFlag := info>>31 != 0

		var err error
		if t.Name, err = name(nameOff); err != nil {
			return nil, err
		}

		tail := func(words int) ([]byte, error) {
			n := words * 4
			if len(types)-pos < n {
				return nil, malformed("truncated %s record at offset %d", t.Kind, pos)
			}
			b := types[pos : pos+n]
			pos += n
			return b, nil
		}

		switch t.Kind {
		case KindInt:
			t.Size = sizeOrType
			b, err := tail(1)
			if err != nil {
				return nil, err
			}
			aux := le.Uint32(b)
			t.IntEncoding = uint8(aux >> 24)
			t.IntOffset = uint8(aux >> 16)
			t.IntBits = uint8(aux)

		case KindFloat:
			t.Size = sizeOrType

		case KindPtr, KindTypedef, KindVolatile, KindConst, KindRestrict:
			t.Ref = TypeID(sizeOrType)

		case KindFwd:
			t.FwdUnion = kindFlag

		case KindArray:
			b, err := tail(3)
			if err != nil {
				return nil, err
			}
			t.Elem = TypeID(le.Uint32(b[0:4]))
			t.Index = TypeID(le.Uint32(b[4:8]))
			t.NElems = le.Uint32(b[8:12])

		case KindStruct, KindUnion:
			t.Size = sizeOrType
			b, err := tail(int(vlen) * 3)
			if err != nil {
				return nil, err
			}
			for i := 0; i < int(vlen); i++ {
				rec := b[i*12:]
				m := Member{
					Type:       TypeID(le.Uint32(rec[4:8])),
					OffsetBits: le.Uint32(rec[8:12]),
				}
				if m.Name, err = name(le.Uint32(rec[0:4])); err != nil {
					return nil, err
				}
				t.Members = append(t.Members, m)
			}

		case KindEnum:
			t.Size = sizeOrType
			b, err := tail(int(vlen) * 2)
			if err != nil {
				return nil, err
			}
			for i := 0; i < int(vlen); i++ {
				rec := b[i*8:]
				e := Enumerator{Value: int32(le.Uint32(rec[4:8]))}
				if e.Name, err = name(le.Uint32(rec[0:4])); err != nil {
					return nil, err
				}
				t.Enums = append(t.Enums, e)
			}

		case KindProto:
			t.Ref = TypeID(sizeOrType)
			b, err := tail(int(vlen) * 2)
			if err != nil {
				return nil, err
			}
			for i := 0; i < int(vlen); i++ {
				rec := b[i*8:]
				p := Param{Type: TypeID(le.Uint32(rec[4:8]))}
				if p.Name, err = name(le.Uint32(rec[0:4])); err != nil {
					return nil, err
				}
				t.Params = append(t.Params, p)
			}

		case KindFunc:
			t.Ref = TypeID(sizeOrType)
			t.Linkage = vlen

		case KindVar:
			t.Ref = TypeID(sizeOrType)
			b, err := tail(1)
			if err != nil {
				return nil, err
			}
			t.Linkage = le.Uint32(b)

		case KindDataSec:
			t.Size = sizeOrType
			b, err := tail(int(vlen) * 3)
			if err != nil {
				return nil, err
			}
			for i := 0; i < int(vlen); i++ {
				rec := b[i*12:]
				t.Vars = append(t.Vars, VarSec{
					Type:   TypeID(le.Uint32(rec[0:4])),
					Offset: le.Uint32(rec[4:8]),
					Size:   le.Uint32(rec[8:12]),
				})
			}

		default:
			return nil, malformed("record %d has unknown kind %d", len(out)+1, info>>24&0x1f)
		}

		out = append(out, t)
	}
	return out, nil
}
