package codegen

import (
	"fmt"

	"github.com/llir/llvm/ir/types"
)

// sizeOf returns the in-memory byte size of a first-class type under
// the BPF data layout: 64-bit pointers, naturally aligned aggregates.
func sizeOf(t types.Type) (uint64, error) {
	switch t := t.(type) {
	case *types.IntType:
		return (t.BitSize + 7) / 8, nil
	case *types.PointerType:
		return 8, nil
	case *types.ArrayType:
		elem, err := sizeOf(t.ElemType)
		if err != nil {
			return 0, err
		}
		return t.Len * elem, nil
	case *types.StructType:
		size := uint64(0)
		for _, field := range t.Fields {
			fs, err := sizeOf(field)
			if err != nil {
				return 0, err
			}
			if !t.Packed {
				fa, err := alignOf(field)
				if err != nil {
					return 0, err
				}
				size = alignUp(size, fa)
			}
			size += fs
		}
		if !t.Packed {
			sa, err := alignOf(t)
			if err != nil {
				return 0, err
			}
			size = alignUp(size, sa)
		}
		return size, nil
	}
	return 0, fmt.Errorf("type %v has no BPF layout", t)
}

func alignOf(t types.Type) (uint64, error) {
	switch t := t.(type) {
	case *types.IntType:
		size := (t.BitSize + 7) / 8
		if size > 8 {
			return 8, nil
		}
		// round up to a power of two
		for a := uint64(1); ; a <<= 1 {
			if a >= size {
				return a, nil
			}
		}
	case *types.PointerType:
		return 8, nil
	case *types.ArrayType:
		return alignOf(t.ElemType)
	case *types.StructType:
		if t.Packed {
			return 1, nil
		}
		max := uint64(1)
		for _, field := range t.Fields {
			fa, err := alignOf(field)
			if err != nil {
				return 0, err
			}
			if fa > max {
				max = fa
			}
		}
		return max, nil
	}
	return 0, fmt.Errorf("type %v has no BPF layout", t)
}

// fieldOffset returns the byte offset of field idx in a struct.
func fieldOffset(t *types.StructType, idx uint64) (uint64, error) {
	if idx >= uint64(len(t.Fields)) {
		return 0, fmt.Errorf("field index %d out of range", idx)
	}
	off := uint64(0)
	for i := uint64(0); i <= idx; i++ {
		field := t.Fields[i]
		if !t.Packed {
			fa, err := alignOf(field)
			if err != nil {
				return 0, err
			}
			off = alignUp(off, fa)
		}
		if i == idx {
			return off, nil
		}
		fs, err := sizeOf(field)
		if err != nil {
			return 0, err
		}
		off += fs
	}
	return off, nil
}

func alignUp(n, align uint64) uint64 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// memSize maps a byte width to the load/store size bits.
func memSize(bytes uint64) (uint8, bool) {
	switch bytes {
	case 1:
		return sizeB, true
	case 2:
		return sizeH, true
	case 4:
		return sizeW, true
	case 8:
		return sizeDW, true
	}
	return 0, false
}
