package obj

// strtab is an ELF string table under construction. Offset 0 is the
// empty string, and identical names share one entry.
type strtab struct {
	buf  []byte
	offs map[string]uint32
}

func newStrtab() *strtab {
	return &strtab{
		buf:  []byte{0},
		offs: map[string]uint32{"": 0},
	}
}

func (t *strtab) add(s string) uint32 {
	if off, ok := t.offs[s]; ok {
		return off
	}
	off := uint32(len(t.buf))
	t.buf = append(t.buf, s...)
	t.buf = append(t.buf, 0)
	t.offs[s] = off
	return off
}

func (t *strtab) bytes() []byte {
	return t.buf
}
