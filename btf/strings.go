package btf

// StringTable is a deduplicated, null-terminated string section. Offset
// 0 is always the empty string, so records without a name encode as
// name_off 0. Insertion order is preserved, which keeps output
// deterministic for identical inputs.
type StringTable struct {
	offsets map[string]uint32
	buf     []byte
}

// NewStringTable returns a table seeded with the empty string.
func NewStringTable() *StringTable {
	t := &StringTable{offsets: make(map[string]uint32)}
	t.buf = append(t.buf, 0)
	t.offsets[""] = 0
	return t
}

// Add interns s and returns its byte offset.
func (t *StringTable) Add(s string) uint32 {
	if off, ok := t.offsets[s]; ok {
		return off
	}
	off := uint32(len(t.buf))
	t.offsets[s] = off
	t.buf = append(t.buf, s...)
	t.buf = append(t.buf, 0)
	return off
}

// Lookup returns the offset of an already-interned string.
func (t *StringTable) Lookup(s string) (uint32, bool) {
	off, ok := t.offsets[s]
	return off, ok
}

// Bytes returns the serialized section.
func (t *StringTable) Bytes() []byte {
	return t.buf
}

// Len returns the serialized length in bytes.
func (t *StringTable) Len() int {
	return len(t.buf)
}
