package btf

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func encodeResult(t *testing.T) *Result {
	t.Helper()
	table := NewTable()
	long := table.Add(&Type{Kind: KindInt, Name: "long", Size: 8, IntBits: 64, IntEncoding: IntSigned})
	proto := table.Add(&Type{Kind: KindProto, Ref: long, Params: []Param{{Name: "x", Type: long}}})
	fn := table.Add(&Type{Kind: KindFunc, Name: "f", Ref: proto, Linkage: LinkageGlobal})

	return &Result{
		Table: table,
		Funcs: []FuncInfo{{Section: "xdp", InsnOff: 0, Type: fn}},
		Lines: []LineInfo{{Section: "xdp", InsnOff: 8, File: "prog.c", Line: 42, Col: 5}},
	}
}

func TestEncode_Header(t *testing.T) {
	btfBytes, _, err := Encode(encodeResult(t))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(btfBytes) < headerLen {
		t.Fatalf("output shorter than header: %d bytes", len(btfBytes))
	}

	le := binary.LittleEndian
	if got := le.Uint16(btfBytes[0:2]); got != 0xeB9F {
		t.Errorf("magic = %#x", got)
	}
	if btfBytes[2] != 1 {
		t.Errorf("version = %d", btfBytes[2])
	}
	if got := le.Uint32(btfBytes[4:8]); got != headerLen {
		t.Errorf("hdr_len = %d", got)
	}

	typeOff := le.Uint32(btfBytes[8:12])
	typeLen := le.Uint32(btfBytes[12:16])
	strOff := le.Uint32(btfBytes[16:20])
	strLen := le.Uint32(btfBytes[20:24])
	if typeOff != 0 {
		t.Errorf("type_off = %d", typeOff)
	}
	if strOff != typeLen {
		t.Errorf("str_off = %d, want type section end %d", strOff, typeLen)
	}
	if int(headerLen+typeLen+strLen) != len(btfBytes) {
		t.Errorf("sections do not cover output: %d+%d+%d != %d", headerLen, typeLen, strLen, len(btfBytes))
	}
	// string table starts with the mandatory empty string
	if btfBytes[headerLen+strOff] != 0 {
		t.Error("string table does not start with NUL")
	}
}

func TestEncode_IntRecord(t *testing.T) {
	btfBytes, _, err := Encode(encodeResult(t))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	le := binary.LittleEndian
	rec := btfBytes[headerLen:]

	info := le.Uint32(rec[4:8])
	if kind := info >> 24 & 0x1f; kind != uint32(KindInt) {
		t.Fatalf("first record kind = %d, want INT", kind)
	}
	if size := le.Uint32(rec[8:12]); size != 8 {
		t.Errorf("int size = %d", size)
	}
	aux := le.Uint32(rec[12:16])
	if enc := uint8(aux >> 24); enc != IntSigned {
		t.Errorf("int encoding = %#x", enc)
	}
	if bits := aux & 0xff; bits != 64 {
		t.Errorf("int bits = %d", bits)
	}
}

func TestEncode_Ext(t *testing.T) {
	res := encodeResult(t)
	_, extBytes, err := Encode(res)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	le := binary.LittleEndian
	if got := le.Uint16(extBytes[0:2]); got != 0xeB9F {
		t.Errorf("ext magic = %#x", got)
	}
	funcOff := le.Uint32(extBytes[8:12])
	funcLen := le.Uint32(extBytes[12:16])
	lineOff := le.Uint32(extBytes[16:20])
	lineLen := le.Uint32(extBytes[20:24])
	if lineOff != funcOff+funcLen {
		t.Errorf("line block does not follow func block")
	}
	if int(extHeaderLen+funcLen+lineLen) != len(extBytes) {
		t.Errorf("blocks do not cover output")
	}

	funcBlock := extBytes[extHeaderLen+funcOff : extHeaderLen+funcOff+funcLen]
	if recSize := le.Uint32(funcBlock[0:4]); recSize != funcInfoRecSize {
		t.Errorf("func rec size = %d", recSize)
	}
	if n := le.Uint32(funcBlock[8:12]); n != 1 {
		t.Errorf("func record count = %d", n)
	}
	typeID := le.Uint32(funcBlock[12+4 : 12+8])
	if TypeID(typeID) != res.Funcs[0].Type {
		t.Errorf("func type id = %d, want %d", typeID, res.Funcs[0].Type)
	}

	lineBlock := extBytes[extHeaderLen+lineOff:]
	if recSize := le.Uint32(lineBlock[0:4]); recSize != lineInfoRecSize {
		t.Errorf("line rec size = %d", recSize)
	}
	lineCol := le.Uint32(lineBlock[12+12 : 12+16])
	if line := lineCol >> 10; line != 42 {
		t.Errorf("line = %d", line)
	}
	if col := lineCol & 0x3ff; col != 5 {
		t.Errorf("col = %d", col)
	}
}

func TestEncode_Deterministic(t *testing.T) {
	a1, e1, err := Encode(encodeResult(t))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	a2, e2, err := Encode(encodeResult(t))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(a1, a2) || !bytes.Equal(e1, e2) {
		t.Error("encoding is not deterministic")
	}
}

func TestStringTable(t *testing.T) {
	strs := NewStringTable()
	off1 := strs.Add("alpha")
	off2 := strs.Add("beta")
	if off1 == 0 || off2 == 0 {
		t.Fatal("offset 0 must stay reserved for the empty string")
	}
	if again := strs.Add("alpha"); again != off1 {
		t.Errorf("re-adding returned %d, want %d", again, off1)
	}
	if off, ok := strs.Lookup("beta"); !ok || off != off2 {
		t.Errorf("Lookup(beta) = %d, %v", off, ok)
	}
	b := strs.Bytes()
	if b[0] != 0 {
		t.Error("table does not begin with empty string")
	}
	if !bytes.Contains(b, []byte("alpha\x00")) {
		t.Error("alpha not NUL terminated")
	}
}
