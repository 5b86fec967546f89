package ir

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
)

// bitcodeMagic prefixes the binary bitcode wrapper encoding.
var bitcodeMagic = []byte{'B', 'C', 0xc0, 0xde}

// EncodeBitcode wraps textual IR in the binary bitcode encoding:
// magic, little-endian uint32 uncompressed length, DEFLATE stream.
func EncodeBitcode(text []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(bitcodeMagic)

	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(text)))
	buf.Write(size[:])

	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(text); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeBitcode unwraps the binary bitcode encoding back to textual IR.
func DecodeBitcode(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, bitcodeMagic) {
		return nil, fmt.Errorf("missing bitcode magic")
	}
	data = data[len(bitcodeMagic):]
	if len(data) < 4 {
		return nil, fmt.Errorf("truncated bitcode header")
	}
	want := binary.LittleEndian.Uint32(data)
	r := flate.NewReader(bytes.NewReader(data[4:]))
	defer r.Close()

	text, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress bitcode: %w", err)
	}
	if uint32(len(text)) != want {
		return nil, fmt.Errorf("bitcode declares %d bytes, decompressed %d", want, len(text))
	}
	return text, nil
}
