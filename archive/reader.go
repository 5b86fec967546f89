package archive

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/vadorovsky/bpf-linker/errors"
)

// Magic is the global header every archive starts with.
const Magic = "!<arch>\n"

const (
	headerSize = 60
	endMarker  = "`\n"
)

// Member is one named entry of an archive.
type Member struct {
	// Name is the member name with the trailing "/" terminator removed.
	Name string
	// Data is the raw member contents, aliased into the archive buffer.
	Data []byte
}

// Reader iterates over archive members in archive order.
// It is forward-only: once consumed it cannot be restarted.
type Reader struct {
	buf      []byte
	path     string
	longName []byte // GNU "//" extended-name table
	off      int
}

// IsArchive reports whether data starts with the archive magic.
func IsArchive(data []byte) bool {
	return len(data) >= len(Magic) && string(data[:len(Magic)]) == Magic
}

// NewReader validates the global header and returns a member iterator.
// path is used only for error context.
func NewReader(path string, data []byte) (*Reader, error) {
	if !IsArchive(data) {
		return nil, errors.MalformedArchive(path, "missing !<arch> magic")
	}
	return &Reader{buf: data, path: path, off: len(Magic)}, nil
}

// Next returns the next member, or io.EOF once the archive is exhausted.
// Index members ("/" and the extended-name table "//") are consumed
// internally and never surfaced.
func (r *Reader) Next() (*Member, error) {
	for {
		m, err := r.next()
		if err != nil {
			return nil, err
		}
		switch {
		case m.Name == "/" || strings.HasPrefix(m.Name, "/SYM64"):
			// symbol index, not a real member
			continue
		case m.Name == "//":
			r.longName = m.Data
			continue
		}
		return m, nil
	}
}

func (r *Reader) next() (*Member, error) {
	// member headers are 2-byte aligned
	if r.off%2 == 1 && r.off < len(r.buf) {
		r.off++
	}
	if r.off >= len(r.buf) {
		return nil, io.EOF
	}
	if len(r.buf)-r.off < headerSize {
		return nil, errors.New(errors.PhaseLoad, errors.KindMalformedArchive).
			File(r.path).
			Location("offset " + strconv.Itoa(r.off)).
			Detail("truncated member header").
			Build()
	}

	hdr := r.buf[r.off : r.off+headerSize]
	if string(hdr[58:60]) != endMarker {
		return nil, errors.New(errors.PhaseLoad, errors.KindMalformedArchive).
			File(r.path).
			Location("offset " + strconv.Itoa(r.off)).
			Detail("bad member header terminator").
			Build()
	}

	rawName := strings.TrimRight(string(hdr[0:16]), " ")
	size, err := strconv.Atoi(strings.TrimRight(string(hdr[48:58]), " "))
	if err != nil || size < 0 {
		return nil, errors.New(errors.PhaseLoad, errors.KindMalformedArchive).
			File(r.path).
			Location("offset " + strconv.Itoa(r.off)).
			Detail("invalid member size field %q", string(hdr[48:58])).
			Build()
	}

	r.off += headerSize
	if size > len(r.buf)-r.off {
		return nil, errors.New(errors.PhaseLoad, errors.KindMalformedArchive).
			File(r.path).
			Location("offset " + strconv.Itoa(r.off-headerSize)).
			Detail("member %q declares %d bytes, only %d remain", rawName, size, len(r.buf)-r.off).
			Build()
	}
	data := r.buf[r.off : r.off+size]
	r.off += size

	name, err := r.resolveName(rawName)
	if err != nil {
		return nil, err
	}
	return &Member{Name: name, Data: data}, nil
}

// resolveName maps header name fields to member names. GNU archives
// terminate short names with "/" and store long names in the "//" table
// referenced as "/<offset>".
func (r *Reader) resolveName(raw string) (string, error) {
	switch {
	case raw == "/" || raw == "//" || strings.HasPrefix(raw, "/SYM64"):
		return raw, nil
	case strings.HasPrefix(raw, "/"):
		off, err := strconv.Atoi(raw[1:])
		if err != nil || off < 0 || off >= len(r.longName) {
			return "", errors.MalformedArchive(r.path, "invalid extended-name reference "+raw)
		}
		rest := r.longName[off:]
		end := bytes.IndexByte(rest, '\n')
		if end < 0 {
			end = len(rest)
		}
		name := strings.TrimSuffix(string(rest[:end]), "\r")
		return strings.TrimSuffix(name, "/"), nil
	default:
		return strings.TrimSuffix(raw, "/"), nil
	}
}
