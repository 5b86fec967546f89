package ir

import (
	"bytes"
	"regexp"

	"github.com/llir/llvm/asm"
	"go.uber.org/zap"

	"github.com/vadorovsky/bpf-linker/archive"
	"github.com/vadorovsky/bpf-linker/errors"
)

// Detect classifies input bytes by their magic prefix.
func Detect(data []byte) InputKind {
	switch {
	case bytes.HasPrefix(data, bitcodeMagic):
		return KindBitcode
	case archive.IsArchive(data):
		return KindArchive
	case looksLikeAssembly(data):
		return KindAssembly
	default:
		return KindUnknown
	}
}

// looksLikeAssembly applies a cheap plausibility check before handing
// bytes to the parser: textual IR is valid UTF-8 without NUL bytes.
func looksLikeAssembly(data []byte) bool {
	limit := len(data)
	if limit > 1024 {
		limit = 1024
	}
	return !bytes.ContainsRune(data[:limit], 0)
}

// locationRE pulls the "line:column" prefix the assembler embeds in its
// error messages so ParseError can surface a structured location.
var locationRE = regexp.MustCompile(`(\d+):(\d+)`)

// Load parses a single IR unit from data, accepting either encoding.
// path is recorded on the module and used for error context.
//
// Load performs no semantic validation beyond what the backend parser
// does; a well-formed but semantically broken module is the backend's
// problem to reject later.
func Load(path string, data []byte) (*Module, error) {
	kind := Detect(data)
	Logger().Debug("loading module",
		zap.String("path", path),
		zap.Stringer("kind", kind),
	)

	switch kind {
	case KindBitcode:
		text, err := DecodeBitcode(data)
		if err != nil {
			return nil, errors.Parse(path, "", err)
		}
		data = text
	case KindAssembly:
		// parsed as-is
	case KindArchive:
		return nil, errors.InvalidInput(path, "nested archive passed to module loader")
	default:
		return nil, errors.InvalidInput(path, "not bitcode, IR assembly or an archive")
	}

	m, err := asm.ParseBytes(path, data)
	if err != nil {
		loc := ""
		if match := locationRE.FindString(err.Error()); match != "" {
			loc = match
		}
		return nil, errors.Parse(path, loc, err)
	}

	mod := &Module{Path: path, M: m}
	mod.Debug = extractDebug(m)
	if mod.Debug != nil {
		Logger().Debug("extracted debug info",
			zap.String("path", path),
			zap.Int("entries", len(mod.Debug.Entries)),
		)
	}
	return mod, nil
}
