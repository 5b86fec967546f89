// Package config loads linker settings from TOML files. A file holds
// top-level defaults plus named profiles; resolving a profile overlays
// it on the defaults, and applying the result fills only the options
// the file actually sets, so command-line flags keep their values
// otherwise.
package config

import (
	"os"

	"github.com/pelletier/go-toml"

	"github.com/vadorovsky/bpf-linker/errors"
	"github.com/vadorovsky/bpf-linker/linker"
)

// Profile is one settings block. Pointer fields distinguish "unset"
// from an explicit false or zero.
type Profile struct {
	Export                []string `toml:"export"`
	Cpu                   string   `toml:"cpu"`
	OptLevel              *int     `toml:"opt-level"`
	Emit                  string   `toml:"emit"`
	Btf                   *bool    `toml:"btf"`
	StrictDI              *bool    `toml:"strict-di"`
	UnrollLoops           *bool    `toml:"unroll-loops"`
	IgnoreInlineNever     *bool    `toml:"ignore-inline-never"`
	DisableMemoryBuiltins *bool    `toml:"disable-memory-builtins"`
	DumpModule            string   `toml:"dump-module"`
}

// File is a parsed configuration: defaults plus named profiles.
type File struct {
	Defaults Profile            `toml:"defaults"`
	Profiles map[string]Profile `toml:"profile"`
}

// Load reads and parses the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.IO(errors.PhaseLoad, path, err)
	}
	f, err := Parse(data)
	if err != nil {
		if le, ok := err.(*errors.Error); ok {
			le.File = path
		}
		return nil, err
	}
	return f, nil
}

// Parse decodes configuration bytes.
func Parse(data []byte) (*File, error) {
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Cause(err).
			Detail("parsing configuration").
			Build()
	}
	return &f, nil
}

// Resolve overlays the named profile on the defaults. An empty name
// returns the defaults alone.
func (f *File) Resolve(name string) (*Profile, error) {
	out := f.Defaults
	if name == "" {
		return &out, nil
	}
	p, ok := f.Profiles[name]
	if !ok {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Detail("profile %q not defined", name).
			Build()
	}
	overlay(&out, &p)
	return &out, nil
}

func overlay(dst, src *Profile) {
	if len(src.Export) > 0 {
		dst.Export = src.Export
	}
	if src.Cpu != "" {
		dst.Cpu = src.Cpu
	}
	if src.OptLevel != nil {
		dst.OptLevel = src.OptLevel
	}
	if src.Emit != "" {
		dst.Emit = src.Emit
	}
	if src.Btf != nil {
		dst.Btf = src.Btf
	}
	if src.StrictDI != nil {
		dst.StrictDI = src.StrictDI
	}
	if src.UnrollLoops != nil {
		dst.UnrollLoops = src.UnrollLoops
	}
	if src.IgnoreInlineNever != nil {
		dst.IgnoreInlineNever = src.IgnoreInlineNever
	}
	if src.DisableMemoryBuiltins != nil {
		dst.DisableMemoryBuiltins = src.DisableMemoryBuiltins
	}
	if src.DumpModule != "" {
		dst.DumpModule = src.DumpModule
	}
}

// Apply writes the profile's set fields into opts, leaving the rest
// untouched.
func (p *Profile) Apply(opts *linker.Options) error {
	if len(p.Export) > 0 {
		opts.Export = append(opts.Export, p.Export...)
	}
	if p.Cpu != "" {
		cpu, err := linker.CpuFromString(p.Cpu)
		if err != nil {
			return errors.New(errors.PhaseLoad, errors.KindInvalidInput).
				Cause(err).
				Detail("cpu setting").
				Build()
		}
		opts.Cpu = cpu
	}
	if p.OptLevel != nil {
		opts.OptLevel = *p.OptLevel
	}
	if p.Emit != "" {
		emit, err := linker.OutputTypeFromString(p.Emit)
		if err != nil {
			return errors.New(errors.PhaseLoad, errors.KindInvalidInput).
				Cause(err).
				Detail("emit setting").
				Build()
		}
		opts.Emit = emit
	}
	if p.Btf != nil {
		opts.Btf = *p.Btf
	}
	if p.StrictDI != nil {
		opts.StrictDI = *p.StrictDI
	}
	if p.UnrollLoops != nil {
		opts.UnrollLoops = *p.UnrollLoops
	}
	if p.IgnoreInlineNever != nil {
		opts.IgnoreInlineNever = *p.IgnoreInlineNever
	}
	if p.DisableMemoryBuiltins != nil {
		opts.DisableMemoryBuiltins = *p.DisableMemoryBuiltins
	}
	if p.DumpModule != "" {
		opts.DumpModule = p.DumpModule
	}
	return nil
}
