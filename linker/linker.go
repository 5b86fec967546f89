package linker

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/vadorovsky/bpf-linker/archive"
	"github.com/vadorovsky/bpf-linker/btf"
	"github.com/vadorovsky/bpf-linker/errors"
	"github.com/vadorovsky/bpf-linker/ir"
	"github.com/vadorovsky/bpf-linker/linker/internal/codegen"
	"github.com/vadorovsky/bpf-linker/linker/internal/graph"
	"github.com/vadorovsky/bpf-linker/linker/internal/obj"
	"github.com/vadorovsky/bpf-linker/linker/internal/passes"
)

// Artifact is the finished output of a link.
type Artifact struct {
	// Kind is the artifact encoding, matching Options.Emit.
	Kind OutputType
	Data []byte
}

// WriteFile writes the artifact to path.
func (a *Artifact) WriteFile(path string) error {
	if err := os.WriteFile(path, a.Data, 0o644); err != nil {
		return errors.Write(path, err)
	}
	return nil
}

// Link runs the whole pipeline: load, merge, internalize, optimize and
// emit. The context cancels input loading; once the merged module
// exists the link runs to completion.
func Link(ctx context.Context, opts Options) (*Artifact, error) {
	mods, err := loadInputs(ctx, opts.Inputs)
	if err != nil {
		return nil, err
	}

	merged, err := mergeModules(mods)
	if err != nil {
		return nil, err
	}

	if err := internalize(merged, opts.Export, opts.ExportRoot, !opts.DisableMemoryBuiltins); err != nil {
		return nil, err
	}

	if opts.DumpModule != "" {
		if err := dumpModule(opts.DumpModule, "pre-opt.ll", merged.M.String()); err != nil {
			return nil, err
		}
	}

	stats := passes.Run(merged.M, passes.Options{
		OptLevel:          opts.OptLevel,
		UnrollLoops:       opts.UnrollLoops,
		IgnoreInlineNever: opts.IgnoreInlineNever,
	})
	Logger().Debug("optimization finished",
		zap.Int("inlined", stats.Inlined),
		zap.Int("folded", stats.Folded),
		zap.Int("dead_insts", stats.DeadInsts),
		zap.Int("dead_symbols", stats.DeadSymbols))

	if opts.DumpModule != "" {
		if err := dumpModule(opts.DumpModule, "post-opt.ll", merged.M.String()); err != nil {
			return nil, err
		}
	}

	if cycle := graph.Build(merged.M).FindCycle(); len(cycle) > 0 {
		return nil, errors.NewUnsupportedRecursionError(cycle)
	}

	data, err := emit(merged, opts)
	if err != nil {
		return nil, err
	}
	return &Artifact{Kind: opts.Emit, Data: data}, nil
}

// loadInputs reads and parses every input in parallel, preserving
// command-line order in the result. Archives contribute their IR
// members in archive order.
func loadInputs(ctx context.Context, paths []string) ([]*ir.Module, error) {
	if len(paths) == 0 {
		return nil, errors.InvalidInput("", "no input files")
	}

	perInput := make([][]*ir.Module, len(paths))
	errs := make([]error, len(paths))

	var wg sync.WaitGroup
	for i, path := range paths {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			perInput[i], errs[i] = loadInput(path)
		}(i, path)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindIO, err, "input loading cancelled")
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	var mods []*ir.Module
	for _, batch := range perInput {
		mods = append(mods, batch...)
	}
	return mods, nil
}

func loadInput(path string) ([]*ir.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.IO(errors.PhaseLoad, path, err)
	}

	if !archive.IsArchive(data) {
		m, err := ir.Load(path, data)
		if err != nil {
			return nil, err
		}
		return []*ir.Module{m}, nil
	}

	r, err := archive.NewReader(path, data)
	if err != nil {
		return nil, err
	}
	var mods []*ir.Module
	for {
		member, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		// archives built by cargo carry metadata members alongside
		// the bitcode; anything that is not IR is skipped
		if ir.Detect(member.Data) == ir.KindUnknown {
			Logger().Debug("skipping non-IR archive member",
				zap.String("archive", path),
				zap.String("member", member.Name))
			continue
		}
		m, err := ir.Load(path+"("+member.Name+")", member.Data)
		if err != nil {
			return nil, err
		}
		mods = append(mods, m)
	}
	if len(mods) == 0 {
		return nil, errors.EmptyArchive(path)
	}
	return mods, nil
}

func dumpModule(dir, name, text string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.IO(errors.PhaseWrite, dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return errors.IO(errors.PhaseWrite, path, err)
	}
	return nil
}

func emit(mod *ir.Module, opts Options) ([]byte, error) {
	switch opts.Emit {
	case OutputIR:
		return []byte(mod.M.String()), nil

	case OutputBitcode:
		return ir.EncodeBitcode([]byte(mod.M.String()))

	case OutputAssembly:
		res, err := codegen.Lower(mod.M, opts.Cpu.features())
		if err != nil {
			return nil, err
		}
		return []byte(res.Assembly()), nil

	default:
		res, err := codegen.Lower(mod.M, opts.Cpu.features())
		if err != nil {
			return nil, err
		}
		var btfData, extData []byte
		if opts.Btf {
			btfData, extData, err = generateBtf(mod, res, opts.StrictDI)
			if err != nil {
				return nil, err
			}
		}
		return obj.Build(res, btfData, extData)
	}
}

// generateBtf converts the surviving debug info into the kernel type
// format, seeded with the final machine placement of every function
// and global.
func generateBtf(mod *ir.Module, res *codegen.Result, strict bool) (btfData, extData []byte, err error) {
	if mod.Debug == nil {
		Logger().Debug("no debug info, skipping type generation")
		return nil, nil, nil
	}

	var funcs []btf.FuncSeed
	for _, sec := range res.Code {
		for _, f := range sec.Funcs {
			seed := btf.FuncSeed{
				Name:    f.Name,
				Section: sec.Name,
				InsnOff: f.Off,
				Static:  f.Static,
			}
			for _, l := range f.Lines {
				seed.Lines = append(seed.Lines, btf.LineMark{
					InsnOff: l.InsnOff,
					File:    l.File,
					Line:    l.Line,
					Col:     l.Col,
				})
			}
			funcs = append(funcs, seed)
		}
	}
	var globals []btf.GlobalSeed
	for _, sec := range res.Data {
		for _, s := range sec.Syms {
			globals = append(globals, btf.GlobalSeed{
				Name:    s.Name,
				Section: sec.Name,
				Offset:  s.Off,
				Size:    s.Size,
				Static:  s.Static,
			})
		}
	}

	tr, err := btf.Transform(mod.Debug, funcs, globals, btf.Options{Strict: strict})
	if err != nil {
		return nil, nil, err
	}
	for _, p := range tr.Partial {
		Logger().Warn("debug info skipped for function",
			zap.String("symbol", p.Symbol),
			zap.Error(p.Err))
	}
	return btf.Encode(tr)
}
