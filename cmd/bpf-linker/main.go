package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/vadorovsky/bpf-linker/btf"
	"github.com/vadorovsky/bpf-linker/config"
	lerrors "github.com/vadorovsky/bpf-linker/errors"
	"github.com/vadorovsky/bpf-linker/ir"
	"github.com/vadorovsky/bpf-linker/linker"
)

func main() {
	var (
		output       = flag.String("o", "", "Output file path")
		exports      = flag.String("export", "", "Symbols to keep visible (comma-separated)")
		cpu          = flag.String("cpu", "generic", "Processor variant: generic, probe, v1, v2, v3")
		optLevel     = flag.Int("O", 2, "Optimization level (0-3)")
		emit         = flag.String("emit", "obj", "Output kind: obj, llvm-ir, llvm-bc, asm")
		enableBtf    = flag.Bool("btf", false, "Emit BTF type information")
		strictDI     = flag.Bool("strict-di", false, "Fail on malformed debug info instead of skipping it")
		dumpModule   = flag.String("dump-module", "", "Directory for pre/post optimization IR dumps")
		configPath   = flag.String("config", "", "TOML configuration file")
		profile      = flag.String("profile", "", "Configuration profile to apply")
		unrollLoops  = flag.Bool("unroll-loops", false, "Raise the optimizer's simplification budget")
		inlineAlways = flag.Bool("ignore-inline-never", false, "Inline functions marked noinline")
		noBuiltins   = flag.Bool("disable-memory-builtins", false, "Internalize memcpy and friends like any other symbol")
		verbose      = flag.Bool("v", false, "Verbose logging")
		logJSON      = flag.Bool("log-json", false, "Force JSON log output")
	)
	flag.Usage = usage
	flag.Parse()

	setupLogging(*verbose, *logJSON)

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "error: no input files")
		usage()
		os.Exit(1)
	}
	if *output == "" {
		fmt.Fprintln(os.Stderr, "error: -o is required")
		usage()
		os.Exit(1)
	}

	opts := linker.Options{Inputs: flag.Args()}

	// the config file goes first; flags given explicitly override it
	if *configPath != "" {
		f, err := config.Load(*configPath)
		if err != nil {
			fail(err)
		}
		p, err := f.Resolve(*profile)
		if err != nil {
			fail(err)
		}
		if err := p.Apply(&opts); err != nil {
			fail(err)
		}
	}

	given := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { given[f.Name] = true })

	var err error
	if given["export"] || len(opts.Export) == 0 {
		if *exports != "" {
			opts.Export = strings.Split(*exports, ",")
		}
	}
	if given["cpu"] || opts.Cpu == linker.CpuGeneric {
		if opts.Cpu, err = linker.CpuFromString(*cpu); err != nil {
			fail(err)
		}
	}
	if given["O"] || *configPath == "" {
		opts.OptLevel = *optLevel
	}
	if given["emit"] || opts.Emit == linker.OutputObject {
		if opts.Emit, err = linker.OutputTypeFromString(*emit); err != nil {
			fail(err)
		}
	}
	if given["btf"] {
		opts.Btf = *enableBtf
	}
	if given["strict-di"] {
		opts.StrictDI = *strictDI
	}
	if given["dump-module"] {
		opts.DumpModule = *dumpModule
	}
	if given["unroll-loops"] {
		opts.UnrollLoops = *unrollLoops
	}
	if given["ignore-inline-never"] {
		opts.IgnoreInlineNever = *inlineAlways
	}
	if given["disable-memory-builtins"] {
		opts.DisableMemoryBuiltins = *noBuiltins
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	art, err := linker.Link(ctx, opts)
	if err != nil {
		fail(err)
	}
	if err := art.WriteFile(*output); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(exitCode(err))
}

// exitCode maps the major error categories onto distinct codes so
// build drivers can tell a bad input from a failed link.
func exitCode(err error) int {
	var re *lerrors.UnsupportedRecursionError
	if stderrors.As(err, &re) {
		return 3
	}
	var le *lerrors.Error
	if !stderrors.As(err, &le) {
		return 1
	}
	switch le.Phase {
	case lerrors.PhaseLoad, lerrors.PhaseParse:
		return 2
	case lerrors.PhaseLink, lerrors.PhaseInternalize, lerrors.PhaseOptimize:
		return 3
	case lerrors.PhaseCodegen, lerrors.PhaseBTF:
		return 4
	case lerrors.PhaseWrite:
		return 5
	}
	return 1
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: bpf-linker -o <output> [flags] <input>...")
	fmt.Fprintln(os.Stderr, "Inputs may be bitcode, IR assembly or static archives of either.")
	fmt.Fprintln(os.Stderr)
	flag.PrintDefaults()
}

func setupLogging(verbose, forceJSON bool) {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	cfg := zap.NewProductionConfig()
	if !forceJSON && term.IsTerminal(int(os.Stderr.Fd())) {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	log, err := cfg.Build()
	if err != nil {
		return
	}
	linker.SetLogger(log.Named("linker"))
	ir.SetLogger(log.Named("ir"))
	btf.SetLogger(log.Named("btf"))
}
