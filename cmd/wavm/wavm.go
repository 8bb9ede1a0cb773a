package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wavmio/wavm"
	"github.com/wavmio/wavm/api"
	"github.com/wavmio/wavm/internal/version"
	"github.com/wavmio/wavm/internal/wasm"
	wasmbinary "github.com/wavmio/wavm/internal/wasm/binary"
)

func main() {
	doMain(os.Stdout, os.Stderr, os.Exit)
}

// doMain is separated out for the purpose of unit testing.
func doMain(stdOut, stdErr io.Writer, exit func(code int)) {
	if len(os.Args) < 2 {
		printUsage(stdErr)
		exit(0)
	}

	switch subCmd := os.Args[1]; subCmd {
	case "compile":
		doCompile(os.Args[2:], stdErr, exit)
	case "run":
		doRun(os.Args[2:], stdOut, stdErr, exit)
	case "inspect":
		doInspect(os.Args[2:], stdOut, stdErr, exit)
	case "version":
		fmt.Fprintln(stdOut, version.GetVersion())
		exit(0)
	case "-h", "--help", "help":
		printUsage(stdErr)
		exit(0)
	default:
		fmt.Fprintf(stdErr, "invalid command: %s\n", subCmd)
		printUsage(stdErr)
		exit(1)
	}
}

func doCompile(args []string, stdErr io.Writer, exit func(code int)) {
	flags := pflag.NewFlagSet("compile", pflag.ExitOnError)
	flags.SetOutput(stdErr)
	cacheDir := flags.String("cache-dir", "", "writeable directory persisting compiled code, reused across runs of the same wavm version")
	verbose := flags.BoolP("verbose", "v", false, "log compilation events to stderr")
	_ = flags.Parse(args)

	if flags.NArg() < 1 {
		fmt.Fprintln(stdErr, "missing path to wasm file")
		printSubUsage(stdErr, "compile <options> <path to wasm file>", flags)
		exit(1)
	}

	source, err := os.ReadFile(flags.Arg(0))
	if err != nil {
		fmt.Fprintf(stdErr, "error reading wasm binary: %v\n", err)
		exit(1)
	}

	config := wavm.NewRuntimeConfig().
		WithLogger(newLogger(stdErr, *verbose)).
		WithCompilationCacheDir(*cacheDir)

	ctx := context.Background()
	r := wavm.NewRuntimeWithConfig(config)
	defer r.Close(ctx)

	if _, err = r.CompileModule(ctx, source); err != nil {
		fmt.Fprintf(stdErr, "error compiling wasm binary: %v\n", err)
		exit(1)
	}
	exit(0)
}

func doRun(args []string, stdOut, stdErr io.Writer, exit func(code int)) {
	flags := pflag.NewFlagSet("run", pflag.ExitOnError)
	flags.SetOutput(stdErr)
	cacheDir := flags.String("cache-dir", "", "writeable directory persisting compiled code, reused across runs of the same wavm version")
	points := flags.Uint64("metering-points", 0, "execution point budget enforced by metering instrumentation, 0 disables")
	bestEffort := flags.Bool("best-effort", false, "defer per-function compilation failures to call time instead of failing upfront")
	verbose := flags.BoolP("verbose", "v", false, "log compilation events to stderr")
	_ = flags.Parse(args)

	if flags.NArg() < 2 {
		fmt.Fprintln(stdErr, "missing path to wasm file or function name")
		printSubUsage(stdErr, "run <options> <path to wasm file> <function> [uint64 args...]", flags)
		exit(1)
	}

	source, err := os.ReadFile(flags.Arg(0))
	if err != nil {
		fmt.Fprintf(stdErr, "error reading wasm binary: %v\n", err)
		exit(1)
	}
	funcName := flags.Arg(1)

	params, err := parseCallArgs(flags.Args()[2:])
	if err != nil {
		fmt.Fprintf(stdErr, "invalid argument: %v\n", err)
		exit(1)
	}

	config := wavm.NewRuntimeConfig().
		WithLogger(newLogger(stdErr, *verbose)).
		WithStrictCompilation(!*bestEffort).
		WithCompilationCacheDir(*cacheDir)
	if *points > 0 {
		config = config.WithMetering(*points, nil)
	}

	ctx := context.Background()
	r := wavm.NewRuntimeWithConfig(config)
	defer r.Close(ctx)

	mod, err := r.Instantiate(ctx, source)
	if err != nil {
		fmt.Fprintf(stdErr, "error instantiating wasm binary: %v\n", err)
		exit(1)
	}

	fn := mod.ExportedFunction(funcName)
	if fn == nil {
		fmt.Fprintf(stdErr, "function %q is not exported\n", funcName)
		exit(1)
	}

	results, err := fn.Call(ctx, params...)
	if err != nil {
		fmt.Fprintf(stdErr, "error calling %s: %v\n", funcName, err)
		exit(1)
	}
	for _, result := range results {
		fmt.Fprintln(stdOut, result)
	}
	if *points > 0 {
		if g := mod.ExportedGlobal(wavm.MeteringRemainingPoints); g != nil {
			fmt.Fprintf(stdErr, "metering: %d of %d points remaining\n", g.Get(), *points)
		}
	}
	exit(0)
}

func doInspect(args []string, stdOut, stdErr io.Writer, exit func(code int)) {
	flags := pflag.NewFlagSet("inspect", pflag.ExitOnError)
	flags.SetOutput(stdErr)
	_ = flags.Parse(args)

	if flags.NArg() < 1 {
		fmt.Fprintln(stdErr, "missing path to wasm file")
		printSubUsage(stdErr, "inspect <path to wasm file>", flags)
		exit(1)
	}

	source, err := os.ReadFile(flags.Arg(0))
	if err != nil {
		fmt.Fprintf(stdErr, "error reading wasm binary: %v\n", err)
		exit(1)
	}

	m, err := wasmbinary.DecodeModule(source, api.CoreFeaturesV2)
	if err != nil {
		fmt.Fprintf(stdErr, "error decoding wasm binary: %v\n", err)
		exit(1)
	}

	writeInspection(stdOut, m)
	exit(0)
}

// writeInspection prints a section-by-section summary of the module.
func writeInspection(w io.Writer, m *wasm.Module) {
	if name := m.ModuleName(); name != "" {
		fmt.Fprintf(w, "module: %s\n", name)
	}
	fmt.Fprintf(w, "types: %d, functions: %d, globals: %d\n",
		len(m.TypeSection), len(m.FunctionSection), len(m.GlobalSection))
	if m.MemorySection != nil {
		fmt.Fprintf(w, "memory: min=%d pages, max=%d pages\n", m.MemorySection.Min, m.MemorySection.Max)
	}
	if m.TableSection != nil {
		fmt.Fprintf(w, "table: min=%d\n", m.TableSection.Min)
	}
	for _, imp := range m.ImportSection {
		fmt.Fprintf(w, "import: %s %s.%s\n", wasm.ExternTypeName(imp.Type), imp.Module, imp.Name)
	}
	names := make([]string, 0, len(m.ExportSection))
	for name := range m.ExportSection {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		exp := m.ExportSection[name]
		fmt.Fprintf(w, "export: %s %s[%d]\n", wasm.ExternTypeName(exp.Type), name, exp.Index)
	}
}

// parseCallArgs decodes trailing command line arguments as uint64 call
// parameters, the encoding api.Function.Call expects.
func parseCallArgs(args []string) ([]uint64, error) {
	params := make([]uint64, 0, len(args))
	for _, arg := range args {
		v, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a uint64: %w", arg, err)
		}
		params = append(params, v)
	}
	return params, nil
}

// newLogger builds a console logger for -v runs, or a no-op one otherwise.
func newLogger(stdErr io.Writer, verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(stdErrWriter{stdErr}),
		zap.DebugLevel,
	)
	return zap.New(core)
}

// stdErrWriter adapts the injected writer to zapcore.WriteSyncer.
type stdErrWriter struct{ io.Writer }

func (stdErrWriter) Sync() error { return nil }

func printUsage(stdErr io.Writer) {
	fmt.Fprintln(stdErr, "wavm CLI")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Usage:\n  wavm <command>")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Commands:")
	fmt.Fprintln(stdErr, "  compile\tPre-compiles a WebAssembly binary")
	fmt.Fprintln(stdErr, "  run\t\tCalls an exported function of a WebAssembly binary")
	fmt.Fprintln(stdErr, "  inspect\tPrints the sections of a WebAssembly binary")
	fmt.Fprintln(stdErr, "  version\tDisplays the version of the wavm CLI")
}

func printSubUsage(stdErr io.Writer, usage string, flags *pflag.FlagSet) {
	fmt.Fprintln(stdErr, "wavm CLI")
	fmt.Fprintln(stdErr)
	fmt.Fprintf(stdErr, "Usage:\n  wavm %s\n", usage)
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Options:")
	fmt.Fprintln(stdErr, flags.FlagUsages())
}
