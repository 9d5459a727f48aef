// mjs - run sandboxed JavaScript from the command line
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/microjs"
	"github.com/chazu/microjs/dist"
	"github.com/chazu/microjs/manifest"
	"github.com/chazu/microjs/vm"
)

var log = commonlog.GetLogger("microjs.cli")

func main() {
	expr := flag.String("e", "", "Evaluate an expression and print the result")
	interactive := flag.Bool("i", false, "Start an interactive REPL")
	compileOut := flag.String("compile", "", "Compile the script to a module file instead of running it")
	execModule := flag.String("exec", "", "Execute a compiled module file")
	memLimit := flag.Int("mem", 0, "Memory limit in bytes (0 = unbounded)")
	timeout := flag.Duration("timeout", 0, "Wall-clock limit (0 = unbounded)")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mjs [options] [script.js]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a JavaScript-subset script in a sandbox with memory and time limits.\n")
		fmt.Fprintf(os.Stderr, "Limits default from microjs.toml in the working directory when present.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  mjs script.js                 # Run a script\n")
		fmt.Fprintf(os.Stderr, "  mjs -e '1 + 2'                # Evaluate an expression\n")
		fmt.Fprintf(os.Stderr, "  mjs -i                        # Start a REPL\n")
		fmt.Fprintf(os.Stderr, "  mjs -timeout 500ms script.js  # Bound wall-clock time\n")
		fmt.Fprintf(os.Stderr, "  mjs -compile out.mjsc in.js   # Compile to a module file\n")
		fmt.Fprintf(os.Stderr, "  mjs -exec out.mjsc            # Run a compiled module\n")
	}
	flag.Parse()

	m, err := manifest.Load(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "mjs: %v\n", err)
		os.Exit(2)
	}

	verbosity := m.Log.Verbosity
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	opts := microjs.Options{
		MemoryLimit:     m.Limits.MemoryBytes,
		TimeLimit:       m.Limits.TimeLimit(),
		PollInterval:    m.Limits.PollInterval,
		RegexStackLimit: m.Limits.RegexStack,
	}
	if *memLimit > 0 {
		opts.MemoryLimit = *memLimit
	}
	if *timeout > 0 {
		opts.TimeLimit = *timeout
	}

	ctx := microjs.New(opts)
	log.Infof("context %s ready (mem=%d time=%s)", ctx.ID(), opts.MemoryLimit, opts.TimeLimit)

	switch {
	case *expr != "":
		runSource(ctx, *expr, "<eval>", true)
	case *execModule != "":
		execCompiled(ctx, *execModule)
	case *compileOut != "" && flag.NArg() > 0:
		compileScript(ctx, flag.Arg(0), *compileOut)
	case *interactive:
		repl(ctx)
	case flag.NArg() > 0:
		source, err := os.ReadFile(flag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "mjs: %v\n", err)
			os.Exit(2)
		}
		runSource(ctx, string(source), flag.Arg(0), false)
	case m.Run.Entry != "":
		source, err := os.ReadFile(m.Run.Entry)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mjs: %v\n", err)
			os.Exit(2)
		}
		runSource(ctx, string(source), m.Run.Entry, false)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func runSource(ctx *microjs.Context, source, name string, print bool) {
	start := time.Now()
	v, err := ctx.Eval(source)
	if err != nil {
		reportError(err)
		os.Exit(1)
	}
	log.Infof("%s finished in %s", name, time.Since(start))
	if print && v != nil {
		fmt.Println(formatResult(v))
	}
}

func compileScript(ctx *microjs.Context, in, out string) {
	source, err := os.ReadFile(in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mjs: %v\n", err)
		os.Exit(2)
	}
	proto, err := ctx.Compile(string(source), in)
	if err != nil {
		reportError(err)
		os.Exit(1)
	}
	chunk := dist.Build(proto, ctx.Runtime().Heap)
	data, err := dist.Marshal(chunk)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mjs: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "mjs: %v\n", err)
		os.Exit(1)
	}
	log.Infof("compiled %s -> %s (%d bytes)", in, out, len(data))
}

func execCompiled(ctx *microjs.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mjs: %v\n", err)
		os.Exit(2)
	}
	chunk, err := dist.Unmarshal(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mjs: %v\n", err)
		os.Exit(1)
	}
	proto, err := chunk.Load(ctx.Runtime().Heap)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mjs: %v\n", err)
		os.Exit(1)
	}
	v, err := ctx.Run(proto)
	if err != nil {
		reportError(err)
		os.Exit(1)
	}
	if v != nil {
		fmt.Println(formatResult(v))
	}
}

func repl(ctx *microjs.Context) {
	fmt.Println("microjs REPL - ctrl-d to exit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := ctx.Eval(line)
		if err != nil {
			reportError(err)
			continue
		}
		fmt.Println(formatResult(v))
	}
}

func reportError(err error) {
	switch e := err.(type) {
	case *vm.SyntaxError:
		fmt.Fprintf(os.Stderr, "%v\n", e)
	case *vm.RuntimeError:
		fmt.Fprintf(os.Stderr, "Uncaught %v\n", e)
	case *vm.TimeLimitError, *vm.MemoryLimitError, *vm.RegexAbortError:
		fmt.Fprintf(os.Stderr, "Aborted: %v\n", e)
	default:
		fmt.Fprintf(os.Stderr, "mjs: %v\n", err)
	}
}

func formatResult(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		return vm.FormatNumber(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
