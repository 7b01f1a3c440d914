package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/schollz/progressbar/v3"
	"github.com/tebeka/atexit"
	"github.com/tinyrange/bfc"
	"github.com/tinyrange/bfc/internal/bf"
	"github.com/tinyrange/bfc/internal/config"
	"golang.org/x/term"
)

// errReported marks errors whose diagnostic was already printed.
var errReported = errors.New("compilation failed")

func main() {
	// Interrupted writes must not leave temporary files next to the output.
	atexit.Register(bfc.RemovePartialOutputs)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		slog.Debug("interrupted", "signal", sig)
		atexit.Exit(130)
	}()

	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "bfc: %v\n", err)
		}
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

type settings struct {
	input       string
	output      string
	tapeSize    int
	baseAddress uint64
	maxCodeSize int
	raw         bool
	dumpOps     bool
	progress    bool
}

func (s settings) options() []bfc.Option {
	opts := []bfc.Option{
		bfc.WithTapeSize(s.tapeSize),
		bfc.WithBaseAddress(s.baseAddress),
		bfc.WithMaxCodeSize(s.maxCodeSize),
	}
	if s.raw {
		opts = append(opts, bfc.WithRawOutput())
	}
	return opts
}

func run(args []string) error {
	fs := flag.NewFlagSet("bfc", flag.ContinueOnError)
	configPath := fs.String("config", "", "Load defaults from a YAML config file")
	writeConfig := fs.String("write-config", "", "Write the effective configuration to this path and exit")
	tapeSize := fs.String("tape-size", "", "Tape size in bytes, e.g. 512 or 4KiB (default 512)")
	baseAddress := fs.String("base-address", "", "Load address of the executable (default 0x400000)")
	maxCodeSize := fs.String("max-code-size", "", "Fail when the generated code exceeds this size")
	emit := fs.String("emit", "elf", "Output format: elf or raw")
	dbg := fs.Bool("debug", false, "Enable debug logging")
	dumpOps := fs.Bool("dump-ops", false, "Print the folded opcode listing to stdout")
	progress := fs.Bool("progress", false, "Show a progress bar while reading the source")
	watch := fs.Bool("watch", false, "Recompile whenever the input file changes")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <input-file> [output-file]\n\n", fs.Name())
		fmt.Fprintf(os.Stderr, "Compile a Brainfuck program into a standalone x86-64 Linux executable.\n")
		fmt.Fprintf(os.Stderr, "The output defaults to %s.\n\n", bfc.DefaultOutput)
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		// The flag package already printed the problem and the usage.
		return errReported
	}

	level := slog.LevelInfo
	if *dbg {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := config.Config{Version: config.CurrentVersion}
	if *configPath == "" {
		found, err := config.Find(".")
		if err != nil {
			return err
		}
		*configPath = found
	}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		slog.Debug("loaded config", "path", *configPath, "version", cfg.Version)
	}

	// Flags that were given explicitly override the config file.
	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "tape-size":
			cfg.TapeSize = *tapeSize
		case "max-code-size":
			cfg.MaxCodeSize = *maxCodeSize
		case "base-address":
			addr, err := parseAddress(*baseAddress)
			if err != nil {
				flagErr = fmt.Errorf("-base-address: %w", err)
				return
			}
			cfg.BaseAddress = addr
		}
	})
	if flagErr != nil {
		return flagErr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	args = fs.Args()
	if *writeConfig != "" {
		if len(args) > 1 {
			cfg.Output = args[1]
		}
		if err := config.Write(*writeConfig, cfg); err != nil {
			return err
		}
		slog.Info("wrote config", "path", *writeConfig)
		return nil
	}
	if len(args) < 1 || len(args) > 2 {
		fs.Usage()
		return fmt.Errorf("expected an input file and an optional output file")
	}

	s, err := resolve(cfg, args)
	if err != nil {
		return err
	}
	switch *emit {
	case "elf":
	case "raw":
		s.raw = true
	default:
		return fmt.Errorf("unknown -emit format %q (want elf or raw)", *emit)
	}
	s.dumpOps = *dumpOps
	s.progress = *progress && term.IsTerminal(int(os.Stderr.Fd()))

	if *watch {
		return watchAndCompile(s)
	}
	return compileOnce(s)
}

// resolve merges the config file with the positional arguments.
func resolve(cfg config.Config, args []string) (settings, error) {
	s := settings{
		input:       args[0],
		output:      cfg.Output,
		baseAddress: cfg.BaseAddress,
	}
	if len(args) > 1 {
		s.output = args[1]
	}
	if s.output == "" {
		s.output = bfc.DefaultOutput
	}

	var err error
	if s.tapeSize, err = cfg.TapeBytes(); err != nil {
		return settings{}, err
	}
	if s.maxCodeSize, err = cfg.MaxCodeBytes(); err != nil {
		return settings{}, err
	}
	return s, nil
}

// parseAddress accepts decimal, 0x hex and 0o octal addresses.
func parseAddress(s string) (uint64, error) {
	return strconv.ParseUint(s, 0, 64)
}

func readSource(s settings) ([]byte, error) {
	f, err := os.Open(s.input)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if s.progress {
		size := int64(-1)
		if info, err := f.Stat(); err == nil {
			size = info.Size()
		}
		bar := progressbar.DefaultBytes(size, "reading "+filepath.Base(s.input))
		// Leave the terminal on a fresh line if the read is interrupted.
		hook := atexit.Register(func() { bar.Exit() })
		defer hook.Cancel()
		defer bar.Close()
		r = io.TeeReader(f, bar)
	}

	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.input, err)
	}
	return src, nil
}

func compileOnce(s settings) error {
	src, err := readSource(s)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := bfc.Build(bytes.NewReader(src), s.options()...)
	if err != nil {
		var berr *bf.BracketError
		if errors.As(err, &berr) {
			fmt.Fprint(os.Stderr, bf.FormatDiagnostic(s.input, src, err))
			return errReported
		}
		return err
	}

	if s.dumpOps {
		fmt.Fprint(os.Stdout, res.Program.String())
	}

	if s.raw {
		err = bfc.WriteOutput(s.output, res.Image, 0o644)
	} else {
		err = bfc.WriteExecutable(s.output, res.Image)
	}
	if err != nil {
		return err
	}

	slog.Debug("wrote output",
		"path", s.output,
		"opcodes", res.Stats.Opcodes,
		"loops", res.Stats.Loops,
		"tape", config.FormatSize(res.Stats.TapeSize),
		"code", config.FormatSize(res.Stats.CodeSize),
		"image", config.FormatSize(res.Stats.ImageSize),
		"elapsed", time.Since(start),
	)
	return nil
}

// watchAndCompile compiles once and then again after every change to the
// input. It runs until the process is interrupted or the watcher fails.
// Compile errors are reported and watching continues.
func watchAndCompile(s settings) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file with a rename, so watch the directory
	// and filter by name.
	dir := filepath.Dir(s.input)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.input)

	report := func() {
		if err := compileOnce(s); err != nil {
			if !errors.Is(err, errReported) {
				fmt.Fprintf(os.Stderr, "bfc: %v\n", err)
			}
			return
		}
		slog.Info("compiled", "input", s.input, "output", s.output)
	}
	report()

	var debounce <-chan time.Time
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			debounce = time.After(50 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch error", "error", err)
		case <-debounce:
			debounce = nil
			report()
		}
	}
}
