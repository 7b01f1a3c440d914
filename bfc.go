// Package bfc compiles Brainfuck programs ahead of time into standalone
// x86-64 Linux executables. The generated binary has no dependencies: a
// single loadable segment holds the code, the tape lives on the stack, and
// I/O goes straight to the read and write system calls.
package bfc

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tinyrange/bfc/internal/asm"
	"github.com/tinyrange/bfc/internal/asm/amd64"
	"github.com/tinyrange/bfc/internal/bf"
	bfamd64 "github.com/tinyrange/bfc/internal/bf/amd64"
)

// DefaultOutput is used when no output path is given.
const DefaultOutput = "bf.out"

const (
	DefaultTapeSize    = bfamd64.DefaultTapeSize
	MaxTapeSize        = bfamd64.MaxTapeSize
	DefaultBaseAddress = amd64.DefaultBaseAddress
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrUnmatchedBracket matches both bracket errors.
	ErrUnmatchedBracket = bf.ErrUnmatchedBracket
	ErrUnmatchedClose   = bf.ErrUnmatchedClose
	ErrUnmatchedOpen    = bf.ErrUnmatchedOpen

	// ErrResourceExhausted is returned when generated code exceeds the
	// configured size limit.
	ErrResourceExhausted = asm.ErrResourceExhausted

	ErrInvalidOptions = bfamd64.ErrInvalidOptions
)

// BracketError carries the source position of a bracket mismatch.
type BracketError = bf.BracketError

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

type settings struct {
	tapeSize    int
	baseAddress uint64
	maxCodeSize int
	raw         bool
}

// Option configures a compilation.
type Option interface {
	apply(*settings)
}

type optionFunc func(*settings)

func (f optionFunc) apply(s *settings) { f(s) }

// WithTapeSize sets the number of tape cells. The size is rounded up to a
// multiple of 16 and may not exceed MaxTapeSize. Zero keeps the default.
func WithTapeSize(n int) Option {
	return optionFunc(func(s *settings) { s.tapeSize = n })
}

// WithBaseAddress sets the virtual address the image is loaded at. It must
// be page aligned. Zero keeps the default.
func WithBaseAddress(addr uint64) Option {
	return optionFunc(func(s *settings) { s.baseAddress = addr })
}

// WithMaxCodeSize caps the generated machine code in bytes.
func WithMaxCodeSize(n int) Option {
	return optionFunc(func(s *settings) { s.maxCodeSize = n })
}

// WithRawOutput emits bare machine code with no executable headers.
func WithRawOutput() Option {
	return optionFunc(func(s *settings) { s.raw = true })
}

// -----------------------------------------------------------------------------
// Compilation
// -----------------------------------------------------------------------------

// Stats summarises one compilation.
type Stats struct {
	Opcodes   int
	Loops     int
	TapeSize  int
	CodeSize  int
	ImageSize int
}

// Result holds every stage of a compilation.
type Result struct {
	Program bf.Program
	Code    asm.Program
	Image   []byte
	Stats   Stats
}

// Build runs the whole pipeline on the source read from r.
func Build(r io.Reader, opts ...Option) (*Result, error) {
	var s settings
	for _, opt := range opts {
		opt.apply(&s)
	}

	prog, err := bf.Parse(r)
	if err != nil {
		return nil, err
	}

	genOpts := bfamd64.Options{TapeSize: s.tapeSize, MaxCodeSize: s.maxCodeSize}
	code, err := bfamd64.Compile(prog, genOpts)
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}

	image := code.Bytes()
	if !s.raw {
		cfg := amd64.StandaloneELFConfig{BaseAddress: s.baseAddress}
		image, err = amd64.StandaloneELFWithConfig(code, cfg)
		if err != nil {
			return nil, fmt.Errorf("build executable image: %w", err)
		}
	}

	res := &Result{
		Program: prog,
		Code:    code,
		Image:   image,
		Stats: Stats{
			Opcodes:   len(prog),
			Loops:     countLoops(prog),
			TapeSize:  genOpts.TapeBytes(),
			CodeSize:  code.Len(),
			ImageSize: len(image),
		},
	}
	slog.Debug("compiled program",
		"opcodes", res.Stats.Opcodes,
		"loops", res.Stats.Loops,
		"code", res.Stats.CodeSize,
		"image", res.Stats.ImageSize,
	)
	return res, nil
}

// Compile returns the executable image for the source read from r.
func Compile(r io.Reader, opts ...Option) ([]byte, error) {
	res, err := Build(r, opts...)
	if err != nil {
		return nil, err
	}
	return res.Image, nil
}

// CompileFile compiles input and writes the executable to output, or to
// DefaultOutput when output is empty. Nothing is written on failure.
func CompileFile(input, output string, opts ...Option) (Stats, error) {
	if output == "" {
		output = DefaultOutput
	}

	src, err := os.ReadFile(input)
	if err != nil {
		return Stats{}, err
	}

	res, err := Build(bytes.NewReader(src), opts...)
	if err != nil {
		return Stats{}, err
	}
	if err := WriteExecutable(output, res.Image); err != nil {
		return Stats{}, err
	}
	return res.Stats, nil
}

func countLoops(prog bf.Program) int {
	n := 0
	for _, op := range prog {
		if op.Kind == bf.LoopStart {
			n++
		}
	}
	return n
}
