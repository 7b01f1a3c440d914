// Package amd64 lowers a Brainfuck opcode stream to x86-64 Linux machine
// code in a single pass, backpatching loop displacements as brackets close.
package amd64

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/tinyrange/bfc/internal/asm"
	"github.com/tinyrange/bfc/internal/asm/amd64"
	"github.com/tinyrange/bfc/internal/bf"
	"github.com/tinyrange/bfc/internal/linux/defs"
)

const (
	DefaultTapeSize = 512
	MaxTapeSize     = 4 << 20

	tapeAlignment = 16
)

// ErrInvalidOptions is returned before any code is generated.
var ErrInvalidOptions = errors.New("invalid compile options")

// tapePointer holds the address of the current cell for the whole program.
// The kernel preserves it across syscalls.
const tapePointer = amd64.RSI

type Options struct {
	// TapeSize is the number of zeroed cells reserved on the stack. It is
	// rounded up to a multiple of 16. Zero selects DefaultTapeSize.
	TapeSize int
	// MaxCodeSize caps the generated code in bytes. Zero means no cap.
	MaxCodeSize int
}

func (o Options) withDefaults() Options {
	if o.TapeSize == 0 {
		o.TapeSize = DefaultTapeSize
	}
	return o
}

func (o Options) validate() error {
	if o.TapeSize <= 0 || o.TapeSize > MaxTapeSize {
		return fmt.Errorf("%w: tape size %d outside 1..%d", ErrInvalidOptions, o.TapeSize, MaxTapeSize)
	}
	if o.MaxCodeSize < 0 {
		return fmt.Errorf("%w: negative code size limit %d", ErrInvalidOptions, o.MaxCodeSize)
	}
	return nil
}

// TapeBytes reports the stack reservation the generated prologue makes.
func (o Options) TapeBytes() int {
	o = o.withDefaults()
	return alignTo(o.TapeSize, tapeAlignment)
}

type compiler struct {
	ctx  *amd64.Context
	prog bf.Program
	// addrs maps each opcode index to the offset of its first instruction.
	addrs []int
	// fixups maps LoopStart indices to the offset of their jz displacement
	// and LoopEnd indices to the offset of their jmp displacement.
	fixups map[int]int
}

// Compile generates the machine code for prog: a prologue that reserves and
// zeroes the tape, one instruction sequence per opcode, and an exit(0)
// epilogue. The only failure after option validation is the code buffer
// reaching MaxCodeSize, reported as asm.ErrResourceExhausted.
func Compile(prog bf.Program, opts Options) (asm.Program, error) {
	c, err := compile(prog, opts)
	if err != nil {
		return asm.Program{}, err
	}
	return c.ctx.Program(), nil
}

func compile(prog bf.Program, opts Options) (*compiler, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	c := &compiler{
		ctx:    amd64.NewContext(0, opts.MaxCodeSize),
		prog:   prog,
		addrs:  make([]int, len(prog)),
		fixups: make(map[int]int),
	}

	if err := c.prologue(opts.TapeBytes()); err != nil {
		return nil, err
	}
	for idx, op := range prog {
		c.addrs[idx] = c.ctx.Len()
		if err := c.compileOpcode(idx, op); err != nil {
			return nil, fmt.Errorf("opcode %d (%s at %s): %w", idx, op, op.Pos, err)
		}
	}
	if err := c.emit(amd64.Exit(0)); err != nil {
		return nil, err
	}

	slog.Debug("generated machine code",
		"opcodes", len(prog),
		"tape", opts.TapeBytes(),
		"bytes", c.ctx.Len(),
	)
	return c, nil
}

func (c *compiler) emit(frags ...asm.Fragment) error {
	return asm.Group(frags).Emit(c.ctx)
}

func (c *compiler) prologue(tape int) error {
	rsp := amd64.Reg64(amd64.RSP)
	return c.emit(
		amd64.SubRegImm(rsp, int32(tape)),
		amd64.MovReg(amd64.Reg64(tapePointer), rsp),
		amd64.MovReg(amd64.Reg64(amd64.RDI), rsp),
		amd64.MovImmediate(amd64.Reg32(amd64.RCX), int64(tape)),
		amd64.XorRegReg(amd64.Reg32(amd64.RAX), amd64.Reg32(amd64.RAX)),
		amd64.RepStosb(),
	)
}

func (c *compiler) compileOpcode(idx int, op bf.Opcode) error {
	cell := amd64.Mem(amd64.Reg64(tapePointer))
	switch op.Kind {
	case bf.MovePtrForward:
		return c.movePointer(op.Operand, amd64.AddRegImm)
	case bf.MovePtrBackward:
		return c.movePointer(op.Operand, amd64.SubRegImm)
	case bf.IncrementCell:
		return c.emit(amd64.AddMemImm8(cell, byte(op.Operand)))
	case bf.DecrementCell:
		return c.emit(amd64.SubMemImm8(cell, byte(op.Operand)))
	case bf.Output:
		return c.emit(amd64.SyscallWrite(asm.Immediate(defs.Stdout), amd64.UseRegister(tapePointer), asm.Immediate(1)))
	case bf.Input:
		return c.emit(amd64.SyscallRead(asm.Immediate(defs.Stdin), amd64.UseRegister(tapePointer), asm.Immediate(1)))
	case bf.LoopStart:
		if err := c.emit(amd64.CmpMemImm8(cell, 0)); err != nil {
			return err
		}
		pos, err := c.ctx.EmitJump(amd64.JumpEqual)
		if err != nil {
			return err
		}
		c.fixups[idx] = pos
		return nil
	case bf.LoopEnd:
		start := op.Operand
		jz, ok := c.fixups[start]
		if !ok {
			return fmt.Errorf("loop end without compiled loop start %d", start)
		}
		pos, err := c.ctx.EmitJump(amd64.JumpAlways)
		if err != nil {
			return err
		}
		c.fixups[idx] = pos
		if err := c.ctx.PatchRel32(pos, c.addrs[start]); err != nil {
			return err
		}
		return c.ctx.PatchRel32(jz, c.ctx.Len())
	default:
		return fmt.Errorf("unknown opcode kind %d", op.Kind)
	}
}

// movePointer adjusts the tape pointer by n, splitting counts that do not
// fit a sign-extended imm32.
func (c *compiler) movePointer(n int, op func(amd64.Reg, int32) asm.Fragment) error {
	reg := amd64.Reg64(tapePointer)
	for n > 0 {
		step := n
		if step > math.MaxInt32 {
			step = math.MaxInt32
		}
		if err := c.emit(op(reg, int32(step))); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

func alignTo(v, align int) int {
	return (v + align - 1) &^ (align - 1)
}
