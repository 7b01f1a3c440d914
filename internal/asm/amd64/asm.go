package amd64

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tinyrange/bfc/internal/asm"
	"github.com/tinyrange/bfc/internal/linux/defs"
	amd64defs "github.com/tinyrange/bfc/internal/linux/defs/amd64"
)

const (
	RAX asm.Variable = iota
	RBX
	RCX
	RDX
	RSI
	RDI
	RSP
	RBP
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var syscallArgRegisters = []asm.Variable{RDI, RSI, RDX, R10, R8, R9}

type syscall struct {
	number defs.Syscall
	args   []asm.Value
}

// Syscall loads the syscall number into rax and the arguments into the
// System V syscall registers, then issues the syscall instruction. The kernel
// clobbers rax, rcx and r11; every other register survives.
func Syscall(number defs.Syscall, args ...asm.Value) asm.Fragment {
	return &syscall{
		number: number,
		args:   args,
	}
}

func UseRegister(v asm.Variable) asm.Value {
	return asm.Register(v)
}

func SyscallWrite(fd asm.Value, buf asm.Value, count asm.Value) asm.Fragment {
	return Syscall(defs.SYS_WRITE, fd, buf, count)
}

func SyscallRead(fd asm.Value, buf asm.Value, count asm.Value) asm.Fragment {
	return Syscall(defs.SYS_READ, fd, buf, count)
}

func Exit(code int) asm.Fragment {
	return Syscall(defs.SYS_EXIT, asm.Immediate(code))
}

func (s *syscall) Emit(ctx asm.Context) error {
	num, ok := amd64defs.SyscallMap[s.number]
	if !ok {
		return fmt.Errorf("amd64 asm: unknown syscall number %d", s.number)
	}

	if len(s.args) > len(syscallArgRegisters) {
		return fmt.Errorf("too many syscall arguments: %d", len(s.args))
	}

	if err := appendMovImmediate(ctx, RAX, int64(num)); err != nil {
		return err
	}

	for idx, arg := range s.args {
		reg := syscallArgRegisters[idx]
		switch v := arg.(type) {
		case asm.Immediate:
			if err := appendMovImmediate(ctx, reg, int64(v)); err != nil {
				return err
			}
		case asm.Variable:
			if err := moveRegisterValue(ctx, reg, v); err != nil {
				return err
			}
		case asm.Register:
			if err := moveRegisterValue(ctx, reg, asm.Variable(v)); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported syscall argument %T", arg)
		}
	}

	return ctx.EmitBytes(syscallOpcode())
}

// EmitProgram encodes a fragment into a fresh, unbounded context.
func EmitProgram(fragment asm.Fragment) (asm.Program, error) {
	ctx := NewContext(0, 0)
	if err := fragment.Emit(ctx); err != nil {
		return asm.Program{}, err
	}
	return ctx.Program(), nil
}

func EmitBytes(fragment asm.Fragment) ([]byte, error) {
	prog, err := EmitProgram(fragment)
	if err != nil {
		return nil, err
	}
	return prog.Bytes(), nil
}

// Context accumulates machine code in an asm.Buffer and exposes the raw jump
// placeholder and patch operations needed for single-pass code generation.
type Context struct {
	text *asm.Buffer
}

var (
	_ asm.Context = &Context{}
)

// NewContext returns a context whose text buffer starts at capacity bytes and
// refuses to grow past limit bytes (zero means unbounded).
func NewContext(capacity, limit int) *Context {
	return &Context{text: asm.NewBuffer(capacity, limit)}
}

func (c *Context) EmitBytes(code []byte) error {
	return c.text.Append(code...)
}

func (c *Context) Len() int {
	return c.text.Len()
}

// Program returns a snapshot of the code emitted so far.
func (c *Context) Program() asm.Program {
	return asm.NewProgram(c.text.Bytes())
}

type JumpKind int

const (
	JumpAlways JumpKind = iota
	JumpEqual
	JumpNotEqual
)

// EmitJump emits a jump with a zeroed rel32 displacement and returns the
// offset of that displacement field for a later PatchRel32.
func (c *Context) EmitJump(kind JumpKind) (int, error) {
	var opcode []byte
	switch kind {
	case JumpAlways:
		opcode = []byte{0xE9}
	case JumpEqual:
		opcode = []byte{0x0F, 0x84}
	case JumpNotEqual:
		opcode = []byte{0x0F, 0x85}
	default:
		return 0, fmt.Errorf("unsupported jump kind %d", kind)
	}
	if err := c.text.Append(opcode...); err != nil {
		return 0, err
	}
	pos := c.text.Len()
	if err := c.text.AppendUint32(0); err != nil {
		return 0, err
	}
	return pos, nil
}

// PatchRel32 rewrites the displacement field at pos so that the jump lands on
// target. Displacements are relative to the end of the field.
func (c *Context) PatchRel32(pos, target int) error {
	rel := target - (pos + 4)
	if rel < math.MinInt32 || rel > math.MaxInt32 {
		return fmt.Errorf("jump from %#x to %#x out of range", pos, target)
	}
	return c.text.PutUint32At(pos, uint32(int32(rel)))
}

// Rel32At decodes the jump target of the displacement field at pos.
func (c *Context) Rel32At(pos int) (int, error) {
	raw, err := c.text.Uint32At(pos)
	if err != nil {
		return 0, err
	}
	return pos + 4 + int(int32(raw)), nil
}

func appendMovImmediate(ctx asm.Context, reg asm.Variable, value int64) error {
	const (
		maxUint32 = (1 << 32) - 1
		minInt32  = -1 << 31
	)
	switch {
	case value == 0:
		bytes, err := encodeXorRegRegSized(Reg32(reg), Reg32(reg))
		if err != nil {
			return err
		}
		return ctx.EmitBytes(bytes)
	case value > 0 && value <= int64(maxUint32):
		bytes, err := encodeMovRegImm(Reg32(reg), value)
		if err != nil {
			return err
		}
		return ctx.EmitBytes(bytes)
	case value >= minInt32 && value < 0:
		bytes, err := encodeMovRegImm32Sign(reg, uint32(value))
		if err != nil {
			return err
		}
		return ctx.EmitBytes(bytes)
	}
	bytes, err := encodeMovRegImm(Reg64(reg), value)
	if err != nil {
		return err
	}
	return ctx.EmitBytes(bytes)
}

func moveRegisterValue(ctx asm.Context, dst, src asm.Variable) error {
	if dst == src {
		return nil
	}
	bytes, err := encodeMovRegReg(Reg64(dst), Reg64(src))
	if err != nil {
		return err
	}
	return ctx.EmitBytes(bytes)
}

type registerCode struct {
	code     byte
	high     bool
	needsRex bool
}

func regInfo(v asm.Variable) (registerCode, error) {
	switch v {
	case RAX:
		return registerCode{code: 0}, nil
	case RBX:
		return registerCode{code: 3}, nil
	case RCX:
		return registerCode{code: 1}, nil
	case RDX:
		return registerCode{code: 2}, nil
	case RSI:
		return registerCode{code: 6, needsRex: true}, nil
	case RDI:
		return registerCode{code: 7, needsRex: true}, nil
	case RSP:
		return registerCode{code: 4, needsRex: true}, nil
	case RBP:
		return registerCode{code: 5, needsRex: true}, nil
	case R8:
		return registerCode{code: 0, high: true, needsRex: true}, nil
	case R9:
		return registerCode{code: 1, high: true, needsRex: true}, nil
	case R10:
		return registerCode{code: 2, high: true, needsRex: true}, nil
	case R11:
		return registerCode{code: 3, high: true, needsRex: true}, nil
	case R12:
		return registerCode{code: 4, high: true, needsRex: true}, nil
	case R13:
		return registerCode{code: 5, high: true, needsRex: true}, nil
	case R14:
		return registerCode{code: 6, high: true, needsRex: true}, nil
	case R15:
		return registerCode{code: 7, high: true, needsRex: true}, nil
	default:
		return registerCode{}, fmt.Errorf("unsupported register %d", v)
	}
}

func encodeMovRegImm32Sign(reg asm.Variable, value uint32) ([]byte, error) {
	info, err := regInfo(reg)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 7)
	if prefix := (rexState{w: true, b: info.high}).prefix(); prefix != 0 {
		out = append(out, prefix)
	}
	out = append(out, 0xC7, 0xC0|info.code)
	var imm [4]byte
	binary.LittleEndian.PutUint32(imm[:], value)
	out = append(out, imm[:]...)
	return out, nil
}
