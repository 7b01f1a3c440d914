package amd64

import (
	"github.com/tinyrange/bfc/internal/asm"
)

func encoded(encode func() ([]byte, error)) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		bytes, err := encode()
		if err != nil {
			return err
		}
		return ctx.EmitBytes(bytes)
	})
}

func MovImmediate(dst Reg, value int64) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeMovRegImm(dst, value) })
}

func MovReg(dst, src Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeMovRegReg(dst, src) })
}

// AddRegImm uses the imm8 form when value fits a signed byte, imm32 otherwise.
func AddRegImm(dst Reg, value int32) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeAddRegImm(dst, value) })
}

// SubRegImm uses the imm8 form when value fits a signed byte, imm32 otherwise.
func SubRegImm(dst Reg, value int32) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeSubRegImm(dst, value) })
}

func XorRegReg(dst, src Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeXorRegRegSized(dst, src) })
}

// AddMemImm8 adds value to the byte at mem.
func AddMemImm8(mem Memory, value byte) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALUMemImm8(aluAdd, mem, value) })
}

// SubMemImm8 subtracts value from the byte at mem.
func SubMemImm8(mem Memory, value byte) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALUMemImm8(aluSub, mem, value) })
}

// CmpMemImm8 compares the byte at mem with value.
func CmpMemImm8(mem Memory, value byte) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALUMemImm8(aluCmp, mem, value) })
}

// RepStosb stores al into rcx bytes starting at rdi.
func RepStosb() asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		return ctx.EmitBytes(encodeRepStosb())
	})
}
