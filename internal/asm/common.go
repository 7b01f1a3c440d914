package asm

import "fmt"

type Value interface {
}

type Immediate int64

var (
	_ Value = Immediate(0)
)

type Variable int

var (
	_ Value = Variable(0)
)

type Register Variable

var (
	_ Value = Register(0)
)

// Context receives encoded instruction bytes. Implementations own the
// underlying Buffer and may refuse to grow it.
type Context interface {
	EmitBytes(data []byte) error
	Len() int
}

type Fragment interface {
	Emit(ctx Context) error
}

type Group []Fragment

var (
	_ Fragment = Group{}
)

func (g Group) Emit(ctx Context) error {
	for _, frag := range g {
		if err := frag.Emit(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Program is a flat block of machine code. It carries no relocations: the
// code only references the stack and rip-relative targets.
type Program struct {
	code []byte
}

func (p Program) Bytes() []byte {
	return append([]byte(nil), p.code...)
}

func (p Program) Len() int {
	return len(p.code)
}

func (p Program) String() string {
	return fmt.Sprintf("asm.Program{%d bytes}", len(p.code))
}

func NewProgram(code []byte) Program {
	return Program{code: append([]byte(nil), code...)}
}
