// Package bf turns Brainfuck source into a flat stream of run-length folded
// opcodes with resolved loop targets.
package bf

import (
	"fmt"
	"strings"
)

type Kind uint8

const (
	MovePtrForward Kind = iota
	MovePtrBackward
	IncrementCell
	DecrementCell
	Output
	Input
	LoopStart
	LoopEnd
)

var kindNames = [...]string{
	MovePtrForward:  "move_forward",
	MovePtrBackward: "move_backward",
	IncrementCell:   "increment",
	DecrementCell:   "decrement",
	Output:          "output",
	Input:           "input",
	LoopStart:       "loop_start",
	LoopEnd:         "loop_end",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind#%d", k)
}

// Symbol returns the source character the kind is written as.
func (k Kind) Symbol() byte {
	return symbols[k]
}

// Foldable reports whether consecutive symbols of this kind are merged into a
// single opcode.
func (k Kind) Foldable() bool {
	switch k {
	case MovePtrForward, MovePtrBackward, IncrementCell, DecrementCell:
		return true
	}
	return false
}

var symbols = [...]byte{
	MovePtrForward:  '>',
	MovePtrBackward: '<',
	IncrementCell:   '+',
	DecrementCell:   '-',
	Output:          '.',
	Input:           ',',
	LoopStart:       '[',
	LoopEnd:         ']',
}

// kindOf maps a source byte to its opcode kind.
func kindOf(c byte) (Kind, bool) {
	switch c {
	case '>':
		return MovePtrForward, true
	case '<':
		return MovePtrBackward, true
	case '+':
		return IncrementCell, true
	case '-':
		return DecrementCell, true
	case '.':
		return Output, true
	case ',':
		return Input, true
	case '[':
		return LoopStart, true
	case ']':
		return LoopEnd, true
	}
	return 0, false
}

// Pos is a location in the source. Line and Column are 1-based, Column counts
// bytes.
type Pos struct {
	Offset int
	Line   int
	Column int
}

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Opcode is one folded operation. For pointer and cell kinds Operand is the
// repeat count, for Output and Input it is always 1, and for LoopStart and
// LoopEnd it is the index of the matching bracket in the Program.
type Opcode struct {
	Kind    Kind
	Operand int
	Pos     Pos
}

func (op Opcode) String() string {
	switch op.Kind {
	case LoopStart, LoopEnd:
		return fmt.Sprintf("%s -> %d", op.Kind, op.Operand)
	default:
		return fmt.Sprintf("%s %d", op.Kind, op.Operand)
	}
}

// Program is an opcode stream in source order.
type Program []Opcode

// String renders one opcode per line, prefixed by its index.
func (p Program) String() string {
	var sb strings.Builder
	for idx, op := range p {
		fmt.Fprintf(&sb, "%04d %s @%s\n", idx, op, op.Pos)
	}
	return sb.String()
}

// Source renders the program back to canonical Brainfuck without comments.
func (p Program) Source() string {
	var sb strings.Builder
	for _, op := range p {
		n := 1
		if op.Kind.Foldable() {
			n = op.Operand
		}
		for i := 0; i < n; i++ {
			sb.WriteByte(op.Kind.Symbol())
		}
	}
	return sb.String()
}
