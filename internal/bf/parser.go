package bf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

type parser struct {
	r    *bufio.Reader
	pos  Pos
	prog Program
	// open holds the indices of LoopStart opcodes not yet closed.
	open []int
}

// Parse reads Brainfuck source from r until EOF and returns its opcode
// stream. Runs of '>', '<', '+' and '-' fold into one opcode each; every
// other byte outside the eight symbols is a comment. Bracket mismatches are
// reported as *BracketError.
func Parse(r io.Reader) (Program, error) {
	p := &parser{
		r:   bufio.NewReader(r),
		pos: Pos{Line: 1, Column: 1},
	}
	if err := p.run(); err != nil {
		return nil, err
	}
	return p.prog, nil
}

func ParseString(src string) (Program, error) {
	return Parse(strings.NewReader(src))
}

func (p *parser) next() (byte, error) {
	c, err := p.r.ReadByte()
	if err != nil {
		return 0, err
	}
	p.pos.Offset++
	if c == '\n' {
		p.pos.Line++
		p.pos.Column = 1
	} else {
		p.pos.Column++
	}
	return c, nil
}

// peek returns the next byte without consuming it.
func (p *parser) peek() (byte, bool, error) {
	buf, err := p.r.Peek(1)
	if errors.Is(err, io.EOF) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return buf[0], true, nil
}

func (p *parser) run() error {
	for {
		start := p.pos
		c, err := p.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read source: %w", err)
		}

		kind, ok := kindOf(c)
		if !ok {
			continue
		}

		op := Opcode{Kind: kind, Operand: 1, Pos: start}
		switch kind {
		case MovePtrForward, MovePtrBackward, IncrementCell, DecrementCell:
			for {
				next, ok, err := p.peek()
				if err != nil {
					return fmt.Errorf("read source: %w", err)
				}
				if !ok || next != c {
					break
				}
				if _, err := p.next(); err != nil {
					return fmt.Errorf("read source: %w", err)
				}
				op.Operand++
			}
		case LoopStart:
			p.open = append(p.open, len(p.prog))
			op.Operand = -1
		case LoopEnd:
			if len(p.open) == 0 {
				return &BracketError{Kind: ErrUnmatchedClose, Pos: start}
			}
			match := p.open[len(p.open)-1]
			p.open = p.open[:len(p.open)-1]
			op.Operand = match
			p.prog[match].Operand = len(p.prog)
		}
		p.prog = append(p.prog, op)
	}

	if len(p.open) > 0 {
		innermost := p.prog[p.open[len(p.open)-1]]
		return &BracketError{Kind: ErrUnmatchedOpen, Pos: innermost.Pos}
	}
	return nil
}
