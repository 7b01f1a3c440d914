package bf

import (
	"errors"
	"fmt"
)

var (
	// ErrUnmatchedBracket is the parent of both bracket errors.
	ErrUnmatchedBracket = errors.New("unmatched bracket")
	// ErrUnmatchedClose is reported for a ']' with no open loop.
	ErrUnmatchedClose = fmt.Errorf("%w: unmatched `]`", ErrUnmatchedBracket)
	// ErrUnmatchedOpen is reported for a '[' still open at end of input.
	ErrUnmatchedOpen = fmt.Errorf("%w: unmatched `[`", ErrUnmatchedBracket)
)

// BracketError locates the first structural violation in the source.
type BracketError struct {
	// Kind is ErrUnmatchedClose or ErrUnmatchedOpen.
	Kind error
	Pos  Pos
}

func (e *BracketError) Error() string {
	if e.Kind == ErrUnmatchedOpen {
		return fmt.Sprintf("%s: unmatched `[`", e.Pos)
	}
	return fmt.Sprintf("%s: unmatched `]`", e.Pos)
}

func (e *BracketError) Unwrap() error {
	return e.Kind
}
