package bf

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// FormatDiagnostic renders err as "name:line:col: message". Bracket errors
// also get the offending source line and a caret under the bracket. Escape
// sequences in the source are stripped so comments cannot drive the
// terminal, and the caret column is measured in display cells.
func FormatDiagnostic(name string, src []byte, err error) string {
	var berr *BracketError
	if !errors.As(err, &berr) {
		return fmt.Sprintf("%s: %v", name, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s:%s\n", name, berr.Error())

	line, ok := sourceLine(src, berr.Pos.Line)
	if !ok {
		return sb.String()
	}
	col := berr.Pos.Column - 1
	if col > len(line) {
		col = len(line)
	}

	excerpt := displayText(line)
	indent := ansi.StringWidth(displayText(line[:col]))

	fmt.Fprintf(&sb, "    %s\n", excerpt)
	fmt.Fprintf(&sb, "    %s^\n", strings.Repeat(" ", indent))
	return sb.String()
}

func sourceLine(src []byte, n int) ([]byte, bool) {
	if n < 1 {
		return nil, false
	}
	for i := 1; i < n; i++ {
		idx := bytes.IndexByte(src, '\n')
		if idx < 0 {
			return nil, false
		}
		src = src[idx+1:]
	}
	if idx := bytes.IndexByte(src, '\n'); idx >= 0 {
		src = src[:idx]
	}
	return bytes.TrimSuffix(src, []byte("\r")), true
}

func displayText(b []byte) string {
	s := ansi.Strip(string(b))
	return strings.ReplaceAll(s, "\t", "    ")
}
