//go:build linux && amd64

package amd64

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/tinyrange/bfc/internal/asm"
)

func TestStandaloneELFExecutes(t *testing.T) {
	elfBytes, err := EmitStandaloneELF(asm.Group{
		// Zero 16 bytes of stack and use the first one as the buffer.
		SubRegImm(Reg64(RSP), 16),
		MovReg(Reg64(RSI), Reg64(RSP)),
		MovReg(Reg64(RDI), Reg64(RSP)),
		MovImmediate(Reg32(RCX), 16),
		XorRegReg(Reg32(RAX), Reg32(RAX)),
		RepStosb(),
		AddMemImm8(Mem(Reg64(RSI)), 'k'),
		SyscallWrite(asm.Immediate(1), UseRegister(RSI), asm.Immediate(1)),
		Exit(7),
	})
	if err != nil {
		t.Fatalf("EmitStandaloneELF failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "standalone")
	if err := os.WriteFile(path, elfBytes, 0o755); err != nil {
		t.Fatalf("write ELF: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, path).Output()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 7 {
		t.Fatalf("executing standalone ELF: err=%v, want exit status 7", err)
	}
	if got, want := string(out), "k"; got != want {
		t.Fatalf("stdout=%q, want %q", got, want)
	}
}
