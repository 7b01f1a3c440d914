//go:build unix

package bfc

import (
	"os"

	"golang.org/x/sys/unix"
)

func setMode(f *os.File, perm os.FileMode) error {
	return unix.Fchmod(int(f.Fd()), uint32(perm.Perm()))
}
