//go:build !unix

package bfc

import "os"

func setMode(f *os.File, perm os.FileMode) error {
	return f.Chmod(perm.Perm())
}
