//go:build unix

package bfc_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tinyrange/bfc"
	"golang.org/x/sys/unix"
)

func TestWriteExecutableIsExecutable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out")
	if err := bfc.WriteExecutable(path, []byte{0x7f, 'E', 'L', 'F'}); err != nil {
		t.Fatalf("WriteExecutable failed: %v", err)
	}
	if err := unix.Access(path, unix.X_OK); err != nil {
		t.Fatalf("output not executable: %v", err)
	}
}

func TestWriteExecutableMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out")
	if err := bfc.WriteExecutable(path, []byte{1}); err == nil {
		t.Fatalf("WriteExecutable into a missing directory succeeded")
	}
}

func TestWriteOutputMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "code.bin")
	if err := bfc.WriteOutput(path, []byte{0x90}, 0o644); err != nil {
		t.Fatalf("WriteOutput failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if got, want := info.Mode().Perm(), os.FileMode(0o644); got != want {
		t.Fatalf("mode=%v, want %v", got, want)
	}
}

func TestWriteOutputFailedRenameLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	// A non-empty directory cannot be replaced by a file.
	target := filepath.Join(dir, "out")
	if err := os.MkdirAll(filepath.Join(target, "keep"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	if err := bfc.WriteOutput(target, []byte{1, 2, 3}, 0o644); err == nil {
		t.Fatalf("WriteOutput over a directory succeeded")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "out" {
		t.Fatalf("directory holds %v, want only the original out", entries)
	}
}
