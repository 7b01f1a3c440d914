package bfc

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// pendingOutputs holds the temporary files of writes still in progress.
var pendingOutputs sync.Map

// WriteExecutable stores image at path with mode 0755.
func WriteExecutable(path string, image []byte) error {
	return WriteOutput(path, image, 0o755)
}

// WriteOutput stores data at path with the given permission bits. The data
// goes to a temporary file in the same directory that is renamed over path
// once it is complete, so a failed write never leaves a partial file behind
// and an existing file at path is only replaced on success.
func WriteOutput(path string, data []byte, perm os.FileMode) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	tmp := f.Name()
	pendingOutputs.Store(tmp, struct{}{})
	defer func() {
		pendingOutputs.Delete(tmp)
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := setMode(f, perm); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// RemovePartialOutputs deletes the temporary files of writes that have not
// finished. Callers that exit the process from a signal handler run it first
// so an interrupted write leaves nothing behind.
func RemovePartialOutputs() {
	pendingOutputs.Range(func(key, _ any) bool {
		os.Remove(key.(string))
		pendingOutputs.Delete(key)
		return true
	})
}
