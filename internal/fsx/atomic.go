// Package fsx provides the durable whole-file replace used by checkpoint-style
// writers in pkg/addrarray and pkg/dataarray.
package fsx

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	natomic "github.com/natefinch/atomic"
)

// WriteFile durably replaces the file at path with data: a temp file in the
// same directory, synced and renamed over path by natefinch/atomic, followed
// by an fsync of the parent directory so the rename itself survives a crash.
//
// Used for AddressArray checkpoints and DataArray segment manifests, the two
// places this store durably replaces a whole file rather than appending to
// one.
func WriteFile(path string, data []byte) error {
	if err := natomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("fsx: atomic write %q: %w", path, err)
	}

	if err := syncDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("fsx: sync parent dir of %q: %w", path, err)
	}

	return nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()

	return f.Sync()
}
