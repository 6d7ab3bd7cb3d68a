package image

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Allocate creates the backing image file at path with exactly sizeBytes
// bytes reserved on disk. The space is preallocated rather than written
// sparsely so that later writes through the loop device cannot fail with
// ENOSPC after the filesystem was already formatted.
//
// An existing file at path is truncated. Callers decide beforehand whether
// overwriting is acceptable; on failure a partial file may remain for
// inspection.
func Allocate(path string, sizeBytes int64) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create image file %s: %w", path, err)
	}

	if err := unix.Fallocate(int(f.Fd()), 0, 0, sizeBytes); err != nil {
		f.Close()
		return fmt.Errorf("failed to preallocate %d bytes for %s: %w", sizeBytes, path, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close image file %s: %w", path, err)
	}
	return nil
}
