//go:build !linux

package image

import "github.com/containerd/errdefs"

// Allocate creates the backing image file with its full size preallocated.
func Allocate(path string, sizeBytes int64) error {
	return errdefs.ErrNotImplemented
}
