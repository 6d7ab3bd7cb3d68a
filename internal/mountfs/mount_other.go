//go:build !linux

// Package mountfs manages mount sessions; unsupported outside Linux.
package mountfs

import (
	"context"

	"github.com/containerd/errdefs"
)

// Session owns the binding between a loop device and its temporary mount
// directory.
type Session struct {
	Device string
	Target string
}

// Mount mounts the vfat filesystem on device at a temporary directory.
func Mount(ctx context.Context, device string) (*Session, error) {
	return nil, errdefs.ErrNotImplemented
}

// Unmount releases the session.
func (s *Session) Unmount(ctx context.Context) error {
	return nil
}
