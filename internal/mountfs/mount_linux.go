// Package mountfs manages the mount session of a freshly formatted loop
// device: a scoped temporary mount directory that exists only for the
// duration of one build.
package mountfs

import (
	"context"
	"fmt"
	"os"

	"github.com/containerd/log"
	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

// Session owns the binding between a loop device and its temporary mount
// directory. The directory is created by Mount, owned exclusively by the
// build, and removed by Unmount.
type Session struct {
	// Device is the loop device node the filesystem was mounted from.
	Device string
	// Target is the temporary mount directory.
	Target string

	unmounted bool
}

// Mount creates a uniquely named temporary directory and mounts the vfat
// filesystem on device there. A mount failure usually means the formatting
// step did not produce a valid filesystem at the device's offset.
//
// The "quiet" option makes the fat driver accept and ignore chmod/chown,
// which FAT32 cannot represent; without it extraction tools that restore
// permissions fail spuriously.
func Mount(ctx context.Context, device string) (*Session, error) {
	target, err := os.MkdirTemp("", "fat32-image-mount-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create mount directory: %w", err)
	}

	if err := unix.Mount(device, target, "vfat", 0, "quiet"); err != nil {
		if rmErr := os.Remove(target); rmErr != nil {
			log.G(ctx).WithError(rmErr).Warnf("failed to remove mount directory %s", target)
		}
		return nil, fmt.Errorf("failed to mount %s on %s: %w", device, target, err)
	}

	log.G(ctx).Debugf("mounted %s on %s", device, target)
	return &Session{Device: device, Target: target}, nil
}

// Unmount flushes and unmounts the filesystem, then removes the mount
// directory. It is safe to call more than once; a session that was already
// released is a no-op. Removal of the directory is best-effort: an unmount
// error is returned, a removal failure is only logged.
func (s *Session) Unmount(ctx context.Context) error {
	if s == nil || s.unmounted || s.Target == "" {
		return nil
	}

	mounted, err := mountinfo.Mounted(s.Target)
	if err != nil {
		if os.IsNotExist(err) {
			s.unmounted = true
			return nil
		}
		log.G(ctx).WithError(err).Warnf("failed to stat mount %s, attempting unmount anyway", s.Target)
		mounted = true
	}

	if mounted {
		if err := unix.Unmount(s.Target, 0); err != nil {
			return fmt.Errorf("failed to unmount %s: %w", s.Target, err)
		}
	}
	s.unmounted = true

	if err := os.Remove(s.Target); err != nil && !os.IsNotExist(err) {
		log.G(ctx).WithError(err).Warnf("failed to remove mount directory %s", s.Target)
	}
	return nil
}
