package builder

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"

	"github.com/mmorawiec/create-fat32-image/internal/image"
	"github.com/mmorawiec/create-fat32-image/internal/loop"
	"github.com/mmorawiec/create-fat32-image/internal/mountfs"
	"github.com/mmorawiec/create-fat32-image/internal/source"
)

// walkEstimator sizes directory sources by walking them and archive
// sources from their entry listing.
type walkEstimator struct{}

func (walkEstimator) Estimate(ctx context.Context, req Request) (int64, error) {
	switch req.SourceKind {
	case source.KindArchive:
		return source.EstimateArchive(ctx, req.SourcePath)
	case source.KindDirectory:
		return source.EstimateDirectory(ctx, req.SourcePath)
	default:
		return 0, fmt.Errorf("unknown source kind %q: %w", req.SourceKind, errdefs.ErrInvalidArgument)
	}
}

// fileAllocator preallocates the backing file with fallocate.
type fileAllocator struct{}

func (fileAllocator) Allocate(_ context.Context, path string, sizeBytes int64) error {
	return image.Allocate(path, sizeBytes)
}

// sfdiskPlanner writes the partition table with sfdisk.
type sfdiskPlanner struct{}

func (sfdiskPlanner) Partition(ctx context.Context, path string, startSector int64) error {
	return image.Partition(ctx, path, startSector)
}

// mkfsFormatter formats FAT32 with mkfs.fat at the partition offset, with a
// fresh random volume serial per build.
type mkfsFormatter struct{}

func (mkfsFormatter) Format(ctx context.Context, path string, startSector int64, label string) error {
	return image.Format(ctx, path, startSector, label, image.NewSerial())
}

// kernelLoopManager binds kernel loop devices through /dev/loop-control.
type kernelLoopManager struct{}

func (kernelLoopManager) Attach(_ context.Context, path string, offsetBytes, sizeLimitBytes int64) (LoopDevice, error) {
	a, err := loop.Attach(path, uint64(offsetBytes), uint64(sizeLimitBytes))
	if err != nil {
		return nil, err
	}
	return loopDevice{a}, nil
}

type loopDevice struct {
	*loop.Attachment
}

func (d loopDevice) DevicePath() string { return d.Path }

// vfatMounter mounts the device at a scoped temporary directory.
type vfatMounter struct{}

func (vfatMounter) Mount(ctx context.Context, devicePath string) (MountHandle, error) {
	s, err := mountfs.Mount(ctx, devicePath)
	if err != nil {
		return nil, err
	}
	return mountHandle{s}, nil
}

type mountHandle struct {
	*mountfs.Session
}

func (m mountHandle) Root() string { return m.Target }

// sourcePopulator extracts or copies the source into the mount root.
type sourcePopulator struct{}

func (sourcePopulator) Populate(ctx context.Context, req Request, root string) error {
	switch req.SourceKind {
	case source.KindArchive:
		return source.PopulateArchive(ctx, req.SourcePath, root)
	case source.KindDirectory:
		return source.PopulateDirectory(ctx, req.SourcePath, root)
	default:
		return fmt.Errorf("unknown source kind %q: %w", req.SourceKind, errdefs.ErrInvalidArgument)
	}
}
