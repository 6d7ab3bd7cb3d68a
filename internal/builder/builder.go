// Package builder sequences a FAT32 disk image build: size the content,
// allocate and partition the image file, format the partition region,
// attach a loop device at the partition offset, mount it, populate it, and
// release everything in reverse order.
package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/containerd/log"

	"github.com/mmorawiec/create-fat32-image/internal/cleanup"
	"github.com/mmorawiec/create-fat32-image/internal/image"
	"github.com/mmorawiec/create-fat32-image/internal/source"
)

// Stage names the orchestrator's position in the build sequence. Each
// transition is driven by exactly one component call.
type Stage int

const (
	StageValidated Stage = iota
	StageSized
	StageAllocated
	StagePartitioned
	StageFormatted
	StageAttached
	StageMounted
	StagePopulated
	StageUnmounted
	StageDetached
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageValidated:
		return "Validated"
	case StageSized:
		return "Sized"
	case StageAllocated:
		return "Allocated"
	case StagePartitioned:
		return "Partitioned"
	case StageFormatted:
		return "Formatted"
	case StageAttached:
		return "Attached"
	case StageMounted:
		return "Mounted"
	case StagePopulated:
		return "Populated"
	case StageUnmounted:
		return "Unmounted"
	case StageDetached:
		return "Detached"
	case StageDone:
		return "Done"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// LoopDevice is an owned loop device binding. Detach must be idempotent:
// the orchestrator calls it on every exit path past attachment.
type LoopDevice interface {
	DevicePath() string
	Detach() error
}

// MountHandle is an owned mount of a loop device at a scoped temporary
// directory. Unmount must be idempotent for the same reason.
type MountHandle interface {
	Root() string
	Unmount(ctx context.Context) error
}

// SizeEstimator computes the content bytes an input source will occupy.
type SizeEstimator interface {
	Estimate(ctx context.Context, req Request) (int64, error)
}

// ImageAllocator creates the preallocated backing image file.
type ImageAllocator interface {
	Allocate(ctx context.Context, path string, sizeBytes int64) error
}

// PartitionPlanner writes the partition table at the planned sector offset.
type PartitionPlanner interface {
	Partition(ctx context.Context, path string, startSector int64) error
}

// FilesystemFormatter formats FAT32 inside the partition region.
type FilesystemFormatter interface {
	Format(ctx context.Context, path string, startSector int64, label string) error
}

// LoopDeviceManager hands out loop device bindings scoped to one build.
type LoopDeviceManager interface {
	Attach(ctx context.Context, path string, offsetBytes, sizeLimitBytes int64) (LoopDevice, error)
}

// MountManager mounts an attached loop device at a scoped directory.
type MountManager interface {
	Mount(ctx context.Context, devicePath string) (MountHandle, error)
}

// ContentPopulator copies the source content into the mounted filesystem.
type ContentPopulator interface {
	Populate(ctx context.Context, req Request, root string) error
}

// Result describes a completed build.
type Result struct {
	ImagePath    string
	SizeBytes    int64
	ContentBytes int64
	Duration     time.Duration
}

// Builder orchestrates one image build at a time. Builds against different
// output paths may run concurrently in separate processes; two builds
// targeting the same output path race with last-writer-wins semantics.
type Builder struct {
	estimator   SizeEstimator
	allocator   ImageAllocator
	partitioner PartitionPlanner
	formatter   FilesystemFormatter
	loops       LoopDeviceManager
	mounter     MountManager
	populator   ContentPopulator
}

// New returns a Builder wired to the real components: filesystem walks and
// archive listings for sizing, fallocate, sfdisk, mkfs.fat, kernel loop
// devices and vfat mounts.
func New() *Builder {
	return &Builder{
		estimator:   walkEstimator{},
		allocator:   fileAllocator{},
		partitioner: sfdiskPlanner{},
		formatter:   mkfsFormatter{},
		loops:       kernelLoopManager{},
		mounter:     vfatMounter{},
		populator:   sourcePopulator{},
	}
}

// Build runs the full sequence and returns the produced image. On failure
// at or past loop attachment it releases the mount and the loop device in
// reverse order before reporting; the image file itself is always left in
// place for inspection. No step is retried.
func (b *Builder) Build(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	contentBytes, err := b.estimator.Estimate(ctx, req)
	if err != nil {
		return nil, &BuildError{Stage: StageSized, Code: ErrCodeSourceUnreadable, Path: req.SourcePath, Cause: err}
	}

	plan := NewPlan(req, contentBytes)
	log.G(ctx).WithFields(log.Fields{
		"image":   plan.ImagePath,
		"content": plan.ContentBytes,
		"size":    plan.SizeBytes,
		"offset":  plan.PartitionOffsetBytes(),
	}).Info("planned image")

	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return nil, &BuildError{Stage: StageAllocated, Code: ErrCodeAllocationFailed, Path: req.OutputDir, Cause: err}
	}
	if err := b.allocator.Allocate(ctx, plan.ImagePath, plan.SizeBytes); err != nil {
		return nil, &BuildError{Stage: StageAllocated, Code: ErrCodeAllocationFailed, Path: plan.ImagePath, Cause: err}
	}

	if err := b.partitioner.Partition(ctx, plan.ImagePath, plan.PartitionStartSector); err != nil {
		return nil, &BuildError{Stage: StagePartitioned, Code: ErrCodePartitionWriteFailed, Path: plan.ImagePath, Cause: err}
	}

	label := req.VolumeLabel
	if label == "" {
		label = image.DeriveLabel(filepath.Base(req.SourcePath))
	}
	if err := b.formatter.Format(ctx, plan.ImagePath, plan.PartitionStartSector, label); err != nil {
		return nil, &BuildError{Stage: StageFormatted, Code: ErrCodeFormatFailed, Path: plan.ImagePath, Cause: err}
	}

	dev, err := b.loops.Attach(ctx, plan.ImagePath, plan.PartitionOffsetBytes(), plan.PartitionSizeBytes())
	if err != nil {
		return nil, &BuildError{Stage: StageAttached, Code: ErrCodeLoopAttachFailed, Path: plan.ImagePath, Cause: err}
	}
	log.G(ctx).Debugf("attached %s at offset %d", dev.DevicePath(), plan.PartitionOffsetBytes())

	mnt, err := b.mounter.Mount(ctx, dev.DevicePath())
	if err != nil {
		b.release(ctx, nil, dev)
		return nil, &BuildError{Stage: StageMounted, Code: ErrCodeMountFailed, Path: dev.DevicePath(), Cause: err}
	}
	log.G(ctx).Debugf("mounted %s on %s", dev.DevicePath(), mnt.Root())

	if err := b.populator.Populate(ctx, req, mnt.Root()); err != nil {
		b.release(ctx, mnt, dev)
		code := ErrCodePopulateFailed
		if source.IsCapacityError(err) {
			code = ErrCodeCapacityExceeded
		}
		return nil, &BuildError{Stage: StagePopulated, Code: code, Path: plan.ImagePath, Cause: err}
	}

	// Past this point the content is on the image; unmount must flush it.
	// An unmount failure is fatal, the filesystem state is unknown.
	if err := mnt.Unmount(ctx); err != nil {
		b.release(ctx, nil, dev)
		return nil, &BuildError{Stage: StageUnmounted, Code: ErrCodeMountFailed, Path: mnt.Root(), Cause: err}
	}

	// Detach after a clean unmount is best-effort: the data is flushed,
	// a lingering device leaks a slot but does not invalidate the image.
	if err := dev.Detach(); err != nil {
		log.G(ctx).WithError(err).Warnf("%s: failed to detach %s, loop device leaked", ErrCodeCleanupFailed, dev.DevicePath())
	}

	res := &Result{
		ImagePath:    plan.ImagePath,
		SizeBytes:    plan.SizeBytes,
		ContentBytes: plan.ContentBytes,
		Duration:     time.Since(start),
	}
	log.G(ctx).WithFields(log.Fields{
		"image":    res.ImagePath,
		"size":     res.SizeBytes,
		"duration": res.Duration,
	}).Info("image built")
	return res, nil
}

// release is the reverse-order best-effort teardown used on failure paths
// past attachment: unmount if mounted, then detach. It runs on a context
// detached from the build's cancellation and never masks the original
// error; its own failures are only logged.
func (b *Builder) release(ctx context.Context, mnt MountHandle, dev LoopDevice) {
	cleanup.Do(ctx, func(ctx context.Context) {
		if mnt != nil {
			if err := mnt.Unmount(ctx); err != nil {
				log.G(ctx).WithError(err).Warnf("%s: failed to unmount %s", ErrCodeCleanupFailed, mnt.Root())
			}
		}
		if dev != nil {
			if err := dev.Detach(); err != nil {
				log.G(ctx).WithError(err).Warnf("%s: failed to detach %s", ErrCodeCleanupFailed, dev.DevicePath())
			}
		}
	})
}
