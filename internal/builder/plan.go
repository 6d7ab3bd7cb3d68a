package builder

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/containerd/errdefs"

	"github.com/mmorawiec/create-fat32-image/internal/source"
)

const (
	// SectorSize is fixed at 512 bytes. Images are synthetic, never read
	// back from arbitrary physical disks, so there is nothing to detect.
	SectorSize = 512

	// PartitionStartSector places the partition at the conventional 1 MiB
	// alignment boundary (2048 sectors of 512 bytes).
	PartitionStartSector = 2048

	// fatOverheadMB is the fixed margin added on top of the content size.
	// FAT32 enforces a minimum cluster count; formatting a volume sized
	// only for its content fails below roughly 32 MiB, so every image
	// carries this headroom.
	fatOverheadMB = 33

	mib = 1 << 20
)

// Request is the immutable input of one build.
type Request struct {
	// SourceKind says whether SourcePath is an archive or a directory.
	SourceKind source.Kind
	// SourcePath is the archive file or directory to build the image from.
	SourcePath string
	// OutputDir is where the image file is written.
	OutputDir string
	// VolumeLabel overrides the FAT32 label derived from the source name.
	VolumeLabel string
	// Overwrite allows clobbering an existing image with the same derived
	// name. Off by default: the derived name silently colliding with an
	// earlier build is more likely a mistake than an intent.
	Overwrite bool
}

// NewRequest builds a Request from the mutually exclusive archive/directory
// inputs. Exactly one of archivePath and dirPath must be set.
func NewRequest(archivePath, dirPath, outputDir string) (Request, error) {
	switch {
	case archivePath != "" && dirPath != "":
		return Request{}, fmt.Errorf("archive and directory sources are mutually exclusive: %w", errdefs.ErrInvalidArgument)
	case archivePath != "":
		return Request{SourceKind: source.KindArchive, SourcePath: archivePath, OutputDir: outputDir}, nil
	case dirPath != "":
		return Request{SourceKind: source.KindDirectory, SourcePath: dirPath, OutputDir: outputDir}, nil
	default:
		return Request{}, fmt.Errorf("either an archive or a directory source is required: %w", errdefs.ErrInvalidArgument)
	}
}

// ImagePath derives the output path: <OutputDir>/<basename(SourcePath)>.img.
func (r Request) ImagePath() string {
	return filepath.Join(r.OutputDir, filepath.Base(r.SourcePath)+".img")
}

// Validate checks the request before anything is written to disk.
func (r Request) Validate() error {
	if r.SourcePath == "" {
		return fmt.Errorf("source path is required: %w", errdefs.ErrInvalidArgument)
	}
	if r.OutputDir == "" {
		return fmt.Errorf("output directory is required: %w", errdefs.ErrInvalidArgument)
	}

	info, err := os.Stat(r.SourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("source %s: %w", r.SourcePath, errdefs.ErrNotFound)
		}
		return fmt.Errorf("failed to stat source %s: %w", r.SourcePath, err)
	}

	switch r.SourceKind {
	case source.KindArchive:
		if !info.Mode().IsRegular() {
			return fmt.Errorf("archive source %s is not a regular file: %w", r.SourcePath, errdefs.ErrInvalidArgument)
		}
	case source.KindDirectory:
		if !info.IsDir() {
			return fmt.Errorf("directory source %s is not a directory: %w", r.SourcePath, errdefs.ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("unknown source kind %q: %w", r.SourceKind, errdefs.ErrInvalidArgument)
	}

	if !r.Overwrite {
		if _, err := os.Stat(r.ImagePath()); err == nil {
			return fmt.Errorf("output image %s exists, pass overwrite to replace it: %w", r.ImagePath(), errdefs.ErrAlreadyExists)
		}
	}
	return nil
}

// Plan is the geometry derived once from a request and its measured
// content size. The partition offset recorded here is the single source of
// truth: partitioning, formatting and loop attachment must all observe the
// same value or the filesystem ends up addressed inconsistently.
type Plan struct {
	ImagePath            string
	ContentBytes         int64
	SizeBytes            int64
	PartitionStartSector int64
	SectorSize           int64
}

// NewPlan derives the image plan from the request and the estimated
// content size.
func NewPlan(req Request, contentBytes int64) Plan {
	return Plan{
		ImagePath:            req.ImagePath(),
		ContentBytes:         contentBytes,
		SizeBytes:            imageSizeBytes(contentBytes),
		PartitionStartSector: PartitionStartSector,
		SectorSize:           SectorSize,
	}
}

// PartitionOffsetBytes is the byte offset at which the filesystem begins.
func (p Plan) PartitionOffsetBytes() int64 {
	return p.PartitionStartSector * p.SectorSize
}

// PartitionSizeBytes is the span of the partition, from its start to the
// end of the image.
func (p Plan) PartitionSizeBytes() int64 {
	return p.SizeBytes - p.PartitionOffsetBytes()
}

// imageSizeBytes computes the image length: the content size rounded up to
// whole mebibytes plus the fixed FAT32 overhead margin.
func imageSizeBytes(contentBytes int64) int64 {
	sizeMB := (contentBytes+mib-1)/mib + fatOverheadMB
	return sizeMB * mib
}
