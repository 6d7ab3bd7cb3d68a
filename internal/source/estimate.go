package source

import (
	"archive/tar"
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/containerd/containerd/v2/pkg/archive/compression"
)

// EstimateDirectory returns the sum of apparent byte sizes of all regular
// files under root. Apparent sizes, not disk blocks: the image must hold
// the content bytes, how the source filesystem stored them is irrelevant.
func EstimateDirectory(ctx context.Context, root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan directory %s: %w", root, err)
	}
	return total, nil
}

// EstimateArchive returns the sum of uncompressed entry sizes in the
// archive at path. Uncompressed sizes are what matters: the image holds
// extracted content, not the archive itself.
func EstimateArchive(ctx context.Context, path string) (int64, error) {
	zipArchive, err := isZip(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read archive %s: %w", path, err)
	}
	if zipArchive {
		return estimateZip(ctx, path)
	}
	return estimateTar(ctx, path)
}

// estimateZip sums uncompressed sizes from the zip central directory.
func estimateZip(ctx context.Context, path string) (int64, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return 0, fmt.Errorf("failed to list zip archive %s: %w", path, err)
	}
	defer r.Close()

	var total int64
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if f.Mode().IsDir() {
			continue
		}
		total += int64(f.UncompressedSize64)
	}
	return total, nil
}

// estimateTar walks the tar stream (decompressing if needed) and sums the
// sizes recorded in the entry headers.
func estimateTar(ctx context.Context, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer f.Close()

	dr, err := compression.DecompressStream(f)
	if err != nil {
		return 0, fmt.Errorf("failed to decompress archive %s: %w", path, err)
	}
	defer dr.Close()

	var total int64
	tr := tar.NewReader(dr)
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to list archive %s: %w", path, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			total += hdr.Size
		}
	}
	return total, nil
}
