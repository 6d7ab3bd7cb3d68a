package source

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/containerd/containerd/v2/pkg/archive"
	"github.com/containerd/containerd/v2/pkg/archive/compression"
	"github.com/containerd/log"
)

// PopulateArchive extracts all archive entries into targetDir, preserving
// relative paths and directory structure.
func PopulateArchive(ctx context.Context, path, targetDir string) error {
	zipArchive, err := isZip(path)
	if err != nil {
		return fmt.Errorf("failed to read archive %s: %w", path, err)
	}
	if zipArchive {
		return populateZip(ctx, path, targetDir)
	}
	return populateTar(ctx, path, targetDir)
}

// populateTar applies a tar stream onto targetDir. Ownership restoration is
// disabled: FAT32 has no notion of owners and the chown calls would be
// wasted even under the quiet mount option.
func populateTar(ctx context.Context, path, targetDir string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer f.Close()

	dr, err := compression.DecompressStream(f)
	if err != nil {
		return fmt.Errorf("failed to decompress archive %s: %w", path, err)
	}
	defer dr.Close()

	n, err := archive.Apply(ctx, targetDir, dr, archive.WithNoSameOwner())
	if err != nil {
		return fmt.Errorf("failed to extract archive %s: %w", path, err)
	}
	log.G(ctx).Debugf("extracted %d bytes from %s into %s", n, path, targetDir)
	return nil
}

func populateZip(ctx context.Context, path, targetDir string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("failed to open zip archive %s: %w", path, err)
	}
	defer r.Close()

	for _, entry := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := extractZipEntry(entry, targetDir); err != nil {
			return fmt.Errorf("failed to extract zip entry %q: %w", entry.Name, err)
		}
	}
	return nil
}

func extractZipEntry(entry *zip.File, targetDir string) error {
	target, err := resolveTarget(targetDir, entry.Name)
	if err != nil {
		return err
	}

	if entry.Mode().IsDir() {
		return os.MkdirAll(target, 0755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	return writeFile(target, rc)
}

// PopulateDirectory recursively copies the contents of sourceDir (not the
// directory itself) into targetDir. Symbolic links are skipped with a
// warning: FAT32 cannot represent them. Other non-regular entries (device
// nodes, sockets, fifos) are skipped silently, they have no place on a
// data volume.
func PopulateDirectory(ctx context.Context, sourceDir, targetDir string) error {
	return filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(targetDir, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0755)
		case d.Type()&fs.ModeSymlink != 0:
			log.G(ctx).Warnf("skipping symlink %s: not representable on FAT32", path)
			return nil
		case d.Type().IsRegular():
			return copyFile(path, target)
		default:
			return nil
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	return writeFile(dst, in)
}

func writeFile(dst string, r io.Reader) error {
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	// Close flushes buffered writes to the mounted filesystem, an ENOSPC
	// can surface here rather than in Copy
	return out.Close()
}

// resolveTarget joins an archive entry name onto targetDir and rejects
// entries that would escape it.
func resolveTarget(targetDir, name string) (string, error) {
	target := filepath.Join(targetDir, filepath.Clean(name))
	if target != targetDir && !strings.HasPrefix(target, targetDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("entry path %q escapes extraction root", name)
	}
	return target, nil
}
