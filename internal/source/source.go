// Package source handles the two supported input kinds of an image build:
// an archive (zip, or tar with optional compression) and a directory tree.
// It answers two questions about a source: how many content bytes the image
// must hold, and how to copy the content into the mounted filesystem.
package source

import (
	"bytes"
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Kind identifies what SourcePath points at.
type Kind string

const (
	// KindArchive is an archive file whose entries are extracted into the
	// image root.
	KindArchive Kind = "archive"
	// KindDirectory is a directory whose contents (not the directory
	// itself) are copied into the image root.
	KindDirectory Kind = "directory"
)

// zipMagic is the local file header signature of a zip archive.
var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// isZip sniffs the archive format from the file header. Anything that is
// not zip is treated as tar, possibly compressed; the decompression layer
// does its own sniffing.
func isZip(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	magic := make([]byte, len(zipMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(magic, zipMagic), nil
}

// IsCapacityError reports whether err stems from the target filesystem
// running out of space. During populate this means the size estimate
// undercounted and the image cannot hold the content.
func IsCapacityError(err error) bool {
	return errors.Is(err, unix.ENOSPC)
}
