package image

import (
	"context"
	"encoding/hex"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/containerd/log"
	"github.com/google/uuid"

	"github.com/mmorawiec/create-fat32-image/internal/stringutil"
)

// maxLabelLen is the FAT32 volume label limit (11 bytes, 8.3 era).
const maxLabelLen = 11

// Format creates a FAT32 filesystem inside the image at path, beginning at
// offsetSectors (512-byte sectors). mkfs.fat formats from the offset to the
// end of the file, which matches a partition that extends to 100% of the
// image. offsetSectors must equal the sector the partition table points at.
func Format(ctx context.Context, path string, offsetSectors int64, label, serial string) error {
	args := []string{"-F", "32", "--offset", strconv.FormatInt(offsetSectors, 10)}
	if label != "" {
		args = append(args, "-n", label)
	}
	if serial != "" {
		args = append(args, "-i", serial)
	}
	args = append(args, path)

	cmd := exec.CommandContext(ctx, "mkfs.fat", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mkfs.fat %v failed: %s: %w", args, stringutil.TruncateOutput(out, maxToolOutput), err)
	}
	log.G(ctx).Debugf("mkfs.fat %v: %s", args, stringutil.TruncateOutput(out, maxToolOutput))
	return nil
}

// NewSerial derives a random FAT volume id (8 hex digits) for mkfs.fat -i.
func NewSerial() string {
	id := uuid.New()
	return strings.ToUpper(hex.EncodeToString(id[:4]))
}

// DeriveLabel turns a source file or directory name into a valid FAT32
// volume label: uppercase, at most 11 bytes, restricted to characters the
// filesystem allows. Returns "" when nothing usable remains so the volume stays
// unlabeled instead of carrying a mangled name.
func DeriveLabel(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if b.Len() >= maxLabelLen {
			break
		}
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ', r == '.':
			b.WriteRune('_')
		}
	}
	return b.String()
}
