// Package image creates, partitions and formats the backing image file of a
// FAT32 disk image. Partitioning and formatting shell out to sfdisk(8) and
// mkfs.fat(8); both operate directly on the image file, no block device is
// required at this stage.
package image

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/containerd/log"

	"github.com/mmorawiec/create-fat32-image/internal/stringutil"
)

// fat32PartitionType is the MBR partition type id for FAT32 with LBA
// addressing (W95 FAT32).
const fat32PartitionType = "c"

// maxToolOutput limits how much captured tool output ends up in errors.
const maxToolOutput = 256

// sfdiskScript renders the sfdisk input describing one primary FAT32
// partition starting at startSector and extending to the end of the image.
func sfdiskScript(startSector int64) string {
	return fmt.Sprintf("label: dos\nstart=%d, type=%s\n", startSector, fat32PartitionType)
}

// Partition writes an MSDOS partition table with a single primary FAT32
// partition into the image at path. The partition begins at startSector
// (512-byte sectors) and takes the rest of the image. The same sector
// offset must later be handed to Format and to the loop attachment, any
// mismatch corrupts addressing.
func Partition(ctx context.Context, path string, startSector int64) error {
	script := sfdiskScript(startSector)
	cmd := exec.CommandContext(ctx, "sfdisk", "--quiet", path)
	cmd.Stdin = strings.NewReader(script)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("sfdisk %s failed: %s: %w", path, stringutil.TruncateOutput(out, maxToolOutput), err)
	}
	log.G(ctx).Debugf("sfdisk %s with %q: %s", path, script, stringutil.TruncateOutput(out, maxToolOutput))
	return nil
}
