// Package preflight provides system requirement checks for the image
// builder, run early in main to fail fast before any image file is touched.
package preflight

import (
	"fmt"
	"os"
	"os/exec"
)

// requiredTools are the external programs the build shells out to.
var requiredTools = []string{"sfdisk", "mkfs.fat"}

// Check verifies the environment can run a build: root privileges for loop
// attach and mount, loop device support, and the partitioning/formatting
// tools on PATH.
func Check() error {
	if err := CheckPrivilege(); err != nil {
		return err
	}
	if err := CheckLoopControl(); err != nil {
		return err
	}
	return CheckTools()
}

// CheckPrivilege verifies the process runs with euid 0. Loop attach, mount
// and unmount all require CAP_SYS_ADMIN; there is no point starting a build
// that fails halfway through at the attach step.
func CheckPrivilege() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("root privileges required: loop device attach and mount need CAP_SYS_ADMIN")
	}
	return nil
}

// CheckLoopControl verifies the kernel exposes /dev/loop-control, the node
// used to pick a free loop device.
func CheckLoopControl() error {
	if _, err := os.Stat("/dev/loop-control"); err != nil {
		return fmt.Errorf("loop device support unavailable: %w", err)
	}
	return nil
}

// CheckTools verifies the external partitioning and formatting tools exist.
func CheckTools() error {
	for _, tool := range requiredTools {
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("required tool %q not found in PATH: %w", tool, err)
		}
	}
	return nil
}
