//go:build !linux

// Package preflight provides system requirement checks for the image
// builder.
package preflight

import "fmt"

// Check fails on non-Linux systems: loop devices and vfat mounts are Linux
// kernel facilities.
func Check() error {
	return fmt.Errorf("building FAT32 images requires Linux (loop devices and mount support)")
}
