// Package loop manages Linux loop devices bound at a byte offset into a
// disk image, so that I/O against the device addresses a single partition's
// filesystem region rather than the whole image.
package loop

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Loop device ioctl constants from <linux/loop.h>
const (
	loopSetFd       = 0x4C00
	loopClrFd       = 0x4C01
	loopSetStatus64 = 0x4C04
	loopGetStatus64 = 0x4C05
	loopCtlGetFree  = 0x4C82
)

// Attach selects a free loop device and binds it to imagePath starting at
// offset, limited to sizeLimit bytes (0 means to the end of the file).
//
// Selecting the free device and binding it are two separate kernel calls;
// a concurrent process can claim the chosen device in between. The kernel
// rejects the second LOOP_SET_FD with EBUSY, which surfaces here as an
// error rather than a silent cross-bind. Acceptable for single-invocation
// use; callers that reuse this in a multi-process context need their own
// retry loop.
func Attach(imagePath string, offset, sizeLimit uint64) (*Attachment, error) {
	backingFd, err := unix.Open(imagePath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", imagePath, err)
	}
	defer unix.Close(backingFd)

	ctlFd, err := unix.Open("/dev/loop-control", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open /dev/loop-control: %w", err)
	}
	defer unix.Close(ctlFd)

	devNum, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(ctlFd), loopCtlGetFree, 0)
	if errno != 0 {
		return nil, fmt.Errorf("LOOP_CTL_GET_FREE failed: %w", errno)
	}

	loopPath := fmt.Sprintf("/dev/loop%d", devNum)

	loopFd, err := unix.Open(loopPath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open loop device %s: %w", loopPath, err)
	}
	defer unix.Close(loopFd)

	_, _, errno = unix.Syscall(unix.SYS_IOCTL, uintptr(loopFd), loopSetFd, uintptr(backingFd))
	if errno != 0 {
		return nil, fmt.Errorf("LOOP_SET_FD failed for %s: %w", loopPath, errno)
	}

	var info Info64
	info.Offset = offset
	info.SizeLimit = sizeLimit
	copy(info.FileName[:], imagePath)

	_, _, errno = unix.Syscall(unix.SYS_IOCTL, uintptr(loopFd), loopSetStatus64, uintptr(unsafe.Pointer(&info)))
	if errno != 0 {
		// Unbind again, the half-configured device must not leak
		unix.Syscall(unix.SYS_IOCTL, uintptr(loopFd), loopClrFd, 0)
		return nil, fmt.Errorf("LOOP_SET_STATUS64 failed for %s: %w", loopPath, errno)
	}

	return &Attachment{
		Path:        loopPath,
		Number:      int(devNum),
		BackingFile: imagePath,
		Offset:      offset,
	}, nil
}

// Info retrieves the current status of the loop device.
func (a *Attachment) Info() (*Info64, error) {
	loopFd, err := unix.Open(a.Path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open loop device %s: %w", a.Path, err)
	}
	defer unix.Close(loopFd)

	var info Info64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(loopFd), loopGetStatus64, uintptr(unsafe.Pointer(&info)))
	if errno != 0 {
		return nil, fmt.Errorf("LOOP_GET_STATUS64 failed for %s: %w", a.Path, errno)
	}

	return &info, nil
}

// Detach releases the binding. It is safe to call more than once and
// returns nil when the device was already detached, never bound, or the
// device node is gone.
func (a *Attachment) Detach() error {
	if a == nil || a.detached || a.Path == "" {
		return nil
	}

	loopFd, err := unix.Open(a.Path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		if os.IsNotExist(err) {
			a.detached = true
			return nil
		}
		return fmt.Errorf("failed to open loop device %s: %w", a.Path, err)
	}
	defer unix.Close(loopFd)

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(loopFd), loopClrFd, 0)
	if errno != 0 && errno != unix.ENXIO {
		// ENXIO means device not configured, which is fine
		return fmt.Errorf("LOOP_CLR_FD failed for %s: %w", a.Path, errno)
	}

	a.detached = true
	return nil
}
