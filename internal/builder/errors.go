package builder

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a build failure for programmatic handling.
type ErrorCode int

const (
	// ErrCodeUnknown indicates an unclassified error.
	ErrCodeUnknown ErrorCode = iota
	// ErrCodeSourceUnreadable indicates the source listing/scan failed.
	ErrCodeSourceUnreadable
	// ErrCodeAllocationFailed indicates the image file could not be
	// created or preallocated.
	ErrCodeAllocationFailed
	// ErrCodePartitionWriteFailed indicates the partitioning tool failed.
	ErrCodePartitionWriteFailed
	// ErrCodeFormatFailed indicates FAT32 formatting failed.
	ErrCodeFormatFailed
	// ErrCodeLoopAttachFailed indicates no loop device could be bound.
	ErrCodeLoopAttachFailed
	// ErrCodeMountFailed indicates a mount or unmount operation failed.
	ErrCodeMountFailed
	// ErrCodePopulateFailed indicates extraction/copy into the image failed.
	ErrCodePopulateFailed
	// ErrCodeCapacityExceeded indicates populate ran out of space, i.e.
	// the size estimate undercounted.
	ErrCodeCapacityExceeded
	// ErrCodeCleanupFailed indicates best-effort teardown failed. Never
	// fatal on its own; it only appears in logs.
	ErrCodeCleanupFailed
)

// String returns the string representation of an error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeSourceUnreadable:
		return "SOURCE_UNREADABLE"
	case ErrCodeAllocationFailed:
		return "ALLOCATION_FAILED"
	case ErrCodePartitionWriteFailed:
		return "PARTITION_WRITE_FAILED"
	case ErrCodeFormatFailed:
		return "FORMAT_FAILED"
	case ErrCodeLoopAttachFailed:
		return "LOOP_ATTACH_FAILED"
	case ErrCodeMountFailed:
		return "MOUNT_FAILED"
	case ErrCodePopulateFailed:
		return "POPULATE_FAILED"
	case ErrCodeCapacityExceeded:
		return "CAPACITY_EXCEEDED"
	case ErrCodeCleanupFailed:
		return "CLEANUP_FAILED"
	default:
		return "UNKNOWN"
	}
}

// BuildError is a build failure tied to the stage that produced it. The
// underlying tool/syscall error is preserved in Cause for unwrapping.
type BuildError struct {
	Stage Stage     // stage the build was entering when it failed
	Code  ErrorCode // failure classification
	Path  string    // image path, device path or source path involved
	Cause error     // underlying error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed at stage %s (%s) for %s: %v", e.Stage, e.Code, e.Path, e.Cause)
}

func (e *BuildError) Unwrap() error {
	return e.Cause
}

// IsErrorCode checks if an error carries the specified error code.
func IsErrorCode(err error, code ErrorCode) bool {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}
