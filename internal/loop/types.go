package loop

// Loop device flags from <linux/loop.h>
const (
	LoFlagsReadOnly  = 1 << 0
	LoFlagsAutoclear = 1 << 2
	LoFlagsPartscan  = 1 << 3
)

// Info64 mirrors the kernel's struct loop_info64 from <linux/loop.h>, used
// with LOOP_SET_STATUS64/LOOP_GET_STATUS64.
type Info64 struct {
	Device         uint64
	Inode          uint64
	Rdevice        uint64
	Offset         uint64
	SizeLimit      uint64
	Number         uint32
	EncryptType    uint32
	EncryptKeySize uint32
	Flags          uint32
	FileName       [64]byte
	CryptName      [64]byte
	EncryptKey     [32]byte
	Init           [2]uint64
}

// BackingFile returns the backing file path recorded in the device info.
// The kernel stores at most 64 bytes, so long paths come back truncated.
func (info *Info64) BackingFile() string {
	for i, b := range info.FileName {
		if b == 0 {
			return string(info.FileName[:i])
		}
	}
	return string(info.FileName[:])
}

// Attachment owns one loop device binding for the lifetime of a build.
// It is created by Attach and released by Detach; a leaked Attachment
// consumes one of the system's loop device slots until reboot or manual
// losetup -d.
type Attachment struct {
	// Path is the device node path (e.g. "/dev/loop0").
	Path string
	// Number is the loop device number.
	Number int
	// BackingFile is the image file the device is bound to.
	BackingFile string
	// Offset is the byte offset into the backing file where the device's
	// sector 0 maps.
	Offset uint64

	detached bool
}
