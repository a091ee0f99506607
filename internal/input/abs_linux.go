//go:build linux

package input

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// absInfo is struct input_absinfo.
type absInfo struct {
	Value      int32
	Minimum    int32
	Maximum    int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

// eviocgabs is _IOR('E', 0x40 + axis, struct input_absinfo).
func eviocgabs(axis uint16) uintptr {
	const iocRead = 2
	return iocRead<<30 | unsafe.Sizeof(absInfo{})<<16 | 'E'<<8 | (0x40 + uintptr(axis))
}

func queryAxis(f *os.File, axis uint16) (AxisRange, error) {
	var info absInfo
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), eviocgabs(axis), uintptr(unsafe.Pointer(&info)))
	if errno != 0 {
		return AxisRange{}, fmt.Errorf("input: EVIOCGABS %#x: %w", axis, errno)
	}
	return AxisRange{Min: info.Minimum, Max: info.Maximum}, nil
}
