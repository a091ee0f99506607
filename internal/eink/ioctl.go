package eink

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14
	iocDirBits  = 2

	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

func ioc(dir, iocType, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (iocType << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

func iocNoData(iocType, nr uintptr) uintptr {
	return ioc(iocNone, iocType, nr, 0)
}

func iow(iocType, nr, size uintptr) uintptr {
	return ioc(iocWrite, iocType, nr, size)
}

func iowr(iocType, nr, size uintptr) uintptr {
	return ioc(iocRead|iocWrite, iocType, nr, size)
}

// The generic fbdev requests predate the size-encoded scheme.
const (
	fbioGetVScreenInfo uintptr = 0x4600
	fbioPutVScreenInfo uintptr = 0x4601
	fbioGetFScreenInfo uintptr = 0x4602
)

var (
	mxcfbSetAutoUpdateMode     = iow('F', 0x2D, 4)
	mxcfbSendUpdate            = iow('F', 0x2E, unsafe.Sizeof(UpdateData{}))
	mxcfbWaitForUpdateComplete = iowr('F', 0x2F, unsafe.Sizeof(updateMarkerData{}))
	mxcfbSetUpdateScheme       = iow('F', 0x32, 4)
	mxcfbDisableEPDCAccess     = iocNoData('F', 0x35)
	mxcfbEnableEPDCAccess      = iocNoData('F', 0x36)
)

// controller is the device surface the framebuffer needs: control calls and
// a shared mapping of the display memory.
type controller interface {
	ioctl(req uintptr, arg unsafe.Pointer) error
	mmap(length int) ([]byte, error)
	munmap(data []byte) error
	Close() error
}

type fileDevice struct {
	file *os.File
}

func openDevice(path string) (*fileDevice, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &fileDevice{file: file}, nil
}

func (d *fileDevice) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.file.Fd(), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (d *fileDevice) mmap(length int) ([]byte, error) {
	return unix.Mmap(int(d.file.Fd()), 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func (d *fileDevice) munmap(data []byte) error {
	return unix.Munmap(data)
}

func (d *fileDevice) Close() error {
	return d.file.Close()
}
