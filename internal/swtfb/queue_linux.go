//go:build linux && !386

package swtfb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const longSize = int(unsafe.Sizeof(uintptr(0)))

type sysvQueue struct {
	id  int
	key int
}

// OpenQueue opens or creates the SysV message queue with the given key.
func OpenQueue(key int) (Queue, error) {
	id, _, errno := unix.Syscall(unix.SYS_MSGGET, uintptr(key), uintptr(unix.IPC_CREAT|0o600), 0)
	if errno != 0 {
		return nil, fmt.Errorf("swtfb: msgget %#x: %w", key, errno)
	}
	return &sysvQueue{id: int(id), key: key}, nil
}

// Send lays the frame out as struct msgbuf: the type widened to a native
// long, then the payload. msgsz is the full frame size, as the reference
// client passes sizeof(struct swtfb_update).
func (q *sysvQueue) Send(frame []byte) error {
	if len(frame) != MessageSize {
		return fmt.Errorf("swtfb: frame is %d bytes, want %d", len(frame), MessageSize)
	}
	buf := make([]byte, longSize+MessageSize)
	mtype := binary.LittleEndian.Uint32(frame[:4])
	if longSize == 8 {
		binary.NativeEndian.PutUint64(buf, uint64(mtype))
	} else {
		binary.NativeEndian.PutUint32(buf, mtype)
	}
	copy(buf[longSize:], frame[4:])
	for {
		_, _, errno := unix.Syscall6(unix.SYS_MSGSND, uintptr(q.id), uintptr(unsafe.Pointer(&buf[0])), uintptr(MessageSize), 0, 0, 0)
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return fmt.Errorf("swtfb: msgsnd: %w", errno)
		}
		return nil
	}
}

func (q *sysvQueue) Remove() error {
	_, _, errno := unix.Syscall(unix.SYS_MSGCTL, uintptr(q.id), uintptr(unix.IPC_RMID), 0)
	if errno != 0 {
		if errors.Is(errno, unix.EINVAL) || errors.Is(errno, unix.EIDRM) {
			return fmt.Errorf("swtfb: queue %#x already removed: %w", q.key, errno)
		}
		return fmt.Errorf("swtfb: msgctl IPC_RMID %#x: %w", q.key, errno)
	}
	return nil
}
