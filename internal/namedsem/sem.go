//go:build linux

// Package namedsem opens POSIX named semaphores the way glibc lays them out
// in /dev/shm, so a process using sem_open/sem_post can signal us without
// cgo on our side.
package namedsem

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const DefaultDir = "/dev/shm"

// glibc struct new_sem. With 64-bit atomics the value and the waiter count
// share one word; otherwise the value is shifted left by one and bit 0 flags
// waiters.
const (
	wide = unsafe.Sizeof(uintptr(0)) == 8

	semSize64        = 32
	semSize32        = 16
	nwaitersShift64  = 32
	valueShift32     = 1
	nwaitersBit32    = 1
	nwaitersOffset32 = 12
	privateOffset64  = 8
	privateOffset32  = 4
	futexShared      = 128
	futexOpWait      = 0
	futexOpWake      = 1
)

func privateOffset() int {
	if wide {
		return privateOffset64
	}
	return privateOffset32
}

// initial is a fresh semaphore with value 0. The private field carries
// FUTEX_SHARED as sem_open writes it, otherwise glibc's sem_post only wakes
// waiters in its own process.
func initial() []byte {
	data := make([]byte, semSize())
	binary.NativeEndian.PutUint32(data[privateOffset():], futexShared)
	return data
}

func semSize() int {
	if wide {
		return semSize64
	}
	return semSize32
}

// Path returns the file backing the semaphore name in dir.
func Path(dir, name string) string {
	return filepath.Join(dir, "sem."+strings.TrimPrefix(name, "/"))
}

type Semaphore struct {
	name string
	data []byte
}

// Open opens the named semaphore, creating it with value 0 if needed.
func Open(dir, name string) (*Semaphore, error) {
	if name == "" || strings.Contains(strings.TrimPrefix(name, "/"), "/") {
		return nil, fmt.Errorf("namedsem: invalid name %q", name)
	}
	path := Path(dir, name)
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, fs.ErrNotExist) {
		file, err = create(dir, path)
	}
	if err != nil {
		return nil, fmt.Errorf("namedsem: open %s: %w", name, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("namedsem: stat %s: %w", name, err)
	}
	if info.Size() < int64(semSize()) {
		return nil, fmt.Errorf("namedsem: %s is %d bytes, want %d", path, info.Size(), semSize())
	}
	data, err := unix.Mmap(int(file.Fd()), 0, semSize(), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("namedsem: mmap %s: %w", name, err)
	}
	return &Semaphore{name: name, data: data}, nil
}

// create initialises a temporary file and links it into place, so a
// concurrent opener never sees a half written semaphore. Losing the race
// means opening the winner's file.
func create(dir, path string) (*os.File, error) {
	tmp, err := os.CreateTemp(dir, "sem.")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(initial()); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := os.Link(tmp.Name(), path); err != nil {
		tmp.Close()
		if errors.Is(err, fs.ErrExist) {
			return os.OpenFile(path, os.O_RDWR, 0)
		}
		return nil, err
	}
	return tmp, nil
}

// Unlink removes the name. Processes that still have it open keep working.
func Unlink(dir, name string) error {
	if err := os.Remove(Path(dir, name)); err != nil {
		return fmt.Errorf("namedsem: unlink %s: %w", name, err)
	}
	return nil
}

func (s *Semaphore) Name() string {
	return s.name
}

func (s *Semaphore) Close() error {
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	return err
}

func (s *Semaphore) valueWord() *uint32 {
	return (*uint32)(unsafe.Pointer(&s.data[0]))
}

func (s *Semaphore) wideWord() *uint64 {
	return (*uint64)(unsafe.Pointer(&s.data[0]))
}

func (s *Semaphore) nwaiters32() *uint32 {
	return (*uint32)(unsafe.Pointer(&s.data[nwaitersOffset32]))
}

// Value returns the current count.
func (s *Semaphore) Value() uint32 {
	if wide {
		return uint32(atomic.LoadUint64(s.wideWord()))
	}
	return atomic.LoadUint32(s.valueWord()) >> valueShift32
}

// TryWait decrements the count if it is positive.
func (s *Semaphore) TryWait() bool {
	if wide {
		word := s.wideWord()
		for {
			d := atomic.LoadUint64(word)
			if uint32(d) == 0 {
				return false
			}
			if atomic.CompareAndSwapUint64(word, d, d-1) {
				return true
			}
		}
	}
	word := s.valueWord()
	for {
		v := atomic.LoadUint32(word)
		if v>>valueShift32 == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(word, v, v-(1<<valueShift32)) {
			return true
		}
	}
}

// Post increments the count and wakes one waiter.
func (s *Semaphore) Post() error {
	waiters := false
	if wide {
		d := atomic.AddUint64(s.wideWord(), 1)
		waiters = d>>nwaitersShift64 > 0
	} else {
		word := s.valueWord()
		for {
			v := atomic.LoadUint32(word)
			if atomic.CompareAndSwapUint32(word, v, v+(1<<valueShift32)) {
				waiters = v&nwaitersBit32 != 0
				break
			}
		}
	}
	if waiters {
		return futexWake(s.valueWord(), 1)
	}
	return nil
}

// TimedWait decrements the count, blocking until deadline while it is zero.
// It reports false when the deadline passed first.
func (s *Semaphore) TimedWait(deadline time.Time) (bool, error) {
	if s.TryWait() {
		return true, nil
	}
	s.addWaiter()
	defer s.removeWaiter()
	for {
		if s.TryWait() {
			return true, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		expect, ok := s.sleepValue()
		if !ok {
			continue
		}
		err := futexWait(s.valueWord(), expect, remaining)
		switch {
		case err == nil, errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR), errors.Is(err, unix.ETIMEDOUT):
		default:
			return false, fmt.Errorf("namedsem: wait %s: %w", s.name, err)
		}
	}
}

func (s *Semaphore) addWaiter() {
	if wide {
		atomic.AddUint64(s.wideWord(), 1<<nwaitersShift64)
		return
	}
	atomic.AddUint32(s.nwaiters32(), 1)
}

func (s *Semaphore) removeWaiter() {
	if wide {
		atomic.AddUint64(s.wideWord(), ^uint64(1<<nwaitersShift64-1))
		return
	}
	if atomic.AddUint32(s.nwaiters32(), ^uint32(0)) != 0 {
		return
	}
	word := s.valueWord()
	for {
		v := atomic.LoadUint32(word)
		if atomic.CompareAndSwapUint32(word, v, v&^nwaitersBit32) {
			return
		}
	}
}

// sleepValue returns the value word to hand to FUTEX_WAIT while the count
// is zero, announcing the waiter on 32-bit layouts.
func (s *Semaphore) sleepValue() (uint32, bool) {
	word := s.valueWord()
	v := atomic.LoadUint32(word)
	if wide {
		return 0, v == 0
	}
	if v>>valueShift32 != 0 {
		return 0, false
	}
	if v&nwaitersBit32 == 0 && !atomic.CompareAndSwapUint32(word, v, v|nwaitersBit32) {
		return 0, false
	}
	return v | nwaitersBit32, true
}

func futexWait(addr *uint32, val uint32, timeout time.Duration) error {
	ts := unix.NsecToTimespec(int64(timeout))
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), futexOpWait, uintptr(val), uintptr(unsafe.Pointer(&ts)), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func futexWake(addr *uint32, n int) error {
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), futexOpWake, uintptr(n), 0, 0, 0)
	if errno != 0 {
		return fmt.Errorf("namedsem: futex wake: %w", errno)
	}
	return nil
}
