//go:build linux

package databuf

import (
	"math"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// futex(2) operations. Shared flavour is used since the word lives in
// memory mapped by several processes.
const (
	futexOpWait = 0
	futexOpWake = 1
)

// futexWait sleeps while *addr == val, at most d. Wake ups, timeouts and
// interrupts are not errors, caller re-checks the state.
func futexWait(addr *uint32, val uint32, d time.Duration) error {
	ts := unix.NsecToTimespec(d.Nanoseconds())
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexOpWait,
		uintptr(val),
		uintptr(unsafe.Pointer(&ts)),
		0,
		0,
	)
	switch errno {
	case 0, unix.ETIMEDOUT, unix.EAGAIN, unix.EINTR:
		return nil
	}
	return errno
}

// futexWake wakes all waiters of the word.
func futexWake(addr *uint32) {
	_, _, _ = unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexOpWake,
		uintptr(math.MaxInt32),
		0,
		0,
		0,
	)
}
