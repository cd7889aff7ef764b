//go:build !linux

package databuf

import (
	"sync/atomic"
	"time"
)

// pollInterval of the fallback wait.
const pollInterval = 100 * time.Microsecond

// futexWait polls while *addr == val, at most d.
func futexWait(addr *uint32, val uint32, d time.Duration) error {
	deadline := time.Now().Add(d)
	for atomic.LoadUint32(addr) == val && time.Now().Before(deadline) {
		time.Sleep(pollInterval)
	}
	return nil
}

func futexWake(*uint32) {}
