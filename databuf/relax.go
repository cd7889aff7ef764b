package databuf

import "runtime"

// cpuRelax yields the processor between polls of the spin wait.
func cpuRelax() {
	runtime.Gosched()
}
