package procutil

import "time"

const pollInterval = 50 * time.Millisecond

// WaitExit polls until pid is gone or timeout elapses. It reports whether
// the process exited.
func WaitExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for IsProcessAlive(pid) {
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
	return true
}
