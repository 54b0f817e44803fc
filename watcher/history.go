package watcher

import (
	"time"

	"git.unix.lgbt/diamondburned/watcher/watcher/internal/exec"
)

// ExitStatus is a child's exit status.
type ExitStatus = exec.ExitStatus

// ExitExecFailed is the exit code recorded for a spawn attempt whose command
// could not be executed.
const ExitExecFailed = 9

// historyFactor is how many times Alert.Count timestamps are kept.
const historyFactor = 3

// CrashHistory is a fixed-size ring of the most recent child exit times. It is
// not safe for concurrent use; only the supervisor loop touches it.
type CrashHistory struct {
	times  []time.Time
	last   int // slot of the most recent entry; meaningless while n is 0
	n      int // number of valid entries, at most len(times)
	status ExitStatus
}

// NewCrashHistory creates a history sized for the given alert count.
func NewCrashHistory(count int) *CrashHistory {
	if count < 0 {
		count = 0
	}
	return &CrashHistory{times: make([]time.Time, historyFactor*count)}
}

// Len returns the capacity of the ring.
func (h *CrashHistory) Len() int { return len(h.times) }

// Record appends t, overwriting the oldest entry once the ring is full.
func (h *CrashHistory) Record(t time.Time) {
	if len(h.times) == 0 {
		return
	}

	if h.n > 0 {
		h.last = (h.last + 1) % len(h.times)
	}
	h.times[h.last] = t

	if h.n < len(h.times) {
		h.n++
	}
}

// Lookback returns the entry k positions before the most recent one, so
// Lookback(0) is the latest. False is returned if fewer than k+1 entries
// were ever recorded or k is beyond the ring.
func (h *CrashHistory) Lookback(k int) (time.Time, bool) {
	if k < 0 || k >= h.n {
		return time.Time{}, false
	}

	i := (h.last - k + len(h.times)) % len(h.times)
	return h.times[i], true
}

// SetStatus stores the last observed exit status.
func (h *CrashHistory) SetStatus(s ExitStatus) { h.status = s }

// Status returns the last observed exit status.
func (h *CrashHistory) Status() ExitStatus { return h.status }
