package watcher

import (
	"github.com/sirupsen/logrus"
)

// Verdict is the outcome of CheckFlapping.
type Verdict int

const (
	// NoProblem means the next child may be spawned right away.
	NoProblem Verdict = iota
	// TooManyCrashes means the child exited Alert.Count times within
	// Alert.Region.
	TooManyCrashes
	// ExecFailing means the command recently failed to execute.
	ExecFailing
)

// Pause returns true if the supervisor should sleep Config.Sleep before the
// next spawn.
func (v Verdict) Pause() bool { return v != NoProblem }

func (v Verdict) String() string {
	switch v {
	case NoProblem:
		return "no problem"
	case TooManyCrashes:
		return "too many crashes"
	case ExecFailing:
		return "exec failing"
	default:
		return "unknown"
	}
}

// ExecFailureCounter is the exec failure streak kept by the Controller.
type ExecFailureCounter interface {
	ExecFailures() int
	ResetExecFailures()
}

// CheckFlapping decides whether the child is crash looping, based on the
// history recorded right after its last exit. It never sleeps itself.
//
// A clean exit that doesn't trip the alert clears the exec failure streak.
func CheckFlapping(h *CrashHistory, alert Alert, c ExecFailureCounter, log logrus.FieldLogger) Verdict {
	if alert.Disabled() {
		return NoProblem
	}

	current, _ := h.Lookback(0)
	prev, ok := h.Lookback(alert.Count - 1)
	delta := current.Sub(prev)

	log.Debugf("current %v, previous %v, region %v, diff %v", current, prev, alert.Region, delta)

	if ok && delta > 0 && delta <= alert.Region {
		log.Errorf("process down too many (%d times in %v), sleeping.", alert.Count, delta)
		return TooManyCrashes
	}

	if c.ExecFailures() > 0 {
		return ExecFailing
	}

	if status := h.Status(); !status.Success() {
		switch {
		case status.Signal != 0:
			log.Errorf("process abnormal terminate, signal = %v.", status.Signal)
		case status.Error != nil:
			log.Errorf("process abnormal terminate, error = %v.", status.Error)
		default:
			log.Errorf("process abnormal terminate, status = %d.", status.Code)
		}
		return NoProblem
	}

	c.ResetExecFailures()
	return NoProblem
}
