package exec

import (
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// FakeProcess is a process that only idles for a duration before exiting
// with a preset code. It is used for testing.
type FakeProcess struct {
	once  sync.Once
	stop  chan struct{}
	timer *time.Timer

	pid  int
	code int

	mu      sync.Mutex
	signals []os.Signal
	killed  syscall.Signal
}

var _ Process = (*FakeProcess)(nil)

// NewFakeProcess creates a process that exits with code after dura, unless
// it is signaled first.
func NewFakeProcess(pid int, dura time.Duration, code int) *FakeProcess {
	return &FakeProcess{
		stop:  make(chan struct{}),
		timer: time.NewTimer(dura),
		pid:   pid,
		code:  code,
	}
}

func (mock *FakeProcess) PID() int { return mock.pid }

// Signal terminates the fake process as if the signal was fatal.
func (mock *FakeProcess) Signal(sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return errors.New("unknown signal")
	}

	mock.mu.Lock()
	defer mock.mu.Unlock()

	mock.signals = append(mock.signals, sig)

	select {
	case <-mock.stop:
		return os.ErrProcessDone
	default:
		mock.killed = s
		close(mock.stop)
		return nil
	}
}

// Signals returns all signals received so far.
func (mock *FakeProcess) Signals() []os.Signal {
	mock.mu.Lock()
	defer mock.mu.Unlock()

	return append([]os.Signal(nil), mock.signals...)
}

func (mock *FakeProcess) Wait() ExitStatus {
	mock.once.Do(func() {
		select {
		case <-mock.stop:
		case <-mock.timer.C:
			// Mark the process as dead so late signals are refused.
			mock.mu.Lock()
			select {
			case <-mock.stop:
			default:
				close(mock.stop)
			}
			mock.mu.Unlock()
		}
		mock.timer.Stop()
	})

	mock.mu.Lock()
	defer mock.mu.Unlock()

	if mock.killed != 0 {
		return ExitStatus{PID: mock.pid, Code: -1, Signal: mock.killed}
	}

	return ExitStatus{PID: mock.pid, Code: mock.code}
}
