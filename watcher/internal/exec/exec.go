// Package exec provides an abstraction around package os' Process
// implementation for easier testing.
package exec

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Process describes a spawned command process.
type Process interface {
	PID() int
	Signal(os.Signal) error
	Wait() ExitStatus
}

// ExitStatus is a process' exit status.
type ExitStatus struct {
	PID    int
	Code   int            // -1 if killed by a signal
	Signal syscall.Signal // 0 unless killed by a signal
	Error  error
}

// Success returns true if the process exited on its own with status 0.
func (s ExitStatus) Success() bool {
	return s.Code == 0 && s.Signal == 0 && s.Error == nil
}

// Attr describes what the process side of the spawn should look like before
// the command image is executed.
type Attr struct {
	// Files are the stdin, stdout and stderr of the child, in that order.
	Files []*os.File
	// Credential, if not nil, is applied between fork and exec. The group is
	// always changed before the user.
	Credential *syscall.Credential
	Env        []string
}

// process keeps its own copy of the pid, since Release clears Pid.
type process struct {
	*os.Process
	pid int
}

var _ Process = process{}

// StartProcess starts the command described by argv. An error returned here
// means that either the fork or the exec failed; IsTransient tells them
// apart.
//
// The calling goroutine should be locked to its OS thread, since the child's
// parent death signal is tied to the thread that spawned it.
// See https://github.com/golang/go/issues/27505.
func StartProcess(argv []string, attr Attr) (Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty argv")
	}

	p, err := os.StartProcess(argv[0], argv, &os.ProcAttr{
		Env:   attr.Env,
		Files: attr.Files,
		Sys: &syscall.SysProcAttr{
			Credential: attr.Credential,
			// Linux-only: the child should not outlive us if we get killed
			// without a chance to forward the signal.
			Pdeathsig: syscall.SIGTERM,
		},
	})
	if err != nil {
		return nil, err
	}

	return process{p, p.Pid}, nil
}

func (proc process) PID() int {
	return proc.pid
}

// Wait blocks until the process has terminated and reaps it. Interrupted
// waits are retried, and stopped or continued states are ignored.
func (proc process) Wait() ExitStatus {
	defer proc.Release()

	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(proc.pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return ExitStatus{
				PID:   proc.pid,
				Code:  -1,
				Error: errors.Wrap(err, "failed to wait for process"),
			}
		}
		if ws.Exited() || ws.Signaled() {
			break
		}
	}

	status := ExitStatus{PID: proc.pid, Code: ws.ExitStatus()}
	if ws.Signaled() {
		status.Signal = syscall.Signal(ws.Signal())
	}

	return status
}

// IsTransient returns true if the error returned by StartProcess came from
// the fork itself running out of resources, as opposed to the command failing
// to execute.
func IsTransient(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		// Pipe or argument problems before the fork; retrying is all we can
		// do.
		return true
	}

	return errno == syscall.EAGAIN || errno == syscall.ENOMEM
}
