package logfile

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Pipes are the stdout and stderr pipes between the supervisor and one
// child. The read ends belong to the supervisor and are non-blocking; the
// write ends are handed to the child and closed on our side right after it
// is spawned.
type Pipes struct {
	Stdout, Stderr           *os.File // supervisor side
	ChildStdout, ChildStderr *os.File // child side
}

// NewPipes creates both pipes.
func NewPipes() (*Pipes, error) {
	outR, outW, err := newPipe("stdout")
	if err != nil {
		return nil, err
	}

	errR, errW, err := newPipe("stderr")
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, err
	}

	return &Pipes{
		Stdout:      outR,
		Stderr:      errR,
		ChildStdout: outW,
		ChildStderr: errW,
	}, nil
}

func newPipe(name string) (r, w *os.File, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, nil, errors.Wrapf(err, "failed to create %s pipe", name)
	}

	// os.NewFile registers non-blocking descriptors with the runtime poller,
	// so readers park instead of holding a thread.
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, errors.Wrapf(err, "failed to set %s pipe non-blocking", name)
	}

	r = os.NewFile(uintptr(fds[0]), "|"+name)
	w = os.NewFile(uintptr(fds[1]), name+"|")
	return r, w, nil
}

// CloseChildEnds closes the write ends on the supervisor's side. It must be
// called once the child holds its own copies, otherwise the read ends never
// see EOF.
func (p *Pipes) CloseChildEnds() {
	closeFile(&p.ChildStdout)
	closeFile(&p.ChildStderr)
}

// Close closes all remaining ends.
func (p *Pipes) Close() {
	p.CloseChildEnds()
	closeFile(&p.Stdout)
	closeFile(&p.Stderr)
}

func closeFile(f **os.File) {
	if *f != nil {
		(*f).Close()
		*f = nil
	}
}
