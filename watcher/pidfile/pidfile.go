// Package pidfile manages the supervisor's PID file. The file holds the
// supervisor's PID on the first line and, while a child is running, the
// child's PID on the second line.
package pidfile

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Mode is the permission a new PID file is created with.
const Mode os.FileMode = 0644

var (
	// ErrAlreadyRunning is returned by Check if the PID file belongs to a
	// process that is still alive.
	ErrAlreadyRunning = errors.New("pid file belongs to a running process")
	// ErrLockedElsewhere is returned by Open if another process holds the
	// lock on the PID file.
	ErrLockedElsewhere = errors.New("pid file already locked elsewhere")
)

// Format formats the PID file content. A zero child omits the second line.
func Format(self, child int) []byte {
	if child != 0 {
		return []byte(strconv.Itoa(self) + "\n" + strconv.Itoa(child) + "\n")
	}
	return []byte(strconv.Itoa(self) + "\n")
}

// Read reads back a PID file. Child is 0 if the file has no second line.
func Read(path string) (self, child int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	var pids [2]int
	var n int

	s := bufio.NewScanner(f)
	for n < len(pids) && s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			break
		}

		pid, err := strconv.Atoi(line)
		if err != nil || pid <= 0 {
			return 0, 0, errors.Errorf("pid file %q is broken", path)
		}

		pids[n] = pid
		n++
	}

	if err := s.Err(); err != nil {
		return 0, 0, errors.Wrap(err, "failed to read pid file")
	}

	if n == 0 {
		return 0, 0, errors.Errorf("pid file %q is broken", path)
	}

	return pids[0], pids[1], nil
}

// Check verifies that path can be used as the PID file before the
// supervisor starts. A file left over by a dead process is fine; a file
// whose process is still alive is ErrAlreadyRunning.
func Check(path string) error {
	if path == "" {
		return errors.New("invalid pid file ''")
	}

	if os.Getuid() != 0 {
		dir := filepath.Dir(path)
		if err := unix.Access(dir, unix.W_OK); err != nil {
			return errors.Wrapf(err, "parent dir %q not writable", dir)
		}
	}

	if err := unix.Access(path, unix.F_OK); err != nil {
		// Not found, so nothing to take over.
		return nil
	}

	if err := unix.Access(path, unix.W_OK); err != nil {
		return errors.Wrapf(err, "pid file %q not writable", path)
	}

	self, _, err := Read(path)
	if err != nil {
		return err
	}

	switch err := unix.Kill(self, 0); err {
	case nil, unix.EPERM:
		return errors.Wrapf(ErrAlreadyRunning, "pid file %q, process %d", path, self)
	case unix.ESRCH:
		return nil
	default:
		return errors.Wrapf(err, "failed to check process %d", self)
	}
}

// File is an open PID file. The file is locked for as long as it is open,
// so that two supervisors can never share it.
type File struct {
	path string
	self int
	lock *flock.Flock
}

// Open creates the PID file, acquires its lock and writes self into it.
func Open(path string, self int) (*File, error) {
	f := &File{path: path, self: self}

	// Create the file ourselves so it gets Mode, but leave the content alone
	// until we own the lock.
	h, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, Mode)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %q", path)
	}
	h.Close()

	l := flock.New(path)

	locked, err := l.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "failed to acquire pid file lock")
	}
	if !locked {
		return nil, ErrLockedElsewhere
	}

	f.lock = l

	if err := f.Write(0); err != nil {
		l.Unlock()
		return nil, err
	}

	return f, nil
}

// Path returns the PID file path.
func (f *File) Path() string { return f.path }

// Write rewrites the PID file with the given child PID. A child of 0 clears
// the child line.
func (f *File) Write(child int) error {
	if err := os.WriteFile(f.path, Format(f.self, child), Mode); err != nil {
		return errors.Wrapf(err, "can't write %q", f.path)
	}
	return nil
}

// Remove deletes the PID file and releases the lock.
func (f *File) Remove() error {
	err := os.Remove(f.path)

	if f.lock != nil {
		f.lock.Unlock()
	}

	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove %q", f.path)
	}
	return nil
}
