// Package logfile tees a child's stdout and stderr into a log file that may
// be rotated from under us by an external tool such as logrotate.
package logfile

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// DefaultMode is the mode a log file is created with if it did not exist
// before.
const DefaultMode os.FileMode = 0644

// identity is what tells two log files at the same path apart.
type identity struct {
	valid bool
	dev   uint64
	ino   uint64
	mtime unix.Timespec
	mode  uint32
	uid   uint32
	gid   uint32
}

func identityOf(st *unix.Stat_t) identity {
	return identity{
		valid: true,
		dev:   uint64(st.Dev),
		ino:   uint64(st.Ino),
		mtime: st.Mtim,
		mode:  uint32(st.Mode),
		uid:   st.Uid,
		gid:   st.Gid,
	}
}

func (id identity) same(other identity) bool {
	return id.valid && other.valid &&
		id.dev == other.dev && id.ino == other.ino && id.mtime == other.mtime
}

// Writer appends chunks to a log file, checking on every write whether the
// file at the path is still the one it has open. It is not safe for
// concurrent use.
type Writer struct {
	path string
	log  logrus.FieldLogger

	file    *os.File
	last    identity
	reopens int
}

// NewWriter creates a writer for path. The file is not opened until the
// first write.
func NewWriter(path string, log logrus.FieldLogger) *Writer {
	w := &Writer{path: path, log: log}

	var st unix.Stat_t
	if err := unix.Stat(path, &st); err == nil {
		w.last = identityOf(&st)
	}

	return w
}

// Write appends p to the log file, reopening it first if it was rotated. If
// the file cannot be reopened or appended to, the unwritten part of p is
// dropped and a warning is logged.
func (w *Writer) Write(p []byte) (int, error) {
	if err := w.ensureOpen(); err != nil {
		w.log.Warnf("can't re-open %q, reason %q, msg %q", w.path, errors.Cause(err), p)
		return 0, err
	}

	n, err := w.file.Write(p)
	if err != nil {
		w.log.Warnf("can't append to %q, reason %q, msg %q", w.path, err, p[n:])
		return n, errors.Wrap(err, "failed to append to log file")
	}

	// Our own appends move the mtime; remember it so they don't look like a
	// rotation.
	var st unix.Stat_t
	if err := unix.Fstat(int(w.file.Fd()), &st); err == nil {
		w.last = identityOf(&st)
	}

	return n, nil
}

func (w *Writer) ensureOpen() error {
	if w.file != nil {
		var st unix.Stat_t
		if err := unix.Stat(w.path, &st); err == nil && w.last.same(identityOf(&st)) {
			return nil
		} else if err == nil {
			// Keep the rotated file's mode and owner for the new one.
			w.last = identityOf(&st)
		}
	}

	return w.reopen()
}

func (w *Writer) reopen() error {
	w.Invalidate()

	mode := DefaultMode
	if w.last.valid && w.last.mode&0777 != 0 {
		mode = os.FileMode(w.last.mode & 0777)
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, mode)
	if err != nil {
		return err
	}

	if os.Geteuid() == 0 && w.last.valid && (w.last.uid != 0 || w.last.gid != 0) {
		if err := unix.Fchown(int(f.Fd()), int(w.last.uid), int(w.last.gid)); err != nil {
			w.log.Warnf("can't restore owner of %q: %v", w.path, err)
		}
	}

	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err == nil {
		w.last = identityOf(&st)
	}

	w.file = f
	w.reopens++

	w.log.Debugf("opened log file %q (reopen #%d)", w.path, w.reopens)
	return nil
}

// Invalidate closes the open file, if any. The next write reopens the path.
func (w *Writer) Invalidate() {
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
}

// Close closes the open file, if any.
func (w *Writer) Close() error {
	w.Invalidate()
	return nil
}

// Reopens returns the number of times the log file was (re)opened.
func (w *Writer) Reopens() int { return w.reopens }

// Path returns the log file path.
func (w *Writer) Path() string { return w.path }
