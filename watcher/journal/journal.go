// Package journal provides implementations of watcher's Journaler interface.
// The file journaler also locks its file so that only one watcher instance
// can write the same journal.
package journal

import (
	"os"
	"path/filepath"

	"git.unix.lgbt/diamondburned/watcher/watcher"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type multiWriter []watcher.Journaler

// MultiWriter creates a journaler that writes to every given journaler. The
// first error is returned, but every journaler is always written to.
func MultiWriter(ws ...watcher.Journaler) watcher.Journaler {
	return multiWriter(ws)
}

func (ws multiWriter) Write(ev watcher.Event) error {
	var firstErr error
	for _, w := range ws {
		if err := w.Write(ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

type logWriter struct {
	log logrus.FieldLogger
}

// LogWriter creates a journaler that traces every event into the given
// logger at debug level.
func LogWriter(log logrus.FieldLogger) watcher.Journaler {
	return logWriter{log}
}

func (w logWriter) Write(ev watcher.Event) error {
	w.log.WithField("event", ev.Type()).Debugf("journal: %+v", ev)
	return nil
}

// FileLockJournaler is a journaler that uses a file lock (flock) to lock the
// given file and writes to it. The FileLockJournaler instance must be closed by
// the caller or by the operating system when the application exits.
//
// Reading the Journal
//
// The caller does not need to acquire a file lock in order to read the written
// journal, as each Write operation performed on the file is a single append of
// a complete line. Use NewReader or ReadLastState.
type FileLockJournaler struct {
	Writer
	f *os.File
	l *flock.Flock
}

// ErrLockedElsewhere is returned if NewFileLockJournaler can't acquire the file
// lock.
var ErrLockedElsewhere = errors.New("journal already locked elsewhere")

// NewFileLockJournaler creates a new file journaler if it can acquire a flock
// on the path. It returns ErrLockedElsewhere if another process holds it.
func NewFileLockJournaler(path string) (*FileLockJournaler, error) {
	// Ensure the directory exists.
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, errors.Wrap(err, "failed to create journal directory")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open journal")
	}

	l := flock.New(path)

	locked, err := l.TryLock()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "failed to acquire journal lock")
	}

	if !locked {
		f.Close()
		return nil, ErrLockedElsewhere
	}

	return &FileLockJournaler{
		Writer: NewWriter(f),
		f:      f,
		l:      l,
	}, nil
}

// Close closes the file and releases the flock.
func (j *FileLockJournaler) Close() error {
	j.f.Close()
	return j.l.Unlock()
}
