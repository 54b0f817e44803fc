package logfile

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// RotationWatcher watches the log file's directory and reports when the log
// file is renamed or removed. It is only a hint that lets the multiplexer
// release a rotated file early; Writer still checks the file identity before
// every write.
type RotationWatcher struct {
	rotated chan struct{}
	w       *fsnotify.Watcher
	log     logrus.FieldLogger
	path    string
	done    chan struct{}
}

// WatchRotation starts watching path's directory.
func WatchRotation(path string, log logrus.FieldLogger) (*RotationWatcher, error) {
	path = filepath.Clean(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create watcher")
	}

	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, errors.Wrap(err, "failed to watch log dir")
	}

	rw := &RotationWatcher{
		rotated: make(chan struct{}, 1),
		w:       w,
		log:     log,
		path:    path,
		done:    make(chan struct{}),
	}

	go rw.watch()
	return rw, nil
}

// Rotated returns a channel that receives a value after the log file was
// moved away or deleted. Multiple rotations between two receives collapse
// into one. A nil RotationWatcher returns a nil channel.
func (rw *RotationWatcher) Rotated() <-chan struct{} {
	if rw == nil {
		return nil
	}
	return rw.rotated
}

// Close stops the watcher.
func (rw *RotationWatcher) Close() error {
	if rw == nil {
		return nil
	}
	err := rw.w.Close()
	<-rw.done
	return err
}

func (rw *RotationWatcher) watch() {
	defer close(rw.done)

	for {
		select {
		case err, ok := <-rw.w.Errors:
			if !ok {
				return
			}
			rw.log.Warnf("inotify error: %v", err)

		case ev, ok := <-rw.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != rw.path {
				continue
			}
			if ev.Op&(fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}

			rw.log.Debugf("log file %q: %s", ev.Name, ev.Op)

			select {
			case rw.rotated <- struct{}{}:
			default:
			}
		}
	}
}
