package journal

import (
	"bytes"
	"encoding/json"
	"io"
	"time"

	"git.unix.lgbt/diamondburned/watcher/watcher"
	"github.com/pkg/errors"
)

// Entry describes the JSON structure of a journal line.
type Entry struct {
	Time time.Time     `json:"time"`
	Type string        `json:"type"`
	Data watcher.Event `json:"data"`
}

// Writer is a simple journaler that writes line-delimited JSON events into the
// writer.
type Writer struct {
	w   io.Writer
	now func() time.Time
}

var _ watcher.Journaler = (*Writer)(nil)

// NewWriter creates a new journal writer.
func NewWriter(w io.Writer) Writer {
	return Writer{w, time.Now}
}

// Write writes the given event into the writer as one line, using a single
// Write call on the underlying writer.
func (l Writer) Write(ev watcher.Event) error {
	entry := Entry{
		Time: l.now(),
		Type: ev.Type(),
		Data: ev,
	}

	buf := bytes.Buffer{}
	buf.Grow(512)

	// Encode terminates the line.
	if err := json.NewEncoder(&buf).Encode(entry); err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	if _, err := l.w.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "failed to write event")
	}

	return nil
}
