package journal

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"git.unix.lgbt/diamondburned/watcher/watcher"
	"github.com/pkg/errors"
)

type recordJournal struct {
	events []watcher.Event
	err    error
}

func (j *recordJournal) Write(ev watcher.Event) error {
	j.events = append(j.events, ev)
	return j.err
}

func TestMultiWriter(t *testing.T) {
	failing := &recordJournal{err: errors.New("failing")}
	ok := &recordJournal{}

	w := MultiWriter(failing, ok)

	ev := &watcher.EventWarning{Component: "test", Error: "oops"}
	if err := w.Write(ev); err != failing.err {
		t.Fatalf("Write() = %v, expected the first error", err)
	}

	for _, j := range []*recordJournal{failing, ok} {
		if len(j.events) != 1 || j.events[0] != ev {
			t.Errorf("journaler got %v", j.events)
		}
	}
}

func TestWriterReader(t *testing.T) {
	var buf bytes.Buffer

	w := NewWriter(&buf)
	w.now = func() time.Time { return time.Unix(1600000000, 0).UTC() }

	events := []watcher.Event{
		&watcher.EventStarted{PID: 1, Command: "/bin/sh -c true"},
		&watcher.EventChildSpawned{PID: 2, Command: "/bin/sh -c true"},
		&watcher.EventChildExited{PID: 2, Command: "/bin/sh -c true", ExitCode: -1, Signal: "killed"},
	}

	for _, ev := range events {
		if err := w.Write(ev); err != nil {
			t.Fatal("failed to write:", err)
		}
	}

	if lines := strings.Count(buf.String(), "\n"); lines != len(events) {
		t.Fatalf("wrote %d lines, expected %d:\n%s", lines, len(events), buf.String())
	}

	r := NewReader(bytes.NewReader(buf.Bytes()))

	for i := len(events) - 1; i >= 0; i-- {
		ev, evTime, err := r.Read()
		if err != nil {
			t.Fatal("failed to read:", err)
		}

		if !reflect.DeepEqual(ev, events[i]) {
			t.Errorf("event %d = %#v, expected %#v", i, ev, events[i])
		}

		if !evTime.Equal(time.Unix(1600000000, 0)) {
			t.Errorf("event %d time = %v", i, evTime)
		}
	}

	if _, _, err := r.Read(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReaderDecodeError(t *testing.T) {
	const input = `{"time":"2020-09-13T12:26:40Z","type":"started","data":{"pid":1}}
not json
{"time":"2020-09-13T12:26:40Z","type":"bogus","data":{}}
`

	r := NewReader(strings.NewReader(input))

	for i := 0; i < 2; i++ {
		_, _, err := r.Read()

		var decodeErr *DecodeError
		if !errors.As(err, &decodeErr) {
			t.Fatalf("read %d: expected decode error, got %v", i, err)
		}
	}

	ev, _, err := r.Read()
	if err != nil {
		t.Fatal("failed to read after decode errors:", err)
	}
	if started, ok := ev.(*watcher.EventStarted); !ok || started.PID != 1 {
		t.Fatalf("unexpected event %#v", ev)
	}
}

func TestReadLastState(t *testing.T) {
	type test struct {
		name   string
		events []watcher.Event
		expect func(t *testing.T, s *State)
	}

	var tests = []test{
		{
			name: "child running",
			events: []watcher.Event{
				&watcher.EventStarted{PID: 10, Command: "old"},
				&watcher.EventTerminated{Signal: "terminated"},
				&watcher.EventStarted{PID: 20, Command: "cmd"},
				&watcher.EventChildSpawned{PID: 21},
				&watcher.EventChildExited{PID: 21, ExitCode: 1},
				&watcher.EventChildSpawned{PID: 22},
			},
			expect: func(t *testing.T, s *State) {
				if s.SupervisorPID != 20 || s.Command != "cmd" {
					t.Errorf("unexpected supervisor %d %q", s.SupervisorPID, s.Command)
				}
				if s.Stopped != nil {
					t.Errorf("stopped by %#v", s.Stopped)
				}
				if s.ChildPID != 22 {
					t.Errorf("child pid = %d, expected 22", s.ChildPID)
				}
				if s.LastExit == nil || s.LastExit.PID != 21 {
					t.Errorf("last exit = %#v", s.LastExit)
				}
				if s.Spawns != 2 || s.Exits != 1 {
					t.Errorf("spawns/exits = %d/%d", s.Spawns, s.Exits)
				}
			},
		},
		{
			name: "crash looping",
			events: []watcher.Event{
				&watcher.EventStarted{PID: 20},
				&watcher.EventChildSpawned{PID: 21},
				&watcher.EventChildExited{PID: 21, ExitCode: 1},
				&watcher.EventCrashLoop{Count: 1, Region: 10, Sleep: 30},
			},
			expect: func(t *testing.T, s *State) {
				if !s.CrashLoop {
					t.Error("crash loop not detected")
				}
				if s.ChildPID != 0 {
					t.Errorf("child pid = %d, expected none", s.ChildPID)
				}
			},
		},
		{
			name: "recovered from crash loop",
			events: []watcher.Event{
				&watcher.EventStarted{PID: 20},
				&watcher.EventChildExited{PID: 21, ExitCode: 1},
				&watcher.EventCrashLoop{Count: 1, Region: 10, Sleep: 30},
				&watcher.EventChildSpawned{PID: 22},
			},
			expect: func(t *testing.T, s *State) {
				if s.CrashLoop {
					t.Error("stale crash loop reported")
				}
				if s.ChildPID != 22 {
					t.Errorf("child pid = %d, expected 22", s.ChildPID)
				}
			},
		},
		{
			name: "terminated",
			events: []watcher.Event{
				&watcher.EventStarted{PID: 20},
				&watcher.EventChildSpawned{PID: 21},
				&watcher.EventTerminated{Signal: "terminated", ChildPID: 21},
			},
			expect: func(t *testing.T, s *State) {
				if _, ok := s.Stopped.(*watcher.EventTerminated); !ok {
					t.Errorf("stopped by %#v", s.Stopped)
				}
				if s.ChildPID != 0 {
					t.Errorf("child pid = %d after termination", s.ChildPID)
				}
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := NewWriter(&buf)

			for _, ev := range test.events {
				if err := w.Write(ev); err != nil {
					t.Fatal("failed to write:", err)
				}
			}

			s, err := ReadLastState(bytes.NewReader(buf.Bytes()))
			if err != nil {
				t.Fatal("failed to read state:", err)
			}

			test.expect(t, s)
		})
	}

	t.Run("no start", func(t *testing.T) {
		var buf bytes.Buffer
		NewWriter(&buf).Write(&watcher.EventChildSpawned{PID: 1})

		_, err := ReadLastState(bytes.NewReader(buf.Bytes()))
		if err != ErrNoState {
			t.Fatalf("expected ErrNoState, got %v", err)
		}
	})
}

func TestFileLockJournaler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "watcher.journal")

	j, err := NewFileLockJournaler(path)
	if err != nil {
		t.Fatal("failed to open journal:", err)
	}

	if _, err := NewFileLockJournaler(path); err != ErrLockedElsewhere {
		t.Fatalf("second journaler: expected ErrLockedElsewhere, got %v", err)
	}

	if err := j.Write(&watcher.EventStarted{PID: 5, Command: "x"}); err != nil {
		t.Fatal("failed to write:", err)
	}

	if err := j.Close(); err != nil {
		t.Fatal("failed to close:", err)
	}

	// Reopening appends.
	j, err = NewFileLockJournaler(path)
	if err != nil {
		t.Fatal("failed to reopen journal:", err)
	}
	j.Write(&watcher.EventChildSpawned{PID: 6})
	j.Close()

	s, err := ReadLastStateFromFile(path)
	if err != nil {
		t.Fatal("failed to read state:", err)
	}

	if s.SupervisorPID != 5 || s.ChildPID != 6 {
		t.Fatalf("unexpected state %+v", s)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal("failed to stat journal:", err)
	}
	if perm := fi.Mode().Perm(); perm != 0600 {
		t.Fatalf("journal mode = %v, expected 0600", perm)
	}
}
