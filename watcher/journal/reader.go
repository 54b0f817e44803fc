package journal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"git.unix.lgbt/diamondburned/watcher/watcher"
	"git.unix.lgbt/diamondburned/watcher/watcher/journal/backwardio"
	"github.com/pkg/errors"
)

// Reader parses journals written by Writer, from the newest entry to the
// oldest.
type Reader struct {
	s *backwardio.Scanner
}

// NewReader creates a new journal reader.
func NewReader(r io.ReadSeeker) *Reader {
	return &Reader{backwardio.NewScanner(r)}
}

// DecodeError is returned by Reader.Read for a line that is not a valid
// journal entry. Reading may continue past it.
type DecodeError struct {
	Err error
}

func (err *DecodeError) Error() string { return err.Err.Error() }
func (err *DecodeError) Unwrap() error { return err.Err }

// Read reads a single entry, starting from the bottom of the file. An EOF
// error is returned if the file has been fully consumed.
func (r *Reader) Read() (watcher.Event, time.Time, error) {
	var line []byte
	var err error

	for {
		line, err = r.s.Prev('\n')
		if err != nil {
			return nil, time.Time{}, err
		}
		if len(line) > 0 {
			break
		}
	}

	var rawEvent struct {
		Time time.Time       `json:"time"`
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}

	if err := json.Unmarshal(line, &rawEvent); err != nil {
		return nil, time.Time{}, &DecodeError{errors.Wrap(err, "failed to decode JSON")}
	}

	event := watcher.NewEvent(rawEvent.Type)
	if event == nil {
		return nil, time.Time{}, &DecodeError{fmt.Errorf("unknown event %q", rawEvent.Type)}
	}

	if err := json.Unmarshal(rawEvent.Data, event); err != nil {
		return nil, time.Time{}, &DecodeError{errors.Wrap(err, "failed to decode event data")}
	}

	return event, rawEvent.Time, nil
}

// ErrNoState is returned by ReadLastState if the journal never recorded a
// supervisor start.
var ErrNoState = errors.New("no supervisor start in journal")

// State is the last known state of a supervisor, reconstructed from its
// journal.
type State struct {
	// SupervisorPID and Command come from the last started event.
	SupervisorPID int
	Command       string
	StartedAt     time.Time

	// Stopped is the event that ended the supervisor, if any.
	Stopped   watcher.Event
	StoppedAt time.Time

	// ChildPID is the child that was last spawned and not yet reaped.
	ChildPID int

	// LastExit is the most recent child exit.
	LastExit   *watcher.EventChildExited
	LastExitAt time.Time

	// CrashLoop is true if the most recent exit tripped the crash loop alert.
	CrashLoop bool

	// Spawns and Exits count children since the last start.
	Spawns int
	Exits  int
}

// ReadLastStateFromFile reads the State from the given file path.
func ReadLastStateFromFile(path string) (*State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadLastState(f)
}

// ReadLastState reads the journal backwards up to the last started event and
// returns the state it describes. Lines that can't be decoded are skipped.
func ReadLastState(r io.ReadSeeker) (*State, error) {
	jr := NewReader(r)

	var state State
	var decoded int
	var sawChild bool // a newer spawn or exit has been seen

	for {
		ev, t, err := jr.Read()
		if err != nil {
			var decodeErr *DecodeError
			switch {
			case errors.As(err, &decodeErr):
				continue
			case errors.Is(err, io.EOF):
				return nil, ErrNoState
			default:
				return nil, err
			}
		}

		newest := decoded == 0
		decoded++

		switch ev := ev.(type) {
		case *watcher.EventStarted:
			state.SupervisorPID = ev.PID
			state.Command = ev.Command
			state.StartedAt = t
			return &state, nil

		case *watcher.EventTerminated, *watcher.EventExecFailsFatal:
			if newest {
				state.Stopped = ev
				state.StoppedAt = t
			}

		case *watcher.EventCrashLoop:
			if !sawChild {
				state.CrashLoop = true
			}

		case *watcher.EventChildExited:
			state.Exits++
			if state.LastExit == nil {
				state.LastExit = ev
				state.LastExitAt = t
			}
			sawChild = true

		case *watcher.EventChildSpawned:
			state.Spawns++
			if !sawChild && state.Stopped == nil {
				state.ChildPID = ev.PID
			}
			sawChild = true
		}
	}
}
