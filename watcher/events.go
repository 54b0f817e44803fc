package watcher

// eventType describes an event type.
type eventType = string

const (
	eventStarted        eventType = "started"
	eventWarning        eventType = "warning"
	eventSpawnError     eventType = "spawn error"
	eventChildSpawned   eventType = "child spawned"
	eventChildExited    eventType = "child exited"
	eventCrashLoop      eventType = "crash loop"
	eventExecFailsFatal eventType = "exec failures fatal"
	eventTerminated     eventType = "terminated"
)

// Event is an interface describing known events.
type Event interface {
	Type() string
	event()
}

// NewEvent creates a new event from the given event type. It is used primarily
// for decoding events from its type. Nil is returned if the event type is
// unknown.
func NewEvent(eventType string) Event {
	switch eventType {
	case eventStarted:
		return &EventStarted{}
	case eventWarning:
		return &EventWarning{}
	case eventSpawnError:
		return &EventSpawnError{}
	case eventChildSpawned:
		return &EventChildSpawned{}
	case eventChildExited:
		return &EventChildExited{}
	case eventCrashLoop:
		return &EventCrashLoop{}
	case eventExecFailsFatal:
		return &EventExecFailsFatal{}
	case eventTerminated:
		return &EventTerminated{}
	default:
		return nil
	}
}

// EventStarted is emitted once the supervisor is about to spawn its first
// child.
type EventStarted struct {
	PID     int    `json:"pid"`
	Command string `json:"command"`
}

func (ev *EventStarted) Type() string { return eventStarted }
func (ev *EventStarted) event()       {}

// EventWarning is emitted when a non-fatal error occurs.
type EventWarning struct {
	Component string `json:"component"`
	Error     string `json:"error"`
}

func (ev *EventWarning) Type() string { return eventWarning }
func (ev *EventWarning) event()       {}

// EventSpawnError is emitted when the command fails to start. Transient is
// true if the fork itself failed, false if the command could not be
// executed.
type EventSpawnError struct {
	Command   string `json:"command"`
	Reason    string `json:"reason"`
	Transient bool   `json:"transient"`
}

func (ev *EventSpawnError) Type() string { return eventSpawnError }
func (ev *EventSpawnError) event()       {}

// EventChildSpawned is emitted when the command has been started.
type EventChildSpawned struct {
	PID     int    `json:"pid"`
	Command string `json:"command"`
}

func (ev *EventChildSpawned) Type() string { return eventChildSpawned }
func (ev *EventChildSpawned) event()       {}

// EventChildExited is emitted when the command has been reaped.
type EventChildExited struct {
	PID      int    `json:"pid"`
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"` // -1 if killed by a signal
	Signal   string `json:"signal,omitempty"`
	Error    string `json:"error,omitempty"`
}

// IsClean returns true if the child exited on its own with status 0.
func (ev EventChildExited) IsClean() bool {
	return ev.ExitCode == 0 && ev.Signal == "" && ev.Error == ""
}

func (ev *EventChildExited) Type() string { return eventChildExited }
func (ev *EventChildExited) event()       {}

// EventCrashLoop is emitted when the command exited Count times within Region
// seconds and the supervisor is about to sleep for Sleep seconds.
type EventCrashLoop struct {
	Count  int     `json:"count"`
	Region float64 `json:"region"`
	Sleep  float64 `json:"sleep"`
}

func (ev *EventCrashLoop) Type() string { return eventCrashLoop }
func (ev *EventCrashLoop) event()       {}

// EventExecFailsFatal is emitted right before the supervisor gives up on a
// command that repeatedly failed to execute.
type EventExecFailsFatal struct {
	Failures int `json:"failures"`
}

func (ev *EventExecFailsFatal) Type() string { return eventExecFailsFatal }
func (ev *EventExecFailsFatal) event()       {}

// EventTerminated is emitted when the supervisor exits on a signal.
type EventTerminated struct {
	Signal   string `json:"signal"`
	ChildPID int    `json:"child_pid,omitempty"`
}

func (ev *EventTerminated) Type() string { return eventTerminated }
func (ev *EventTerminated) event()       {}
