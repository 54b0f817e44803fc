package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"git.unix.lgbt/diamondburned/watcher/watcher"
	"git.unix.lgbt/diamondburned/watcher/watcher/journal"
)

// printStatus prints the last state recorded in the journal at path.
func printStatus(w io.Writer, path string) int {
	if path == "" {
		fmt.Fprintln(os.Stderr, "missing -j path to journal file")
		return watcher.ExitStartup
	}

	s, err := journal.ReadLastStateFromFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "can't read journal %q: %v\n", path, err)
		return watcher.ExitStartup
	}

	writeStatus(w, s)
	return watcher.ExitOK
}

func writeStatus(w io.Writer, s *journal.State) {
	f := func(f string, v ...interface{}) {
		fmt.Fprintf(w, f, v...)
	}

	ts := func(t time.Time) string {
		return t.Local().Format(time.RFC3339)
	}

	f("watcher  [%d] started %s\n", s.SupervisorPID, ts(s.StartedAt))
	f("command  %s\n", s.Command)

	switch ev := s.Stopped.(type) {
	case *watcher.EventTerminated:
		f("state    stopped by %s at %s\n", ev.Signal, ts(s.StoppedAt))
	case *watcher.EventExecFailsFatal:
		f("state    gave up after %d exec failures at %s\n", ev.Failures, ts(s.StoppedAt))
	default:
		switch {
		case s.ChildPID != 0:
			f("state    running, child [%d]\n", s.ChildPID)
		case s.CrashLoop:
			f("state    crash looping, sleeping\n")
		default:
			f("state    between restarts\n")
		}
	}

	f("restarts %d spawned, %d exited\n", s.Spawns, s.Exits)

	if ev := s.LastExit; ev != nil {
		switch {
		case ev.Signal != "":
			f("last     [%d] killed by %s at %s\n", ev.PID, ev.Signal, ts(s.LastExitAt))
		case ev.Error != "":
			f("last     %s at %s\n", ev.Error, ts(s.LastExitAt))
		default:
			f("last     [%d] exit status %d at %s\n", ev.PID, ev.ExitCode, ts(s.LastExitAt))
		}
	}
}
