// Package watcher is the core of the watcher application: it runs one
// command, restarts it whenever it exits and tells the operator when the
// command keeps crashing.
//
// Mechanism of Operation
//
// The Supervisor loop spawns the command, waits for it to exit, records the
// time of the exit into a CrashHistory and asks CheckFlapping whether the
// command has exited Alert.Count times within Alert.Region. If so, the loop
// logs the crash loop and sleeps Config.Sleep before spawning again;
// otherwise it only pauses for a second.
//
// The Controller runs next to the loop. It turns SIGHUP, SIGINT and SIGTERM
// into an immediate exit after forwarding the signal to the child and
// removing the PID file, and counts SIGUSR1 (or in-process exec failures)
// until the command is deemed unrunnable.
//
// When a log file is configured, the child's stdout and stderr are pipes that
// the loop copies into the log file while it waits, reopening the file
// whenever an external tool has rotated it.
//
// The supervised states are:
//
//    IDLE -> FORKED -> LOGGING/WAITING -> REAPED -> COOLDOWN -> IDLE
//
// and any state can end in an exit through the Controller.
package watcher
