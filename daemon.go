package main

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// daemonEnv marks the re-executed daemon process.
const daemonEnv = "WATCHER_DAEMON"

func isDaemon() bool {
	return os.Getenv(daemonEnv) == "1"
}

// daemonize re-executes the watcher with the same arguments in a new session,
// detached from the terminal. The caller should exit once it returns nil.
func daemonize() error {
	self, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "unable to get executable path")
	}

	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrap(err, "failed to open /dev/null")
	}
	defer null.Close()

	wd, err := os.Getwd()
	if err != nil {
		return errors.Wrap(err, "failed to get working directory")
	}

	p, err := os.StartProcess(self, os.Args, &os.ProcAttr{
		Dir:   wd,
		Env:   append(os.Environ(), daemonEnv+"=1"),
		Files: []*os.File{null, null, null},
		Sys:   &syscall.SysProcAttr{Setsid: true},
	})
	if err != nil {
		return errors.Wrap(err, "failed to start daemon")
	}

	return p.Release()
}
