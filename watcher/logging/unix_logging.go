//go:build !windows && !nacl && !plan9
// +build !windows,!nacl,!plan9

package logging

import (
	"io"
	"log/syslog"

	"github.com/sirupsen/logrus"
	logrus_syslog "github.com/sirupsen/logrus/hooks/syslog"
)

func addSyslogHook(l *logrus.Logger, priority syslog.Priority, tag string) error {
	hook, err := logrus_syslog.NewSyslogHook("", "", priority, tag)
	if err != nil {
		return err
	}
	l.AddHook(hook)
	l.SetOutput(io.Discard)
	return nil
}
