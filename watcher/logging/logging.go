// Package logging sets up the supervisor's diagnostics. In debug mode they go
// to stderr; otherwise they go to the system log under a LOCALn facility.
package logging

import (
	"io"
	"log/syslog"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Options configures Setup.
type Options struct {
	// Debug > 0 logs to stderr at debug level.
	Debug int
	// Facility is the n in LOCALn, 0 to 7. Anything else means LOCAL0.
	Facility int
	// Level is the severity half of the syslog priority, LOG_ERR if 0.
	Level syslog.Priority
	// Tag is the syslog tag, usually the program name.
	Tag string
	// Stderr is where debug output goes. Defaults to os.Stderr.
	Stderr io.Writer
}

// Priority returns the syslog priority for the given LOCALn facility and
// severity.
func Priority(facility int, level syslog.Priority) syslog.Priority {
	if facility < 0 || facility > 7 {
		facility = 0
	}
	if level <= 0 || level > syslog.LOG_DEBUG {
		level = syslog.LOG_ERR
	}
	return syslog.LOG_LOCAL0 + syslog.Priority(facility)<<3 | level
}

// Setup creates the logger. The syslog connection failing is not fatal; the
// logger then falls back to stderr and says so.
func Setup(opts Options) *logrus.Logger {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	l := logrus.New()
	l.SetOutput(stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	if opts.Debug > 0 {
		l.SetLevel(logrus.DebugLevel)
		return l
	}

	l.SetLevel(logrus.InfoLevel)

	if err := addSyslogHook(l, Priority(opts.Facility, opts.Level), opts.Tag); err != nil {
		l.WithError(err).Warn("unable to connect to syslog, defaulting to stderr")
	}

	return l
}
