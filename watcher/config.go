package watcher

import (
	"fmt"
	"io"
	"log/syslog"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Defaults for Config.
const (
	DefaultRegion = 10 * time.Second
	DefaultCount  = 10
	DefaultSleep  = 30 * time.Second
)

var (
	// ErrNoCommand is returned by Validate if there's no command to run.
	ErrNoCommand = errors.New("client program not specified")
	// ErrNotExecutable is returned by Validate if the command cannot be
	// executed by us.
	ErrNotExecutable = errors.New("client program not executable")
)

// Alert is the crash loop threshold: Count exits within Region.
type Alert struct {
	Count  int
	Region time.Duration
}

// Disabled returns true if crash loop detection is turned off.
func (a Alert) Disabled() bool {
	return a.Count < 1 || a.Region < time.Second
}

// Syslog is where diagnostics go outside of debug mode.
type Syslog struct {
	Facility int // n in LOCALn
	Level    syslog.Priority
}

// Config is the supervisor configuration. It must not be modified after
// Validate has been called.
type Config struct {
	Alert  Alert
	Syslog Syslog

	// UID and GID are applied to the child if the supervisor runs as root.
	// -1 leaves them unchanged.
	UID, GID int

	// Sleep is how long to pause before a restart once a crash loop is
	// detected.
	Sleep time.Duration

	LogFile string
	PIDFile string
	Journal string

	// ProgName is the display name of the command.
	ProgName string
	// Argv is the command path followed by its arguments.
	Argv []string

	Debug int
}

// DefaultConfig returns the configuration used when no flags are given.
func DefaultConfig() Config {
	return Config{
		Alert:  Alert{Count: DefaultCount, Region: DefaultRegion},
		Syslog: Syslog{Facility: 0, Level: syslog.LOG_ERR},
		UID:    -1,
		GID:    -1,
		Sleep:  DefaultSleep,
	}
}

// Validate checks that the command can be run and fills in ProgName.
func (c *Config) Validate() error {
	if len(c.Argv) == 0 || c.Argv[0] == "" {
		return ErrNoCommand
	}

	if err := unix.Access(c.Argv[0], unix.X_OK); err != nil {
		return errors.Wrapf(ErrNotExecutable, "%q: %v", c.Argv[0], err)
	}

	if c.ProgName == "" {
		c.ProgName = filepath.Base(c.Argv[0])
	}

	return nil
}

// Dump prints the configuration, one field per line.
func (c *Config) Dump(w io.Writer) {
	orNull := func(s string) string {
		if s == "" {
			return "(NULL)"
		}
		return s
	}

	fmt.Fprintf(w, "alert.region     = %v\n", c.Alert.Region)
	fmt.Fprintf(w, "alert.count      = %d\n", c.Alert.Count)
	fmt.Fprintf(w, "syslog.facility  = LOCAL%d\n", c.Syslog.Facility)
	fmt.Fprintf(w, "syslog.level     = %d\n", c.Syslog.Level)
	fmt.Fprintf(w, "uid/gid          = %d / %d\n", c.UID, c.GID)
	fmt.Fprintf(w, "sleeptime        = %v\n", c.Sleep)
	fmt.Fprintf(w, "logfile          = %s\n", orNull(c.LogFile))
	fmt.Fprintf(w, "pidfile          = %s\n", orNull(c.PIDFile))
	fmt.Fprintf(w, "journal          = %s\n", orNull(c.Journal))
	fmt.Fprintf(w, "progname         = %s\n", orNull(c.ProgName))
	fmt.Fprintf(w, "argc             = %d\n", len(c.Argv))
	for i, arg := range c.Argv {
		fmt.Fprintf(w, "argv[%d] = %s\n", i, arg)
	}
}
