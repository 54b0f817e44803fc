package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"git.unix.lgbt/diamondburned/watcher/watcher"
	"git.unix.lgbt/diamondburned/watcher/watcher/journal"
	"git.unix.lgbt/diamondburned/watcher/watcher/logging"
	"git.unix.lgbt/diamondburned/watcher/watcher/pidfile"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const version = "2.05"

// options is everything parsed from the command line.
type options struct {
	cfg     watcher.Config
	status  bool
	version bool

	// ignored are the accepted but unimplemented flags that were given.
	ignored []string
}

func usage(w io.Writer, fs *flag.FlagSet) {
	f := func(f string, v ...interface{}) {
		fmt.Fprintf(w, f, v...)
	}

	name := filepath.Base(os.Args[0])

	f("%s : watch and restart an application. version %s.\n", name, version)
	f("\n")
	f("Usage:\n")
	f("  %s [flags] [--] command arg1 arg2 ...\n", name)
	f("  %s -S -j <journal>\n", name)
	f("\n")
	f("Flags:\n")
	fs.SetOutput(w)
	fs.PrintDefaults()
}

// parseFlags parses args, excluding the program name. Errors, including
// flag.ErrHelp for -h, have already been reported to stderr along with the
// usage when they are returned.
func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := options{cfg: watcher.DefaultConfig()}
	cfg := &opts.cfg

	fs := flag.NewFlagSet("watcher", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { usage(stderr, fs) }

	fs.Func("t", "alert when the command terminates `count[.region]` times in region seconds", func(v string) error {
		alert, err := parseThreshold(v, cfg.Alert)
		if err != nil {
			return err
		}
		cfg.Alert = alert
		return nil
	})
	fs.IntVar(&cfg.Syslog.Facility, "f", cfg.Syslog.Facility, "syslog facility LOCAL`n` (0-7)")
	fs.Func("s", "sleep `seconds` before restarting a crash looping command", func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		if n >= 0 {
			cfg.Sleep = time.Duration(n) * time.Second
		}
		return nil
	})
	fs.Func("u", "run the command as `user` (name or uid, root only)", func(v string) error {
		if os.Getuid() == 0 {
			cfg.UID = lookupUID(v)
		}
		return nil
	})
	fs.Func("g", "run the command as `group` (name or gid, root only)", func(v string) error {
		if os.Getuid() == 0 {
			cfg.GID = lookupGID(v)
		}
		return nil
	})
	fs.IntVar(&cfg.Debug, "d", cfg.Debug, "debug `level`; stay in the foreground and log to stderr if > 0")
	fs.StringVar(&cfg.LogFile, "l", cfg.LogFile, "write the command's stdout and stderr to `logfile`")
	fs.StringVar(&cfg.PIDFile, "p", cfg.PIDFile, "write the watcher and command PIDs to `pidfile`")
	fs.StringVar(&cfg.Journal, "j", cfg.Journal, "append events to the `journal` file")
	fs.BoolVar(&opts.status, "S", false, "print the last state recorded in the journal and exit")
	fs.Func("k", "restart the command every `seconds` (not implemented)", func(v string) error {
		opts.ignored = append(opts.ignored, "-k")
		return nil
	})
	fs.Func("K", "restart the command every `H:M` (not implemented)", func(v string) error {
		opts.ignored = append(opts.ignored, "-K")
		return nil
	})
	fs.BoolVar(&opts.version, "V", false, "print the version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.Argv = fs.Args()
	return &opts, nil
}

// parseThreshold parses "count" or "count.region" on top of prev. An empty
// count or region is 0, which disables crash loop detection.
func parseThreshold(v string, prev watcher.Alert) (watcher.Alert, error) {
	alert := prev

	count, region, hasRegion := strings.Cut(v, ".")

	n, err := atoiOrZero(count)
	if err != nil {
		return prev, errors.Wrap(err, "invalid count")
	}
	alert.Count = n

	if hasRegion {
		sec, err := atoiOrZero(region)
		if err != nil {
			return prev, errors.Wrap(err, "invalid region")
		}
		alert.Region = time.Duration(sec) * time.Second
	}

	return alert, nil
}

func atoiOrZero(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// lookupUID resolves a user name or numeric uid. -1 is returned for an
// unknown user.
func lookupUID(v string) int {
	if id, err := strconv.Atoi(v); err == nil {
		return id
	}

	u, err := user.Lookup(v)
	if err != nil {
		return -1
	}

	id, err := strconv.Atoi(u.Uid)
	if err != nil {
		return -1
	}
	return id
}

// lookupGID resolves a group name or numeric gid. -1 is returned for an
// unknown group.
func lookupGID(v string) int {
	if id, err := strconv.Atoi(v); err == nil {
		return id
	}

	g, err := user.LookupGroup(v)
	if err != nil {
		return -1
	}

	id, err := strconv.Atoi(g.Gid)
	if err != nil {
		return -1
	}
	return id
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		return watcher.ExitHelp
	}

	cfg := &opts.cfg

	switch {
	case opts.version:
		fmt.Fprintf(os.Stderr, "Version %s.\n\n", version)
		return watcher.ExitOK
	case opts.status:
		return printStatus(os.Stdout, cfg.Journal)
	}

	if cfg.PIDFile != "" {
		abs, err := filepath.Abs(cfg.PIDFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "invalid pid file path:", err)
			return watcher.ExitStartup
		}
		cfg.PIDFile = abs

		if err := pidfile.Check(cfg.PIDFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return watcher.ExitStartup
		}
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return watcher.ExitBadCommand
	}

	if cfg.Debug > 0 {
		cfg.Dump(os.Stderr)
	}

	log := logging.Setup(logging.Options{
		Debug:    cfg.Debug,
		Facility: cfg.Syslog.Facility,
		Level:    cfg.Syslog.Level,
		Tag:      "watcher",
	})

	for _, name := range opts.ignored {
		log.Warnf("%s is not implemented, ignoring", name)
	}

	if cfg.Debug == 0 && !isDaemon() {
		if err := daemonize(); err != nil {
			log.WithError(err).Error("can't become a daemon")
			return watcher.ExitDaemonize
		}
		return watcher.ExitOK
	}

	// The command must not think it's a daemonized watcher.
	os.Unsetenv(daemonEnv)

	return supervise(cfg, log)
}

func supervise(cfg *watcher.Config, log *logrus.Logger) int {
	var pf *pidfile.File
	if cfg.PIDFile != "" {
		f, err := pidfile.Open(cfg.PIDFile, os.Getpid())
		if err != nil {
			log.WithError(err).Error("can't create pid file")
			return watcher.ExitStartup
		}
		pf = f
	}

	journaler := journal.LogWriter(log)

	if cfg.Journal != "" {
		j, err := journal.NewFileLockJournaler(cfg.Journal)
		if err != nil {
			log.WithError(err).Errorf("can't open journal %q", cfg.Journal)
			if pf != nil {
				pf.Remove()
			}
			return watcher.ExitStartup
		}
		defer j.Close()

		journaler = journal.MultiWriter(j, journaler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl := watcher.NewController(cfg, watcher.ControllerOpts{
		PIDFile: pf,
		Journal: journaler,
		Log:     log,
	})
	ctrl.Start(ctx)

	sup := watcher.NewSupervisor(cfg, ctrl, watcher.SupervisorOpts{
		Journal: journaler,
		Log:     log,
	})

	// Only the controller ends the supervision, by exiting the process.
	if err := sup.Run(ctx); err != nil {
		log.WithError(err).Error("supervisor stopped")
		return watcher.ExitStartup
	}

	return watcher.ExitOK
}
