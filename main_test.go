package main

import (
	"bytes"
	"flag"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"git.unix.lgbt/diamondburned/watcher/watcher"
	"git.unix.lgbt/diamondburned/watcher/watcher/journal"
	"github.com/pkg/errors"
)

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{
		"-t", "3.20",
		"-f", "5",
		"-s", "60",
		"-d", "1",
		"-l", "/tmp/out.log",
		"-p", "watcher.pid",
		"-j", "/tmp/journal",
		"-k", "10",
		"--",
		"/bin/sh", "-c", "exit 1",
	}, io.Discard)
	if err != nil {
		t.Fatal("failed to parse:", err)
	}

	cfg := opts.cfg

	if cfg.Alert != (watcher.Alert{Count: 3, Region: 20 * time.Second}) {
		t.Errorf("alert = %+v", cfg.Alert)
	}
	if cfg.Syslog.Facility != 5 {
		t.Errorf("facility = %d", cfg.Syslog.Facility)
	}
	if cfg.Sleep != time.Minute {
		t.Errorf("sleep = %v", cfg.Sleep)
	}
	if cfg.Debug != 1 || cfg.LogFile != "/tmp/out.log" || cfg.Journal != "/tmp/journal" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.PIDFile != "watcher.pid" {
		t.Errorf("pid file = %q", cfg.PIDFile)
	}
	if strings.Join(cfg.Argv, " ") != "/bin/sh -c exit 1" {
		t.Errorf("argv = %q", cfg.Argv)
	}
	if len(opts.ignored) != 1 || opts.ignored[0] != "-k" {
		t.Errorf("ignored = %q", opts.ignored)
	}
}

func TestParseFlagsDefaults(t *testing.T) {
	opts, err := parseFlags([]string{"-s", "-5", "/bin/true", "-t", "1"}, io.Discard)
	if err != nil {
		t.Fatal("failed to parse:", err)
	}

	def := watcher.DefaultConfig()

	if opts.cfg.Sleep != def.Sleep {
		t.Errorf("negative sleep not ignored: %v", opts.cfg.Sleep)
	}
	if opts.cfg.Alert != def.Alert {
		t.Errorf("flags after the command were parsed: %+v", opts.cfg.Alert)
	}
	if len(opts.cfg.Argv) != 3 {
		t.Errorf("argv = %q", opts.cfg.Argv)
	}
}

func TestParseFlagsErrors(t *testing.T) {
	var out bytes.Buffer

	_, err := parseFlags([]string{"-h"}, &out)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("-h returned %v, expected flag.ErrHelp", err)
	}
	if !strings.Contains(out.String(), "Usage:") {
		t.Errorf("usage not printed:\n%s", out.String())
	}

	for _, args := range [][]string{
		{"-t", "x.10"},
		{"-t", "3.y"},
		{"-s", "soon"},
		{"-x"},
	} {
		if _, err := parseFlags(args, io.Discard); err == nil {
			t.Errorf("%q parsed without error", args)
		}
	}
}

func TestParseThreshold(t *testing.T) {
	prev := watcher.Alert{Count: 10, Region: 10 * time.Second}

	type test struct {
		in     string
		expect watcher.Alert
	}

	var tests = []test{
		{"3.20", watcher.Alert{Count: 3, Region: 20 * time.Second}},
		{"5", watcher.Alert{Count: 5, Region: 10 * time.Second}},
		{"0.0", watcher.Alert{}},
		{"3.", watcher.Alert{Count: 3}},
		{".20", watcher.Alert{Region: 20 * time.Second}},
	}

	for _, test := range tests {
		got, err := parseThreshold(test.in, prev)
		if err != nil {
			t.Errorf("%q: %v", test.in, err)
			continue
		}
		if got != test.expect {
			t.Errorf("%q = %+v, expected %+v", test.in, got, test.expect)
		}
	}

	if alert, _ := parseThreshold("3.", prev); !alert.Disabled() {
		t.Errorf("empty region does not disable the alert: %+v", alert)
	}
}

func TestLookupIDs(t *testing.T) {
	if id := lookupUID("1234"); id != 1234 {
		t.Errorf("numeric uid = %d", id)
	}
	if id := lookupGID("4321"); id != 4321 {
		t.Errorf("numeric gid = %d", id)
	}
	if id := lookupUID("root"); id != 0 {
		t.Errorf("root uid = %d", id)
	}
	if id := lookupUID("no-such-user-here"); id != -1 {
		t.Errorf("unknown user = %d, expected -1", id)
	}
	if id := lookupGID("no-such-group-here"); id != -1 {
		t.Errorf("unknown group = %d, expected -1", id)
	}
}

func TestPrintStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal")

	j, err := journal.NewFileLockJournaler(path)
	if err != nil {
		t.Fatal("failed to open journal:", err)
	}

	j.Write(&watcher.EventStarted{PID: 100, Command: "/bin/sh -c exit 1"})
	j.Write(&watcher.EventChildSpawned{PID: 101, Command: "/bin/sh -c exit 1"})
	j.Write(&watcher.EventChildExited{PID: 101, ExitCode: 1})
	j.Write(&watcher.EventCrashLoop{Count: 1, Region: 10, Sleep: 30})
	j.Close()

	var out bytes.Buffer
	if code := printStatus(&out, path); code != watcher.ExitOK {
		t.Fatalf("printStatus returned %d", code)
	}

	for _, line := range []string{
		"watcher  [100]",
		"command  /bin/sh -c exit 1\n",
		"state    crash looping",
		"restarts 1 spawned, 1 exited\n",
		"last     [101] exit status 1",
	} {
		if !strings.Contains(out.String(), line) {
			t.Errorf("status missing %q:\n%s", line, out.String())
		}
	}

	if code := printStatus(&out, filepath.Join(t.TempDir(), "missing")); code != watcher.ExitStartup {
		t.Errorf("missing journal returned %d", code)
	}
}

func TestIsDaemon(t *testing.T) {
	t.Setenv(daemonEnv, "")
	if isDaemon() {
		t.Fatal("daemon without the marker")
	}

	t.Setenv(daemonEnv, "1")
	if !isDaemon() {
		t.Fatal("not a daemon with the marker")
	}
}
