package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestConfigValidate(t *testing.T) {
	noexec := filepath.Join(t.TempDir(), "noexec")
	if err := os.WriteFile(noexec, []byte("#!/bin/sh\n"), 0644); err != nil {
		t.Fatal(err)
	}

	type test struct {
		name string
		argv []string
		err  error
	}

	var tests = []test{
		{"no command", nil, ErrNoCommand},
		{"empty command", []string{""}, ErrNoCommand},
		{"missing", []string{"/nonexistent/command"}, ErrNotExecutable},
		{"not executable", []string{noexec}, ErrNotExecutable},
		{"ok", []string{"/bin/sh", "-c", "true"}, nil},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Argv = test.argv

			err := cfg.Validate()
			if errors.Cause(err) != test.err {
				t.Fatalf("Validate() = %v, expected %v", err, test.err)
			}
		})
	}
}

func TestConfigProgName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Argv = []string{"/bin/sh"}

	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.ProgName != "sh" {
		t.Errorf("ProgName = %q, expected sh", cfg.ProgName)
	}

	cfg.ProgName = "shell"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.ProgName != "shell" {
		t.Errorf("ProgName overridden to %q", cfg.ProgName)
	}
}

func TestConfigDump(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Argv = []string{"/bin/sh", "-c", "true"}

	var b strings.Builder
	cfg.Dump(&b)

	for _, line := range []string{
		"alert.count      = 10\n",
		"logfile          = (NULL)\n",
		"argc             = 3\n",
		"argv[2] = true\n",
	} {
		if !strings.Contains(b.String(), line) {
			t.Errorf("dump missing %q:\n%s", line, b.String())
		}
	}
}
