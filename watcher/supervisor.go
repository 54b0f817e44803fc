package watcher

import (
	"context"
	"os"
	"runtime"
	"strings"
	"syscall"
	"time"

	"git.unix.lgbt/diamondburned/watcher/watcher/internal/exec"
	"git.unix.lgbt/diamondburned/watcher/watcher/logfile"
	"github.com/sirupsen/logrus"
)

// SettleDelay is the fixed pause after every child exit, so that a command
// exiting immediately can never make the supervisor spin.
var SettleDelay = time.Second

// SupervisorOpts are the optional collaborators of a Supervisor.
type SupervisorOpts struct {
	Journal Journaler
	Log     logrus.FieldLogger
}

// Supervisor runs the command over and over. Its methods must be called from
// a single goroutine.
type Supervisor struct {
	// SettleDelay overrides the package SettleDelay.
	SettleDelay time.Duration

	cfg     *Config
	ctrl    *Controller
	history *CrashHistory
	journal Journaler
	log     logrus.FieldLogger

	rotation *logfile.RotationWatcher

	startProc func(argv []string, attr exec.Attr) (exec.Process, error)
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) bool
}

// NewSupervisor creates a supervisor for the validated configuration. The
// controller must have been created for the same configuration.
func NewSupervisor(cfg *Config, ctrl *Controller, opts SupervisorOpts) *Supervisor {
	s := &Supervisor{
		SettleDelay: SettleDelay,

		cfg:     cfg,
		ctrl:    ctrl,
		history: NewCrashHistory(cfg.Alert.Count),
		journal: opts.Journal,
		log:     opts.Log,

		startProc: exec.StartProcess,
		now:       time.Now,
		sleep:     sleepCtx,
	}

	if s.journal == nil {
		s.journal = DiscardJournaler
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}

	s.log.Debugf("slot length = %d", s.history.Len())
	return s
}

// History returns the crash history.
func (s *Supervisor) History() *CrashHistory { return s.history }

// Run supervises the command until ctx is canceled. In production the loop
// only ends through the Controller exiting the process.
func (s *Supervisor) Run(ctx context.Context) error {
	// The child's parent death signal is bound to the spawning thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if s.cfg.LogFile != "" {
		rw, err := logfile.WatchRotation(s.cfg.LogFile, s.log)
		if err != nil {
			s.log.WithError(err).Warn("not watching log file for rotation")
			s.journal.Write(&EventWarning{Component: "logfile", Error: err.Error()})
		} else {
			s.rotation = rw
			defer rw.Close()
		}
	}

	s.journal.Write(&EventStarted{PID: os.Getpid(), Command: s.command()})

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.log.Debug("Loop...")

		verdict, ok := s.runOnce(ctx)
		if !ok {
			// Transient failure before anything ran; try again right away.
			continue
		}

		if verdict.Pause() {
			if !s.sleep(ctx, s.cfg.Sleep) {
				return ctx.Err()
			}
		}
	}
}

// runOnce spawns one child and waits for it. False is returned if no child
// was spawned because of a transient error.
func (s *Supervisor) runOnce(ctx context.Context) (Verdict, bool) {
	s.ctrl.ClearReap()

	var pipes *logfile.Pipes
	if s.cfg.LogFile != "" {
		p, err := logfile.NewPipes()
		if err != nil {
			s.log.WithError(err).Warn("can't create output pipes")
			return NoProblem, false
		}
		defer p.Close()
		pipes = p
	}

	var status ExitStatus

	proc, err := s.startProc(s.cfg.Argv, s.childAttr(pipes))
	if err != nil {
		transient := exec.IsTransient(err)

		s.journal.Write(&EventSpawnError{
			Command:   s.command(),
			Reason:    err.Error(),
			Transient: transient,
		})

		if transient {
			s.log.WithError(err).Error("fork failed")
			return NoProblem, false
		}

		s.log.Errorf("%s execute fail, %v", s.cfg.Argv[0], err)
		s.ctrl.ExecFailed()

		status = ExitStatus{Code: ExitExecFailed, Error: err}
	} else {
		status = s.wait(proc, pipes)
	}

	return s.reaped(ctx, status), true
}

// childAttr describes the child's side of the spawn: its credentials and
// where its standard streams go. The runtime applies it between fork and
// exec.
func (s *Supervisor) childAttr(pipes *logfile.Pipes) exec.Attr {
	attr := exec.Attr{
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
	}

	if pipes != nil {
		attr.Files[1] = pipes.ChildStdout
		attr.Files[2] = pipes.ChildStderr
	}

	if os.Getuid() == 0 && (s.cfg.UID != -1 || s.cfg.GID != -1) {
		cred := &syscall.Credential{
			Uid: uint32(os.Getuid()),
			Gid: uint32(os.Getgid()),
		}
		if s.cfg.GID != -1 {
			cred.Gid = uint32(s.cfg.GID)
		}
		if s.cfg.UID != -1 {
			cred.Uid = uint32(s.cfg.UID)
		}
		attr.Credential = cred
	}

	return attr
}

// wait follows a spawned child until it has been reaped, copying its output
// into the log file in the meantime if there is one.
func (s *Supervisor) wait(proc exec.Process, pipes *logfile.Pipes) ExitStatus {
	s.ctrl.SetChild(proc)

	s.log.Infof("process %s [%d] execute.", s.cfg.Argv[0], proc.PID())
	s.journal.Write(&EventChildSpawned{PID: proc.PID(), Command: s.command()})

	exited := make(chan ExitStatus, 1)
	go func() {
		status := proc.Wait()
		// Notify before handing over the status, so the notification can
		// never leak into the next child's run.
		s.ctrl.Handle(syscall.SIGCHLD)
		exited <- status
	}()

	if pipes != nil {
		pipes.CloseChildEnds()

		mux := logfile.Multiplexer{
			Writer:   logfile.NewWriter(s.cfg.LogFile, s.log),
			Rotation: s.rotation,
			Log:      s.log,
		}
		mux.Run(pipes.Stdout, pipes.Stderr, s.ctrl.Reaped())
	}

	status := <-exited
	s.ctrl.ClearChild()

	s.log.Debugf("child %d exited, code = %d, signal = %v, err = %v",
		status.PID, status.Code, status.Signal, status.Error)

	return status
}

// reaped records the exit and decides how long to wait before the next
// spawn.
func (s *Supervisor) reaped(ctx context.Context, status ExitStatus) Verdict {
	now := s.now()

	s.history.Record(now)
	s.history.SetStatus(status)

	ev := EventChildExited{
		PID:      status.PID,
		Command:  s.command(),
		ExitCode: status.Code,
	}
	if status.Signal != 0 {
		ev.Signal = status.Signal.String()
	}
	if status.Error != nil {
		ev.Error = status.Error.Error()
	}
	s.journal.Write(&ev)

	verdict := CheckFlapping(s.history, s.cfg.Alert, s.ctrl, s.log)
	if verdict == TooManyCrashes {
		s.journal.Write(&EventCrashLoop{
			Count:  s.cfg.Alert.Count,
			Region: s.cfg.Alert.Region.Seconds(),
			Sleep:  s.cfg.Sleep.Seconds(),
		})
	}

	s.log.Infof("process %s [%d] terminate.", s.cfg.ProgName, status.PID)

	s.sleep(ctx, s.SettleDelay)
	return verdict
}

func (s *Supervisor) command() string {
	return strings.Join(s.cfg.Argv, " ")
}

// sleepCtx sleeps for d. False is returned if ctx was canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
