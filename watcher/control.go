package watcher

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"git.unix.lgbt/diamondburned/watcher/watcher/internal/exec"
	"git.unix.lgbt/diamondburned/watcher/watcher/pidfile"
	"github.com/sirupsen/logrus"
)

// MaxExecFailures is how many exec failures in a row are tolerated. One more
// terminates the supervisor.
const MaxExecFailures = 3

// Exit codes of the supervisor process.
const (
	ExitOK         = 0
	ExitExecFatal  = 1
	ExitBadCommand = 2
	ExitHelp       = 6
	ExitDaemonize  = 7
	ExitStartup    = 8
)

// Signals are the signals the Controller subscribes to.
var Signals = []os.Signal{
	syscall.SIGHUP,
	syscall.SIGTERM,
	syscall.SIGINT,
	syscall.SIGUSR1,
}

// ControllerOpts are the optional collaborators of a Controller.
type ControllerOpts struct {
	PIDFile *pidfile.File
	Journal Journaler
	Log     logrus.FieldLogger
	// Exit terminates the process. It defaults to os.Exit.
	Exit func(code int)
}

// Controller is the supervisor's signal control plane. Signal handling runs
// concurrently with the supervisor loop, so everything shared with the loop is
// either atomic or guarded by mu.
type Controller struct {
	cfg     *Config
	journal Journaler
	log     logrus.FieldLogger
	exit    func(int)

	child        atomic.Pointer[childRef]
	execFailures atomic.Int32
	reapPending  atomic.Bool
	reaped       chan struct{}

	mu          sync.Mutex // guards pidfile writes against termination
	pidfile     *pidfile.File
	terminating bool
}

type childRef struct {
	proc exec.Process
}

// NewController binds a controller to the given configuration. The
// configuration must already be validated.
func NewController(cfg *Config, opts ControllerOpts) *Controller {
	c := &Controller{
		cfg:     cfg,
		journal: opts.Journal,
		log:     opts.Log,
		exit:    opts.Exit,
		reaped:  make(chan struct{}, 1),
		pidfile: opts.PIDFile,
	}

	if c.journal == nil {
		c.journal = DiscardJournaler
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	if c.exit == nil {
		c.exit = os.Exit
	}

	return c
}

// Start subscribes to Signals and handles them in the background until ctx
// is canceled.
func (c *Controller) Start(ctx context.Context) {
	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, Signals...)

	go func() {
		defer signal.Stop(sigCh)

		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				c.Handle(sig)
			}
		}
	}()
}

// Handle reacts to a single signal. SIGCHLD is never received from the OS;
// the supervisor synthesizes it once it has collected the child's status.
func (c *Controller) Handle(sig os.Signal) {
	c.log.Debugf("catch signal %v, current child pid = %d", sig, c.Child())

	switch sig {
	case syscall.Signal(0):
		// Configuration is bound at construction.
	case syscall.SIGCHLD:
		c.reapPending.Store(true)
		select {
		case c.reaped <- struct{}{}:
		default:
		}
	case syscall.SIGUSR1:
		c.ExecFailed()
	default:
		c.terminate(sig)
	}
}

// terminate forwards sig to the child, removes the PID file and exits 0.
func (c *Controller) terminate(sig os.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminating {
		return
	}
	c.terminating = true

	var childPID int
	if ref := c.child.Load(); ref != nil {
		childPID = ref.proc.PID()
		if err := ref.proc.Signal(sig); err != nil {
			c.log.WithError(err).Warnf("can't forward %v to child %d", sig, childPID)
		}
	}

	if c.pidfile != nil {
		if err := c.pidfile.Remove(); err != nil {
			c.log.WithError(err).Warn("can't remove pid file")
		}
	}

	c.journal.Write(&EventTerminated{Signal: sig.String(), ChildPID: childPID})
	c.log.Infof("caught %v, terminating", sig)

	c.exit(ExitOK)
}

// ExecFailed counts one exec failure. Going over MaxExecFailures terminates
// the supervisor with ExitExecFatal.
func (c *Controller) ExecFailed() {
	n := c.execFailures.Add(1)
	if n <= MaxExecFailures {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminating {
		return
	}
	c.terminating = true

	c.log.Error("exec fail too many, terminate.")
	c.journal.Write(&EventExecFailsFatal{Failures: int(n)})

	if c.pidfile != nil {
		c.pidfile.Remove()
	}

	c.exit(ExitExecFatal)
}

// ExecFailures returns the current exec failure streak.
func (c *Controller) ExecFailures() int {
	return int(c.execFailures.Load())
}

// ResetExecFailures clears the exec failure streak.
func (c *Controller) ResetExecFailures() {
	c.execFailures.Store(0)
}

// ClearReap clears a pending reap notification. It is called right before a
// new child is spawned.
func (c *Controller) ClearReap() {
	c.reapPending.Store(false)
	select {
	case <-c.reaped:
	default:
	}
}

// ReapPending returns true if the child has exited since the last ClearReap.
func (c *Controller) ReapPending() bool {
	return c.reapPending.Load()
}

// Reaped returns the channel that receives a value once the current child
// has exited.
func (c *Controller) Reaped() <-chan struct{} {
	return c.reaped
}

// SetChild marks proc as the running child and writes it into the PID file.
func (c *Controller) SetChild(proc exec.Process) {
	c.child.Store(&childRef{proc})
	c.writePIDFile(proc.PID())
}

// ClearChild marks that no child is running and clears it from the PID
// file.
func (c *Controller) ClearChild() {
	c.child.Store(nil)
	c.writePIDFile(0)
}

// Child returns the PID of the running child, or 0.
func (c *Controller) Child() int {
	if ref := c.child.Load(); ref != nil {
		return ref.proc.PID()
	}
	return 0
}

func (c *Controller) writePIDFile(child int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pidfile == nil || c.terminating {
		return
	}

	if err := c.pidfile.Write(child); err != nil {
		c.log.WithError(err).Warn("can't write pid file")
	}
}
