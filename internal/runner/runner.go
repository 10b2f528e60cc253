// Package runner implements the debounced watch-and-execute event loop. A
// Runner owns one signal source and one change source, multiplexes them with
// a single poll(2) wait, coalesces bursts of modifications into one pending
// batch, and runs the external command when a burst goes quiet.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/onchange/onchange/internal/watch"
)

// Default loop timings: a fast re-check while a burst may still be arriving,
// and a relaxed wait when nothing is pending.
const (
	DefaultDebounce = 100 * time.Millisecond
	DefaultIdleWait = time.Second
)

// defaultShell executes the command string, system(3)-style.
const defaultShell = "/bin/sh"

// Runner executes one watch-and-run lifecycle over a single target path.
// Construct with New, start with Run, request a graceful stop with Stop.
// A Runner is single use: Run may be called at most once.
type Runner struct {
	target  string
	command string
	shell   string

	debounce time.Duration
	idle     time.Duration

	log *slog.Logger
	rep *watch.Reporter

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	afterExec func(ExecResult)

	stats Stats

	ready     chan struct{}
	readyOnce sync.Once

	sig       atomic.Pointer[watch.SignalSource]
	stopEarly atomic.Bool
}

// Option is a functional option for Runner construction.
type Option func(*Runner)

// WithDebounce sets the fast re-check timeout used while modifications are
// pending. Non-positive values are ignored.
func WithDebounce(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.debounce = d
		}
	}
}

// WithIdleWait sets the poll timeout used when nothing is pending.
// Non-positive values are ignored.
func WithIdleWait(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.idle = d
		}
	}
}

// WithShell overrides the shell the command string is passed to.
func WithShell(shell string) Option {
	return func(r *Runner) {
		if shell != "" {
			r.shell = shell
		}
	}
}

// WithReporter attaches a verbose reporter. A nil reporter (the default)
// keeps the loop quiet.
func WithReporter(rep *watch.Reporter) Option {
	return func(r *Runner) { r.rep = rep }
}

// WithAfterExec registers a hook invoked on the loop goroutine after every
// completed (clean exit) execution. Single-shot mode is built on it: the
// hook calls Stop after the first execution.
func WithAfterExec(fn func(ExecResult)) Option {
	return func(r *Runner) { r.afterExec = fn }
}

// WithCommandStdio overrides the streams handed to the executed command.
// Nil arguments keep the corresponding process stream.
func WithCommandStdio(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(r *Runner) {
		if stdin != nil {
			r.stdin = stdin
		}
		if stdout != nil {
			r.stdout = stdout
		}
		if stderr != nil {
			r.stderr = stderr
		}
	}
}

// New creates a Runner that watches target and executes command through the
// shell on each coalesced batch of modifications. The zero configuration is
// production-ready; options adjust timings, streams, reporting, and hooks.
func New(target, command string, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		target:   target,
		command:  command,
		shell:    defaultShell,
		debounce: DefaultDebounce,
		idle:     DefaultIdleWait,
		log:      logger,
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ready returns a channel that is closed once both sources are open and the
// loop is about to enter its first wait. Waiting on Ready before triggering
// filesystem operations eliminates races in tests.
func (r *Runner) Ready() <-chan struct{} {
	return r.ready
}

// Stats returns a snapshot of the runner's counters. Safe to call at any
// time, including while the loop is running.
func (r *Runner) Stats() StatsSnapshot {
	return r.stats.snapshot()
}

// Stop requests a graceful stop by injecting a synthetic termination record.
// The loop observes it at its next wait, discards any pending batch, tears
// both sources down, and Run returns nil. Safe to call from any goroutine,
// before or during Run.
func (r *Runner) Stop() {
	r.stopEarly.Store(true)
	if s := r.sig.Load(); s != nil {
		_ = s.Interrupt()
	}
}

// Run executes the event loop until a termination signal arrives (nil
// return), the context is cancelled (also nil: cancellation is a graceful
// stop), or a fatal condition occurs (*watch.SetupError,
// *watch.SignalReadError, *PollError, or *CommandAbortError).
//
// Setup order and teardown order are fixed: the signal source opens first
// and closes last; teardown runs exactly once on every exit path after a
// successful setup.
func (r *Runner) Run(ctx context.Context) error {
	log := r.log.With(slog.String("run_id", uuid.NewString()))

	sigSrc, err := watch.NewSignalSource()
	if err != nil {
		log.Error("signal source setup failed", slog.Any("error", err))
		return err
	}

	changeSrc, err := watch.NewChangeSource(r.target)
	if err != nil {
		_ = sigSrc.Close()
		log.Error("change source setup failed",
			slog.String("target", r.target),
			slog.Any("error", err))
		return err
	}

	defer func() {
		r.rep.Closing()
		_ = changeSrc.Close()
		_ = sigSrc.Close()
		snap := r.stats.snapshot()
		log.Info("watch loop finished",
			slog.Int64("modify_events", snap.ModifyEvents),
			slog.Int64("batches", snap.Batches),
			slog.Int64("executions", snap.Executions))
	}()

	r.sig.Store(sigSrc)
	defer r.sig.Store(nil)

	// A stop requested before the sources existed lands here.
	if r.stopEarly.Load() {
		_ = sigSrc.Interrupt()
	}

	// Translate context cancellation into the same graceful stop a real
	// termination signal produces, keeping the loop a pure fd multiplexer.
	loopDone := make(chan struct{})
	defer close(loopDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = sigSrc.Interrupt()
		case <-loopDone:
		}
	}()

	r.rep.Monitoring(r.target, changeSrc.WatchDesc())
	log.Info("watching for changes",
		slog.String("target", r.target),
		slog.String("command", r.command),
		slog.Int("watch_desc", int(changeSrc.WatchDesc())))

	r.readyOnce.Do(func() { close(r.ready) })

	fds := []unix.PollFd{
		{Fd: int32(sigSrc.FD()), Events: unix.POLLIN},
		{Fd: int32(changeSrc.FD()), Events: unix.POLLIN},
	}

	pending := 0
	for {
		timeout := r.idle
		if pending > 0 {
			timeout = r.debounce
		}

		sigReady, changeReady, err := waitReady(fds, timeout)
		if err != nil {
			log.Error("readiness wait failed", slog.Any("error", err))
			return err
		}

		if !sigReady && !changeReady {
			// Timeout. With modifications pending this is the
			// debounce trigger: the burst has gone quiet.
			if pending == 0 {
				continue
			}
			pending = 0
			res, err := r.runCommand(log)
			if err != nil {
				return err
			}
			r.stats.Executions.Add(1)
			if res.Status != 0 {
				r.stats.NonzeroExits.Add(1)
			}
			if r.afterExec != nil {
				r.afterExec(res)
			}
			continue
		}

		// The signal check comes first: a shutdown arriving together
		// with a change burst wins, and the final partial batch is
		// discarded rather than flushed.
		if sigReady {
			got, err := sigSrc.ReadOne()
			if err != nil {
				log.Error("signal read failed", slog.Any("error", err))
				return err
			}
			if got == syscall.SIGINT || got == syscall.SIGTERM {
				r.rep.Shutdown()
				log.Info("shutdown signal received",
					slog.String("signal", got.String()))
				return nil
			}
			r.stats.UnexpectedSignals.Add(1)
			r.rep.UnexpectedSignal(int(got))
			log.Warn("ignoring unexpected signal",
				slog.String("signal", got.String()))
		}

		if changeReady {
			n, err := changeSrc.PollEvents(r.rep)
			if err != nil {
				log.Error("change source read failed", slog.Any("error", err))
				return &PollError{Op: "read", Err: err}
			}
			if n > 0 {
				// One coalescing unit per poll pass, however many
				// records it carried.
				pending++
				r.stats.ModifyEvents.Add(int64(n))
				r.stats.Batches.Add(1)
			}
		}
	}
}

// waitReady blocks until one of the descriptors is readable or the timeout
// expires. EINTR is retried with the remaining time recomputed from a
// deadline; with the Go runtime delivering preemption signals, interrupted
// waits are routine rather than exceptional. Returns both readiness flags
// (both may be set) or a *PollError.
func waitReady(fds []unix.PollFd, timeout time.Duration) (sigReady, changeReady bool, err error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}

		n, perr := unix.Poll(fds, int(remaining/time.Millisecond))
		if perr == unix.EINTR {
			continue
		}
		if perr != nil {
			return false, false, &PollError{Op: "poll", Err: perr}
		}
		if n == 0 {
			return false, false, nil
		}

		sigReady = fds[0].Revents&unix.POLLIN != 0
		changeReady = fds[1].Revents&unix.POLLIN != 0
		if !sigReady && !changeReady {
			// POLLERR/POLLHUP/POLLNVAL with no data to drain: a
			// descriptor died underneath the loop.
			return false, false, &PollError{
				Op: "poll",
				Err: fmt.Errorf("abnormal descriptor state: signal=%#x change=%#x",
					fds[0].Revents, fds[1].Revents),
			}
		}
		return sigReady, changeReady, nil
	}
}
