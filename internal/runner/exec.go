package runner

import (
	"errors"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

// ExecResult describes one completed command execution.
type ExecResult struct {
	// Status is the command's exit status code.
	Status int
	// WaitStatus is the raw wait status as reported by the OS (the value
	// the verbose "return code" line prints in hex).
	WaitStatus uint32
	// Duration is how long the command ran.
	Duration time.Duration
}

// runCommand executes the configured command synchronously through the shell,
// inheriting (by default) the process's standard streams, and interprets its
// termination.
//
// A clean exit, zero or nonzero, returns a nil error: a failing build is a
// result to report, not a reason to stop watching. A command killed by a
// signal, or one that never started, returns *CommandAbortError and stops
// the loop.
func (r *Runner) runCommand(log *slog.Logger) (ExecResult, error) {
	r.rep.Exec(r.command)
	log.Info("executing command", slog.String("command", r.command))

	cmd := exec.Command(r.shell, "-c", r.command)
	cmd.Stdin = r.stdin
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr

	start := time.Now()
	err := cmd.Run()
	res := ExecResult{Duration: time.Since(start)}

	state := cmd.ProcessState
	if state != nil {
		res.Status = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok {
			res.WaitStatus = uint32(ws)
		}
		r.rep.ReturnCode(res.WaitStatus)
	}

	if err == nil {
		log.Info("command completed",
			slog.Int("status", 0),
			slog.Duration("duration", res.Duration))
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ProcessState.Exited() {
		log.Warn("command exited nonzero",
			slog.Int("status", res.Status),
			slog.Duration("duration", res.Duration))
		return res, nil
	}

	abort := &CommandAbortError{Err: err}
	if state != nil {
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			abort = &CommandAbortError{Signal: ws.Signal()}
		}
	}
	log.Error("command aborted", slog.Any("error", abort))
	return res, abort
}
