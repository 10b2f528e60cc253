package runner

import (
	"fmt"
	"syscall"
)

// PollError reports that the loop's readiness machinery failed: either the
// wait primitive itself ("poll") or the subsequent drain of a ready change
// descriptor ("read"). Both are fatal; the loop never retries them.
type PollError struct {
	Op  string // "poll" or "read"
	Err error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("event loop %s: %v", e.Op, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// CommandAbortError reports that the external command terminated abnormally:
// killed by a signal, or never started at all. A clean exit with a nonzero
// status is not an abort and does not produce this error.
type CommandAbortError struct {
	// Signal is the signal that terminated the command, when it ran and
	// was killed. Zero when the command never started.
	Signal syscall.Signal
	// Err is the spawn failure, when the command never started.
	Err error
}

func (e *CommandAbortError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command aborted: %v", e.Err)
	}
	return fmt.Sprintf("command aborted by signal %d (%s)", int(e.Signal), e.Signal)
}

func (e *CommandAbortError) Unwrap() error { return e.Err }
