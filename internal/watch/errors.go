package watch

import "fmt"

// Source components named in setup errors.
const (
	ComponentSignal = "signal"
	ComponentWatch  = "watch"
)

// Stage identifies which step of change-source setup failed.
type Stage string

// Setup stages.
const (
	// StageInit means the notification mechanism itself could not be
	// created.
	StageInit Stage = "init"
	// StageWatch means the mechanism exists but the specific target could
	// not be watched (typically: it does not exist).
	StageWatch Stage = "watch"
)

// SetupError reports that a source could not be initialised. Setup failures
// are fatal: the event loop never starts, and nothing is retried.
type SetupError struct {
	// Component is ComponentSignal or ComponentWatch.
	Component string
	// Stage distinguishes "could not create the mechanism" from "could not
	// watch this target".
	Stage Stage
	// Err is the underlying OS error.
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("%s source setup (%s): %v", e.Component, e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// signalRecordSize is the width of one serialised signal-delivery record.
const signalRecordSize = 4

// SignalReadError reports a short read of a signal-delivery record. Records
// are written atomically, so a short read means the stream is corrupt; it is
// fatal and never retried.
type SignalReadError struct {
	// Got is the number of bytes actually read.
	Got int
}

func (e *SignalReadError) Error() string {
	return fmt.Sprintf("signal source: short read: got %d bytes, want %d", e.Got, signalRecordSize)
}
