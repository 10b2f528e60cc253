package runner

import "sync/atomic"

// Stats tracks operational counters for one runner. All fields are updated
// atomically so they can be read concurrently with a running loop (tests do,
// and the shutdown log does).
type Stats struct {
	// ModifyEvents counts decoded records carrying the modification bit.
	ModifyEvents atomic.Int64
	// Batches counts coalescing units: poll passes that decoded at least
	// one modification record. Several batches may collapse into a single
	// execution; that is the debounce working as intended.
	Batches atomic.Int64
	// Executions counts command runs that completed with a clean exit,
	// whatever the exit status.
	Executions atomic.Int64
	// NonzeroExits counts clean exits with a nonzero status.
	NonzeroExits atomic.Int64
	// UnexpectedSignals counts delivered signals that were not a
	// termination signal and were ignored.
	UnexpectedSignals atomic.Int64
}

// StatsSnapshot is a point-in-time copy of all counters.
type StatsSnapshot struct {
	ModifyEvents      int64
	Batches           int64
	Executions        int64
	NonzeroExits      int64
	UnexpectedSignals int64
}

// snapshot captures the current counter values.
func (s *Stats) snapshot() StatsSnapshot {
	return StatsSnapshot{
		ModifyEvents:      s.ModifyEvents.Load(),
		Batches:           s.Batches.Load(),
		Executions:        s.Executions.Load(),
		NonzeroExits:      s.NonzeroExits.Load(),
		UnexpectedSignals: s.UnexpectedSignals.Load(),
	}
}
