package watch_test

import (
	"encoding/binary"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/onchange/onchange/internal/watch"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// newSignalSource opens a SignalSource and registers its teardown.
func newSignalSource(t *testing.T) *watch.SignalSource {
	t.Helper()
	s, err := watch.NewSignalSource()
	if err != nil {
		t.Fatalf("NewSignalSource: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// readOne runs ReadOne in a goroutine so a missing record fails the test
// instead of hanging it.
func readOne(t *testing.T, s *watch.SignalSource, timeout time.Duration) (syscall.Signal, error) {
	t.Helper()
	type result struct {
		sig syscall.Signal
		err error
	}
	ch := make(chan result, 1)
	go func() {
		sig, err := s.ReadOne()
		ch <- result{sig, err}
	}()
	select {
	case res := <-ch:
		return res.sig, res.err
	case <-time.After(timeout):
		t.Fatal("ReadOne did not return within timeout")
		return 0, nil
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestSignalSource_DeliversRealSignal verifies that a genuine SIGTERM sent to
// the process surfaces as one record on the source.
func TestSignalSource_DeliversRealSignal(t *testing.T) {
	s := newSignalSource(t)

	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	sig, err := readOne(t, s, 2*time.Second)
	if err != nil {
		t.Fatalf("ReadOne: %v", err)
	}
	if sig != syscall.SIGTERM {
		t.Errorf("ReadOne = %v, want SIGTERM", sig)
	}
}

// TestSignalSource_InterruptInjectsTerm verifies that Interrupt produces a
// record indistinguishable from a delivered SIGTERM.
func TestSignalSource_InterruptInjectsTerm(t *testing.T) {
	s := newSignalSource(t)

	if err := s.Interrupt(); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}

	sig, err := readOne(t, s, 2*time.Second)
	if err != nil {
		t.Fatalf("ReadOne: %v", err)
	}
	if sig != syscall.SIGTERM {
		t.Errorf("ReadOne = %v, want SIGTERM", sig)
	}
}

// TestSignalSource_FDIsPollable verifies that a queued record makes the
// source's descriptor readable, which is what the event loop multiplexes on.
func TestSignalSource_FDIsPollable(t *testing.T) {
	s := newSignalSource(t)

	if err := s.Interrupt(); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}

	fds := []unix.PollFd{{Fd: int32(s.FD()), Events: unix.POLLIN}}
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := unix.Poll(fds, 100)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if n > 0 && fds[0].Revents&unix.POLLIN != 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("descriptor never became readable")
		}
	}
}

// TestSignalSource_ShortReadIsFatal verifies that a record shorter than the
// fixed size surfaces as *SignalReadError rather than a bogus signal value.
func TestSignalSource_ShortReadIsFatal(t *testing.T) {
	s := newSignalSource(t)

	if err := s.InjectRaw([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("InjectRaw: %v", err)
	}

	_, err := readOne(t, s, 2*time.Second)
	var srErr *watch.SignalReadError
	if !errors.As(err, &srErr) {
		t.Fatalf("ReadOne error = %v, want *SignalReadError", err)
	}
	if srErr.Got != 2 {
		t.Errorf("SignalReadError.Got = %d, want 2", srErr.Got)
	}
}

// TestSignalSource_PassesThroughOtherSignals verifies that ReadOne reports
// whatever signal number the record carries; deciding how to react to
// unexpected ones is the loop's job, not the source's.
func TestSignalSource_PassesThroughOtherSignals(t *testing.T) {
	s := newSignalSource(t)

	var rec [4]byte
	binary.NativeEndian.PutUint32(rec[:], uint32(syscall.SIGHUP))
	if err := s.InjectRaw(rec[:]); err != nil {
		t.Fatalf("InjectRaw: %v", err)
	}

	sig, err := readOne(t, s, 2*time.Second)
	if err != nil {
		t.Fatalf("ReadOne: %v", err)
	}
	if sig != syscall.SIGHUP {
		t.Errorf("ReadOne = %v, want SIGHUP", sig)
	}
}

// TestSignalSource_CloseIsIdempotent verifies that closing twice is safe and
// returns the same result.
func TestSignalSource_CloseIsIdempotent(t *testing.T) {
	s := newSignalSource(t)

	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	// Must not panic or double-close the descriptors.
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

// TestSignalSource_CloseReleasesBlockedWriter verifies that Close returns even
// while a writer is blocked on the full pipe. Nothing drains the records here,
// so a sustained flood of Interrupts jams against the pipe's capacity; closing
// the read end must release the blocked write.
func TestSignalSource_CloseReleasesBlockedWriter(t *testing.T) {
	s := newSignalSource(t)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for s.Interrupt() == nil {
		}
	}()

	// Give the flood time to fill the pipe and block.
	time.Sleep(200 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return with a writer blocked on the pipe")
	}

	select {
	case <-writerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked writer was never released")
	}
}
