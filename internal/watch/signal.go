package watch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// SignalSource converts asynchronous termination requests (SIGINT, SIGTERM)
// into data: each delivery becomes one fixed-size record readable from a
// pipe, and the pipe's read end is pollable alongside the change source's
// descriptor. While the source is open, neither signal can invoke its default
// disposition; they are only observable through ReadOne.
//
// A forwarder goroutine copies deliveries from the signal channel into the
// pipe. Pipe writes of record size are atomic, so records never interleave
// and a short read always indicates corruption rather than a partial write.
type SignalSource struct {
	ch chan os.Signal
	r  *os.File // pollable read end
	w  *os.File

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewSignalSource subscribes SIGINT and SIGTERM and starts forwarding their
// deliveries into the pipe. On failure nothing is left subscribed and no
// goroutine is left behind; the error is a *SetupError carrying the OS cause.
func NewSignalSource() (*SignalSource, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, &SetupError{
			Component: ComponentSignal,
			Stage:     StageInit,
			Err:       fmt.Errorf("pipe: %w", err),
		}
	}

	s := &SignalSource{
		ch:   make(chan os.Signal, 8),
		r:    r,
		w:    w,
		done: make(chan struct{}),
	}

	signal.Notify(s.ch, syscall.SIGINT, syscall.SIGTERM)

	s.wg.Add(1)
	go s.forward()

	return s, nil
}

// FD returns the pollable descriptor of the record stream.
func (s *SignalSource) FD() int {
	return int(s.r.Fd())
}

// ReadOne performs one blocking read of exactly one signal-delivery record
// and returns the signal it carries. A short read returns *SignalReadError;
// it is fatal to the caller and must not be retried.
func (s *SignalSource) ReadOne() (syscall.Signal, error) {
	var rec [signalRecordSize]byte
	n, err := s.r.Read(rec[:])
	if err != nil {
		return 0, fmt.Errorf("signal source: read: %w", err)
	}
	if n != signalRecordSize {
		return 0, &SignalReadError{Got: n}
	}
	return syscall.Signal(binary.NativeEndian.Uint32(rec[:])), nil
}

// Interrupt injects one synthetic SIGTERM record into the stream. The loop
// cannot distinguish it from a real delivery, which makes Interrupt the
// graceful-stop mechanism for Runner.Stop, context cancellation, and
// single-shot mode. Safe to call from any goroutine.
func (s *SignalSource) Interrupt() error {
	var rec [signalRecordSize]byte
	binary.NativeEndian.PutUint32(rec[:], uint32(syscall.SIGTERM))
	if _, err := s.w.Write(rec[:]); err != nil {
		return fmt.Errorf("signal source: interrupt: %w", err)
	}
	return nil
}

// Close unsubscribes the signals (restoring their default dispositions),
// stops the forwarder, and closes both pipe ends. Records still queued in
// the pipe are discarded. Idempotent.
func (s *SignalSource) Close() error {
	s.closeOnce.Do(func() {
		signal.Stop(s.ch)
		close(s.done)
		// Closing the read end before waiting releases a forwarder
		// blocked mid-write on a full pipe.
		rerr := s.r.Close()
		s.wg.Wait()
		s.closeErr = errors.Join(s.w.Close(), rerr)
	})
	return s.closeErr
}

// forward copies signal deliveries into the pipe until Close.
func (s *SignalSource) forward() {
	defer s.wg.Done()

	var rec [signalRecordSize]byte
	for {
		select {
		case sig := <-s.ch:
			num, ok := sig.(syscall.Signal)
			if !ok {
				continue
			}
			binary.NativeEndian.PutUint32(rec[:], uint32(num))
			if _, err := s.w.Write(rec[:]); err != nil {
				return // pipe closed underneath us; nothing left to do
			}
		case <-s.done:
			return
		}
	}
}
