package watch

import (
	"fmt"
	"io"
	"sync"

	"golang.org/x/sys/unix"
)

// ChangeSource monitors exactly one filesystem target for modification
// activity. The notification stream is a file descriptor delivering raw
// variable-length records (see DecodeEvents); on Linux it is an inotify
// instance, elsewhere a pipe fed by the fsnotify fallback. Construction is
// platform specific (NewChangeSource); everything else is shared.
//
// A ChangeSource is owned by a single event loop: PollEvents must only be
// called from one goroutine, and only when the descriptor is readable.
type ChangeSource struct {
	fd     int
	wd     int32
	target string
	buf    []byte
	pend   int // bytes of a partial record carried over from the last read

	closeFn   func() error
	closeOnce sync.Once
	closeErr  error
}

// FD returns the pollable descriptor of the notification stream.
func (s *ChangeSource) FD() int {
	return s.fd
}

// WatchDesc returns the identifier of the registered watch.
func (s *ChangeSource) WatchDesc() int32 {
	return s.wd
}

// Target returns the watched path.
func (s *ChangeSource) Target() string {
	return s.target
}

// PollEvents performs one blocking read of the notification stream, decodes
// every complete record present in the bytes read, reports each record
// through rep (a nil Reporter is quiet), and returns how many of them carry
// the modification bit. One PollEvents call is one coalescing unit for the
// event loop, no matter how many records it decoded.
//
// The kernel delivers only whole records, but the fallback transport is a
// byte stream: a backlog larger than the read buffer arrives cut mid-record.
// Any partial record left at the end of the buffer is moved to the front and
// completed by the next read, so no record is ever lost to the cut.
func (s *ChangeSource) PollEvents(rep *Reporter) (int, error) {
	n, err := s.read()
	if err != nil {
		return 0, err
	}

	events, consumed := DecodeEvents(s.buf[:n])
	s.pend = copy(s.buf, s.buf[consumed:n])

	modified := 0
	for _, ev := range events {
		rep.Event(ev)
		if ev.Mask.Has(MaskModify) {
			modified++
		}
	}
	return modified, nil
}

// read appends one read's worth of bytes after any carried-over partial
// record and returns the total length buffered. The buffer holds at least 16
// maximum-length records, so a burst of changes arrives in one read. EINTR
// is transparently retried (the runtime's preemption signals interrupt
// blocking reads routinely); a zero-length read means the stream was closed
// underneath us.
func (s *ChangeSource) read() (int, error) {
	for {
		n, err := unix.Read(s.fd, s.buf[s.pend:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("change source: read: %w", err)
		}
		if n == 0 {
			return 0, fmt.Errorf("change source: read: %w", io.EOF)
		}
		return s.pend + n, nil
	}
}

// Close removes the registered watch (if any), then closes the notification
// stream. Idempotent and nil-safe: closing an already-closed or
// never-opened source is a no-op.
func (s *ChangeSource) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closeErr = s.closeFn()
	})
	return s.closeErr
}
