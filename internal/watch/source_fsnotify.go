//go:build !linux

package watch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// fallbackWatchDesc stands in for the kernel watch descriptor on platforms
// where the notification stream is synthesised from fsnotify events.
const fallbackWatchDesc int32 = 1

// NewChangeSource builds a change source backed by fsnotify. A serialiser
// goroutine converts each fsnotify event into one raw record (the same wire
// layout the kernel produces) and writes it into a pipe; the pipe's read end
// is the source's pollable descriptor. Decoding, reporting, counting, and
// the event loop itself are the same code as on Linux.
func NewChangeSource(target string) (*ChangeSource, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &SetupError{
			Component: ComponentWatch,
			Stage:     StageInit,
			Err:       fmt.Errorf("fsnotify: %w", err),
		}
	}

	if err := fw.Add(target); err != nil {
		_ = fw.Close()
		return nil, &SetupError{
			Component: ComponentWatch,
			Stage:     StageWatch,
			Err:       fmt.Errorf("watch %s: %w", target, err),
		}
	}

	r, w, err := os.Pipe()
	if err != nil {
		_ = fw.Close()
		return nil, &SetupError{
			Component: ComponentWatch,
			Stage:     StageInit,
			Err:       fmt.Errorf("pipe: %w", err),
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Closing the write end after the serialiser exits surfaces a
		// dead watcher to the poll loop instead of leaving it idle.
		defer w.Close()
		serialise(fw, w, target)
	}()

	s := &ChangeSource{
		fd:     int(r.Fd()),
		wd:     fallbackWatchDesc,
		target: target,
		buf:    make([]byte, readBufSize),
	}
	s.closeFn = func() error {
		cerr := fw.Close()
		// Closing the read end before waiting releases a serialiser
		// blocked mid-write on a full pipe; channel close alone cannot
		// reach it there.
		rerr := r.Close()
		wg.Wait()
		return errors.Join(cerr, rerr)
	}
	return s, nil
}

// serialise converts fsnotify events into raw records until the watcher's
// channels close or the pipe becomes unwritable.
func serialise(fw *fsnotify.Watcher, w *os.File, target string) {
	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			rec := appendRecord(nil, fallbackWatchDesc, opMask(ev.Op), 0, entryName(target, ev.Name))
			if _, err := w.Write(rec); err != nil {
				return
			}
		case _, ok := <-fw.Errors:
			if !ok {
				return
			}
			// A watcher error leaves the stream in an unknown state;
			// exiting closes the pipe and the loop reports the failure.
			return
		}
	}
}

// opMask translates an fsnotify operation set into the equivalent mask bits.
func opMask(op fsnotify.Op) EventMask {
	var m EventMask
	if op.Has(fsnotify.Write) {
		m |= MaskModify
	}
	if op.Has(fsnotify.Create) {
		m |= MaskCreate
	}
	if op.Has(fsnotify.Remove) {
		m |= MaskDelete
	}
	if op.Has(fsnotify.Rename) {
		m |= MaskMovedFrom
	}
	if op.Has(fsnotify.Chmod) {
		m |= MaskAttrib
	}
	return m
}

// entryName derives the record's name field: empty for events on the watched
// path itself, the entry's relative name for events inside a watched
// directory (matching kernel semantics).
func entryName(target, path string) string {
	if path == "" || path == target {
		return ""
	}
	if rel, err := filepath.Rel(target, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return filepath.Base(path)
}
