package watch

import (
	"os"
	"testing"
)

// TestPollEvents_RecordsSplitAcrossReads verifies that no record is lost when
// the notification stream is a plain byte stream: a backlog larger than the
// read buffer arrives cut mid-record, and the cut record must be completed by
// the next read rather than discarded or misparsed. The kernel never splits
// records, but the fallback transport does.
func TestPollEvents_RecordsSplitAcrossReads(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}

	src := &ChangeSource{
		fd:     int(r.Fd()),
		wd:     1,
		target: "stream",
		buf:    make([]byte, readBufSize),
	}
	src.closeFn = r.Close
	defer src.Close()

	const want = 200
	var backlog []byte
	for i := 0; i < want; i++ {
		backlog = appendRecord(backlog, 1, MaskModify, 0, "note.txt")
	}
	if len(backlog) <= readBufSize {
		t.Fatalf("backlog is %d bytes, need more than the %d-byte read buffer", len(backlog), readBufSize)
	}

	if _, err := w.Write(backlog); err != nil {
		t.Fatalf("write backlog: %v", err)
	}
	// Closing the write end turns any lost record into a visible EOF below
	// instead of a blocked read.
	if err := w.Close(); err != nil {
		t.Fatalf("close write end: %v", err)
	}

	got := 0
	for got < want {
		n, err := src.PollEvents(nil)
		if err != nil {
			t.Fatalf("PollEvents after %d of %d records: %v", got, want, err)
		}
		got += n
	}
	if got != want {
		t.Errorf("decoded %d modification records, want %d", got, want)
	}
}
