// Package watch provides the two pollable event sources multiplexed by the
// onchange event loop: filesystem modification notifications on a single
// target path, and OS termination signals. Both expose a file descriptor
// suitable for poll(2), so the loop can block on either with a single wait.
package watch

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// EventMask is a bitmask describing the change kinds carried by a single
// notification record. The bit values are the Linux inotify ABI values from
// <sys/inotify.h>; the fallback change source serialises its records with the
// same values, so mask handling is identical on every platform.
type EventMask uint32

// Change-kind bits (kernel ABI, never change).
const (
	MaskAccess       EventMask = 0x00000001 // IN_ACCESS: file was read
	MaskModify       EventMask = 0x00000002 // IN_MODIFY: file content was written
	MaskAttrib       EventMask = 0x00000004 // IN_ATTRIB: metadata changed
	MaskCloseWrite   EventMask = 0x00000008 // IN_CLOSE_WRITE: writable file closed
	MaskCloseNoWrite EventMask = 0x00000010 // IN_CLOSE_NOWRITE: unwritable file closed
	MaskOpen         EventMask = 0x00000020 // IN_OPEN: file was opened
	MaskMovedFrom    EventMask = 0x00000040 // IN_MOVED_FROM: moved out of watched dir
	MaskMovedTo      EventMask = 0x00000080 // IN_MOVED_TO: moved into watched dir
	MaskCreate       EventMask = 0x00000100 // IN_CREATE: created in watched dir
	MaskDelete       EventMask = 0x00000200 // IN_DELETE: deleted from watched dir
	MaskDeleteSelf   EventMask = 0x00000400 // IN_DELETE_SELF: watched target deleted
	MaskMoveSelf     EventMask = 0x00000800 // IN_MOVE_SELF: watched target moved
)

// Bits the kernel sets on its own initiative (kernel ABI, never change).
const (
	MaskQOverflow EventMask = 0x00004000 // IN_Q_OVERFLOW: event queue overflowed
	MaskIgnored   EventMask = 0x00008000 // IN_IGNORED: watch was removed
	MaskIsDir     EventMask = 0x40000000 // IN_ISDIR: subject of event is a directory
)

// maskNames maps each change-kind bit to its symbolic name, in ascending bit
// order. Used by String to render the flag list of a verbose event line.
var maskNames = []struct {
	bit  EventMask
	name string
}{
	{MaskAccess, "IN_ACCESS"},
	{MaskModify, "IN_MODIFY"},
	{MaskAttrib, "IN_ATTRIB"},
	{MaskCloseWrite, "IN_CLOSE_WRITE"},
	{MaskCloseNoWrite, "IN_CLOSE_NOWRITE"},
	{MaskOpen, "IN_OPEN"},
	{MaskMovedFrom, "IN_MOVED_FROM"},
	{MaskMovedTo, "IN_MOVED_TO"},
	{MaskCreate, "IN_CREATE"},
	{MaskDelete, "IN_DELETE"},
	{MaskDeleteSelf, "IN_DELETE_SELF"},
	{MaskMoveSelf, "IN_MOVE_SELF"},
}

// Has reports whether every bit of flag is set in m.
func (m EventMask) Has(flag EventMask) bool {
	return m&flag == flag
}

// String returns the comma-joined symbolic names of the change-kind bits set
// in m, e.g. "IN_MODIFY" or "IN_MOVED_FROM,IN_MOVED_TO". The directory bit is
// not a change kind and is reported separately. Returns "" when no
// change-kind bit is set.
func (m EventMask) String() string {
	var names []string
	for _, f := range maskNames {
		if m&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	return strings.Join(names, ",")
}

// ChangeEvent is one decoded notification record. Events are ephemeral: they
// are decoded out of the read buffer, reported, counted, and discarded.
type ChangeEvent struct {
	// WatchID identifies the watch that produced the event (the kernel
	// watch descriptor, or -1 for queue-overflow records).
	WatchID int32
	// Mask carries the change kinds plus any kernel-set bits.
	Mask EventMask
	// Cookie correlates the IN_MOVED_FROM/IN_MOVED_TO halves of a rename.
	// Zero for all other events.
	Cookie uint32
	// Len is the raw length of the record's name field, including NUL
	// padding. Zero when the event carries no name.
	Len uint32
	// Name is the decoded entry name, present when the event concerns an
	// entry inside a watched directory. Empty for events on the watched
	// path itself.
	Name string
}

// IsDir reports whether the subject of the event is a directory.
func (ev ChangeEvent) IsDir() bool {
	return ev.Mask&MaskIsDir != 0
}

// eventHeaderSize is the fixed-width portion of a raw notification record:
//
//	int32_t  wd;      // 4 bytes: watch descriptor
//	uint32_t mask;    // 4 bytes: event mask
//	uint32_t cookie;  // 4 bytes: rename correlation cookie
//	uint32_t len;     // 4 bytes: length of name field (incl. NUL padding)
//	char     name[];  // len bytes, NUL-terminated, NUL-padded to 4 bytes
//
// The name field of length Len follows immediately in the buffer.
const eventHeaderSize = 16

// maxNameLen is the longest entry name a record can carry (NAME_MAX).
const maxNameLen = 255

// maxNameField is the largest name field a record can carry: NAME_MAX plus
// the terminating NUL, already a multiple of the 4-byte record alignment.
// Neither the kernel nor appendRecord ever exceeds it; a larger value means
// the stream is corrupt.
const maxNameField = maxNameLen + 1

// readBufSize holds at least 16 maximum-length records per read.
const readBufSize = 16 * (eventHeaderSize + maxNameField)

// DecodeEvents walks buf record by record and returns every complete record
// it contains plus the number of bytes consumed. Records are variable
// length, so the walk advances by the fixed header size plus each record's
// reported name length. A partial record at the end of the buffer (header or
// name extending past the bytes read) is left unconsumed so the caller can
// complete it once more bytes arrive; the fallback transport is a byte
// stream, so records there may split across reads. A record whose header
// reports a name field longer than maxNameField cannot have been produced by
// the kernel or the serialiser: nothing after it can be trusted, so the walk
// stops and the remaining bytes are consumed and dropped.
func DecodeEvents(buf []byte) ([]ChangeEvent, int) {
	var events []ChangeEvent

	off := 0
	for off+eventHeaderSize <= len(buf) {
		ev := ChangeEvent{
			WatchID: int32(binary.NativeEndian.Uint32(buf[off:])),
			Mask:    EventMask(binary.NativeEndian.Uint32(buf[off+4:])),
			Cookie:  binary.NativeEndian.Uint32(buf[off+8:]),
			Len:     binary.NativeEndian.Uint32(buf[off+12:]),
		}

		if ev.Len > maxNameField {
			return events, len(buf) // corrupt stream; drop the rest
		}

		end := off + eventHeaderSize + int(ev.Len)
		if end > len(buf) {
			break // partial record; completed by the next read
		}

		if ev.Len > 0 {
			name := buf[off+eventHeaderSize : end]
			// The name is NUL-terminated and NUL-padded to a 4-byte
			// boundary.
			if i := bytes.IndexByte(name, 0); i >= 0 {
				name = name[:i]
			}
			ev.Name = string(name)
		}

		events = append(events, ev)
		off = end
	}

	return events, off
}

// appendRecord serialises one notification record onto dst in the wire layout
// DecodeEvents expects, padding the name field to a 4-byte boundary the way
// the kernel does. Used by the fallback change source to synthesise records.
func appendRecord(dst []byte, wd int32, mask EventMask, cookie uint32, name string) []byte {
	var nameLen int
	if name != "" {
		nameLen = (len(name) + 1 + 3) &^ 3 // room for the NUL, 4-byte aligned
	}

	var hdr [eventHeaderSize]byte
	binary.NativeEndian.PutUint32(hdr[0:], uint32(wd))
	binary.NativeEndian.PutUint32(hdr[4:], uint32(mask))
	binary.NativeEndian.PutUint32(hdr[8:], cookie)
	binary.NativeEndian.PutUint32(hdr[12:], uint32(nameLen))

	dst = append(dst, hdr[:]...)
	dst = append(dst, name...)
	for i := len(name); i < nameLen; i++ {
		dst = append(dst, 0)
	}
	return dst
}
