package watch

import (
	"fmt"
	"io"
)

// Reporter renders the stable human-readable lines onchange prints in verbose
// mode. Reporter output is the tool's user-facing progress stream and goes to
// stdout; diagnostic logs go to stderr through slog, keeping the two streams
// separable.
//
// A nil *Reporter is valid and discards everything, so callers never guard
// their report calls.
type Reporter struct {
	w io.Writer
}

// NewReporter returns a Reporter writing to w.
func NewReporter(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

func (p *Reporter) enabled() bool {
	return p != nil && p.w != nil
}

// Monitoring announces a successfully registered watch and its descriptor.
func (p *Reporter) Monitoring(target string, wd int32) {
	if !p.enabled() {
		return
	}
	fmt.Fprintf(p.w, "Begun monitoring of '%s' - %d\n", target, wd)
}

// Event renders one decoded notification record: watch id, raw mask in hex,
// move cookie, name-field length, directory flag, the name when the record
// carries one, and the comma-joined symbolic names of the change kinds
// present in the mask.
func (p *Reporter) Event(ev ChangeEvent) {
	if !p.enabled() {
		return
	}
	dir := "no"
	if ev.IsDir() {
		dir = "yes"
	}
	line := fmt.Sprintf("wd=%d mask=%08x cookie=%08x len=%d dir=%s",
		ev.WatchID, uint32(ev.Mask), ev.Cookie, ev.Len, dir)
	// Events on the watched path itself have no name field; only records
	// naming a directory entry print one.
	if ev.Len > 0 {
		line += " name=" + ev.Name
	}
	if flags := ev.Mask.String(); flags != "" {
		line += " " + flags
	}
	fmt.Fprintln(p.w, line)
}

// Exec announces a command execution about to start.
func (p *Reporter) Exec(command string) {
	if !p.enabled() {
		return
	}
	fmt.Fprintf(p.w, "Notify event - executing '%s'\n", command)
}

// ReturnCode reports the raw wait status of a completed command in hex.
func (p *Reporter) ReturnCode(status uint32) {
	if !p.enabled() {
		return
	}
	fmt.Fprintf(p.w, "return code %x\n", status)
}

// Shutdown announces receipt of a termination signal.
func (p *Reporter) Shutdown() {
	if !p.enabled() {
		return
	}
	fmt.Fprintln(p.w, "Received shutdown signal!")
}

// UnexpectedSignal reports a delivered signal that is not a termination
// signal. Such signals are ignored by the loop.
func (p *Reporter) UnexpectedSignal(sig int) {
	if !p.enabled() {
		return
	}
	fmt.Fprintf(p.w, "Received unexpected signal %d\n", sig)
}

// Closing announces teardown of the event sources.
func (p *Reporter) Closing() {
	if !p.enabled() {
		return
	}
	fmt.Fprintln(p.w, "Closing down.")
}
