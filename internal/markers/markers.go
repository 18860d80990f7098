// Package markers implements the exit-code marker protocol used to carry
// command completion events back through a shared PTY channel.
//
// After every queued command the session types a capture line:
//
//	__sp_rc=$?; echo "__SHELLPILOT_RC_e5b9d27f__:<id>:${__sp_rc}"
//
// The remote shell echoes the marker line into the same stream as normal
// terminal output. StreamFilter hides those lines from the forwarded
// output while extracting (command id, exit code) events.
//
// Known limitation: the protocol shares the text channel with arbitrary
// shell output. The prefix carries a random suffix to make collisions with
// user output unlikely, but exotic shells, locales, or programs that print
// the prefix themselves can still confuse it. This is inherent to
// marker-based capture and is not treated as a hard guarantee.
package markers

import (
	"bytes"
	"fmt"
	"strconv"
)

// Prefix is the literal marker prefix scanned for in the output stream.
// The hex suffix exists only to keep accidental collisions with real
// terminal output unlikely.
const Prefix = "__SHELLPILOT_RC_e5b9d27f__:"

// rcVar is the disposable shell variable that captures $? before echoing.
const rcVar = "__sp_rc"

// CaptureLine returns the shell line to send after a command so its exit
// status is echoed back as a marker line.
func CaptureLine(cmdID int) string {
	return fmt.Sprintf(`%s=$?; echo "%s%d:${%s}"`, rcVar, Prefix, cmdID, rcVar)
}

// ExitEvent is a parsed marker line.
type ExitEvent struct {
	CmdID    int
	ExitCode int
}

// StreamFilter is a per-stream state machine that removes marker lines
// from a raw chunk sequence. One filter per output stream; a marker may be
// split across any number of read chunks, so state survives between Feed
// calls. Not safe for concurrent use; each stream has exactly one reader.
type StreamFilter struct {
	suppressing bool
	carry       []byte // partial prefix (scanning) or marker line so far (suppressing)
}

// NewStreamFilter returns a filter with empty state.
func NewStreamFilter() *StreamFilter {
	return &StreamFilter{}
}

// Feed runs one raw chunk through the filter. It returns the bytes to
// forward to the client and any completed exit events. Bytes before a
// marker prefix pass through unchanged; the marker line itself is
// swallowed and replaced by a single "\r\n" so terminal line spacing is
// undisturbed. A suppressed line that does not parse as a marker (for
// example the local echo of the capture command itself) produces no event.
func (f *StreamFilter) Feed(chunk []byte) ([]byte, []ExitEvent) {
	var visible []byte
	var events []ExitEvent

	data := append(f.carry, chunk...)
	f.carry = nil

	for len(data) > 0 {
		if f.suppressing {
			nl := bytes.IndexByte(data, '\n')
			if nl < 0 {
				// Marker line still incomplete; keep buffering.
				f.carry = data
				return visible, events
			}
			line := data[:nl]
			data = data[nl+1:]
			f.suppressing = false
			if ev, ok := parseMarker(line); ok {
				events = append(events, ev)
			}
			visible = append(visible, '\r', '\n')
			continue
		}

		idx := bytes.Index(data, []byte(Prefix))
		if idx >= 0 {
			visible = append(visible, data[:idx]...)
			data = data[idx+len(Prefix):]
			f.suppressing = true
			f.carry = nil
			// Re-enter loop in suppressing mode; stash the prefix back so
			// parseMarker sees the full line.
			data = append([]byte(Prefix), data...)
			continue
		}

		// No full prefix. Hold back the longest tail that could still be
		// the start of one; everything else is safe to forward.
		hold := partialPrefixLen(data)
		visible = append(visible, data[:len(data)-hold]...)
		f.carry = data[len(data)-hold:]
		return visible, events
	}

	return visible, events
}

// Flush returns any bytes held back as a potential partial marker. Called
// on stream end so trailing output is not lost.
func (f *StreamFilter) Flush() []byte {
	out := f.carry
	f.carry = nil
	f.suppressing = false
	return out
}

// parseMarker parses "<Prefix><id>:<code>" with an optional trailing \r.
func parseMarker(line []byte) (ExitEvent, bool) {
	if !bytes.HasPrefix(line, []byte(Prefix)) {
		return ExitEvent{}, false
	}
	rest := bytes.TrimSuffix(line[len(Prefix):], []byte("\r"))
	sep := bytes.IndexByte(rest, ':')
	if sep < 0 {
		return ExitEvent{}, false
	}
	id, err := strconv.Atoi(string(rest[:sep]))
	if err != nil {
		return ExitEvent{}, false
	}
	code, err := strconv.Atoi(string(rest[sep+1:]))
	if err != nil {
		return ExitEvent{}, false
	}
	return ExitEvent{CmdID: id, ExitCode: code}, true
}

// partialPrefixLen returns the length of the longest suffix of data that
// is a proper prefix of the marker Prefix.
func partialPrefixLen(data []byte) int {
	max := len(Prefix) - 1
	if max > len(data) {
		max = len(data)
	}
	for n := max; n > 0; n-- {
		if bytes.Equal(data[len(data)-n:], []byte(Prefix[:n])) {
			return n
		}
	}
	return 0
}
