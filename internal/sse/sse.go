// Package sse implements minimal Server-Sent Events parse/serialize
// primitives, used by the Subagent Tool Loop's stream rewrite (spec.md
// §4.8).
package sse

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Event is one SSE record: "event: <name>\ndata: <json>\n\n".
type Event struct {
	Name string
	Data string
}

// Encode serializes e in wire format.
func (e Event) Encode() string {
	if e.Name == "" {
		return fmt.Sprintf("data: %s\n\n", e.Data)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", e.Name, e.Data)
}

// Scanner reads a byte stream and yields Events one at a time.
type Scanner struct {
	s *bufio.Scanner
}

// NewScanner wraps r for line-delimited SSE parsing.
func NewScanner(r io.Reader) *Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Scanner{s: s}
}

// Next returns the next event, or io.EOF when the stream ends cleanly.
// Events without an explicit "event:" line (data-only) have Name == "".
func (sc *Scanner) Next() (Event, error) {
	var ev Event
	sawData := false

	for sc.s.Scan() {
		line := sc.s.Text()

		switch {
		case line == "":
			if sawData {
				return ev, nil
			}
			continue
		case strings.HasPrefix(line, "event: "):
			ev.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			sawData = true
			if ev.Data != "" {
				ev.Data += "\n"
			}
			ev.Data += strings.TrimPrefix(line, "data: ")
		default:
			// Ignore comments / unknown fields (id:, retry:).
		}
	}

	if err := sc.s.Err(); err != nil {
		return Event{}, err
	}
	if sawData {
		return ev, nil
	}
	return Event{}, io.EOF
}
