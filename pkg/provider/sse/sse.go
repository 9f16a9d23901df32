// Package sse splits a Server-Sent Events byte stream into frames. It is
// push-based so that provider decoders can feed it arbitrary network
// chunks and keep partial frames buffered between reads.
package sse

import (
	"bytes"
	"strings"
)

// Frame is one dispatched SSE event.
type Frame struct {
	// Event is the value of the "event:" field, empty if absent.
	Event string

	// Data is the concatenation of all "data:" lines, joined by "\n".
	Data string
}

// maxPending bounds the buffered partial line.
const maxPending = 4 * 1024 * 1024

// Splitter accumulates bytes and yields complete frames. The zero value is
// ready to use.
type Splitter struct {
	pending   []byte
	event     string
	data      strings.Builder
	hasData   bool
	overflown bool
}

// Feed appends chunk and returns all frames completed by it.
func (s *Splitter) Feed(chunk []byte) []Frame {
	s.pending = append(s.pending, chunk...)

	var frames []Frame
	for {
		i := bytes.IndexByte(s.pending, '\n')
		if i < 0 {
			break
		}
		line := s.pending[:i]
		s.pending = s.pending[i+1:]
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if f, ok := s.line(string(line)); ok {
			frames = append(frames, f)
		}
	}

	if len(s.pending) > maxPending {
		s.overflown = true
		s.pending = nil
	}
	// Compact so the backing array does not grow without bound.
	if len(s.pending) == 0 {
		s.pending = s.pending[:0:0]
	}
	return frames
}

// Flush dispatches a trailing frame that was not terminated by a blank
// line. It returns false if nothing was pending.
func (s *Splitter) Flush() (Frame, bool) {
	if len(s.pending) > 0 {
		line := strings.TrimSuffix(string(s.pending), "\r")
		s.pending = nil
		if f, ok := s.line(line); ok {
			return f, true
		}
	}
	return s.dispatch()
}

// Overflowed reports whether a single line exceeded the buffer limit.
func (s *Splitter) Overflowed() bool { return s.overflown }

// Pending reports whether unterminated bytes or fields are buffered.
func (s *Splitter) Pending() bool {
	return len(s.pending) > 0 || s.hasData || s.event != ""
}

func (s *Splitter) line(line string) (Frame, bool) {
	if line == "" {
		return s.dispatch()
	}
	if strings.HasPrefix(line, ":") {
		return Frame{}, false
	}

	field, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")

	switch field {
	case "event":
		s.event = value
	case "data":
		if s.hasData {
			s.data.WriteByte('\n')
		}
		s.data.WriteString(value)
		s.hasData = true
	}
	// id and retry fields are not used by any provider.
	return Frame{}, false
}

func (s *Splitter) dispatch() (Frame, bool) {
	if !s.hasData {
		s.event = ""
		return Frame{}, false
	}
	f := Frame{Event: s.event, Data: s.data.String()}
	s.event = ""
	s.data.Reset()
	s.hasData = false
	return f, true
}
