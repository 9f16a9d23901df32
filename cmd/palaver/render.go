package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/debug"
	"github.com/rhuss/palaver/pkg/engine"
)

const (
	colorAssistant = "\x1b[95m"
	colorReset     = "\x1b[0m"
)

// terminalSink streams assistant text to out and reports tool activity
// and retries on errOut.
type terminalSink struct {
	out    io.Writer
	errOut io.Writer
	color  bool

	// open is true while assistant text is being written.
	open bool
	// lineStart is true when the cursor sits at the start of a line.
	lineStart bool
}

var _ engine.Sink = (*terminalSink)(nil)

func newTerminalSink(out, errOut io.Writer) *terminalSink {
	return &terminalSink{out: out, errOut: errOut, color: isTerminal(out), lineStart: true}
}

// isTerminal reports whether w is a character device.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

func (s *terminalSink) OnEvent(ev api.Event) {
	switch ev.Type {
	case api.EventTextDelta:
		if ev.Text == "" {
			return
		}
		if !s.open {
			s.open = true
			if s.color {
				fmt.Fprint(s.out, colorAssistant)
			}
		}
		fmt.Fprint(s.out, ev.Text)
		s.lineStart = strings.HasSuffix(ev.Text, "\n")
	case api.EventRetry:
		s.endText()
		fmt.Fprintf(s.errOut, "[retrying, attempt %d]\n", ev.Attempt)
	case api.EventToolCallStart:
		s.endText()
		fmt.Fprintf(s.errOut, "[tool] %s\n", ev.Name)
	}
}

func (s *terminalSink) OnState(from, to api.State) {
	debug.Log("engine", "cli state", "from", from, "to", to)
	if to == api.StateToolDispatch || to.IsTerminal() {
		s.endText()
	}
}

func (s *terminalSink) OnToolResult(call api.ToolCall, result api.ToolResult) {
	status := "ok"
	if result.IsError {
		status = "error: " + firstLine(result.Output)
	}
	fmt.Fprintf(s.errOut, "[tool] %s %s\n", call.Name, status)
}

// endText closes a run of assistant text so that notices start on their
// own line.
func (s *terminalSink) endText() {
	if !s.open {
		return
	}
	s.open = false
	if s.color {
		fmt.Fprint(s.out, colorReset)
	}
	if !s.lineStart {
		fmt.Fprintln(s.out)
		s.lineStart = true
	}
}

// finish ends the current output.
func (s *terminalSink) finish() { s.endText() }

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return debug.Truncate(s, 120)
}
