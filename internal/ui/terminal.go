package ui

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

const (
	maxLines  = 10
	lineWidth = 120
	moveUp    = "\033[%dA"
	clearLine = "\033[K"
)

// TerminalOutput mirrors command output in --debug mode. On a terminal it
// keeps a rolling window of the last lines above the spinner; elsewhere it
// prints every line.
type TerminalOutput struct {
	mu       sync.Mutex
	out      io.Writer
	lines    []string
	partial  bytes.Buffer
	host     string
	gray     *color.Color
	lastSize int
	rolling  bool
	spinner  *StepSpinner
	now      func() time.Time
}

func NewTerminalOutput(out io.Writer, host string, spinner *StepSpinner) *TerminalOutput {
	return &TerminalOutput{
		out:     out,
		lines:   make([]string, 0, maxLines),
		host:    host,
		gray:    color.New(color.FgHiBlack),
		rolling: IsTerminal(out),
		spinner: spinner,
		now:     time.Now,
	}
}

// Write implements io.Writer, emitting one line per newline received.
func (t *TerminalOutput) Write(p []byte) (int, error) {
	t.mu.Lock()
	t.partial.Write(p)
	var complete []string
	for {
		line, err := t.partial.ReadString('\n')
		if err != nil {
			// Keep the unterminated tail for the next write.
			t.partial.Reset()
			t.partial.WriteString(line)
			break
		}
		complete = append(complete, strings.TrimRight(line, "\r\n"))
	}
	t.mu.Unlock()

	for _, line := range complete {
		t.WriteLine("%s", line)
	}
	return len(p), nil
}

func (t *TerminalOutput) WriteLine(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	line := fmt.Sprintf(format, args...)
	if len(line) > lineWidth {
		line = line[:lineWidth-1] + "…"
	}
	formattedLine := fmt.Sprintf("[%s] %s: %s", t.now().Format("15:04:05"), t.host, line)

	if t.spinner != nil {
		t.spinner.Pause()
		defer t.spinner.Resume()
	}

	if !t.rolling {
		t.gray.Fprintln(t.out, formattedLine)
		return
	}

	t.lines = append(t.lines, formattedLine)
	if len(t.lines) > maxLines {
		t.lines = t.lines[1:]
	}
	t.clearWindow()
	for _, l := range t.lines {
		t.gray.Fprintln(t.out, l)
	}
	t.lastSize = len(t.lines)
}

func (t *TerminalOutput) clearWindow() {
	if t.lastSize == 0 {
		return
	}
	fmt.Fprintf(t.out, moveUp, t.lastSize)
	for i := 0; i < t.lastSize; i++ {
		fmt.Fprint(t.out, clearLine+"\n")
	}
	fmt.Fprintf(t.out, moveUp, t.lastSize)
}

// Clear drops the rolling window once a step has finished.
func (t *TerminalOutput) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rolling {
		t.clearWindow()
	}
	t.lines = t.lines[:0]
	t.lastSize = 0
}
