package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

type StepStatus int

const (
	StatusOK StepStatus = iota
	StatusFailed
	StatusWarning
	StatusSkipped
)

func (s StepStatus) marker() string {
	switch s {
	case StatusOK:
		return "✅"
	case StatusFailed:
		return "❌"
	case StatusWarning:
		return "⚠️ "
	default:
		return "⏭️ "
	}
}

func (s StepStatus) color() *color.Color {
	switch s {
	case StatusOK:
		return color.New(color.FgGreen)
	case StatusFailed:
		return color.New(color.FgRed)
	case StatusWarning:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgHiBlack)
	}
}

// StepSpinner shows one animated line per step and replaces it with a status
// marker when the step ends. Animation is off when out is not a terminal.
type StepSpinner struct {
	mu       sync.Mutex
	spinner  *spinner.Spinner
	out      io.Writer
	host     string
	current  string
	skipNote string
	animate  bool
	running  bool
	paused   int
	pane     *TerminalOutput
}

func NewStepSpinner(out io.Writer, host string) *StepSpinner {
	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(out))
	s.Prefix = fmt.Sprintf("[%s] ", host)
	return &StepSpinner{
		spinner: s,
		out:     out,
		host:    host,
		animate: IsTerminal(out),
	}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (s *StepSpinner) Start(step string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = step
	s.spinner.Suffix = fmt.Sprintf(" %s", step)
	if s.animate && s.paused == 0 {
		s.spinner.Start()
		s.running = true
	}
}

// Stop ends the current step and prints its status line. Calling Stop with
// no step running is a no-op.
func (s *StepSpinner) Stop(status StepStatus) {
	s.StopWithNote(status, "")
}

func (s *StepSpinner) StopWithNote(status StepStatus, note string) {
	s.mu.Lock()
	if s.current == "" {
		s.mu.Unlock()
		return
	}
	if status == StatusOK && s.skipNote != "" {
		status = StatusSkipped
		if note == "" {
			note = s.skipNote
		}
	}
	s.skipNote = ""
	if s.running {
		s.spinner.Stop()
		s.running = false
	}
	line := fmt.Sprintf("[%s] %s %s", s.host, status.marker(), s.current)
	if note != "" {
		line += ": " + note
	}
	s.current = ""
	pane := s.pane
	s.mu.Unlock()

	// The status line takes the place of the echo pane.
	if pane != nil {
		pane.Clear()
	}
	status.color().Fprintln(s.out, line)
}

// Attach makes the spinner drop pane's rolling window before it prints a
// status line, so the next echoed line never rewrites that status line.
func (s *StepSpinner) Attach(pane *TerminalOutput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pane = pane
}

// Track runs fn between Start and Stop. The status line is printed on every
// path out of fn, including a panic.
func (s *StepSpinner) Track(step string, fn func() error) (err error) {
	s.Start(step)
	status := StatusFailed
	defer func() { s.Stop(status) }()

	if err = fn(); err == nil {
		status = StatusOK
	}
	return err
}

// MarkSkipped turns the success line of the current step into a skipped
// line carrying note.
func (s *StepSpinner) MarkSkipped(note string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != "" {
		s.skipNote = note
	}
}

// Pause stops the animation without ending the step so other output, such
// as prompts, can use the terminal. Pauses nest; each needs a Resume.
func (s *StepSpinner) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused++
	if s.running {
		s.spinner.Stop()
		s.running = false
	}
}

func (s *StepSpinner) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused > 0 {
		s.paused--
	}
	if s.paused == 0 && s.animate && s.current != "" && !s.running {
		s.spinner.Start()
		s.running = true
	}
}

// Paused reports whether someone other than the spinner holds the terminal.
func (s *StepSpinner) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused > 0
}

// Note prints a line outside any step.
func (s *StepSpinner) Note(status StepStatus, format string, args ...interface{}) {
	s.Pause()
	defer s.Resume()
	if s.pane != nil {
		s.pane.Clear()
	}
	status.color().Fprintf(s.out, "[%s] %s %s\n", s.host, status.marker(), fmt.Sprintf(format, args...))
}
