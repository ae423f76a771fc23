package executor

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/brimblehq/mediastack/internal/core"
)

// Classifier maps a non-zero exit code to a retry class.
type Classifier func(code int) core.Class

// Command is one external program invocation. It is built once when a step is
// registered and executed as-is on every attempt.
type Command struct {
	Name      string
	Args      []string
	Env       []string
	Stdin     string
	Timeout   time.Duration
	Retryable bool
	Classify  Classifier
	// Echo receives a copy of stdout and stderr while the command runs.
	Echo io.Writer
}

func Cmd(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

func (c Command) Retry() Command {
	c.Retryable = true
	return c
}

func (c Command) WithTimeout(d time.Duration) Command {
	c.Timeout = d
	return c
}

func (c Command) WithStdin(in string) Command {
	c.Stdin = in
	return c
}

func (c Command) WithEnv(env ...string) Command {
	c.Env = append(append([]string(nil), c.Env...), env...)
	return c
}

func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		parts = append(parts, ShellQuote(a))
	}
	return strings.Join(parts, " ")
}

// ShellLine renders the command for a remote shell, prefixing env assignments.
func (c Command) ShellLine() string {
	if len(c.Env) == 0 {
		return c.String()
	}
	parts := []string{"env"}
	for _, kv := range c.Env {
		parts = append(parts, ShellQuote(kv))
	}
	return strings.Join(parts, " ") + " " + c.String()
}

func (c Command) classify(code int) core.Class {
	if core.AlwaysFatal(code) {
		return core.ClassPermanent
	}
	if c.Classify != nil {
		return c.Classify(code)
	}
	return core.ClassifyExit(code, c.Retryable)
}

// ShellQuote single-quotes s when it contains anything a POSIX shell would
// interpret.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./:=@,+%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Result is what a Runner observed. Err is set only when the process could not
// be started or waited for; ExitCode is then 127 for a missing binary, 124 for
// a timeout and -1 otherwise.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

// Runner executes commands on some host.
type Runner interface {
	Run(ctx context.Context, cmd Command) Result
}
