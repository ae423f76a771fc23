package executor

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/brimblehq/mediastack/internal/audit"
	"github.com/brimblehq/mediastack/internal/core"
	"github.com/brimblehq/mediastack/internal/helpers"
)

type OutcomeKind int

const (
	Success OutcomeKind = iota
	TransientFailure
	FatalFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case TransientFailure:
		return "transient"
	default:
		return "fatal"
	}
}

const stderrExcerptLines = 8

// Outcome is the classified result of one command invocation.
type Outcome struct {
	Kind     OutcomeKind
	Command  Command
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
	Duration time.Duration
}

func (o Outcome) OK() bool {
	return o.Kind == Success
}

// AsError converts a failed outcome into a tagged error. It returns nil for a
// successful outcome.
func (o Outcome) AsError() error {
	if o.OK() {
		return nil
	}
	return &core.Error{
		Kind:     core.KindForExit(o.ExitCode, false),
		Command:  o.Command.String(),
		ExitCode: o.ExitCode,
		Stderr:   o.Stderr,
		Attempts: 1,
		Err:      o.Err,
	}
}

// Executor runs commands through a Runner, classifies them and writes one
// audit line per invocation.
type Executor struct {
	runner Runner
	audit  audit.Recorder
	logger zerolog.Logger
	echo   io.Writer
}

func New(runner Runner, rec audit.Recorder, logger zerolog.Logger) *Executor {
	if rec == nil {
		rec = audit.Discard
	}
	return &Executor{runner: runner, audit: rec, logger: logger}
}

// WithEcho mirrors command output to w (debug mode).
func (e *Executor) WithEcho(w io.Writer) *Executor {
	e.echo = w
	return e
}

func (e *Executor) Execute(ctx context.Context, cmd Command) Outcome {
	if cmd.Echo == nil {
		cmd.Echo = e.echo
	}

	start := time.Now()
	res := e.runner.Run(ctx, cmd)
	out := Outcome{
		Command:  cmd,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   helpers.Excerpt(res.Stderr, stderrExcerptLines),
		Err:      res.Err,
		Duration: time.Since(start),
	}

	switch {
	case res.ExitCode == 0 && res.Err == nil:
		out.Kind = Success
	case res.ExitCode < 0:
		out.Kind = FatalFailure
	case cmd.classify(res.ExitCode) == core.ClassTransient:
		out.Kind = TransientFailure
	default:
		out.Kind = FatalFailure
	}

	e.audit.Record(audit.EventCommand,
		audit.F("cmd", cmd.String()),
		audit.F("outcome", out.Kind),
		audit.F("exit", out.ExitCode),
	)

	ev := e.logger.Debug()
	if !out.OK() {
		ev = e.logger.Warn().Str("stderr", out.Stderr)
	}
	ev.Str("cmd", cmd.String()).
		Str("outcome", out.Kind.String()).
		Int("exit", out.ExitCode).
		Dur("duration", out.Duration).
		Msg("Command finished")

	return out
}

// Output runs cmd once and returns its stdout, or a tagged error.
func (e *Executor) Output(ctx context.Context, cmd Command) (string, error) {
	out := e.Execute(ctx, cmd)
	if err := out.AsError(); err != nil {
		return "", err
	}
	return out.Stdout, nil
}

// Probe runs cmd and reports whether it exited zero. Missing binaries and
// permission failures are still returned as errors.
func (e *Executor) Probe(ctx context.Context, cmd Command) (bool, error) {
	out := e.Execute(ctx, cmd)
	if out.OK() {
		return true, nil
	}
	if core.AlwaysFatal(out.ExitCode) || out.ExitCode < 0 {
		return false, out.AsError()
	}
	return false, nil
}
