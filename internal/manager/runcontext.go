package manager

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/brimblehq/mediastack/internal/audit"
	"github.com/brimblehq/mediastack/internal/compose"
	"github.com/brimblehq/mediastack/internal/config"
	"github.com/brimblehq/mediastack/internal/executor"
	"github.com/brimblehq/mediastack/internal/host"
	"github.com/brimblehq/mediastack/internal/notification"
	"github.com/brimblehq/mediastack/internal/state"
	"github.com/brimblehq/mediastack/internal/transaction"
	"github.com/brimblehq/mediastack/internal/types"
	"github.com/brimblehq/mediastack/internal/ui"
)

// RunContext owns everything one run needs: the executor and retry defaults,
// the progress indicator, the host view and the audit log. It is built once
// per invocation and never shared between runs.
type RunContext struct {
	Exec     *executor.Executor
	Retrier  *executor.Retrier
	Policy   executor.RetryPolicy
	Progress *ui.StepSpinner
	Settings *config.Settings
	Host     host.Host
	Store    *state.Store
	Notifier notification.Notifier
	Audit    audit.Recorder
	Logger   zerolog.Logger
	Out      io.Writer
	Services []types.ServiceDefinition

	// Sleep paces health polling.
	Sleep executor.Sleeper
	Now   func() time.Time
	// Getenv reads FORCE_UPDATE.
	Getenv func(string) string

	install  types.InstallationConfig
	owner    types.Owner
	warnings []error
	free     uint64
}

// Deps are the collaborators the CLI wires together.
type Deps struct {
	Runner   executor.Runner
	Host     host.Host
	Settings *config.Settings
	Audit    audit.Recorder
	Logger   zerolog.Logger
	Out      io.Writer
	Label    string
	// Echo mirrors command output to Out, for --debug.
	Echo bool
}

func NewRunContext(d Deps) *RunContext {
	if d.Audit == nil {
		d.Audit = audit.Discard
	}
	progress := ui.NewStepSpinner(d.Out, d.Label)
	exec := executor.New(d.Runner, d.Audit, d.Logger.With().Str("component", "executor").Logger())
	if d.Echo {
		pane := ui.NewTerminalOutput(d.Out, d.Label, progress)
		progress.Attach(pane)
		exec.WithEcho(pane)
	}
	return &RunContext{
		Exec:     exec,
		Retrier:  executor.NewRetrier(exec, d.Logger.With().Str("component", "retry").Logger()),
		Policy:   policyFrom(d.Settings),
		Progress: progress,
		Settings: d.Settings,
		Host:     d.Host,
		Store:    state.NewStore(d.Host, d.Settings.Paths.StateDir),
		Notifier: notification.New(exec, d.Settings.Notify.Wall),
		Audit:    d.Audit,
		Logger:   d.Logger.With().Str("component", "sequencer").Logger(),
		Out:      d.Out,
		Services: compose.Catalog(),
		Sleep:    sleepContext,
		Now:      time.Now,
		Getenv:   os.Getenv,
	}
}

func policyFrom(s *config.Settings) executor.RetryPolicy {
	p := executor.DefaultRetryPolicy()
	if s.Retry.MaxAttempts > 0 {
		p.MaxAttempts = s.Retry.MaxAttempts
	}
	if s.Retry.Delay > 0 {
		p.Delay = s.Retry.Delay
	}
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Result describes how a run ended. It is returned alongside the error so
// the CLI can report rollback counts on failure.
type Result struct {
	Mode          types.Mode
	TransactionID string
	Committed     bool
	Steps         []*transaction.Step
	Rollback      *transaction.RollbackReport
	Health        []ServiceHealth
	Warnings      []error
	FreeBytes     uint64
	PreviousRun   time.Time
	TunnelCommand string
}

// ErrorCount is the number of errors recorded during the run, the fatal one
// included.
func (r *Result) ErrorCount(fatal error) int {
	n := len(r.Warnings)
	if r.Rollback != nil {
		n += r.Rollback.Failed
	}
	if fatal != nil {
		n++
	}
	return n
}

func (rc *RunContext) warn(err error, msg string) {
	rc.warnings = append(rc.warnings, err)
	rc.Logger.Warn().Err(err).Msg(msg)
}

// run executes cmd under the run's retry policy.
func (rc *RunContext) run(ctx context.Context, cmd executor.Command) error {
	_, err := rc.Retrier.Run(ctx, cmd, rc.Policy)
	return err
}

func (rc *RunContext) output(ctx context.Context, cmd executor.Command) (string, error) {
	out, err := rc.Retrier.Run(ctx, cmd, rc.Policy)
	if err != nil {
		return "", err
	}
	return out.Stdout, nil
}
