package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/brimblehq/mediastack/internal/core"
	"github.com/brimblehq/mediastack/internal/manager"
	"github.com/brimblehq/mediastack/internal/transaction"
	"github.com/brimblehq/mediastack/internal/types"
	"github.com/brimblehq/mediastack/internal/ui"
)

// reported marks an error whose details were already printed with the run
// summary, so Execute only has to exit with its code.
type reported struct {
	err error
}

func (r reported) Error() string { return r.err.Error() }
func (r reported) Unwrap() error { return r.err }

func outcome(res *manager.Result, err error) string {
	switch {
	case res.Committed && err == nil:
		return "committed"
	case res.Rollback != nil:
		return "rolled back"
	default:
		return "failed"
	}
}

func stepLines(steps []*transaction.Step) []ui.StepLine {
	lines := make([]ui.StepLine, 0, len(steps))
	for _, st := range steps {
		status := string(st.Status)
		if st.Undone() {
			status += ", undone"
		}
		lines = append(lines, ui.StepLine{Name: st.Name, Status: status, Duration: st.Duration()})
	}
	return lines
}

func serviceLines(defs []types.ServiceDefinition, health []manager.ServiceHealth) []ui.ServiceLine {
	if len(health) == 0 {
		return nil
	}
	byName := make(map[string]manager.ServiceHealth, len(health))
	for _, h := range health {
		byName[h.Name] = h
	}
	lines := make([]ui.ServiceLine, 0, len(defs))
	for _, def := range defs {
		h := byName[def.Name]
		lines = append(lines, ui.ServiceLine{
			Name:    def.Name,
			Port:    def.Port,
			Bind:    string(def.Bind),
			Healthy: h.Healthy,
			State:   h.State,
		})
	}
	return lines
}

// finish prints the run summary and, on failure, what failed and what was
// undone.
func finish(rc *manager.RunContext, res *manager.Result, err error) error {
	if res == nil {
		return err
	}
	writeReport(os.Stdout, rc.Services, res, err)
	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "⚠️  %v\n", w)
	}
	if err == nil {
		return nil
	}
	writeFailure(os.Stderr, res, err)
	return reported{err: err}
}

func writeReport(w io.Writer, defs []types.ServiceDefinition, res *manager.Result, err error) {
	ui.RenderSummary(w, ui.Summary{
		Mode:          string(res.Mode),
		TransactionID: res.TransactionID,
		Outcome:       outcome(res, err),
		Steps:         stepLines(res.Steps),
		Services:      serviceLines(defs, res.Health),
		FreeBytes:     res.FreeBytes,
		PreviousRun:   res.PreviousRun,
		Now:           time.Now(),
	})
}

func writeFailure(w io.Writer, res *manager.Result, err error) {
	if manager.IsInterrupted(err) {
		fmt.Fprintln(w, "\n❌ Interrupted")
	} else {
		fmt.Fprintf(w, "\n❌ %v\n", err)
	}

	var e *core.Error
	if errors.As(err, &e) && e.Command != "" {
		fmt.Fprintf(w, "   command:   %s\n", e.Command)
		fmt.Fprintf(w, "   exit code: %d\n", e.ExitCode)
		if e.Stderr != "" {
			fmt.Fprintf(w, "   stderr:    %s\n", e.Stderr)
		}
	}
	if r := res.Rollback; r != nil {
		fmt.Fprintf(w, "   rollback:  %d compensating action(s) run, %d failed\n", r.Attempted, r.Failed)
		for _, uerr := range r.Errors {
			fmt.Fprintf(w, "              %v\n", uerr)
		}
	}
	fmt.Fprintf(w, "   errors:    %d\n", res.ErrorCount(err))
}
