// Package transaction groups the steps of one run and keeps the stack of
// compensating actions that undo them. It is a best-effort undo log: a
// failed compensating action is reported and the unwind carries on.
package transaction

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/brimblehq/mediastack/internal/audit"
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusCommitted  Status = "committed"
	StatusRolledBack Status = "rolled-back"
)

const ReasonInterrupted = "interrupted"

type undoEntry struct {
	step   *Step
	label  string
	action Action
}

// RollbackReport counts what an unwind attempted.
type RollbackReport struct {
	Reason    string
	Attempted int
	Failed    int
	Errors    []error
}

type Transaction struct {
	ID        string
	Mode      string
	Status    Status
	Steps     []*Step
	StartedAt time.Time

	stack  []undoEntry
	audit  audit.Recorder
	logger zerolog.Logger
	now    func() time.Time
}

// Begin opens a transaction and writes its BEGIN record.
func Begin(id, mode string, rec audit.Recorder, logger zerolog.Logger) *Transaction {
	if rec == nil {
		rec = audit.Discard
	}
	t := &Transaction{
		ID:     id,
		Mode:   mode,
		Status: StatusOpen,
		audit:  rec,
		logger: logger.With().Str("tx", id).Logger(),
		now:    time.Now,
	}
	t.StartedAt = t.now()
	t.audit.Record(audit.EventBegin, audit.F("tx", id), audit.F("mode", mode))
	return t
}

// Record appends step and pushes compensate onto the rollback stack when it
// is non-nil.
func (t *Transaction) Record(step *Step, compensate Action) {
	t.Steps = append(t.Steps, step)
	if compensate != nil {
		t.push(step, step.Name, compensate)
	}
}

func (t *Transaction) push(step *Step, label string, action Action) {
	t.stack = append(t.stack, undoEntry{step: step, label: label, action: action})
}

// Undo lets a running step register compensating actions for the resources
// it creates, one at a time, right before creating them.
type Undo struct {
	tx   *Transaction
	step *Step
}

func (u *Undo) Push(label string, action Action) {
	u.tx.push(u.step, label, action)
}

// Len is the number of compensating actions currently on the stack.
func (u *Undo) Len() int {
	return len(u.tx.stack)
}

// Run records a step whose single compensating action is known up front. The
// action is registered before forward runs so a partial forward is undone too.
func (t *Transaction) Run(ctx context.Context, name string, forward, compensate Action) error {
	return t.Stage(ctx, name, func(ctx context.Context, undo *Undo) error {
		if compensate != nil {
			undo.Push(name, compensate)
		}
		return forward(ctx)
	})
}

// Stage records a step and runs fn with an Undo handle for incremental
// compensation. The step ends succeeded or failed and a STEP record is written.
func (t *Transaction) Stage(ctx context.Context, name string, fn func(ctx context.Context, undo *Undo) error) error {
	if t.Status != StatusOpen {
		return fmt.Errorf("transaction %s is %s", t.ID, t.Status)
	}
	step := NewStep(name)
	t.Record(step, nil)

	step.Status = StepRunning
	step.StartedAt = t.now()
	err := fn(ctx, &Undo{tx: t, step: step})
	step.FinishedAt = t.now()

	if err != nil {
		step.Status = StepFailed
		step.Err = err
	} else {
		step.Status = StepSucceeded
	}
	t.audit.Record(audit.EventStep,
		audit.F("tx", t.ID),
		audit.F("name", name),
		audit.F("status", step.Status),
		audit.F("duration", step.Duration().Round(time.Millisecond)),
	)
	return err
}

// Commit makes every recorded step permanent. It refuses when any step did
// not succeed.
func (t *Transaction) Commit() error {
	if t.Status != StatusOpen {
		return fmt.Errorf("transaction %s is %s", t.ID, t.Status)
	}
	for _, s := range t.Steps {
		if s.Status != StepSucceeded {
			return fmt.Errorf("transaction %s cannot commit: step %s is %s", t.ID, s.Name, s.Status)
		}
	}
	t.Status = StatusCommitted
	t.stack = nil
	t.audit.Record(audit.EventCommit, audit.F("tx", t.ID), audit.F("steps", len(t.Steps)))
	t.logger.Info().Int("steps", len(t.Steps)).Msg("Transaction committed")
	return nil
}

// Rollback pops and runs every compensating action in reverse order of
// registration. It runs on a context detached from ctx's cancellation so an
// interrupted run still gets cleaned up.
func (t *Transaction) Rollback(ctx context.Context, reason string) RollbackReport {
	report := RollbackReport{Reason: reason}
	if t.Status != StatusOpen {
		return report
	}
	t.audit.Record(audit.EventRollback, audit.F("tx", t.ID), audit.F("reason", reason))
	t.logger.Warn().Str("reason", reason).Int("actions", len(t.stack)).Msg("Rolling back transaction")

	for _, s := range t.Steps {
		if s.Status == StepRunning || s.Status == StepPending {
			s.Status = StepFailed
		}
	}

	undoCtx := context.WithoutCancel(ctx)
	for len(t.stack) > 0 {
		entry := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]

		report.Attempted++
		err := entry.action(undoCtx)
		entry.step.undone = true

		status := "ok"
		if err != nil {
			status = "failed"
			report.Failed++
			report.Errors = append(report.Errors, fmt.Errorf("undo %s: %w", entry.label, err))
			t.logger.Warn().Err(err).Str("step", entry.step.Name).Str("action", entry.label).Msg("Compensating action failed")
		}
		t.audit.Record(audit.EventUndo,
			audit.F("tx", t.ID),
			audit.F("step", entry.step.Name),
			audit.F("action", entry.label),
			audit.F("status", status),
		)
	}

	t.Status = StatusRolledBack
	return report
}

// Close rolls back a transaction that was neither committed nor rolled back,
// which happens when the run returns early or is interrupted. Deferred right
// after Begin.
func (t *Transaction) Close(ctx context.Context) *RollbackReport {
	if t.Status != StatusOpen {
		return nil
	}
	report := t.Rollback(ctx, ReasonInterrupted)
	return &report
}

// Failed returns the steps that ended in failure.
func (t *Transaction) Failed() []*Step {
	var failed []*Step
	for _, s := range t.Steps {
		if s.Status == StepFailed {
			failed = append(failed, s)
		}
	}
	return failed
}

// Pending reports how many compensating actions are waiting on the stack.
func (t *Transaction) Pending() int {
	return len(t.stack)
}
