package transaction

import (
	"context"
	"time"
)

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// Action is a forward or compensating unit of work.
type Action func(ctx context.Context) error

// Step is one named unit of work inside a Transaction.
type Step struct {
	Name       string
	Status     StepStatus
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error

	undone bool
}

func NewStep(name string) *Step {
	return &Step{Name: name, Status: StepPending}
}

func (s *Step) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Undone reports whether a compensating action for the step ran during rollback.
func (s *Step) Undone() bool {
	return s.undone
}
