package executor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/brimblehq/mediastack/internal/core"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 5 * time.Second
)

// RetryPolicy bounds how often a transient failure is retried. The delay is
// constant; there is no jitter.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Classify    Classifier
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Delay: DefaultRetryDelay}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

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

type Retrier struct {
	exec   *Executor
	sleep  Sleeper
	logger zerolog.Logger
}

func NewRetrier(exec *Executor, logger zerolog.Logger) *Retrier {
	return &Retrier{exec: exec, sleep: sleepContext, logger: logger}
}

// WithSleeper swaps the wait function; tests use it to avoid real delays.
func (r *Retrier) WithSleeper(s Sleeper) *Retrier {
	r.sleep = s
	return r
}

// Run executes cmd under policy and returns a tagged error when it does not
// eventually succeed.
func (r *Retrier) Run(ctx context.Context, cmd Command, policy RetryPolicy) (Outcome, error) {
	if cmd.Classify == nil {
		cmd.Classify = policy.Classify
	}
	var last Outcome
	err := r.Do(ctx, cmd.String(), policy, func(ctx context.Context) Outcome {
		last = r.exec.Execute(ctx, cmd)
		return last
	})
	return last, err
}

// Do retries an arbitrary attempt function. A fatal outcome stops at once;
// transient outcomes are retried until policy.MaxAttempts is reached.
func (r *Retrier) Do(ctx context.Context, label string, policy RetryPolicy, attempt func(context.Context) Outcome) error {
	limit := policy.attempts()
	var out Outcome
	for n := 1; n <= limit; n++ {
		out = attempt(ctx)
		switch out.Kind {
		case Success:
			return nil
		case FatalFailure:
			return failure(out, n, false)
		}

		if n == limit {
			break
		}
		r.logger.Warn().
			Str("cmd", label).
			Int("attempt", n).
			Int("max", limit).
			Int("exit", out.ExitCode).
			Dur("delay", policy.Delay).
			Msg("Transient failure, retrying")
		if err := r.sleep(ctx, policy.Delay); err != nil {
			e := failure(out, n, false)
			e.Err = errors.Join(e.Err, err)
			return e
		}
	}
	return failure(out, limit, true)
}

func failure(out Outcome, attempts int, exhausted bool) *core.Error {
	return &core.Error{
		Kind:      core.KindForExit(out.ExitCode, exhausted),
		Command:   out.Command.String(),
		ExitCode:  out.ExitCode,
		Stderr:    out.Stderr,
		Attempts:  attempts,
		Exhausted: exhausted,
		Err:       out.Err,
	}
}
