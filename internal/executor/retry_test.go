package executor

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brimblehq/mediastack/internal/core"
)

type recordedSleeps struct {
	delays []time.Duration
}

func (s *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newTestRetrier(r Runner) (*Retrier, *recordedSleeps) {
	exec, _ := newTestExecutor(r)
	sleeps := &recordedSleeps{}
	return NewRetrier(exec, zerolog.Nop()).WithSleeper(sleeps.sleep), sleeps
}

func TestRetryStopsAtMaxAttempts(t *testing.T) {
	for _, limit := range []int{1, 3, 5} {
		runner := &scriptedRunner{results: []Result{{ExitCode: 28}}}
		retrier, sleeps := newTestRetrier(runner)

		_, err := retrier.Run(context.Background(), Cmd("docker", "compose", "pull"),
			RetryPolicy{MaxAttempts: limit, Delay: 5 * time.Second})

		require.Error(t, err)
		assert.Len(t, runner.calls, limit)
		assert.Len(t, sleeps.delays, limit-1)
		for _, d := range sleeps.delays {
			assert.Equal(t, 5*time.Second, d, "delay must stay constant")
		}

		var e *core.Error
		require.ErrorAs(t, err, &e)
		assert.True(t, e.Exhausted)
		assert.Equal(t, limit, e.Attempts)
		assert.Equal(t, core.KindNetwork, e.Kind)
	}
}

func TestRetryFatalShortCircuits(t *testing.T) {
	runner := &scriptedRunner{results: []Result{{ExitCode: 127}}}
	retrier, sleeps := newTestRetrier(runner)

	_, err := retrier.Run(context.Background(), Cmd("docker", "compose", "pull").Retry(), DefaultRetryPolicy())

	require.Error(t, err)
	assert.Len(t, runner.calls, 1)
	assert.Empty(t, sleeps.delays)
	assert.True(t, core.IsKind(err, core.KindDependency))
}

func TestRetryRecoversAfterTransient(t *testing.T) {
	runner := &scriptedRunner{results: []Result{{ExitCode: 28}, {ExitCode: 0}}}
	retrier, _ := newTestRetrier(runner)

	out, err := retrier.Run(context.Background(), Cmd("curl", "-fsSL", "https://get.docker.com"), DefaultRetryPolicy())

	require.NoError(t, err)
	assert.True(t, out.OK())
	assert.Len(t, runner.calls, 2)
}

func TestRetryPolicyClassifier(t *testing.T) {
	runner := &scriptedRunner{results: []Result{{ExitCode: 100}}}
	retrier, _ := newTestRetrier(runner)

	policy := RetryPolicy{MaxAttempts: 2, Classify: func(int) core.Class { return core.ClassTransient }}
	_, err := retrier.Run(context.Background(), Cmd("apt-get", "update"), policy)

	require.Error(t, err)
	assert.Len(t, runner.calls, 2)
}

func TestRetryHonoursCancellation(t *testing.T) {
	runner := &scriptedRunner{results: []Result{{ExitCode: 28}}}
	exec, _ := newTestExecutor(runner)
	retrier := NewRetrier(exec, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := retrier.Run(ctx, Cmd("curl", "x"), RetryPolicy{MaxAttempts: 3, Delay: time.Hour})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, runner.calls, 1)
}

func TestRetryZeroAttemptsRunsOnce(t *testing.T) {
	runner := &scriptedRunner{results: []Result{{ExitCode: 0}}}
	retrier, _ := newTestRetrier(runner)

	_, err := retrier.Run(context.Background(), Cmd("true"), RetryPolicy{})
	require.NoError(t, err)
	assert.Len(t, runner.calls, 1)
}
