package notification

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brimblehq/mediastack/internal/executor"
)

type captureRunner struct {
	calls []executor.Command
	exit  int
}

func (r *captureRunner) Run(_ context.Context, cmd executor.Command) executor.Result {
	r.calls = append(r.calls, cmd)
	return executor.Result{ExitCode: r.exit}
}

func TestWallSendsMessageOnStdin(t *testing.T) {
	runner := &captureRunner{}
	n := New(executor.New(runner, nil, zerolog.Nop()), true)

	require.NoError(t, n.Send(context.Background(), "install committed", "7 services running"))
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "wall", runner.calls[0].Name)
	assert.Equal(t, "mediastack: install committed\n7 services running\n", runner.calls[0].Stdin)
}

func TestWallFailure(t *testing.T) {
	n := New(executor.New(&captureRunner{exit: 1}, nil, zerolog.Nop()), true)
	assert.Error(t, n.Send(context.Background(), "t", "m"))
}

func TestDisabledNotifierDoesNothing(t *testing.T) {
	runner := &captureRunner{}
	n := New(executor.New(runner, nil, zerolog.Nop()), false)
	require.NoError(t, n.Send(context.Background(), "t", "m"))
	assert.Empty(t, runner.calls)
}
