package cli

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brimblehq/mediastack/internal/compose"
	"github.com/brimblehq/mediastack/internal/core"
	"github.com/brimblehq/mediastack/internal/manager"
	"github.com/brimblehq/mediastack/internal/transaction"
	"github.com/brimblehq/mediastack/internal/types"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, "committed", outcome(&manager.Result{Committed: true}, nil))
	assert.Equal(t, "rolled back", outcome(&manager.Result{Rollback: &transaction.RollbackReport{}}, assert.AnError))
	assert.Equal(t, "failed", outcome(&manager.Result{}, assert.AnError))
}

func TestServiceLinesFollowCatalogOrder(t *testing.T) {
	defs := compose.Catalog()
	lines := serviceLines(defs, []manager.ServiceHealth{
		{Name: "sonarr", State: "running", Healthy: true},
		{Name: "jellyfin", State: "exited"},
	})

	require.Len(t, lines, len(defs))
	assert.Equal(t, "jellyfin", lines[0].Name)
	assert.Equal(t, string(types.BindAll), lines[0].Bind)
	assert.False(t, lines[0].Healthy)
	assert.Equal(t, "exited", lines[0].State)

	assert.Nil(t, serviceLines(defs, nil))
}

func TestWriteFailure(t *testing.T) {
	err := core.WithStage(&core.Error{
		Kind:      core.KindNetwork,
		Command:   "curl -fsSL https://get.docker.com",
		ExitCode:  28,
		Stderr:    "Operation timed out",
		Attempts:  3,
		Exhausted: true,
	}, "install-docker")
	res := &manager.Result{
		Mode:     types.ModeInstall,
		Rollback: &transaction.RollbackReport{Reason: "install-docker", Attempted: 5, Failed: 1, Errors: []error{fmt.Errorf("undo ufw: exit 1")}},
	}

	var buf bytes.Buffer
	writeFailure(&buf, res, err)
	out := buf.String()

	assert.Contains(t, out, "command:   curl -fsSL https://get.docker.com")
	assert.Contains(t, out, "exit code: 28")
	assert.Contains(t, out, "Operation timed out")
	assert.Contains(t, out, "5 compensating action(s) run, 1 failed")
	assert.Contains(t, out, "errors:    2")
	assert.Equal(t, 5, core.ExitCode(reported{err: err}))
}

func TestWriteFailureInterrupted(t *testing.T) {
	var buf bytes.Buffer
	writeFailure(&buf, &manager.Result{}, fmt.Errorf("stage: %w", context.Canceled))
	assert.Contains(t, buf.String(), "Interrupted")
}

func TestWriteReport(t *testing.T) {
	tx := transaction.Begin("20240301T120000Z-abcd1234", "install", nil, zerolog.Nop())
	require.NoError(t, tx.Stage(context.Background(), "update-packages", func(context.Context, *transaction.Undo) error { return nil }))
	require.NoError(t, tx.Commit())

	res := &manager.Result{
		Mode:          types.ModeInstall,
		TransactionID: tx.ID,
		Committed:     true,
		Steps:         tx.Steps,
		FreeBytes:     50 << 30,
		PreviousRun:   time.Now().Add(-2 * time.Hour),
	}
	var buf bytes.Buffer
	writeReport(&buf, compose.Catalog(), res, nil)
	out := buf.String()

	assert.Contains(t, out, "Install committed (20240301T120000Z-abcd1234)")
	assert.Contains(t, out, "update-packages")
	assert.Contains(t, out, "50 GiB")
	assert.Contains(t, out, "2 hours ago")
}
