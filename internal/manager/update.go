package manager

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/brimblehq/mediastack/internal/core"
	"github.com/brimblehq/mediastack/internal/executor"
	"github.com/brimblehq/mediastack/internal/helpers"
	"github.com/brimblehq/mediastack/internal/transaction"
	"github.com/brimblehq/mediastack/internal/types"
	"github.com/brimblehq/mediastack/internal/ui"
)

const (
	StageGate   = "update-gate"
	StagePull   = "pull-images"
	StageStop   = "stop-services"
	StageStart  = "start-services"
	StagePrune  = "prune-images"
	stopTimeout = "30"

	// ForceUpdateEnv bypasses the disk space and daemon checks of an update.
	ForceUpdateEnv = "FORCE_UPDATE"
)

type UpdateOptions struct {
	Backup bool
}

// updateGate refuses to touch containers when the host cannot hold new
// images or the daemon is down.
func (rc *RunContext) updateGate(ctx context.Context) error {
	minimum := uint64(rc.Settings.Preflight.MinFreeGiB) << 30
	free, err := rc.Host.FreeSpace(ctx, rc.Settings.Paths.MediaRoot)
	if err != nil {
		return err
	}
	rc.free = free
	if free < minimum {
		return core.New(core.KindFilesystem, "only %s free on %s, need %s (set %s=1 to override)",
			humanize.IBytes(free), rc.Settings.Paths.MediaRoot, humanize.IBytes(minimum), ForceUpdateEnv)
	}
	ok, err := rc.Exec.Probe(ctx, executor.Cmd("docker", "info"))
	if err != nil {
		return err
	}
	if !ok {
		return core.New(core.KindDependency, "docker daemon is not responding (set %s=1 to override)", ForceUpdateEnv)
	}
	return nil
}

// Update refreshes the images of an installed stack: pull, stop, start and
// prune inside one transaction.
func (rc *RunContext) Update(ctx context.Context, opts UpdateOptions) (res *Result, err error) {
	res = &Result{Mode: types.ModeUpdate}
	defer func() { res.Warnings, res.FreeBytes = rc.warnings, rc.free }()

	if err := rc.requireRoot(ctx); err != nil {
		return res, err
	}
	composeFile := rc.Settings.Paths.ComposeFile
	ok, err := rc.Host.Exists(ctx, composeFile)
	if err != nil {
		return res, err
	}
	if !ok {
		return res, core.New(core.KindConfiguration, "%s not found, run install first", composeFile)
	}

	if rc.Getenv(ForceUpdateEnv) == "1" {
		rc.Progress.Note(ui.StatusWarning, "%s=1, skipping the disk space and daemon checks", ForceUpdateEnv)
	} else if err := rc.track(ctx, StageGate, rc.updateGate); err != nil {
		return res, err
	}

	prev, found, err := rc.Store.Load(ctx)
	if err != nil {
		rc.warn(err, "Could not read previous run state")
	}
	if found {
		res.PreviousRun = prev.LastRun
		rc.install.TunnelUser = prev.TunnelUser
	}

	if opts.Backup {
		rc.backup(ctx)
	}

	tx := transaction.Begin(helpers.NewTransactionID(rc.Now()), string(types.ModeUpdate), rc.Audit, rc.Logger)
	res.TransactionID = tx.ID
	defer func() {
		res.Steps = tx.Steps
		if report := tx.Close(ctx); report != nil {
			res.Rollback = report
		}
	}()

	stages := []stageDef{
		{StagePull, func(ctx context.Context, _ *transaction.Undo) error {
			return rc.run(ctx, rc.compose("pull").Retry())
		}, true},
		{StageStop, func(ctx context.Context, undo *transaction.Undo) error {
			undo.Push("docker compose up -d", func(ctx context.Context) error {
				return rc.run(ctx, rc.compose("up", "-d").Retry())
			})
			return rc.run(ctx, rc.compose("stop", "--timeout", stopTimeout))
		}, true},
		{StageStart, func(ctx context.Context, _ *transaction.Undo) error {
			return rc.run(ctx, rc.compose("up", "-d", "--remove-orphans").Retry())
		}, true},
		{StagePrune, func(ctx context.Context, _ *transaction.Undo) error {
			return rc.run(ctx, executor.Cmd("docker", "image", "prune", "-f"))
		}, true},
	}
	if err := rc.runStages(ctx, tx, stages, res); err != nil {
		rc.notify(ctx, "update rolled back", err.Error())
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	res.Committed = true

	_ = rc.track(ctx, StageHealth, func(ctx context.Context) error {
		res.Health = rc.verifyHealth(ctx)
		return nil
	})
	rc.saveState(ctx, types.ModeUpdate, tx.ID)

	if !res.PreviousRun.IsZero() {
		rc.Logger.Info().Str("since", humanize.RelTime(res.PreviousRun, rc.Now(), "ago", "from now")).Msg("Previous run")
	}
	rc.notify(ctx, "update committed", fmt.Sprintf("transaction %s", tx.ID))
	return res, nil
}
