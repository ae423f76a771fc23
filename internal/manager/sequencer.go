package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/brimblehq/mediastack/internal/core"
	"github.com/brimblehq/mediastack/internal/helpers"
	"github.com/brimblehq/mediastack/internal/transaction"
	"github.com/brimblehq/mediastack/internal/types"
	"github.com/brimblehq/mediastack/internal/ui"
)

const (
	StagePreflight      = "preflight"
	StageConfigure      = "configure"
	StageUpdatePackages = "update-packages"
	StageFirewall       = "configure-firewall"
	StageTunnelUser     = "provision-tunnel-user"
	StageDocker         = "install-docker"
	StageLayout         = "create-layout"
	StageRestore        = "restore-config"
	StageCompose        = "write-compose"
	StageMOTD           = "write-motd"
	StageLaunch         = "launch-services"
	StageHealth         = "verify-health"
	StageBackup         = "backup-config"
)

type InstallOptions struct {
	Source     Source
	Backup     bool
	Restore    string
	SkipDocker bool
}

type stageFunc func(ctx context.Context, undo *transaction.Undo) error

type stageDef struct {
	name    string
	run     stageFunc
	enabled bool
}

// track runs a stage outside any transaction behind the progress indicator.
func (rc *RunContext) track(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return rc.Progress.Track(name, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return core.WithStage(fn(ctx), name)
	})
}

// runStages executes stages as steps of tx and rolls back on the first
// failure. The rollback reason is the stage name, or "interrupted" when the
// run context was cancelled.
func (rc *RunContext) runStages(ctx context.Context, tx *transaction.Transaction, stages []stageDef, res *Result) error {
	for _, st := range stages {
		if !st.enabled {
			continue
		}
		err := rc.Progress.Track(st.name, func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return core.WithStage(tx.Stage(ctx, st.name, st.run), st.name)
		})
		if err == nil {
			continue
		}

		reason := st.name
		if ctx.Err() != nil {
			reason = transaction.ReasonInterrupted
		}
		report := tx.Rollback(ctx, reason)
		res.Rollback = &report
		for _, uerr := range report.Errors {
			rc.warn(uerr, "Compensating action failed")
		}
		rc.Progress.Note(ui.StatusWarning, "rolled back %d action(s), %d failed", report.Attempted, report.Failed)
		return err
	}
	return nil
}

// Install drives the fixed install sequence. Preflight and configuration
// fail without rollback; everything that mutates the host runs inside one
// transaction that commits after the services are launched.
func (rc *RunContext) Install(ctx context.Context, opts InstallOptions) (res *Result, err error) {
	res = &Result{Mode: types.ModeInstall}
	defer func() { res.Warnings, res.FreeBytes = rc.warnings, rc.free }()

	if err := rc.track(ctx, StagePreflight, func(ctx context.Context) error {
		return rc.preflight(ctx, opts.SkipDocker)
	}); err != nil {
		return res, err
	}
	if err := rc.track(ctx, StageConfigure, func(ctx context.Context) error {
		return rc.configure(ctx, opts.Source)
	}); err != nil {
		return res, err
	}

	if opts.Backup {
		rc.backup(ctx)
	}

	prev, _, err := rc.Store.Load(ctx)
	if err != nil {
		rc.warn(err, "Could not read previous run state")
	}
	res.PreviousRun = prev.LastRun

	tx := transaction.Begin(helpers.NewTransactionID(rc.Now()), string(types.ModeInstall), rc.Audit, rc.Logger)
	res.TransactionID = tx.ID
	defer func() {
		res.Steps = tx.Steps
		if report := tx.Close(ctx); report != nil {
			res.Rollback = report
		}
	}()

	stages := []stageDef{
		{StageUpdatePackages, rc.updatePackages, true},
		{StageFirewall, rc.configureFirewall, true},
		{StageTunnelUser, rc.provisionTunnelUser, true},
		{StageDocker, func(ctx context.Context, undo *transaction.Undo) error {
			return rc.installDocker(ctx, undo, opts.SkipDocker)
		}, true},
		{StageLayout, rc.createLayout, true},
		{StageRestore, func(ctx context.Context, undo *transaction.Undo) error {
			return rc.restoreConfig(ctx, opts.Restore)
		}, opts.Restore != ""},
		{StageCompose, rc.writeCompose, true},
		{StageMOTD, rc.writeMOTD, rc.install.MOTDPath != ""},
		{StageLaunch, rc.launchServices, true},
	}
	if err := rc.runStages(ctx, tx, stages, res); err != nil {
		rc.notify(ctx, "install rolled back", err.Error())
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

	rc.saveState(ctx, types.ModeInstall, tx.ID)

	addr, err := rc.advertiseHost(ctx)
	if err != nil {
		rc.warn(err, "Could not determine the host address")
		addr = "<host>"
	}
	res.TunnelCommand = ui.TunnelCommand(rc.install.TunnelUser, addr, rc.loopbackPorts())
	ui.RenderTunnelInstructions(rc.Out, rc.install.TunnelUser, addr, rc.loopbackPorts())

	rc.notify(ctx, "install committed", fmt.Sprintf("transaction %s, %d services", tx.ID, len(rc.Services)))
	return res, nil
}

func (rc *RunContext) advertiseHost(ctx context.Context) (string, error) {
	if rc.install.AdvertiseHost != "" {
		return rc.install.AdvertiseHost, nil
	}
	return rc.Host.PrimaryAddress(ctx)
}

func (rc *RunContext) saveState(ctx context.Context, mode types.Mode, txID string) {
	st := types.RunState{
		LastRun:       rc.Now().UTC(),
		Mode:          mode,
		TransactionID: txID,
		TunnelUser:    rc.install.TunnelUser,
		AllowedCIDR:   rc.install.AllowedCIDR,
		ComposeFile:   rc.Settings.Paths.ComposeFile,
		Owner:         rc.install.Owner,
	}
	if mode == types.ModeUpdate {
		if prev, ok, err := rc.Store.Load(ctx); err == nil && ok {
			st.TunnelUser, st.AllowedCIDR, st.Owner = prev.TunnelUser, prev.AllowedCIDR, prev.Owner
		}
	}
	if err := rc.Store.Save(ctx, st); err != nil {
		rc.warn(err, "Could not save run state")
	}
}

func (rc *RunContext) notify(ctx context.Context, title, message string) {
	if err := rc.Notifier.Send(ctx, title, message); err != nil {
		rc.Logger.Debug().Err(err).Msg("Notification failed")
	}
}

// IsInterrupted reports whether err comes from a cancelled run.
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled)
}
