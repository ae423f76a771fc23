package manager

import (
	"context"
	"errors"
	"path"

	"github.com/brimblehq/mediastack/internal/core"
	"github.com/brimblehq/mediastack/internal/executor"
	"github.com/brimblehq/mediastack/internal/helpers"
	"github.com/brimblehq/mediastack/internal/transaction"
	"github.com/brimblehq/mediastack/internal/types"
)

const (
	StageStopAll        = "stop-services"
	StageRemoveCompose  = "remove-compose"
	StageRemoveAccess   = "remove-tunnel-access"
	StageRemoveUser     = "remove-tunnel-user"
	StageRemoveFirewall = "remove-firewall-rules"
	StagePurge          = "purge-config"

	reasonIncomplete = "uninstall incomplete"
)

type UninstallOptions struct {
	// Purge also removes the service configuration. Media is never removed.
	Purge bool
}

// Uninstall tears the stack down. Every step is attempted even when an
// earlier one failed; the errors are reported together at the end.
func (rc *RunContext) Uninstall(ctx context.Context, opts UninstallOptions) (res *Result, err error) {
	res = &Result{Mode: types.ModeUninstall}
	defer func() { res.Warnings = rc.warnings }()

	if err := rc.requireRoot(ctx); err != nil {
		return res, err
	}
	rc.install = rc.Settings.Install
	prev, found, err := rc.Store.Load(ctx)
	if err != nil {
		rc.warn(err, "Could not read previous run state")
	}
	if found {
		res.PreviousRun = prev.LastRun
		if prev.TunnelUser != "" {
			rc.install.TunnelUser = prev.TunnelUser
		}
		if prev.AllowedCIDR != "" {
			rc.install.AllowedCIDR = prev.AllowedCIDR
		}
	}

	tx := transaction.Begin(helpers.NewTransactionID(rc.Now()), string(types.ModeUninstall), rc.Audit, rc.Logger)
	res.TransactionID = tx.ID
	defer func() {
		res.Steps = tx.Steps
		if report := tx.Close(ctx); report != nil {
			res.Rollback = report
		}
	}()

	stages := []stageDef{
		{StageStopAll, rc.stopStack, true},
		{StageRemoveCompose, rc.removeComposeFiles, true},
		{StageRemoveAccess, func(ctx context.Context, _ *transaction.Undo) error {
			removed, err := rc.removeSSHDBlock(ctx)
			if err == nil && !removed {
				rc.Progress.MarkSkipped("no tunnel block")
			}
			return err
		}, true},
		{StageRemoveUser, func(ctx context.Context, _ *transaction.Undo) error {
			return rc.deleteUser(ctx, rc.install.TunnelUser)
		}, rc.install.TunnelUser != ""},
		{StageRemoveFirewall, rc.removeFirewallRules, rc.install.AllowedCIDR != ""},
		{StagePurge, rc.purgeConfig, opts.Purge},
	}

	var errs []error
	for _, st := range stages {
		if !st.enabled {
			continue
		}
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := rc.Progress.Track(st.name, func() error {
			return core.WithStage(tx.Stage(ctx, st.name, st.run), st.name)
		}); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		report := tx.Rollback(ctx, reasonIncomplete)
		res.Rollback = &report
		rc.notify(ctx, reasonIncomplete, helpers.SummarizeErrors(errs).Error())
		return res, errors.Join(errs...)
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	res.Committed = true

	if err := rc.Store.Clear(ctx); err != nil {
		rc.warn(err, "Could not clear run state")
	}
	rc.notify(ctx, "uninstall committed", tx.ID)
	return res, nil
}

func (rc *RunContext) stopStack(ctx context.Context, _ *transaction.Undo) error {
	ok, err := rc.Host.Exists(ctx, rc.Settings.Paths.ComposeFile)
	if err != nil {
		return err
	}
	if !ok {
		rc.Progress.MarkSkipped("no compose file")
		return nil
	}
	return rc.run(ctx, rc.compose("down", "--remove-orphans").Retry())
}

func (rc *RunContext) removeComposeFiles(ctx context.Context, _ *transaction.Undo) error {
	if err := rc.Host.RemoveFile(ctx, rc.Settings.Paths.ComposeFile); err != nil {
		return err
	}
	if rc.install.MOTDPath != "" {
		return rc.Host.RemoveFile(ctx, rc.install.MOTDPath)
	}
	return nil
}

// removeFirewallRules deletes the rules install adds and leaves ufw enabled.
func (rc *RunContext) removeFirewallRules(ctx context.Context, _ *transaction.Undo) error {
	existing, err := rc.addedRules(ctx)
	if err != nil {
		return err
	}
	removed := 0
	for _, rule := range rc.firewallRules(rc.install.AllowedCIDR) {
		if !existing[ruleString(rule)] {
			continue
		}
		if err := rc.deleteRule(ctx, rule); err != nil {
			return err
		}
		removed++
	}
	if removed == 0 {
		rc.Progress.MarkSkipped("no rules to remove")
	}
	return nil
}

func (rc *RunContext) purgeConfig(ctx context.Context, _ *transaction.Undo) error {
	p := rc.Settings.Paths
	for _, dir := range []string{p.ConfigRoot, path.Dir(p.ComposeFile)} {
		if err := rc.run(ctx, executor.Cmd("rm", "-rf", "--one-file-system", dir)); err != nil {
			return err
		}
	}
	return nil
}
