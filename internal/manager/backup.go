package manager

import (
	"context"
	"fmt"
	"path"

	"github.com/brimblehq/mediastack/internal/audit"
	"github.com/brimblehq/mediastack/internal/compose"
	"github.com/brimblehq/mediastack/internal/executor"
	"github.com/brimblehq/mediastack/internal/ui"
)

// backup archives the media server configuration before a mutating run. A
// failed backup is reported and the run carries on.
func (rc *RunContext) backup(ctx context.Context) string {
	var archive string
	err := rc.track(ctx, StageBackup, func(ctx context.Context) error {
		p := rc.Settings.Paths
		ok, err := rc.Host.Exists(ctx, path.Join(p.ConfigRoot, compose.PrimaryService))
		if err != nil {
			return err
		}
		if !ok {
			rc.Progress.MarkSkipped("nothing to back up yet")
			return nil
		}

		archive = path.Join(p.BackupDir, fmt.Sprintf("%s-config-%s.tar.gz", compose.PrimaryService, rc.Now().UTC().Format("20060102T150405Z")))
		if err := rc.run(ctx, executor.Cmd("install", "-d", "-m", "0700", p.BackupDir)); err != nil {
			return err
		}
		return rc.run(ctx, executor.Cmd("tar", "-czf", archive, "-C", p.ConfigRoot, compose.PrimaryService))
	})

	status := "ok"
	if err != nil {
		status = "failed"
		rc.warn(err, "Backup failed")
		rc.Progress.Note(ui.StatusWarning, "backup failed, continuing without one")
		archive = ""
	}
	if archive != "" || err != nil {
		rc.Audit.Record(audit.EventBackup, audit.F("path", archive), audit.F("status", status))
	}
	return archive
}
